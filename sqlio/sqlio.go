package sqlio

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tpcopeland/tvkit/timeline"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a SQLite database holding the input tables and any written
// result tables. SQLite allows one writer at a time, so the pool is
// capped at a single connection.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path, applies the standard
// pragmas (WAL, NORMAL synchronous, 5s busy timeout, foreign keys), and
// ensures the input schema exists. Idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// ReadCohort returns every subject ordered by id. Cohort-level validation
// (duplicate ids, entry/exit inversion) is the core's job, not the
// adapter's.
func (s *Store) ReadCohort(ctx context.Context) ([]timeline.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry, exit
		FROM subjects
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []timeline.Subject
	for rows.Next() {
		var sub timeline.Subject
		if err := rows.Scan(&sub.ID, &sub.Entry, &sub.Exit); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	if subjects == nil {
		subjects = []timeline.Subject{}
	}
	return subjects, nil
}

// ReadExposures returns every exposure row ordered by (subject, start).
// A NULL stop becomes a nil Stop (point record); the value is Code or
// Level depending on which column is set.
func (s *Store) ReadExposures(ctx context.Context) ([]timeline.ExposureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, start, stop, code, level
		FROM exposures
		ORDER BY subject COLLATE BINARY ASC, start ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query exposures: %w", err)
	}
	defer rows.Close()

	var records []timeline.ExposureRecord
	for rows.Next() {
		var (
			rec   timeline.ExposureRecord
			start int64
			stop  sql.NullInt64
			code  sql.NullInt64
			level sql.NullFloat64
		)
		if err := rows.Scan(&rec.Subject, &start, &stop, &code, &level); err != nil {
			return nil, fmt.Errorf("scan exposure: %w", err)
		}
		rec.Start = timeline.Day(start)
		if stop.Valid {
			rec.Stop = timeline.DayPtr(timeline.Day(stop.Int64))
		}
		switch {
		case code.Valid:
			rec.Value = timeline.Code(code.Int64)
		case level.Valid:
			rec.Value = timeline.Level(level.Float64)
		default:
			return nil, fmt.Errorf("exposure for subject %q: both code and level are NULL", rec.Subject)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exposures: %w", err)
	}
	if records == nil {
		records = []timeline.ExposureRecord{}
	}
	return records, nil
}

// ReadEvents returns every event record ordered by subject. The competing
// JSON array maps to Competing in declaration order (null entries stay
// nil); the attrs JSON object maps to Attrs.
func (s *Store) ReadEvents(ctx context.Context) ([]timeline.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, primary_date, competing, attrs
		FROM events
		ORDER BY subject COLLATE BINARY ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var records []timeline.EventRecord
	for rows.Next() {
		var (
			rec       timeline.EventRecord
			primary   sql.NullInt64
			competing sql.NullString
			attrs     sql.NullString
		)
		if err := rows.Scan(&rec.Subject, &primary, &competing, &attrs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if primary.Valid {
			rec.Primary = timeline.DayPtr(timeline.Day(primary.Int64))
		}
		if competing.Valid && competing.String != "" {
			var days []*int64
			if err := json.Unmarshal([]byte(competing.String), &days); err != nil {
				return nil, fmt.Errorf("event for subject %q: decode competing: %w", rec.Subject, err)
			}
			rec.Competing = make([]*timeline.Day, len(days))
			for i, d := range days {
				if d != nil {
					rec.Competing[i] = timeline.DayPtr(timeline.Day(*d))
				}
			}
		}
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &rec.Attrs); err != nil {
				return nil, fmt.Errorf("event for subject %q: decode attrs: %w", rec.Subject, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	if records == nil {
		records = []timeline.EventRecord{}
	}
	return records, nil
}

// WriteDataset persists a dataset to the named table, replacing any prior
// contents, in one transaction. Layout: subject, start, stop, one column
// per dataset column (Code as INTEGER, Level as REAL, Pair as TEXT), and
// attrs as a JSON object when a row carries attributes.
func (s *Store) WriteDataset(ctx context.Context, table string, ds *timeline.Dataset) error {
	if ds == nil {
		return fmt.Errorf("write dataset: dataset is nil")
	}
	if !validIdent(table) {
		return fmt.Errorf("write dataset: invalid table name %q", table)
	}
	for _, c := range ds.Columns {
		if !validIdent(c.Name) {
			return fmt.Errorf("write dataset: invalid column name %q", c.Name)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write dataset: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("write dataset: drop table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(table, ds.Columns)); err != nil {
		return fmt.Errorf("write dataset: create table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(table, ds.Columns))
	if err != nil {
		return fmt.Errorf("write dataset: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range ds.Rows {
		args := make([]any, 0, len(ds.Columns)+4)
		args = append(args, r.Subject, int64(r.Start), int64(r.Stop))
		if len(r.Values) != len(ds.Columns) {
			return fmt.Errorf("write dataset: row %d has %d values for %d columns", i, len(r.Values), len(ds.Columns))
		}
		for _, v := range r.Values {
			args = append(args, driverValue(v))
		}
		attrs, err := attrsJSON(r.Attrs)
		if err != nil {
			return fmt.Errorf("write dataset: row %d: %w", i, err)
		}
		args = append(args, attrs)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("write dataset: insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write dataset: commit: %w", err)
	}
	return nil
}

// createTableSQL declares continuous columns REAL. Coded columns stay
// undeclared: they hold INTEGER codes or TEXT composite pairs, and an
// affinity would coerce one of the two.
func createTableSQL(table string, cols []timeline.Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (subject TEXT NOT NULL, start INTEGER NOT NULL, stop INTEGER NOT NULL", table)
	for _, c := range cols {
		b.WriteString(", ")
		b.WriteString(c.Name)
		if c.Continuous {
			b.WriteString(" REAL")
		}
	}
	b.WriteString(", attrs TEXT)")
	return b.String()
}

func insertSQL(table string, cols []timeline.Column) string {
	names := make([]string, 0, len(cols)+4)
	names = append(names, "subject", "start", "stop")
	for _, c := range cols {
		names = append(names, c.Name)
	}
	names = append(names, "attrs")
	marks := strings.Repeat("?, ", len(names)-1) + "?"
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(names, ", "), marks)
}

// driverValue maps a timeline value to its SQL representation.
func driverValue(v timeline.Value) any {
	switch t := v.(type) {
	case timeline.Code:
		return int64(t)
	case timeline.Level:
		return float64(t)
	default:
		return v.String()
	}
}

func attrsJSON(attrs map[string]string) (any, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attrs: %w", err)
	}
	return string(b), nil
}

// validIdent accepts plain SQL identifiers: letters, digits, underscore,
// not starting with a digit. Table and column names reach this package
// from caller options, never from SQL literals, so anything fancier is
// rejected rather than quoted.
func validIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
