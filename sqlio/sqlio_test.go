package sqlio

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/tpcopeland/tvkit/timeline"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustExec(t *testing.T, s *Store, query string, args ...any) {
	t.Helper()
	if _, err := s.db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q failed: %v", query, err)
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestReadCohort_OrdersByID(t *testing.T) {
	s := createTestStore(t)
	mustExec(t, s, `INSERT INTO subjects (id, entry, exit) VALUES ('s2', 0, 100)`)
	mustExec(t, s, `INSERT INTO subjects (id, entry, exit) VALUES ('s1', 10, 90)`)

	subjects, err := s.ReadCohort(context.Background())
	if err != nil {
		t.Fatalf("ReadCohort() failed: %v", err)
	}

	if len(subjects) != 2 {
		t.Fatalf("got %d subjects, want 2", len(subjects))
	}
	if subjects[0].ID != "s1" || subjects[1].ID != "s2" {
		t.Errorf("wrong order: %v, %v", subjects[0].ID, subjects[1].ID)
	}
	if subjects[0].Entry != 10 || subjects[0].Exit != 90 {
		t.Errorf("s1 window = [%d,%d], want [10,90]", subjects[0].Entry, subjects[0].Exit)
	}
}

func TestReadCohort_EmptyTableReturnsEmptySlice(t *testing.T) {
	s := createTestStore(t)

	subjects, err := s.ReadCohort(context.Background())
	if err != nil {
		t.Fatalf("ReadCohort() failed: %v", err)
	}
	if subjects == nil {
		t.Error("got nil, want empty slice")
	}
	if len(subjects) != 0 {
		t.Errorf("got %d subjects, want 0", len(subjects))
	}
}

func TestReadExposures_MapsNullStopAndValues(t *testing.T) {
	s := createTestStore(t)
	mustExec(t, s, `INSERT INTO subjects (id, entry, exit) VALUES ('s1', 0, 100)`)
	mustExec(t, s, `INSERT INTO exposures (subject, start, stop, code, level) VALUES ('s1', 5, 20, 3, NULL)`)
	mustExec(t, s, `INSERT INTO exposures (subject, start, stop, code, level) VALUES ('s1', 30, NULL, NULL, 2.5)`)

	records, err := s.ReadExposures(context.Background())
	if err != nil {
		t.Fatalf("ReadExposures() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	first := records[0]
	if first.Stop == nil || *first.Stop != 20 {
		t.Errorf("first stop = %v, want 20", first.Stop)
	}
	if first.Value != timeline.Code(3) {
		t.Errorf("first value = %v, want Code(3)", first.Value)
	}

	second := records[1]
	if second.Stop != nil {
		t.Errorf("second stop = %v, want nil (point record)", *second.Stop)
	}
	if second.Value != timeline.Level(2.5) {
		t.Errorf("second value = %v, want Level(2.5)", second.Value)
	}
}

func TestReadExposures_RejectsRowWithoutValue(t *testing.T) {
	s := createTestStore(t)
	mustExec(t, s, `INSERT INTO subjects (id, entry, exit) VALUES ('s1', 0, 100)`)

	// The schema CHECK requires exactly one of code/level.
	_, err := s.db.Exec(`INSERT INTO exposures (subject, start, stop, code, level) VALUES ('s1', 5, 20, NULL, NULL)`)
	if err == nil {
		t.Error("insert with NULL code and level succeeded, want CHECK violation")
	}
}

func TestReadEvents_DecodesCompetingAndAttrs(t *testing.T) {
	s := createTestStore(t)
	mustExec(t, s, `INSERT INTO subjects (id, entry, exit) VALUES ('s1', 0, 100)`)
	mustExec(t, s, `INSERT INTO events (subject, primary_date, competing, attrs)
		VALUES ('s1', 40, '[null, 25]', '{"site":"x"}')`)
	mustExec(t, s, `INSERT INTO events (subject, primary_date, competing, attrs)
		VALUES ('s1', NULL, NULL, NULL)`)

	records, err := s.ReadEvents(context.Background())
	if err != nil {
		t.Fatalf("ReadEvents() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	first := records[0]
	if first.Primary == nil || *first.Primary != 40 {
		t.Errorf("primary = %v, want 40", first.Primary)
	}
	if len(first.Competing) != 2 {
		t.Fatalf("got %d competing dates, want 2", len(first.Competing))
	}
	if first.Competing[0] != nil {
		t.Errorf("competing[0] = %v, want nil", *first.Competing[0])
	}
	if first.Competing[1] == nil || *first.Competing[1] != 25 {
		t.Errorf("competing[1] = %v, want 25", first.Competing[1])
	}
	if first.Attrs["site"] != "x" {
		t.Errorf("attrs = %v, want site=x", first.Attrs)
	}

	second := records[1]
	if second.Primary != nil || second.Competing != nil || second.Attrs != nil {
		t.Errorf("empty record decoded as %+v", second)
	}
}

func TestWriteDataset_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ds := &timeline.Dataset{
		Columns: []timeline.Column{
			{Name: "exposure"},
			{Name: "cumdose", Continuous: true},
		},
		Rows: []timeline.Row{
			{Subject: "s1", Start: 0, Stop: 49, Values: []timeline.Value{timeline.Code(0), timeline.Level(0)}},
			{
				Subject: "s1", Start: 50, Stop: 100,
				Values: []timeline.Value{timeline.Code(1), timeline.Level(12.5)},
				Attrs:  map[string]string{"site": "x"},
			},
		},
	}

	if err := s.WriteDataset(context.Background(), "results", ds); err != nil {
		t.Fatalf("WriteDataset() failed: %v", err)
	}

	rows, err := s.db.Query(`SELECT subject, start, stop, exposure, cumdose, attrs FROM results ORDER BY start`)
	if err != nil {
		t.Fatalf("query results failed: %v", err)
	}
	defer rows.Close()

	type got struct {
		subject     string
		start, stop int64
		exposure    int64
		cumdose     float64
		attrs       sql.NullString
	}
	var out []got
	for rows.Next() {
		var g got
		if err := rows.Scan(&g.subject, &g.start, &g.stop, &g.exposure, &g.cumdose, &g.attrs); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate failed: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("got %d rows, want 2", len(out))
	}
	if out[0].exposure != 0 || out[1].exposure != 1 {
		t.Errorf("exposure values = %d, %d, want 0, 1", out[0].exposure, out[1].exposure)
	}
	if out[1].cumdose != 12.5 {
		t.Errorf("cumdose = %v, want 12.5", out[1].cumdose)
	}
	if out[0].attrs.Valid {
		t.Errorf("row 0 attrs = %q, want NULL", out[0].attrs.String)
	}
	if out[1].attrs.String != `{"site":"x"}` {
		t.Errorf("row 1 attrs = %q", out[1].attrs.String)
	}
}

func TestWriteDataset_ReplacesPriorContents(t *testing.T) {
	s := createTestStore(t)
	ds := &timeline.Dataset{
		Columns: []timeline.Column{{Name: "exposure"}},
		Rows: []timeline.Row{
			{Subject: "s1", Start: 0, Stop: 10, Values: []timeline.Value{timeline.Code(1)}},
			{Subject: "s2", Start: 0, Stop: 10, Values: []timeline.Value{timeline.Code(2)}},
		},
	}
	if err := s.WriteDataset(context.Background(), "results", ds); err != nil {
		t.Fatalf("first WriteDataset() failed: %v", err)
	}

	ds.Rows = ds.Rows[:1]
	if err := s.WriteDataset(context.Background(), "results", ds); err != nil {
		t.Fatalf("second WriteDataset() failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d rows, want 1 (table replaced, not appended)", count)
	}
}

func TestWriteDataset_WritesPairAsText(t *testing.T) {
	s := createTestStore(t)
	ds := &timeline.Dataset{
		Columns: []timeline.Column{{Name: "exposure"}},
		Rows: []timeline.Row{
			{Subject: "s1", Start: 0, Stop: 10, Values: []timeline.Value{
				timeline.Pair{Left: timeline.Code(1), Right: timeline.Code(2)},
			}},
		},
	}
	if err := s.WriteDataset(context.Background(), "results", ds); err != nil {
		t.Fatalf("WriteDataset() failed: %v", err)
	}

	var v string
	if err := s.db.QueryRow(`SELECT exposure FROM results`).Scan(&v); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if v != "(1+2)" {
		t.Errorf("pair stored as %q, want (1+2)", v)
	}
}

func TestWriteDataset_RejectsInvalidNames(t *testing.T) {
	s := createTestStore(t)
	ds := &timeline.Dataset{Columns: []timeline.Column{{Name: "exposure"}}}

	if err := s.WriteDataset(context.Background(), "bad name; DROP TABLE subjects", ds); err == nil {
		t.Error("invalid table name accepted")
	}

	ds.Columns[0].Name = `x"y`
	if err := s.WriteDataset(context.Background(), "results", ds); err == nil {
		t.Error("invalid column name accepted")
	}
}
