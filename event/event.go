package event

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/tpcopeland/tvkit/timeline"
)

// Result bundles event integration output: the final dataset, the count
// of positive flags, and any data-integrity warnings.
type Result struct {
	Data     *timeline.Dataset
	Events   int
	Warnings []timeline.Warning
}

// RunOption configures run plumbing without touching the event options.
type RunOption func(*runConfig)

type runConfig struct {
	logger *slog.Logger
	tokens timeline.TokenGenerator
}

// WithLogger routes run logging to l. The default discards all output.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTokens overrides the run-token source so tests can pin tokens.
func WithTokens(g timeline.TokenGenerator) RunOption {
	return func(c *runConfig) {
		if g != nil {
			c.tokens = g
		}
	}
}

func newRunConfig(ros []RunOption) runConfig {
	cfg := runConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tokens: timeline.UUIDv7Generator{},
	}
	for _, ro := range ros {
		ro(&cfg)
	}
	return cfg
}

// Run overlays event records onto a host timeline. The host must be in
// counting-process form (timeline.Dataset.CountingProcess); durations are
// stop-start and adjacent intervals share their boundary day.
func Run(host *timeline.Dataset, records []timeline.EventRecord, opts Options, ros ...RunOption) (*Result, error) {
	cfg := newRunConfig(ros)
	log := cfg.logger.With("run", cfg.tokens.Generate(), "stage", "event")
	log.Info("run started",
		"rows", rowCount(host),
		"records", len(records),
		"generate", opts.generateOrDefault(),
		"mode", opts.modeOrDefault().String(),
	)

	errs := opts.Validate()
	errs = append(errs, validateHost(host, opts)...)
	if err := errs.AsError(); err != nil {
		log.Error("validation failed", "error", err)
		return nil, err
	}

	var warnings []timeline.Warning
	if len(records) == 0 {
		w := timeline.Warning{
			Code:    timeline.WarnEmptyEvents,
			Message: "no event records; every interval is censored",
		}
		warnings = append(warnings, w)
		log.Warn("data integrity", "code", string(w.Code))
	}

	effective, kept, noDate := resolveRecords(records, opts.Keep)
	for _, id := range noDate {
		w := timeline.Warning{
			Code:    timeline.WarnNoEffectiveDate,
			Message: "event records carry no usable date; subject is censored",
			Details: map[string]string{"subject": id},
		}
		warnings = append(warnings, w)
		log.Warn("data integrity", "code", string(w.Code), "subject", id)
	}

	work := host.Clone()
	work.Sort()
	out := integrate(work, effective, kept, opts)
	out.Sort()

	events := 0
	flagIdx := out.ColumnIndex(opts.generateOrDefault())
	for _, r := range out.Rows {
		if c, ok := r.Values[flagIdx].(timeline.Code); ok && c > 0 {
			events++
		}
	}
	log.Info("run finished", "rows", len(out.Rows), "events", events)
	return &Result{Data: out, Events: events, Warnings: warnings}, nil
}

func rowCount(d *timeline.Dataset) int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// validateHost checks the counting-process shape and name collisions with
// the columns Run will append. Row scanning stops at the first violation.
func validateHost(host *timeline.Dataset, opts Options) timeline.Validations {
	var errs timeline.Validations
	if host == nil || len(host.Rows) == 0 {
		errs = append(errs, timeline.ValidationError{
			Field:   "host",
			Message: "host timeline has no rows",
			Code:    timeline.ErrSourceEmpty,
		})
		return errs
	}
	for _, c := range host.Columns {
		if c.Name == opts.generateOrDefault() || (opts.TimeColumn != "" && c.Name == opts.TimeColumn) {
			errs = append(errs, timeline.ValidationError{
				Field:   "host",
				Message: fmt.Sprintf("column %q already exists", c.Name),
				Code:    timeline.ErrColumnCollision,
			})
		}
	}
	for i, r := range host.Rows {
		var msg string
		switch {
		case len(r.Values) != len(host.Columns):
			msg = fmt.Sprintf("row %d has %d values for %d columns", i, len(r.Values), len(host.Columns))
		case r.Start >= r.Stop:
			msg = fmt.Sprintf("row %d interval (%d,%d] is empty", i, r.Start, r.Stop)
		}
		if msg != "" {
			errs = append(errs, timeline.ValidationError{
				Field:   "host",
				Message: msg,
				Code:    timeline.ErrTimelineMalformed,
			})
			break
		}
	}
	return errs
}

// resolveRecord picks one record's effective event: the earliest
// non-missing date; on a date tie the lowest rank stands (primary is
// rank 1, competing column i is rank i+2).
func resolveRecord(rec timeline.EventRecord) (timeline.EffectiveEvent, bool) {
	ev := timeline.EffectiveEvent{Subject: rec.Subject}
	found := false
	if rec.Primary != nil {
		ev.Date, ev.Rank, found = *rec.Primary, 1, true
	}
	for i, d := range rec.Competing {
		if d == nil {
			continue
		}
		if !found || *d < ev.Date {
			ev.Date, ev.Rank, found = *d, int64(i+2), true
		}
	}
	return ev, found
}

// resolveRecords resolves every record and merges per subject, keeping
// the lowest rank per date. Attributes named in keep are collected per
// subject, first defining record wins. Subjects whose records carry no
// usable date are returned separately, sorted.
func resolveRecords(records []timeline.EventRecord, keep []string) (map[string]map[timeline.Day]int64, map[string]map[string]string, []string) {
	effective := make(map[string]map[timeline.Day]int64)
	kept := make(map[string]map[string]string)
	seen := make(map[string]struct{})

	for _, rec := range records {
		id := timeline.NormalizeID(rec.Subject)
		seen[id] = struct{}{}

		if ev, ok := resolveRecord(rec); ok {
			dates := effective[id]
			if dates == nil {
				dates = make(map[timeline.Day]int64)
				effective[id] = dates
			}
			if rank, dup := dates[ev.Date]; !dup || ev.Rank < rank {
				dates[ev.Date] = ev.Rank
			}
		}

		for _, k := range keep {
			v, ok := rec.Attrs[k]
			if !ok {
				continue
			}
			attrs := kept[id]
			if attrs == nil {
				attrs = make(map[string]string)
				kept[id] = attrs
			}
			if _, dup := attrs[k]; !dup {
				attrs[k] = v
			}
		}
	}

	var noDate []string
	for id := range seen {
		if _, ok := effective[id]; !ok {
			noDate = append(noDate, id)
		}
	}
	sort.Strings(noDate)
	return effective, kept, noDate
}

// integrate splits, flags, truncates, and assembles the output dataset.
// host must be sorted and is consumed (Run clones before calling).
func integrate(host *timeline.Dataset, effective map[string]map[timeline.Day]int64, kept map[string]map[string]string, opts Options) *timeline.Dataset {
	cols := append([]timeline.Column(nil), host.Columns...)
	cols = append(cols, timeline.Column{Name: opts.generateOrDefault(), Labels: labelsCopy(opts.Labels)})
	div := 1.0
	if opts.TimeColumn != "" {
		div, _ = opts.timeUnitOrDefault().Divisor()
		cols = append(cols, timeline.Column{Name: opts.TimeColumn})
	}

	out := &timeline.Dataset{Columns: cols}
	for _, id := range host.Subjects() {
		lo, hi := host.SubjectRows(id)
		rows := integrateSubject(host.Rows[lo:hi], host.Columns, effective[id], kept[id], opts, div)
		out.Rows = append(out.Rows, rows...)
	}
	return out
}

func integrateSubject(rows []timeline.Row, cols []timeline.Column, dates map[timeline.Day]int64, attrs map[string]string, opts Options, div float64) []timeline.Row {
	pieces := splitAtDates(rows, sortedDates(dates), cols)

	flags := make([]int64, len(pieces))
	for i, r := range pieces {
		if rank, ok := dates[r.Stop]; ok {
			flags[i] = rank
		}
	}

	if _, single := opts.modeOrDefault().(Single); single {
		first := -1
		for i, f := range flags {
			if f > 0 {
				first = i
				break
			}
		}
		if first >= 0 {
			cut := pieces[first].Stop
			keptRows := make([]timeline.Row, 0, first+1)
			keptFlags := make([]int64, 0, first+1)
			for i, r := range pieces {
				if r.Start >= cut {
					continue
				}
				f := flags[i]
				if f > 0 && r.Stop != cut {
					f = 0
				}
				keptRows = append(keptRows, r)
				keptFlags = append(keptFlags, f)
			}
			pieces, flags = keptRows, keptFlags
		}
	}

	for i := range pieces {
		r := &pieces[i]
		r.Values = append(r.Values, timeline.Code(flags[i]))
		if opts.TimeColumn != "" {
			r.Values = append(r.Values, timeline.Level(float64(r.Stop-r.Start)/div))
		}
		if len(attrs) > 0 {
			merged := make(map[string]string, len(attrs)+len(r.Attrs))
			for k, v := range attrs {
				merged[k] = v
			}
			for k, v := range r.Attrs {
				merged[k] = v
			}
			r.Attrs = merged
		}
	}
	return pieces
}

// splitAtDates cuts every row at the effective dates strictly inside it.
// An event on an existing boundary causes no split. Pieces carry the
// row's values with continuous columns pro-rated by the piece's share of
// the original duration, so the pieces sum to the original.
func splitAtDates(rows []timeline.Row, dates []timeline.Day, cols []timeline.Column) []timeline.Row {
	if len(dates) == 0 {
		return append([]timeline.Row(nil), rows...)
	}
	var out []timeline.Row
	for _, r := range rows {
		cuts := interiorDates(r, dates)
		if len(cuts) == 0 {
			out = append(out, r)
			continue
		}
		start := r.Start
		for _, d := range append(cuts, r.Stop) {
			piece := r
			piece.Start = start
			piece.Stop = d
			piece.Values = scaledPiece(r, cols, start, d)
			out = append(out, piece)
			start = d
		}
	}
	return out
}

func interiorDates(r timeline.Row, dates []timeline.Day) []timeline.Day {
	var out []timeline.Day
	for _, d := range dates {
		if d <= r.Start {
			continue
		}
		if d >= r.Stop {
			break
		}
		out = append(out, d)
	}
	return out
}

func scaledPiece(r timeline.Row, cols []timeline.Column, start, stop timeline.Day) []timeline.Value {
	ratio := float64(stop-start) / float64(r.Stop-r.Start)
	out := make([]timeline.Value, len(r.Values))
	for i, v := range r.Values {
		if cols[i].Continuous {
			if l, ok := v.(timeline.Level); ok {
				out[i] = timeline.Level(float64(l) * ratio)
				continue
			}
		}
		out[i] = v
	}
	return out
}

func sortedDates(m map[timeline.Day]int64) []timeline.Day {
	if len(m) == 0 {
		return nil
	}
	out := make([]timeline.Day, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func labelsCopy(m map[timeline.Code]string) map[timeline.Code]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[timeline.Code]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
