package merge

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tpcopeland/tvkit/timeline"
)

// MismatchError reports a strict-mode subject mismatch. Retrying cannot
// help; the caller either fixes the sources or opts into relaxed matching.
type MismatchError struct {
	// Missing maps a source index to the sorted subject ids present in
	// at least one other source but absent from that one.
	Missing map[int][]string
}

// Error summarizes per source; the full id lists stay on the struct.
func (e *MismatchError) Error() string {
	idxs := make([]int, 0, len(e.Missing))
	for i := range e.Missing {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	parts := make([]string, 0, len(idxs))
	for _, i := range idxs {
		parts = append(parts, fmt.Sprintf("source %d missing %d subjects", i, len(e.Missing[i])))
	}
	return "subject ids do not match across sources: " + strings.Join(parts, "; ")
}

// DroppedSubject records one subject removed by relaxed id matching.
type DroppedSubject struct {
	ID string
	// MissingFrom lists the source indexes the id was absent from.
	MissingFrom []int
}

// Result bundles a completed merge: the intersected dataset, the subjects
// relaxed matching dropped, and any warnings.
type Result struct {
	Data     *timeline.Dataset
	Dropped  []DroppedSubject
	Warnings []timeline.Warning
}

// RunOption configures run plumbing without touching the merge options.
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

// Run intersects the sources into one dataset. Sources are folded pairwise
// in argument order; the output columns are the concatenation of the
// source columns and every row spans days on which all sources hold a
// constant value combination.
func Run(sources []*timeline.Dataset, opts Options, ros ...RunOption) (*Result, error) {
	cfg := newRunConfig(ros)
	log := cfg.logger.With("run", cfg.tokens.Generate(), "stage", "merge")
	log.Info("run started",
		"sources", len(sources),
		"idmode", opts.idModeOrDefault().String(),
		"batchpercent", opts.BatchPercent,
		"workers", opts.Workers,
	)

	errs := opts.Validate()
	srcs, srcErrs := prepareSources(sources)
	errs = append(errs, srcErrs...)
	if err := errs.AsError(); err != nil {
		log.Error("validation failed", "error", err)
		return nil, err
	}

	universe, missing := subjectUniverse(srcs)
	var (
		kept     []string
		dropped  []DroppedSubject
		warnings []timeline.Warning
	)
	if len(missing) == 0 {
		kept = universe
	} else if _, relaxed := opts.idModeOrDefault().(Relaxed); !relaxed {
		err := &MismatchError{Missing: bySource(missing)}
		log.Error("id mismatch", "error", err)
		return nil, err
	} else {
		for _, id := range universe {
			if from, gone := missing[id]; gone {
				dropped = append(dropped, DroppedSubject{ID: id, MissingFrom: from})
				continue
			}
			kept = append(kept, id)
		}
		w := timeline.Warning{
			Code:    timeline.WarnIDMismatch,
			Message: "subjects missing from some sources were dropped",
			Details: map[string]string{"dropped": strconv.Itoa(len(dropped))},
		}
		warnings = append(warnings, w)
		log.Warn("data integrity", "code", string(w.Code), "dropped", len(dropped))
	}

	cols := make([]timeline.Column, 0)
	for _, s := range srcs {
		cols = append(cols, s.Columns...)
	}

	batches := splitBatches(kept, opts.BatchPercent)
	results := make([][]timeline.Row, len(batches))
	var g errgroup.Group
	g.SetLimit(max(opts.Workers, 1))
	for bi, batch := range batches {
		bi, batch := bi, batch
		g.Go(func() error {
			results[bi] = mergeBatch(srcs, batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &timeline.Dataset{Columns: cols}
	for _, rows := range results {
		out.Rows = append(out.Rows, rows...)
	}
	out.Sort()
	out.Dedupe()
	log.Info("run finished",
		"rows", len(out.Rows),
		"subjects", len(kept),
		"dropped", len(dropped),
		"batches", len(batches),
	)
	return &Result{Data: out, Dropped: dropped, Warnings: warnings}, nil
}

// prepareSources clones and sorts every source (callers' data is never
// mutated) and validates the set: at least two sources, none empty, no
// column name collisions, rows shaped as per-subject partitions.
func prepareSources(sources []*timeline.Dataset) ([]*timeline.Dataset, timeline.Validations) {
	var errs timeline.Validations
	if len(sources) < 2 {
		errs = append(errs, timeline.ValidationError{
			Field:   "sources",
			Message: "at least two sources are required",
			Code:    timeline.ErrTooFewSources,
		})
		return nil, errs
	}

	srcs := make([]*timeline.Dataset, len(sources))
	colOwner := make(map[string]int)
	for i, s := range sources {
		field := fmt.Sprintf("sources[%d]", i)
		if s == nil || len(s.Rows) == 0 {
			errs = append(errs, timeline.ValidationError{
				Field:   field,
				Message: "source has no rows",
				Code:    timeline.ErrSourceEmpty,
			})
			continue
		}
		c := s.Clone()
		c.Sort()
		srcs[i] = c

		for _, col := range c.Columns {
			if j, dup := colOwner[col.Name]; dup {
				errs = append(errs, timeline.ValidationError{
					Field:   field,
					Message: fmt.Sprintf("column %q already provided by source %d", col.Name, j),
					Code:    timeline.ErrColumnCollision,
				})
				continue
			}
			colOwner[col.Name] = i
		}
		if msg := partitionShapeProblem(c); msg != "" {
			errs = append(errs, timeline.ValidationError{
				Field:   field,
				Message: msg,
				Code:    timeline.ErrTimelineMalformed,
			})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return srcs, nil
}

// partitionShapeProblem reports the first shape violation of a sorted
// source: a row with more or fewer values than columns, an inverted
// interval, or a same-subject gap/overlap.
func partitionShapeProblem(d *timeline.Dataset) string {
	for i, r := range d.Rows {
		if len(r.Values) != len(d.Columns) {
			return fmt.Sprintf("row %d has %d values for %d columns", i, len(r.Values), len(d.Columns))
		}
		if r.Start > r.Stop {
			return fmt.Sprintf("interval [%d,%d] inverted (subject %s)", r.Start, r.Stop, r.Subject)
		}
		if i == 0 || d.Rows[i-1].Subject != r.Subject {
			continue
		}
		if r.Start != d.Rows[i-1].Stop+1 {
			return fmt.Sprintf("gap or overlap between stop %d and start %d (subject %s)",
				d.Rows[i-1].Stop, r.Start, r.Subject)
		}
	}
	return ""
}

// subjectUniverse returns the sorted union of subject ids and, for ids
// absent from some sources, the source indexes they are missing from.
func subjectUniverse(srcs []*timeline.Dataset) ([]string, map[string][]int) {
	present := make([]map[string]struct{}, len(srcs))
	all := make(map[string]struct{})
	for i, s := range srcs {
		present[i] = make(map[string]struct{})
		for _, id := range s.Subjects() {
			present[i][id] = struct{}{}
			all[id] = struct{}{}
		}
	}
	universe := make([]string, 0, len(all))
	for id := range all {
		universe = append(universe, id)
	}
	sort.Strings(universe)

	missing := make(map[string][]int)
	for _, id := range universe {
		for i := range srcs {
			if _, ok := present[i][id]; !ok {
				missing[id] = append(missing[id], i)
			}
		}
	}
	return universe, missing
}

func bySource(missing map[string][]int) map[int][]string {
	out := make(map[int][]string)
	for id, idxs := range missing {
		for _, i := range idxs {
			out[i] = append(out[i], id)
		}
	}
	for i := range out {
		sort.Strings(out[i])
	}
	return out
}

// splitBatches cuts the sorted id list into ceil(n*percent/100)-sized
// batches. Zero or full percentage means a single batch.
func splitBatches(ids []string, percent float64) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if percent <= 0 || percent >= 100 {
		return [][]string{ids}
	}
	size := int(math.Ceil(float64(len(ids)) * percent / 100))
	if size < 1 {
		size = 1
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for s := 0; s < len(ids); s += size {
		out = append(out, ids[s:min(s+size, len(ids))])
	}
	return out
}

func mergeBatch(srcs []*timeline.Dataset, ids []string) []timeline.Row {
	var out []timeline.Row
	for _, id := range ids {
		out = append(out, mergeSubject(srcs, id)...)
	}
	return out
}

// mergeSubject folds one subject's rows across all sources. The fold is
// left-associative: the accumulator after k sources covers the
// intersection of the first k windows.
func mergeSubject(srcs []*timeline.Dataset, id string) []timeline.Row {
	lo, hi := srcs[0].SubjectRows(id)
	acc := srcs[0].Rows[lo:hi]
	accCols := append([]timeline.Column(nil), srcs[0].Columns...)
	for _, src := range srcs[1:] {
		slo, shi := src.SubjectRows(id)
		acc = intersectRows(acc, src.Rows[slo:shi], accCols, src.Columns)
		accCols = append(accCols, src.Columns...)
	}
	return acc
}

// intersectRows merge-joins two sorted per-subject partitions. Both input
// slices are left untouched; every output row is freshly built.
func intersectRows(a, b []timeline.Row, aCols, bCols []timeline.Column) []timeline.Row {
	var out []timeline.Row
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		lo := max(a[i].Start, b[j].Start)
		hi := min(a[i].Stop, b[j].Stop)
		if lo <= hi {
			out = append(out, intersectRow(a[i], b[j], lo, hi, aCols, bCols))
		}
		switch {
		case a[i].Stop < b[j].Stop:
			i++
		case b[j].Stop < a[i].Stop:
			j++
		default:
			i++
			j++
		}
	}
	return out
}

func intersectRow(a, b timeline.Row, lo, hi timeline.Day, aCols, bCols []timeline.Column) timeline.Row {
	vals := make([]timeline.Value, 0, len(a.Values)+len(b.Values))
	vals = append(vals, scaledValues(a, aCols, lo, hi)...)
	vals = append(vals, scaledValues(b, bCols, lo, hi)...)
	return timeline.Row{
		Subject: a.Subject,
		Start:   lo,
		Stop:    hi,
		Values:  vals,
		Attrs:   mergedAttrs(a.Attrs, b.Attrs),
	}
}

// scaledValues returns the row's values over the intersection [lo, hi]:
// continuous columns pro-rate by the duration ratio against the row's own
// span, everything else passes through.
func scaledValues(r timeline.Row, cols []timeline.Column, lo, hi timeline.Day) []timeline.Value {
	ratio := float64(hi-lo+1) / float64(r.Stop-r.Start+1)
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

func mergedAttrs(a, b map[string]string) map[string]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
