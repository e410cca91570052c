package expose

import (
	"fmt"
	"math"
	"sort"

	"github.com/tpcopeland/tvkit/timeline"
)

// maxPasses is the hard cap on fixed-point passes. Every pass must strictly
// shrink remaining work, so a run that reaches the cap has hit a logic or
// data defect and aborts with a ComputeError instead of spinning.
const maxPasses = 1000

// span is the working representation of one interval during normalization:
// inclusive day bounds and a value.
type span struct {
	start timeline.Day
	stop  timeline.Day
	value timeline.Value
}

func (s span) duration() timeline.Day { return s.stop - s.start + 1 }

// sortSpans orders by (start, stop, value). The value tie-break keeps
// equal spans in a deterministic order regardless of input order.
func sortSpans(spans []span) {
	sort.SliceStable(spans, func(i, j int) bool {
		a, b := spans[i], spans[j]
		if a.start != b.start {
			return a.start < b.start
		}
		if a.stop != b.stop {
			return a.stop < b.stop
		}
		return timeline.CompareValues(a.value, b.value) < 0
	})
}

// Normalize turns raw exposure records into the canonical partition: per
// subject, sorted intervals with no gaps or overlaps tiling [entry, exit]
// exactly, one value column named by opts.Generate.
//
// Validation is exhaustive; all input problems come back in one
// timeline.Validations error before any computation starts. A broken
// fixed-point loop or partition surfaces as a *timeline.ComputeError.
//
// The dose representation bypasses normalization entirely; use Run.
func Normalize(cohort *timeline.Cohort, records []timeline.ExposureRecord, opts Options) (*timeline.Dataset, error) {
	errs := opts.Validate()
	if cohort == nil || cohort.Len() == 0 {
		errs = append(errs, timeline.ValidationError{
			Field:   "cohort",
			Message: "at least one subject is required",
			Code:    timeline.ErrValueMissing,
		})
	}
	if _, ok := opts.representationOrDefault().(Dose); ok {
		errs = append(errs, timeline.ValidationError{
			Field:   "representation",
			Message: "dose bypasses normalization; use Run",
			Code:    timeline.ErrOptionConflict,
		})
	}
	if err := errs.AsError(); err != nil {
		return nil, err
	}

	grouped, recErrs := groupRecords(cohort, records, opts)
	if err := recErrs.AsError(); err != nil {
		return nil, err
	}

	ds := &timeline.Dataset{Columns: []timeline.Column{{Name: opts.Generate}}}
	for _, subj := range cohort.Subjects() {
		spans, err := normalizeSubject(subj, grouped[subj.ID], opts)
		if err != nil {
			return nil, err
		}
		for _, s := range spans {
			ds.Rows = append(ds.Rows, timeline.Row{
				Subject: subj.ID,
				Start:   s.start,
				Stop:    s.stop,
				Values:  []timeline.Value{s.value},
			})
		}
	}
	if err := ds.VerifyPartition("normalize", cohort); err != nil {
		return nil, err
	}
	return ds, nil
}

// groupRecords validates every record (collect-all) and applies the
// per-record hygiene steps: window truncation, lag, washout, and the
// duration filter. Records dropped by hygiene are not errors.
func groupRecords(cohort *timeline.Cohort, records []timeline.ExposureRecord, opts Options) (map[string][]span, timeline.Validations) {
	_, needCodes := opts.overlapOrDefault().(Priority)

	var errs timeline.Validations
	grouped := make(map[string][]span)
	for i, r := range records {
		field := fmt.Sprintf("records[%d]", i)
		bad := false

		id := timeline.NormalizeID(r.Subject)
		subj, known := cohort.Lookup(id)
		if !known {
			errs = append(errs, timeline.ValidationError{
				Field:   field + ".subject",
				Message: fmt.Sprintf("unknown subject %q", r.Subject),
				Code:    timeline.ErrUnknownSubject,
			})
			bad = true
		}

		start := r.Start
		stop := start // point record: single day at start
		if r.Stop != nil {
			stop = *r.Stop
		}
		if stop < start {
			errs = append(errs, timeline.ValidationError{
				Field:   field,
				Message: fmt.Sprintf("stop %d precedes start %d", stop, start),
				Code:    timeline.ErrRecordMalformed,
			})
			bad = true
		}

		switch v := r.Value.(type) {
		case nil:
			errs = append(errs, timeline.ValidationError{
				Field:   field + ".value",
				Message: "exposure value is required",
				Code:    timeline.ErrValueMissing,
			})
			bad = true
		case timeline.Pair:
			errs = append(errs, timeline.ValidationError{
				Field:   field + ".value",
				Message: "input values must be scalar; pairs are produced only by the combine policy",
				Code:    timeline.ErrPairValueForbidden,
			})
			bad = true
		case timeline.Level:
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				errs = append(errs, timeline.ValidationError{
					Field:   field + ".value",
					Message: "exposure value must be finite",
					Code:    timeline.ErrValueNotFinite,
				})
				bad = true
			} else if needCodes {
				errs = append(errs, timeline.ValidationError{
					Field:   field + ".value",
					Message: "priority ordering requires coded exposure values",
					Code:    timeline.ErrPriorityNotCode,
				})
				bad = true
			}
		}
		if bad {
			continue
		}

		// Hygiene. Order matters: truncate to the window first, then lag
		// the start, then wash out the stop, then filter by duration.
		start = max(start, subj.Entry)
		stop = min(stop, subj.Exit)
		if start > stop {
			continue // wholly outside the window
		}
		start += opts.Lag
		if start > stop {
			continue // lagged past its own stop
		}
		stop = min(stop+opts.Washout, subj.Exit)
		dur := stop - start + 1
		if dur < opts.Window.MinDays {
			continue
		}
		if opts.Window.MaxDays > 0 && dur > opts.Window.MaxDays {
			continue
		}
		grouped[id] = append(grouped[id], span{start, stop, r.Value})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return grouped, nil
}

// normalizeSubject runs the in-window passes for one subject. The input
// spans are already truncated, lagged, washed out, and duration-filtered.
func normalizeSubject(subj timeline.Subject, spans []span, opts Options) ([]span, error) {
	sortSpans(spans)
	spans, err := mergeSpans(spans, opts.MergeDays, subj.ID)
	if err != nil {
		return nil, err
	}
	spans, err = decontainSpans(spans, subj.ID)
	if err != nil {
		return nil, err
	}
	spans, err = resolveOverlap(spans, opts.overlapOrDefault(), subj.ID)
	if err != nil {
		return nil, err
	}
	spans = bridgeGaps(spans, subj, opts)
	return dedupeCoverage(spans, subj.ID)
}

// mergeSpans unions consecutive same-value spans whose gap is at most
// mergeDays (overlapping and touching spans have gap <= 0 and always
// merge). Only sort-adjacent spans are compared; a different-value span
// sitting between two same-value ones blocks their merge.
func mergeSpans(spans []span, mergeDays timeline.Day, subject string) ([]span, error) {
	if len(spans) < 2 {
		return spans, nil
	}
	for pass := 0; ; pass++ {
		if pass >= maxPasses {
			return nil, timeline.NewIterationCapError("normalize/merge", subject, pass)
		}
		sortSpans(spans)
		out := make([]span, 0, len(spans))
		cur := spans[0]
		changed := false
		for _, next := range spans[1:] {
			if next.value == cur.value && next.start <= cur.stop+mergeDays+1 {
				cur.stop = max(cur.stop, next.stop)
				changed = true
				continue
			}
			out = append(out, cur)
			cur = next
		}
		out = append(out, cur)
		spans = out
		if !changed {
			return spans, nil
		}
	}
}

// decontainSpans drops any span fully contained in an earlier same-value
// span. Containment by an earlier span is transitive under deletion, so
// checking against all earlier spans of the pass is sound.
func decontainSpans(spans []span, subject string) ([]span, error) {
	if len(spans) < 2 {
		return spans, nil
	}
	for pass := 0; ; pass++ {
		if pass >= maxPasses {
			return nil, timeline.NewIterationCapError("normalize/decontain", subject, pass)
		}
		sortSpans(spans)
		out := make([]span, 0, len(spans))
		changed := false
		for i, s := range spans {
			contained := false
			for j := 0; j < i; j++ {
				p := spans[j]
				if p.value == s.value && p.start <= s.start && s.stop <= p.stop {
					contained = true
					break
				}
			}
			if contained {
				changed = true
				continue
			}
			out = append(out, s)
		}
		spans = out
		if !changed {
			return spans, nil
		}
	}
}

// bridgeGaps closes every gap of the resolved spans and synthesizes the
// baseline and post-exposure reference fill, producing full coverage of
// [entry, exit].
//
// A gap of at most the prior span's grace window extends that span. A
// wider gap keeps the prior value for the first carryforward days; the
// remainder becomes reference.
func bridgeGaps(spans []span, subj timeline.Subject, opts Options) []span {
	if len(spans) == 0 {
		return []span{{subj.Entry, subj.Exit, opts.Reference}}
	}
	sortSpans(spans)
	out := make([]span, 0, len(spans)+2)
	if spans[0].start > subj.Entry {
		out = append(out, span{subj.Entry, spans[0].start - 1, opts.Reference})
	}
	cur := spans[0]
	for _, next := range spans[1:] {
		gap := next.start - cur.stop - 1
		if gap > 0 {
			if gap <= opts.graceFor(cur.value) || opts.Carryforward >= gap {
				cur.stop = next.start - 1
			} else {
				cur.stop += opts.Carryforward
				out = append(out, cur)
				cur = span{cur.stop + 1, next.start - 1, opts.Reference}
			}
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	if cur.stop < subj.Exit {
		out = append(out, span{cur.stop + 1, subj.Exit, opts.Reference})
	}
	return out
}

// dedupeCoverage coalesces adjacent and overlapping same-value spans into
// maximal intervals. Different-value spans must not overlap at this point;
// finding one means an earlier pass broke its contract, which is fatal.
func dedupeCoverage(spans []span, subject string) ([]span, error) {
	if len(spans) == 0 {
		return spans, nil
	}
	sortSpans(spans)
	out := make([]span, 0, len(spans))
	cur := spans[0]
	for _, next := range spans[1:] {
		if next.start <= cur.stop {
			if next.value == cur.value {
				cur.stop = max(cur.stop, next.stop)
				continue
			}
			return nil, timeline.NewPartitionError("normalize", subject,
				fmt.Sprintf("unresolved overlap between [%d,%d] and [%d,%d]",
					cur.start, cur.stop, next.start, next.stop))
		}
		if next.start == cur.stop+1 && next.value == cur.value {
			cur.stop = next.stop
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur), nil
}
