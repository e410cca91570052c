package expose

import (
	"sort"

	"github.com/tpcopeland/tvkit/timeline"
)

// resolveOverlap applies the configured policy until no two spans of the
// subject occupy the same day. Same-value overlaps are unioned by every
// policy; the policies differ only on different-value conflicts.
func resolveOverlap(spans []span, policy OverlapPolicy, subject string) ([]span, error) {
	if len(spans) < 2 {
		return spans, nil
	}
	switch p := policy.(type) {
	case Priority:
		return resolvePriority(spans, p.Order, subject)
	case Split:
		return resolveSplit(spans), nil
	case Layer:
		return resolveLayer(spans, subject)
	case Combine:
		return resolveCombine(spans, subject)
	}
	// sealed interface; unreachable
	return spans, nil
}

// resolvePriority keeps the higher-ranked value over every contested day.
// The losing span is pushed past the winner (loser starts later) or
// truncated before it (loser starts earlier); a truncated span does not
// resume after the winner ends.
func resolvePriority(spans []span, order []timeline.Code, subject string) ([]span, error) {
	rank := make(map[timeline.Code]int, len(order))
	for i, c := range order {
		rank[c] = i
	}
	rankOf := func(v timeline.Value) int {
		c, ok := v.(timeline.Code)
		if !ok {
			return len(order)
		}
		if r, listed := rank[c]; listed {
			return r
		}
		return len(order)
	}

	for pass := 0; ; pass++ {
		if pass >= maxPasses {
			return nil, timeline.NewIterationCapError("normalize/overlap", subject, pass)
		}
		sortSpans(spans)
		out := make([]span, 0, len(spans))
		cur := spans[0]
		changed := false
		for _, next := range spans[1:] {
			if next.start > cur.stop {
				out = append(out, cur)
				cur = next
				continue
			}
			changed = true
			if rankOf(cur.value) <= rankOf(next.value) {
				// earlier span wins ties
				next.start = cur.stop + 1
				if next.start > next.stop {
					continue // fully shadowed
				}
				out = append(out, cur)
				cur = next
			} else {
				trimmed := cur
				trimmed.stop = next.start - 1
				if trimmed.start <= trimmed.stop {
					out = append(out, trimmed)
				}
				cur = next
			}
		}
		out = append(out, cur)
		spans = out
		if !changed {
			return spans, nil
		}
	}
}

// resolveLayer lets the later-starting span interrupt the earlier one. An
// interrupted span that extends past the interrupter resumes afterwards as
// a new span, which competes again on the next pass. Spans starting the
// same day collapse to the longer one.
func resolveLayer(spans []span, subject string) ([]span, error) {
	for pass := 0; ; pass++ {
		if pass >= maxPasses {
			return nil, timeline.NewIterationCapError("normalize/overlap", subject, pass)
		}
		sortSpans(spans)
		out := make([]span, 0, len(spans))
		var resumed []span
		cur := spans[0]
		changed := false
		for _, next := range spans[1:] {
			if next.start > cur.stop {
				out = append(out, cur)
				cur = next
				continue
			}
			changed = true
			if next.value == cur.value {
				cur.stop = max(cur.stop, next.stop)
				continue
			}
			if cur.start < next.start {
				out = append(out, span{cur.start, next.start - 1, cur.value})
			}
			if cur.stop > next.stop {
				resumed = append(resumed, span{next.stop + 1, cur.stop, cur.value})
			}
			cur = next
		}
		out = append(out, cur)
		if !changed {
			return out, nil
		}
		spans = append(out, resumed...)
	}
}

// resolveCombine rewrites each overlapping pair into up to three spans:
// the flanks keep their original values and the shared stretch becomes a
// Pair of both. Decompositions repeat until no overlap remains, so
// triple-coverage produces nested pairs.
func resolveCombine(spans []span, subject string) ([]span, error) {
	for pass := 0; ; pass++ {
		if pass >= maxPasses {
			return nil, timeline.NewIterationCapError("normalize/overlap", subject, pass)
		}
		sortSpans(spans)
		idx := -1
		for i := 0; i+1 < len(spans); i++ {
			if spans[i+1].start <= spans[i].stop {
				idx = i
				break
			}
		}
		if idx < 0 {
			return spans, nil
		}
		a, b := spans[idx], spans[idx+1]

		var repl []span
		if a.value == b.value {
			a.stop = max(a.stop, b.stop)
			repl = []span{a}
		} else {
			if a.start < b.start {
				repl = append(repl, span{a.start, b.start - 1, a.value})
			}
			repl = append(repl, span{b.start, min(a.stop, b.stop), timeline.Pair{Left: a.value, Right: b.value}})
			switch {
			case a.stop > b.stop:
				repl = append(repl, span{b.stop + 1, a.stop, a.value})
			case b.stop > a.stop:
				repl = append(repl, span{a.stop + 1, b.stop, b.value})
			}
		}

		next := make([]span, 0, len(spans)+2)
		next = append(next, spans[:idx]...)
		next = append(next, repl...)
		next = append(next, spans[idx+2:]...)
		spans = next
	}
}

// resolveSplit cuts every span at the union of all span boundaries and
// awards each contested fragment to the earliest-sorted span covering it.
// Fragments from the same winner are re-coalesced afterwards.
//
// Split needs no fixed point: the boundary grid is computed once and each
// fragment is claimed exactly once.
func resolveSplit(spans []span) []span {
	sortSpans(spans)

	bset := make(map[timeline.Day]struct{}, 2*len(spans))
	for _, s := range spans {
		bset[s.start] = struct{}{}
		bset[s.stop+1] = struct{}{}
	}
	bounds := make([]timeline.Day, 0, len(bset))
	for b := range bset {
		bounds = append(bounds, b)
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })

	// Fragment k covers [bounds[k], bounds[k+1]-1]. Every span start and
	// stop+1 is on the grid, so fragments never straddle a span edge.
	claimed := make(map[timeline.Day]struct{}, len(bounds))
	out := make([]span, 0, len(spans))
	for _, s := range spans {
		k := sort.Search(len(bounds), func(i int) bool { return bounds[i] >= s.start })
		for ; k < len(bounds) && bounds[k] <= s.stop; k++ {
			if _, taken := claimed[bounds[k]]; taken {
				continue
			}
			claimed[bounds[k]] = struct{}{}
			out = append(out, span{bounds[k], bounds[k+1] - 1, s.value})
		}
	}

	sortSpans(out)
	res := make([]span, 0, len(out))
	cur := out[0]
	for _, next := range out[1:] {
		if next.value == cur.value && next.start == cur.stop+1 {
			cur.stop = next.stop
			continue
		}
		res = append(res, cur)
		cur = next
	}
	return append(res, cur)
}
