// Package expose builds classified exposure timelines from raw exposure
// periods: the normalization stage turns arbitrary (overlapping, gappy,
// window-exceeding) periods into a canonical partition of each subject's
// study window, and the classification stage maps that partition into the
// requested exposure representation.
//
// # Pipeline
//
// Normalize runs a fixed sequence of passes, each establishing an
// invariant the next pass relies on:
//
//	validate/truncate -> lag/washout/window -> merge -> de-contain ->
//	overlap policy -> gap/grace/carryforward -> baseline/post fill ->
//	coverage de-duplication
//
// The output satisfies the exhaustive-partition invariant: per subject,
// sorted intervals with no gaps or overlaps tiling [entry, exit] exactly.
// Classify then rewrites interval values (ever-treated, current/former,
// cumulative, buckets, ...) and run-length-compresses equal neighbors in
// one linear pass; person-time is conserved.
//
// The dose representation is the one deliberate departure: dose rates are
// additive, so overlap policies and gap bridging do not apply. Dose
// bypasses the merge/overlap machinery and computes per-segment rate sums
// from the boundary decomposition of the hygiene-filtered raw periods.
//
// # Determinism
//
// Subjects are processed independently in id order. Fixed-point passes
// carry a hard iteration cap (1000); exceeding it returns a
// timeline.ComputeError rather than looping. No randomness, no map
// iteration order, no wall-clock input.
package expose
