// Package timeline defines the foundational data model for building
// per-subject exposure timelines: day ordinals, interval values, subjects
// and cohorts, raw exposure and event records, and the tabular Dataset
// exchanged between pipeline stages.
//
// # Interval conventions
//
// Two conventions coexist in the pipeline, and the boundary between them
// is explicit:
//
//   - Exposure stages (normalize, classify, merge) use inclusive integer
//     days: a row covers [Start, Stop], its duration is Stop-Start+1, and
//     adjacent rows satisfy next.Start == prev.Stop+1.
//   - The event stage uses counting-process rows: Stop is an exclusive
//     boundary shared with the next row (next.Start == prev.Stop) and the
//     duration is Stop-Start. Dataset.CountingProcess performs the
//     conversion; it is never implicit.
//
// # Immutability
//
// Every pipeline stage produces a new collection. Nothing in this package
// mutates a Dataset after hand-off; the few in-place helpers (Sort,
// Dedupe) are called by the stage that owns the value before it is
// published.
//
// # Determinism
//
// All orderings are total and documented: rows sort by (subject, start,
// stop), values by CompareValues. No map iteration order ever reaches an
// output.
package timeline
