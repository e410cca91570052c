// Package merge intersects classified exposure timelines into one
// multi-column dataset: the output holds one row per maximal stretch of
// days on which every source holds a constant combination of values, its
// value slice the concatenation of the source values.
//
// Sources are folded pairwise in argument order. Each fold intersects two
// per-subject partitions with a linear merge-join; values in columns
// marked Continuous are pro-rated by the duration ratio of the
// intersection against their own row, others pass through unchanged.
//
// Subjects must appear in every source. Strict mode (the default) rejects
// any mismatch with a *MismatchError naming the sources each subject is
// missing from; relaxed mode drops such subjects, reports them in the
// result, and attaches an ID_MISMATCH warning.
//
// Batching splits the subject list into fixed-percentage batches that are
// folded independently, optionally on parallel workers. Subjects never
// interact, so the output is identical for every batch size and worker
// count: batches concatenate in order and the result is sorted.
package merge
