package testutil

import (
	"fmt"

	"github.com/tpcopeland/tvkit/timeline"
)

// Population builds n subjects with deterministic staggered study windows.
//
// Entries cycle over the first month and follow-up lengths sweep 90 to 365
// days, so even small populations mix short and long follow-up. Output is
// pure arithmetic on the index: every call returns identical subjects and
// tests built on it never flake.
//
// IDs are zero-padded (p0001, p0002, ...) so lexicographic and numeric
// order agree.
func Population(n int) []timeline.Subject {
	subjects := make([]timeline.Subject, n)
	for i := range subjects {
		entry := timeline.Day((i * 11) % 30)
		subjects[i] = timeline.Subject{
			ID:    fmt.Sprintf("p%04d", i+1),
			Entry: entry,
			Exit:  entry + timeline.Day(89+(i*37)%276),
		}
	}
	return subjects
}
