// Package event overlays outcome events onto a timeline in
// counting-process form (timeline.Dataset.CountingProcess).
//
// Each event record resolves to its earliest non-missing date; exact date
// ties break by rank (primary, then competing columns in declared order).
// Per subject the resolved records merge date-wise, keeping the lowest
// rank per date. Host intervals are split at every interior effective
// date, continuous-tagged values pro-rated so the pieces sum to the
// original, and an indicator column flags each interval whose stop equals
// an effective date with that event's rank. Single mode censors the
// subject at the first flagged interval; recurring mode keeps all
// person-time and every flag.
//
// Subjects without a usable event date are fully censored (flag 0
// throughout); that fallback is accompanied by a warning, never an error.
package event
