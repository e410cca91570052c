package testutil

import "github.com/tpcopeland/tvkit/timeline"

// Periods builds count raw exposure periods per subject, clipped to the
// subject's window.
//
// Starts sweep the window on fixed strides so consecutive periods overlap
// for some subjects and leave gaps for others, exercising the whole
// normalization path. Values cycle through codes 1..3.
func Periods(subjects []timeline.Subject, count int) []timeline.ExposureRecord {
	records := make([]timeline.ExposureRecord, 0, len(subjects)*count)
	for si, s := range subjects {
		window := int(s.Window())
		for k := 0; k < count; k++ {
			start := s.Entry + timeline.Day((si*7+k*13)%window)
			stop := min(start+timeline.Day(5+(si+k*3)%21), s.Exit)
			records = append(records, timeline.ExposureRecord{
				Subject: s.ID,
				Start:   start,
				Stop:    timeline.DayPtr(stop),
				Value:   timeline.Code(1 + (si+k)%3),
			})
		}
	}
	return records
}

// Outcomes builds one event record for every step-th subject (step 1
// covers everyone), with the primary date at the midpoint of the window.
//
// Midpoints always fall strictly inside the window, so every outcome is
// observable on a counting-process timeline of the same subjects.
func Outcomes(subjects []timeline.Subject, step int) []timeline.EventRecord {
	if step < 1 {
		step = 1
	}
	var records []timeline.EventRecord
	for i := 0; i < len(subjects); i += step {
		s := subjects[i]
		records = append(records, timeline.EventRecord{
			Subject: s.ID,
			Primary: timeline.DayPtr(s.Entry + (s.Exit-s.Entry)/2),
		})
	}
	return records
}
