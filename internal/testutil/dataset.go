package testutil

import "github.com/tpcopeland/tvkit/timeline"

// WindowDataset tiles every subject's window into pieces intervals under a
// single coded column, values cycling 0..pieces-1.
//
// The result is a valid canonical partition of the subjects' windows,
// ready to use as a merge source or, through CountingProcess, as an event
// integration host. Windows shorter than pieces days tile into one-day
// rows and stop early.
func WindowDataset(subjects []timeline.Subject, column string, pieces int) *timeline.Dataset {
	if pieces < 1 {
		pieces = 1
	}
	ds := &timeline.Dataset{Columns: []timeline.Column{{Name: column}}}
	for _, s := range subjects {
		chunk := s.Window() / timeline.Day(pieces)
		if chunk == 0 {
			chunk = 1
		}
		start := s.Entry
		for p := 0; p < pieces && start <= s.Exit; p++ {
			stop := start + chunk - 1
			if p == pieces-1 || stop > s.Exit {
				stop = s.Exit
			}
			ds.Rows = append(ds.Rows, timeline.Row{
				Subject: s.ID,
				Start:   start,
				Stop:    stop,
				Values:  []timeline.Value{timeline.Code(p)},
			})
			start = stop + 1
		}
	}
	return ds
}
