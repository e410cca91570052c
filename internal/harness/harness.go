package harness

import (
	"fmt"

	"github.com/tpcopeland/tvkit/event"
	"github.com/tpcopeland/tvkit/expose"
	"github.com/tpcopeland/tvkit/merge"
	"github.com/tpcopeland/tvkit/timeline"
)

// Result is the outcome of one scenario execution.
type Result struct {
	// Cohort is the validated study population.
	Cohort *timeline.Cohort

	// Timeline is the inclusive dataset after classification and, with
	// more than one source, intersection.
	Timeline *timeline.Dataset

	// Final is the dataset the scenario ends with: counting-process
	// rows after event integration, or Timeline when no events are
	// configured.
	Final *timeline.Dataset

	// Events is the number of positive event flags in Final.
	Events int

	// Warnings collects data-integrity warnings from every stage.
	Warnings []timeline.Warning

	// Errors holds assertion failure messages. Empty means pass.
	Errors []string
}

// Run executes a scenario: cohort construction, one classification run
// per source, intersection when there are several, event integration
// when configured, then assertion evaluation.
//
// Stages run with their default silent logger and token source; run
// tokens appear only in logs, so rendered output stays deterministic.
func Run(scenario *Scenario) (*Result, error) {
	cohort, cerrs := timeline.NewCohort(buildSubjects(scenario.Subjects))
	if len(cerrs) > 0 {
		return nil, fmt.Errorf("scenario %q: invalid subjects: %w",
			scenario.Name, timeline.Validations(cerrs).AsError())
	}
	if len(scenario.Sources) == 0 {
		return nil, fmt.Errorf("scenario %q: at least one source is required", scenario.Name)
	}

	res := &Result{Cohort: cohort}

	sets := make([]*timeline.Dataset, 0, len(scenario.Sources))
	for i, src := range scenario.Sources {
		opts, err := buildOptions(src)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		er, err := expose.Run(cohort, buildExposureRecords(src.Records), opts)
		if err != nil {
			return nil, fmt.Errorf("sources[%d] (%s): %w", i, src.Generate, err)
		}
		res.Warnings = append(res.Warnings, er.Warnings...)
		sets = append(sets, er.Data)
	}

	current := sets[0]
	if len(sets) > 1 {
		mr, err := merge.Run(sets, merge.Options{})
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		res.Warnings = append(res.Warnings, mr.Warnings...)
		current = mr.Data
	}
	res.Timeline = current
	res.Final = current

	if scenario.Events != nil {
		opts, err := buildEventOptions(scenario.Events)
		if err != nil {
			return nil, fmt.Errorf("events: %w", err)
		}
		host := current.CountingProcess()
		evr, err := event.Run(host, buildEventRecords(scenario.Events.Records), opts)
		if err != nil {
			return nil, fmt.Errorf("events: %w", err)
		}
		res.Warnings = append(res.Warnings, evr.Warnings...)
		res.Final = evr.Data
		res.Events = evr.Events
	}

	res.Errors = EvaluateAssertions(res, scenario.Assertions)
	return res, nil
}

func buildSubjects(specs []SubjectSpec) []timeline.Subject {
	subjects := make([]timeline.Subject, len(specs))
	for i, s := range specs {
		subjects[i] = timeline.Subject{
			ID:    s.ID,
			Entry: timeline.Day(s.Entry),
			Exit:  timeline.Day(s.Exit),
		}
	}
	return subjects
}

func buildExposureRecords(specs []RecordSpec) []timeline.ExposureRecord {
	records := make([]timeline.ExposureRecord, len(specs))
	for i, r := range specs {
		rec := timeline.ExposureRecord{
			Subject: r.Subject,
			Start:   timeline.Day(r.Start),
			Value:   scalarValue(r.Code, r.Level),
		}
		if r.Stop != nil {
			rec.Stop = timeline.DayPtr(timeline.Day(*r.Stop))
		}
		records[i] = rec
	}
	return records
}

// scalarValue maps the yaml code/level pair onto a Value. Both nil means
// no value; the stage validators report that with a field path.
func scalarValue(code *int64, level *float64) timeline.Value {
	switch {
	case code != nil:
		return timeline.Code(*code)
	case level != nil:
		return timeline.Level(*level)
	default:
		return nil
	}
}

func buildOptions(src SourceSpec) (expose.Options, error) {
	rep, err := buildRepresentation(src)
	if err != nil {
		return expose.Options{}, err
	}
	overlap, err := buildOverlap(src)
	if err != nil {
		return expose.Options{}, err
	}
	var ref timeline.Value
	if src.Reference != nil {
		ref = scalarValue(src.Reference.Code, src.Reference.Level)
	}
	return expose.Options{
		Generate:       src.Generate,
		Reference:      ref,
		Representation: rep,
		Overlap:        overlap,
		MergeDays:      timeline.Day(src.MergeDays),
		Grace:          timeline.Day(src.Grace),
		Carryforward:   timeline.Day(src.Carryforward),
		Lag:            timeline.Day(src.Lag),
		Washout:        timeline.Day(src.Washout),
		Switching:      src.Switching,
		StateTime:      src.StateTime,
	}, nil
}

func buildRepresentation(src SourceSpec) (expose.Representation, error) {
	unit := timeline.Unit(src.Unit)
	if unit == "" {
		unit = timeline.UnitDays
	}
	switch src.Representation {
	case "", "raw":
		return expose.Raw{}, nil
	case "evertreated":
		return expose.EverTreated{ByType: src.ByType}, nil
	case "currentformer":
		return expose.CurrentFormer{}, nil
	case "continuous":
		return expose.Continuous{Unit: unit, Expand: src.Expand}, nil
	case "duration":
		return expose.Duration{Unit: unit, Cuts: src.Cuts}, nil
	case "recency":
		return expose.Recency{Cuts: src.Cuts}, nil
	case "dose":
		return expose.Dose{Cuts: src.Cuts}, nil
	default:
		return nil, fmt.Errorf("unknown representation %q", src.Representation)
	}
}

func buildOverlap(src SourceSpec) (expose.OverlapPolicy, error) {
	switch src.Overlap {
	case "":
		return nil, nil
	case "layer":
		return expose.Layer{}, nil
	case "split":
		return expose.Split{}, nil
	case "combine":
		return expose.Combine{}, nil
	case "priority":
		order := make([]timeline.Code, len(src.Priority))
		for i, c := range src.Priority {
			order[i] = timeline.Code(c)
		}
		return expose.Priority{Order: order}, nil
	default:
		return nil, fmt.Errorf("unknown overlap policy %q", src.Overlap)
	}
}

func buildEventOptions(spec *EventSpec) (event.Options, error) {
	mode, err := buildMode(spec.Mode)
	if err != nil {
		return event.Options{}, err
	}
	return event.Options{
		Generate:   spec.Generate,
		Mode:       mode,
		TimeColumn: spec.TimeColumn,
		TimeUnit:   timeline.Unit(spec.TimeUnit),
	}, nil
}

func buildMode(name string) (event.Mode, error) {
	switch name {
	case "":
		return nil, nil
	case "single":
		return event.Single{}, nil
	case "recurring":
		return event.Recurring{}, nil
	default:
		return nil, fmt.Errorf("unknown event mode %q", name)
	}
}

func buildEventRecords(specs []EventRecordSpec) []timeline.EventRecord {
	records := make([]timeline.EventRecord, len(specs))
	for i, r := range specs {
		rec := timeline.EventRecord{Subject: r.Subject}
		if r.Primary != nil {
			rec.Primary = timeline.DayPtr(timeline.Day(*r.Primary))
		}
		for _, c := range r.Competing {
			if c == nil {
				rec.Competing = append(rec.Competing, nil)
				continue
			}
			rec.Competing = append(rec.Competing, timeline.DayPtr(timeline.Day(*c)))
		}
		records[i] = rec
	}
	return records
}
