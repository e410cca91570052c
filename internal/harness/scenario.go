package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance run: a cohort, one or more exposure
// sources, optional event integration, and assertions over the outcome.
type Scenario struct {
	// Name uniquely identifies the scenario; golden files are stored
	// under this name.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Subjects is the study population.
	Subjects []SubjectSpec `yaml:"subjects"`

	// Sources are classified independently, in order, and intersected
	// when there is more than one.
	Sources []SourceSpec `yaml:"sources"`

	// Events optionally integrates outcomes into the classified timeline.
	Events *EventSpec `yaml:"events,omitempty"`

	// Assertions validate the resulting datasets.
	Assertions []Assertion `yaml:"assertions"`
}

// SubjectSpec is one study participant with an inclusive study window.
type SubjectSpec struct {
	ID    string `yaml:"id"`
	Entry int64  `yaml:"entry"`
	Exit  int64  `yaml:"exit"`
}

// SourceSpec configures one classification run.
type SourceSpec struct {
	// Generate names the output value column.
	Generate string `yaml:"generate"`

	// Reference is the unexposed value (required except for dose).
	Reference *ValueSpec `yaml:"reference,omitempty"`

	// Representation selects the output encoding: raw (default),
	// evertreated, currentformer, continuous, duration, recency, dose.
	Representation string `yaml:"representation,omitempty"`

	// ByType adds per-code 0/1 columns to evertreated.
	ByType bool `yaml:"bytype,omitempty"`

	// Unit is the time unit for continuous and duration (default days).
	Unit string `yaml:"unit,omitempty"`

	// Expand splits exposed periods into unit-sized chunks (continuous).
	Expand bool `yaml:"expand,omitempty"`

	// Cuts are the ascending cutpoints for duration, recency, and dose.
	Cuts []float64 `yaml:"cuts,omitempty"`

	// Overlap selects the conflict policy: layer (default), priority,
	// split, combine.
	Overlap string `yaml:"overlap,omitempty"`

	// Priority ranks codes for the priority policy, best first.
	Priority []int64 `yaml:"priority,omitempty"`

	MergeDays    int64 `yaml:"mergedays,omitempty"`
	Grace        int64 `yaml:"grace,omitempty"`
	Carryforward int64 `yaml:"carryforward,omitempty"`
	Lag          int64 `yaml:"lag,omitempty"`
	Washout      int64 `yaml:"washout,omitempty"`

	Switching bool `yaml:"switching,omitempty"`
	StateTime bool `yaml:"statetime,omitempty"`

	// Records are the raw exposure periods.
	Records []RecordSpec `yaml:"records"`
}

// ValueSpec is a scalar value carrying exactly one of code or level.
type ValueSpec struct {
	Code  *int64   `yaml:"code,omitempty"`
	Level *float64 `yaml:"level,omitempty"`
}

// RecordSpec is one raw exposure period. A missing stop marks a point
// record; exactly one of code or level carries the value.
type RecordSpec struct {
	Subject string   `yaml:"subject"`
	Start   int64    `yaml:"start"`
	Stop    *int64   `yaml:"stop,omitempty"`
	Code    *int64   `yaml:"code,omitempty"`
	Level   *float64 `yaml:"level,omitempty"`
}

// EventSpec configures event integration over the classified timeline.
type EventSpec struct {
	// Mode is single (default) or recurring.
	Mode string `yaml:"mode,omitempty"`

	// Generate names the indicator column (default event).
	Generate string `yaml:"generate,omitempty"`

	// TimeColumn optionally appends interval durations in TimeUnit
	// (days, months, or years; default days).
	TimeColumn string `yaml:"timecolumn,omitempty"`
	TimeUnit   string `yaml:"timeunit,omitempty"`

	// Records are the outcome observations.
	Records []EventRecordSpec `yaml:"records"`
}

// EventRecordSpec is one outcome observation: a primary date and
// competing dates in rank order. Null entries are missing dates.
type EventRecordSpec struct {
	Subject   string   `yaml:"subject"`
	Primary   *int64   `yaml:"primary,omitempty"`
	Competing []*int64 `yaml:"competing,omitempty"`
}

// Assertion validates one property of the run outcome.
type Assertion struct {
	// Type selects the assertion:
	//   - partition: the classified timeline tiles every study window
	//   - person_days: a subject's covered days on the timeline
	//   - rows: specific rows present in the final dataset
	//   - row_count: exact number of final rows
	//   - events: exact number of positive event flags
	Type string `yaml:"type"`

	// Subject scopes person_days.
	Subject string `yaml:"subject,omitempty"`

	// Days is the expected total for person_days.
	Days int64 `yaml:"days,omitempty"`

	// Count is the expected count for row_count and events.
	Count int `yaml:"count,omitempty"`

	// Rows are the expected rows for the rows assertion. Values use the
	// same string rendering as golden files.
	Rows []RowSpec `yaml:"rows,omitempty"`
}

// RowSpec is one expected output row.
type RowSpec struct {
	Subject string   `yaml:"subject"`
	Start   int64    `yaml:"start"`
	Stop    int64    `yaml:"stop"`
	Values  []string `yaml:"values"`
}

// Assertion type names accepted in scenario files.
const (
	AssertPartition  = "partition"
	AssertPersonDays = "person_days"
	AssertRows       = "rows"
	AssertRowCount   = "row_count"
	AssertEvents     = "events"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields,
// malformed YAML, and missing required fields are all errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // reject unknown fields, catches typos
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario yaml: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks the structural rules a scenario must satisfy
// before it can run. Value-level rules (ascending cuts, known units)
// are left to the stage option validators.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Subjects) == 0 {
		return fmt.Errorf("subjects list is required and must be non-empty")
	}
	for i, sub := range s.Subjects {
		if sub.ID == "" {
			return fmt.Errorf("subjects[%d]: id is required", i)
		}
	}

	if len(s.Sources) == 0 {
		return fmt.Errorf("sources list is required and must be non-empty")
	}
	for i, src := range s.Sources {
		if src.Generate == "" {
			return fmt.Errorf("sources[%d]: generate is required", i)
		}
		if src.Reference != nil {
			if (src.Reference.Code == nil) == (src.Reference.Level == nil) {
				return fmt.Errorf("sources[%d].reference: exactly one of code or level is required", i)
			}
		}
		for j, rec := range src.Records {
			if rec.Subject == "" {
				return fmt.Errorf("sources[%d].records[%d]: subject is required", i, j)
			}
			if (rec.Code == nil) == (rec.Level == nil) {
				return fmt.Errorf("sources[%d].records[%d]: exactly one of code or level is required", i, j)
			}
		}
	}

	if s.Events != nil {
		for i, rec := range s.Events.Records {
			if rec.Subject == "" {
				return fmt.Errorf("events.records[%d]: subject is required", i)
			}
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion checks the per-type required fields.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertPartition:
	case AssertPersonDays:
		if a.Subject == "" {
			return fmt.Errorf("assertions[%d]: subject is required for person_days", index)
		}
		if a.Days < 0 {
			return fmt.Errorf("assertions[%d]: days must be non-negative for person_days", index)
		}
	case AssertRows:
		if len(a.Rows) == 0 {
			return fmt.Errorf("assertions[%d]: rows list is required for rows", index)
		}
		for j, r := range a.Rows {
			if r.Subject == "" {
				return fmt.Errorf("assertions[%d].rows[%d]: subject is required", index, j)
			}
		}
	case AssertRowCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertEvents:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for events", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
