package expose

import (
	"io"
	"log/slog"

	"github.com/tpcopeland/tvkit/timeline"
)

// Result bundles a completed run: the classified dataset plus any
// data-integrity warnings. Warnings accompany results, never replace them.
type Result struct {
	Data     *timeline.Dataset
	Warnings []timeline.Warning
}

// RunOption configures run plumbing (logging, tokens) without touching the
// statistical options.
type RunOption func(*runConfig)

type runConfig struct {
	logger *slog.Logger
	tokens timeline.TokenGenerator
}

// WithLogger routes run logging to l. The default discards all output.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTokens overrides the run-token source so tests can pin tokens.
func WithTokens(g timeline.TokenGenerator) RunOption {
	return func(c *runConfig) {
		if g != nil {
			c.tokens = g
		}
	}
}

func newRunConfig(ros []RunOption) runConfig {
	cfg := runConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tokens: timeline.UUIDv7Generator{},
	}
	for _, ro := range ros {
		ro(&cfg)
	}
	return cfg
}

// Run executes the full exposure pipeline for one cohort: validation,
// normalization (or the dose decomposition), classification, and
// compression. It is the only entry point covering every representation;
// Normalize and Classify remain available for callers that want the
// canonical partition itself.
func Run(cohort *timeline.Cohort, records []timeline.ExposureRecord, opts Options, ros ...RunOption) (*Result, error) {
	cfg := newRunConfig(ros)
	log := cfg.logger.With("run", cfg.tokens.Generate(), "stage", "expose")

	rep := opts.representationOrDefault()
	log.Info("run started",
		"subjects", cohort.Len(),
		"records", len(records),
		"generate", opts.Generate,
		"representation", rep.String(),
	)

	errs := opts.Validate()
	if cohort == nil || cohort.Len() == 0 {
		errs = append(errs, timeline.ValidationError{
			Field:   "cohort",
			Message: "at least one subject is required",
			Code:    timeline.ErrValueMissing,
		})
	}
	if err := errs.AsError(); err != nil {
		log.Error("validation failed", "error", err)
		return nil, err
	}

	if d, ok := rep.(Dose); ok {
		return runDose(cohort, records, opts, d, log)
	}

	partition, err := Normalize(cohort, records, opts)
	if err != nil {
		log.Error("normalization failed", "error", err)
		return nil, err
	}
	log.Debug("partition built", "rows", len(partition.Rows))

	out, err := Classify(partition, cohort, opts)
	if err != nil {
		log.Error("classification failed", "error", err)
		return nil, err
	}
	log.Info("run finished", "rows", len(out.Rows), "columns", len(out.Columns))
	return &Result{Data: out}, nil
}

// runDose is the dose-specific path: record hygiene, then the additive
// boundary decomposition. A configured non-zero reference is ignored with
// a warning; dose always references zero.
func runDose(cohort *timeline.Cohort, records []timeline.ExposureRecord, opts Options, d Dose, log *slog.Logger) (*Result, error) {
	var warnings []timeline.Warning
	if opts.Reference != nil && opts.Reference != timeline.Code(0) && opts.Reference != timeline.Level(0) {
		w := timeline.Warning{
			Code:    timeline.WarnReferenceIgnored,
			Message: "dose fixes the reference at zero; the configured reference was ignored",
			Details: map[string]string{"reference": opts.Reference.String()},
		}
		warnings = append(warnings, w)
		log.Warn("data integrity", "code", string(w.Code), "detail", w.Message)
	}

	grouped, recErrs := groupRecords(cohort, records, opts)
	if err := recErrs.AsError(); err != nil {
		log.Error("validation failed", "error", err)
		return nil, err
	}
	out, err := classifyDose(cohort, grouped, d.Cuts, opts.Generate)
	if err != nil {
		log.Error("dose accumulation failed", "error", err)
		return nil, err
	}
	log.Info("run finished", "rows", len(out.Rows), "warnings", len(warnings))
	return &Result{Data: out, Warnings: warnings}, nil
}
