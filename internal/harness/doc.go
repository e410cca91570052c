// Package harness runs declarative conformance scenarios through the
// full engine: cohort construction, per-source classification,
// intersection, and event integration, followed by assertion evaluation.
//
// Scenarios are YAML files decoded strictly (unknown fields are
// rejected) so fixture typos fail loudly. Golden files under
// testdata/golden hold the rendered final dataset of each scenario;
// regenerate with go test ./internal/harness -update after an
// intentional behavior change.
package harness
