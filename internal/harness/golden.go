package harness

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/tpcopeland/tvkit/timeline"
)

// Render serializes a dataset as a tab-separated table for golden
// comparison: a header line, then one line per row with values rendered
// through Value.String. An attrs column (sorted k=v pairs) is appended
// only when some row carries attrs.
func Render(ds *timeline.Dataset) []byte {
	withAttrs := false
	for _, r := range ds.Rows {
		if len(r.Attrs) > 0 {
			withAttrs = true
			break
		}
	}

	var buf bytes.Buffer
	buf.WriteString("subject\tstart\tstop")
	for _, c := range ds.Columns {
		buf.WriteByte('\t')
		buf.WriteString(c.Name)
	}
	if withAttrs {
		buf.WriteString("\tattrs")
	}
	buf.WriteByte('\n')

	for _, r := range ds.Rows {
		fmt.Fprintf(&buf, "%s\t%d\t%d", r.Subject, r.Start, r.Stop)
		for _, v := range r.Values {
			buf.WriteByte('\t')
			buf.WriteString(v.String())
		}
		if withAttrs {
			buf.WriteByte('\t')
			buf.WriteString(renderAttrs(r.Attrs))
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func renderAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + attrs[k]
	}
	return strings.Join(parts, ",")
}

// AssertGolden compares a dataset against testdata/golden/<name>.golden.
func AssertGolden(t *testing.T, name string, ds *timeline.Dataset) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Render(ds))
}

// RunWithGolden executes a scenario, fails on assertion errors, and
// compares the final dataset against the scenario's golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	res, err := Run(scenario)
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("scenario %q: %s", scenario.Name, strings.Join(res.Errors, "; "))
	}
	AssertGolden(t, scenario.Name, res.Final)
	return nil
}
