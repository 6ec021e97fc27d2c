package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pilotforge/internal/graph"
	"github.com/roach88/pilotforge/internal/ir"
)

// Summary renders the deterministic part of a result: outcome, pilots in
// plan order with their own status sequence, production task counts,
// ledger totals and asset counts by type and status.
func Summary(name string, result *Result) []byte {
	var b strings.Builder
	rr := result.Run

	fmt.Fprintf(&b, "scenario: %s\n", name)
	fmt.Fprintf(&b, "outcome: %s\n", rr.Outcome)
	fmt.Fprintf(&b, "error_code: %s\n", orDash(rr.ErrorCode))

	rep := rr.Report
	if rep == nil {
		b.WriteString("report: -\n")
		return []byte(b.String())
	}
	fmt.Fprintf(&b, "winner: %s\n", orDash(rep.Winner))

	b.WriteString("pilots:\n")
	for _, p := range rep.Pilots {
		fmt.Fprintf(&b, "  %s: %s allocated=%.2f score=%.1f regenerated=%t rounds=%d\n",
			p.ID, p.Status, p.Allocated, p.Score, p.Regenerated, len(p.Rounds))
		fmt.Fprintf(&b, "    rationale: %s\n", p.Rationale)
		fmt.Fprintf(&b, "    timeline: %s\n", joinStatuses(result.Timeline(p.ID)))
	}

	if prod := rep.Production; prod != nil {
		fmt.Fprintf(&b, "production: done=%d failed=%d cancelled=%d\n",
			prod.Count(graph.StatusDone), prod.Count(graph.StatusFailed), prod.Count(graph.StatusCancelled))
	} else {
		b.WriteString("production: -\n")
	}

	fmt.Fprintf(&b, "ledger: total=%.2f spent=%.2f reserved=%.2f available=%.2f\n",
		rep.Ledger.Total, rep.Ledger.Spent, rep.Ledger.Reserved, rep.Ledger.Available)

	b.WriteString("assets:\n")
	for _, line := range assetCounts(result.Assets) {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	return []byte(b.String())
}

// assetCounts returns "type STATUS n" lines sorted by type, then status.
func assetCounts(assets []ir.AssetRecord) []string {
	counts := make(map[string]int)
	for _, rec := range assets {
		counts[fmt.Sprintf("%s %s", rec.Type, rec.Status)]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("%s %d", k, counts[k])
	}
	if len(lines) == 0 {
		lines = []string{"-"}
	}
	return lines
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// RunWithGolden executes a scenario and compares its summary against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can make further checks. Scenario
// execution errors fail the test.
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	AssertGolden(t, scenario.Name, result)
	return result
}

// AssertGolden compares an existing result's summary against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Summary(name, result))
}
