package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/pilotforge/internal/oracle"
)

// ScriptedOracle returns scores scripted per tier and round.
//
// Scores[tier][round] is the score for every asset of that tier in that
// round; rounds past the end of the script repeat the last score. Tiers
// without a script fail evaluation, which the scheduler logs and skips.
//
// Thread-safety: ScriptedOracle is safe for concurrent use.
type ScriptedOracle struct {
	scores map[string][]float64

	mu    sync.Mutex
	calls map[string]int
}

// NewScriptedOracle creates an oracle from a per-tier score script.
func NewScriptedOracle(scores map[string][]float64) *ScriptedOracle {
	return &ScriptedOracle{scores: scores, calls: make(map[string]int)}
}

// Name implements oracle.Oracle.
func (o *ScriptedOracle) Name() string { return "scripted" }

// Score implements oracle.Oracle.
func (o *ScriptedOracle) Score(ctx context.Context, asset oracle.Asset, sc oracle.Context) (oracle.Score, error) {
	if err := ctx.Err(); err != nil {
		return oracle.Score{}, err
	}
	o.mu.Lock()
	o.calls[sc.Tier]++
	o.mu.Unlock()

	script := o.scores[sc.Tier]
	if len(script) == 0 {
		return oracle.Score{}, fmt.Errorf("no score scripted for tier %s", sc.Tier)
	}
	round := min(max(sc.Round, 0), len(script)-1)
	s := oracle.Score{Overall: script[round], Passed: script[round] >= sc.PassThreshold}
	if !s.Passed {
		s.Issues = []string{"below tier threshold"}
	}
	return s, nil
}

// Calls returns how many assets of a tier were scored.
func (o *ScriptedOracle) Calls(tier string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[tier]
}
