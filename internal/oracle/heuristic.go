package oracle

import (
	"context"
	"encoding/binary"
	"encoding/hex"

	"github.com/roach88/pilotforge/internal/ir"
)

// HeuristicConfig configures the deterministic scorer.
type HeuristicConfig struct {
	// TierScores is the base score per tier id.
	TierScores map[string]float64 `yaml:"tier_scores,omitempty"`
	// DefaultScore applies to tiers missing from TierScores. Zero means 80.
	DefaultScore float64 `yaml:"default_score,omitempty"`
	// Spread adds a payload-derived offset in [-Spread, +Spread].
	Spread float64 `yaml:"spread,omitempty"`
	// RegenBonus is added when scoring a regeneration round.
	RegenBonus float64 `yaml:"regen_bonus,omitempty"`
}

// Heuristic scores from configuration alone, so runs are reproducible.
type Heuristic struct {
	cfg HeuristicConfig
}

// NewHeuristic creates a heuristic oracle.
func NewHeuristic(cfg HeuristicConfig) *Heuristic {
	if cfg.DefaultScore == 0 {
		cfg.DefaultScore = 80
	}
	return &Heuristic{cfg: cfg}
}

func (h *Heuristic) Name() string { return string(KindHeuristic) }

// Score returns base + spread offset + regeneration bonus.
func (h *Heuristic) Score(ctx context.Context, asset Asset, sc Context) (Score, error) {
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}

	base, ok := h.cfg.TierScores[sc.Tier]
	if !ok {
		base = h.cfg.DefaultScore
	}
	overall := base + h.offset(asset.Payload)
	if sc.Round > 0 {
		overall += h.cfg.RegenBonus
	}

	var issues []string
	if len(asset.Payload) == 0 {
		overall = 0
		issues = append(issues, "empty payload")
	}
	if overall < sc.PassThreshold {
		issues = append(issues, "below tier threshold")
	}

	return finalize(Score{
		Overall: overall,
		SubScores: map[string]float64{
			"fidelity":   overall,
			"continuity": overall,
		},
		Issues: issues,
	}, sc.PassThreshold)
}

// offset maps the payload digest onto [-Spread, +Spread].
func (h *Heuristic) offset(payload []byte) float64 {
	if h.cfg.Spread == 0 {
		return 0
	}
	raw, err := hex.DecodeString(ir.PayloadDigest(payload)[:4])
	if err != nil {
		return 0
	}
	v := binary.BigEndian.Uint16(raw)
	return (float64(v)/65535*2 - 1) * h.cfg.Spread
}
