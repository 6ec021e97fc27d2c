// Package oracle scores generated assets on a 0-100 scale.
//
// The scheduler compares a pilot's mean score against its tier's pass
// threshold; the oracle itself only reports numbers and issues.
package oracle

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/pilotforge/internal/ir"
)

// Asset is a generated output under evaluation.
type Asset struct {
	ID        string
	PilotID   string
	SegmentID string
	Type      ir.AssetType
	Payload   []byte
	MIME      string
}

// Context carries the evaluation criteria.
type Context struct {
	Tier          string
	PassThreshold float64
	// Round is 0 for the first test phase and 1 for a regeneration.
	Round int
}

// Score is one evaluation.
type Score struct {
	Overall   float64            `json:"overall"`
	SubScores map[string]float64 `json:"sub_scores,omitempty"`
	Issues    []string           `json:"issues,omitempty"`
	Passed    bool               `json:"passed"`
}

// Oracle evaluates assets.
type Oracle interface {
	Name() string
	Score(ctx context.Context, asset Asset, sc Context) (Score, error)
}

// Kind selects an oracle variant.
type Kind string

const (
	KindHeuristic Kind = "heuristic"
	KindGemini    Kind = "gemini"
)

// finalize clamps the overall score to 0..100 and sets Passed.
func finalize(s Score, threshold float64) (Score, error) {
	if math.IsNaN(s.Overall) || math.IsInf(s.Overall, 0) {
		return Score{}, fmt.Errorf("oracle returned non-finite score")
	}
	s.Overall = math.Max(0, math.Min(100, s.Overall))
	s.Passed = s.Overall >= threshold
	return s, nil
}

// Mean averages the overall scores. An empty slice scores 0.
func Mean(scores []Score) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s.Overall
	}
	return sum / float64(len(scores))
}

// Config selects and configures the oracle.
type Config struct {
	Kind      Kind            `yaml:"kind"`
	Model     string          `yaml:"model,omitempty"`
	APIKey    string          `yaml:"-"`
	Heuristic HeuristicConfig `yaml:"heuristic,omitempty"`
}

// New builds the oracle variant named by cfg.Kind.
func New(ctx context.Context, cfg Config) (Oracle, error) {
	switch cfg.Kind {
	case KindHeuristic, "":
		return NewHeuristic(cfg.Heuristic), nil
	case KindGemini:
		return NewGemini(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown oracle kind %q", cfg.Kind)
	}
}
