package planner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/pilotforge/internal/catalog"
	"github.com/roach88/pilotforge/internal/graph"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/library"
)

// Reissue describes a regeneration issued for a rejected asset.
type Reissue struct {
	BaseID    string       `json:"base_id"`
	NewID     string       `json:"new_id"`
	Revision  int          `json:"revision"`
	SegmentID string       `json:"segment_id"`
	Type      ir.AssetType `json:"type"`
	PilotID   string       `json:"pilot_id,omitempty"`
	Variation int          `json:"variation"`
	Reason    string       `json:"reason,omitempty"`
}

// Reissue moves a REJECTED record to REVISED and returns what to
// regenerate. The new output is registered under NewID with revision_of
// pointing at the rejected record, so the rejected record stays intact.
func (p *Planner) Reissue(ctx context.Context, assetID string) (Reissue, error) {
	rec, err := p.lib.Get(ctx, assetID)
	if err != nil {
		return Reissue{}, fmt.Errorf("reissue: %w", err)
	}
	n, err := p.lib.CountRevisions(ctx, assetID)
	if err != nil {
		return Reissue{}, fmt.Errorf("reissue %s: %w", assetID, err)
	}
	// Skip revision ids taken by earlier registrations.
	for {
		_, err := p.lib.Get(ctx, ir.RevisionID(assetID, n+1))
		if library.IsNotFound(err) {
			break
		}
		if err != nil {
			return Reissue{}, fmt.Errorf("reissue %s: %w", assetID, err)
		}
		n++
	}
	if _, err := p.lib.MarkRevised(ctx, assetID, "regeneration issued"); err != nil {
		return Reissue{}, err
	}

	r := Reissue{
		BaseID:    assetID,
		NewID:     ir.RevisionID(assetID, n+1),
		Revision:  n + 1,
		SegmentID: rec.SegmentID,
		Type:      rec.Type,
		PilotID:   rec.PilotID,
		Variation: rec.Variation,
		Reason:    rec.Notes,
	}
	slog.Info("regeneration issued", "asset", assetID, "revision", r.NewID, "segment", r.SegmentID, "type", r.Type)
	return r, nil
}

// TaskSpec returns the task that produces the revision.
func (r Reissue) TaskSpec(pilotID string, tier catalog.Tier, durationSeconds float64) graph.TaskSpec {
	return graph.TaskSpec{
		ID:              fmt.Sprintf("%s/rev%d", TaskID(pilotID, r.SegmentID, r.Variation, r.Type), r.Revision),
		PilotID:         pilotID,
		Tier:            tier.ID,
		Provider:        tier.Provider,
		SegmentID:       r.SegmentID,
		Variation:       r.Variation,
		AssetType:       r.Type,
		DurationSeconds: durationSeconds,
		CostPerSecond:   tier.CostPerSecond,
		AssetID:         r.NewID,
		RevisionOf:      r.BaseID,
	}
}
