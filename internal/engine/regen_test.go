package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pilotforge/internal/catalog"
	"github.com/roach88/pilotforge/internal/graph"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/library"
)

func producedImage(t *testing.T, e *Engine) ir.AssetRecord {
	t.Helper()
	_, err := e.Run(context.Background(), runConfig(t, 50, "static_images"))
	require.NoError(t, err)
	recs, err := e.library.Query(context.Background(), library.Query{Type: ir.AssetImage, Segment: "seg-03"})
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	return recs[0]
}

func TestRegenerate_ProducesRevision(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, map[string]float64{"static_images": 90}, "run-1", "run-2")
	rec := producedImage(t, e)
	_, err := e.library.Reject(ctx, rec.ID, "too dark")
	require.NoError(t, err)

	tier, err := catalog.Default().Get("static_images")
	require.NoError(t, err)
	rep, err := e.Regenerate(ctx, rec.ID, RegenConfig{Budget: 5, Tier: tier, DurationSeconds: 10})
	require.NoError(t, err)

	assert.Equal(t, "run-2", rep.RunID)
	assert.Equal(t, "completed", rep.Outcome)
	assert.Equal(t, rec.ID, rep.Reissue.BaseID)
	assert.Equal(t, "too dark", rep.Reissue.Reason)
	assert.Equal(t, graph.StatusDone, rep.Task.Status)
	assert.Equal(t, rep.Reissue.NewID, rep.Task.AssetID)
	assert.InDelta(t, 0.2, rep.Ledger.Spent, 1e-9)

	base, err := e.library.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusRevised, base.Status)

	revision, err := e.library.Get(ctx, rep.Reissue.NewID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, revision.RevisionOf)
	assert.Equal(t, "run-2", revision.Provenance.RunID)

	stored, err := e.store().ReadRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, "completed", stored.Outcome)
}

func TestRegenerate_RequiresRejectedAsset(t *testing.T) {
	e := newEngine(t, map[string]float64{"static_images": 90}, "run-1")
	rec := producedImage(t, e)

	tier, err := catalog.Default().Get("static_images")
	require.NoError(t, err)
	_, err = e.Regenerate(context.Background(), rec.ID, RegenConfig{Budget: 5, Tier: tier, DurationSeconds: 10})
	require.Error(t, err)

	var coded interface{ ErrorCode() string }
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, "E_INVALID_TRANSITION", coded.ErrorCode())

	runs, err := e.Runs(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 1, "no run record for a refused regeneration")
}

func TestRegenerate_BudgetTooSmall(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, map[string]float64{"static_images": 90}, "run-1", "run-2")
	rec := producedImage(t, e)
	_, err := e.library.Reject(ctx, rec.ID, "")
	require.NoError(t, err)

	tier, err := catalog.Default().Get("static_images")
	require.NoError(t, err)
	rep, err := e.Regenerate(ctx, rec.ID, RegenConfig{Budget: 0.1, Tier: tier, DurationSeconds: 10})
	require.Error(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, OutcomeFailed, rep.Outcome)
	assert.Equal(t, "E_BUDGET_EXCEEDED", rep.ErrorCode)
	assert.Equal(t, graph.StatusCancelled, rep.Task.Status)
	assert.Zero(t, rep.Ledger.Spent)
}

func TestRegenerate_RejectsBadInput(t *testing.T) {
	e := newEngine(t, nil)
	tier, err := catalog.Default().Get("static_images")
	require.NoError(t, err)

	_, err = e.Regenerate(context.Background(), "any", RegenConfig{Budget: 5, Tier: tier})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duration must be positive")

	_, err = e.Regenerate(context.Background(), "any", RegenConfig{Budget: 5, DurationSeconds: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
}
