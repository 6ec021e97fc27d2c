package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pilotforge/internal/ir"
)

func TestRegisterAsset_NewRecordIsDraft(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestAsset("a1", "seg-1", ir.AssetVideo)
	rec.Segments = []string{"seg-2"}
	rec.Tags = []string{"intro", "b-roll"}

	res, err := s.RegisterAsset(ctx, rec, testNow)
	require.NoError(t, err)
	assert.Equal(t, RegisterResult{ID: "a1", Status: ir.StatusDraft, Outcome: OutcomeInserted}, res)

	got, err := s.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, ir.StatusDraft, got.Status)
	assert.Equal(t, []string{"seg-2"}, got.Segments)
	assert.Equal(t, []string{"intro", "b-roll"}, got.Tags)
	assert.InDelta(t, 0.25, got.Provenance.Cost, 1e-9)
	assert.True(t, got.Provenance.CreatedAt.Equal(testNow))
}

func TestRegisterAsset_InvalidRecord(t *testing.T) {
	s := createTestStore(t)
	_, err := s.RegisterAsset(context.Background(), ir.AssetRecord{ID: "x", Type: "hologram", SegmentID: "s"}, testNow)
	assert.Error(t, err)
}

func TestRegisterAsset_ApprovedIsLocked(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterAsset(ctx, createTestAsset("a1", "seg-1", ir.AssetVideo), testNow)
	require.NoError(t, err)
	_, err = s.TransitionStatus(ctx, "a1", ir.StatusApproved, "", testNow)
	require.NoError(t, err)

	changed := createTestAsset("a1", "seg-1", ir.AssetVideo)
	changed.Path = "file:///tmp/other"
	_, err = s.RegisterAsset(ctx, changed, testNow)
	require.ErrorIs(t, err, ErrAssetLocked)

	got, err := s.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/a1", got.Path, "locked record is unchanged")
	assert.Equal(t, ir.StatusApproved, got.Status)
}

func TestRegisterAsset_ReplacesUnapproved(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterAsset(ctx, createTestAsset("a1", "seg-1", ir.AssetVideo), testNow)
	require.NoError(t, err)
	_, err = s.TransitionStatus(ctx, "a1", ir.StatusReview, "", testNow)
	require.NoError(t, err)

	again := createTestAsset("a1", "seg-1", ir.AssetVideo)
	again.Path = "file:///tmp/v2"
	res, err := s.RegisterAsset(ctx, again, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplaced, res.Outcome)
	assert.Equal(t, ir.StatusDraft, res.Status)

	got, err := s.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/v2", got.Path)
	assert.Equal(t, ir.StatusDraft, got.Status)
}

func TestRegisterAsset_RejectedBecomesRevision(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterAsset(ctx, createTestAsset("a1", "seg-1", ir.AssetVideo), testNow)
	require.NoError(t, err)
	_, err = s.TransitionStatus(ctx, "a1", ir.StatusRejected, "too dark", testNow)
	require.NoError(t, err)

	res, err := s.RegisterAsset(ctx, createTestAsset("a1", "seg-1", ir.AssetVideo), testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRevision, res.Outcome)
	assert.Equal(t, ir.RevisionID("a1", 1), res.ID)
	assert.Equal(t, "a1", res.RevisionOf)
	assert.Equal(t, ir.StatusDraft, res.Status)

	base, err := s.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, ir.StatusRevised, base.Status)
	assert.Equal(t, "too dark", base.Notes)

	events, err := s.ListEvents(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ir.StatusRejected, events[0].To)
	assert.Equal(t, ir.StatusRevised, events[1].To)
}

func TestRegisterAsset_FirstWriteWinsSegmentSlot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterAsset(ctx, createTestAsset("first", "seg-1", ir.AssetVideo), testNow)
	require.NoError(t, err)

	res, err := s.RegisterAsset(ctx, createTestAsset("second", "seg-1", ir.AssetVideo), testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCandidate, res.Outcome)
	assert.Equal(t, ir.StatusRevised, res.Status)
	assert.Equal(t, "first", res.RevisionOf)

	// Different type does not compete for the slot.
	res, err = s.RegisterAsset(ctx, createTestAsset("img", "seg-1", ir.AssetImage), testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, res.Outcome)
}

func TestRegisterAsset_ConcurrentSameSegment(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ids := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	var wg sync.WaitGroup
	results := make([]RegisterResult, len(ids))
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], errs[i] = s.RegisterAsset(ctx, createTestAsset(id, "seg-1", ir.AssetVideo), testNow)
		}(i, id)
	}
	wg.Wait()

	drafts := 0
	for i := range ids {
		require.NoError(t, errs[i])
		if results[i].Status == ir.StatusDraft {
			drafts++
		}
	}
	assert.Equal(t, 1, drafts, "exactly one registration holds the slot")

	live, err := s.QueryAssets(ctx, AssetQuery{Segment: "seg-1", Status: ir.StatusDraft})
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestTransitionStatus_Rules(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterAsset(ctx, createTestAsset("a1", "seg-1", ir.AssetAudio), testNow)
	require.NoError(t, err)

	_, err = s.TransitionStatus(ctx, "a1", ir.StatusRevised, "", testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition, "DRAFT cannot skip to REVISED")

	_, err = s.TransitionStatus(ctx, "a1", ir.StatusRejected, "", testNow)
	require.NoError(t, err)
	_, err = s.TransitionStatus(ctx, "a1", ir.StatusRevised, "regenerating", testNow)
	require.NoError(t, err)
	rec, err := s.TransitionStatus(ctx, "a1", ir.StatusReview, "", testNow)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusReview, rec.Status)

	_, err = s.TransitionStatus(ctx, "a1", ir.StatusApproved, "", testNow)
	require.NoError(t, err)
	_, err = s.TransitionStatus(ctx, "a1", ir.StatusRejected, "", testNow)
	assert.ErrorIs(t, err, ErrAssetLocked)

	_, err = s.TransitionStatus(ctx, "missing", ir.StatusApproved, "", testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportAsset(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestAsset("imp", "seg-1", ir.AssetImage)
	ok, err := s.ImportAsset(ctx, rec, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetAsset(ctx, "imp")
	require.NoError(t, err)
	assert.Equal(t, ir.StatusApproved, got.Status, "status defaults to approved")

	rec.Path = "file:///elsewhere"
	ok, err = s.ImportAsset(ctx, rec, testNow)
	require.NoError(t, err)
	assert.False(t, ok, "approved records are not overwritten")

	review := createTestAsset("rev", "seg-2", ir.AssetImage)
	review.Status = ir.StatusReview
	ok, err = s.ImportAsset(ctx, review, testNow)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = s.GetAsset(ctx, "rev")
	require.NoError(t, err)
	assert.Equal(t, ir.StatusReview, got.Status)
}
