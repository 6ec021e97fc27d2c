package planner

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pilotforge/internal/catalog"
	"github.com/roach88/pilotforge/internal/graph"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/library"
	"github.com/roach88/pilotforge/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func createTestPlanner(t *testing.T) (*Planner, *library.Library) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "planner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	lib, err := library.New(s, library.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return New(lib), lib
}

func record(id, segment string, typ ir.AssetType) ir.AssetRecord {
	return ir.AssetRecord{
		ID:         id,
		Type:       typ,
		Path:       "file:///assets/" + id,
		PilotID:    "pilot-motion_graphics",
		SegmentID:  segment,
		Provenance: ir.Provenance{Provider: "simulated", RunID: "run-1", CreatedAt: testNow},
	}
}

func approve(t *testing.T, lib *library.Library, rec ir.AssetRecord) {
	t.Helper()
	ctx := context.Background()
	_, err := lib.Register(ctx, rec)
	require.NoError(t, err)
	_, err = lib.Approve(ctx, rec.ID)
	require.NoError(t, err)
}

func tier(t *testing.T, id string) catalog.Tier {
	t.Helper()
	tr, err := catalog.Default().Get(id)
	require.NoError(t, err)
	return tr
}

func TestGetGenerationPlan_ExactCacheMiss(t *testing.T) {
	p, lib := createTestPlanner(t)
	ctx := context.Background()

	approve(t, lib, record("v1", "seg-01", ir.AssetVideo))
	approve(t, lib, record("i2", "seg-02", ir.AssetImage))
	_, err := lib.Register(ctx, record("v3", "seg-03", ir.AssetVideo)) // draft only
	require.NoError(t, err)

	plan, err := p.GetGenerationPlan(ctx, []string{"seg-01", "seg-02", "seg-03", "seg-04"}, ir.AssetVideo)
	require.NoError(t, err)
	assert.Equal(t, []string{"seg-02", "seg-03", "seg-04"}, plan, "approved image does not satisfy video")

	plan, err = p.GetGenerationPlan(ctx, []string{"seg-02", "seg-01"}, ir.AssetImage)
	require.NoError(t, err)
	assert.Equal(t, []string{"seg-01"}, plan)
}

func TestGetGenerationPlan_OrderAndDuplicates(t *testing.T) {
	p, lib := createTestPlanner(t)
	approve(t, lib, record("a", "seg-b", ir.AssetAudio))

	plan, err := p.GetGenerationPlan(context.Background(), []string{"seg-c", "seg-a", "seg-c", "seg-b", "seg-a"}, ir.AssetAudio)
	require.NoError(t, err)
	assert.Equal(t, []string{"seg-c", "seg-a"}, plan)
}

func TestGetGenerationPlan_EmptyAndInvalid(t *testing.T) {
	p, _ := createTestPlanner(t)
	plan, err := p.GetGenerationPlan(context.Background(), nil, ir.AssetVideo)
	require.NoError(t, err)
	assert.NotNil(t, plan)
	assert.Empty(t, plan)

	_, err = p.GetGenerationPlan(context.Background(), []string{"seg-01"}, "hologram")
	assert.Error(t, err)
}

func TestGetGenerationPlan_RandomizedAgainstModel(t *testing.T) {
	p, lib := createTestPlanner(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	approved := make(map[string]bool)
	for i := 0; i < 40; i++ {
		seg := fmt.Sprintf("seg-%02d", rng.Intn(12))
		typ := ir.AssetTypes[rng.Intn(len(ir.AssetTypes))]
		id := fmt.Sprintf("asset-%02d", i)
		res, err := lib.Register(ctx, record(id, seg, typ))
		require.NoError(t, err)
		// Only a slot's first record is a DRAFT that can be approved; later
		// ones are REVISED candidates.
		if res.Status == ir.StatusDraft && rng.Intn(2) == 0 {
			_, err := lib.Approve(ctx, id)
			require.NoError(t, err)
			approved[seg+"/"+string(typ)] = true
		}
	}

	var segs []string
	for i := 0; i < 12; i++ {
		segs = append(segs, fmt.Sprintf("seg-%02d", i))
	}
	for _, typ := range ir.AssetTypes {
		plan, err := p.GetGenerationPlan(ctx, segs, typ)
		require.NoError(t, err)
		var want []string
		for _, seg := range segs {
			if !approved[seg+"/"+string(typ)] {
				want = append(want, seg)
			}
		}
		if want == nil {
			want = []string{}
		}
		assert.Equal(t, want, plan, "type %s", typ)
	}
}

func TestPlanTasks_SkipsApprovedAndCaps(t *testing.T) {
	p, lib := createTestPlanner(t)
	approve(t, lib, record("v1", "seg-01", ir.AssetVideo))

	specs, err := p.PlanTasks(context.Background(), TaskOptions{
		PilotID:  "pilot-motion_graphics",
		Tier:     tier(t, "motion_graphics"),
		Segments: []ir.Segment{{ID: "seg-01", DurationSeconds: 10}, {ID: "seg-02", DurationSeconds: 20}, {ID: "seg-03", DurationSeconds: 30}},
		Count:    1,
		Tags:     []string{"pilot"},
	})
	require.NoError(t, err)
	require.Len(t, specs, 1)

	s := specs[0]
	assert.Equal(t, "pilot-motion_graphics/seg-02/v0/video", s.ID)
	assert.Equal(t, "seg-02", s.SegmentID)
	assert.Equal(t, ir.AssetVideo, s.AssetType)
	assert.Equal(t, "simulated", s.Provider)
	assert.Empty(t, s.SeedKey)
	assert.Equal(t, []string{"pilot"}, s.Tags)
	assert.InDelta(t, 3.0, Estimate(specs), 1e-9)
}

func TestPlanTasks_ChainsSeedImages(t *testing.T) {
	p, lib := createTestPlanner(t)
	approve(t, lib, record("img-2", "seg-02", ir.AssetImage))

	specs, err := p.PlanTasks(context.Background(), TaskOptions{
		PilotID:         "pilot-motion_graphics",
		Tier:            tier(t, "motion_graphics"),
		Segments:        []ir.Segment{{ID: "seg-01", DurationSeconds: 10}, {ID: "seg-02", DurationSeconds: 10}},
		Variations:      2,
		ChainSeedImages: true,
	})
	require.NoError(t, err)

	var ids []string
	for _, s := range specs {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{
		"pilot-motion_graphics/seg-01/v0/image",
		"pilot-motion_graphics/seg-01/v0/video",
		"pilot-motion_graphics/seg-01/v1/image",
		"pilot-motion_graphics/seg-01/v1/video",
		"pilot-motion_graphics/seg-02/v0/video",
		"pilot-motion_graphics/seg-02/v1/video",
	}, ids)

	assert.Equal(t, specs[0].SeedKey, specs[1].SeedKey)
	assert.NotEqual(t, specs[1].SeedKey, specs[3].SeedKey)
	assert.InDelta(t, DefaultSeedCostPerSecond, specs[0].CostPerSecond, 1e-12)
	assert.Equal(t, []string{"img-2"}, specs[4].Seeds, "approved image is reused as seed")

	g, err := graph.Build(specs)
	require.NoError(t, err)
	video, _ := g.Task("pilot-motion_graphics/seg-01/v0/video")
	assert.Equal(t, []string{"pilot-motion_graphics/seg-01/v0/image"}, video.DependsOn)
}

func TestPlanTasks_ChainIgnoredForImageTiers(t *testing.T) {
	p, _ := createTestPlanner(t)
	specs, err := p.PlanTasks(context.Background(), TaskOptions{
		PilotID:         "pilot-static_images",
		Tier:            tier(t, "static_images"),
		Segments:        []ir.Segment{{ID: "seg-01", DurationSeconds: 10}},
		ChainSeedImages: true,
	})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, ir.AssetImage, specs[0].AssetType)
	assert.Empty(t, specs[0].SeedKey)
}

func TestPlanTasks_Validation(t *testing.T) {
	p, _ := createTestPlanner(t)
	ctx := context.Background()
	mg := tier(t, "motion_graphics")

	_, err := p.PlanTasks(ctx, TaskOptions{Tier: mg})
	assert.ErrorContains(t, err, "pilot id")

	_, err = p.PlanTasks(ctx, TaskOptions{PilotID: "p", Tier: catalog.Tier{}})
	assert.Error(t, err)

	_, err = p.PlanTasks(ctx, TaskOptions{PilotID: "p", Tier: mg, Segments: []ir.Segment{{ID: "seg-01"}}})
	assert.ErrorContains(t, err, "duration")
}

func TestReissue_RejectedToRevised(t *testing.T) {
	p, lib := createTestPlanner(t)
	ctx := context.Background()

	rec := record("v1", "seg-01", ir.AssetVideo)
	rec.Variation = 1
	_, err := lib.Register(ctx, rec)
	require.NoError(t, err)
	_, err = lib.Reject(ctx, "v1", "jittery motion")
	require.NoError(t, err)

	r, err := p.Reissue(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", r.BaseID)
	assert.Equal(t, ir.RevisionID("v1", 1), r.NewID)
	assert.Equal(t, 1, r.Revision)
	assert.Equal(t, "seg-01", r.SegmentID)
	assert.Equal(t, ir.AssetVideo, r.Type)
	assert.Equal(t, "jittery motion", r.Reason)

	got, err := lib.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, ir.StatusRevised, got.Status)

	spec := r.TaskSpec("pilot-motion_graphics", tier(t, "motion_graphics"), 12)
	assert.Equal(t, r.NewID, spec.AssetID)
	assert.Equal(t, "v1", spec.RevisionOf)
	assert.Equal(t, 1, spec.Variation)
	assert.Equal(t, "pilot-motion_graphics/seg-01/v1/video/rev1", spec.ID)

	// The regenerated output lands as a fresh DRAFT linked to the original.
	out := record(spec.AssetID, spec.SegmentID, spec.AssetType)
	out.RevisionOf = spec.RevisionOf
	res, err := lib.Register(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusDraft, res.Status)
	assert.Equal(t, "v1", res.RevisionOf)
}

func TestReissue_RequiresRejected(t *testing.T) {
	p, lib := createTestPlanner(t)
	ctx := context.Background()

	_, err := lib.Register(ctx, record("d1", "seg-01", ir.AssetAudio))
	require.NoError(t, err)
	_, err = p.Reissue(ctx, "d1")
	require.Error(t, err)
	var te *library.TransitionError
	assert.ErrorAs(t, err, &te)

	approve(t, lib, record("a1", "seg-02", ir.AssetAudio))
	_, err = p.Reissue(ctx, "a1")
	assert.True(t, library.IsAssetLocked(err))

	_, err = p.Reissue(ctx, "missing")
	assert.True(t, library.IsNotFound(err))
}
