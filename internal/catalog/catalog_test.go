package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pilotforge/internal/ir"
)

func TestEstimatedCost_MotionGraphics(t *testing.T) {
	tier, err := Default().Get("motion_graphics")
	require.NoError(t, err)

	assert.InDelta(t, 9.00, tier.CostPerMinute(), 1e-9)
	// (60/60) * 9.00 * 1.5
	assert.InDelta(t, 13.50, tier.EstimatedCost(60), 1e-9)
	assert.True(t, tier.Viable(100, 60), "13.50 <= 80")
}

func TestViable_Boundary(t *testing.T) {
	tier := Tier{ID: "t", CostPerSecond: 1, PassThreshold: 70, AssetType: ir.AssetVideo}
	// 60s -> 60 * 1.5 = 90; 0.8 * budget must be >= 90
	assert.True(t, tier.Viable(112.5, 60))
	assert.False(t, tier.Viable(112.4, 60))
}

func TestNew_RejectsNonMonotonicThresholds(t *testing.T) {
	_, err := New([]Tier{
		{ID: "cheap", CostPerSecond: 0.1, PassThreshold: 80, AssetType: ir.AssetImage},
		{ID: "pricey", CostPerSecond: 0.5, PassThreshold: 70, AssetType: ir.AssetVideo},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lower than cheaper tier")
}

func TestNew_RejectsDuplicatesAndInvalid(t *testing.T) {
	_, err := New([]Tier{
		{ID: "a", CostPerSecond: 0.1, PassThreshold: 70, AssetType: ir.AssetImage},
		{ID: "a", CostPerSecond: 0.2, PassThreshold: 70, AssetType: ir.AssetImage},
	})
	assert.Error(t, err)

	_, err = New([]Tier{{ID: "free", CostPerSecond: 0, PassThreshold: 70, AssetType: ir.AssetImage}})
	assert.Error(t, err)

	_, err = New([]Tier{{ID: "odd", CostPerSecond: 1, PassThreshold: 120, AssetType: ir.AssetImage}})
	assert.Error(t, err)
}

func TestDefault_ThresholdsIncreaseWithCost(t *testing.T) {
	tiers := Default().List()
	require.Len(t, tiers, 3)

	assert.Equal(t, "static_images", tiers[0].ID)
	assert.Equal(t, 70.0, tiers[0].PassThreshold)
	assert.Equal(t, "photorealistic_video", tiers[2].ID)
	assert.Equal(t, 85.0, tiers[2].PassThreshold)
}

func TestResolve(t *testing.T) {
	c := Default()

	tiers, err := c.Resolve([]string{"photorealistic_video", "static_images"})
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, "static_images", tiers[0].ID, "resolved tiers are sorted by cost")

	_, err = c.Resolve([]string{"nope"})
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestParseCUE(t *testing.T) {
	src := `
tiers: {
	slideshow: {
		cost_per_second: 0.01
		pass_threshold:  65
		asset_type:      "image"
	}
	explainer: {
		cost_per_second: 0.2
		pass_threshold:  80
		asset_type:      "video"
		provider:        "replay"
	}
}
`
	c, err := ParseCUE("tiers.cue", []byte(src))
	require.NoError(t, err)

	tiers := c.List()
	require.Len(t, tiers, 2)
	assert.Equal(t, "slideshow", tiers[0].ID)
	assert.Equal(t, ir.AssetImage, tiers[0].AssetType)
	assert.Equal(t, "explainer", tiers[1].ID)
	assert.Equal(t, "replay", tiers[1].Provider)
	assert.InDelta(t, 0.2, tiers[1].CostPerSecond, 1e-9)
}

func TestParseCUE_SchemaViolation(t *testing.T) {
	src := `
tiers: broken: {
	cost_per_second: -1
	pass_threshold:  75
	asset_type:      "video"
}
`
	_, err := ParseCUE("bad.cue", []byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tier catalog")
}

func TestParseCUE_UnknownAssetType(t *testing.T) {
	src := `tiers: odd: {cost_per_second: 1, pass_threshold: 75, asset_type: "hologram"}`
	_, err := ParseCUE("bad.cue", []byte(src))
	assert.Error(t, err)
}

func TestLoadCUE_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.cue")
	require.NoError(t, os.WriteFile(path, []byte(`tiers: only: {cost_per_second: 0.05, pass_threshold: 72, asset_type: "figure"}`), 0o644))

	c, err := LoadCUE(path)
	require.NoError(t, err)
	tier, err := c.Get("only")
	require.NoError(t, err)
	assert.Equal(t, ir.AssetFigure, tier.AssetType)

	_, err = LoadCUE(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}
