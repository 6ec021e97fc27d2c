package library

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pilotforge/internal/ir"
)

const legacyManifest = `{
  "seg-1": {
    "audio": {"asset_id": "aud-1", "path": "file:///a/1.wav", "segment_id": "seg-1"},
    "video": {"asset_id": "vid-1", "path": "file:///v/1.mp4"},
    "notes": "narration locked"
  },
  "seg-2": {
    "image": {"asset_id": "img-2", "path": "file:///i/2.png", "segment_id": "seg-2"}
  }
}`

func TestParseManifest_UpgradesV1(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(legacyManifest))
	require.NoError(t, err)

	assert.Equal(t, ir.ManifestVersion, m.Version)
	require.Len(t, m.Segments, 2)

	seg1 := m.Segments["seg-1"]
	require.NotNil(t, seg1.Audio)
	require.NotNil(t, seg1.Video)
	assert.Equal(t, ir.StatusApproved, seg1.Audio.Status)
	assert.Equal(t, ir.StatusApproved, seg1.Video.Status)
	assert.Equal(t, ir.AssetVideo, seg1.Video.Type)
	assert.Equal(t, "seg-1", seg1.Video.SegmentID, "segment filled from the map key")
	assert.Equal(t, "narration locked", seg1.Video.Notes)
	assert.Equal(t, ir.StatusApproved, seg1.Status)
}

func TestParseManifest_V2KeepsStatus(t *testing.T) {
	src := `{"version":"v2","segments":{"seg-1":{"video":{"asset_id":"v","type":"video","status":"REVIEW","path":"p","segment_id":"seg-1"},"status":"REVIEW"}}}`
	m, err := ParseManifest(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, ir.StatusReview, m.Segments["seg-1"].Video.Status)
}

func TestParseManifest_UnknownVersion(t *testing.T) {
	_, err := ParseManifest(strings.NewReader(`{"version":"v9","segments":{}}`))
	assert.Error(t, err)
}

func TestImportManifest_ThenBuildPlanable(t *testing.T) {
	lib := createTestLibrary(t)
	ctx := context.Background()

	res, err := lib.ImportManifest(ctx, strings.NewReader(legacyManifest))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Imported)

	ok, err := lib.HasApprovedAssetFor(ctx, "seg-1", ir.AssetVideo)
	require.NoError(t, err)
	assert.True(t, ok)

	res, err = lib.ImportManifest(ctx, strings.NewReader(legacyManifest))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 3, res.Skipped, "approved records are never overwritten")
}

func TestExportManifest_RoundTrip(t *testing.T) {
	lib := createTestLibrary(t)
	ctx := context.Background()

	_, err := lib.Register(ctx, testRecord("v1", "seg-1", ir.AssetVideo))
	require.NoError(t, err)
	_, err = lib.Register(ctx, testRecord("i1", "seg-1", ir.AssetImage))
	require.NoError(t, err)
	// Loses the slot to v1, so it is not exported.
	_, err = lib.Register(ctx, testRecord("v2", "seg-1", ir.AssetVideo))
	require.NoError(t, err)
	_, err = lib.Approve(ctx, "v1")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, lib.ExportManifest(ctx, &buf))

	m, err := ParseManifest(&buf)
	require.NoError(t, err)
	want, err := lib.BuildManifest(ctx)
	require.NoError(t, err)

	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("manifest round trip mismatch (-want +got):\n%s", diff)
	}

	entry := m.Segments["seg-1"]
	assert.Equal(t, "v1", entry.Video.ID)
	assert.Equal(t, ir.StatusDraft, entry.Status, "entry status is the least settled record")
}
