package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to AssetStatus
		want     bool
	}{
		{StatusDraft, StatusReview, true},
		{StatusDraft, StatusApproved, true},
		{StatusDraft, StatusRejected, true},
		{StatusReview, StatusApproved, true},
		{StatusReview, StatusRejected, true},
		{StatusRejected, StatusRevised, true},
		{StatusRevised, StatusReview, true},

		{StatusApproved, StatusRejected, false},
		{StatusApproved, StatusDraft, false},
		{StatusApproved, StatusRevised, false},
		{StatusRejected, StatusApproved, false},
		{StatusRevised, StatusApproved, false},
		{StatusReview, StatusDraft, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseAssetType(t *testing.T) {
	typ, err := ParseAssetType(" Video ")
	require.NoError(t, err)
	assert.Equal(t, AssetVideo, typ)

	_, err = ParseAssetType("hologram")
	assert.Error(t, err)
}

func TestParseAssetStatus(t *testing.T) {
	st, err := ParseAssetStatus("approved")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, st)

	_, err = ParseAssetStatus("DONE")
	assert.Error(t, err)
}

func TestAssetStatusLive(t *testing.T) {
	assert.True(t, StatusDraft.Live())
	assert.True(t, StatusReview.Live())
	assert.True(t, StatusApproved.Live())
	assert.False(t, StatusRejected.Live())
	assert.False(t, StatusRevised.Live())
}

func TestAssetRecordValidate(t *testing.T) {
	rec := AssetRecord{ID: "a1", Type: AssetImage, SegmentID: "seg-01"}
	require.NoError(t, rec.Validate())

	bad := rec
	bad.ID = ""
	assert.Error(t, bad.Validate())

	bad = rec
	bad.Type = "hologram"
	assert.Error(t, bad.Validate())

	bad = rec
	bad.SegmentID = ""
	assert.Error(t, bad.Validate())

	bad = rec
	bad.Provenance.Cost = -1
	assert.Error(t, bad.Validate())
}

func TestAssetRecordAssociations(t *testing.T) {
	rec := AssetRecord{SegmentID: "seg-01", Segments: []string{"seg-02"}, Tags: []string{"intro", "hero"}}

	assert.True(t, rec.AssociatedWith("seg-01"))
	assert.True(t, rec.AssociatedWith("seg-02"))
	assert.False(t, rec.AssociatedWith("seg-03"))

	assert.True(t, rec.HasTags(nil))
	assert.True(t, rec.HasTags([]string{"hero"}))
	assert.False(t, rec.HasTags([]string{"hero", "outro"}))
}

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"b": 1, "a": "x<y", "c": []string{"z"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x<y","b":1,"c":["z"]}`, string(out))
}

func TestMarshalCanonicalRejectsFloatsAndNull(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"cost": 1.5})
	assert.Error(t, err)
	_, err = MarshalCanonical(nil)
	assert.Error(t, err)
}
