package ir

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// AssetType is the media kind of a generated or extracted artifact.
type AssetType string

const (
	AssetAudio  AssetType = "audio"
	AssetImage  AssetType = "image"
	AssetFigure AssetType = "figure"
	AssetVideo  AssetType = "video"
)

// AssetTypes lists every asset type in manifest order.
var AssetTypes = []AssetType{AssetAudio, AssetImage, AssetFigure, AssetVideo}

// Valid reports whether t is a known asset type.
func (t AssetType) Valid() bool {
	return slices.Contains(AssetTypes, t)
}

// ParseAssetType parses a case-insensitive asset type name.
func ParseAssetType(s string) (AssetType, error) {
	t := AssetType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown asset type %q: must be one of %v", s, AssetTypes)
	}
	return t, nil
}

// AssetStatus is the review lifecycle state of an asset record.
type AssetStatus string

const (
	StatusDraft    AssetStatus = "DRAFT"
	StatusReview   AssetStatus = "REVIEW"
	StatusApproved AssetStatus = "APPROVED"
	StatusRejected AssetStatus = "REJECTED"
	StatusRevised  AssetStatus = "REVISED"
)

// AssetStatuses lists every status.
var AssetStatuses = []AssetStatus{StatusDraft, StatusReview, StatusApproved, StatusRejected, StatusRevised}

// Valid reports whether s is a known status.
func (s AssetStatus) Valid() bool {
	return slices.Contains(AssetStatuses, s)
}

// Live reports whether a record in this status still competes for its
// segment slot. Rejected and revised records do not block new candidates.
func (s AssetStatus) Live() bool {
	return s == StatusDraft || s == StatusReview || s == StatusApproved
}

// ParseAssetStatus parses a case-insensitive status name.
func ParseAssetStatus(s string) (AssetStatus, error) {
	st := AssetStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown asset status %q: must be one of %v", s, AssetStatuses)
	}
	return st, nil
}

// transitions is the asset review state machine.
// APPROVED is terminal: approval is a one-way lock.
var transitions = map[AssetStatus][]AssetStatus{
	StatusDraft:    {StatusReview, StatusApproved, StatusRejected},
	StatusReview:   {StatusApproved, StatusRejected},
	StatusRejected: {StatusRevised},
	StatusRevised:  {StatusReview},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to AssetStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Provenance records where an asset came from.
type Provenance struct {
	Provider  string    `json:"provider"`
	RunID     string    `json:"run_id"`
	Cost      float64   `json:"cost"`
	CreatedAt time.Time `json:"created_at"`
}

// AssetRecord is the Content Library's metadata for one asset.
//
// Records are created on successful task completion. Status changes only
// through the library's review workflow or the planner's re-issue path.
type AssetRecord struct {
	ID         string      `json:"asset_id"`
	Type       AssetType   `json:"type"`
	Status     AssetStatus `json:"status,omitempty"`
	Path       string      `json:"path"`
	PilotID    string      `json:"pilot_id,omitempty"`
	SegmentID  string      `json:"segment_id"`
	Variation  int         `json:"variation"`
	Segments   []string    `json:"segment_associations,omitempty"`
	RevisionOf string      `json:"revision_of,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	Notes      string      `json:"notes,omitempty"`
	Provenance Provenance  `json:"provenance"`
}

// AssociatedWith reports whether the record covers the given segment,
// either as its primary segment or through its associations.
func (r AssetRecord) AssociatedWith(segmentID string) bool {
	return r.SegmentID == segmentID || slices.Contains(r.Segments, segmentID)
}

// HasTags reports whether the record carries every tag in tags.
func (r AssetRecord) HasTags(tags []string) bool {
	for _, t := range tags {
		if !slices.Contains(r.Tags, t) {
			return false
		}
	}
	return true
}

// Validate checks the fields required for registration.
func (r AssetRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("asset record: id is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("asset record %s: invalid type %q", r.ID, r.Type)
	}
	if r.SegmentID == "" {
		return fmt.Errorf("asset record %s: segment_id is required", r.ID)
	}
	if r.Status != "" && !r.Status.Valid() {
		return fmt.Errorf("asset record %s: invalid status %q", r.ID, r.Status)
	}
	if r.Provenance.Cost < 0 {
		return fmt.Errorf("asset record %s: negative cost %v", r.ID, r.Provenance.Cost)
	}
	return nil
}

// Segment is one unit of the production script: a span of output that
// needs one asset per type.
type Segment struct {
	ID              string   `json:"id" yaml:"id"`
	DurationSeconds float64  `json:"duration_seconds" yaml:"duration_seconds"`
	Tags            []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// TotalDuration sums the duration of segments.
func TotalDuration(segments []Segment) float64 {
	var sum float64
	for _, s := range segments {
		sum += s.DurationSeconds
	}
	return sum
}
