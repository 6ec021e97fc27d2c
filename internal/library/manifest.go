package library

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/roach88/pilotforge/internal/ir"
)

// Manifest is the portable asset registry file: one entry per segment with
// at most one record per asset type.
type Manifest struct {
	Version  string                   `json:"version"`
	Segments map[string]ManifestEntry `json:"segments"`
}

// ManifestEntry holds the records chosen for one segment.
type ManifestEntry struct {
	Audio  *ir.AssetRecord `json:"audio,omitempty"`
	Image  *ir.AssetRecord `json:"image,omitempty"`
	Figure *ir.AssetRecord `json:"figure,omitempty"`
	Video  *ir.AssetRecord `json:"video,omitempty"`
	Status ir.AssetStatus  `json:"status,omitempty"`
	Notes  string          `json:"notes,omitempty"`
}

// Record returns the entry's record for an asset type, or nil.
func (e *ManifestEntry) Record(t ir.AssetType) *ir.AssetRecord {
	switch t {
	case ir.AssetAudio:
		return e.Audio
	case ir.AssetImage:
		return e.Image
	case ir.AssetFigure:
		return e.Figure
	case ir.AssetVideo:
		return e.Video
	}
	return nil
}

func (e *ManifestEntry) set(t ir.AssetType, rec *ir.AssetRecord) {
	switch t {
	case ir.AssetAudio:
		e.Audio = rec
	case ir.AssetImage:
		e.Image = rec
	case ir.AssetFigure:
		e.Figure = rec
	case ir.AssetVideo:
		e.Video = rec
	}
}

// records returns the entry's records in asset type order.
func (e *ManifestEntry) records() []*ir.AssetRecord {
	var out []*ir.AssetRecord
	for _, t := range ir.AssetTypes {
		if rec := e.Record(t); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// statusRank orders statuses from least to most settled. The entry status
// is the least settled status among its records.
var statusRank = map[ir.AssetStatus]int{
	ir.StatusRejected: 0,
	ir.StatusRevised:  1,
	ir.StatusDraft:    2,
	ir.StatusReview:   3,
	ir.StatusApproved: 4,
}

// SlotPreference ranks how strongly a record in status s claims its
// segment slot; lower wins.
func SlotPreference(s ir.AssetStatus) int {
	if rank, ok := slotPreference[s]; ok {
		return rank
	}
	return len(slotPreference)
}

var slotPreference = map[ir.AssetStatus]int{
	ir.StatusApproved: 0,
	ir.StatusReview:   1,
	ir.StatusDraft:    2,
	ir.StatusRevised:  3,
	ir.StatusRejected: 4,
}

// BuildManifest selects, for every segment and type, the record that holds
// the slot: APPROVED first, then REVIEW, DRAFT, REVISED, REJECTED; ties go
// to the earliest registered record.
func (l *Library) BuildManifest(ctx context.Context) (Manifest, error) {
	recs, err := l.store.QueryAssets(ctx, Query{})
	if err != nil {
		return Manifest{}, fmt.Errorf("build manifest: %w", err)
	}

	m := Manifest{Version: ir.ManifestVersion, Segments: make(map[string]ManifestEntry)}
	for i := range recs {
		rec := recs[i]
		entry := m.Segments[rec.SegmentID]
		cur := entry.Record(rec.Type)
		if cur == nil || SlotPreference(rec.Status) < SlotPreference(cur.Status) {
			entry.set(rec.Type, &rec)
		}
		m.Segments[rec.SegmentID] = entry
	}

	for seg, entry := range m.Segments {
		entry.Status = ir.StatusApproved
		for _, rec := range entry.records() {
			if statusRank[rec.Status] < statusRank[entry.Status] {
				entry.Status = rec.Status
			}
			if entry.Notes == "" && rec.Notes != "" {
				entry.Notes = rec.Notes
			}
		}
		m.Segments[seg] = entry
	}
	return m, nil
}

// ExportManifest writes the current manifest as indented JSON.
// Segment keys are sorted by encoding/json, so output is deterministic.
func (l *Library) ExportManifest(ctx context.Context, w io.Writer) error {
	m, err := l.BuildManifest(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("export manifest: %w", err)
	}
	return nil
}

// ParseManifest decodes a manifest and upgrades legacy files.
//
// A v1 file either has no version or version "v1", and may be a bare
// segment map without the "segments" wrapper. Its records carry no status;
// they are upgraded to APPROVED since v1 only ever stored accepted output.
func ParseManifest(r io.Reader) (Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var head struct {
		Version  string          `json:"version"`
		Segments json.RawMessage `json:"segments"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}

	body := head.Segments
	if len(bytes.TrimSpace(body)) == 0 {
		if head.Version != "" {
			return Manifest{Version: ir.ManifestVersion, Segments: map[string]ManifestEntry{}}, nil
		}
		body = data
	}

	var segments map[string]ManifestEntry
	if err := json.Unmarshal(body, &segments); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest segments: %w", err)
	}

	version := head.Version
	if version == "" {
		version = ir.LegacyManifestVersion
	}
	switch version {
	case ir.LegacyManifestVersion, ir.ManifestVersion:
	default:
		return Manifest{}, fmt.Errorf("unsupported manifest version %q", version)
	}

	m := Manifest{Version: ir.ManifestVersion, Segments: make(map[string]ManifestEntry, len(segments))}
	for seg, entry := range segments {
		for _, t := range ir.AssetTypes {
			rec := entry.Record(t)
			if rec == nil {
				continue
			}
			upgraded := *rec
			upgraded.Type = t
			if upgraded.SegmentID == "" {
				upgraded.SegmentID = seg
			}
			if upgraded.Status == "" {
				upgraded.Status = defaultImportStatus(version, entry.Status)
			}
			if upgraded.Notes == "" {
				upgraded.Notes = entry.Notes
			}
			entry.set(t, &upgraded)
		}
		if version == ir.LegacyManifestVersion || entry.Status == "" {
			entry.Status = ir.StatusApproved
			for _, rec := range entry.records() {
				if statusRank[rec.Status] < statusRank[entry.Status] {
					entry.Status = rec.Status
				}
			}
		}
		m.Segments[seg] = entry
	}

	if version == ir.LegacyManifestVersion {
		slog.Info("manifest upgraded", "from", version, "to", ir.ManifestVersion, "segments", len(m.Segments))
	}
	return m, nil
}

func defaultImportStatus(version string, entryStatus ir.AssetStatus) ir.AssetStatus {
	if version == ir.ManifestVersion && entryStatus.Valid() {
		return entryStatus
	}
	return ir.StatusApproved
}

// ImportResult counts the outcome of a manifest import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Skips    []string `json:"skipped_ids,omitempty"`
}

// ImportManifest reads a manifest (upgrading v1 files) and restores its
// records. Records already APPROVED locally are skipped.
func (l *Library) ImportManifest(ctx context.Context, r io.Reader) (ImportResult, error) {
	m, err := ParseManifest(r)
	if err != nil {
		return ImportResult{}, err
	}

	segs := make([]string, 0, len(m.Segments))
	for seg := range m.Segments {
		segs = append(segs, seg)
	}
	sort.Strings(segs)

	var res ImportResult
	for _, seg := range segs {
		entry := m.Segments[seg]
		for _, rec := range entry.records() {
			ok, err := l.importRecord(ctx, *rec)
			if err != nil {
				return res, fmt.Errorf("import %s/%s: %w", seg, rec.Type, err)
			}
			if ok {
				res.Imported++
			} else {
				res.Skipped++
				res.Skips = append(res.Skips, rec.ID)
			}
		}
	}
	l.invalidateApproved()
	return res, nil
}

func (l *Library) importRecord(ctx context.Context, rec ir.AssetRecord) (bool, error) {
	unlock := l.lock(rec.ID)
	defer unlock()

	ok, err := l.store.ImportAsset(ctx, rec, l.now())
	l.records.Remove(rec.ID)
	return ok, err
}
