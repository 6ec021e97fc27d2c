package planner

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/library"
)

// BuildOptions selects what goes into an assembly plan.
type BuildOptions struct {
	// Segments to assemble, in order. Empty means every segment with a
	// record, sorted by id.
	Segments []string
	// Types each segment must have. Empty means the types recorded for it.
	Types []ir.AssetType
	// OnlyApproved excludes every record that is not APPROVED.
	OnlyApproved bool
}

// PlanEntry is the chosen asset per type for one segment.
type PlanEntry struct {
	SegmentID string                          `json:"segment_id"`
	Assets    map[ir.AssetType]ir.AssetRecord `json:"assets"`
}

// Missing names a segment/type pair with no usable record.
type Missing struct {
	SegmentID string       `json:"segment_id"`
	Type      ir.AssetType `json:"type"`
	// Best is the status of the best record that was excluded, if any.
	Best ir.AssetStatus `json:"best_status,omitempty"`
}

// AssemblyPlan is the executable plan for assembling the production.
type AssemblyPlan struct {
	OnlyApproved bool        `json:"only_approved"`
	Segments     []PlanEntry `json:"segments"`
	Missing      []Missing   `json:"missing,omitempty"`
}

// Complete reports whether every required asset was found.
func (p AssemblyPlan) Complete() bool {
	return len(p.Missing) == 0
}

// BuildPlan picks an asset per segment and type. Without OnlyApproved the
// record holding the slot wins, as in the manifest; rejected records are
// never used.
func (p *Planner) BuildPlan(ctx context.Context, opts BuildOptions) (AssemblyPlan, error) {
	segments := opts.Segments
	if len(segments) == 0 {
		all, err := p.lib.Query(ctx, library.Query{})
		if err != nil {
			return AssemblyPlan{}, fmt.Errorf("build plan: %w", err)
		}
		seen := make(map[string]bool)
		for _, rec := range all {
			if !seen[rec.SegmentID] {
				seen[rec.SegmentID] = true
				segments = append(segments, rec.SegmentID)
			}
		}
		sort.Strings(segments)
	}

	plan := AssemblyPlan{OnlyApproved: opts.OnlyApproved, Segments: []PlanEntry{}}
	done := make(map[string]bool, len(segments))
	for _, seg := range segments {
		if done[seg] {
			continue
		}
		done[seg] = true

		recs, err := p.lib.Query(ctx, library.Query{Segment: seg})
		if err != nil {
			return AssemblyPlan{}, fmt.Errorf("build plan %s: %w", seg, err)
		}

		best := make(map[ir.AssetType]ir.AssetRecord)
		for _, rec := range recs {
			cur, ok := best[rec.Type]
			if !ok || library.SlotPreference(rec.Status) < library.SlotPreference(cur.Status) {
				best[rec.Type] = rec
			}
		}

		types := opts.Types
		if len(types) == 0 {
			for _, t := range ir.AssetTypes {
				if _, ok := best[t]; ok {
					types = append(types, t)
				}
			}
		}

		entry := PlanEntry{SegmentID: seg, Assets: make(map[ir.AssetType]ir.AssetRecord)}
		for _, t := range types {
			rec, ok := best[t]
			switch {
			case !ok:
				plan.Missing = append(plan.Missing, Missing{SegmentID: seg, Type: t})
			case rec.Status == ir.StatusRejected,
				opts.OnlyApproved && rec.Status != ir.StatusApproved:
				plan.Missing = append(plan.Missing, Missing{SegmentID: seg, Type: t, Best: rec.Status})
			default:
				entry.Assets[t] = rec
			}
		}
		plan.Segments = append(plan.Segments, entry)
	}
	return plan, nil
}
