package store

import (
	"strings"

	"github.com/roach88/pilotforge/internal/ir"
)

// AssetQuery filters asset records. Zero-valued fields do not filter.
// Tags must all be present on a record for it to match.
type AssetQuery struct {
	Type       ir.AssetType
	Status     ir.AssetStatus
	Segment    string
	Pilot      string
	RevisionOf string
	Tags       []string
}

// assetColumns is the SELECT list shared by every asset read. Segment
// associations are folded into a JSON array in insertion order so a single
// statement returns complete records.
const assetColumns = `
	a.id, a.asset_type, a.status, a.path, a.pilot_id, a.segment_id, a.variation,
	a.revision_of, a.tags, a.notes, a.provider, a.run_id, a.cost, a.created_at,
	(SELECT COALESCE(json_group_array(segment_id), '[]') FROM (
		SELECT segment_id FROM asset_segments WHERE asset_id = a.id ORDER BY rowid
	))`

// compile builds a parameterized SELECT for the query.
//
// Every query ends with ORDER BY seq ASC, id COLLATE BINARY ASC.
// All values are parameterized, never interpolated.
func (q AssetQuery) compile() (string, []any) {
	var (
		where  []string
		params []any
	)

	if q.Type != "" {
		where = append(where, "a.asset_type = ?")
		params = append(params, string(q.Type))
	}
	if q.Status != "" {
		where = append(where, "a.status = ?")
		params = append(params, string(q.Status))
	}
	if q.Segment != "" {
		where = append(where, `(a.segment_id = ? OR EXISTS (
			SELECT 1 FROM asset_segments s WHERE s.asset_id = a.id AND s.segment_id = ?))`)
		params = append(params, q.Segment, q.Segment)
	}
	if q.Pilot != "" {
		where = append(where, "a.pilot_id = ?")
		params = append(params, q.Pilot)
	}
	if q.RevisionOf != "" {
		where = append(where, "a.revision_of = ?")
		params = append(params, q.RevisionOf)
	}
	for _, tag := range q.Tags {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(a.tags) WHERE json_each.value = ?)")
		params = append(params, tag)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(assetColumns)
	sb.WriteString(" FROM assets a")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY a.seq ASC, a.id COLLATE BINARY ASC")
	return sb.String(), params
}
