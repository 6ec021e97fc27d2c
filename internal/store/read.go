package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/pilotforge/internal/ir"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// AssetEvent is one recorded status transition.
type AssetEvent struct {
	Seq     int64          `json:"seq"`
	AssetID string         `json:"asset_id"`
	From    ir.AssetStatus `json:"from"`
	To      ir.AssetStatus `json:"to"`
	Reason  string         `json:"reason,omitempty"`
	At      time.Time      `json:"at"`
}

// GetAsset returns the record with the given id.
// Returns ErrNotFound if no such record exists.
func (s *Store) GetAsset(ctx context.Context, id string) (ir.AssetRecord, error) {
	return getAsset(ctx, s.db, id)
}

func getAsset(ctx context.Context, q querier, id string) (ir.AssetRecord, error) {
	row := q.QueryRowContext(ctx, "SELECT "+assetColumns+" FROM assets a WHERE a.id = ?", id)
	rec, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.AssetRecord{}, fmt.Errorf("%w: asset %s", ErrNotFound, id)
	}
	if err != nil {
		return ir.AssetRecord{}, fmt.Errorf("get asset %s: %w", id, err)
	}
	return rec, nil
}

// QueryAssets returns records matching the query in insertion order.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) QueryAssets(ctx context.Context, query AssetQuery) ([]ir.AssetRecord, error) {
	return queryAssets(ctx, s.db, query)
}

func queryAssets(ctx context.Context, q querier, query AssetQuery) ([]ir.AssetRecord, error) {
	sqlText, params := query.compile()
	rows, err := q.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	records := []ir.AssetRecord{}
	for rows.Next() {
		rec, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return records, nil
}

// CountRevisions returns the number of records whose revision_of is baseID.
func (s *Store) CountRevisions(ctx context.Context, baseID string) (int, error) {
	return countRevisions(ctx, s.db, baseID)
}

func countRevisions(ctx context.Context, q querier, baseID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets WHERE revision_of = ?", baseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count revisions of %s: %w", baseID, err)
	}
	return n, nil
}

// ListEvents returns the status transitions recorded for an asset, oldest
// first. An empty assetID lists every event.
func (s *Store) ListEvents(ctx context.Context, assetID string) ([]AssetEvent, error) {
	query := `SELECT seq, asset_id, from_status, to_status, reason, at FROM asset_events`
	var params []any
	if assetID != "" {
		query += " WHERE asset_id = ?"
		params = append(params, assetID)
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []AssetEvent{}
	for rows.Next() {
		var (
			ev       AssetEvent
			from, to string
			at       string
		)
		if err := rows.Scan(&ev.Seq, &ev.AssetID, &from, &to, &ev.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.From = ir.AssetStatus(from)
		ev.To = ir.AssetStatus(to)
		if ev.At, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// scanAsset reads one row selected with assetColumns.
func scanAsset(row rowScanner) (ir.AssetRecord, error) {
	var (
		rec                ir.AssetRecord
		assetType, status  string
		tagsJSON, segsJSON string
		createdAt          string
	)
	err := row.Scan(
		&rec.ID, &assetType, &status, &rec.Path, &rec.PilotID, &rec.SegmentID, &rec.Variation,
		&rec.RevisionOf, &tagsJSON, &rec.Notes, &rec.Provenance.Provider, &rec.Provenance.RunID,
		&rec.Provenance.Cost, &createdAt, &segsJSON,
	)
	if err != nil {
		return ir.AssetRecord{}, err
	}

	rec.Type = ir.AssetType(assetType)
	rec.Status = ir.AssetStatus(status)
	if rec.Tags, err = unmarshalStrings(tagsJSON); err != nil {
		return ir.AssetRecord{}, fmt.Errorf("asset %s: %w", rec.ID, err)
	}
	if rec.Segments, err = unmarshalStrings(segsJSON); err != nil {
		return ir.AssetRecord{}, fmt.Errorf("asset %s: %w", rec.ID, err)
	}
	if rec.Provenance.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.AssetRecord{}, fmt.Errorf("asset %s: %w", rec.ID, err)
	}
	return rec, nil
}
