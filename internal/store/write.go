package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/pilotforge/internal/ir"
)

// RegisterOutcome describes how RegisterAsset stored a record.
type RegisterOutcome string

const (
	// OutcomeInserted: a new record stored as DRAFT.
	OutcomeInserted RegisterOutcome = "inserted"
	// OutcomeReplaced: an existing unapproved record's content was replaced.
	OutcomeReplaced RegisterOutcome = "replaced"
	// OutcomeRevision: the existing record was REJECTED; it moved to REVISED
	// and the new content was stored under a revision id.
	OutcomeRevision RegisterOutcome = "revision"
	// OutcomeCandidate: another live record already holds the segment slot
	// for this type, so the new record was stored as a REVISED candidate.
	OutcomeCandidate RegisterOutcome = "candidate"
)

// RegisterResult reports where and how a record was stored.
type RegisterResult struct {
	ID         string
	Status     ir.AssetStatus
	RevisionOf string
	Outcome    RegisterOutcome
}

// RegisterAsset stores a record produced by a task. All rules are applied
// inside one transaction, so concurrent registrations for the same segment
// are serialized and the first one to commit holds the slot.
//
// Rules, by the state of any existing record with the same id:
//   - APPROVED: fails with ErrAssetLocked, nothing is written
//   - REJECTED: the record moves to REVISED and the new content is inserted
//     as DRAFT under RevisionID(id, n+1) with revision_of = id
//   - DRAFT or REVIEW: content replaced, status reset to DRAFT
//   - REVISED: content replaced, status stays REVISED
//
// A new id is stored as DRAFT unless another live record exists for the same
// segment and type, in which case it is stored as REVISED with revision_of
// pointing at the slot holder (or its own revision_of when set).
func (s *Store) RegisterAsset(ctx context.Context, rec ir.AssetRecord, now time.Time) (RegisterResult, error) {
	if err := rec.Validate(); err != nil {
		return RegisterResult{}, fmt.Errorf("register asset: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("register asset: begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := getAsset(ctx, tx, rec.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		// handled below
	case err != nil:
		return RegisterResult{}, fmt.Errorf("register asset: %w", err)
	}

	var result RegisterResult
	if err == nil {
		result, err = registerOverExisting(ctx, tx, existing, rec, now)
	} else {
		result, err = registerNew(ctx, tx, rec)
	}
	if err != nil {
		return RegisterResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return RegisterResult{}, fmt.Errorf("register asset: commit: %w", err)
	}
	return result, nil
}

func registerOverExisting(ctx context.Context, q querier, existing, rec ir.AssetRecord, now time.Time) (RegisterResult, error) {
	switch existing.Status {
	case ir.StatusApproved:
		return RegisterResult{}, fmt.Errorf("register asset %s: %w", rec.ID, ErrAssetLocked)

	case ir.StatusRejected:
		if err := setStatus(ctx, q, existing.ID, existing.Status, ir.StatusRevised, "superseded by new output", now); err != nil {
			return RegisterResult{}, err
		}
		n, err := countRevisions(ctx, q, existing.ID)
		if err != nil {
			return RegisterResult{}, err
		}
		revID, err := freeRevisionID(ctx, q, existing.ID, n+1)
		if err != nil {
			return RegisterResult{}, err
		}
		rev := rec
		rev.ID = revID
		rev.RevisionOf = existing.ID
		rev.Status = ir.StatusDraft
		if err := insertAsset(ctx, q, rev); err != nil {
			return RegisterResult{}, err
		}
		return RegisterResult{ID: rev.ID, Status: rev.Status, RevisionOf: rev.RevisionOf, Outcome: OutcomeRevision}, nil

	case ir.StatusRevised:
		rec.Status = ir.StatusRevised
	default:
		rec.Status = ir.StatusDraft
	}

	if rec.RevisionOf == "" {
		rec.RevisionOf = existing.RevisionOf
	}
	if err := replaceAsset(ctx, q, rec); err != nil {
		return RegisterResult{}, err
	}
	if existing.Status != rec.Status {
		if err := appendEvent(ctx, q, rec.ID, existing.Status, rec.Status, "re-registered", now); err != nil {
			return RegisterResult{}, err
		}
	}
	return RegisterResult{ID: rec.ID, Status: rec.Status, RevisionOf: rec.RevisionOf, Outcome: OutcomeReplaced}, nil
}

func registerNew(ctx context.Context, q querier, rec ir.AssetRecord) (RegisterResult, error) {
	holder, found, err := liveSlotHolder(ctx, q, rec.SegmentID, rec.Type)
	if err != nil {
		return RegisterResult{}, err
	}

	outcome := OutcomeInserted
	rec.Status = ir.StatusDraft
	if found {
		outcome = OutcomeCandidate
		rec.Status = ir.StatusRevised
		if rec.RevisionOf == "" {
			rec.RevisionOf = holder.ID
		}
	}

	if err := insertAsset(ctx, q, rec); err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{ID: rec.ID, Status: rec.Status, RevisionOf: rec.RevisionOf, Outcome: outcome}, nil
}

// liveSlotHolder returns the earliest live record for segment and type.
func liveSlotHolder(ctx context.Context, q querier, segmentID string, assetType ir.AssetType) (ir.AssetRecord, bool, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+assetColumns+` FROM assets a
		WHERE a.segment_id = ? AND a.asset_type = ? AND a.status IN (?, ?, ?)
		ORDER BY a.seq ASC, a.id COLLATE BINARY ASC
		LIMIT 1`,
		segmentID, string(assetType),
		string(ir.StatusDraft), string(ir.StatusReview), string(ir.StatusApproved))
	if err != nil {
		return ir.AssetRecord{}, false, fmt.Errorf("query slot holder: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return ir.AssetRecord{}, false, rows.Err()
	}
	rec, err := scanAsset(rows)
	if err != nil {
		return ir.AssetRecord{}, false, err
	}
	return rec, true, nil
}

// freeRevisionID returns the first revision id at or after n that is unused.
func freeRevisionID(ctx context.Context, q querier, baseID string, n int) (string, error) {
	for ; ; n++ {
		id := ir.RevisionID(baseID, n)
		var exists int
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets WHERE id = ?", id).Scan(&exists); err != nil {
			return "", fmt.Errorf("check revision id: %w", err)
		}
		if exists == 0 {
			return id, nil
		}
	}
}

// TransitionStatus moves a record along the review state machine and
// returns the updated record. Approved records are locked.
func (s *Store) TransitionStatus(ctx context.Context, id string, to ir.AssetStatus, reason string, now time.Time) (ir.AssetRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.AssetRecord{}, fmt.Errorf("transition %s: begin: %w", id, err)
	}
	defer tx.Rollback()

	rec, err := getAsset(ctx, tx, id)
	if err != nil {
		return ir.AssetRecord{}, err
	}
	if rec.Status == ir.StatusApproved {
		return ir.AssetRecord{}, fmt.Errorf("transition %s to %s: %w", id, to, ErrAssetLocked)
	}
	if !ir.CanTransition(rec.Status, to) {
		return ir.AssetRecord{}, fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidTransition, id, rec.Status, to)
	}
	if err := setStatus(ctx, tx, id, rec.Status, to, reason, now); err != nil {
		return ir.AssetRecord{}, err
	}
	if to == ir.StatusRejected && reason != "" {
		if _, err := tx.ExecContext(ctx, "UPDATE assets SET notes = ? WHERE id = ?", reason, id); err != nil {
			return ir.AssetRecord{}, fmt.Errorf("transition %s: notes: %w", id, err)
		}
		rec.Notes = reason
	}

	if err := tx.Commit(); err != nil {
		return ir.AssetRecord{}, fmt.Errorf("transition %s: commit: %w", id, err)
	}
	rec.Status = to
	return rec, nil
}

// ImportAsset restores a record from a manifest with its recorded status.
// Records already APPROVED locally are left untouched and reported as not
// imported. Imports are not review transitions, so no event is written
// unless an existing record's status changes.
func (s *Store) ImportAsset(ctx context.Context, rec ir.AssetRecord, now time.Time) (bool, error) {
	if rec.Status == "" {
		rec.Status = ir.StatusApproved
	}
	if err := rec.Validate(); err != nil {
		return false, fmt.Errorf("import asset: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("import asset: begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := getAsset(ctx, tx, rec.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := insertAsset(ctx, tx, rec); err != nil {
			return false, err
		}
	case err != nil:
		return false, fmt.Errorf("import asset: %w", err)
	case existing.Status == ir.StatusApproved:
		return false, nil
	default:
		if err := replaceAsset(ctx, tx, rec); err != nil {
			return false, err
		}
		if existing.Status != rec.Status {
			if err := appendEvent(ctx, tx, rec.ID, existing.Status, rec.Status, "imported", now); err != nil {
				return false, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("import asset: commit: %w", err)
	}
	return true, nil
}

func insertAsset(ctx context.Context, q querier, rec ir.AssetRecord) error {
	tagsJSON, err := marshalTags(rec.Tags)
	if err != nil {
		return fmt.Errorf("insert asset %s: %w", rec.ID, err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO assets
		(id, asset_type, status, path, pilot_id, segment_id, variation, revision_of,
		 tags, notes, provider, run_id, cost, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM assets))
	`,
		rec.ID, string(rec.Type), string(rec.Status), rec.Path, rec.PilotID, rec.SegmentID,
		rec.Variation, rec.RevisionOf, tagsJSON, rec.Notes, rec.Provenance.Provider,
		rec.Provenance.RunID, rec.Provenance.Cost, formatTime(rec.Provenance.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert asset %s: %w", rec.ID, err)
	}
	return writeSegments(ctx, q, rec)
}

// replaceAsset overwrites a record's content in place. seq is kept so the
// record's position in listings does not move.
func replaceAsset(ctx context.Context, q querier, rec ir.AssetRecord) error {
	tagsJSON, err := marshalTags(rec.Tags)
	if err != nil {
		return fmt.Errorf("replace asset %s: %w", rec.ID, err)
	}

	_, err = q.ExecContext(ctx, `
		UPDATE assets SET
			asset_type = ?, status = ?, path = ?, pilot_id = ?, segment_id = ?, variation = ?,
			revision_of = ?, tags = ?, notes = ?, provider = ?, run_id = ?, cost = ?, created_at = ?
		WHERE id = ?
	`,
		string(rec.Type), string(rec.Status), rec.Path, rec.PilotID, rec.SegmentID, rec.Variation,
		rec.RevisionOf, tagsJSON, rec.Notes, rec.Provenance.Provider, rec.Provenance.RunID,
		rec.Provenance.Cost, formatTime(rec.Provenance.CreatedAt), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("replace asset %s: %w", rec.ID, err)
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM asset_segments WHERE asset_id = ?", rec.ID); err != nil {
		return fmt.Errorf("replace asset %s: segments: %w", rec.ID, err)
	}
	return writeSegments(ctx, q, rec)
}

func writeSegments(ctx context.Context, q querier, rec ir.AssetRecord) error {
	for _, seg := range rec.Segments {
		if seg == "" {
			continue
		}
		_, err := q.ExecContext(ctx,
			"INSERT INTO asset_segments (asset_id, segment_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
			rec.ID, seg)
		if err != nil {
			return fmt.Errorf("write segment %s for %s: %w", seg, rec.ID, err)
		}
	}
	return nil
}

func setStatus(ctx context.Context, q querier, id string, from, to ir.AssetStatus, reason string, now time.Time) error {
	if _, err := q.ExecContext(ctx, "UPDATE assets SET status = ? WHERE id = ?", string(to), id); err != nil {
		return fmt.Errorf("set status %s: %w", id, err)
	}
	return appendEvent(ctx, q, id, from, to, reason, now)
}

func appendEvent(ctx context.Context, q querier, id string, from, to ir.AssetStatus, reason string, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO asset_events (asset_id, from_status, to_status, reason, at)
		VALUES (?, ?, ?, ?, ?)
	`, id, string(from), string(to), reason, formatTime(now))
	if err != nil {
		return fmt.Errorf("append event %s: %w", id, err)
	}
	return nil
}
