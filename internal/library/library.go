// Package library is the Content Library: the persistent registry of
// generated assets and their review lifecycle.
//
// Reads go through an LRU cache in front of the SQLite store. Writes are
// serialized per asset id and invalidate the cache entries they touch.
// Approved records are immutable.
package library

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/store"
)

const (
	defaultCacheSize = 1024
	lockStripes      = 64
)

// Query filters asset records; see store.AssetQuery.
type Query = store.AssetQuery

// Library wraps the store with caching and per-asset write serialization.
type Library struct {
	store *store.Store
	now   func() time.Time

	records  *lru.Cache[string, ir.AssetRecord]
	approved *lru.Cache[string, bool]

	// approvedMu orders cache fills against invalidations: a fill whose
	// read started before the last invalidation is dropped.
	approvedMu  sync.Mutex
	approvedGen uint64
	// afterApprovedRead runs between the store read and the cache fill.
	afterApprovedRead func()

	locks [lockStripes]sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Library.
type Option func(*Library)

// WithClock sets the wall clock used to stamp status events.
func WithClock(now func() time.Time) Option {
	return func(l *Library) {
		l.now = now
	}
}

// New creates a library over an open store.
func New(s *store.Store, opts ...Option) (*Library, error) {
	records, err := lru.New[string, ir.AssetRecord](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create record cache: %w", err)
	}
	approved, err := lru.New[string, bool](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create approval cache: %w", err)
	}

	l := &Library{
		store:    s,
		now:      time.Now,
		records:  records,
		approved: approved,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Store returns the underlying store.
func (l *Library) Store() *store.Store {
	return l.store
}

// CacheStats returns read cache hits and misses since creation.
func (l *Library) CacheStats() (hits, misses int64) {
	return l.hits.Load(), l.misses.Load()
}

// Register stores a record produced by a task and returns where it landed.
// The returned id differs from rec.ID when the record became a revision of
// a rejected asset. Registering over an APPROVED record fails with
// AssetLockedError.
func (l *Library) Register(ctx context.Context, rec ir.AssetRecord) (store.RegisterResult, error) {
	unlock := l.lock(rec.ID)
	defer unlock()

	res, err := l.store.RegisterAsset(ctx, rec, l.now())
	if err != nil {
		return store.RegisterResult{}, classify(rec.ID, "", err)
	}
	l.records.Remove(rec.ID)
	l.records.Remove(res.ID)

	slog.Debug("asset registered",
		"asset", res.ID,
		"segment", rec.SegmentID,
		"type", rec.Type,
		"status", res.Status,
		"outcome", res.Outcome)
	return res, nil
}

// Get returns one record.
func (l *Library) Get(ctx context.Context, id string) (ir.AssetRecord, error) {
	if rec, ok := l.records.Get(id); ok {
		l.hits.Add(1)
		return rec, nil
	}
	l.misses.Add(1)

	rec, err := l.store.GetAsset(ctx, id)
	if err != nil {
		return ir.AssetRecord{}, classify(id, "", err)
	}
	l.records.Add(id, rec)
	return rec, nil
}

// Query returns the records matching q in insertion order.
func (l *Library) Query(ctx context.Context, q Query) ([]ir.AssetRecord, error) {
	return l.store.QueryAssets(ctx, q)
}

// HasApprovedAssetFor reports whether an APPROVED record of the given type
// covers the segment, as primary segment or association.
func (l *Library) HasApprovedAssetFor(ctx context.Context, segmentID string, assetType ir.AssetType) (bool, error) {
	key := segmentID + "\x00" + string(assetType)
	if ok, cached := l.approved.Get(key); cached {
		l.hits.Add(1)
		return ok, nil
	}
	l.misses.Add(1)

	l.approvedMu.Lock()
	gen := l.approvedGen
	l.approvedMu.Unlock()

	recs, err := l.store.QueryAssets(ctx, Query{
		Type:    assetType,
		Status:  ir.StatusApproved,
		Segment: segmentID,
	})
	if err != nil {
		return false, err
	}
	ok := len(recs) > 0
	if l.afterApprovedRead != nil {
		l.afterApprovedRead()
	}

	l.approvedMu.Lock()
	if gen == l.approvedGen {
		l.approved.Add(key, ok)
	}
	l.approvedMu.Unlock()
	return ok, nil
}

// invalidateApproved drops every cached approval lookup. Call it after an
// approval is committed.
func (l *Library) invalidateApproved() {
	l.approvedMu.Lock()
	defer l.approvedMu.Unlock()
	l.approvedGen++
	l.approved.Purge()
}

// Submit moves a DRAFT or REVISED record into REVIEW.
func (l *Library) Submit(ctx context.Context, id string) (ir.AssetRecord, error) {
	return l.transition(ctx, id, ir.StatusReview, "")
}

// Approve locks a record as APPROVED.
func (l *Library) Approve(ctx context.Context, id string) (ir.AssetRecord, error) {
	rec, err := l.transition(ctx, id, ir.StatusApproved, "")
	if err != nil {
		return ir.AssetRecord{}, err
	}
	l.invalidateApproved()
	return rec, nil
}

// Reject marks a record REJECTED; the reason is kept as the record's notes.
func (l *Library) Reject(ctx context.Context, id, reason string) (ir.AssetRecord, error) {
	return l.transition(ctx, id, ir.StatusRejected, reason)
}

// MarkRevised moves a REJECTED record to REVISED once a regeneration has
// been issued for it.
func (l *Library) MarkRevised(ctx context.Context, id, reason string) (ir.AssetRecord, error) {
	return l.transition(ctx, id, ir.StatusRevised, reason)
}

// CountRevisions returns how many records name id as their revision_of.
func (l *Library) CountRevisions(ctx context.Context, id string) (int, error) {
	return l.store.CountRevisions(ctx, id)
}

// Events returns the status history of one asset, oldest first.
func (l *Library) Events(ctx context.Context, id string) ([]store.AssetEvent, error) {
	return l.store.ListEvents(ctx, id)
}

func (l *Library) transition(ctx context.Context, id string, to ir.AssetStatus, reason string) (ir.AssetRecord, error) {
	unlock := l.lock(id)
	defer unlock()

	rec, err := l.store.TransitionStatus(ctx, id, to, reason, l.now())
	l.records.Remove(id)
	if err != nil {
		return ir.AssetRecord{}, classify(id, to, err)
	}

	slog.Info("asset status changed", "asset", id, "status", to, "reason", reason)
	return rec, nil
}

// lock takes the stripe mutex for an asset id and returns its release.
func (l *Library) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	mu := &l.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
