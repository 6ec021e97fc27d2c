package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/pilotforge/internal/ir"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestAsset creates a record with minimal required fields.
func createTestAsset(id, segment string, typ ir.AssetType) ir.AssetRecord {
	return ir.AssetRecord{
		ID:        id,
		Type:      typ,
		Path:      "file:///tmp/" + id,
		PilotID:   "pilot-test",
		SegmentID: segment,
		Provenance: ir.Provenance{
			Provider:  "simulated",
			RunID:     "run-1",
			Cost:      0.25,
			CreatedAt: testNow,
		},
	}
}
