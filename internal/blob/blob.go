// Package blob stores generated payloads. Asset records keep the URI
// returned by Put as their path.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a payload does not exist.
var ErrNotFound = errors.New("payload not found")

// Store persists payloads grouped by run.
type Store interface {
	// Put writes content under runID/path and returns its URI.
	Put(ctx context.Context, runID, path string, content []byte, contentType string) (string, error)
	// Get reads a payload back by run and path.
	Get(ctx context.Context, runID, path string) ([]byte, error)
	// List returns the paths stored for a run, sorted.
	List(ctx context.Context, runID string) ([]string, error)
}

func objectKey(runID, path string) string {
	normalized := strings.TrimLeft(strings.TrimSpace(path), "/")
	return strings.TrimSpace(runID) + "/" + normalized
}

func validateKey(runID, path string) error {
	runID = strings.TrimSpace(runID)
	path = strings.TrimSpace(path)
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if strings.Contains(runID, "/") || strings.Contains(runID, "..") {
		return fmt.Errorf("invalid run_id %q", runID)
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return fmt.Errorf("invalid path %q", path)
		}
	}
	return nil
}
