package library

import (
	"errors"
	"fmt"

	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/store"
)

// AssetLockedError is returned when a write targets an APPROVED record.
type AssetLockedError struct {
	AssetID string
}

// Error implements the error interface.
func (e *AssetLockedError) Error() string {
	return fmt.Sprintf("asset %s is approved and locked", e.AssetID)
}

// ErrorCode returns the stable taxonomy code.
func (e *AssetLockedError) ErrorCode() string {
	return "E_ASSET_LOCKED"
}

// Unwrap lets errors.Is match store.ErrAssetLocked.
func (e *AssetLockedError) Unwrap() error {
	return store.ErrAssetLocked
}

// TransitionError is returned for a move the review state machine forbids.
type TransitionError struct {
	AssetID string
	To      ir.AssetStatus
	Err     error
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move asset %s to %s: %v", e.AssetID, e.To, e.Err)
}

// ErrorCode returns the stable taxonomy code.
func (e *TransitionError) ErrorCode() string {
	return "E_INVALID_TRANSITION"
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned when an asset id is unknown.
type NotFoundError struct {
	AssetID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("asset %s not found", e.AssetID)
}

// ErrorCode returns the stable taxonomy code.
func (e *NotFoundError) ErrorCode() string {
	return "E_NOT_FOUND"
}

// Unwrap lets errors.Is match store.ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return store.ErrNotFound
}

// IsAssetLocked reports whether err is an AssetLockedError.
func IsAssetLocked(err error) bool {
	var le *AssetLockedError
	return errors.As(err, &le)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// classify converts store sentinels into the library's typed errors.
func classify(id string, to ir.AssetStatus, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrAssetLocked):
		return &AssetLockedError{AssetID: id}
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{AssetID: id}
	case errors.Is(err, store.ErrInvalidTransition):
		return &TransitionError{AssetID: id, To: to, Err: err}
	default:
		return err
	}
}
