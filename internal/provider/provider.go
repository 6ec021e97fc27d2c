// Package provider defines the generation provider capability and its
// in-repo variants.
//
// A provider turns one generation request into a payload and reports what
// it cost. Failures report any spend incurred before failing so the budget
// ledger can account for it.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/pilotforge/internal/ir"
)

// Kind selects a provider variant.
type Kind string

const (
	KindSimulated Kind = "simulated"
	KindReplay    Kind = "replay"
)

// Request is one generation call.
type Request struct {
	TaskID          string
	PilotID         string
	Tier            string
	SegmentID       string
	Variation       int
	AssetType       ir.AssetType
	DurationSeconds float64
	CostPerSecond   float64
	// Seeds are the asset ids of completed upstream tasks in the same
	// continuity group, in dependency order.
	Seeds []string
	// Attempt is 1 on the first call and increments on each retry.
	Attempt int
}

// Result is a successful generation.
type Result struct {
	Payload []byte
	MIME    string
	Cost    float64
}

// Provider generates assets.
type Provider interface {
	Name() string
	Kind() Kind
	// Estimate returns the expected cost of a request, used as its budget
	// reservation.
	Estimate(req Request) float64
	// Timeout is the per-call deadline applied by the runner. Zero means
	// no provider-specific deadline.
	Timeout() time.Duration
	Generate(ctx context.Context, req Request) (Result, error)
}

// ErrorKind separates retryable failures from final ones.
type ErrorKind string

const (
	Transient ErrorKind = "transient"
	Permanent ErrorKind = "permanent"
)

// Error is a failed provider call. Cost is the spend the provider reports
// for the failed attempt, possibly zero.
type Error struct {
	Provider string
	Kind     ErrorKind
	Cost     float64
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s failure: %v", e.Provider, e.Kind, e.Err)
}

// ErrorCode returns the stable taxonomy code.
func (e *Error) ErrorCode() string {
	return "E_PROVIDER"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried. Provider errors of
// kind Transient and deadline expiries are transient.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ReportedCost returns the spend carried by a provider error, or zero.
func ReportedCost(err error) float64 {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Cost
	}
	return 0
}

// mimeFor maps asset types to the payload MIME types providers emit.
func mimeFor(t ir.AssetType) string {
	switch t {
	case ir.AssetAudio:
		return "audio/wav"
	case ir.AssetImage:
		return "image/png"
	case ir.AssetFigure:
		return "image/svg+xml"
	case ir.AssetVideo:
		return "video/mp4"
	}
	return "application/octet-stream"
}

// Extension returns the file extension for an asset type's payloads.
func Extension(t ir.AssetType) string {
	switch t {
	case ir.AssetAudio:
		return ".wav"
	case ir.AssetImage:
		return ".png"
	case ir.AssetFigure:
		return ".svg"
	case ir.AssetVideo:
		return ".mp4"
	}
	return ".bin"
}
