package pilot

import (
	"errors"
	"fmt"
	"strings"
)

// ScoringHardFailError marks a pilot whose score fell below the hard floor.
type ScoringHardFailError struct {
	PilotID string
	Score   float64
	Floor   float64
}

// Error implements the error interface.
func (e *ScoringHardFailError) Error() string {
	return fmt.Sprintf("pilot %s: score %.1f below hard floor %.1f", e.PilotID, e.Score, e.Floor)
}

// ErrorCode returns the stable taxonomy code.
func (e *ScoringHardFailError) ErrorCode() string {
	return "E_SCORING_HARD_FAIL"
}

// ScoringSoftFailError marks a pilot that scored between the hard floor and
// its tier threshold and could not, or did not, recover by regenerating.
type ScoringSoftFailError struct {
	PilotID   string
	Score     float64
	Threshold float64
	// Regenerated is true when the failing score came from the
	// regeneration round.
	Regenerated bool
}

// Error implements the error interface.
func (e *ScoringSoftFailError) Error() string {
	msg := fmt.Sprintf("pilot %s: score %.1f below threshold %.1f", e.PilotID, e.Score, e.Threshold)
	if e.Regenerated {
		msg += " after regeneration"
	}
	return msg
}

// ErrorCode returns the stable taxonomy code.
func (e *ScoringSoftFailError) ErrorCode() string {
	return "E_SCORING_SOFT_FAIL"
}

// ScoringUnavailableError marks a pilot whose round got no score because
// every oracle call failed.
type ScoringUnavailableError struct {
	PilotID  string
	Round    int
	Failures int
	Err      error
}

// Error implements the error interface.
func (e *ScoringUnavailableError) Error() string {
	return fmt.Sprintf("pilot %s: no score in round %d (%d oracle call(s) failed): %v", e.PilotID, e.Round, e.Failures, e.Err)
}

// Unwrap returns the last oracle error.
func (e *ScoringUnavailableError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the stable taxonomy code.
func (e *ScoringUnavailableError) ErrorCode() string {
	return "E_SCORING_UNAVAILABLE"
}

// NoViablePilotError is the fatal outcome when no pilot passes evaluation.
type NoViablePilotError struct {
	// Reasons holds one line per pilot, in pilot order.
	Reasons []string
}

// Error implements the error interface.
func (e *NoViablePilotError) Error() string {
	if len(e.Reasons) == 0 {
		return "no viable pilot"
	}
	return "no viable pilot: " + strings.Join(e.Reasons, "; ")
}

// ErrorCode returns the stable taxonomy code.
func (e *NoViablePilotError) ErrorCode() string {
	return "E_NO_VIABLE_PILOT"
}

// IsNoViablePilot reports whether err is a NoViablePilotError.
func IsNoViablePilot(err error) bool {
	var nv *NoViablePilotError
	return errors.As(err, &nv)
}

// IsScoringHardFail reports whether err is a ScoringHardFailError.
func IsScoringHardFail(err error) bool {
	var hf *ScoringHardFailError
	return errors.As(err, &hf)
}

// IsScoringSoftFail reports whether err is a ScoringSoftFailError.
func IsScoringSoftFail(err error) bool {
	var sf *ScoringSoftFailError
	return errors.As(err, &sf)
}

// IsScoringUnavailable reports whether err is a ScoringUnavailableError.
func IsScoringUnavailable(err error) bool {
	var su *ScoringUnavailableError
	return errors.As(err, &su)
}

// ErrInvalidTransition is returned for an illegal pilot status change.
var ErrInvalidTransition = errors.New("invalid pilot transition")
