package graph

import (
	"errors"
	"fmt"
	"strings"
)

// DependencyUnresolvedError marks a task that was cancelled because one of
// its dependencies did not complete.
type DependencyUnresolvedError struct {
	TaskID     string
	Dependency string
	// DependencyStatus is FAILED or CANCELLED.
	DependencyStatus TaskStatus
	Cause            error
}

// Error implements the error interface.
func (e *DependencyUnresolvedError) Error() string {
	return fmt.Sprintf("task %s: dependency %s is %s: %v", e.TaskID, e.Dependency, e.DependencyStatus, e.Cause)
}

// ErrorCode returns the stable taxonomy code.
func (e *DependencyUnresolvedError) ErrorCode() string {
	return "E_DEPENDENCY_UNRESOLVED"
}

func (e *DependencyUnresolvedError) Unwrap() error {
	return e.Cause
}

// IsDependencyUnresolved reports whether err is a DependencyUnresolvedError.
func IsDependencyUnresolved(err error) bool {
	var de *DependencyUnresolvedError
	return errors.As(err, &de)
}

// ErrCancelled is the cause recorded for tasks cancelled by Cancel or by
// the run context.
var ErrCancelled = errors.New("execution cancelled")

// CycleError reports a dependency cycle found while building a graph.
type CycleError struct {
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}
