package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/pilotforge/internal/graph"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/pilot"
)

// amountTolerance absorbs float summation order in ledger totals.
const amountTolerance = 1e-6

// AssertionError describes a failed assertion.
type AssertionError struct {
	Index    int
	Type     string
	Message  string
	Expected any
	Actual   any
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion[%d] %s: %s (expected: %v, actual: %v)",
		e.Index, e.Type, e.Message, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err *AssertionError
		switch a.Type {
		case AssertPilotStatus:
			err = assertPilotStatus(result, a)
		case AssertPilotTimeline:
			err = assertPilotTimeline(result, a)
		case AssertAssetCount:
			err = assertAssetCount(result, a)
		case AssertLedger:
			err = assertLedger(result, a)
		case AssertTaskStatus:
			err = assertTaskStatus(result, a)
		default:
			err = &AssertionError{Message: "unknown assertion type"}
		}
		if err != nil {
			err.Index, err.Type = i, a.Type
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func assertPilotStatus(result *Result, a Assertion) *AssertionError {
	p, ok := result.Pilot(a.Pilot)
	if !ok {
		return &AssertionError{Message: "pilot not found", Expected: a.Pilot, Actual: "<none>"}
	}
	if string(p.Status) != a.Status {
		return &AssertionError{
			Message:  fmt.Sprintf("pilot %s (rationale: %s)", a.Pilot, p.Rationale),
			Expected: a.Status,
			Actual:   p.Status,
		}
	}
	return nil
}

func assertPilotTimeline(result *Result, a Assertion) *AssertionError {
	got := result.Timeline(a.Pilot)
	want := make([]pilot.Status, len(a.Statuses))
	for i, s := range a.Statuses {
		want[i] = pilot.Status(s)
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Message:  "pilot " + a.Pilot,
			Expected: joinStatuses(want),
			Actual:   joinStatuses(got),
		}
	}
	return nil
}

func assertAssetCount(result *Result, a Assertion) *AssertionError {
	n := 0
	for _, rec := range result.Assets {
		if a.AssetType != "" && rec.Type != a.AssetType {
			continue
		}
		if a.Status != "" && rec.Status != ir.AssetStatus(a.Status) {
			continue
		}
		if a.Segment != "" && !rec.AssociatedWith(a.Segment) {
			continue
		}
		n++
	}
	if n != a.Count {
		return &AssertionError{
			Message:  fmt.Sprintf("records with type=%q status=%q segment=%q", a.AssetType, a.Status, a.Segment),
			Expected: a.Count,
			Actual:   n,
		}
	}
	return nil
}

func assertLedger(result *Result, a Assertion) *AssertionError {
	if result.Run == nil || result.Run.Report == nil {
		return &AssertionError{Message: "run has no report", Expected: "report", Actual: "<none>"}
	}
	snap := result.Run.Report.Ledger
	if a.Spent != nil && math.Abs(snap.Spent-*a.Spent) > amountTolerance {
		return &AssertionError{Message: "spent", Expected: *a.Spent, Actual: snap.Spent}
	}
	if a.Reserved != nil && math.Abs(snap.Reserved-*a.Reserved) > amountTolerance {
		return &AssertionError{Message: "reserved", Expected: *a.Reserved, Actual: snap.Reserved}
	}
	return nil
}

func assertTaskStatus(result *Result, a Assertion) *AssertionError {
	task, ok := findTask(result, a.Task)
	if !ok {
		return &AssertionError{Message: "task not found", Expected: a.Task, Actual: "<none>"}
	}
	if string(task.Status) != a.Status {
		return &AssertionError{Message: "task " + a.Task, Expected: a.Status, Actual: task.Status}
	}
	return nil
}

// findTask looks for a task in the production, then in test rounds from
// the latest back.
func findTask(result *Result, id string) (graph.TaskResult, bool) {
	if result.Run == nil || result.Run.Report == nil {
		return graph.TaskResult{}, false
	}
	rep := result.Run.Report
	if rep.Production != nil {
		if t, ok := rep.Production.Task(id); ok {
			return t, true
		}
	}
	for _, p := range rep.Pilots {
		for i := len(p.Rounds) - 1; i >= 0; i-- {
			if t, ok := p.Rounds[i].Result.Task(id); ok {
				return t, true
			}
		}
	}
	return graph.TaskResult{}, false
}

func joinStatuses(statuses []pilot.Status) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, " > ")
}
