package graph

import (
	"github.com/roach88/pilotforge/internal/ir"
)

// TaskResult is the final state of one task.
type TaskResult struct {
	ID          string         `json:"id"`
	PilotID     string         `json:"pilot_id"`
	SegmentID   string         `json:"segment_id"`
	Variation   int            `json:"variation"`
	AssetType   ir.AssetType   `json:"asset_type"`
	Status      TaskStatus     `json:"status"`
	Attempts    int            `json:"attempts"`
	Cost        float64        `json:"cost"`
	Seeds       []string       `json:"seeds,omitempty"`
	AssetID     string         `json:"asset_id,omitempty"`
	AssetStatus ir.AssetStatus `json:"asset_status,omitempty"`
	RevisionOf  string         `json:"revision_of,omitempty"`
	Path        string         `json:"path,omitempty"`
	MIME        string         `json:"mime,omitempty"`
	// Drained is set for tasks that finished after their execution was
	// cancelled. Their outputs are registered but must not be scored.
	Drained bool   `json:"drained,omitempty"`
	Payload []byte `json:"-"`
	Err     error  `json:"-"`
}

func newTaskResult(spec TaskSpec) TaskResult {
	return TaskResult{
		ID:        spec.ID,
		PilotID:   spec.PilotID,
		SegmentID: spec.SegmentID,
		Variation: spec.Variation,
		AssetType: spec.AssetType,
		Status:    StatusPending,
	}
}

func (t TaskResult) fail(err error) TaskResult {
	t.Status = StatusFailed
	t.Err = err
	return t
}

// ErrorCode returns the taxonomy code of the task's error, if any.
func (t TaskResult) ErrorCode() string {
	if t.Err == nil {
		return ""
	}
	return errorCode(t.Err)
}

// Result is the outcome of running one graph. Tasks are in declaration
// order. A result with any task not DONE is partial.
type Result struct {
	PilotID   string       `json:"pilot_id"`
	Tasks     []TaskResult `json:"tasks"`
	Cancelled bool         `json:"cancelled,omitempty"`
}

// Scorable returns DONE tasks that were not drained after cancellation.
func (r Result) Scorable() []TaskResult {
	var out []TaskResult
	for _, t := range r.Tasks {
		if t.Status == StatusDone && !t.Drained {
			out = append(out, t)
		}
	}
	return out
}

// Count returns the number of tasks in a status.
func (r Result) Count(status TaskStatus) int {
	n := 0
	for _, t := range r.Tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

// Spent sums what every task was charged.
func (r Result) Spent() float64 {
	var sum float64
	for _, t := range r.Tasks {
		sum += t.Cost
	}
	return sum
}

// Partial reports whether any task did not complete.
func (r Result) Partial() bool {
	return r.Count(StatusDone) < len(r.Tasks)
}

// Task returns the result for a task id.
func (r Result) Task(id string) (TaskResult, bool) {
	for _, t := range r.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskResult{}, false
}
