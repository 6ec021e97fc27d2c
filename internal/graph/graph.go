// Package graph builds and runs the execution graph of generation tasks
// for one pilot.
//
// Tasks that share a seed key form a continuity group: a strict chain in
// declaration order, where each task receives the asset ids of its
// completed predecessors as seeds. Independent groups have no ordering
// between them and run concurrently on a bounded worker pool.
package graph

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/pilotforge/internal/ir"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusReady     TaskStatus = "READY"
	StatusRunning   TaskStatus = "RUNNING"
	StatusDone      TaskStatus = "DONE"
	StatusFailed    TaskStatus = "FAILED"
	StatusCancelled TaskStatus = "CANCELLED"
)

// Terminal reports whether no further transition can happen.
func (s TaskStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// TaskSpec declares one unit of generation work: a segment/variation pair.
type TaskSpec struct {
	ID              string        `json:"id"`
	PilotID         string        `json:"pilot_id"`
	Tier            string        `json:"tier"`
	Provider        string        `json:"provider"`
	SegmentID       string        `json:"segment_id"`
	Variation       int           `json:"variation"`
	AssetType       ir.AssetType  `json:"asset_type"`
	DurationSeconds float64       `json:"duration_seconds"`
	CostPerSecond   float64       `json:"cost_per_second"`
	SeedKey         string        `json:"seed_key,omitempty"`
	DependsOn       []string      `json:"depends_on,omitempty"`
	// Seeds are asset ids passed to the provider ahead of any seeds from
	// completed dependencies, such as an approved image reused for a video.
	Seeds   []string      `json:"seeds,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
	// AssetID overrides the derived asset identity (re-issued revisions).
	AssetID    string   `json:"asset_id,omitempty"`
	RevisionOf string   `json:"revision_of,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Task is a node of a built graph.
type Task struct {
	Spec TaskSpec
	// DependsOn is the full dependency set: continuity predecessor plus
	// explicit edges, in declaration order.
	DependsOn  []string
	dependents []string
}

// Graph is an acyclic set of tasks. It is immutable once built and may be
// run more than once.
type Graph struct {
	pilotID string
	order   []string
	tasks   map[string]*Task
}

// PilotID returns the pilot the graph belongs to.
func (g *Graph) PilotID() string { return g.pilotID }

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.order) }

// Order returns task ids in declaration order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Task returns a task by id.
func (g *Graph) Task(id string) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Dependents returns the ids of tasks that depend directly on id.
func (g *Graph) Dependents(id string) []string {
	t, ok := g.tasks[id]
	if !ok {
		return nil
	}
	return append([]string(nil), t.dependents...)
}

// Build validates specs and wires continuity chains and explicit edges.
// All specs must belong to one pilot.
func Build(specs []TaskSpec) (*Graph, error) {
	g := &Graph{tasks: make(map[string]*Task, len(specs))}

	lastInGroup := make(map[string]string)
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("task spec: id is required")
		}
		if _, dup := g.tasks[spec.ID]; dup {
			return nil, fmt.Errorf("task %s: defined twice", spec.ID)
		}
		if g.pilotID == "" {
			g.pilotID = spec.PilotID
		} else if spec.PilotID != g.pilotID {
			return nil, fmt.Errorf("task %s: pilot %s differs from graph pilot %s", spec.ID, spec.PilotID, g.pilotID)
		}
		if !spec.AssetType.Valid() {
			return nil, fmt.Errorf("task %s: invalid asset type %q", spec.ID, spec.AssetType)
		}
		if spec.SegmentID == "" {
			return nil, fmt.Errorf("task %s: segment_id is required", spec.ID)
		}

		task := &Task{Spec: spec}
		if spec.SeedKey != "" {
			if prev, ok := lastInGroup[spec.SeedKey]; ok {
				task.DependsOn = append(task.DependsOn, prev)
			}
			lastInGroup[spec.SeedKey] = spec.ID
		}
		for _, dep := range spec.DependsOn {
			if !slices.Contains(task.DependsOn, dep) {
				task.DependsOn = append(task.DependsOn, dep)
			}
		}

		g.tasks[spec.ID] = task
		g.order = append(g.order, spec.ID)
	}

	for _, id := range g.order {
		task := g.tasks[id]
		for _, dep := range task.DependsOn {
			parent, ok := g.tasks[dep]
			if !ok {
				return nil, fmt.Errorf("task %s: unknown dependency %s", id, dep)
			}
			if dep == id {
				return nil, &CycleError{Path: []string{id, id}}
			}
			parent.dependents = append(parent.dependents, id)
		}
	}

	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkCycles runs a three-colour DFS over dependency edges.
func (g *Graph) checkCycles() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.order))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range g.tasks[id].DependsOn {
			switch color[dep] {
			case grey:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				path := append(append([]string(nil), stack[start:]...), dep)
				return &CycleError{Path: path}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
