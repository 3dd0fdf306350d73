// Package executor defines the contract between the plan engine and the
// components that run a node's work, plus the dispatcher that selects ready
// nodes within a plan's constraints and records outcomes.
package executor

import (
	"context"

	"github.com/loomworks/loom/internal/plan"
)

// Executor runs one phase of one node attempt. Implementations live outside
// the engine; the engine only schedules work and records what comes back.
type Executor interface {
	Run(ctx context.Context, asg Assignment) (Result, error)
}

// Assignment is the resolved view handed to an executor for one phase of one
// ready node. Phases of a node may carry different specification kinds, so
// each phase is dispatched separately.
type Assignment struct {
	PlanID       string
	Node         plan.Node
	Specs        plan.SpecSet
	Phase        plan.Phase
	Attempt      int
	WorktreeRoot string
}

// Spec returns the specification for the assignment's phase.
func (a Assignment) Spec() *plan.Spec {
	return a.Specs.Phase(a.Phase)
}

// Result is the terminal outcome of one executor invocation.
type Result struct {
	NodeID       string
	Status       plan.NodeStatus
	FilesChanged []string
	Summary      string
}
