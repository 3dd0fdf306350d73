// Package reconcile builds the snapshot-validation node a plan injects
// automatically: the terminal gate that rebases the plan's working snapshot
// onto the integration branch before results may merge.
package reconcile

import (
	"strings"

	"github.com/loomworks/loom/internal/plan"
	"github.com/loomworks/loom/internal/plan/dag"
)

const (
	// ProducerID is the reserved producer identifier of the reconciliation
	// node. User nodes may not claim it.
	ProducerID = "snapshot-validation"
	// ReservedGroup keeps the node visually grouped in diagrams when user
	// nodes declare groups and the node has none.
	ReservedGroup = "validation"
)

// BuildNode synthesizes the reconciliation node for a plan whose results
// land on the given target branch. The prechecks and postchecks phases carry
// the reconciliation protocol as agent instructions; the optional validation
// spec is passed through untouched as the work phase. Dependencies are wired
// by the repository on every node-set change.
func BuildNode(targetBranch string, validation *plan.Spec) plan.Node {
	target := strings.TrimSpace(targetBranch)
	if target == "" {
		target = "the integration branch"
	}
	return plan.Node{
		ProducerID:  ProducerID,
		Name:        "Snapshot validation",
		Description: "Reconciles the plan's working snapshot with " + target + " before results merge.",
		Prechecks: &plan.Spec{
			Kind:  plan.SpecAgent,
			Agent: &plan.AgentSpec{Instructions: precheckInstructions(target)},
		},
		Work: validation.Clone(),
		Postchecks: &plan.Spec{
			Kind:  plan.SpecAgent,
			Agent: &plan.AgentSpec{Instructions: postcheckInstructions(target)},
		},
		// Postcheck failures instruct resumption from prechecks, so the
		// node heals itself instead of needing operator intervention.
		AutoHeal: true,
	}
}

// LeafDependencies computes the dependency list for the reconciliation
// node: exactly the current leaf set, excluding the node itself. With no
// user jobs the list is empty and the node is both root and leaf.
func LeafDependencies(jobs []dag.Job) []string {
	others := make([]dag.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.ProducerID == ProducerID {
			continue
		}
		others = append(others, job)
	}
	if len(others) == 0 {
		return nil
	}
	_, leaves := dag.RootsAndLeaves(others)
	return leaves
}

// EnsureGroup assigns the reserved group when any other node declares one
// and the reconciliation node has none.
func EnsureGroup(node *plan.Node, others []plan.Node) {
	if node.Group != "" {
		return
	}
	for _, other := range others {
		if other.ProducerID == node.ProducerID {
			continue
		}
		if other.Group != "" {
			node.Group = ReservedGroup
			return
		}
	}
}
