package repository

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/internal/plan"
	"github.com/loomworks/loom/internal/plan/group"
)

// Finalize seals a scaffolding plan's topology and moves it to pending.
// Stable identifiers are assigned, dependency references are rewritten from
// producer to stable identifiers, each declared specification phase is
// written to its own file, execution state is initialized, and the group
// hierarchy is built. Afterwards the on-disk node files are the sole source
// of truth for specifications; the metadata keeps none inline.
func (r *Repository) Finalize(ctx context.Context, planID string) (*plan.Plan, error) {
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return nil, err
	}
	if meta.Status != plan.StatusScaffolding {
		return nil, fmt.Errorf("plan repository: cannot finalize: plan %s is %s; finalize is only allowed from scaffolding", planID, meta.Status)
	}

	for i := range meta.Nodes {
		if meta.Nodes[i].ID == "" {
			meta.Nodes[i].ID = r.newID()
		}
	}
	for i := range meta.Nodes {
		deps := meta.Nodes[i].DependsOn
		for j, dep := range deps {
			deps[j] = resolveDep(meta, dep)
		}
	}
	if err := validateTopology(meta); err != nil {
		return nil, err
	}

	// Spec files land before the metadata commit: a crash in between leaves
	// the plan scaffolding with its inline specs intact, and a rerun simply
	// rewrites the files.
	for i := range meta.Nodes {
		node := &meta.Nodes[i]
		specs := node.Specs()
		for _, phase := range plan.AllPhases() {
			spec := specs.Phase(phase)
			if spec == nil {
				continue
			}
			if err := r.store.WriteNodeSpec(ctx, planID, node.ID, phase, spec); err != nil {
				return nil, err
			}
		}
		node.Phases = node.DeclaredPhases()
		node.Work, node.Prechecks, node.Postchecks = nil, nil, nil
	}

	refreshTopology(meta)
	meta.NodeStates = initialNodeStates(meta)
	meta.Groups, meta.GroupStates, meta.GroupIDsByPath = group.Build(meta.Nodes, meta.GroupIDsByPath, r.newID)
	group.RecomputeStates(meta.Groups, meta.GroupStates, meta.NodeStates)

	meta.Status = plan.StatusPending
	meta.Version++
	if err := r.store.WritePlanMetadata(ctx, meta); err != nil {
		return nil, err
	}
	r.log.Info("plan finalized", "plan", planID, "nodes", len(meta.Nodes))
	return rebuild(meta), nil
}

// initialNodeStates seeds execution state for every node: roots start ready,
// everything else pending.
func initialNodeStates(meta *plan.Metadata) map[string]*plan.NodeExecutionState {
	rootSet := make(map[string]bool, len(meta.Roots))
	for _, root := range meta.Roots {
		rootSet[root] = true
	}
	states := make(map[string]*plan.NodeExecutionState, len(meta.Nodes))
	for _, node := range meta.Nodes {
		status := plan.NodePending
		if rootSet[node.ID] {
			status = plan.NodeReady
		}
		states[node.ID] = &plan.NodeExecutionState{Status: status, Version: 1}
	}
	return states
}
