package repository

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/internal/plan"
	"github.com/loomworks/loom/internal/plan/dag"
	"github.com/loomworks/loom/internal/plan/reconcile"
)

// ScaffoldOptions carries the optional attributes of a new plan.
type ScaffoldOptions struct {
	BaseBranch   string
	TargetBranch string
	MaxParallel  int
	RepoPath     string
	WorktreeRoot string
	// Validation optionally becomes the work phase of the reconciliation
	// node; prechecks and postchecks are always synthesized.
	Validation *plan.Spec
	// ParentPlanID/ParentNodeID back-reference the spawning plan when this
	// plan is a nested sub-plan.
	ParentPlanID string
	ParentNodeID string
}

// Scaffold creates a new plan in scaffolding status containing only the
// auto-injected snapshot-validation node, which starts as both root and
// leaf. It fails only when the initial metadata write fails.
func (r *Repository) Scaffold(ctx context.Context, name string, opts ScaffoldOptions) (*plan.Plan, error) {
	planID := r.newID()
	release := r.queues.Acquire(planID)
	defer release()

	target := opts.TargetBranch
	if target == "" {
		target = opts.BaseBranch
	}
	gate := reconcile.BuildNode(target, opts.Validation)

	meta := &plan.Metadata{
		SchemaVersion: plan.CurrentSchemaVersion,
		ID:            planID,
		Name:          name,
		Status:        plan.StatusScaffolding,
		BaseBranch:    opts.BaseBranch,
		TargetBranch:  opts.TargetBranch,
		MaxParallel:   opts.MaxParallel,
		RepoPath:      opts.RepoPath,
		WorktreeRoot:  opts.WorktreeRoot,
		CreatedAt:     r.now().UTC(),
		ParentPlanID:  opts.ParentPlanID,
		ParentNodeID:  opts.ParentNodeID,
		Version:       1,
		Nodes:         []plan.Node{gate},
	}
	rewireReconciliation(meta)
	refreshTopology(meta)

	if err := r.store.WritePlanMetadata(ctx, meta); err != nil {
		return nil, err
	}
	r.log.Info("plan scaffolded", "plan", planID, "name", name)
	return rebuild(meta), nil
}

// AddNode appends a node to a scaffolding plan. The producer identifier must
// be unique within the plan; duplicates are rejected before any mutation.
func (r *Repository) AddNode(ctx context.Context, planID string, node plan.Node) (*plan.Plan, error) {
	release := r.queues.Acquire(planID)
	defer release()

	if node.ProducerID == reconcile.ProducerID {
		return nil, fmt.Errorf("plan repository: producer id %q is reserved for the snapshot validation node", node.ProducerID)
	}
	if err := node.Validate(); err != nil {
		return nil, err
	}

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := requireScaffolding(meta, "add node"); err != nil {
		return nil, err
	}
	if meta.NodeByProducer(node.ProducerID) >= 0 {
		return nil, fmt.Errorf("plan repository: duplicate producer id %q in plan %s", node.ProducerID, planID)
	}

	meta.Nodes = append(meta.Nodes, node.Clone())
	rewireReconciliation(meta)
	if err := validateTopology(meta); err != nil {
		// The mutation lives only in this load's copy; not committing is
		// the rollback.
		return nil, err
	}
	return r.commit(ctx, meta)
}

// RemoveNode removes a node from a scaffolding plan. Removing a node other
// nodes still depend on fails validation and leaves the plan untouched.
func (r *Repository) RemoveNode(ctx context.Context, planID, producerID string) (*plan.Plan, error) {
	release := r.queues.Acquire(planID)
	defer release()

	if producerID == reconcile.ProducerID {
		return nil, fmt.Errorf("plan repository: the snapshot validation node cannot be removed")
	}

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := requireScaffolding(meta, "remove node"); err != nil {
		return nil, err
	}
	i := meta.NodeByProducer(producerID)
	if i < 0 {
		return nil, fmt.Errorf("plan repository: node %q not found in plan %s", producerID, planID)
	}

	meta.Nodes = append(meta.Nodes[:i], meta.Nodes[i+1:]...)
	rewireReconciliation(meta)
	if err := validateTopology(meta); err != nil {
		return nil, err
	}
	return r.commit(ctx, meta)
}

// NodeUpdate describes a partial node update; nil fields keep their current
// values.
type NodeUpdate struct {
	Name        *string
	Description *string
	DependsOn   *[]string
	Group       *string
	// Specs replaces all three phase specifications at once when set.
	Specs            *plan.SpecSet
	AutoHeal         *bool
	ExpectsNoChanges *bool
}

// UpdateNode applies a partial update to a node of a scaffolding plan.
func (r *Repository) UpdateNode(ctx context.Context, planID, producerID string, update NodeUpdate) (*plan.Plan, error) {
	release := r.queues.Acquire(planID)
	defer release()

	if producerID == reconcile.ProducerID {
		return nil, fmt.Errorf("plan repository: the snapshot validation node is managed automatically and cannot be updated")
	}

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := requireScaffolding(meta, "update node"); err != nil {
		return nil, err
	}
	i := meta.NodeByProducer(producerID)
	if i < 0 {
		return nil, fmt.Errorf("plan repository: node %q not found in plan %s", producerID, planID)
	}

	node := &meta.Nodes[i]
	applyNodeUpdate(node, update)
	if err := node.Validate(); err != nil {
		return nil, err
	}
	rewireReconciliation(meta)
	if err := validateTopology(meta); err != nil {
		return nil, err
	}
	return r.commit(ctx, meta)
}

func applyNodeUpdate(node *plan.Node, update NodeUpdate) {
	if update.Name != nil {
		node.Name = *update.Name
	}
	if update.Description != nil {
		node.Description = *update.Description
	}
	if update.DependsOn != nil {
		node.DependsOn = append([]string(nil), (*update.DependsOn)...)
	}
	if update.Group != nil {
		node.Group = *update.Group
	}
	if update.Specs != nil {
		node.Work = update.Specs.Work.Clone()
		node.Prechecks = update.Specs.Prechecks.Clone()
		node.Postchecks = update.Specs.Postchecks.Clone()
	}
	if update.AutoHeal != nil {
		node.AutoHeal = *update.AutoHeal
	}
	if update.ExpectsNoChanges != nil {
		node.ExpectsNoChanges = *update.ExpectsNoChanges
	}
}

// loadMeta reads a plan's metadata, honoring the in-process deleted set and
// on-disk tombstones.
func (r *Repository) loadMeta(ctx context.Context, planID string) (*plan.Metadata, error) {
	if r.isDeleted(planID) {
		return nil, fmt.Errorf("plan repository: plan %s: %w", planID, ErrPlanDeleted)
	}
	meta, err := r.store.ReadPlanMetadata(ctx, planID)
	if err != nil {
		return nil, err
	}
	if meta.Deleted {
		r.markDeleted(planID)
		return nil, fmt.Errorf("plan repository: plan %s: %w", planID, ErrPlanDeleted)
	}
	return meta, nil
}

// requireScaffolding gates structural mutation on the plan's status.
func requireScaffolding(meta *plan.Metadata, verb string) error {
	if meta.Status == plan.StatusScaffolding {
		return nil
	}
	return fmt.Errorf("plan repository: cannot %s: plan %s is %s; reshaping is only allowed while scaffolding, chain a follow-up plan instead",
		verb, meta.ID, meta.Status)
}

// rewireReconciliation recomputes the snapshot-validation node's dependency
// list to the current leaf set and keeps its group assignment in step.
func rewireReconciliation(meta *plan.Metadata) {
	i := meta.NodeByProducer(reconcile.ProducerID)
	if i < 0 {
		return
	}
	gate := &meta.Nodes[i]
	gate.DependsOn = reconcile.LeafDependencies(jobsFor(meta))
	reconcile.EnsureGroup(gate, meta.Nodes)
}

// validateTopology runs the full structural validation: unique producer
// identifiers, dependency existence, then cycle detection.
func validateTopology(meta *plan.Metadata) error {
	seen := make(map[string]bool, len(meta.Nodes))
	for _, node := range meta.Nodes {
		if seen[node.ProducerID] {
			return fmt.Errorf("plan repository: duplicate producer id %q in plan %s", node.ProducerID, meta.ID)
		}
		seen[node.ProducerID] = true
	}
	return dag.Validate(jobsFor(meta))
}

// commit recomputes the topology, bumps the version, persists the metadata,
// and returns the rebuilt plan.
func (r *Repository) commit(ctx context.Context, meta *plan.Metadata) (*plan.Plan, error) {
	refreshTopology(meta)
	meta.Version++
	if err := r.store.WritePlanMetadata(ctx, meta); err != nil {
		return nil, err
	}
	return rebuild(meta), nil
}
