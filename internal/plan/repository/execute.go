package repository

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/internal/plan"
	"github.com/loomworks/loom/internal/plan/group"
)

// Start moves a pending plan into execution and stamps its start time.
func (r *Repository) Start(ctx context.Context, planID string) (*plan.Plan, error) {
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return nil, err
	}
	if meta.Status != plan.StatusPending {
		return nil, fmt.Errorf("plan repository: cannot start: plan %s is %s", planID, meta.Status)
	}
	meta.Status = plan.StatusRunning
	if meta.StartedAt == nil {
		now := r.now().UTC()
		meta.StartedAt = &now
	}
	return r.commit(ctx, meta)
}

// Pause requests a cooperative pause. Nodes already dispatched run to
// completion; while any are in flight the plan reports pausing and settles
// to paused once their results arrive.
func (r *Repository) Pause(ctx context.Context, planID string) (*plan.Plan, error) {
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return nil, err
	}
	if meta.Status != plan.StatusRunning {
		return nil, fmt.Errorf("plan repository: cannot pause: plan %s is %s", planID, meta.Status)
	}
	meta.Paused = true
	if activeNodeCount(meta) > 0 {
		meta.Status = plan.StatusPausing
	} else {
		meta.Status = plan.StatusPaused
	}
	return r.commit(ctx, meta)
}

// Resume lifts a pause and returns the plan to running.
func (r *Repository) Resume(ctx context.Context, planID string) (*plan.Plan, error) {
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return nil, err
	}
	if meta.Status != plan.StatusPausing && meta.Status != plan.StatusPaused {
		return nil, fmt.Errorf("plan repository: cannot resume: plan %s is %s", planID, meta.Status)
	}
	meta.Status = plan.StatusRunning
	meta.Paused = false
	return r.commit(ctx, meta)
}

// Cancel terminates a plan. Every node that has not reached a terminal
// state is marked canceled; work already dispatched is the executor's to
// wind down.
func (r *Repository) Cancel(ctx context.Context, planID string) (*plan.Plan, error) {
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.CanTransition(meta.Status, plan.StatusCanceled) {
		return nil, fmt.Errorf("plan repository: cannot cancel: plan %s is already %s", planID, meta.Status)
	}
	meta.Status = plan.StatusCanceled
	meta.Paused = false
	now := r.now().UTC()
	meta.EndedAt = &now
	for _, state := range meta.NodeStates {
		if state.Status.Terminal() {
			continue
		}
		state.Status = plan.NodeCanceled
		state.Bump()
	}
	group.RecomputeStates(meta.Groups, meta.GroupStates, meta.NodeStates)
	return r.commit(ctx, meta)
}

// NodeResult is the terminal outcome an executor reports for one node
// attempt.
type NodeResult struct {
	NodeID       string
	Status       plan.NodeStatus
	FilesChanged []string
	Summary      string
}

// ReportResult applies an executor's terminal node status: the node's state
// is updated and version-bumped, dependents whose dependencies have all
// succeeded become ready, dependents of a failure are blocked transitively,
// group aggregates are recomputed, and the plan status is settled. Results
// arriving after the plan reached a terminal status are dropped.
func (r *Repository) ReportResult(ctx context.Context, planID string, result NodeResult) (*plan.Plan, error) {
	if result.Status != plan.NodeSucceeded && result.Status != plan.NodeFailed {
		return nil, fmt.Errorf("plan repository: result status must be succeeded or failed, got %q", result.Status)
	}
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return nil, err
	}
	if meta.Status.Terminal() {
		r.log.Info("dropping result for finished plan",
			"plan", planID, "node", result.NodeID, "status", result.Status)
		return rebuild(meta), nil
	}
	state, ok := meta.NodeStates[result.NodeID]
	if !ok {
		return nil, fmt.Errorf("plan repository: node %q not found in plan %s", result.NodeID, planID)
	}
	if state.Status.Terminal() {
		r.log.Info("dropping duplicate result",
			"plan", planID, "node", result.NodeID, "recorded", state.Status, "reported", result.Status)
		return rebuild(meta), nil
	}
	state.Status = result.Status
	state.Bump()
	r.log.Info("node result recorded",
		"plan", planID, "node", result.NodeID, "status", result.Status,
		"files_changed", len(result.FilesChanged), "summary", result.Summary)

	built := rebuild(meta)
	if result.Status == plan.NodeSucceeded {
		promoteDependents(meta, built, result.NodeID)
	} else {
		blockDependents(meta, built, result.NodeID)
	}
	group.RecomputeStates(meta.Groups, meta.GroupStates, meta.NodeStates)
	r.settlePlanStatus(meta)
	return r.commit(ctx, meta)
}

// promoteDependents moves dependents of a succeeded node from pending to
// ready once every one of their dependencies has succeeded.
func promoteDependents(meta *plan.Metadata, built *plan.Plan, nodeID string) {
	for _, depKey := range built.Dependents[nodeID] {
		state, ok := meta.NodeStates[depKey]
		if !ok || state.Status != plan.NodePending {
			continue
		}
		node, ok := built.Node(depKey)
		if !ok {
			continue
		}
		allDone := true
		for _, dep := range node.DependsOn {
			depState, ok := meta.NodeStates[resolveDep(meta, dep)]
			if !ok || depState.Status != plan.NodeSucceeded {
				allDone = false
				break
			}
		}
		if allDone {
			state.Status = plan.NodeReady
			state.Bump()
		}
	}
}

// blockDependents marks everything downstream of a failed node blocked.
// Nodes already dispatched keep running; their results settle normally.
func blockDependents(meta *plan.Metadata, built *plan.Plan, nodeID string) {
	queue := append([]string(nil), built.Dependents[nodeID]...)
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		state, ok := meta.NodeStates[key]
		if !ok {
			continue
		}
		if state.Status == plan.NodePending || state.Status == plan.NodeReady {
			state.Status = plan.NodeBlocked
			state.Bump()
		}
		queue = append(queue, built.Dependents[key]...)
	}
}

// settlePlanStatus derives the plan status from its node states: once no
// node can make further progress the plan lands on failed, canceled, or
// succeeded; a pausing plan settles to paused when in-flight work drains.
func (r *Repository) settlePlanStatus(meta *plan.Metadata) {
	live, failed, canceled := 0, 0, 0
	for _, state := range meta.NodeStates {
		switch state.Status {
		case plan.NodePending, plan.NodeReady, plan.NodeScheduled, plan.NodeRunning:
			live++
		case plan.NodeFailed:
			failed++
		case plan.NodeCanceled:
			canceled++
		}
	}
	if live == 0 {
		target := plan.StatusSucceeded
		if failed > 0 {
			target = plan.StatusFailed
		} else if canceled > 0 {
			target = plan.StatusCanceled
		}
		if plan.CanTransition(meta.Status, target) {
			meta.Status = target
			meta.Paused = false
			now := r.now().UTC()
			meta.EndedAt = &now
		}
		return
	}
	if meta.Status == plan.StatusPausing && activeNodeCount(meta) == 0 {
		meta.Status = plan.StatusPaused
	}
}

// activeNodeCount counts nodes currently dispatched to an executor.
func activeNodeCount(meta *plan.Metadata) int {
	active := 0
	for _, state := range meta.NodeStates {
		switch state.Status {
		case plan.NodeScheduled, plan.NodeRunning:
			active++
		}
	}
	return active
}

// MarkScheduled records that a node was handed to an executor: its status
// moves to scheduled and its attempt counter increments. The caller follows
// up with SnapshotSpecsForAttempt using the returned attempt number.
func (r *Repository) MarkScheduled(ctx context.Context, planID, nodeKey string) (int, error) {
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return 0, err
	}
	i := nodeIndex(meta, nodeKey)
	if i < 0 {
		return 0, fmt.Errorf("plan repository: node %q not found in plan %s", nodeKey, planID)
	}
	state, ok := meta.NodeStates[meta.Nodes[i].ID]
	if !ok {
		return 0, fmt.Errorf("plan repository: node %q has no execution state in plan %s", nodeKey, planID)
	}
	if state.Status != plan.NodeReady {
		return 0, fmt.Errorf("plan repository: node %q is %s, only ready nodes can be scheduled", nodeKey, state.Status)
	}
	state.Status = plan.NodeScheduled
	state.Attempts++
	state.Bump()
	group.RecomputeStates(meta.Groups, meta.GroupStates, meta.NodeStates)
	if _, err := r.commit(ctx, meta); err != nil {
		return 0, err
	}
	return state.Attempts, nil
}

// MarkRunning flips a scheduled node to running once an executor has
// actually picked it up.
func (r *Repository) MarkRunning(ctx context.Context, planID, nodeKey string) (*plan.Plan, error) {
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return nil, err
	}
	i := nodeIndex(meta, nodeKey)
	if i < 0 {
		return nil, fmt.Errorf("plan repository: node %q not found in plan %s", nodeKey, planID)
	}
	state, ok := meta.NodeStates[meta.Nodes[i].ID]
	if !ok {
		return nil, fmt.Errorf("plan repository: node %q has no execution state in plan %s", nodeKey, planID)
	}
	if state.Status != plan.NodeScheduled {
		return nil, fmt.Errorf("plan repository: node %q is %s, only scheduled nodes can start running", nodeKey, state.Status)
	}
	state.Status = plan.NodeRunning
	state.Bump()
	group.RecomputeStates(meta.Groups, meta.GroupStates, meta.NodeStates)
	return r.commit(ctx, meta)
}

// MarkRetrying re-arms a running node for a fresh attempt before any result
// has been reported, so a self-healing node can run its phases again after a
// failed pass. The node stays running, its attempt counter increments, and
// the caller follows up with SnapshotSpecsForAttempt using the returned
// attempt number.
func (r *Repository) MarkRetrying(ctx context.Context, planID, nodeKey string) (int, error) {
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return 0, err
	}
	i := nodeIndex(meta, nodeKey)
	if i < 0 {
		return 0, fmt.Errorf("plan repository: node %q not found in plan %s", nodeKey, planID)
	}
	state, ok := meta.NodeStates[meta.Nodes[i].ID]
	if !ok {
		return 0, fmt.Errorf("plan repository: node %q has no execution state in plan %s", nodeKey, planID)
	}
	if state.Status != plan.NodeRunning {
		return 0, fmt.Errorf("plan repository: node %q is %s, only running nodes can retry", nodeKey, state.Status)
	}
	state.Attempts++
	state.Bump()
	if _, err := r.commit(ctx, meta); err != nil {
		return 0, err
	}
	return state.Attempts, nil
}

// WriteNodeSpec stores one phase specification for a node. While the plan is
// scaffolding the spec stays inline in metadata; after finalize it is
// written to the node's spec file and the node's phase list is kept in step.
func (r *Repository) WriteNodeSpec(ctx context.Context, planID, nodeKey string, phase plan.Phase, spec *plan.Spec) error {
	if spec == nil {
		return fmt.Errorf("plan repository: spec is required")
	}
	if !plan.ValidPhase(phase) {
		return fmt.Errorf("plan repository: unknown phase %q", phase)
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return err
	}
	i := nodeIndex(meta, nodeKey)
	if i < 0 {
		return fmt.Errorf("plan repository: node %q not found in plan %s", nodeKey, planID)
	}
	node := &meta.Nodes[i]

	if meta.Status == plan.StatusScaffolding {
		specs := node.Specs()
		specs.SetPhase(phase, spec.Clone())
		node.Work, node.Prechecks, node.Postchecks = specs.Work, specs.Prechecks, specs.Postchecks
		_, err := r.commit(ctx, meta)
		return err
	}

	if err := r.store.WriteNodeSpec(ctx, planID, node.ID, phase, spec); err != nil {
		return err
	}
	if !phaseListed(node.Phases, phase) {
		node.Phases = append(node.Phases, phase)
		node.Phases = canonicalPhases(node.Phases)
		meta.Version++
		return r.store.WritePlanMetadata(ctx, meta)
	}
	return nil
}

// SnapshotSpecsForAttempt freezes the node's current specs under the given
// attempt number and re-points the current pointer at it.
func (r *Repository) SnapshotSpecsForAttempt(ctx context.Context, planID, nodeKey string, attempt int) error {
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return err
	}
	i := nodeIndex(meta, nodeKey)
	if i < 0 {
		return fmt.Errorf("plan repository: node %q not found in plan %s", nodeKey, planID)
	}
	return r.store.SnapshotSpecsForAttempt(ctx, planID, meta.Nodes[i].ID, attempt)
}

// NodeSpecs returns the resolved specifications of one node: inline values
// while the plan is scaffolding, the per-node spec files afterwards.
func (r *Repository) NodeSpecs(ctx context.Context, planID, nodeKey string) (plan.SpecSet, error) {
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return plan.SpecSet{}, err
	}
	i := nodeIndex(meta, nodeKey)
	if i < 0 {
		return plan.SpecSet{}, fmt.Errorf("plan repository: node %q not found in plan %s", nodeKey, planID)
	}
	node := meta.Nodes[i]

	if meta.Status == plan.StatusScaffolding {
		return plan.SpecSet{
			Work:       node.Work.Clone(),
			Prechecks:  node.Prechecks.Clone(),
			Postchecks: node.Postchecks.Clone(),
		}, nil
	}

	var specs plan.SpecSet
	for _, phase := range node.Phases {
		spec, err := r.store.ReadNodeSpec(ctx, planID, node.ID, phase)
		if err != nil {
			return plan.SpecSet{}, err
		}
		specs.SetPhase(phase, spec)
	}
	return specs, nil
}

// nodeIndex resolves a node by stable identifier first, producer second.
func nodeIndex(meta *plan.Metadata, key string) int {
	if i := meta.NodeByID(key); i >= 0 {
		return i
	}
	return meta.NodeByProducer(key)
}

func phaseListed(phases []plan.Phase, phase plan.Phase) bool {
	for _, p := range phases {
		if p == phase {
			return true
		}
	}
	return false
}

// canonicalPhases reorders a phase list into execution order.
func canonicalPhases(phases []plan.Phase) []plan.Phase {
	var ordered []plan.Phase
	for _, phase := range plan.AllPhases() {
		if phaseListed(phases, phase) {
			ordered = append(ordered, phase)
		}
	}
	return ordered
}
