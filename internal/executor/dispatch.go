package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomworks/loom/internal/ctxlog"
	"github.com/loomworks/loom/internal/plan"
	"github.com/loomworks/loom/internal/plan/repository"
)

// Skip explains why a node was excluded from a dispatch batch.
type Skip struct {
	NodeID string
	Code   SkipCode
	Detail string
}

// SkipCode enumerates dispatcher skip reasons.
type SkipCode string

const (
	SkipNotReady    SkipCode = "not-ready"
	SkipPlanStatus  SkipCode = "plan-status"
	SkipConcurrency SkipCode = "concurrency"
)

// Dispatcher selects runnable nodes and routes their phases to registered
// executors, recording outcomes through the repository.
type Dispatcher struct {
	repo     *repository.Repository
	registry *Registry
}

// NewDispatcher wires a dispatcher to the plan repository and an executor
// registry.
func NewDispatcher(repo *repository.Repository, registry *Registry) (*Dispatcher, error) {
	if repo == nil {
		return nil, fmt.Errorf("executor: plan repository is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("executor: registry is required")
	}
	return &Dispatcher{repo: repo, registry: registry}, nil
}

// Next returns the nodes that may be dispatched right now, plus a skip
// reason for every node held back. Nothing is dispatched while the plan is
// paused, pausing, or otherwise not running; the max-parallel budget counts
// the running slots the caller reports.
func (d *Dispatcher) Next(p *plan.Plan, running int) ([]plan.Node, []Skip) {
	var batch []plan.Node
	var skips []Skip

	for _, node := range p.Meta.Nodes {
		state, ok := p.NodeState(node.ID)
		if !ok {
			continue
		}
		if state.Status != plan.NodeReady {
			skips = append(skips, Skip{NodeID: node.ID, Code: SkipNotReady, Detail: string(state.Status)})
			continue
		}
		if p.Meta.Status != plan.StatusRunning {
			skips = append(skips, Skip{NodeID: node.ID, Code: SkipPlanStatus, Detail: fmt.Sprintf("plan is %s", p.Meta.Status)})
			continue
		}
		if p.Meta.MaxParallel > 0 && running+len(batch) >= p.Meta.MaxParallel {
			skips = append(skips, Skip{NodeID: node.ID, Code: SkipConcurrency, Detail: fmt.Sprintf("max parallel %d reached", p.Meta.MaxParallel)})
			continue
		}
		batch = append(batch, node)
	}
	return batch, skips
}

// healRetryLimit bounds how many extra passes a self-healing node gets
// within one dispatch before its failure is reported.
const healRetryLimit = 2

// Dispatch runs one ready node to its terminal status: mark scheduled,
// snapshot specs for the new attempt, then run the declared phases in
// execution order. The first failing phase fails the node. A failed pass of
// a self-healing node re-enters at its first declared phase under a fresh
// attempt, up to healRetryLimit extra passes; only the final outcome is fed
// back through ReportResult. A node declared to leave no changes fails if
// its phases report changed files anyway.
func (d *Dispatcher) Dispatch(ctx context.Context, planID, nodeKey string) (*plan.Plan, error) {
	attempt, err := d.repo.MarkScheduled(ctx, planID, nodeKey)
	if err != nil {
		return nil, err
	}
	if err := d.repo.SnapshotSpecsForAttempt(ctx, planID, nodeKey, attempt); err != nil {
		return nil, err
	}

	p, err := d.repo.GetDefinition(ctx, planID)
	if err != nil {
		return nil, err
	}
	node, ok := p.Node(nodeKey)
	if !ok {
		return nil, fmt.Errorf("executor: node %q not found in plan %s", nodeKey, planID)
	}
	specs, err := d.repo.NodeSpecs(ctx, planID, nodeKey)
	if err != nil {
		return nil, err
	}
	if _, err := d.repo.MarkRunning(ctx, planID, nodeKey); err != nil {
		return nil, err
	}

	log := ctxlog.FromContext(ctx)
	result := d.runPhases(ctx, p, node, specs, attempt)
	for retries := 0; result.Status == plan.NodeFailed && node.AutoHeal && retries < healRetryLimit; retries++ {
		next, err := d.repo.MarkRetrying(ctx, planID, nodeKey)
		if err != nil {
			log.Warn("self-heal retry abandoned", "plan", planID, "node", node.ID, "error", err)
			break
		}
		if err := d.repo.SnapshotSpecsForAttempt(ctx, planID, nodeKey, next); err != nil {
			log.Warn("self-heal retry abandoned", "plan", planID, "node", node.ID, "error", err)
			break
		}
		attempt = next
		log.Info("self-healing node retrying",
			"plan", planID, "node", node.ID, "attempt", attempt, "summary", result.Summary)
		result = d.runPhases(ctx, p, node, specs, attempt)
	}
	if result.Status == plan.NodeSucceeded && node.ExpectsNoChanges && len(result.FilesChanged) > 0 {
		result.Status = plan.NodeFailed
		result.Summary = fmt.Sprintf("declared no expected changes but reported %d changed files", len(result.FilesChanged))
	}
	return d.repo.ReportResult(ctx, planID, repository.NodeResult{
		NodeID:       node.ID,
		Status:       result.Status,
		FilesChanged: result.FilesChanged,
		Summary:      result.Summary,
	})
}

func (d *Dispatcher) runPhases(ctx context.Context, p *plan.Plan, node plan.Node, specs plan.SpecSet, attempt int) Result {
	log := ctxlog.FromContext(ctx)
	merged := Result{NodeID: node.ID, Status: plan.NodeSucceeded}

	for _, phase := range plan.AllPhases() {
		spec := specs.Phase(phase)
		if spec == nil {
			continue
		}
		exec, err := d.registry.Resolve(spec.Kind)
		if err != nil {
			return Result{NodeID: node.ID, Status: plan.NodeFailed, Summary: err.Error()}
		}
		log.Info("running phase", "plan", p.ID(), "node", node.ID, "phase", phase, "kind", spec.Kind, "attempt", attempt)
		result, err := exec.Run(ctx, Assignment{
			PlanID:       p.ID(),
			Node:         node,
			Specs:        specs,
			Phase:        phase,
			Attempt:      attempt,
			WorktreeRoot: p.Meta.WorktreeRoot,
		})
		if err != nil {
			return Result{
				NodeID:       node.ID,
				Status:       plan.NodeFailed,
				FilesChanged: merged.FilesChanged,
				Summary:      fmt.Sprintf("%s: %v", phase, err),
			}
		}
		merged.FilesChanged = append(merged.FilesChanged, result.FilesChanged...)
		if result.Summary != "" {
			merged.Summary = result.Summary
		}
		if result.Status == plan.NodeFailed {
			merged.Status = plan.NodeFailed
			if result.Summary == "" {
				merged.Summary = fmt.Sprintf("%s failed", phase)
			}
			return merged
		}
	}
	return merged
}

// RunPlan drives a plan to rest: start it, dispatch the runnable batch
// concurrently, wait for the wave to settle, re-evaluate. Pause and cancel
// are observed between waves; in-flight nodes always run to completion.
func (d *Dispatcher) RunPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	log := ctxlog.FromContext(ctx)
	p, err := d.repo.Start(ctx, planID)
	if err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return p, err
		}
		p, err = d.repo.GetDefinition(ctx, planID)
		if err != nil {
			return nil, err
		}
		if p.Meta.Status != plan.StatusRunning {
			return p, nil
		}

		batch, skips := d.Next(p, activeCount(p))
		if len(batch) == 0 {
			for _, skip := range skips {
				log.Debug("node held back", "plan", planID, "node", skip.NodeID, "code", skip.Code, "detail", skip.Detail)
			}
			return p, nil
		}

		var wg sync.WaitGroup
		for _, node := range batch {
			wg.Add(1)
			go func(node plan.Node) {
				defer wg.Done()
				if _, err := d.Dispatch(ctx, planID, node.ID); err != nil {
					log.Error("dispatch failed", "plan", planID, "node", node.ID, "error", err)
				}
			}(node)
		}
		wg.Wait()
	}
}

// activeCount reports how many nodes already occupy a parallel slot.
// Stale scheduled entries from a crashed driver still count; a fresh
// driver should not oversubscribe past them.
func activeCount(p *plan.Plan) int {
	active := 0
	for _, state := range p.Meta.NodeStates {
		if state == nil {
			continue
		}
		if state.Status == plan.NodeScheduled || state.Status == plan.NodeRunning {
			active++
		}
	}
	return active
}
