package repository

import (
	"sort"

	"github.com/loomworks/loom/internal/plan"
	"github.com/loomworks/loom/internal/plan/dag"
)

// nodeKey returns the identifier a node is addressed by: the stable ID once
// finalize assigned one, the producer ID before that.
func nodeKey(node plan.Node) string {
	if node.ID != "" {
		return node.ID
	}
	return node.ProducerID
}

// resolveDep maps one stored dependency value into the plan's current
// identifier space. Scaffolding plans store producer identifiers and
// finalized plans store stable ones, so resolution tries the producer
// lookup first and otherwise trusts the value as already resolved.
func resolveDep(meta *plan.Metadata, dep string) string {
	if i := meta.NodeByProducer(dep); i >= 0 {
		return nodeKey(meta.Nodes[i])
	}
	return dep
}

// jobsFor flattens the node list into the dag package's job view, with every
// node and dependency expressed in the same identifier space.
func jobsFor(meta *plan.Metadata) []dag.Job {
	jobs := make([]dag.Job, 0, len(meta.Nodes))
	for _, node := range meta.Nodes {
		deps := make([]string, 0, len(node.DependsOn))
		for _, dep := range node.DependsOn {
			deps = append(deps, resolveDep(meta, dep))
		}
		jobs = append(jobs, dag.Job{ProducerID: nodeKey(node), Dependencies: deps})
	}
	return jobs
}

// rebuild reconstructs the full in-memory plan from persisted metadata:
// resolved dependencies, reverse edges, roots and leaves.
func rebuild(meta *plan.Metadata) *plan.Plan {
	dependents := make(map[string][]string)
	for _, node := range meta.Nodes {
		key := nodeKey(node)
		for _, dep := range node.DependsOn {
			resolved := resolveDep(meta, dep)
			dependents[resolved] = append(dependents[resolved], key)
		}
	}
	for _, keys := range dependents {
		sort.Strings(keys)
	}
	roots, leaves := dag.RootsAndLeaves(jobsFor(meta))
	return &plan.Plan{
		Meta:       *meta,
		Dependents: dependents,
		Roots:      roots,
		Leaves:     leaves,
	}
}

// refreshTopology recomputes and stores the metadata's root and leaf lists.
func refreshTopology(meta *plan.Metadata) {
	meta.Roots, meta.Leaves = dag.RootsAndLeaves(jobsFor(meta))
}
