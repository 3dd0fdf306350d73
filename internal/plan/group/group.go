// Package group derives the group hierarchy from the slash-delimited group
// paths nodes declare. Groups are never authored directly: they appear the
// first time a path segment is seen and keep their identifiers across
// rebuilds through a persisted path-to-identifier mapping.
package group

import (
	"sort"
	"strings"

	"github.com/loomworks/loom/internal/plan"
)

// Build derives the full hierarchy for the given nodes. priorPathIDs maps
// previously assigned paths to identifiers so rebuilds stay stable; newID
// mints identifiers for paths seen for the first time. Build is pure with
// respect to its inputs and idempotent: the same node set and mapping always
// produce the same hierarchy.
func Build(nodes []plan.Node, priorPathIDs map[string]string, newID func() string) (map[string]*plan.Group, map[string]*plan.GroupExecutionState, map[string]string) {
	groups := make(map[string]*plan.Group)
	states := make(map[string]*plan.GroupExecutionState)
	pathIDs := make(map[string]string, len(priorPathIDs))
	for path, id := range priorPathIDs {
		pathIDs[path] = id
	}
	byPath := make(map[string]*plan.Group)

	// Paths survive their members: once a group exists it is never removed,
	// so previously mapped paths rebuild as empty shells.
	paths := collectPaths(nodes, pathIDs)
	for _, path := range paths {
		segments := strings.Split(path, "/")
		parentPath := ""
		for i, segment := range segments {
			prefix := strings.Join(segments[:i+1], "/")
			if _, ok := byPath[prefix]; !ok {
				id, known := pathIDs[prefix]
				if !known {
					id = newID()
					pathIDs[prefix] = id
				}
				g := &plan.Group{ID: id, Name: segment, Path: prefix}
				if parentPath != "" {
					parent := byPath[parentPath]
					g.ParentID = parent.ID
					parent.ChildIDs = append(parent.ChildIDs, id)
				}
				byPath[prefix] = g
				groups[id] = g
				states[id] = &plan.GroupExecutionState{Status: plan.NodePending}
			}
			parentPath = prefix
		}
	}

	for _, node := range nodes {
		if node.Group == "" {
			continue
		}
		key := nodeKey(node)
		direct := byPath[node.Group]
		direct.NodeIDs = append(direct.NodeIDs, key)
		segments := strings.Split(node.Group, "/")
		for i := range segments {
			prefix := strings.Join(segments[:i+1], "/")
			g := byPath[prefix]
			g.AllNodeIDs = append(g.AllNodeIDs, key)
			states[g.ID].Total++
		}
	}

	for _, g := range groups {
		sort.Strings(g.ChildIDs)
		sort.Strings(g.NodeIDs)
		sort.Strings(g.AllNodeIDs)
	}
	return groups, states, pathIDs
}

// RecomputeStates refreshes aggregate counts from member node states and
// derives each group's status. Call whenever a member node's state changes.
func RecomputeStates(groups map[string]*plan.Group, states map[string]*plan.GroupExecutionState, nodeStates map[string]*plan.NodeExecutionState) {
	for id, g := range groups {
		state, ok := states[id]
		if !ok {
			state = &plan.GroupExecutionState{}
			states[id] = state
		}
		state.Total = len(g.AllNodeIDs)
		state.Running, state.Succeeded, state.Failed = 0, 0, 0
		state.Blocked, state.Canceled = 0, 0
		for _, nodeID := range g.AllNodeIDs {
			ns, ok := nodeStates[nodeID]
			if !ok {
				continue
			}
			switch ns.Status {
			case plan.NodeScheduled, plan.NodeRunning:
				state.Running++
			case plan.NodeSucceeded:
				state.Succeeded++
			case plan.NodeFailed:
				state.Failed++
			case plan.NodeBlocked:
				state.Blocked++
			case plan.NodeCanceled:
				state.Canceled++
			}
		}
		state.Status = deriveStatus(state)
	}
}

func deriveStatus(s *plan.GroupExecutionState) plan.NodeStatus {
	switch {
	case s.Failed > 0:
		return plan.NodeFailed
	case s.Running > 0:
		return plan.NodeRunning
	case s.Total > 0 && s.Succeeded == s.Total:
		return plan.NodeSucceeded
	case s.Canceled > 0 && s.Succeeded+s.Canceled == s.Total:
		return plan.NodeCanceled
	case s.Blocked > 0:
		return plan.NodeBlocked
	default:
		return plan.NodePending
	}
}

func collectPaths(nodes []plan.Node, prior map[string]string) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, node := range nodes {
		if node.Group == "" || seen[node.Group] {
			continue
		}
		seen[node.Group] = true
		paths = append(paths, node.Group)
	}
	for path := range prior {
		if !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

func nodeKey(node plan.Node) string {
	if node.ID != "" {
		return node.ID
	}
	return node.ProducerID
}
