package plan

// NodeExecutionState tracks the mutable runtime facts for one node.
type NodeExecutionState struct {
	Status NodeStatus `json:"status"`
	// Version increments on every observable change so consumers can diff
	// cheaply without comparing whole structures.
	Version  int `json:"version"`
	Attempts int `json:"attempts"`
}

// Bump records an observable change by advancing the version counter.
func (s *NodeExecutionState) Bump() {
	s.Version++
}

// Group is one level of the derived group hierarchy. Groups come into
// existence the first time a node declares a path containing their segment
// and are never removed, even when later emptied.
type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	ParentID string   `json:"parent_id,omitempty"`
	ChildIDs []string `json:"child_ids,omitempty"`
	// NodeIDs holds direct members; AllNodeIDs holds the transitive closure
	// of every descendant member.
	NodeIDs    []string `json:"node_ids,omitempty"`
	AllNodeIDs []string `json:"all_node_ids,omitempty"`
}

// GroupExecutionState aggregates member-node execution counts for a group.
type GroupExecutionState struct {
	Status    NodeStatus `json:"status"`
	Total     int        `json:"total"`
	Running   int        `json:"running"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Blocked   int        `json:"blocked"`
	Canceled  int        `json:"canceled"`
}
