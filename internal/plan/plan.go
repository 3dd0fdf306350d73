package plan

import (
	"fmt"
	"strings"
	"time"
)

// CurrentSchemaVersion is the metadata schema written by this build. Version
// 0 blobs predate the node/job rename and are upgraded by the storage
// layer's legacy migration.
const CurrentSchemaVersion = 2

// Node is one unit of work inside a plan.
type Node struct {
	// ID is the durable identifier, assigned once at finalize.
	ID string `json:"id,omitempty"`
	// ProducerID is the stable human-facing name used to express
	// dependencies before durable identifiers exist.
	ProducerID       string   `json:"producer_id"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	DependsOn        []string `json:"depends_on,omitempty"`
	Group            string   `json:"group,omitempty"`
	Work             *Spec    `json:"work,omitempty"`
	Prechecks        *Spec    `json:"prechecks,omitempty"`
	Postchecks       *Spec    `json:"postchecks,omitempty"`
	Phases           []Phase  `json:"phases,omitempty"`
	AutoHeal         bool     `json:"auto_heal,omitempty"`
	ExpectsNoChanges bool     `json:"expects_no_changes,omitempty"`
}

// Validate checks the node's intrinsic fields; dependency resolution is the
// repository's job.
func (n Node) Validate() error {
	if strings.TrimSpace(n.ProducerID) == "" {
		return fmt.Errorf("plan: node requires a producer id")
	}
	if err := n.Specs().Validate(); err != nil {
		return fmt.Errorf("plan: node %s: %w", n.ProducerID, err)
	}
	return nil
}

// Specs returns the node's inline specifications as a set.
func (n Node) Specs() SpecSet {
	return SpecSet{Work: n.Work, Prechecks: n.Prechecks, Postchecks: n.Postchecks}
}

// DeclaredPhases lists the phases for which the node carries an inline
// specification.
func (n Node) DeclaredPhases() []Phase {
	var phases []Phase
	for _, phase := range AllPhases() {
		if n.Specs().Phase(phase) != nil {
			phases = append(phases, phase)
		}
	}
	return phases
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	out.DependsOn = cloneStrings(n.DependsOn)
	out.Phases = clonePhases(n.Phases)
	out.Work = n.Work.Clone()
	out.Prechecks = n.Prechecks.Clone()
	out.Postchecks = n.Postchecks.Clone()
	return out
}

// Metadata is the persisted form of a plan.
type Metadata struct {
	SchemaVersion int    `json:"schema_version"`
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        Status `json:"status"`
	BaseBranch    string `json:"base_branch,omitempty"`
	TargetBranch  string `json:"target_branch,omitempty"`
	MaxParallel   int    `json:"max_parallel,omitempty"`
	RepoPath      string `json:"repo_path,omitempty"`
	WorktreeRoot  string `json:"worktree_root,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// ParentPlanID/ParentNodeID back-reference the spawning plan for nested
	// sub-plans.
	ParentPlanID string `json:"parent_plan_id,omitempty"`
	ParentNodeID string `json:"parent_node_id,omitempty"`

	// Deleted is the tombstone written before physical removal.
	Deleted bool `json:"deleted,omitempty"`
	// Paused records a cooperative pause request.
	Paused bool `json:"paused,omitempty"`
	// ResumeFrom chains a follow-up plan created to reshape a sealed one.
	ResumeFrom string `json:"resume_from,omitempty"`
	// Version increments on every persisted change.
	Version int `json:"version"`

	Nodes  []Node   `json:"nodes"`
	Roots  []string `json:"roots,omitempty"`
	Leaves []string `json:"leaves,omitempty"`

	NodeStates     map[string]*NodeExecutionState  `json:"node_states,omitempty"`
	Groups         map[string]*Group               `json:"groups,omitempty"`
	GroupStates    map[string]*GroupExecutionState `json:"group_states,omitempty"`
	GroupIDsByPath map[string]string               `json:"group_ids_by_path,omitempty"`
}

// NodeByProducer returns the index of the node with the given producer id,
// or -1.
func (m *Metadata) NodeByProducer(producerID string) int {
	for i, node := range m.Nodes {
		if node.ProducerID == producerID {
			return i
		}
	}
	return -1
}

// NodeByID returns the index of the node with the given durable id, or -1.
func (m *Metadata) NodeByID(id string) int {
	for i, node := range m.Nodes {
		if node.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	out := m
	out.StartedAt = cloneTime(m.StartedAt)
	out.EndedAt = cloneTime(m.EndedAt)
	out.Nodes = cloneNodes(m.Nodes)
	out.Roots = cloneStrings(m.Roots)
	out.Leaves = cloneStrings(m.Leaves)
	out.NodeStates = cloneNodeStates(m.NodeStates)
	out.Groups = cloneGroups(m.Groups)
	out.GroupStates = cloneGroupStates(m.GroupStates)
	out.GroupIDsByPath = cloneStringMap(m.GroupIDsByPath)
	return out
}

// Plan is the rebuilt in-memory view of a plan: its metadata plus the
// resolved dependency graph.
type Plan struct {
	Meta Metadata
	// Dependents maps a node's resolved key to the nodes that depend on it.
	Dependents map[string][]string
	Roots      []string
	Leaves     []string
}

// ID returns the plan identifier.
func (p *Plan) ID() string {
	return p.Meta.ID
}

// Node looks a node up by durable identifier, falling back to producer id.
func (p *Plan) Node(key string) (Node, bool) {
	if i := p.Meta.NodeByID(key); i >= 0 {
		return p.Meta.Nodes[i], true
	}
	if i := p.Meta.NodeByProducer(key); i >= 0 {
		return p.Meta.Nodes[i], true
	}
	return Node{}, false
}

// NodeState returns the execution state recorded for a node identifier.
func (p *Plan) NodeState(id string) (*NodeExecutionState, bool) {
	state, ok := p.Meta.NodeStates[id]
	return state, ok
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func clonePhases(values []Phase) []Phase {
	if len(values) == 0 {
		return nil
	}
	out := make([]Phase, len(values))
	copy(out, values)
	return out
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneNodes(values []Node) []Node {
	if len(values) == 0 {
		return nil
	}
	out := make([]Node, len(values))
	for i, node := range values {
		out[i] = node.Clone()
	}
	return out
}

func cloneNodeStates(values map[string]*NodeExecutionState) map[string]*NodeExecutionState {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]*NodeExecutionState, len(values))
	for id, state := range values {
		copied := *state
		out[id] = &copied
	}
	return out
}

func cloneGroups(values map[string]*Group) map[string]*Group {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]*Group, len(values))
	for id, group := range values {
		copied := *group
		copied.ChildIDs = cloneStrings(group.ChildIDs)
		copied.NodeIDs = cloneStrings(group.NodeIDs)
		copied.AllNodeIDs = cloneStrings(group.AllNodeIDs)
		out[id] = &copied
	}
	return out
}

func cloneGroupStates(values map[string]*GroupExecutionState) map[string]*GroupExecutionState {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]*GroupExecutionState, len(values))
	for id, state := range values {
		copied := *state
		out[id] = &copied
	}
	return out
}
