package plan

// Status enumerates the lifecycle phases of a plan.
type Status string

const (
	StatusScaffolding Status = "scaffolding"
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusPausing     Status = "pausing"
	StatusPaused      Status = "paused"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusCanceled    Status = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Active reports whether the plan is in an execution phase.
func (s Status) Active() bool {
	switch s {
	case StatusRunning, StatusPausing, StatusPaused:
		return true
	}
	return false
}

// allowedTransitions captures the forward-only plan lifecycle. Pause and
// resume are the only reversible moves.
var allowedTransitions = map[Status][]Status{
	StatusScaffolding: {StatusPending, StatusCanceled},
	StatusPending:     {StatusRunning, StatusCanceled},
	StatusRunning:     {StatusPausing, StatusPaused, StatusSucceeded, StatusFailed, StatusCanceled},
	StatusPausing:     {StatusPaused, StatusRunning, StatusSucceeded, StatusFailed, StatusCanceled},
	StatusPaused:      {StatusRunning, StatusCanceled},
}

// CanTransition reports whether a plan may move between the two statuses.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NodeStatus enumerates the execution states of a single node.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeReady     NodeStatus = "ready"
	NodeScheduled NodeStatus = "scheduled"
	NodeRunning   NodeStatus = "running"
	NodeSucceeded NodeStatus = "succeeded"
	NodeFailed    NodeStatus = "failed"
	NodeBlocked   NodeStatus = "blocked"
	NodeCanceled  NodeStatus = "canceled"
)

// Terminal reports whether the node status admits no further transitions.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeSucceeded, NodeFailed, NodeCanceled:
		return true
	}
	return false
}
