package plan

import (
	"fmt"
	"strings"
)

// Phase identifies one of the three specification slots a node may carry.
type Phase string

const (
	PhaseWork       Phase = "work"
	PhasePrechecks  Phase = "prechecks"
	PhasePostchecks Phase = "postchecks"
)

// AllPhases lists the specification phases in execution order.
func AllPhases() []Phase {
	return []Phase{PhasePrechecks, PhaseWork, PhasePostchecks}
}

// ValidPhase reports whether the value names a known phase.
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseWork, PhasePrechecks, PhasePostchecks:
		return true
	}
	return false
}

// SpecKind discriminates the closed set of specification variants.
type SpecKind string

const (
	SpecAgent   SpecKind = "agent"
	SpecShell   SpecKind = "shell"
	SpecProcess SpecKind = "process"
)

// AgentSpec describes work delegated to an instruction-following agent.
type AgentSpec struct {
	Instructions string `json:"instructions" yaml:"instructions"`
}

// ShellSpec describes work executed as a shell command line.
type ShellSpec struct {
	Command string            `json:"command" yaml:"command"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// ProcessSpec describes work executed as a direct subprocess invocation.
type ProcessSpec struct {
	Path string            `json:"path" yaml:"path"`
	Args []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Dir  string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Env  map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Spec is a tagged union over the supported work variants. The Kind
// discriminant selects exactly one payload; Validate is the single place
// that checks the pairing.
type Spec struct {
	Kind    SpecKind     `json:"kind" yaml:"kind"`
	Agent   *AgentSpec   `json:"agent,omitempty" yaml:"agent,omitempty"`
	Shell   *ShellSpec   `json:"shell,omitempty" yaml:"shell,omitempty"`
	Process *ProcessSpec `json:"process,omitempty" yaml:"process,omitempty"`
}

// Validate checks the discriminant against the populated payload.
func (s *Spec) Validate() error {
	if s == nil {
		return nil
	}
	switch s.Kind {
	case SpecAgent:
		if s.Agent == nil || s.Shell != nil || s.Process != nil {
			return fmt.Errorf("plan: spec kind %q requires exactly the agent payload", s.Kind)
		}
		if strings.TrimSpace(s.Agent.Instructions) == "" {
			return fmt.Errorf("plan: agent spec requires instructions")
		}
	case SpecShell:
		if s.Shell == nil || s.Agent != nil || s.Process != nil {
			return fmt.Errorf("plan: spec kind %q requires exactly the shell payload", s.Kind)
		}
		if strings.TrimSpace(s.Shell.Command) == "" {
			return fmt.Errorf("plan: shell spec requires a command")
		}
	case SpecProcess:
		if s.Process == nil || s.Agent != nil || s.Shell != nil {
			return fmt.Errorf("plan: spec kind %q requires exactly the process payload", s.Kind)
		}
		if strings.TrimSpace(s.Process.Path) == "" {
			return fmt.Errorf("plan: process spec requires an executable path")
		}
	default:
		return fmt.Errorf("plan: unknown spec kind %q", s.Kind)
	}
	return nil
}

// Clone returns a deep copy of the spec.
func (s *Spec) Clone() *Spec {
	if s == nil {
		return nil
	}
	out := &Spec{Kind: s.Kind}
	if s.Agent != nil {
		agent := *s.Agent
		out.Agent = &agent
	}
	if s.Shell != nil {
		shell := *s.Shell
		shell.Env = cloneStringMap(s.Shell.Env)
		out.Shell = &shell
	}
	if s.Process != nil {
		proc := *s.Process
		proc.Args = cloneStrings(s.Process.Args)
		proc.Env = cloneStringMap(s.Process.Env)
		out.Process = &proc
	}
	return out
}

// SpecSet bundles the three optional phase specifications of one node.
type SpecSet struct {
	Work       *Spec `json:"work,omitempty"`
	Prechecks  *Spec `json:"prechecks,omitempty"`
	Postchecks *Spec `json:"postchecks,omitempty"`
}

// Phase returns the specification stored for the given phase, if any.
func (ss SpecSet) Phase(p Phase) *Spec {
	switch p {
	case PhaseWork:
		return ss.Work
	case PhasePrechecks:
		return ss.Prechecks
	case PhasePostchecks:
		return ss.Postchecks
	}
	return nil
}

// SetPhase stores a specification under the given phase.
func (ss *SpecSet) SetPhase(p Phase, spec *Spec) {
	switch p {
	case PhaseWork:
		ss.Work = spec
	case PhasePrechecks:
		ss.Prechecks = spec
	case PhasePostchecks:
		ss.Postchecks = spec
	}
}

// Validate checks every populated phase specification.
func (ss SpecSet) Validate() error {
	for _, phase := range AllPhases() {
		if err := ss.Phase(phase).Validate(); err != nil {
			return fmt.Errorf("%s: %w", phase, err)
		}
	}
	return nil
}
