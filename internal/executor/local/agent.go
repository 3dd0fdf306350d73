package local

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loomworks/loom/internal/executor"
	"github.com/loomworks/loom/internal/plan"
)

// AgentExecutor hands agent specifications to an external runner command.
// The phase instructions arrive on the runner's stdin; the runner signals
// the outcome through its exit code. There is no built-in agent runtime.
type AgentExecutor struct {
	command []string
}

// NewAgentExecutor wires the runner command line, for example
// ["loom-agent", "--headless"].
func NewAgentExecutor(command []string) (*AgentExecutor, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("local: agent runner command is required")
	}
	return &AgentExecutor{command: command}, nil
}

func (e *AgentExecutor) Run(ctx context.Context, a executor.Assignment) (executor.Result, error) {
	spec := a.Spec()
	if spec == nil || spec.Kind != plan.SpecAgent || spec.Agent == nil {
		return executor.Result{}, fmt.Errorf("local: agent executor needs an agent spec, got %v", specKind(spec))
	}
	cmd := exec.CommandContext(ctx, e.command[0], e.command[1:]...)
	cmd.Dir = a.WorktreeRoot
	cmd.Env = mergedEnv(a, nil)
	cmd.Stdin = strings.NewReader(spec.Agent.Instructions)
	return runCommand(a, cmd)
}
