// Package local provides the reference executors behind the CLI run path.
// Shell and process specifications run through os/exec in the plan's
// working tree; agent specifications are piped to an external runner
// command supplied by the operator.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomworks/loom/internal/executor"
	"github.com/loomworks/loom/internal/plan"
)

// ShellExecutor runs shell specifications as `sh -c` command lines.
type ShellExecutor struct{}

func (ShellExecutor) Run(ctx context.Context, a executor.Assignment) (executor.Result, error) {
	spec := a.Spec()
	if spec == nil || spec.Kind != plan.SpecShell || spec.Shell == nil {
		return executor.Result{}, fmt.Errorf("local: shell executor needs a shell spec, got %v", specKind(spec))
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", spec.Shell.Command)
	cmd.Dir = workDir(a, spec.Shell.Dir)
	cmd.Env = mergedEnv(a, spec.Shell.Env)
	return runCommand(a, cmd)
}

// ProcessExecutor runs process specifications as direct subprocess
// invocations without a shell in between.
type ProcessExecutor struct{}

func (ProcessExecutor) Run(ctx context.Context, a executor.Assignment) (executor.Result, error) {
	spec := a.Spec()
	if spec == nil || spec.Kind != plan.SpecProcess || spec.Process == nil {
		return executor.Result{}, fmt.Errorf("local: process executor needs a process spec, got %v", specKind(spec))
	}
	cmd := exec.CommandContext(ctx, spec.Process.Path, spec.Process.Args...)
	cmd.Dir = workDir(a, spec.Process.Dir)
	cmd.Env = mergedEnv(a, spec.Process.Env)
	return runCommand(a, cmd)
}

// runCommand executes the prepared command and folds its outcome into a
// result. A non-zero exit is a failed node, not an executor error; errors
// are reserved for commands that never ran.
func runCommand(a executor.Assignment, cmd *exec.Cmd) (executor.Result, error) {
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return executor.Result{}, fmt.Errorf("local: run %s phase of node %s: %w", a.Phase, a.Node.ProducerID, err)
		}
		return executor.Result{
			NodeID:  a.Node.ID,
			Status:  plan.NodeFailed,
			Summary: failureSummary(err, output.Bytes()),
		}, nil
	}
	return executor.Result{
		NodeID:  a.Node.ID,
		Status:  plan.NodeSucceeded,
		Summary: lastLine(output.Bytes()),
	}, nil
}

// workDir resolves the directory a phase runs in. Relative spec dirs are
// anchored at the plan's worktree root when one is set.
func workDir(a executor.Assignment, dir string) string {
	if dir == "" {
		return a.WorktreeRoot
	}
	if filepath.IsAbs(dir) || a.WorktreeRoot == "" {
		return dir
	}
	return filepath.Join(a.WorktreeRoot, dir)
}

// mergedEnv layers the spec's variables and the assignment context over the
// host environment. Spec values win over inherited ones.
func mergedEnv(a executor.Assignment, extra map[string]string) []string {
	env := os.Environ()
	env = append(env,
		"LOOM_PLAN="+a.PlanID,
		"LOOM_NODE="+a.Node.ProducerID,
		"LOOM_PHASE="+string(a.Phase),
		fmt.Sprintf("LOOM_ATTEMPT=%d", a.Attempt),
	)
	if a.WorktreeRoot != "" {
		env = append(env, "LOOM_WORKTREE="+a.WorktreeRoot)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func failureSummary(err error, output []byte) string {
	line := lastLine(output)
	if line == "" {
		return err.Error()
	}
	return fmt.Sprintf("%v: %s", err, line)
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func specKind(spec *plan.Spec) string {
	if spec == nil {
		return "none"
	}
	return string(spec.Kind)
}
