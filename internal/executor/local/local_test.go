package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loomworks/loom/internal/executor"
	"github.com/loomworks/loom/internal/plan"
)

func shellAssignment(command string, opts ...func(*executor.Assignment)) executor.Assignment {
	a := executor.Assignment{
		PlanID:  "plan-1",
		Node:    plan.Node{ID: "node-1", ProducerID: "build"},
		Phase:   plan.PhaseWork,
		Attempt: 1,
	}
	a.Specs.SetPhase(plan.PhaseWork, &plan.Spec{
		Kind:  plan.SpecShell,
		Shell: &plan.ShellSpec{Command: command},
	})
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

func TestShellExecutorSucceeds(t *testing.T) {
	result, err := ShellExecutor{}.Run(context.Background(), shellAssignment("echo done"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != plan.NodeSucceeded {
		t.Fatalf("status = %s, want succeeded", result.Status)
	}
	if result.Summary != "done" {
		t.Fatalf("summary = %q, want last output line", result.Summary)
	}
}

func TestShellExecutorNonZeroExitFailsNode(t *testing.T) {
	result, err := ShellExecutor{}.Run(context.Background(), shellAssignment("echo broken; exit 3"))
	if err != nil {
		t.Fatalf("non-zero exit should not be an executor error: %v", err)
	}
	if result.Status != plan.NodeFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Summary, "exit status 3") || !strings.Contains(result.Summary, "broken") {
		t.Fatalf("summary should carry exit status and output, got %q", result.Summary)
	}
}

func TestShellExecutorExposesAssignmentEnv(t *testing.T) {
	a := shellAssignment(`test "$LOOM_PLAN" = plan-1 && test "$LOOM_NODE" = build && test "$LOOM_PHASE" = work && test "$EXTRA" = value`)
	a.Spec().Shell.Env = map[string]string{"EXTRA": "value"}

	result, err := ShellExecutor{}.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != plan.NodeSucceeded {
		t.Fatalf("assignment env not visible to the command")
	}
}

func TestShellExecutorAnchorsRelativeDirAtWorktree(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "svc"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	a := shellAssignment("echo x > marker", func(a *executor.Assignment) {
		a.WorktreeRoot = root
	})
	a.Spec().Shell.Dir = "svc"

	if _, err := (ShellExecutor{}).Run(context.Background(), a); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "svc", "marker")); err != nil {
		t.Fatalf("command did not run in the anchored dir: %v", err)
	}
}

func TestShellExecutorRejectsWrongKind(t *testing.T) {
	a := shellAssignment("echo x")
	a.Specs.SetPhase(plan.PhaseWork, &plan.Spec{
		Kind:  plan.SpecAgent,
		Agent: &plan.AgentSpec{Instructions: "do things"},
	})
	if _, err := (ShellExecutor{}).Run(context.Background(), a); err == nil {
		t.Fatal("expected error for non-shell spec")
	}
}

func TestProcessExecutorRunsArgv(t *testing.T) {
	a := executor.Assignment{
		PlanID:  "plan-1",
		Node:    plan.Node{ID: "node-1", ProducerID: "build"},
		Phase:   plan.PhaseWork,
		Attempt: 1,
	}
	a.Specs.SetPhase(plan.PhaseWork, &plan.Spec{
		Kind:    plan.SpecProcess,
		Process: &plan.ProcessSpec{Path: "sh", Args: []string{"-c", "echo argv ok"}},
	})

	result, err := ProcessExecutor{}.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != plan.NodeSucceeded || result.Summary != "argv ok" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestAgentExecutorPipesInstructions(t *testing.T) {
	agent, err := NewAgentExecutor([]string{"sh", "-c", "grep -q rebase && echo reconciled"})
	if err != nil {
		t.Fatalf("new agent executor: %v", err)
	}
	a := executor.Assignment{
		PlanID:  "plan-1",
		Node:    plan.Node{ID: "gate", ProducerID: "snapshot-validation"},
		Phase:   plan.PhasePrechecks,
		Attempt: 1,
	}
	a.Specs.SetPhase(plan.PhasePrechecks, &plan.Spec{
		Kind:  plan.SpecAgent,
		Agent: &plan.AgentSpec{Instructions: "If the branch advanced, rebase the snapshot."},
	})

	result, err := agent.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != plan.NodeSucceeded {
		t.Fatalf("status = %s, want succeeded", result.Status)
	}
	if result.Summary != "reconciled" {
		t.Fatalf("summary = %q", result.Summary)
	}
}

func TestAgentExecutorRequiresRunnerCommand(t *testing.T) {
	if _, err := NewAgentExecutor(nil); err == nil {
		t.Fatal("expected error for empty runner command")
	}
}

func TestAgentExecutorFailureExitFailsNode(t *testing.T) {
	agent, err := NewAgentExecutor([]string{"sh", "-c", "cat >/dev/null; echo stale; exit 1"})
	if err != nil {
		t.Fatalf("new agent executor: %v", err)
	}
	a := executor.Assignment{
		PlanID:  "plan-1",
		Node:    plan.Node{ID: "gate", ProducerID: "snapshot-validation"},
		Phase:   plan.PhasePostchecks,
		Attempt: 2,
	}
	a.Specs.SetPhase(plan.PhasePostchecks, &plan.Spec{
		Kind:  plan.SpecAgent,
		Agent: &plan.AgentSpec{Instructions: "Confirm the snapshot is current."},
	})

	result, err := agent.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != plan.NodeFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Summary, "stale") {
		t.Fatalf("summary should carry the runner output, got %q", result.Summary)
	}
}
