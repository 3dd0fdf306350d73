package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/loomworks/loom/internal/plan"
)

type noopExecutor struct{}

func (noopExecutor) Run(context.Context, Assignment) (Result, error) {
	return Result{Status: plan.NodeSucceeded}, nil
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(plan.SpecShell, noopExecutor{}); err != nil {
		t.Fatalf("register shell: %v", err)
	}
	exec, err := reg.Resolve(plan.SpecShell)
	if err != nil {
		t.Fatalf("resolve shell: %v", err)
	}
	if exec == nil {
		t.Fatal("resolve returned nil executor")
	}
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(plan.SpecKind("container"), noopExecutor{})
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !strings.Contains(err.Error(), "unknown spec kind") {
		t.Fatalf("error should name the unknown kind, got: %v", err)
	}
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(plan.SpecAgent, noopExecutor{}); err != nil {
		t.Fatalf("register agent: %v", err)
	}
	err := reg.Register(plan.SpecAgent, noopExecutor{})
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistryResolveUnregisteredKind(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Resolve(plan.SpecProcess); err == nil {
		t.Fatal("expected error for unregistered kind")
	}
}

func TestRegistryKindsSorted(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(plan.SpecShell, noopExecutor{})
	reg.MustRegister(plan.SpecProcess, noopExecutor{})
	reg.MustRegister(plan.SpecAgent, noopExecutor{})

	want := []plan.SpecKind{plan.SpecAgent, plan.SpecProcess, plan.SpecShell}
	if diff := cmp.Diff(want, reg.Kinds()); diff != "" {
		t.Fatalf("kinds mismatch (-want +got):\n%s", diff)
	}
}
