package reconcile

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/loomworks/loom/internal/plan"
	"github.com/loomworks/loom/internal/plan/dag"
)

func TestBuildNodeShape(t *testing.T) {
	validation := &plan.Spec{
		Kind:  plan.SpecShell,
		Shell: &plan.ShellSpec{Command: "make check"},
	}

	node := BuildNode("release/2.1", validation)

	if node.ProducerID != ProducerID {
		t.Fatalf("producer id = %q, want %q", node.ProducerID, ProducerID)
	}
	if node.Prechecks == nil || node.Prechecks.Kind != plan.SpecAgent {
		t.Fatalf("prechecks = %+v, want agent spec", node.Prechecks)
	}
	if node.Postchecks == nil || node.Postchecks.Kind != plan.SpecAgent {
		t.Fatalf("postchecks = %+v, want agent spec", node.Postchecks)
	}
	if !node.AutoHeal {
		t.Fatal("reconciliation node should auto-heal")
	}

	if node.Work == validation {
		t.Fatal("work spec should be cloned, not aliased")
	}
	if diff := cmp.Diff(validation, node.Work); diff != "" {
		t.Fatalf("work spec mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildNodeWithoutValidation(t *testing.T) {
	node := BuildNode("main", nil)
	if node.Work != nil {
		t.Fatalf("work spec = %+v, want nil", node.Work)
	}
	if err := node.Validate(); err != nil {
		t.Fatalf("node should validate without a work spec: %v", err)
	}
}

func TestInstructionsNameTargetBranch(t *testing.T) {
	node := BuildNode("release/2.1", nil)

	pre := node.Prechecks.Agent.Instructions
	post := node.Postchecks.Agent.Instructions

	for _, text := range []string{pre, post} {
		if !strings.Contains(text, "release/2.1") {
			t.Fatalf("instructions should name the target branch:\n%s", text)
		}
		if !strings.Contains(text, snapshotBaseRef) {
			t.Fatalf("instructions should name the snapshot base ref:\n%s", text)
		}
	}
	if !strings.Contains(pre, "clean release/2.1") {
		t.Fatalf("precheck failure policy should tell the operator to clean the target:\n%s", pre)
	}
	if !strings.Contains(post, "prechecks") {
		t.Fatalf("postchecks should route failures back to prechecks:\n%s", post)
	}
}

func TestInstructionsFallBackToGenericBranchName(t *testing.T) {
	node := BuildNode("  ", nil)
	if !strings.Contains(node.Prechecks.Agent.Instructions, "the integration branch") {
		t.Fatalf("unset target should fall back to a generic name:\n%s", node.Prechecks.Agent.Instructions)
	}
}

func TestLeafDependenciesEmptyPlan(t *testing.T) {
	got := LeafDependencies([]dag.Job{{ProducerID: ProducerID}})
	if len(got) != 0 {
		t.Fatalf("dependencies = %v, want none", got)
	}
}

func TestLeafDependenciesTrackLeafSet(t *testing.T) {
	jobs := []dag.Job{
		{ProducerID: "fetch"},
		{ProducerID: "build", Dependencies: []string{"fetch"}},
		{ProducerID: "docs", Dependencies: []string{"fetch"}},
		{ProducerID: ProducerID, Dependencies: []string{"build", "docs"}},
	}

	got := LeafDependencies(jobs)
	want := []string{"build", "docs"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("leaf dependencies mismatch (-want +got):\n%s", diff)
	}
}

func TestEnsureGroup(t *testing.T) {
	node := BuildNode("main", nil)
	EnsureGroup(&node, []plan.Node{{ProducerID: "a"}, {ProducerID: "b"}})
	if node.Group != "" {
		t.Fatalf("group = %q, want none while no other node is grouped", node.Group)
	}

	EnsureGroup(&node, []plan.Node{{ProducerID: "a", Group: "backend"}})
	if node.Group != ReservedGroup {
		t.Fatalf("group = %q, want %q", node.Group, ReservedGroup)
	}

	node.Group = "custom"
	EnsureGroup(&node, []plan.Node{{ProducerID: "a", Group: "backend"}})
	if node.Group != "custom" {
		t.Fatalf("group = %q, explicit assignment should stick", node.Group)
	}
}
