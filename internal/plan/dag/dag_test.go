package dag

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDetectCyclesAcceptsAcyclicGraph(t *testing.T) {
	jobs := []Job{
		{ProducerID: "a"},
		{ProducerID: "b", Dependencies: []string{"a"}},
		{ProducerID: "c", Dependencies: []string{"a", "b"}},
	}
	if err := DetectCycles(jobs); err != nil {
		t.Fatalf("acyclic graph should pass: %v", err)
	}
}

func TestDetectCyclesNamesOffendingNode(t *testing.T) {
	jobs := []Job{
		{ProducerID: "a", Dependencies: []string{"c"}},
		{ProducerID: "b", Dependencies: []string{"a"}},
		{ProducerID: "c", Dependencies: []string{"b"}},
	}
	err := DetectCycles(jobs)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle detected") {
		t.Fatalf("unexpected cycle error: %v", err)
	}
	named := false
	for _, id := range []string{"'a'", "'b'", "'c'"} {
		if strings.Contains(err.Error(), id) {
			named = true
		}
	}
	if !named {
		t.Fatalf("cycle error must name a node on the cycle: %v", err)
	}
}

func TestDetectCyclesFlagsSelfReference(t *testing.T) {
	jobs := []Job{{ProducerID: "solo", Dependencies: []string{"solo"}}}
	err := DetectCycles(jobs)
	if err == nil {
		t.Fatalf("self-dependency is a cycle")
	}
	if !strings.Contains(err.Error(), "'solo'") {
		t.Fatalf("self-cycle error must name the node: %v", err)
	}
}

func TestRootsAndLeavesChain(t *testing.T) {
	jobs := []Job{
		{ProducerID: "a"},
		{ProducerID: "b", Dependencies: []string{"a"}},
		{ProducerID: "c", Dependencies: []string{"b"}},
	}
	roots, leaves := RootsAndLeaves(jobs)
	if diff := cmp.Diff([]string{"a"}, roots); diff != "" {
		t.Fatalf("roots mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c"}, leaves); diff != "" {
		t.Fatalf("leaves mismatch (-want +got):\n%s", diff)
	}
}

func TestRootsAndLeavesLoneJobIsBoth(t *testing.T) {
	roots, leaves := RootsAndLeaves([]Job{{ProducerID: "only"}})
	if diff := cmp.Diff([]string{"only"}, roots); diff != "" {
		t.Fatalf("roots mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"only"}, leaves); diff != "" {
		t.Fatalf("leaves mismatch (-want +got):\n%s", diff)
	}
}

func TestRootsAndLeavesDiamond(t *testing.T) {
	jobs := []Job{
		{ProducerID: "top"},
		{ProducerID: "left", Dependencies: []string{"top"}},
		{ProducerID: "right", Dependencies: []string{"top"}},
		{ProducerID: "bottom", Dependencies: []string{"left", "right"}},
	}
	roots, leaves := RootsAndLeaves(jobs)
	if diff := cmp.Diff([]string{"top"}, roots); diff != "" {
		t.Fatalf("roots mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bottom"}, leaves); diff != "" {
		t.Fatalf("leaves mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateDependenciesNamesMissingAndReferrer(t *testing.T) {
	jobs := []Job{
		{ProducerID: "build", Dependencies: []string{"codegen"}},
	}
	err := ValidateDependencies(jobs)
	if err == nil {
		t.Fatalf("expected missing dependency error")
	}
	if !strings.Contains(err.Error(), "codegen") || !strings.Contains(err.Error(), "build") {
		t.Fatalf("error should name dependency and referrer: %v", err)
	}
}

func TestValidateCombinesChecks(t *testing.T) {
	if err := Validate([]Job{{ProducerID: "a", Dependencies: []string{"ghost"}}}); err == nil {
		t.Fatalf("expected missing dependency to fail validation")
	}
	cyclic := []Job{
		{ProducerID: "a", Dependencies: []string{"b"}},
		{ProducerID: "b", Dependencies: []string{"a"}},
	}
	if err := Validate(cyclic); err == nil {
		t.Fatalf("expected cycle to fail validation")
	}
	if err := Validate([]Job{{ProducerID: "a"}}); err != nil {
		t.Fatalf("valid graph should pass: %v", err)
	}
}
