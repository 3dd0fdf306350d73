package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/loomworks/loom/internal/plan"
)

func newStoreHarness(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("create file store: %v", err)
	}
	return store
}

func sampleMetadata(id string) *plan.Metadata {
	return &plan.Metadata{
		SchemaVersion: plan.CurrentSchemaVersion,
		ID:            id,
		Name:          "sample",
		Status:        plan.StatusScaffolding,
		BaseBranch:    "main",
		CreatedAt:     time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC),
		Nodes: []plan.Node{
			{ProducerID: "build", Name: "Build"},
		},
	}
}

func TestWriteAndReadPlanMetadata(t *testing.T) {
	store := newStoreHarness(t)
	ctx := context.Background()

	want := sampleMetadata("p1")
	if err := store.WritePlanMetadata(ctx, want); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	got, err := store.ReadPlanMetadata(ctx, "p1")
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestReadPlanMetadataMissingReturnsSentinel(t *testing.T) {
	store := newStoreHarness(t)
	_, err := store.ReadPlanMetadata(context.Background(), "ghost")
	if !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestWriteNodeSpecCreatesFirstAttemptAndCurrentLink(t *testing.T) {
	store := newStoreHarness(t)
	ctx := context.Background()

	spec := &plan.Spec{Kind: plan.SpecShell, Shell: &plan.ShellSpec{Command: "make build"}}
	if err := store.WriteNodeSpec(ctx, "p1", "n1", plan.PhaseWork, spec); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	attemptPath := filepath.Join(store.PlanDir("p1"), "nodes", "n1", "attempts", "1", "work.json")
	if _, err := os.Stat(attemptPath); err != nil {
		t.Fatalf("attempt 1 spec file missing: %v", err)
	}
	target, err := os.Readlink(filepath.Join(store.PlanDir("p1"), "nodes", "n1", "current"))
	if err != nil {
		t.Fatalf("current link missing: %v", err)
	}
	if target != filepath.Join("attempts", "1") {
		t.Fatalf("current link points at %q", target)
	}

	got, err := store.ReadNodeSpec(ctx, "p1", "n1", plan.PhaseWork)
	if err != nil {
		t.Fatalf("read spec: %v", err)
	}
	if diff := cmp.Diff(spec, got); diff != "" {
		t.Fatalf("spec mismatch (-want +got):\n%s", diff)
	}
}

func TestHasNodeSpec(t *testing.T) {
	store := newStoreHarness(t)
	ctx := context.Background()

	has, err := store.HasNodeSpec(ctx, "p1", "n1", plan.PhaseWork)
	if err != nil {
		t.Fatalf("has spec on empty store: %v", err)
	}
	if has {
		t.Fatalf("spec should not exist yet")
	}

	spec := &plan.Spec{Kind: plan.SpecShell, Shell: &plan.ShellSpec{Command: "true"}}
	if err := store.WriteNodeSpec(ctx, "p1", "n1", plan.PhaseWork, spec); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	has, err = store.HasNodeSpec(ctx, "p1", "n1", plan.PhaseWork)
	if err != nil {
		t.Fatalf("has spec: %v", err)
	}
	if !has {
		t.Fatalf("spec should exist after write")
	}
}

func TestSnapshotSpecsForAttemptKeepsHistory(t *testing.T) {
	store := newStoreHarness(t)
	ctx := context.Background()

	original := &plan.Spec{Kind: plan.SpecShell, Shell: &plan.ShellSpec{Command: "make v1"}}
	if err := store.WriteNodeSpec(ctx, "p1", "n1", plan.PhaseWork, original); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	if err := store.SnapshotSpecsForAttempt(ctx, "p1", "n1", 2); err != nil {
		t.Fatalf("snapshot attempt 2: %v", err)
	}

	// Writes now land in attempt 2; attempt 1 stays frozen.
	revised := &plan.Spec{Kind: plan.SpecShell, Shell: &plan.ShellSpec{Command: "make v2"}}
	if err := store.WriteNodeSpec(ctx, "p1", "n1", plan.PhaseWork, revised); err != nil {
		t.Fatalf("write revised spec: %v", err)
	}

	frozen, err := store.ReadNodeSpecForAttempt(ctx, "p1", "n1", plan.PhaseWork, 1)
	if err != nil {
		t.Fatalf("read attempt 1 spec: %v", err)
	}
	if frozen.Shell.Command != "make v1" {
		t.Fatalf("attempt 1 spec changed: %q", frozen.Shell.Command)
	}

	current, err := store.ReadNodeSpec(ctx, "p1", "n1", plan.PhaseWork)
	if err != nil {
		t.Fatalf("read current spec: %v", err)
	}
	if current.Shell.Command != "make v2" {
		t.Fatalf("current spec not re-pointed: %q", current.Shell.Command)
	}

	carried, err := store.ReadNodeSpecForAttempt(ctx, "p1", "n1", plan.PhaseWork, 2)
	if err != nil {
		t.Fatalf("read attempt 2 spec: %v", err)
	}
	if carried.Shell.Command != "make v2" {
		t.Fatalf("attempt 2 should hold the revised spec, got %q", carried.Shell.Command)
	}
}

func TestSnapshotRejectsZeroAttempt(t *testing.T) {
	store := newStoreHarness(t)
	if err := store.SnapshotSpecsForAttempt(context.Background(), "p1", "n1", 0); err == nil {
		t.Fatalf("attempt numbers are 1-based; zero must fail")
	}
}

func TestListPlanIDs(t *testing.T) {
	store := newStoreHarness(t)
	ctx := context.Background()

	for _, id := range []string{"beta", "alpha"} {
		if err := store.WritePlanMetadata(ctx, sampleMetadata(id)); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}
	ids, err := store.ListPlanIDs(ctx)
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if diff := cmp.Diff([]string{"alpha", "beta"}, ids); diff != "" {
		t.Fatalf("plan ids mismatch (-want +got):\n%s", diff)
	}
}

func TestDeletePlanRemovesEverything(t *testing.T) {
	store := newStoreHarness(t)
	ctx := context.Background()

	if err := store.WritePlanMetadata(ctx, sampleMetadata("p1")); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	spec := &plan.Spec{Kind: plan.SpecShell, Shell: &plan.ShellSpec{Command: "true"}}
	if err := store.WriteNodeSpec(ctx, "p1", "n1", plan.PhaseWork, spec); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	if err := store.DeletePlan(ctx, "p1"); err != nil {
		t.Fatalf("delete plan: %v", err)
	}
	exists, err := store.Exists(ctx, "p1")
	if err != nil {
		t.Fatalf("exists after delete: %v", err)
	}
	if exists {
		t.Fatalf("plan should be gone after delete")
	}
	// Deleting again stays quiet.
	if err := store.DeletePlan(ctx, "p1"); err != nil {
		t.Fatalf("repeat delete should be a no-op: %v", err)
	}
}

func TestSyncVariantsMatchAsyncPaths(t *testing.T) {
	store := newStoreHarness(t)

	want := sampleMetadata("p1")
	if err := store.WritePlanMetadataSync(want); err != nil {
		t.Fatalf("sync write: %v", err)
	}
	got, err := store.ReadPlanMetadataSync("p1")
	if err != nil {
		t.Fatalf("sync read: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestReadPlanMetadataHonorsContextCancellation(t *testing.T) {
	store := newStoreHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.ReadPlanMetadata(ctx, "p1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
