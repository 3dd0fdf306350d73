package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/loomworks/loom/internal/plan"
)

// legacyBlob is a schema-version-0 plan: node list under "jobs", inline
// specs despite being finalized, dependencies expressed as producer ids.
const legacyBlob = `{
  "id": "old-plan",
  "name": "Old Plan",
  "status": "pending",
  "created_at": "2024-06-01T10:00:00Z",
  "jobs": [
    {
      "id": "node-a",
      "producer_id": "codegen",
      "name": "Codegen",
      "work": {"kind": "shell", "shell": {"command": "make codegen"}}
    },
    {
      "id": "node-b",
      "producer_id": "build",
      "name": "Build",
      "depends_on": ["codegen"],
      "work": {"kind": "shell", "shell": {"command": "make build"}}
    }
  ]
}`

func writeLegacyPlan(t *testing.T, store *FileStore, planID, blob string) {
	t.Helper()
	dir := store.PlanDir(planID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create legacy plan dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plan.json"), []byte(blob), 0o644); err != nil {
		t.Fatalf("write legacy blob: %v", err)
	}
}

func TestDecodeUpgradesLegacyJobsInMemory(t *testing.T) {
	store := newStoreHarness(t)
	writeLegacyPlan(t, store, "old-plan", legacyBlob)

	meta, err := store.ReadPlanMetadata(context.Background(), "old-plan")
	if err != nil {
		t.Fatalf("read legacy plan: %v", err)
	}
	if meta.SchemaVersion != plan.CurrentSchemaVersion {
		t.Fatalf("in-memory schema version = %d, want %d", meta.SchemaVersion, plan.CurrentSchemaVersion)
	}
	if len(meta.Nodes) != 2 {
		t.Fatalf("legacy jobs not surfaced as nodes: %+v", meta.Nodes)
	}
}

func TestMigrateLegacyRewritesOnDisk(t *testing.T) {
	store := newStoreHarness(t)
	ctx := context.Background()
	writeLegacyPlan(t, store, "old-plan", legacyBlob)

	if err := store.MigrateLegacy(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	meta, err := store.ReadPlanMetadata(ctx, "old-plan")
	if err != nil {
		t.Fatalf("read migrated plan: %v", err)
	}
	if meta.SchemaVersion != plan.CurrentSchemaVersion {
		t.Fatalf("schema version = %d, want %d", meta.SchemaVersion, plan.CurrentSchemaVersion)
	}

	// Dependencies now use stable identifiers.
	build := meta.Nodes[meta.NodeByProducer("build")]
	if len(build.DependsOn) != 1 || build.DependsOn[0] != "node-a" {
		t.Fatalf("dependency not normalized to stable id: %v", build.DependsOn)
	}

	// Inline specs moved to per-node files.
	for _, node := range meta.Nodes {
		if node.Work != nil {
			t.Fatalf("node %s still carries an inline spec", node.ProducerID)
		}
		spec, err := store.ReadNodeSpec(ctx, "old-plan", node.ID, plan.PhaseWork)
		if err != nil {
			t.Fatalf("read externalized spec for %s: %v", node.ProducerID, err)
		}
		if spec.Kind != plan.SpecShell {
			t.Fatalf("unexpected externalized spec for %s: %+v", node.ProducerID, spec)
		}
		if len(node.Phases) != 1 || node.Phases[0] != plan.PhaseWork {
			t.Fatalf("node %s phases not recorded: %v", node.ProducerID, node.Phases)
		}
	}

	// The raw blob no longer says "jobs".
	data, err := os.ReadFile(filepath.Join(store.PlanDir("old-plan"), "plan.json"))
	if err != nil {
		t.Fatalf("read raw blob: %v", err)
	}
	if string(data) == legacyBlob {
		t.Fatalf("blob was not rewritten")
	}
}

func TestMigrateLegacySkipsCurrentSchema(t *testing.T) {
	store := newStoreHarness(t)
	ctx := context.Background()

	meta := sampleMetadata("fresh")
	if err := store.WritePlanMetadata(ctx, meta); err != nil {
		t.Fatalf("write: %v", err)
	}
	before, err := os.ReadFile(filepath.Join(store.PlanDir("fresh"), "plan.json"))
	if err != nil {
		t.Fatalf("read before: %v", err)
	}

	if err := store.MigrateLegacy(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	after, err := os.ReadFile(filepath.Join(store.PlanDir("fresh"), "plan.json"))
	if err != nil {
		t.Fatalf("read after: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("current-schema plan should be untouched by migration")
	}
}

func TestMigrateLegacyLeavesScaffoldingSpecsInline(t *testing.T) {
	store := newStoreHarness(t)
	ctx := context.Background()

	const scaffoldBlob = `{
  "id": "draft",
  "name": "Draft",
  "status": "scaffolding",
  "created_at": "2024-06-01T10:00:00Z",
  "jobs": [
    {"producer_id": "a", "name": "A", "work": {"kind": "shell", "shell": {"command": "true"}}}
  ]
}`
	writeLegacyPlan(t, store, "draft", scaffoldBlob)

	if err := store.MigrateLegacy(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	meta, err := store.ReadPlanMetadata(ctx, "draft")
	if err != nil {
		t.Fatalf("read migrated scaffold: %v", err)
	}
	if len(meta.Nodes) != 1 || meta.Nodes[0].Work == nil {
		t.Fatalf("scaffolding plan must keep inline specs: %+v", meta.Nodes)
	}
}
