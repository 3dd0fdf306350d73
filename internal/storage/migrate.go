package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/loomworks/loom/internal/ctxlog"
	"github.com/loomworks/loom/internal/plan"
)

// metadataDocument tolerates every schema version shipped so far. Version 0
// blobs stored the node list under a "jobs" key and kept specifications
// inline even after finalize.
type metadataDocument struct {
	plan.Metadata
	LegacyJobs []plan.Node `json:"jobs,omitempty"`
}

func decodeMetadata(data []byte) (*plan.Metadata, error) {
	var doc metadataDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	meta := doc.Metadata
	upgradeMetadata(&meta, doc.LegacyJobs)
	return &meta, nil
}

// upgradeMetadata normalizes an older schema version in memory so callers
// always observe the current shape. On-disk rewrites happen in
// MigrateLegacy; dependency references are left untouched here because the
// repository resolves both identifier spaces.
func upgradeMetadata(meta *plan.Metadata, legacyJobs []plan.Node) {
	if meta.SchemaVersion >= plan.CurrentSchemaVersion {
		return
	}
	if len(meta.Nodes) == 0 && len(legacyJobs) > 0 {
		meta.Nodes = legacyJobs
	}
	meta.SchemaVersion = plan.CurrentSchemaVersion
}

// MigrateLegacy upgrades every plan on disk to the current schema: renames
// the legacy jobs list, moves inline specifications of finalized plans into
// per-node files, and normalizes finalized dependency references to the
// stable identifier space.
func (s *FileStore) MigrateLegacy(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	ids, err := s.ListPlanIDs(ctx)
	if err != nil {
		return err
	}
	migrated := 0
	for _, id := range ids {
		changed, err := s.migratePlan(ctx, id)
		if err != nil {
			return fmt.Errorf("storage: migrate plan %s: %w", id, err)
		}
		if changed {
			migrated++
		}
	}
	if migrated > 0 {
		logger.Info("migrated legacy plan metadata", "count", migrated)
	}
	return nil
}

func (s *FileStore) migratePlan(ctx context.Context, planID string) (bool, error) {
	data, err := os.ReadFile(s.planPath(planID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Bare directory without metadata; nothing to migrate.
			return false, nil
		}
		return false, err
	}
	var doc metadataDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, err
	}
	if doc.SchemaVersion >= plan.CurrentSchemaVersion {
		return false, nil
	}
	meta := doc.Metadata
	if len(meta.Nodes) == 0 && len(doc.LegacyJobs) > 0 {
		meta.Nodes = doc.LegacyJobs
	}
	if meta.Status != plan.StatusScaffolding {
		if err := s.externalizeSpecs(ctx, &meta); err != nil {
			return false, err
		}
		normalizeDependencyIDs(&meta)
	}
	meta.SchemaVersion = plan.CurrentSchemaVersion
	if err := s.WritePlanMetadata(ctx, &meta); err != nil {
		return false, err
	}
	return true, nil
}

// externalizeSpecs moves inline specifications into per-node files. Nodes
// without a durable identifier are skipped; they cannot have a spec
// directory yet.
func (s *FileStore) externalizeSpecs(ctx context.Context, meta *plan.Metadata) error {
	for i := range meta.Nodes {
		node := &meta.Nodes[i]
		if node.ID == "" {
			continue
		}
		set := node.Specs()
		for _, phase := range plan.AllPhases() {
			spec := set.Phase(phase)
			if spec == nil {
				continue
			}
			has, err := s.HasNodeSpec(ctx, meta.ID, node.ID, phase)
			if err != nil {
				return err
			}
			if !has {
				if err := s.WriteNodeSpec(ctx, meta.ID, node.ID, phase, spec); err != nil {
					return err
				}
			}
		}
		if len(node.Phases) == 0 {
			node.Phases = node.DeclaredPhases()
		}
		node.Work, node.Prechecks, node.Postchecks = nil, nil, nil
	}
	return nil
}

// normalizeDependencyIDs rewrites producer-identifier references of a
// finalized plan to stable node identifiers so rebuilds no longer depend on
// the fallback lookup.
func normalizeDependencyIDs(meta *plan.Metadata) {
	byProducer := make(map[string]string, len(meta.Nodes))
	for _, node := range meta.Nodes {
		if node.ID != "" {
			byProducer[node.ProducerID] = node.ID
		}
	}
	for i := range meta.Nodes {
		for j, dep := range meta.Nodes[i].DependsOn {
			if id, ok := byProducer[dep]; ok {
				meta.Nodes[i].DependsOn[j] = id
			}
		}
	}
}
