// Package manifest loads declarative plan definitions from HCL or YAML
// files and applies them through the plan repository in one step.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomworks/loom/internal/ctxlog"
	"github.com/loomworks/loom/internal/plan"
	"github.com/loomworks/loom/internal/plan/repository"
)

// Manifest is the format-agnostic description of one plan and its nodes.
type Manifest struct {
	Name         string
	BaseBranch   string
	TargetBranch string
	MaxParallel  int
	RepoPath     string
	WorktreeRoot string
	Validation   *plan.Spec
	Nodes        []plan.Node
}

// Validate checks the manifest-level fields. Node-level problems (missing
// producers, bad specs, unknown dependencies, cycles) surface when the
// manifest is applied, with the repository's own errors.
func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("manifest: plan name is required")
	}
	if err := m.Validation.Validate(); err != nil {
		return fmt.Errorf("manifest: validation spec: %w", err)
	}
	return nil
}

// File pairs a parsed manifest with its on-disk source.
type File struct {
	Manifest Manifest
	Path     string
}

// Load reads one manifest file, dispatching on the extension.
func Load(ctx context.Context, path string) (Manifest, error) {
	log := ctxlog.FromContext(ctx)
	info, err := os.Stat(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Manifest{}, fmt.Errorf("manifest: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read %s: %w", path, err)
	}

	var m Manifest
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl":
		m, err = parseHCL(data, path)
	case ".yaml", ".yml":
		m, err = parseYAML(data, path)
	default:
		return Manifest{}, fmt.Errorf("manifest: unsupported extension %q in %s", ext, path)
	}
	if err != nil {
		return Manifest{}, err
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("%w (%s)", err, path)
	}
	log.Debug("manifest loaded", "path", path, "plan", m.Name, "nodes", len(m.Nodes))
	return m, nil
}

// LoadDir scans a directory for manifest files in sorted path order.
// Missing directories are treated as "no manifests" to simplify startup.
func LoadDir(ctx context.Context, dir string) ([]File, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("manifest: read %s: %w", trimmed, err)
	}
	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !isManifestFile(entry.Name()) {
			continue
		}
		path := filepath.Join(trimmed, entry.Name())
		m, err := Load(ctx, path)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Manifest: m, Path: filepath.Clean(path)})
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Apply scaffolds the manifest's plan, adds every node, and finalizes it,
// returning the pending plan. A failed apply deletes the half-built plan;
// the delete is best-effort because the original error is what matters.
func Apply(ctx context.Context, repo *repository.Repository, m Manifest) (*plan.Plan, error) {
	if repo == nil {
		return nil, fmt.Errorf("manifest: plan repository is required")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	p, err := repo.Scaffold(ctx, m.Name, repository.ScaffoldOptions{
		BaseBranch:   m.BaseBranch,
		TargetBranch: m.TargetBranch,
		MaxParallel:  m.MaxParallel,
		RepoPath:     m.RepoPath,
		WorktreeRoot: m.WorktreeRoot,
		Validation:   m.Validation,
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: apply %s: %w", m.Name, err)
	}
	for _, node := range m.Nodes {
		if _, err := repo.AddNode(ctx, p.ID(), node); err != nil {
			_ = repo.Delete(ctx, p.ID())
			return nil, fmt.Errorf("manifest: apply %s: %w", m.Name, err)
		}
	}
	sealed, err := repo.Finalize(ctx, p.ID())
	if err != nil {
		_ = repo.Delete(ctx, p.ID())
		return nil, fmt.Errorf("manifest: apply %s: %w", m.Name, err)
	}
	return sealed, nil
}

func isManifestFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".hcl") ||
		strings.HasSuffix(lower, ".yaml") ||
		strings.HasSuffix(lower, ".yml")
}
