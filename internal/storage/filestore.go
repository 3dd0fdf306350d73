package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loomworks/loom/internal/plan"
)

const (
	plansDirName    = "plans"
	metadataName    = "plan.json"
	nodesDirName    = "nodes"
	attemptsDirName = "attempts"
	currentLinkName = "current"
)

// FileStore implements Store on a plain directory tree.
type FileStore struct {
	root string
}

// NewFileStore creates a file store rooted at the given data directory and
// ensures the plans directory exists.
func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage: root directory is required")
	}
	if err := os.MkdirAll(filepath.Join(root, plansDirName), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create plans directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the data directory the store was created with.
func (s *FileStore) Root() string {
	return s.root
}

// PlanDir returns the directory holding one plan's files. Exposed so
// adjacent concerns (the per-plan journal) can live next to the metadata.
func (s *FileStore) PlanDir(planID string) string {
	return filepath.Join(s.root, plansDirName, planID)
}

func (s *FileStore) planPath(planID string) string {
	return filepath.Join(s.PlanDir(planID), metadataName)
}

func (s *FileStore) nodeDir(planID, nodeID string) string {
	return filepath.Join(s.PlanDir(planID), nodesDirName, nodeID)
}

func (s *FileStore) attemptDir(planID, nodeID string, attempt int) string {
	return filepath.Join(s.nodeDir(planID, nodeID), attemptsDirName, strconv.Itoa(attempt))
}

func (s *FileStore) currentLink(planID, nodeID string) string {
	return filepath.Join(s.nodeDir(planID, nodeID), currentLinkName)
}

func specFileName(phase plan.Phase) string {
	return string(phase) + ".json"
}

// ReadPlanMetadata loads one plan's metadata blob.
func (s *FileStore) ReadPlanMetadata(ctx context.Context, planID string) (*plan.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ReadPlanMetadataSync(planID)
}

// ReadPlanMetadataSync is ReadPlanMetadata without a context, for callers
// running outside one.
func (s *FileStore) ReadPlanMetadataSync(planID string) (*plan.Metadata, error) {
	data, err := os.ReadFile(s.planPath(planID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return nil, fmt.Errorf("storage: read plan %s: %w", planID, err)
	}
	meta, err := decodeMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("storage: decode plan %s: %w", planID, err)
	}
	return meta, nil
}

// WritePlanMetadata persists one plan's metadata blob.
func (s *FileStore) WritePlanMetadata(ctx context.Context, meta *plan.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.WritePlanMetadataSync(meta)
}

// WritePlanMetadataSync is WritePlanMetadata without a context.
func (s *FileStore) WritePlanMetadataSync(meta *plan.Metadata) error {
	if meta == nil || strings.TrimSpace(meta.ID) == "" {
		return fmt.Errorf("storage: plan metadata requires an id")
	}
	if err := os.MkdirAll(s.PlanDir(meta.ID), 0o755); err != nil {
		return fmt.Errorf("storage: create plan directory for %s: %w", meta.ID, err)
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode plan %s: %w", meta.ID, err)
	}
	if err := os.WriteFile(s.planPath(meta.ID), append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("storage: write plan %s: %w", meta.ID, err)
	}
	return nil
}

// WriteNodeSpec stores one phase specification for a node, creating the
// first attempt directory and the current pointer on first use.
func (s *FileStore) WriteNodeSpec(ctx context.Context, planID, nodeID string, phase plan.Phase, spec *plan.Spec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !plan.ValidPhase(phase) {
		return fmt.Errorf("storage: unknown phase %q", phase)
	}
	if spec == nil {
		return fmt.Errorf("storage: nil spec for %s/%s %s", planID, nodeID, phase)
	}
	dir, err := s.ensureCurrentAttempt(planID, nodeID)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode spec %s/%s %s: %w", planID, nodeID, phase, err)
	}
	path := filepath.Join(dir, specFileName(phase))
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("storage: write spec %s/%s %s: %w", planID, nodeID, phase, err)
	}
	return nil
}

// ReadNodeSpec loads the current specification for a node phase.
func (s *FileStore) ReadNodeSpec(ctx context.Context, planID, nodeID string, phase plan.Phase) (*plan.Spec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.currentLink(planID, nodeID), specFileName(phase))
	return s.readSpecFile(path, planID, nodeID, phase)
}

// ReadNodeSpecForAttempt loads the specification snapshotted for a numbered
// attempt.
func (s *FileStore) ReadNodeSpecForAttempt(ctx context.Context, planID, nodeID string, phase plan.Phase, attempt int) (*plan.Spec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if attempt < 1 {
		return nil, fmt.Errorf("storage: attempt numbers are 1-based, got %d", attempt)
	}
	path := filepath.Join(s.attemptDir(planID, nodeID, attempt), specFileName(phase))
	return s.readSpecFile(path, planID, nodeID, phase)
}

func (s *FileStore) readSpecFile(path, planID, nodeID string, phase plan.Phase) (*plan.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s %s", ErrSpecNotFound, planID, nodeID, phase)
		}
		return nil, fmt.Errorf("storage: read spec %s/%s %s: %w", planID, nodeID, phase, err)
	}
	var spec plan.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("storage: decode spec %s/%s %s: %w", planID, nodeID, phase, err)
	}
	return &spec, nil
}

// HasNodeSpec reports whether the current attempt holds a specification for
// the phase.
func (s *FileStore) HasNodeSpec(ctx context.Context, planID, nodeID string, phase plan.Phase) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path := filepath.Join(s.currentLink(planID, nodeID), specFileName(phase))
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat spec %s/%s %s: %w", planID, nodeID, phase, err)
	}
	return true, nil
}

// SnapshotSpecsForAttempt copies the current specification files into the
// attempt directory and re-points the current link at it.
func (s *FileStore) SnapshotSpecsForAttempt(ctx context.Context, planID, nodeID string, attempt int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if attempt < 1 {
		return fmt.Errorf("storage: attempt numbers are 1-based, got %d", attempt)
	}
	target := s.attemptDir(planID, nodeID, attempt)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("storage: create attempt directory %s/%s #%d: %w", planID, nodeID, attempt, err)
	}

	link := s.currentLink(planID, nodeID)
	source, err := s.resolveCurrent(planID, nodeID)
	if err != nil {
		return err
	}
	if source != "" && source != target {
		for _, phase := range plan.AllPhases() {
			src := filepath.Join(source, specFileName(phase))
			if _, err := os.Stat(src); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return fmt.Errorf("storage: stat spec %s/%s %s: %w", planID, nodeID, phase, err)
			}
			if err := copyFile(src, filepath.Join(target, specFileName(phase))); err != nil {
				return fmt.Errorf("storage: snapshot spec %s/%s %s: %w", planID, nodeID, phase, err)
			}
		}
	}
	if err := relink(filepath.Join(attemptsDirName, strconv.Itoa(attempt)), link); err != nil {
		return fmt.Errorf("storage: repoint current for %s/%s: %w", planID, nodeID, err)
	}
	return nil
}

// ListPlanIDs enumerates every plan directory under the root, sorted.
func (s *FileStore) ListPlanIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, plansDirName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list plans: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// DeletePlan physically removes a plan directory. Removing an absent plan
// is not an error.
func (s *FileStore) DeletePlan(ctx context.Context, planID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(planID) == "" {
		return fmt.Errorf("storage: plan id is required")
	}
	if err := os.RemoveAll(s.PlanDir(planID)); err != nil {
		return fmt.Errorf("storage: delete plan %s: %w", planID, err)
	}
	return nil
}

// Exists reports whether a plan's metadata blob is present.
func (s *FileStore) Exists(ctx context.Context, planID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := os.Stat(s.planPath(planID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat plan %s: %w", planID, err)
	}
	return true, nil
}

// ensureCurrentAttempt creates attempt 1 plus the current link on first use
// and returns the directory the current link points at.
func (s *FileStore) ensureCurrentAttempt(planID, nodeID string) (string, error) {
	current, err := s.resolveCurrent(planID, nodeID)
	if err != nil {
		return "", err
	}
	if current != "" {
		return current, nil
	}
	first := s.attemptDir(planID, nodeID, 1)
	if err := os.MkdirAll(first, 0o755); err != nil {
		return "", fmt.Errorf("storage: create attempt directory %s/%s #1: %w", planID, nodeID, err)
	}
	if err := relink(filepath.Join(attemptsDirName, "1"), s.currentLink(planID, nodeID)); err != nil {
		return "", fmt.Errorf("storage: link current for %s/%s: %w", planID, nodeID, err)
	}
	return first, nil
}

// resolveCurrent returns the directory the current link targets, or "" when
// the node has no attempts yet.
func (s *FileStore) resolveCurrent(planID, nodeID string) (string, error) {
	link := s.currentLink(planID, nodeID)
	target, err := os.Readlink(link)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("storage: resolve current for %s/%s: %w", planID, nodeID, err)
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target), nil
	}
	return filepath.Join(s.nodeDir(planID, nodeID), target), nil
}

// relink atomically-enough replaces link with a symlink to target.
func relink(target, link string) error {
	if err := os.Remove(link); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Symlink(target, link)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
