package storage

import (
	"context"
	"errors"

	"github.com/loomworks/loom/internal/plan"
)

// ErrPlanNotFound is returned when no metadata exists for a plan identifier.
var ErrPlanNotFound = errors.New("storage: plan not found")

// ErrSpecNotFound is returned when a node carries no stored specification
// for the requested phase or attempt.
var ErrSpecNotFound = errors.New("storage: node spec not found")

// Store persists plan metadata and per-node specification files. The plan
// repository only ever talks to this interface; timeouts on individual
// reads and writes are the implementation's concern.
type Store interface {
	ReadPlanMetadata(ctx context.Context, planID string) (*plan.Metadata, error)
	WritePlanMetadata(ctx context.Context, meta *plan.Metadata) error
	// The Sync variants serve callers that cannot carry a context, such as
	// process-exit handlers. They perform the same I/O inline and never
	// queue or defer work.
	ReadPlanMetadataSync(planID string) (*plan.Metadata, error)
	WritePlanMetadataSync(meta *plan.Metadata) error

	ReadNodeSpec(ctx context.Context, planID, nodeID string, phase plan.Phase) (*plan.Spec, error)
	WriteNodeSpec(ctx context.Context, planID, nodeID string, phase plan.Phase, spec *plan.Spec) error
	HasNodeSpec(ctx context.Context, planID, nodeID string, phase plan.Phase) (bool, error)
	// SnapshotSpecsForAttempt copies the current specification files into
	// the numbered attempt directory and re-points the current pointer at
	// it. Earlier attempts stay readable via ReadNodeSpecForAttempt.
	SnapshotSpecsForAttempt(ctx context.Context, planID, nodeID string, attempt int) error
	ReadNodeSpecForAttempt(ctx context.Context, planID, nodeID string, phase plan.Phase, attempt int) (*plan.Spec, error)

	ListPlanIDs(ctx context.Context) ([]string, error)
	DeletePlan(ctx context.Context, planID string) error
	Exists(ctx context.Context, planID string) (bool, error)
	// MigrateLegacy upgrades every persisted plan to the current metadata
	// schema version on disk.
	MigrateLegacy(ctx context.Context) error
}
