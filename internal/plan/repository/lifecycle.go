package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/loomworks/loom/internal/plan"
	"github.com/loomworks/loom/internal/storage"
)

// GetDefinition returns the read-only rebuilt view of a plan. Specifications
// are not loaded; use NodeSpecs for the resolved specs of one node.
func (r *Repository) GetDefinition(ctx context.Context, planID string) (*plan.Plan, error) {
	release := r.queues.Acquire(planID)
	defer release()

	meta, err := r.loadMeta(ctx, planID)
	if err != nil {
		return nil, err
	}
	return rebuild(meta), nil
}

// LoadState reconstructs the full in-memory plan from persisted metadata.
// Tombstoned plans are recorded in the deleted set, physically cleaned up
// best-effort, and reported as deleted.
func (r *Repository) LoadState(ctx context.Context, planID string) (*plan.Plan, error) {
	release := r.queues.Acquire(planID)
	defer release()

	if r.isDeleted(planID) {
		r.cleanupDeleted(ctx, planID)
		return nil, fmt.Errorf("plan repository: plan %s: %w", planID, ErrPlanDeleted)
	}
	meta, err := r.store.ReadPlanMetadata(ctx, planID)
	if err != nil {
		return nil, err
	}
	if meta.Deleted {
		r.markDeleted(planID)
		r.cleanupDeleted(ctx, planID)
		return nil, fmt.Errorf("plan repository: plan %s: %w", planID, ErrPlanDeleted)
	}
	return rebuild(meta), nil
}

// SaveState persists a plan's state. For scaffolding plans only the
// lightweight fields are synced (pause flag and chained-resume reference);
// structural mutation is owned by AddNode, RemoveNode and UpdateNode. For
// finalized plans the full state is written, never inline specs, and the
// stored status only ever moves along the lifecycle: a stale instance
// carrying an earlier status is rejected rather than rolling the plan back.
// A plan whose deletion has been recorded is never recreated, even from a
// stale instance.
func (r *Repository) SaveState(ctx context.Context, p *plan.Plan) error {
	if p == nil {
		return fmt.Errorf("plan repository: plan is required")
	}
	planID := p.ID()
	release := r.queues.Acquire(planID)
	defer release()

	stored, err := r.loadMeta(ctx, planID)
	if err != nil {
		return err
	}
	if staleStatus(stored, &p.Meta) {
		return fmt.Errorf("plan repository: cannot save plan %s: stored status %s does not transition to %s", planID, stored.Status, p.Meta.Status)
	}
	meta := mergeForSave(stored, &p.Meta)
	meta.Version = stored.Version + 1
	return r.store.WritePlanMetadata(ctx, meta)
}

// SaveStateSync is the shutdown-path variant of SaveState: it never returns
// an error, logging and falling back to a no-op on any failure.
func (r *Repository) SaveStateSync(p *plan.Plan) {
	if p == nil {
		return
	}
	planID := p.ID()
	release := r.queues.Acquire(planID)
	defer release()

	if r.isDeleted(planID) {
		r.log.Warn("sync save skipped for deleted plan", "plan", planID)
		return
	}
	stored, err := r.store.ReadPlanMetadataSync(planID)
	if err != nil {
		r.log.Warn("sync save skipped", "plan", planID, "error", err)
		return
	}
	if stored.Deleted {
		r.markDeleted(planID)
		return
	}
	if staleStatus(stored, &p.Meta) {
		r.log.Warn("sync save skipped for stale status",
			"plan", planID, "stored", stored.Status, "given", p.Meta.Status)
		return
	}
	meta := mergeForSave(stored, &p.Meta)
	meta.Version = stored.Version + 1
	if err := r.store.WritePlanMetadataSync(meta); err != nil {
		r.log.Warn("sync save failed", "plan", planID, "error", err)
	}
}

// staleStatus reports whether the given instance would move a finalized
// plan's status somewhere the lifecycle does not allow, which marks the
// instance as older than the stored state. Scaffolding saves never touch the
// status, so the check does not apply there.
func staleStatus(stored, given *plan.Metadata) bool {
	if stored.Status == plan.StatusScaffolding || given.Status == stored.Status {
		return false
	}
	return !plan.CanTransition(stored.Status, given.Status)
}

// mergeForSave reconciles a caller's plan instance with the stored metadata
// according to the plan's phase.
func mergeForSave(stored, given *plan.Metadata) *plan.Metadata {
	if stored.Status == plan.StatusScaffolding {
		merged := stored.Clone()
		merged.Paused = given.Paused
		merged.ResumeFrom = given.ResumeFrom
		return &merged
	}
	merged := given.Clone()
	// On-disk node files are the sole source of truth after finalize.
	for i := range merged.Nodes {
		merged.Nodes[i].Work = nil
		merged.Nodes[i].Prechecks = nil
		merged.Nodes[i].Postchecks = nil
	}
	return &merged
}

// List enumerates all known plans, skipping tombstoned ones and cleaning
// them up opportunistically. Plans that fail to load are skipped with a
// warning rather than failing the whole listing.
func (r *Repository) List(ctx context.Context) ([]*plan.Plan, error) {
	ids, err := r.store.ListPlanIDs(ctx)
	if err != nil {
		return nil, err
	}
	plans := make([]*plan.Plan, 0, len(ids))
	for _, id := range ids {
		p, err := r.LoadState(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrPlanDeleted) && !errors.Is(err, storage.ErrPlanNotFound) {
				r.log.Warn("skipping unreadable plan", "plan", id, "error", err)
			}
			continue
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// Delete removes a plan. The deletion tombstone is written into the metadata
// before physical removal so a crash between the two steps still leaves the
// plan marked deleted; tombstone write failures are logged and swallowed so
// removal stays best-effort. The plan's queue entry is forgotten only after
// physical removal succeeds.
func (r *Repository) Delete(ctx context.Context, planID string) error {
	release := r.queues.Acquire(planID)
	defer release()

	exists, err := r.store.Exists(ctx, planID)
	if err != nil {
		return err
	}
	if !exists {
		if r.isDeleted(planID) {
			return nil
		}
		return fmt.Errorf("plan repository: plan %s: %w", planID, storage.ErrPlanNotFound)
	}

	if meta, err := r.store.ReadPlanMetadata(ctx, planID); err == nil {
		meta.Deleted = true
		meta.Version++
		if err := r.store.WritePlanMetadata(ctx, meta); err != nil {
			r.log.Warn("tombstone write failed", "plan", planID, "error", err)
		}
	} else {
		r.log.Warn("tombstone write skipped", "plan", planID, "error", err)
	}
	r.markDeleted(planID)

	if err := r.store.DeletePlan(ctx, planID); err != nil {
		return err
	}
	r.queues.Forget(planID)
	r.log.Info("plan deleted", "plan", planID)
	return nil
}

// MarkDeletedSync guarantees only the tombstone write, for call sites that
// cannot await physical removal. Cleanup happens opportunistically on a
// later load or list.
func (r *Repository) MarkDeletedSync(planID string) {
	release := r.queues.Acquire(planID)
	defer release()

	r.markDeleted(planID)
	meta, err := r.store.ReadPlanMetadataSync(planID)
	if err != nil {
		r.log.Warn("sync tombstone skipped", "plan", planID, "error", err)
		return
	}
	if meta.Deleted {
		return
	}
	meta.Deleted = true
	meta.Version++
	if err := r.store.WritePlanMetadataSync(meta); err != nil {
		r.log.Warn("sync tombstone write failed", "plan", planID, "error", err)
	}
}

// MigrateLegacy upgrades every persisted plan to the current metadata
// schema. Run it at startup, before plan traffic.
func (r *Repository) MigrateLegacy(ctx context.Context) error {
	return r.store.MigrateLegacy(ctx)
}

// cleanupDeleted physically removes a plan already recorded as deleted.
func (r *Repository) cleanupDeleted(ctx context.Context, planID string) {
	if err := r.store.DeletePlan(ctx, planID); err != nil {
		r.log.Warn("tombstoned plan cleanup failed", "plan", planID, "error", err)
		return
	}
	r.queues.Forget(planID)
}
