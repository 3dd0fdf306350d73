// Package repository orchestrates the plan lifecycle: scaffold, mutate,
// finalize, execute, delete. Every operation against one plan runs under
// that plan's exclusive queue; operations against different plans never
// contend.
package repository

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/keyedmutex"
	"github.com/loomworks/loom/internal/storage"
)

// ErrPlanDeleted is returned when an operation targets a plan whose deletion
// tombstone has been recorded in this process.
var ErrPlanDeleted = errors.New("plan repository: plan deleted")

// Repository owns the per-plan operation queues and the in-process record of
// deleted plan identifiers. Both grow monotonically: a queue entry is
// forgotten only after physical deletion completes, and the deleted set
// never shrinks.
type Repository struct {
	store storage.Store
	clock func() time.Time
	newID func() string
	log   *slog.Logger

	queues *keyedmutex.Map

	mu      sync.Mutex
	deleted map[string]struct{}
}

// Option customizes the repository instance.
type Option func(*Repository)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(r *Repository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithIDGenerator injects a deterministic identifier generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Repository) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// WithLogger routes repository diagnostics to the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.log = logger
		}
	}
}

// New wires a plan repository to its persistence store.
func New(store storage.Store, opts ...Option) (*Repository, error) {
	if store == nil {
		return nil, fmt.Errorf("plan repository: storage store is required")
	}
	repo := &Repository{
		store:   store,
		clock:   time.Now,
		newID:   uuid.NewString,
		log:     slog.Default(),
		queues:  keyedmutex.New(),
		deleted: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo, nil
}

func (r *Repository) now() time.Time {
	if r.clock == nil {
		return time.Now()
	}
	return r.clock()
}

// markDeleted records the identifier in the process-wide deleted set.
func (r *Repository) markDeleted(planID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted[planID] = struct{}{}
}

func (r *Repository) isDeleted(planID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.deleted[planID]
	return ok
}
