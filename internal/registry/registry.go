// Package registry keeps the process-wide mirror of every sector.
//
// The mirror is fed by a live subscription to the sectors collection. Every
// snapshot replaces the whole mirror; readers (HTTP handlers, client
// sessions) get sorted copies and never see a half-applied update.
//
// FIRST START:
// If the collection is empty the world is generated locally so the globe is
// never blank. It is written back to the store in one atomic batch only when
// the registry runs with a seeder identity, and that batch refuses to run if
// another writer seeded in the meantime.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/sakif/crono-esfera/internal/apperror"
	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/repository"
)

// LeaderboardSize is how many sectors the ranking shows.
const LeaderboardSize = 10

// errAlreadySeeded aborts the seeding transaction.
var errAlreadySeeded = errors.New("registry: sectors already present")

// Registry is the shared sector mirror. It is safe for concurrent use.
type Registry struct {
	store  repository.DocumentStore
	logger *slog.Logger
	now    func() time.Time
	rng    *rand.Rand
	seeder string

	mu        sync.RWMutex
	sectors   []model.Sector // sorted by ID
	ready     bool
	readyCh   chan struct{} // closed with the first applied snapshot
	seeded    bool
	listeners map[int]func([]model.Sector)
	nextID    int

	sub repository.Subscription
}

// Option configures a Registry.
type Option func(*Registry)

// WithSeeder makes the registry persist a generated world, acting as uid.
func WithSeeder(uid string) Option {
	return func(r *Registry) { r.seeder = uid }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithRand replaces the source of placeholder reign jitter.
func WithRand(rng *rand.Rand) Option {
	return func(r *Registry) { r.rng = rng }
}

func New(store repository.DocumentStore, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]func([]model.Sector)),
		readyCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		seed := uint64(r.now().UnixNano())
		r.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return r
}

// Start subscribes to the sectors collection. The first snapshot has been
// applied by the time the subscription is live; callers that need the
// mirror populated can wait with WaitReady.
func (r *Registry) Start(ctx context.Context) error {
	sub, err := r.store.SubscribeCollection(ctx, model.SectorsCollection, func(snap repository.Snapshot) {
		r.apply(ctx, snap)
	})
	if err != nil {
		return fmt.Errorf("registry: subscribing to sectors: %w", err)
	}
	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	return nil
}

// Stop ends the subscription. Listeners are kept.
func (r *Registry) Stop() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
}

// WaitReady blocks until the first snapshot was applied or ctx ends.
func (r *Registry) WaitReady(ctx context.Context) error {
	select {
	case <-r.readyCh:
		return nil
	default:
	}
	select {
	case <-r.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the mirror holds data.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

func (r *Registry) apply(ctx context.Context, snap repository.Snapshot) {
	if snap.Empty() {
		r.seed(ctx)
		return
	}

	sectors := make([]model.Sector, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		var s model.Sector
		if err := doc.DataTo(&s); err != nil {
			r.logger.Warn("skipping unreadable sector", slog.String("id", doc.ID), slog.String("error", err.Error()))
			continue
		}
		sectors = append(sectors, s)
	}
	r.replace(sectors)
}

// seed installs a generated world locally and, with a seeder identity,
// persists it. It only ever runs once per registry.
func (r *Registry) seed(ctx context.Context) {
	r.mu.Lock()
	if r.seeded {
		r.mu.Unlock()
		return
	}
	r.seeded = true
	world := GenerateWorld(r.now(), r.rng)
	r.mu.Unlock()

	r.logger.Info("sector collection empty, generating world", slog.Int("sectors", len(world)))
	r.replace(world)

	if r.seeder == "" {
		r.logger.Info("no seeder identity, world kept local only")
		return
	}
	if err := r.persist(ctx, world); err != nil {
		if errors.Is(err, errAlreadySeeded) {
			r.logger.Info("world already seeded by another writer")
			return
		}
		r.logger.Error("seeding world", slog.String("error", err.Error()))
	}
}

// persist writes the whole world in one transaction, unless any sector
// already exists.
func (r *Registry) persist(ctx context.Context, world []model.Sector) error {
	return r.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.Get(ctx, model.SectorsCollection, model.SectorDocID(0))
		if err == nil {
			return errAlreadySeeded
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		for _, s := range world {
			fields, err := repository.StructFields(s)
			if err != nil {
				return err
			}
			if err := tx.Write(ctx, repository.Set(model.SectorsCollection, s.DocID(), fields)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Registry) replace(sectors []model.Sector) {
	slices.SortFunc(sectors, func(a, b model.Sector) int { return a.ID - b.ID })

	r.mu.Lock()
	r.sectors = sectors
	if !r.ready {
		r.ready = true
		close(r.readyCh)
	}
	listeners := r.listenerList()
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(r.Sectors())
	}
}

// listenerList must be called with mu held.
func (r *Registry) listenerList() []func([]model.Sector) {
	out := make([]func([]model.Sector), 0, len(r.listeners))
	for i := 0; i < r.nextID; i++ {
		if fn, ok := r.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// OnChange registers fn for every mirror update. If the mirror is already
// populated fn is called right away. fn must not block: client sessions
// post into their own loop from it.
func (r *Registry) OnChange(fn func([]model.Sector)) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	ready := r.ready
	r.mu.Unlock()

	if ready {
		fn(r.Sectors())
	}
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Sectors returns a copy of the mirror sorted by ascending id.
func (r *Registry) Sectors() []model.Sector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.sectors)
}

// Sector looks up one sector by id.
func (r *Registry) Sector(id int) (model.Sector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, found := slices.BinarySearchFunc(r.sectors, id, func(s model.Sector, id int) int { return s.ID - id })
	if !found {
		return model.Sector{}, false
	}
	return r.sectors[i], true
}

// Leaderboard returns the LeaderboardSize longest reigns, oldest startTime
// first.
func (r *Registry) Leaderboard() []model.Sector {
	return Rank(r.Sectors(), LeaderboardSize)
}

// Rank orders sectors by ascending startTime (earliest claim first) and
// keeps at most n. Ties keep id order.
func Rank(sectors []model.Sector, n int) []model.Sector {
	ranked := slices.Clone(sectors)
	slices.SortStableFunc(ranked, func(a, b model.Sector) int {
		switch {
		case a.StartTime < b.StartTime:
			return -1
		case a.StartTime > b.StartTime:
			return 1
		}
		return 0
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
