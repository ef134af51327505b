// Package identity tracks who is signed in to a client session and scopes
// per-identity subscriptions to the identity they were opened for.
//
// GENERATIONS:
// Every identity change starts a new Generation. Subscriptions opened for a
// user (their profile document, for example) are registered with the
// Generation that was current when they were opened. Before the next
// Generation becomes visible, the previous one's handles are stopped, and
// any callback that still arrives for it is dropped by Guard. This is what
// keeps user A's profile from being shown after user B signed in.
package identity

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/repository"
)

// Generation is one period during which the identity did not change.
type Generation struct {
	id       uint64
	identity model.Identity
	watcher  *Watcher

	mu      sync.Mutex
	handles []repository.Subscription
	closed  bool
}

// ID increases by one with every identity change.
func (g *Generation) ID() uint64 { return g.id }

// Identity is the identity for this generation. Anonymous when UID is empty.
func (g *Generation) Identity() model.Identity { return g.identity }

// Current reports whether no identity change happened since g started.
func (g *Generation) Current() bool {
	return g.watcher.gen.Load() == g.id
}

// Own ties sub to this generation. If the generation already ended, sub is
// stopped right away.
func (g *Generation) Own(sub repository.Subscription) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		sub.Stop()
		return
	}
	g.handles = append(g.handles, sub)
	g.mu.Unlock()
}

// Guard wraps fn so it only runs while g is current.
func (g *Generation) Guard(fn func()) func() {
	return func() {
		if !g.Current() {
			g.watcher.logger.Debug("dropping callback from stale identity generation", slog.Uint64("generation", g.id))
			return
		}
		fn()
	}
}

func (g *Generation) close() {
	g.mu.Lock()
	handles := g.handles
	g.handles = nil
	g.closed = true
	g.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}

// Watcher publishes identity changes.
//
// Listeners are called synchronously from Set, in registration order, after
// the previous generation's handles have been stopped.
type Watcher struct {
	logger *slog.Logger
	gen    atomic.Uint64

	setMu sync.Mutex // serialises Set

	mu        sync.Mutex
	current   *Generation
	listeners map[int]func(*Generation)
	nextID    int
}

// NewWatcher starts at generation 1 with the anonymous identity.
func NewWatcher(logger *slog.Logger) *Watcher {
	w := &Watcher{
		logger:    logger,
		listeners: make(map[int]func(*Generation)),
	}
	w.current = &Generation{id: 1, watcher: w}
	w.gen.Store(1)
	return w
}

// Current returns the active generation.
func (w *Watcher) Current() *Generation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// OnChange registers fn and immediately calls it with the current
// generation. The returned function unregisters it.
func (w *Watcher) OnChange(fn func(*Generation)) (cancel func()) {
	w.setMu.Lock()
	defer w.setMu.Unlock()

	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	current := w.current
	w.mu.Unlock()

	fn(current)

	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

// Set switches to id. Setting the identity that is already current is not a
// transition and does nothing.
func (w *Watcher) Set(id model.Identity) {
	w.setMu.Lock()
	defer w.setMu.Unlock()

	w.mu.Lock()
	prev := w.current
	if prev.identity == id {
		w.mu.Unlock()
		return
	}
	next := &Generation{id: prev.id + 1, identity: id, watcher: w}
	w.mu.Unlock()

	// Bump the counter first so callbacks racing with the teardown are
	// already seen as stale.
	w.gen.Store(next.id)
	prev.close()

	w.mu.Lock()
	w.current = next
	listeners := make([]func(*Generation), 0, len(w.listeners))
	for i := 0; i < w.nextID; i++ {
		if fn, ok := w.listeners[i]; ok {
			listeners = append(listeners, fn)
		}
	}
	w.mu.Unlock()

	w.logger.Info("identity changed",
		slog.Uint64("generation", next.id),
		slog.Bool("authenticated", id.Authenticated()),
		slog.String("uid", id.UID),
	)

	for _, fn := range listeners {
		fn(next)
	}
}

// Close ends the current generation without starting a new one.
func (w *Watcher) Close() {
	w.setMu.Lock()
	defer w.setMu.Unlock()

	w.mu.Lock()
	current := w.current
	w.mu.Unlock()
	w.gen.Add(1)
	current.close()
}
