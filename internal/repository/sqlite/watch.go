package sqlite

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sakif/crono-esfera/internal/apperror"
	"github.com/sakif/crono-esfera/internal/repository"
)

// SUBSCRIPTION MODEL:
// Every listener owns one goroutine and a single-slot wake channel. A commit
// does a non-blocking send on the wake channel of each interested listener;
// if a wake is already pending the send is dropped, so bursts of commits
// collapse into one reload. On wake the goroutine re-reads the collection (or
// document) and calls the callback with the full, current state.
//
// Writers never block on listeners, and a listener never sees a state older
// than the last commit that woke it.

type hub struct {
	db     *DB
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func newHub(db *DB, logger *slog.Logger) *hub {
	return &hub{
		db:     db,
		logger: logger,
		subs:   make(map[*subscription]struct{}),
	}
}

type subscription struct {
	hub        *hub
	collection string
	docID      string // empty for a collection listener

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	onSnapshot func(repository.Snapshot)
	onDocument func(*repository.Document)
}

// SubscribeCollection listens to every document of a collection.
func (db *DB) SubscribeCollection(ctx context.Context, collection string, fn func(repository.Snapshot)) (repository.Subscription, error) {
	if collection == "" {
		return nil, apperror.ValidationFailed("collection", "collection is required")
	}
	return db.hub.add(ctx, &subscription{collection: collection, onSnapshot: fn}), nil
}

// SubscribeDocument listens to a single document.
func (db *DB) SubscribeDocument(ctx context.Context, collection, id string, fn func(*repository.Document)) (repository.Subscription, error) {
	if collection == "" || id == "" {
		return nil, apperror.ValidationFailed("path", "collection and id are required")
	}
	return db.hub.add(ctx, &subscription{collection: collection, docID: id, onDocument: fn}), nil
}

func (h *hub) add(ctx context.Context, s *subscription) *subscription {
	s.hub = h
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wake = make(chan struct{}, 1)
	s.done = make(chan struct{})

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	// Replay the current state right away.
	s.wake <- struct{}{}

	go s.run()
	return s
}

// notify wakes every listener interested in one of the touched documents.
func (h *hub) notify(touched map[docRef]struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		if !s.interested(touched) {
			continue
		}
		select {
		case s.wake <- struct{}{}:
		default: // reload already pending
		}
	}
}

func (h *hub) remove(s *subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *hub) stopAll() {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Stop()
	}
}

func (s *subscription) interested(touched map[docRef]struct{}) bool {
	for ref := range touched {
		if ref.collection != s.collection {
			continue
		}
		if s.docID == "" || s.docID == ref.id {
			return true
		}
	}
	return false
}

func (s *subscription) run() {
	defer close(s.done)
	defer s.hub.remove(s)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
			s.deliver()
		}
	}
}

func (s *subscription) deliver() {
	if s.docID == "" {
		snap, err := s.hub.db.Query(s.ctx, s.collection)
		if err != nil {
			s.logFailure(err)
			return
		}
		if s.ctx.Err() == nil {
			s.onSnapshot(snap)
		}
		return
	}

	doc, err := s.hub.db.Get(s.ctx, s.collection, s.docID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		s.logFailure(err)
		return
	}
	if s.ctx.Err() == nil {
		s.onDocument(doc)
	}
}

func (s *subscription) logFailure(err error) {
	if s.ctx.Err() != nil {
		return // stopping; the read was cancelled on purpose
	}
	s.hub.logger.Error("subscription reload failed",
		slog.String("collection", s.collection),
		slog.String("doc", s.docID),
		slog.String("error", err.Error()),
	)
}

// Stop cancels the listener and waits for its goroutine to exit. Safe to
// call more than once.
func (s *subscription) Stop() {
	s.cancel()
	<-s.done
}
