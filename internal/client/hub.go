// Package client runs one session per connected browser.
//
// WHAT IS A SESSION?
// Everything one browser tab sees lives in a Session: who is signed in,
// the profile and history panels, the notification list, the selected
// sector and the capture flow. Each Session runs on its own
// eventloop.Loop, so none of that state needs a lock.
//
// THE HUB:
// The Hub is the process-wide side: it owns the global stats subscription,
// keeps the media cache warm when sectors change, and knows every live
// session so a sign-out can reach all tabs of a user.
//
//	websocket ──Command──▶ Session (loop) ──▶ services / registry / camera
//	websocket ◀──Event─── Session (loop) ◀── subscriptions, timers, goroutines
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sakif/crono-esfera/internal/camera"
	"github.com/sakif/crono-esfera/internal/feedback"
	"github.com/sakif/crono-esfera/internal/history"
	"github.com/sakif/crono-esfera/internal/media"
	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/repository"
	"github.com/sakif/crono-esfera/internal/service"
)

// SectorSource is the part of the registry a session reads.
type SectorSource interface {
	OnChange(fn func([]model.Sector)) (cancel func())
}

// SectorActions claims and likes sectors.
type SectorActions interface {
	Claim(ctx context.Context, claimant model.Identity, in service.ClaimInput) (model.Sector, error)
	Like(ctx context.Context, uid string, sectorID int) (model.LikeKey, error)
}

// ProfileActions manages profiles and the visit counter.
type ProfileActions interface {
	EnsureProfile(ctx context.Context, id model.Identity) (model.UserProfile, error)
	RecordVisit(ctx context.Context) error
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Store    repository.DocumentStore
	Sectors  SectorSource
	Actions  SectorActions
	Profiles ProfileActions
	History  *history.Store
	Feedback feedback.Generator
	Cache    *media.Cache // optional
	Logger   *slog.Logger
}

// Hub tracks live sessions.
type Hub struct {
	deps   Deps
	logger *slog.Logger

	visits atomic.Int64

	mu       sync.Mutex
	sessions map[*Session]struct{}
	statsSub repository.Subscription
	stopSync func()
}

func NewHub(deps Deps) *Hub {
	if deps.Feedback == nil {
		deps.Feedback = feedback.Static{}
	}
	return &Hub{
		deps:     deps,
		logger:   deps.Logger,
		sessions: make(map[*Session]struct{}),
	}
}

// Start subscribes to the global stats document and, when a cache is
// configured, preloads sector media whenever the registry changes.
func (h *Hub) Start(ctx context.Context) error {
	sub, err := h.deps.Store.SubscribeDocument(ctx, model.StatsCollection, model.GlobalStatsID, func(doc *repository.Document) {
		var st model.GlobalStats
		if doc != nil {
			if err := doc.DataTo(&st); err != nil {
				h.logger.Warn("decoding global stats", slog.String("error", err.Error()))
				return
			}
		}
		h.visits.Store(st.Visits)
		h.broadcast(func(s *Session) { s.pushStats() })
	})
	if err != nil {
		return fmt.Errorf("client: subscribing to stats: %w", err)
	}

	var stopSync func()
	if h.deps.Cache != nil {
		stopSync = h.deps.Sectors.OnChange(func(sectors []model.Sector) {
			var refs []string
			for _, s := range sectors {
				refs = append(refs, s.Media.Frames...)
			}
			go h.deps.Cache.Preload(ctx, refs)
		})
	}

	h.mu.Lock()
	h.statsSub = sub
	h.stopSync = stopSync
	h.mu.Unlock()
	return nil
}

// Stop ends the hub subscriptions and closes every session still connected.
func (h *Hub) Stop() {
	h.mu.Lock()
	sub, stopSync := h.statsSub, h.stopSync
	h.statsSub, h.stopSync = nil, nil
	sessions := h.snapshot()
	h.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
	if stopSync != nil {
		stopSync()
	}
	for _, s := range sessions {
		s.Close()
	}
}

// Visits is the last known global visit count.
func (h *Hub) Visits() int64 {
	return h.visits.Load()
}

// Len is the number of live sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// SignOut moves every session of uid to the anonymous identity and tells
// the user.
func (h *Hub) SignOut(uid string) {
	if uid == "" {
		return
	}
	h.broadcast(func(s *Session) {
		if s.watcher.Current().Identity().UID != uid {
			return
		}
		s.signOut()
	})
}

// ConnectOptions describe a new browser connection.
type ConnectOptions struct {
	Identity model.Identity
	Sink     Sink
	Device   camera.Device
	// DeviceID identifies the browser. The intro overlay is dismissed per
	// device.
	DeviceID string
	// Flash is an optional notification shown right away, such as the
	// outcome of the sign-in that led to this page load.
	Flash string
	// OnClose runs once after the session has shut down.
	OnClose func()
}

// Connect starts a session. The caller must Close it when the connection
// ends.
func (h *Hub) Connect(ctx context.Context, opts ConnectOptions) *Session {
	s := newSession(ctx, h, opts)
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	s.start(opts)
	h.logger.Info("client connected", slog.String("uid", opts.Identity.UID), slog.Int("sessions", h.Len()))
	return s
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Info("client disconnected", slog.Int("sessions", n))
}

// broadcast runs fn on every session's own loop.
func (h *Hub) broadcast(fn func(*Session)) {
	h.mu.Lock()
	sessions := h.snapshot()
	h.mu.Unlock()

	for _, s := range sessions {
		s.loop.Post(func() { fn(s) })
	}
}

// snapshot must be called with mu held.
func (h *Hub) snapshot() []*Session {
	out := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		out = append(out, s)
	}
	return out
}
