package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sakif/crono-esfera/internal/apperror"
	"github.com/sakif/crono-esfera/internal/auth"
	"github.com/sakif/crono-esfera/internal/client"
	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/service"
)

// SectorReader is the read side of the registry mirror.
type SectorReader interface {
	Sectors() []model.Sector
	Sector(id int) (model.Sector, bool)
	Leaderboard() []model.Sector
}

// SectorHandler serves the registry over plain HTTP. The websocket session
// is the main surface; these endpoints exist for scripts and for the first
// paint before the socket is up.
type SectorHandler struct {
	sectors  SectorReader
	service  *service.SectorService
	profiles *service.ProfileService
	now      func() time.Time
	logger   *slog.Logger
}

func NewSectorHandler(sectors SectorReader, svc *service.SectorService, profiles *service.ProfileService, logger *slog.Logger) *SectorHandler {
	return &SectorHandler{
		sectors:  sectors,
		service:  svc,
		profiles: profiles,
		now:      time.Now,
		logger:   logger,
	}
}

// sectorID parses the {id} URL parameter.
func sectorID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed("id", "sector id must be a number")
	}
	return id, nil
}

// HandleList returns every sector as the globe draws it, with liked flags
// for a signed-in caller.
//
// HTTP: GET /api/sectors
// Auth: Optional
func (h *SectorHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var (
		uid     string
		profile *model.UserProfile
	)
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		uid = id.UID
		if p, err := h.profiles.Profile(r.Context(), uid); err == nil {
			profile = &p
		}
	}

	sectors := h.sectors.Sectors()
	views := make([]client.SectorView, 0, len(sectors))
	for _, s := range sectors {
		views = append(views, client.NewSectorView(s, uid, profile))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleGet returns one sector including its media.
//
// HTTP: GET /api/sectors/{id}
func (h *SectorHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := sectorID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s, ok := h.sectors.Sector(id)
	if !ok {
		writeError(w, apperror.NotFound("sector", strconv.Itoa(id)))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// LeaderboardEntry is one row of the longest-reign ranking.
type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	SectorID       int    `json:"sectorId"`
	OccupantName   string `json:"occupantName"`
	OccupantAvatar string `json:"occupantAvatar"`
	Title          string `json:"title"`
	StartTime      int64  `json:"startTime"`
	Reign          string `json:"reign"`
}

// HandleLeaderboard returns the longest current reigns, oldest first.
//
// HTTP: GET /api/leaderboard
func (h *SectorHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	ranked := h.sectors.Leaderboard()
	entries := make([]LeaderboardEntry, 0, len(ranked))
	for i, s := range ranked {
		entries = append(entries, LeaderboardEntry{
			Rank:           i + 1,
			SectorID:       s.ID,
			OccupantName:   s.OccupantName,
			OccupantAvatar: s.OccupantAvatar,
			Title:          s.Title,
			StartTime:      s.StartTime,
			Reign:          model.FormatReign(s.Reign(now)),
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleStats returns the global counters.
//
// HTTP: GET /api/stats
func (h *SectorHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.profiles.Stats(r.Context())
	if err != nil {
		h.logger.Error("reading stats failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// likeResponse echoes the reign that was liked.
type likeResponse struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// HandleLike likes the current reign of a sector.
//
// HTTP: POST /api/sectors/{id}/like
// Auth: Required
//
// A second like on the same reign answers 409 with "Este registro já foi
// reconhecido."; nothing is written.
func (h *SectorHandler) HandleLike(w http.ResponseWriter, r *http.Request) {
	id, err := sectorID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, _ := auth.IdentityFromContext(r.Context())

	key, err := h.service.Like(r.Context(), caller.UID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, likeResponse{Key: key.String(), Message: service.MsgLikeSent})
}
