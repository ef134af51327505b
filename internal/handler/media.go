package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sakif/crono-esfera/internal/apperror"
	"github.com/sakif/crono-esfera/internal/media"
	"github.com/sakif/crono-esfera/internal/model"
)

// AssetSource resolves a media reference to bytes.
type AssetSource interface {
	Get(ctx context.Context, ref string) (media.Asset, error)
}

// MediaHandler serves sector media frames. Sectors store their images
// inline as data URLs or as remote URLs; the page never sees either, it
// loads /media/{id}/{frame} and the cache does the rest.
type MediaHandler struct {
	sectors SectorReader
	assets  AssetSource
	now     func() time.Time
	logger  *slog.Logger
}

func NewMediaHandler(sectors SectorReader, assets AssetSource, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{sectors: sectors, assets: assets, now: time.Now, logger: logger}
}

// HandleCurrent serves the frame every viewer is seeing right now, so a
// loop requested twice 120ms apart shows two different frames.
//
// HTTP: GET /media/{id}
func (h *MediaHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.serve(w, r, s, media.CurrentIndex(s.Media, h.now()))
}

// HandleFrame serves one frame of a sector's media by index.
//
// HTTP: GET /media/{id}/{frame}
func (h *MediaHandler) HandleFrame(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	i, err := strconv.Atoi(chi.URLParam(r, "frame"))
	if err != nil || i < 0 || i >= len(s.Media.Frames) {
		writeError(w, apperror.NotFound("frame", chi.URLParam(r, "frame")))
		return
	}
	h.serve(w, r, s, i)
}

func (h *MediaHandler) lookup(w http.ResponseWriter, r *http.Request) (model.Sector, bool) {
	id, err := sectorID(r)
	if err != nil {
		writeError(w, err)
		return model.Sector{}, false
	}
	s, ok := h.sectors.Sector(id)
	if !ok || s.Media.IsZero() {
		writeError(w, apperror.NotFound("sector media", strconv.Itoa(id)))
		return model.Sector{}, false
	}
	return s, true
}

// serve writes frame i of s. The ETag names the reign and the frame, so a
// claim invalidates every cached frame of the sector.
func (h *MediaHandler) serve(w http.ResponseWriter, r *http.Request, s model.Sector, i int) {
	etag := fmt.Sprintf(`"%d-%d-%d"`, s.ID, s.StartTime, i)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	asset, err := h.assets.Get(r.Context(), s.Media.Frame(i))
	if err != nil {
		h.logger.Warn("media unavailable", slog.Int("sector", s.ID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "media_unavailable", Message: "media could not be loaded"})
		return
	}

	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(asset.Data); err != nil {
		h.logger.Debug("writing media failed", slog.String("error", err.Error()))
	}
}
