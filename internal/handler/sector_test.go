package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crono-esfera/internal/auth"
	"github.com/sakif/crono-esfera/internal/client"
	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/repository"
	"github.com/sakif/crono-esfera/internal/service"
)

var (
	ana   = model.Identity{UID: "google_ana", DisplayName: "Ana"}
	bruno = model.Identity{UID: "google_bruno", DisplayName: "Bruno"}
)

func testWorld() []model.Sector {
	return []model.Sector{
		{ID: 0, OccupantID: "google_bruno", OccupantName: "BRUNO", Title: "A", StartTime: 300_000, Media: model.SingleMedia("https://picsum.photos/seed/0/800/800"), FaceSides: 6},
		{ID: 1, OccupantID: "mock_user_1", OccupantName: "NEO_TOKYO", Title: "B", StartTime: 100_000, LikeCount: 2, FaceSides: 5},
		{ID: 2, OccupantID: "mock_user_2", OccupantName: "VOID_WALKER", Title: "C", StartTime: 200_000, FaceSides: 6},
	}
}

type sectorFixture struct {
	store   repository.DocumentStore
	tokens  *auth.TokenService
	handler *SectorHandler
}

func newSectorFixture(t *testing.T) *sectorFixture {
	t.Helper()
	store := newTestStore(t)
	world := testWorld()
	for _, s := range world {
		seedSector(t, store, s)
	}
	logger := discardLogger()
	h := NewSectorHandler(&fakeSectors{sectors: world},
		service.NewSectorService(store, logger),
		service.NewProfileService(store, logger),
		logger)
	h.now = func() time.Time { return time.UnixMilli(100_000).Add(time.Hour + 2*time.Minute + 3*time.Second) }
	return &sectorFixture{store: store, tokens: newTokens(t), handler: h}
}

func TestHandleList_AnonymousHasNoLikedFlags(t *testing.T) {
	f := newSectorFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sectors", nil)
	rec := serve(http.MethodGet, "/api/sectors", f.handler.HandleList, req, auth.OptionalAuth(f.tokens))

	require.Equal(t, http.StatusOK, rec.Code)
	var views []client.SectorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 3)
	for _, v := range views {
		assert.False(t, v.Liked)
		assert.False(t, v.Own)
	}
	assert.Equal(t, 1, views[0].Frames)
}

func TestHandleList_SignedInSeesLikedAndOwn(t *testing.T) {
	f := newSectorFixture(t)
	_, err := service.NewSectorService(f.store, discardLogger()).Like(context.Background(), bruno.UID, 1)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/sectors", nil)
	req.AddCookie(sessionCookie(t, f.tokens, bruno))
	rec := serve(http.MethodGet, "/api/sectors", f.handler.HandleList, req, auth.OptionalAuth(f.tokens))

	require.Equal(t, http.StatusOK, rec.Code)
	var views []client.SectorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.True(t, views[0].Own, "bruno occupies sector 0")
	assert.True(t, views[1].Liked)
	assert.False(t, views[2].Liked)
}

func TestHandleGet(t *testing.T) {
	f := newSectorFixture(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"found", "/api/sectors/2", http.StatusOK},
		{"unknown id", "/api/sectors/99", http.StatusNotFound},
		{"not a number", "/api/sectors/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := serve(http.MethodGet, "/api/sectors/{id}", f.handler.HandleGet, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHandleLeaderboard_OldestReignFirst(t *testing.T) {
	f := newSectorFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	rec := serve(http.MethodGet, "/api/leaderboard", f.handler.HandleLeaderboard, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []LeaderboardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 3)

	assert.Equal(t, []int64{100_000, 200_000, 300_000},
		[]int64{entries[0].StartTime, entries[1].StartTime, entries[2].StartTime})
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "NEO_TOKYO", entries[0].OccupantName)
	assert.Equal(t, "1h 2m 3s", entries[0].Reign)
}

func TestHandleStats(t *testing.T) {
	f := newSectorFixture(t)
	profiles := service.NewProfileService(f.store, discardLogger())
	require.NoError(t, profiles.RecordVisit(context.Background()))
	require.NoError(t, profiles.RecordVisit(context.Background()))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := serve(http.MethodGet, "/api/stats", f.handler.HandleStats, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats model.GlobalStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Visits)
}

func TestHandleLike(t *testing.T) {
	f := newSectorFixture(t)
	like := func(id model.Identity, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if id.Authenticated() {
			req.AddCookie(sessionCookie(t, f.tokens, id))
		}
		return serve(http.MethodPost, "/api/sectors/{id}/like", f.handler.HandleLike, req, auth.RequireAuth(f.tokens))
	}

	t.Run("anonymous is rejected", func(t *testing.T) {
		rec := like(model.Identity{}, "/api/sectors/1/like")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("first like succeeds", func(t *testing.T) {
		rec := like(ana, "/api/sectors/1/like")
		require.Equal(t, http.StatusOK, rec.Code)

		var body likeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "1-100000", body.Key)
		assert.Equal(t, service.MsgLikeSent, body.Message)
	})

	t.Run("second like on the same reign conflicts", func(t *testing.T) {
		rec := like(ana, "/api/sectors/1/like")
		require.Equal(t, http.StatusConflict, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, service.MsgLikeDuplicate, body.Message)
	})

	t.Run("unknown sector", func(t *testing.T) {
		rec := like(ana, "/api/sectors/42/like")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
