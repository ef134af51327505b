package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crono-esfera/internal/auth"
	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/repository"
	"github.com/sakif/crono-esfera/internal/repository/sqlite"
)

// =========================================================================
// SHARED TEST HELPERS
// =========================================================================

const testSecret = "test-secret-at-least-16"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(":memory:", discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)
	return tokens
}

// sessionCookie signs id in for a test request.
func sessionCookie(t *testing.T, tokens *auth.TokenService, id model.Identity) *http.Cookie {
	t.Helper()
	token, err := tokens.Generate(id)
	require.NoError(t, err)
	return auth.SessionCookie(token)
}

func seedSector(t *testing.T, store repository.DocumentStore, s model.Sector) {
	t.Helper()
	fields, err := repository.StructFields(s)
	require.NoError(t, err)
	require.NoError(t, store.Commit(context.Background(), repository.Set(model.SectorsCollection, s.DocID(), fields)))
}

// fakeSectors is a fixed registry mirror.
type fakeSectors struct {
	sectors []model.Sector
}

func (f *fakeSectors) Sectors() []model.Sector { return f.sectors }

func (f *fakeSectors) Sector(id int) (model.Sector, bool) {
	for _, s := range f.sectors {
		if s.ID == id {
			return s, true
		}
	}
	return model.Sector{}, false
}

func (f *fakeSectors) Leaderboard() []model.Sector {
	out := append([]model.Sector(nil), f.sectors...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].StartTime < out[j-1].StartTime; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// serve runs req through a chi router with route mounted at pattern, so URL
// params resolve the way they do in the server.
func serve(method, pattern string, h http.HandlerFunc, req *http.Request, mw ...func(http.Handler) http.Handler) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.With(mw...).Method(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}
