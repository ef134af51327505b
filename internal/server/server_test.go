package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.html"), []byte(`{{define "base"}}{{template "content" .}}{{end}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(`{{define "content"}}{{.Title}}{{end}}`), 0o644))

	cfg.TemplateDir = dir
	cfg.StaticDir = t.TempDir()
	cfg.DBPath = ":memory:"

	s, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.db.Close() })
	return s
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, Config{JWTSecret: "route-test-secret-123"})

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/api/sectors", http.StatusOK},
		{http.MethodGet, "/api/leaderboard", http.StatusOK},
		{http.MethodGet, "/api/stats", http.StatusOK},
		{http.MethodGet, "/api/sectors/5", http.StatusNotFound},
		{http.MethodGet, "/api/me", http.StatusUnauthorized},
		{http.MethodPost, "/api/sectors/5/like", http.StatusUnauthorized},
		{http.MethodPost, "/auth/logout", http.StatusOK},
		{http.MethodGet, "/media/5/0", http.StatusNotFound},
		// Sign-in is off without a Google client id.
		{http.MethodGet, "/auth/google/login", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRoutes_GoogleSignInEnabled(t *testing.T) {
	s := newTestServer(t, Config{
		GoogleClientID:     "client",
		GoogleClientSecret: "secret",
		GoogleCallbackURL:  "http://localhost:8080/auth/google/callback",
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "accounts.google.com")
}

func TestNew_ShortSecretRejected(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Config{JWTSecret: "short", TemplateDir: dir, DBPath: ":memory:"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
