package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crono-esfera/internal/media"
	"github.com/sakif/crono-esfera/internal/model"
)

// fakeAssets serves every ref as its own bytes, except the ones in fail.
type fakeAssets struct {
	fail  map[string]bool
	calls []string
}

func (f *fakeAssets) Get(_ context.Context, ref string) (media.Asset, error) {
	f.calls = append(f.calls, ref)
	if f.fail[ref] {
		return media.Asset{}, errors.New("upstream down")
	}
	return media.Asset{ContentType: "image/jpeg", Data: []byte(ref)}, nil
}

func newMediaFixture(t *testing.T, assets *fakeAssets) *MediaHandler {
	t.Helper()
	world := []model.Sector{
		{ID: 1, StartTime: 500, Media: model.LoopMedia([]string{"f0", "f1", "f2"})},
		{ID: 2, StartTime: 600, Media: model.SingleMedia("broken")},
		{ID: 3},
	}
	return NewMediaHandler(&fakeSectors{sectors: world}, assets, discardLogger())
}

func TestHandleFrame(t *testing.T) {
	h := newMediaFixture(t, &fakeAssets{fail: map[string]bool{"broken": true}})

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"first frame", "/media/1/0", http.StatusOK, "f0"},
		{"last frame", "/media/1/2", http.StatusOK, "f2"},
		{"past the end", "/media/1/3", http.StatusNotFound, ""},
		{"negative", "/media/1/-1", http.StatusNotFound, ""},
		{"no media", "/media/3/0", http.StatusNotFound, ""},
		{"unknown sector", "/media/9/0", http.StatusNotFound, ""},
		{"upstream failure", "/media/2/0", http.StatusBadGateway, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := serve(http.MethodGet, "/media/{id}/{frame}", h.HandleFrame, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
				assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestHandleFrame_NotModified(t *testing.T) {
	assets := &fakeAssets{}
	h := newMediaFixture(t, assets)

	req := httptest.NewRequest(http.MethodGet, "/media/1/1", nil)
	rec := serve(http.MethodGet, "/media/{id}/{frame}", h.HandleFrame, req)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req = httptest.NewRequest(http.MethodGet, "/media/1/1", nil)
	req.Header.Set("If-None-Match", etag)
	rec = serve(http.MethodGet, "/media/{id}/{frame}", h.HandleFrame, req)

	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Len(t, assets.calls, 1, "a revalidated frame is not loaded again")
}

func TestHandleCurrent_FollowsLoopClock(t *testing.T) {
	h := newMediaFixture(t, &fakeAssets{})
	at := func(ms int64) string {
		h.now = func() time.Time { return time.UnixMilli(ms) }
		req := httptest.NewRequest(http.MethodGet, "/media/1", nil)
		rec := serve(http.MethodGet, "/media/{id}", h.HandleCurrent, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Body.String()
	}

	// 120ms per frame, three frames.
	assert.Equal(t, "f0", at(0))
	assert.Equal(t, "f1", at(120))
	assert.Equal(t, "f2", at(359))
	assert.Equal(t, "f0", at(360))
}
