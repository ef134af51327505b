package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	base := `{{define "base"}}<title>{{.Title}}</title>{{template "content" .}}{{end}}`
	index := `{{define "content"}}{{range .IntroSteps}}<h2>{{.Title}}</h2>{{end}}{{range .Filters}}<option value="{{.ID}}">{{.Label}}</option>{{end}}{{end}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.html"), []byte(base), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0o644))
	return dir
}

func TestPageHandler_RendersIntroAndFilters(t *testing.T) {
	h, err := NewPageHandler(writeTemplates(t), discardLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.HandleIndex(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>CRONO ESFERA</title>")
	for _, step := range IntroSteps {
		assert.Contains(t, body, step.Title)
	}
	assert.Contains(t, body, `value="none"`)
}

func TestNewPageHandler_MissingTemplates(t *testing.T) {
	_, err := NewPageHandler(t.TempDir(), discardLogger())
	assert.Error(t, err)
}
