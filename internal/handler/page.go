// Package handler contains the HTTP and websocket surface.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming request (path params, cookies, body)
//  2. Call a service, the registry or the client hub
//  3. Write the response (status code, headers, body)
//
// Handlers hold no business rules; they are the glue between HTTP and the
// rest of the app.
package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/sakif/crono-esfera/internal/compositor"
)

// IntroStep is one card of the first-visit overlay.
type IntroStep struct {
	Title string
	Desc  string
}

// IntroSteps are shown in order until the visitor dismisses the overlay.
var IntroSteps = []IntroStep{
	{"BEM-VINDO À CRONO ESFERA", "Uma arena global onde a visibilidade é o único recurso que importa."},
	{"O TEMPO É SEU PODER", "Cada setor é disputado em tempo real. Quanto mais tempo você dominar, maior será seu legado."},
	{"REIVINDIQUE O ESPAÇO", "Use sua câmera para registrar sua presença e expulsar o ocupante atual."},
	{"ESTEJA PRONTO", "Sua imagem ficará exposta para o mundo até que alguém seja mais rápido que você."},
}

// FilterOption is one entry of the filter picker.
type FilterOption struct {
	ID    string
	Label string
}

// PageHandler serves the single page. Templates are parsed once at startup.
type PageHandler struct {
	templates *template.Template
	logger    *slog.Logger
}

// NewPageHandler parses base.html (layout) and index.html (content) so
// they can reference each other via {{template "content" .}}.
func NewPageHandler(templateDir string, logger *slog.Logger) (*PageHandler, error) {
	tmpl, err := template.ParseFiles(
		filepath.Join(templateDir, "base.html"),
		filepath.Join(templateDir, "index.html"),
	)
	if err != nil {
		return nil, err
	}
	return &PageHandler{templates: tmpl, logger: logger}, nil
}

// HandleIndex serves the page.
//
// HTTP: GET /
func (h *PageHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	filters := make([]FilterOption, 0, len(compositor.All()))
	for _, f := range compositor.All() {
		filters = append(filters, FilterOption{ID: f.String(), Label: f.Label()})
	}

	data := map[string]any{
		"Title":      "CRONO ESFERA",
		"IntroSteps": IntroSteps,
		"Filters":    filters,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, "base", data); err != nil {
		h.logger.Error("failed to render template", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
