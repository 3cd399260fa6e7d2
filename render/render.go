// Package render writes the waiter's HTML pages from embedded templates.
package render

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"mediawaiter/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Renderer executes the embedded page templates. Template errors after the
// header is written can only be logged; the client already has a status line.
type Renderer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Renderer {
	return &Renderer{logger: logger.With("component", "render")}
}

// Error writes the shared error page with the given HTTP status.
func (r *Renderer) Error(w http.ResponseWriter, status int, page models.ErrorPage) {
	if page.Title == "" {
		page.Title = "Error"
	}
	r.execute(w, status, "error.html", page)
}

// Display writes the file-listing page.
func (r *Renderer) Display(w http.ResponseWriter, page models.DisplayPage) {
	r.execute(w, http.StatusOK, "display.html", page)
}

// Video writes the playback page.
func (r *Renderer) Video(w http.ResponseWriter, page models.VideoPage) {
	r.execute(w, http.StatusOK, "video.html", page)
}

func (r *Renderer) execute(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		r.logger.Error("render failed", "template", name, "error", err)
	}
}
