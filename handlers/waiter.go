// Package handlers wires the waiter's HTTP endpoints: token-gated listings,
// file delivery, the playback page, and the progress proxy.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/gorilla/mux"

	"mediawaiter/models"
	"mediawaiter/services/library"
	"mediawaiter/services/mediaviewer"
)

const genericErrorText = "An error has occurred"

// Renderer is the page-writing surface the handlers need. The concrete
// implementation lives in the render package.
type Renderer interface {
	Error(w http.ResponseWriter, status int, page models.ErrorPage)
	Display(w http.ResponseWriter, page models.DisplayPage)
	Video(w http.ResponseWriter, page models.VideoPage)
}

// Waiter owns all content-serving routes. Every handler follows the same
// sequence: resolve the token, validate it, enumerate, then act. Token
// validation always completes before any filesystem access.
type Waiter struct {
	tokens  *mediaviewer.Client
	library *library.Service
	sender  Sender
	pages   Renderer
	logger  *slog.Logger
	appName string
}

// Sender delivers a resolved file; implemented by the sendfile package.
type Sender interface {
	Send(w http.ResponseWriter, r *http.Request, ref models.FileRef) error
}

func NewWaiter(tokens *mediaviewer.Client, lib *library.Service, sender Sender, pages Renderer, appName string, logger *slog.Logger) *Waiter {
	return &Waiter{
		tokens:  tokens,
		library: lib,
		sender:  sender,
		pages:   pages,
		logger:  logger.With("component", "handlers"),
		appName: appName,
	}
}

// resolveToken fetches and validates the request's token. When it returns
// ok=false the response has already been written.
func (h *Waiter) resolveToken(w http.ResponseWriter, r *http.Request) (*models.Token, bool) {
	guid := mux.Vars(r)["guid"]
	token, err := h.tokens.Token(r.Context(), guid)
	if err != nil {
		h.logger.Error("token resolution failed", "guid", guid, "error", err)
		h.pages.Error(w, http.StatusBadRequest, models.ErrorPage{ErrorText: genericErrorText})
		return nil, false
	}
	if msg := h.tokens.CheckToken(token, guid); msg != "" {
		page := models.ErrorPage{ErrorText: msg}
		if token != nil {
			page.Username = token.Username
			page.Theme = token.Theme
		}
		h.pages.Error(w, http.StatusOK, page)
		return nil, false
	}
	return token, true
}

// Dir lists every streamable file under a movie token. Only movie tokens may
// list directories; episode tokens resolve to exactly one file and are
// rejected outright.
func (h *Waiter) Dir(w http.ResponseWriter, r *http.Request) {
	token, ok := h.resolveToken(w, r)
	if !ok {
		return
	}

	entries, err := h.library.MovieEntries(token)
	if errors.Is(err, library.ErrNotMovie) {
		h.logger.Warn("directory listing attempted with a non-movie token", "guid", token.GUID)
		h.pages.Error(w, http.StatusBadRequest, h.errorPage(token, "Access is unauthorized!"))
		return
	}
	if err != nil {
		h.logger.Error("enumeration failed", "guid", token.GUID, "error", err)
		h.pages.Error(w, http.StatusBadRequest, h.errorPage(token, genericErrorText))
		return
	}

	h.pages.Display(w, models.DisplayPage{
		Title:    token.DisplayName,
		Files:    h.fileRows(token, entries),
		Username: token.Username,
		Theme:    token.Theme,
	})
}

// FileListing shows the listing page for a token, typically a single-file
// episode token.
func (h *Waiter) FileListing(w http.ResponseWriter, r *http.Request) {
	token, ok := h.resolveToken(w, r)
	if !ok {
		return
	}

	entries, err := h.library.Entries(token)
	if err != nil {
		h.logger.Error("enumeration failed", "guid", token.GUID, "error", err)
		h.pages.Error(w, http.StatusBadRequest, h.errorPage(token, genericErrorText))
		return
	}

	h.pages.Display(w, models.DisplayPage{
		Title:    token.DisplayName,
		Files:    h.fileRows(token, entries),
		Username: token.Username,
		Theme:    token.Theme,
	})
}

// File resolves the hashed identifier against the token's current entries
// and delivers the file.
func (h *Waiter) File(w http.ResponseWriter, r *http.Request) {
	token, ok := h.resolveToken(w, r)
	if !ok {
		return
	}

	hash := mux.Vars(r)["hash"]
	ref, err := h.library.ResolveByHash(token, hash)
	if errors.Is(err, library.ErrNotFound) {
		h.logger.Warn("unresolvable identifier", "guid", token.GUID, "hash", hash)
		h.pages.Error(w, http.StatusNotFound, h.errorPage(token, "Access is unauthorized!"))
		return
	}
	if err != nil {
		h.logger.Error("resolution failed", "guid", token.GUID, "error", err)
		h.pages.Error(w, http.StatusBadRequest, h.errorPage(token, genericErrorText))
		return
	}

	// Best effort; a failed stats report must never block the transfer.
	if err := h.tokens.RecordDownload(r.Context(), token, ref.Filename, ref.Size); err != nil {
		h.logger.Warn("download click report failed", "guid", token.GUID, "error", err)
	}

	if err := h.sender.Send(w, r, ref); err != nil {
		h.logger.Error("send failed", "guid", token.GUID, "file", ref.Filename, "error", err)
		h.pages.Error(w, http.StatusBadRequest, h.errorPage(token, genericErrorText))
	}
}

// Stream renders the playback page for the entry matching the hashed
// identifier, enriched with genre and collection navigation. The enrichment
// calls serve the same page being rendered, so their failures fail the
// request instead of being swallowed.
func (h *Waiter) Stream(w http.ResponseWriter, r *http.Request) {
	token, ok := h.resolveToken(w, r)
	if !ok {
		return
	}

	hash := mux.Vars(r)["hash"]
	entries, err := h.library.Entries(token)
	if err != nil {
		h.logger.Error("enumeration failed", "guid", token.GUID, "error", err)
		h.pages.Error(w, http.StatusBadRequest, h.errorPage(token, genericErrorText))
		return
	}

	var entry *models.Entry
	for i := range entries {
		if entries[i].Hash == hash {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		h.logger.Warn("unresolvable identifier", "guid", token.GUID, "hash", hash)
		h.pages.Error(w, http.StatusNotFound, h.errorPage(token, "Access is unauthorized!"))
		return
	}

	tvGenres, movieGenres, err := h.tokens.Genres(r.Context(), token.GUID)
	if err != nil {
		h.logger.Error("genre lookup failed", "guid", token.GUID, "error", err)
		h.pages.Error(w, http.StatusBadRequest, h.errorPage(token, genericErrorText))
		return
	}
	collections, err := h.tokens.Collections(r.Context(), token.GUID)
	if err != nil {
		h.logger.Error("collection lookup failed", "guid", token.GUID, "error", err)
		h.pages.Error(w, http.StatusBadRequest, h.errorPage(token, genericErrorText))
		return
	}

	subtitles := make([]models.SubtitleTrack, 0, len(entry.Subtitles))
	for _, sub := range entry.Subtitles {
		subtitles = append(subtitles, models.SubtitleTrack{
			Label: sub.Filename,
			URL:   h.waiterPath("file", token.GUID, sub.Hash),
		})
	}

	h.pages.Video(w, models.VideoPage{
		Title:        token.DisplayName,
		Filename:     entry.Filename,
		VideoURL:     h.waiterPath("file", token.GUID, entry.Hash),
		Subtitles:    subtitles,
		GUID:         token.GUID,
		OffsetURL:    h.waiterPath("offset", token.GUID, entry.Hash),
		ViewedURL:    path.Join(h.appName, "viewed", token.GUID),
		NextID:       token.NextID,
		PreviousID:   token.PreviousID,
		BingeMode:    token.BingeMode,
		DonationSite: token.DonationSite,
		TVGenres:     tvGenres,
		MovieGenres:  movieGenres,
		Collections:  collections,
		Username:     token.Username,
		Theme:        token.Theme,
	})
}

// Status is the liveness probe: healthy only when every configured media
// subdirectory exists.
func (h *Waiter) Status(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	healthy := true
	if err := h.library.CheckDirs(); err != nil {
		h.logger.Error("health check failed", "error", err)
		status = http.StatusInternalServerError
		healthy = false
	}
	writeJSON(w, status, map[string]bool{"status": healthy})
}

// Viewed forwards the viewed flag for the token to mediaviewer.
func (h *Waiter) Viewed(w http.ResponseWriter, r *http.Request) {
	guid := mux.Vars(r)["guid"]
	viewed := r.FormValue("viewed") == "true"
	if err := h.tokens.MarkViewed(r.Context(), guid, viewed); err != nil {
		h.logger.Error("viewed forward failed", "guid", guid, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"errmsg": genericErrorText})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"errmsg": ""})
}

// Offset proxies watch-position state for one hashed filename to
// mediaviewer, which owns all progress-tracking state.
func (h *Waiter) Offset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	guid, hash := vars["guid"], vars["hash"]

	switch r.Method {
	case http.MethodGet:
		offset, err := h.tokens.VideoOffset(r.Context(), guid, hash)
		if err != nil {
			h.logger.Error("offset fetch failed", "guid", guid, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"errmsg": genericErrorText})
			return
		}
		writeJSON(w, http.StatusOK, offset)
	case http.MethodPost:
		offset, err := strconv.ParseInt(r.FormValue("offset"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"errmsg": "invalid offset"})
			return
		}
		if err := h.tokens.SetVideoOffset(r.Context(), guid, hash, offset); err != nil {
			h.logger.Error("offset store failed", "guid", guid, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"errmsg": genericErrorText})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"errmsg": ""})
	case http.MethodDelete:
		if err := h.tokens.DeleteVideoOffset(r.Context(), guid, hash); err != nil {
			h.logger.Error("offset delete failed", "guid", guid, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"errmsg": genericErrorText})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"errmsg": ""})
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Waiter) fileRows(token *models.Token, entries []models.Entry) []models.FileRow {
	rows := make([]models.FileRow, 0, len(entries))
	for _, entry := range entries {
		row := models.FileRow{
			Filename:    entry.Filename,
			Size:        entry.DisplaySize,
			Path:        h.waiterPath("file", token.GUID, entry.Hash),
			Streamable:  entry.Streamable,
			HasProgress: entry.HasProgress,
			IsMovie:     token.IsMovie,
		}
		if !token.IsMovie {
			row.DisplayName = token.DisplayName
		}
		if entry.Streamable {
			row.StreamingPath = h.waiterPath("stream", token.GUID, entry.Hash)
		}
		rows = append(rows, row)
	}
	return rows
}

func (h *Waiter) errorPage(token *models.Token, text string) models.ErrorPage {
	return models.ErrorPage{
		ErrorText: text,
		Username:  token.Username,
		Theme:     token.Theme,
	}
}

func (h *Waiter) waiterPath(kind, guid, hash string) string {
	return path.Join(h.appName, kind, guid, hash)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
