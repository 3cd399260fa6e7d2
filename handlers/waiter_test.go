package handlers_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"

	"mediawaiter/api"
	"mediawaiter/config"
	"mediawaiter/handlers"
	"mediawaiter/internal/hashpath"
	"mediawaiter/internal/sendfile"
	"mediawaiter/models"
	"mediawaiter/render"
	"mediawaiter/services/library"
	"mediawaiter/services/mediaviewer"
)

const testSecret = "test-secret"

type upstream struct {
	token       *models.Token
	tokenStatus int
	emptyToken  bool
	clicks      atomic.Int32
	viewed      atomic.Int32
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/downloadtoken/"):
		if u.tokenStatus != 0 {
			w.WriteHeader(u.tokenStatus)
			return
		}
		if u.emptyToken {
			io.WriteString(w, "{}")
			return
		}
		_ = json.NewEncoder(w).Encode(u.token)
	case r.URL.Path == "/api/downloadclick/":
		u.clicks.Add(1)
	case strings.HasPrefix(r.URL.Path, "/ajaxgenres/"):
		io.WriteString(w, `{"tv_genres": [[1, "Action"]], "movie_genres": [[2, "Drama"]]}`)
	case strings.HasPrefix(r.URL.Path, "/ajaxcollections/"):
		io.WriteString(w, `{"collections": [[3, "Favorites"]]}`)
	case r.URL.Path == "/ajaxsuperviewed/":
		u.viewed.Add(1)
	case strings.HasPrefix(r.URL.Path, "/ajaxvideoprogress/"):
		if r.Method == http.MethodGet {
			io.WriteString(w, `{"offset": 42, "date_edited": "2024-05-01T10:00:00Z"}`)
		}
	default:
		http.NotFound(w, r)
	}
}

func movieToken() *models.Token {
	return &models.Token{
		IsValid:     true,
		IsMovie:     true,
		Path:        "Movies/Heat",
		DisplayName: "Heat",
		Username:    "kev",
		Theme:       "dark",
	}
}

func mediaSettings() config.MediaSettings {
	return config.MediaSettings{
		BasePath:             "/media",
		MediaDirs:            []string{"Movies"},
		MinimumFileSize:      100,
		StreamableExtensions: []string{".mp4"},
		SubtitleExtensions:   []string{".srt", ".vtt"},
		EncodedSuffix:        "mv-encoded",
		WalkLimit:            1000,
	}
}

func movieFs(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for path, size := range map[string]int{
		"/media/Movies/Heat/Heat.mv-encoded.mp4": 500,
		"/media/Movies/Heat/Heat.srt":            10,
	} {
		if err := afero.WriteFile(fsys, path, []byte(strings.Repeat("x", size)), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return fsys
}

func newRouter(t *testing.T, up *upstream, fsys afero.Fs) http.Handler {
	t.Helper()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := mediaviewer.NewClient(config.MediaViewerSettings{
		BaseURL:         srv.URL,
		ExternalBaseURL: "http://mv.example/mediaviewer",
		Username:        "waiter",
		Password:        "pw",
		VerifyTLS:       true,
		TimeoutSeconds:  2,
		RetryAttempts:   1,
	}, logger)

	hasher, err := hashpath.New(testSecret)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	lib := library.NewService(fsys, hasher, mediaSettings(), logger)
	sender := sendfile.NewSender(fsys, config.DeliverySettings{
		UseNginx:          true,
		NginxLocation:     "/download",
		DefaultRangeBytes: 500,
	}, "/media", logger)

	waiter := handlers.NewWaiter(tokens, lib, sender, render.New(logger), "/waiter", logger)
	r := mux.NewRouter()
	api.Register(r, waiter, "/waiter", logger)
	return r
}

func entryHash(t *testing.T) string {
	t.Helper()
	hasher, err := hashpath.New(testSecret)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	return hasher.Hash("Movies/Heat/Heat.mv-encoded.mp4")
}

func do(router http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestDirListsMovieEntries(t *testing.T) {
	router := newRouter(t, &upstream{token: movieToken()}, movieFs(t))
	rec := do(router, http.MethodGet, "/waiter/dir/guid-1/", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Heat.mv-encoded.mp4") {
		t.Fatalf("listing missing filename: %s", body)
	}
	if !strings.Contains(body, "/waiter/stream/guid-1/"+entryHash(t)) {
		t.Fatalf("listing missing stream link: %s", body)
	}
	if strings.Contains(body, "/media/Movies") {
		t.Fatal("listing leaked a real path")
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("expected Accept-Ranges header, got %q", got)
	}
}

func TestDirRejectsNonMovieToken(t *testing.T) {
	tok := movieToken()
	tok.IsMovie = false
	tok.Filename = "Heat.mv-encoded.mp4"
	router := newRouter(t, &upstream{token: tok}, movieFs(t))

	rec := do(router, http.MethodGet, "/waiter/dir/guid-1/", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Access is unauthorized!") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestExpiredTokenRendersMessageWith200(t *testing.T) {
	tok := movieToken()
	tok.IsValid = false
	router := newRouter(t, &upstream{token: tok}, movieFs(t))

	rec := do(router, http.MethodGet, "/waiter/dir/guid-1/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "This token has expired!") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestMissingTokenRendersInvalidMessage(t *testing.T) {
	up := &upstream{token: movieToken()}
	up.emptyToken = true
	router := newRouter(t, up, movieFs(t))

	rec := do(router, http.MethodGet, "/waiter/dir/guid-1/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "This token is invalid!") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "expired") {
		t.Fatalf("missing token must not read as expired: %s", rec.Body.String())
	}
}

func TestUpstreamFailureRendersGenericErrorWith400(t *testing.T) {
	router := newRouter(t, &upstream{tokenStatus: http.StatusInternalServerError}, movieFs(t))

	rec := do(router, http.MethodGet, "/waiter/dir/guid-1/", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "An error has occurred") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestFileDeliversByHash(t *testing.T) {
	up := &upstream{token: movieToken()}
	router := newRouter(t, up, movieFs(t))

	req := httptest.NewRequest(http.MethodGet, "/waiter/file/guid-1/"+entryHash(t), nil)
	req.Header.Set("Range", "bytes=0-99")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Accel-Redirect"); got != "/download/Movies/Heat/Heat.mv-encoded.mp4" {
		t.Fatalf("unexpected redirect %q", got)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-99/500" {
		t.Fatalf("unexpected content range %q", got)
	}
	if up.clicks.Load() != 1 {
		t.Fatalf("expected 1 download click, got %d", up.clicks.Load())
	}
}

func TestFileRejectsUnknownHash(t *testing.T) {
	router := newRouter(t, &upstream{token: movieToken()}, movieFs(t))

	rec := do(router, http.MethodGet, "/waiter/file/guid-1/"+strings.Repeat("0", 64), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Access is unauthorized!") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestStreamRendersPlaybackPage(t *testing.T) {
	router := newRouter(t, &upstream{token: movieToken()}, movieFs(t))
	hash := entryHash(t)

	rec := do(router, http.MethodGet, "/waiter/stream/guid-1/"+hash, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "/waiter/file/guid-1/"+hash) {
		t.Fatalf("page missing video source: %s", body)
	}
	if !strings.Contains(body, "Heat.srt") {
		t.Fatalf("page missing subtitle track: %s", body)
	}
	if !strings.Contains(body, "http://mv.example/mediaviewer/tvshows/genre/1/") {
		t.Fatalf("page missing genre link: %s", body)
	}
	if !strings.Contains(body, "/waiter/offset/guid-1/"+hash) {
		t.Fatalf("page missing offset url: %s", body)
	}
}

func TestStatusReflectsMediaDirs(t *testing.T) {
	router := newRouter(t, &upstream{token: movieToken()}, movieFs(t))
	rec := do(router, http.MethodGet, "/waiter/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !payload["status"] {
		t.Fatal("expected healthy status")
	}

	empty := newRouter(t, &upstream{token: movieToken()}, afero.NewMemMapFs())
	rec = do(empty, http.MethodGet, "/waiter/status/", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestViewedForwardsToUpstream(t *testing.T) {
	up := &upstream{token: movieToken()}
	router := newRouter(t, up, movieFs(t))

	rec := do(router, http.MethodPost, "/waiter/viewed/guid-1", strings.NewReader("viewed=true"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if up.viewed.Load() != 1 {
		t.Fatalf("expected 1 viewed forward, got %d", up.viewed.Load())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["errmsg"] != "" {
		t.Fatalf("unexpected errmsg %q", payload["errmsg"])
	}
}

func TestOffsetProxiesUpstreamState(t *testing.T) {
	router := newRouter(t, &upstream{token: movieToken()}, movieFs(t))
	hash := entryHash(t)

	rec := do(router, http.MethodGet, "/waiter/offset/guid-1/"+hash, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var offset models.VideoOffset
	if err := json.Unmarshal(rec.Body.Bytes(), &offset); err != nil {
		t.Fatalf("decode offset: %v", err)
	}
	if offset.Offset != 42 {
		t.Fatalf("unexpected offset %+v", offset)
	}

	rec = do(router, http.MethodPost, "/waiter/offset/guid-1/"+hash, strings.NewReader("offset=900"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on store, got %d", rec.Code)
	}

	rec = do(router, http.MethodPost, "/waiter/offset/guid-1/"+hash, strings.NewReader("offset=abc"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad offset, got %d", rec.Code)
	}
}
