package sendfile_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"mediawaiter/config"
	"mediawaiter/internal/sendfile"
	"mediawaiter/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFs(t *testing.T, path, content string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return fsys
}

func acceleratedSender(fsys afero.Fs) *sendfile.Sender {
	cfg := config.DeliverySettings{
		UseNginx:          true,
		NginxLocation:     "/download",
		DefaultRangeBytes: 500,
	}
	return sendfile.NewSender(fsys, cfg, "/media", testLogger())
}

func directSender(fsys afero.Fs) *sendfile.Sender {
	cfg := config.DeliverySettings{
		UseNginx:          false,
		DefaultRangeBytes: 500,
	}
	return sendfile.NewSender(fsys, cfg, "/media", testLogger())
}

func TestAcceleratedSendExplicitRange(t *testing.T) {
	body := strings.Repeat("x", 1234)
	fsys := newFs(t, "/media/Movies/Heat/Heat.mv-encoded.mp4", body)
	ref := models.FileRef{
		RealPath: "/media/Movies/Heat/Heat.mv-encoded.mp4",
		Filename: "Heat.mv-encoded.mp4",
		Size:     1234,
	}

	req := httptest.NewRequest(http.MethodGet, "/file", nil)
	req.Header.Set("Range", "bytes=500-999")
	rec := httptest.NewRecorder()

	if err := acceleratedSender(fsys).Send(rec, req, ref); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	resp := rec.Result()
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Accel-Redirect"); got != "/download/Movies/Heat/Heat.mv-encoded.mp4" {
		t.Fatalf("unexpected redirect %q", got)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 500-999/1234" {
		t.Fatalf("unexpected content range %q", got)
	}
	if got := resp.Header.Get("Content-Length"); got != "500" {
		t.Fatalf("unexpected content length %q", got)
	}
	if got := resp.Header.Get("X-Accel-Buffering"); got != "no" {
		t.Fatalf("unexpected buffering hint %q", got)
	}
	if body, _ := io.ReadAll(resp.Body); len(body) != 0 {
		t.Fatalf("accelerated response must carry no body, got %d bytes", len(body))
	}
}

func TestAcceleratedSendDefaultsWindowWithoutRange(t *testing.T) {
	fsys := newFs(t, "/media/Movies/Heat/Heat.mv-encoded.mp4", strings.Repeat("x", 1234))
	ref := models.FileRef{
		RealPath: "/media/Movies/Heat/Heat.mv-encoded.mp4",
		Filename: "Heat.mv-encoded.mp4",
		Size:     1234,
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/file", nil)
	if err := acceleratedSender(fsys).Send(rec, req, ref); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-499/1234" {
		t.Fatalf("unexpected content range %q", got)
	}
}

func TestAcceleratedSendEscapesRedirectPath(t *testing.T) {
	fsys := newFs(t, "/media/tv shows/Show/S01E01.mv-encoded.mp4", strings.Repeat("x", 100))
	ref := models.FileRef{
		RealPath: "/media/tv shows/Show/S01E01.mv-encoded.mp4",
		Filename: "S01E01.mv-encoded.mp4",
		Size:     100,
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/file", nil)
	if err := acceleratedSender(fsys).Send(rec, req, ref); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if got := rec.Header().Get("X-Accel-Redirect"); got != "/download/tv%20shows/Show/S01E01.mv-encoded.mp4" {
		t.Fatalf("unexpected redirect %q", got)
	}
}

func TestAcceleratedSendAnswers416(t *testing.T) {
	fsys := newFs(t, "/media/Movies/Heat/Heat.mv-encoded.mp4", strings.Repeat("x", 1234))
	ref := models.FileRef{
		RealPath: "/media/Movies/Heat/Heat.mv-encoded.mp4",
		Filename: "Heat.mv-encoded.mp4",
		Size:     1234,
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/file", nil)
	req.Header.Set("Range", "bytes=5000-")
	if err := acceleratedSender(fsys).Send(rec, req, ref); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */1234" {
		t.Fatalf("unexpected content range %q", got)
	}
	if rec.Header().Get("X-Accel-Redirect") != "" {
		t.Fatal("416 response must not carry a redirect header")
	}
}

func TestDirectSendServesRange(t *testing.T) {
	body := "0123456789"
	fsys := newFs(t, "/media/Movies/Heat/Heat.mv-encoded.mp4", body)
	ref := models.FileRef{
		RealPath: "/media/Movies/Heat/Heat.mv-encoded.mp4",
		Filename: "Heat.mv-encoded.mp4",
		Size:     int64(len(body)),
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/file", nil)
	req.Header.Set("Range", "bytes=2-5")
	if err := directSender(fsys).Send(rec, req, ref); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	resp := rec.Result()
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", resp.StatusCode)
	}
	got, _ := io.ReadAll(resp.Body)
	if string(got) != "2345" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestDirectSendServesWholeFile(t *testing.T) {
	body := "0123456789"
	fsys := newFs(t, "/media/Movies/Heat/Heat.mv-encoded.mp4", body)
	ref := models.FileRef{
		RealPath: "/media/Movies/Heat/Heat.mv-encoded.mp4",
		Filename: "Heat.mv-encoded.mp4",
		Size:     int64(len(body)),
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/file", nil)
	if err := directSender(fsys).Send(rec, req, ref); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	resp := rec.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got, _ := io.ReadAll(resp.Body)
	if string(got) != body {
		t.Fatalf("unexpected body %q", got)
	}

	var sawCookie bool
	for _, c := range resp.Cookies() {
		if c.Name == "fileDownload" && c.Value == "true" {
			sawCookie = true
		}
	}
	if !sawCookie {
		t.Fatal("expected fileDownload cookie")
	}
}

func TestDirectSendReportsOpenFailure(t *testing.T) {
	ref := models.FileRef{RealPath: "/media/missing.mp4", Filename: "missing.mp4", Size: 10}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/file", nil)
	if err := directSender(afero.NewMemMapFs()).Send(rec, req, ref); err == nil {
		t.Fatal("expected an error for a vanished file")
	}
}

func TestDirectSendThrottledStillDeliversEverything(t *testing.T) {
	body := strings.Repeat("y", 200_000)
	fsys := newFs(t, "/media/Movies/Heat/Heat.mv-encoded.mp4", body)
	ref := models.FileRef{
		RealPath: "/media/Movies/Heat/Heat.mv-encoded.mp4",
		Filename: "Heat.mv-encoded.mp4",
		Size:     int64(len(body)),
	}

	cfg := config.DeliverySettings{UseNginx: false, BandwidthLimitMBps: 1000}
	sender := sendfile.NewSender(fsys, cfg, "/media", testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/file", nil)
	req.RemoteAddr = "203.0.113.9:55000"
	if err := sender.Send(rec, req, ref); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if rec.Body.Len() != len(body) {
		t.Fatalf("expected %d bytes, got %d", len(body), rec.Body.Len())
	}
}
