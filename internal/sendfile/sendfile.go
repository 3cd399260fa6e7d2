// Package sendfile delivers resolved media files over HTTP, either by
// delegating the byte transfer to a front-end nginx or by streaming the
// bytes itself.
package sendfile

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"mediawaiter/config"
	"mediawaiter/internal/httprange"
	"mediawaiter/models"
)

// Sender writes file responses. In accelerated mode it never reads file
// bytes beyond a content-type sniff; nginx streams the range straight from
// disk via the redirect header.
type Sender struct {
	fs            afero.Fs
	accelerated   bool
	nginxLocation string
	basePath      string
	defaultLength uint64
	bandwidth     *BandwidthManager
	logger        *slog.Logger
}

func NewSender(fsys afero.Fs, cfg config.DeliverySettings, basePath string, logger *slog.Logger) *Sender {
	return &Sender{
		fs:            fsys,
		accelerated:   cfg.UseNginx,
		nginxLocation: cfg.NginxLocation,
		basePath:      basePath,
		defaultLength: uint64(cfg.DefaultRangeBytes),
		bandwidth:     NewBandwidthManager(cfg.BandwidthLimitMBps*1_000_000, logger),
		logger:        logger.With("component", "sendfile"),
	}
}

// Send answers the request with ref's bytes. A non-nil error means nothing
// was written yet and the caller still owns the response; otherwise the
// response is complete, including the 416 case.
func (s *Sender) Send(w http.ResponseWriter, r *http.Request, ref models.FileRef) error {
	if s.accelerated {
		return s.sendAccelerated(w, r, ref)
	}
	return s.sendDirect(w, r, ref)
}

func (s *Sender) sendAccelerated(w http.ResponseWriter, r *http.Request, ref models.FileRef) error {
	rel, err := filepath.Rel(s.basePath, ref.RealPath)
	if err != nil {
		return fmt.Errorf("map %s into %s: %w", ref.RealPath, s.nginxLocation, err)
	}

	rng, err := httprange.Parse(uint64(ref.Size), r.Header.Get("Range"), s.defaultLength)
	if err != nil {
		w.Header().Set("Content-Range", httprange.Unsatisfiable(uint64(ref.Size)))
		http.Error(w, "requested range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	// The header value must be URL-escaped or nginx rejects paths with
	// spaces and non-ASCII episode names.
	redirect := (&url.URL{Path: path.Join(s.nginxLocation, filepath.ToSlash(rel))}).EscapedPath()

	h := w.Header()
	h.Set("X-Accel-Redirect", redirect)
	h.Set("X-Accel-Buffering", "no")
	h.Set("Content-Type", s.contentType(ref))
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ref.Filename))
	h.Set("Content-Range", rng.ContentRange(uint64(ref.Size)))
	h.Set("Content-Length", strconv.FormatUint(rng.Length, 10))
	w.WriteHeader(http.StatusPartialContent)

	s.logger.Info("accelerated send",
		"file", ref.Filename,
		"redirect", redirect,
		"range", rng.ContentRange(uint64(ref.Size)))
	return nil
}

func (s *Sender) sendDirect(w http.ResponseWriter, r *http.Request, ref models.FileRef) error {
	f, err := s.fs.Open(ref.RealPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", ref.RealPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", ref.RealPath, err)
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ref.Filename))
	http.SetCookie(w, &http.Cookie{Name: "fileDownload", Value: "true", Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: "path", Value: "/", Path: "/"})

	lw, release := s.bandwidth.Writer(w, r)
	defer release()

	s.logger.Info("direct send", "file", ref.Filename, "size", ref.Size, "range", r.Header.Get("Range"))
	http.ServeContent(lw, r, ref.Filename, info.ModTime(), f)
	return nil
}

// contentType sniffs the file's leading bytes; detection failure falls back
// to the generic binary type rather than erroring a working download.
func (s *Sender) contentType(ref models.FileRef) string {
	f, err := s.fs.Open(ref.RealPath)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}
