// Package library enumerates streamable media files for an authorized token
// and resolves hashed identifiers back to real paths.
package library

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"mediawaiter/config"
	"mediawaiter/internal/hashpath"
	"mediawaiter/models"
	"mediawaiter/utils/humansize"
)

var (
	// ErrNotFound is returned when a hashed identifier matches nothing the
	// token currently exposes. Collisions resolve to this as well; picking a
	// match at random would hand out the wrong file.
	ErrNotFound = errors.New("no file matches the requested identifier")

	// ErrNotMovie is returned when a directory listing is requested for a
	// token that only covers a single file.
	ErrNotMovie = errors.New("token does not permit a directory listing")

	errWalkLimit = errors.New("walk limit reached")
)

// Service derives request-scoped entry listings from the filesystem. It holds
// no per-request state; everything it returns is recomputed from the token.
type Service struct {
	fs       afero.Fs
	hasher   *hashpath.Hasher
	settings config.MediaSettings
	logger   *slog.Logger
}

func NewService(fsys afero.Fs, hasher *hashpath.Hasher, settings config.MediaSettings, logger *slog.Logger) *Service {
	return &Service{
		fs:       fsys,
		hasher:   hasher,
		settings: settings,
		logger:   logger.With("component", "library"),
	}
}

// Entries enumerates the files the token exposes. Movie tokens cover a whole
// directory subtree; anything else resolves to at most one file. Running it
// twice against an unchanged tree yields identical identifiers.
func (s *Service) Entries(token *models.Token) ([]models.Entry, error) {
	if token.IsMovie {
		return s.movieEntries(token)
	}
	return s.singleEntry(token)
}

// MovieEntries enumerates a movie token's subtree. It exists separately so the
// directory-listing handler can reject non-movie tokens before touching disk.
func (s *Service) MovieEntries(token *models.Token) ([]models.Entry, error) {
	if !token.IsMovie {
		return nil, ErrNotMovie
	}
	return s.movieEntries(token)
}

type subtitleCandidate struct {
	realPath string
	name     string
	size     int64
}

func (s *Service) movieEntries(token *models.Token) ([]models.Entry, error) {
	root := filepath.Join(s.settings.BasePath, token.Path)

	var entries []models.Entry
	subsByDir := make(map[string][]subtitleCandidate)
	visited := 0

	walkErr := afero.Walk(s.fs, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			// Per-file errors are local: a vanished or unreadable file must
			// not abort the whole listing.
			s.logger.Warn("skipping unreadable path", "path", p, "error", err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		visited++
		if s.settings.WalkLimit > 0 && visited > s.settings.WalkLimit {
			s.logger.Warn("enumeration capped", "root", root, "limit", s.settings.WalkLimit)
			return errWalkLimit
		}
		if s.isSubtitle(info.Name()) {
			dir := filepath.Dir(p)
			subsByDir[dir] = append(subsByDir[dir], subtitleCandidate{
				realPath: p,
				name:     info.Name(),
				size:     info.Size(),
			})
			return nil
		}
		if !s.passesFilter(info.Name(), info.Size()) {
			return nil
		}
		entries = append(entries, s.newEntry(token, p, info.Name(), info.Size()))
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errWalkLimit) {
		return nil, fmt.Errorf("enumerate %s: %w", root, walkErr)
	}

	for i := range entries {
		dir := filepath.Dir(entries[i].RealPath)
		entries[i].Subtitles = s.matchSubtitles(entries[i].Filename, subsByDir[dir])
	}
	return entries, nil
}

func (s *Service) singleEntry(token *models.Token) ([]models.Entry, error) {
	realPath := filepath.Join(s.settings.BasePath, token.Path, token.Filename)
	info, err := s.fs.Stat(realPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", realPath, err)
	}
	if !s.passesFilter(info.Name(), info.Size()) {
		return nil, nil
	}

	entry := s.newEntry(token, realPath, info.Name(), info.Size())
	entry.Subtitles = s.matchSubtitles(entry.Filename, s.scanSubtitles(filepath.Dir(realPath)))
	return []models.Entry{entry}, nil
}

// ResolveByHash re-derives the token's entries and matches the hashed
// identifier against them and their subtitles. The identifier is never
// trusted on its own; it only unlocks what the freshly validated token
// exposes right now. An ambiguous match is a resolution failure.
func (s *Service) ResolveByHash(token *models.Token, hash string) (models.FileRef, error) {
	entries, err := s.Entries(token)
	if err != nil {
		return models.FileRef{}, err
	}

	var ref models.FileRef
	matches := 0
	for _, entry := range entries {
		if entry.Hash == hash {
			ref = models.FileRef{RealPath: entry.RealPath, Filename: entry.Filename, Size: entry.Size}
			matches++
		}
		for _, sub := range entry.Subtitles {
			if sub.Hash == hash {
				ref = models.FileRef{RealPath: sub.RealPath, Filename: sub.Filename, Size: sub.Size}
				matches++
			}
		}
	}
	switch matches {
	case 1:
		return ref, nil
	case 0:
		return models.FileRef{}, ErrNotFound
	default:
		s.logger.Error("identifier collision", "guid", token.GUID, "matches", matches)
		return models.FileRef{}, fmt.Errorf("identifier matched %d files: %w", matches, ErrNotFound)
	}
}

// CheckDirs verifies every configured media subdirectory exists under the
// base path. Used by the liveness probe.
func (s *Service) CheckDirs() error {
	if s.settings.IgnoreDirChecks {
		return nil
	}
	for _, dir := range s.settings.MediaDirs {
		full := filepath.Join(s.settings.BasePath, dir)
		info, err := s.fs.Stat(full)
		if err != nil {
			return fmt.Errorf("media dir %s: %w", full, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("media dir %s: %w", full, os.ErrInvalid)
		}
	}
	return nil
}

func (s *Service) newEntry(token *models.Token, realPath, name string, size int64) models.Entry {
	logical := s.logicalPath(realPath)
	hash := s.hasher.Hash(logical)
	return models.Entry{
		RealPath:    realPath,
		LogicalPath: logical,
		Hash:        hash,
		Filename:    name,
		Size:        size,
		DisplaySize: humansize.Format(size),
		Streamable:  true,
		HasProgress: token.HasProgress(hash),
	}
}

// logicalPath is the hash input: the slash-normalized location relative to
// the base path, so identifiers stay stable across mounts of the same tree.
func (s *Service) logicalPath(realPath string) string {
	rel, err := filepath.Rel(s.settings.BasePath, realPath)
	if err != nil {
		rel = realPath
	}
	return filepath.ToSlash(rel)
}

func (s *Service) scanSubtitles(dir string) []subtitleCandidate {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		s.logger.Warn("skipping subtitle scan", "dir", dir, "error", err)
		return nil
	}
	var candidates []subtitleCandidate
	for _, info := range infos {
		if info.IsDir() || !s.isSubtitle(info.Name()) {
			continue
		}
		candidates = append(candidates, subtitleCandidate{
			realPath: filepath.Join(dir, info.Name()),
			name:     info.Name(),
			size:     info.Size(),
		})
	}
	return candidates
}

func (s *Service) matchSubtitles(mediaName string, candidates []subtitleCandidate) []models.Subtitle {
	if len(candidates) == 0 {
		return nil
	}
	mediaStem := s.mediaStem(mediaName)
	var subs []models.Subtitle
	for _, cand := range candidates {
		if !stemsMatch(mediaStem, stem(cand.name)) {
			continue
		}
		logical := s.logicalPath(cand.realPath)
		subs = append(subs, models.Subtitle{
			RealPath:    cand.realPath,
			LogicalPath: logical,
			Hash:        s.hasher.Hash(logical),
			Filename:    cand.name,
			Size:        cand.size,
		})
	}
	return subs
}

func (s *Service) passesFilter(name string, size int64) bool {
	if size < s.settings.MinimumFileSize {
		return false
	}
	if !hasExtension(name, s.settings.StreamableExtensions) {
		return false
	}
	if s.settings.EncodedSuffix != "" && !strings.Contains(name, s.settings.EncodedSuffix) {
		return false
	}
	return true
}

func (s *Service) isSubtitle(name string) bool {
	return hasExtension(name, s.settings.SubtitleExtensions)
}

// mediaStem strips the extension and the encoded marker so that
// "Heat.mv-encoded.mp4" pairs with "Heat.srt".
func (s *Service) mediaStem(name string) string {
	st := stem(name)
	if s.settings.EncodedSuffix != "" {
		st = strings.TrimSuffix(st, s.settings.EncodedSuffix)
	}
	return strings.TrimRight(st, ". -_")
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// stemsMatch accepts either stem as a prefix of the other, so language
// variants like "Heat.en" still attach.
func stemsMatch(mediaStem, subStem string) bool {
	m := strings.ToLower(mediaStem)
	s := strings.ToLower(subStem)
	return strings.HasPrefix(s, m) || strings.HasPrefix(m, s)
}

func hasExtension(name string, exts []string) bool {
	ext := filepath.Ext(name)
	for _, candidate := range exts {
		if strings.EqualFold(ext, candidate) {
			return true
		}
	}
	return false
}
