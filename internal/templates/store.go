// Package templates resolves the certificate template for a track.
package templates

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	gocache "github.com/patrickmn/go-cache"

	"certify/internal/issuance"
	"certify/internal/render"
)

var (
	ErrUnknownTrack = errors.New("no template configured for track")
	ErrNotFound     = errors.New("template file not found")
)

// Store reads templates from a directory and keeps parsed copies in memory.
// Files are read lazily on first use so a missing template only fails the
// requests for its own track.
type Store struct {
	dir    string
	files  map[issuance.Track]string
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewStore creates a store over dir. files maps each track to a file name
// inside dir.
func NewStore(dir string, files map[issuance.Track]string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		files:  files,
		cache:  gocache.New(gocache.NoExpiration, 0),
		logger: logger,
	}
}

// Template returns the template for track.
func (s *Store) Template(ctx context.Context, track issuance.Track) (render.Template, error) {
	file, ok := s.files[track]
	if !ok {
		return render.Template{}, fmt.Errorf("%w: %s", ErrUnknownTrack, track)
	}
	if v, found := s.cache.Get(file); found {
		if tpl, ok := v.(render.Template); ok {
			return tpl, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return render.Template{}, err
	}

	data, err := os.ReadFile(filepath.Join(s.dir, file))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return render.Template{}, fmt.Errorf("%w: %s", ErrNotFound, file)
		}
		return render.Template{}, fmt.Errorf("read template %s: %w", file, err)
	}
	tpl, err := Inspect(file, data)
	if err != nil {
		return render.Template{}, err
	}
	s.cache.Set(file, tpl, gocache.NoExpiration)
	s.logger.Info("template loaded", "file", file, "track", track, "bytes", len(data), "width", tpl.Width, "height", tpl.Height)
	return tpl, nil
}

// Invalidate drops the cached copy of file.
func (s *Store) Invalidate(file string) {
	s.cache.Delete(file)
}

// Status reports, per track, whether its template can be loaded.
func (s *Store) Status(ctx context.Context) map[issuance.Track]error {
	out := make(map[issuance.Track]error, len(s.files))
	for track := range s.files {
		_, err := s.Template(ctx, track)
		out[track] = err
	}
	return out
}

// Watch evicts cached templates when their files change on disk. It returns
// once the watch is established; the watch ends with ctx.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching directory %s: %w", s.dir, err)
	}
	go s.watchLoop(ctx, w)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			file := filepath.Base(event.Name)
			if !s.tracked(file) {
				continue
			}
			s.Invalidate(file)
			s.logger.Info("template changed, cache evicted", "file", file, "op", event.Op.String())
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("template watcher error", "err", err)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) tracked(file string) bool {
	for _, f := range s.files {
		if f == file {
			return true
		}
	}
	return false
}
