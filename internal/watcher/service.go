package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Service watches a set of files and calls onChange once per burst of writes
// to any of them. Parent directories are watched so editors that replace the
// file through a rename are still seen.
type Service struct {
	files    map[string]struct{}
	dirs     []string
	logger   *slog.Logger
	onChange func(context.Context, string)
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func New(files []string, logger *slog.Logger, onChange func(context.Context, string)) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watched := map[string]struct{}{}
	dirs := []string{}
	seenDirs := map[string]struct{}{}
	for _, file := range files {
		if file == "" {
			continue
		}
		absolute, err := filepath.Abs(file)
		if err != nil {
			return nil, fmt.Errorf("resolve watched file %s: %w", file, err)
		}
		watched[absolute] = struct{}{}
		dir := filepath.Dir(absolute)
		if _, ok := seenDirs[dir]; !ok {
			seenDirs[dir] = struct{}{}
			dirs = append(dirs, dir)
		}
	}
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Service{
		files:    watched,
		dirs:     dirs,
		logger:   logger.With("component", "watcher"),
		onChange: onChange,
		debounce: defaultDebounce,
		watcher:  fileWatcher,
		pending:  map[string]*time.Timer{},
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	defer s.watcher.Close()
	defer s.stopPending()

	for _, dir := range s.dirs {
		if err := s.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch path %s: %w", dir, err)
		}
	}
	s.logger.Info("file watcher started", "files", len(s.files))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("file watcher stopped")
			return nil
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				s.logger.Error("file watcher error", "error", err)
			}
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, event fsnotify.Event) {
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	if _, ok := s.files[path]; !ok {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	s.logger.Debug("watched file changed", "path", path, "op", event.Op.String())
	s.schedule(ctx, path)
}

func (s *Service) schedule(ctx context.Context, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.pending[path]; ok {
		timer.Reset(s.debounce)
		return
	}
	s.pending[path] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		s.logger.Info("watched file reloaded", "path", path)
		s.onChange(ctx, path)
	})
}

func (s *Service) stopPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, timer := range s.pending {
		timer.Stop()
		delete(s.pending, path)
	}
}
