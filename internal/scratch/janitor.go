package scratch

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

type Janitor struct {
	logger *slog.Logger
	remove func(string) error
	purge  func(string) error
}

func NewJanitor(logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		logger: logger,
		remove: os.Remove,
		purge:  os.RemoveAll,
	}
}

// Cleanup deletes files then directories, each independently. It returns the
// number of paths that could not be removed.
func (j *Janitor) Cleanup(files, dirs []string) int {
	failures := 0
	for _, path := range files {
		if !j.run(j.remove, path) {
			failures++
		}
	}
	for _, path := range dirs {
		if !j.run(j.purge, path) {
			failures++
		}
	}
	return failures
}

func (j *Janitor) run(op func(string) error, path string) (ok bool) {
	if strings.TrimSpace(path) == "" {
		return true
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			j.logger.Error("scratch cleanup panicked", "path", path, "panic", recovered)
			ok = false
		}
	}()
	if err := op(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		j.logger.Warn("scratch cleanup failed", "path", path, "error", err)
		return false
	}
	return true
}
