package scratch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const areaPrefix = "req-"

// Area is the scratch directory owned by one request. Every path handed out
// by NewFile or NewDir is tracked and removed by Close.
type Area struct {
	root    string
	janitor *Janitor

	mu    sync.Mutex
	files []string
	dirs  []string
	once  sync.Once
}

func NewArea(baseDir string, logger *slog.Logger) (*Area, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch base: %w", err)
	}
	root := filepath.Join(baseDir, areaPrefix+uuid.NewString())
	if err := os.Mkdir(root, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch area: %w", err)
	}
	return &Area{root: root, janitor: NewJanitor(logger)}, nil
}

func (a *Area) Root() string {
	return a.root
}

// NewFile reserves a unique file path with the given extension. The file is
// not created.
func (a *Area) NewFile(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	path := filepath.Join(a.root, uuid.NewString()+ext)
	a.Track(path)
	return path
}

func (a *Area) NewDir(prefix string) (string, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), "-")
	if prefix == "" {
		prefix = "dir"
	}
	path := filepath.Join(a.root, prefix+"-"+uuid.NewString())
	if err := os.Mkdir(path, 0o700); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	a.TrackDir(path)
	return path, nil
}

// Track hands ownership of an existing file to the area.
func (a *Area) Track(path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files = append(a.files, path)
}

func (a *Area) TrackDir(path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dirs = append(a.dirs, path)
}

// Close removes every tracked path and the area root. Only the first call
// does any work.
func (a *Area) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		files := append([]string{}, a.files...)
		dirs := append([]string{}, a.dirs...)
		a.mu.Unlock()
		dirs = append(dirs, a.root)
		a.janitor.Cleanup(files, dirs)
	})
}
