package scratch

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAreaCloseRemovesEverything(t *testing.T) {
	base := t.TempDir()
	area, err := NewArea(base, testLogger())
	if err != nil {
		t.Fatalf("new area: %v", err)
	}

	filePath := area.NewFile("png")
	if !strings.HasSuffix(filePath, ".png") {
		t.Fatalf("expected png extension, got %s", filePath)
	}
	if err := os.WriteFile(filePath, []byte("img"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	framesDir, err := area.NewDir("frames")
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	for _, name := range []string{"frame_0001.png", "frame_0002.png"} {
		if err := os.WriteFile(filepath.Join(framesDir, name), []byte("f"), 0o600); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	outside := filepath.Join(t.TempDir(), "downloaded.mp4")
	if err := os.WriteFile(outside, []byte("v"), 0o600); err != nil {
		t.Fatalf("write outside file: %v", err)
	}
	area.Track(outside)

	area.Close()
	area.Close()

	for _, path := range []string{filePath, framesDir, outside, area.Root()} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, stat err=%v", path, err)
		}
	}
}

func TestAreaPathsAreUnique(t *testing.T) {
	area, err := NewArea(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("new area: %v", err)
	}
	defer area.Close()
	seen := map[string]struct{}{}
	for index := 0; index < 50; index++ {
		path := area.NewFile(".wav")
		if _, exists := seen[path]; exists {
			t.Fatalf("duplicate scratch path: %s", path)
		}
		seen[path] = struct{}{}
	}
}

func TestJanitorContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.txt")
	second := filepath.Join(dir, "b.txt")
	for _, path := range []string{first, second} {
		if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}

	janitor := NewJanitor(testLogger())
	janitor.remove = func(path string) error {
		if path == first {
			return errors.New("device busy")
		}
		return os.Remove(path)
	}
	failures := janitor.Cleanup([]string{first, second, filepath.Join(dir, "missing.txt")}, nil)
	if failures != 1 {
		t.Fatalf("expected one failure, got %d", failures)
	}
	if _, err := os.Stat(second); !os.IsNotExist(err) {
		t.Fatalf("expected second file removed, stat err=%v", err)
	}
}

func TestJanitorRecoversFromPanic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "keep")
	if err := os.Mkdir(target, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	janitor := NewJanitor(testLogger())
	janitor.remove = func(string) error { panic("boom") }

	failures := janitor.Cleanup([]string{"/nonexistent/file"}, []string{target})
	if failures != 1 {
		t.Fatalf("expected one failure, got %d", failures)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected dir removed after panic in sibling, stat err=%v", err)
	}
}

func TestSweepRemovesOnlyStaleAreas(t *testing.T) {
	base := t.TempDir()
	stale := filepath.Join(base, areaPrefix+"stale")
	fresh := filepath.Join(base, areaPrefix+"fresh")
	unrelated := filepath.Join(base, "keep-me")
	for _, path := range []string{stale, fresh, unrelated} {
		if err := os.Mkdir(path, 0o700); err != nil {
			t.Fatalf("mkdir %s: %v", path, err)
		}
	}
	old := time.Now().Add(-5 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(unrelated, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	sweeper, err := NewSweeper(SweeperConfig{BaseDir: base, MaxAge: time.Hour, Logger: testLogger()})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	removed, err := sweeper.Sweep(time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removed area, got %d", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale area removed, stat err=%v", err)
	}
	for _, path := range []string{fresh, unrelated} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	if _, err := NewSweeper(SweeperConfig{BaseDir: t.TempDir(), Schedule: "every now and then"}); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
