package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "allowed_users.txt")
	other := filepath.Join(dir, "other.txt")
	if err := os.WriteFile(target, []byte("U1\n"), 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}

	var calls atomic.Int32
	changed := make(chan string, 4)
	service, err := New([]string{target}, slog.New(slog.NewTextHandler(io.Discard, nil)), func(ctx context.Context, path string) {
		calls.Add(1)
		changed <- path
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	service.debounce = 150 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// fsnotify registers asynchronously with Start.
	time.Sleep(100 * time.Millisecond)
	for index := 0; index < 3; index++ {
		if err := os.WriteFile(target, []byte("U1\nU2\n"), 0o600); err != nil {
			t.Fatalf("rewrite target: %v", err)
		}
	}
	if err := os.WriteFile(other, []byte("ignored"), 0o600); err != nil {
		t.Fatalf("write other: %v", err)
	}

	select {
	case path := <-changed:
		if path != target {
			t.Fatalf("unexpected change path: %s", path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("change was never reported")
	}
	time.Sleep(400 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one debounced callback, got %d", got)
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	service, err := New([]string{filepath.Join(t.TempDir(), "users.txt")}, nil, func(context.Context, string) {})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
}
