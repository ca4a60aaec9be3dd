package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dwizi/slack-bridge/internal/access"
	"github.com/dwizi/slack-bridge/internal/config"
	"github.com/dwizi/slack-bridge/internal/heartbeat"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		HTTPAddr:             "127.0.0.1:0",
		DBPath:               filepath.Join(dir, "data", "bridge.sqlite"),
		ScratchDir:           filepath.Join(dir, "scratch"),
		Workers:              2,
		QueueSize:            8,
		SlackBotToken:        "xoxb-test",
		SlackAPIBase:         "http://127.0.0.1:1",
		AllowedUsersCSV:      "U1,U2",
		ScratchSweepSchedule: "@every 30m",
		ScratchMaxAgeMinutes: 120,
		HeartbeatEnabled:     true,
		HeartbeatIntervalSec: 30,
		HeartbeatStaleSec:    120,
	}
}

func TestNewBuildsRuntime(t *testing.T) {
	cfg := testConfig(t)
	runtime, err := New(cfg, "test", slog.Default())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	if _, err := os.Stat(cfg.ScratchDir); err != nil {
		t.Fatalf("expected scratch dir: %v", err)
	}
	if runtime.watcher != nil {
		t.Fatal("expected no watcher without an allow-list file")
	}
	if len(runtime.connectors) != 1 || runtime.connectors[0].Name() != "slack" {
		t.Fatalf("unexpected connectors: %v", runtime.connectors)
	}

	recorder := httptest.NewRecorder()
	runtime.httpServer.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ready store, got %d", recorder.Code)
	}
}

func TestNewRejectsEmptyAllowList(t *testing.T) {
	cfg := testConfig(t)
	cfg.AllowedUsersCSV = ""
	if _, err := New(cfg, "test", slog.Default()); !errors.Is(err, access.ErrNoIdentities) {
		t.Fatalf("expected no identities error, got %v", err)
	}
}

func TestNewWatchesAllowListFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.AllowedUsersCSV = ""
	cfg.AllowedUsersFile = filepath.Join(t.TempDir(), "allowed.txt")
	if err := os.WriteFile(cfg.AllowedUsersFile, []byte("U9\n"), 0o600); err != nil {
		t.Fatalf("write allow-list: %v", err)
	}
	runtime, err := New(cfg, "test", slog.Default())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()
	if runtime.watcher == nil {
		t.Fatal("expected allow-list watcher")
	}
	if !runtime.policy.Allowed("U9") {
		t.Fatal("expected file identity to be allowed")
	}
}

func TestPolicyReloaderKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowed.txt")
	if err := os.WriteFile(path, []byte("U1\n"), 0o600); err != nil {
		t.Fatalf("write allow-list: %v", err)
	}
	policy, err := access.NewPolicy(nil, path, slog.Default())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	reload := newPolicyReloader(policy, slog.Default())

	if err := os.WriteFile(path, []byte("U2\n"), 0o600); err != nil {
		t.Fatalf("rewrite allow-list: %v", err)
	}
	reload(context.Background(), path)
	if !policy.Allowed("U2") || policy.Allowed("U1") {
		t.Fatalf("expected reloaded identities, got %v", policy.Identities())
	}

	if err := os.WriteFile(path, []byte("# nobody\n"), 0o600); err != nil {
		t.Fatalf("empty allow-list: %v", err)
	}
	reload(context.Background(), path)
	if !policy.Allowed("U2") {
		t.Fatal("expected previous identities to survive a bad reload")
	}
}

func TestRunMonitoredReportsFailure(t *testing.T) {
	registry := heartbeat.NewRegistry()
	failure := errors.New("listen failed")
	err := runMonitored(context.Background(), registry, "api", 0, func(context.Context) error {
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected failure, got %v", err)
	}
	status, ok := registry.Snapshot(0).Component("api")
	if !ok || status.State != heartbeat.StateDegraded || status.Error != "listen failed" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestRunMonitoredReportsStopOnCancel(t *testing.T) {
	registry := heartbeat.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runMonitored(ctx, registry, "scratch-sweeper", 0, func(runCtx context.Context) error {
		<-runCtx.Done()
		return runCtx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	status, _ := registry.Snapshot(0).Component("scratch-sweeper")
	if status.State != heartbeat.StateStopped {
		t.Fatalf("expected stopped state, got %+v", status)
	}
}

func TestRunMonitoredWithoutReporter(t *testing.T) {
	called := false
	err := runMonitored(context.Background(), nil, "orchestrator", 0, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected run without reporter, err=%v called=%v", err, called)
	}
}
