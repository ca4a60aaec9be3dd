package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("SLACK_BRIDGE_DATA_DIR", "/tmp/bridge-data")
	t.Setenv("SLACK_BRIDGE_DB_PATH", "")
	t.Setenv("SLACK_BRIDGE_HTTP_ADDR", "")
	t.Setenv("SLACK_BRIDGE_WORKERS", "")
	t.Setenv("SLACK_BRIDGE_AGENT_BINARY", "")
	t.Setenv("SLACK_BRIDGE_AGENT_MODEL", "")
	t.Setenv("SLACK_BRIDGE_AGENT_SKIP_PERMISSIONS", "")
	t.Setenv("SLACK_BRIDGE_AGENT_TIMEOUT_SECONDS", "")
	t.Setenv("SLACK_BRIDGE_VIDEO_FRAME_FPS", "")
	t.Setenv("SLACK_BRIDGE_MAX_IMAGE_BYTES", "")
	t.Setenv("SLACK_BRIDGE_MAX_VIDEO_BYTES", "")
	t.Setenv("SLACK_BRIDGE_MAX_AUDIO_BYTES", "")
	t.Setenv("SLACK_BRIDGE_TTS_ENABLED", "")
	t.Setenv("SLACK_BRIDGE_SCRATCH_SWEEP_SCHEDULE", "")

	cfg := FromEnv()
	if cfg.HTTPAddr != ":3005" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr)
	}
	if cfg.DBPath != filepath.Join("/tmp/bridge-data", "bridge.sqlite") {
		t.Fatalf("unexpected db path: %s", cfg.DBPath)
	}
	if cfg.Workers != 4 {
		t.Fatalf("unexpected workers: %d", cfg.Workers)
	}
	if cfg.AgentBinary != "claude" || cfg.AgentModel != "opus" {
		t.Fatalf("unexpected agent defaults: %s %s", cfg.AgentBinary, cfg.AgentModel)
	}
	if cfg.AgentSkipPermissions {
		t.Fatal("expected skip permissions disabled by default")
	}
	if cfg.AgentTimeoutSec != 300 {
		t.Fatalf("unexpected agent timeout: %d", cfg.AgentTimeoutSec)
	}
	if cfg.VideoFrameFPS != 1 {
		t.Fatalf("unexpected frame fps: %v", cfg.VideoFrameFPS)
	}
	if cfg.MaxImageBytes != 20<<20 || cfg.MaxVideoBytes != 100<<20 || cfg.MaxAudioBytes != 25<<20 {
		t.Fatalf("unexpected media ceilings: %d %d %d", cfg.MaxImageBytes, cfg.MaxVideoBytes, cfg.MaxAudioBytes)
	}
	if cfg.TTSEnabled {
		t.Fatal("expected tts disabled by default")
	}
	if cfg.ScratchSweepSchedule != "@every 30m" {
		t.Fatalf("unexpected sweep schedule: %s", cfg.ScratchSweepSchedule)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SLACK_BRIDGE_AGENT_MODEL", "sonnet")
	t.Setenv("SLACK_BRIDGE_AGENT_SKIP_PERMISSIONS", "yes")
	t.Setenv("SLACK_BRIDGE_AGENT_ALLOWED_DIRS", "/srv/a, /srv/b,,/srv/a")
	t.Setenv("SLACK_BRIDGE_VIDEO_FRAME_FPS", "0.5")
	t.Setenv("SLACK_BRIDGE_MAX_AUDIO_BYTES", "1024")
	t.Setenv("SLACK_BRIDGE_WORKERS", "-3")

	cfg := FromEnv()
	if cfg.AgentModel != "sonnet" {
		t.Fatalf("unexpected model: %s", cfg.AgentModel)
	}
	if !cfg.AgentSkipPermissions {
		t.Fatal("expected skip permissions enabled")
	}
	if got := cfg.AgentAllowedDirs(); !reflect.DeepEqual(got, []string{"/srv/a", "/srv/b"}) {
		t.Fatalf("unexpected allowed dirs: %#v", got)
	}
	if cfg.VideoFrameFPS != 0.5 {
		t.Fatalf("unexpected fps: %v", cfg.VideoFrameFPS)
	}
	if cfg.MaxAudioBytes != 1024 {
		t.Fatalf("unexpected audio ceiling: %d", cfg.MaxAudioBytes)
	}
	if cfg.Workers != 4 {
		t.Fatalf("expected invalid workers to fall back, got %d", cfg.Workers)
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); !errors.Is(err, ErrMissingBotToken) {
		t.Fatalf("expected missing bot token, got %v", err)
	}
	cfg.SlackBotToken = "xoxb-test"
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAllowedUsers) {
		t.Fatalf("expected missing allowed users, got %v", err)
	}
	cfg.AllowedUsersCSV = " , "
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAllowedUsers) {
		t.Fatalf("expected blank csv to be rejected, got %v", err)
	}
	cfg.AllowedUsersCSV = "U1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "SLACK_BRIDGE_TEST_FROM_FILE=file\nSLACK_BRIDGE_TEST_EXISTING=file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("SLACK_BRIDGE_TEST_EXISTING", "process")
	t.Setenv("SLACK_BRIDGE_TEST_FROM_FILE", "")
	os.Unsetenv("SLACK_BRIDGE_TEST_FROM_FILE")

	LoadDotEnv(path, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("SLACK_BRIDGE_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("SLACK_BRIDGE_TEST_EXISTING"); got != "process" {
		t.Fatalf("expected process value to win, got %q", got)
	}
}
