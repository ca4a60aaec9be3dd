package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var (
	ErrMissingBotToken     = errors.New("SLACK_BRIDGE_SLACK_BOT_TOKEN is required")
	ErrMissingAllowedUsers = errors.New("SLACK_BRIDGE_ALLOWED_USERS or SLACK_BRIDGE_ALLOWED_USERS_FILE is required")
)

type Config struct {
	Environment string
	HTTPAddr    string
	DataDir     string
	DBPath      string
	ScratchDir  string
	Workers     int
	QueueSize   int

	SlackBotToken      string
	SlackAppToken      string
	SlackSigningSecret string
	SlackAPIBase       string

	AllowedUsersCSV  string
	AllowedUsersFile string

	AgentBinary          string
	AgentModel           string
	AgentAllowedDirsCSV  string
	AgentSkipPermissions bool
	AgentTimeoutSec      int

	FFmpegBinary     string
	YTDLPBinary      string
	YTDLPFormat      string
	WhisperBinary    string
	WhisperModel     string
	WhisperLanguage  string
	TTSEnabled       bool
	TTSBinary        string
	TTSVoice         string
	VideoFrameFPS    float64
	VideoMaxFrames   int
	MaxImageBytes    int64
	MaxVideoBytes    int64
	MaxAudioBytes    int64
	TranscodeTimeout int
	DownloadTimeout  int
	STTTimeoutSec    int
	TTSTimeoutSec    int

	ScratchSweepSchedule string
	ScratchMaxAgeMinutes int

	HeartbeatEnabled     bool
	HeartbeatIntervalSec int
	HeartbeatStaleSec    int

	AdminAPIURL         string
	AdminHTTPTimeoutSec int
}

// LoadDotEnv loads variables from the given .env files without overriding
// anything already present in the environment. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

func FromEnv() Config {
	dataDir := stringOrDefault("SLACK_BRIDGE_DATA_DIR", defaultDataDir())
	dbPath := stringOrDefault("SLACK_BRIDGE_DB_PATH", filepath.Join(dataDir, "bridge.sqlite"))
	scratchDir := stringOrDefault("SLACK_BRIDGE_SCRATCH_DIR", filepath.Join(os.TempDir(), "slack-bridge"))

	return Config{
		Environment: stringOrDefault("SLACK_BRIDGE_ENV", "development"),
		HTTPAddr:    stringOrDefault("SLACK_BRIDGE_HTTP_ADDR", ":3005"),
		DataDir:     dataDir,
		DBPath:      dbPath,
		ScratchDir:  scratchDir,
		Workers:     intOrDefault("SLACK_BRIDGE_WORKERS", 4),
		QueueSize:   intOrDefault("SLACK_BRIDGE_QUEUE_SIZE", 64),

		SlackBotToken:      strings.TrimSpace(os.Getenv("SLACK_BRIDGE_SLACK_BOT_TOKEN")),
		SlackAppToken:      strings.TrimSpace(os.Getenv("SLACK_BRIDGE_SLACK_APP_TOKEN")),
		SlackSigningSecret: strings.TrimSpace(os.Getenv("SLACK_BRIDGE_SLACK_SIGNING_SECRET")),
		SlackAPIBase:       stringOrDefault("SLACK_BRIDGE_SLACK_API_BASE", "https://slack.com/api"),

		AllowedUsersCSV:  strings.TrimSpace(os.Getenv("SLACK_BRIDGE_ALLOWED_USERS")),
		AllowedUsersFile: strings.TrimSpace(os.Getenv("SLACK_BRIDGE_ALLOWED_USERS_FILE")),

		AgentBinary:          stringOrDefault("SLACK_BRIDGE_AGENT_BINARY", "claude"),
		AgentModel:           stringOrDefault("SLACK_BRIDGE_AGENT_MODEL", "opus"),
		AgentAllowedDirsCSV:  strings.TrimSpace(os.Getenv("SLACK_BRIDGE_AGENT_ALLOWED_DIRS")),
		AgentSkipPermissions: boolOrDefault("SLACK_BRIDGE_AGENT_SKIP_PERMISSIONS", false),
		AgentTimeoutSec:      intOrDefault("SLACK_BRIDGE_AGENT_TIMEOUT_SECONDS", 300),

		FFmpegBinary:     stringOrDefault("SLACK_BRIDGE_FFMPEG_BINARY", "ffmpeg"),
		YTDLPBinary:      stringOrDefault("SLACK_BRIDGE_YTDLP_BINARY", "yt-dlp"),
		YTDLPFormat:      stringOrDefault("SLACK_BRIDGE_YTDLP_FORMAT", "best[height<=720]/best"),
		WhisperBinary:    stringOrDefault("SLACK_BRIDGE_WHISPER_BINARY", "whisper-cli"),
		WhisperModel:     strings.TrimSpace(os.Getenv("SLACK_BRIDGE_WHISPER_MODEL")),
		WhisperLanguage:  stringOrDefault("SLACK_BRIDGE_WHISPER_LANGUAGE", "auto"),
		TTSEnabled:       boolOrDefault("SLACK_BRIDGE_TTS_ENABLED", false),
		TTSBinary:        stringOrDefault("SLACK_BRIDGE_TTS_BINARY", "say"),
		TTSVoice:         strings.TrimSpace(os.Getenv("SLACK_BRIDGE_TTS_VOICE")),
		VideoFrameFPS:    floatOrDefault("SLACK_BRIDGE_VIDEO_FRAME_FPS", 1),
		VideoMaxFrames:   intOrDefault("SLACK_BRIDGE_VIDEO_MAX_FRAMES", 30),
		MaxImageBytes:    int64OrDefault("SLACK_BRIDGE_MAX_IMAGE_BYTES", 20<<20),
		MaxVideoBytes:    int64OrDefault("SLACK_BRIDGE_MAX_VIDEO_BYTES", 100<<20),
		MaxAudioBytes:    int64OrDefault("SLACK_BRIDGE_MAX_AUDIO_BYTES", 25<<20),
		TranscodeTimeout: intOrDefault("SLACK_BRIDGE_TRANSCODE_TIMEOUT_SECONDS", 120),
		DownloadTimeout:  intOrDefault("SLACK_BRIDGE_DOWNLOAD_TIMEOUT_SECONDS", 180),
		STTTimeoutSec:    intOrDefault("SLACK_BRIDGE_STT_TIMEOUT_SECONDS", 600),
		TTSTimeoutSec:    intOrDefault("SLACK_BRIDGE_TTS_TIMEOUT_SECONDS", 60),

		ScratchSweepSchedule: stringOrDefault("SLACK_BRIDGE_SCRATCH_SWEEP_SCHEDULE", "@every 30m"),
		ScratchMaxAgeMinutes: intOrDefault("SLACK_BRIDGE_SCRATCH_MAX_AGE_MINUTES", 120),

		HeartbeatEnabled:     boolOrDefault("SLACK_BRIDGE_HEARTBEAT_ENABLED", true),
		HeartbeatIntervalSec: intOrDefault("SLACK_BRIDGE_HEARTBEAT_INTERVAL_SECONDS", 30),
		HeartbeatStaleSec:    intOrDefault("SLACK_BRIDGE_HEARTBEAT_STALE_SECONDS", 120),

		AdminAPIURL:         stringOrDefault("SLACK_BRIDGE_ADMIN_API_URL", "http://127.0.0.1:3005"),
		AdminHTTPTimeoutSec: intOrDefault("SLACK_BRIDGE_ADMIN_HTTP_TIMEOUT_SECONDS", 15),
	}
}

// Validate reports configuration that must stop the service from starting.
// The allowed-users file is only checked for presence here; its content is
// validated by the access policy when it is loaded.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SlackBotToken) == "" {
		return ErrMissingBotToken
	}
	if len(ParseCSV(c.AllowedUsersCSV)) == 0 && strings.TrimSpace(c.AllowedUsersFile) == "" {
		return ErrMissingAllowedUsers
	}
	return nil
}

func (c Config) AgentAllowedDirs() []string {
	return ParseCSV(c.AgentAllowedDirsCSV)
}

func ParseCSV(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if _, exists := seen[item]; exists {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	return result
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Join(".", "data")
	}
	return filepath.Join(home, ".claude", "slack-bridge")
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func int64OrDefault(name string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func floatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
