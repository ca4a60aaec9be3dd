package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dwizi/slack-bridge/internal/access"
	"github.com/dwizi/slack-bridge/internal/agent"
	"github.com/dwizi/slack-bridge/internal/bridge"
	"github.com/dwizi/slack-bridge/internal/config"
	"github.com/dwizi/slack-bridge/internal/connectors"
	"github.com/dwizi/slack-bridge/internal/connectors/slack"
	"github.com/dwizi/slack-bridge/internal/heartbeat"
	"github.com/dwizi/slack-bridge/internal/httpapi"
	"github.com/dwizi/slack-bridge/internal/media"
	"github.com/dwizi/slack-bridge/internal/orchestrator"
	"github.com/dwizi/slack-bridge/internal/scratch"
	"github.com/dwizi/slack-bridge/internal/session"
	"github.com/dwizi/slack-bridge/internal/speech"
	"github.com/dwizi/slack-bridge/internal/store"
	"github.com/dwizi/slack-bridge/internal/transcode"
	"github.com/dwizi/slack-bridge/internal/watcher"
)

func New(cfg config.Config, version string, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	policy, err := access.NewPolicy(config.ParseCSV(cfg.AllowedUsersCSV), cfg.AllowedUsersFile, logger)
	if err != nil {
		return nil, err
	}

	sqlStore, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		sqlStore.Close()
		return nil, err
	}

	var heartbeatRegistry *heartbeat.Registry
	if cfg.HeartbeatEnabled {
		heartbeatRegistry = heartbeat.NewRegistry()
		heartbeatRegistry.Starting("runtime", "booting")
		heartbeatRegistry.Starting("orchestrator", "initializing")
		heartbeatRegistry.Starting("scratch-sweeper", "initializing")
		heartbeatRegistry.Starting("api", "initializing")
	}

	slackClient := slack.NewClient(cfg.SlackBotToken, cfg.SlackAPIBase, logger)
	service, err := bridge.New(bridge.Dependencies{
		Store:       sqlStore,
		Sessions:    session.NewManager(sqlStore),
		Agent:       newAgent(cfg, logger),
		Responder:   slackClient,
		Fetcher:     newFetcher(cfg, logger),
		Frames:      newFFmpeg(cfg),
		Resampler:   newFFmpeg(cfg),
		Downloader:  newDownloader(cfg),
		Transcriber: newTranscriber(cfg),
		Synthesizer: newSynthesizer(cfg),
	}, bridge.Config{
		ScratchDir: cfg.ScratchDir,
		TTSEnabled: cfg.TTSEnabled,
		TTSVoice:   cfg.TTSVoice,
		Logger:     logger,
	})
	if err != nil {
		sqlStore.Close()
		return nil, err
	}

	engine := orchestrator.New(orchestrator.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Handler:   newJobHandler(service),
		Logger:    logger,
	})
	if heartbeatRegistry != nil {
		engine.SetHeartbeatReporter(heartbeatRegistry)
	}

	intake := slack.NewIntake(policy, sqlStore, engine, logger)
	connectorList := []connectors.Connector{
		slack.NewConnector(cfg.SlackAppToken, slackClient, intake, logger),
	}
	if heartbeatRegistry != nil {
		for _, connector := range connectorList {
			if reporting, ok := connector.(heartbeatAware); ok {
				reporting.SetHeartbeatReporter(heartbeatRegistry)
			}
		}
	}

	sweeper, err := scratch.NewSweeper(scratch.SweeperConfig{
		BaseDir:  cfg.ScratchDir,
		Schedule: cfg.ScratchSweepSchedule,
		MaxAge:   time.Duration(cfg.ScratchMaxAgeMinutes) * time.Minute,
		Logger:   logger.With("component", "scratch-sweeper"),
	})
	if err != nil {
		sqlStore.Close()
		return nil, err
	}
	if heartbeatRegistry != nil {
		sweeper.SetHeartbeatReporter(heartbeatRegistry)
	}

	var watchService *watcher.Service
	if policy.File() != "" {
		watchService, err = watcher.New([]string{policy.File()}, logger, newPolicyReloader(policy, logger))
		if err != nil {
			sqlStore.Close()
			return nil, err
		}
		if heartbeatRegistry != nil {
			heartbeatRegistry.Starting("access-watcher", "initializing")
		}
	}

	handler := httpapi.NewRouter(httpapi.Dependencies{
		Config:              cfg,
		Version:             version,
		Store:               sqlStore,
		Queue:               engine,
		SlackEvents:         slack.NewEventsHandler(cfg.SlackSigningSecret, intake, logger),
		Logger:              logger.With("component", "api"),
		Heartbeat:           heartbeatRegistry,
		HeartbeatStaleAfter: time.Duration(cfg.HeartbeatStaleSec) * time.Second,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var heartbeatMonitor *heartbeat.Monitor
	if heartbeatRegistry != nil {
		heartbeatMonitor = heartbeat.NewMonitor(heartbeatRegistry, heartbeat.MonitorConfig{
			Interval:   time.Duration(cfg.HeartbeatIntervalSec) * time.Second,
			StaleAfter: time.Duration(cfg.HeartbeatStaleSec) * time.Second,
			Logger:     logger,
		})
	}

	return &Runtime{
		cfg:              cfg,
		version:          version,
		logger:           logger,
		store:            sqlStore,
		engine:           engine,
		policy:           policy,
		httpServer:       httpServer,
		watcher:          watchService,
		sweeper:          sweeper,
		connectors:       connectorList,
		heartbeat:        heartbeatRegistry,
		heartbeatMonitor: heartbeatMonitor,
	}, nil
}

func newJobHandler(service *bridge.Service) orchestrator.Handler {
	return func(ctx context.Context, job orchestrator.Job) error {
		_, err := service.HandleEvent(ctx, job.Event)
		return err
	}
}

// newPolicyReloader keeps the previous allow-list when the edited file is
// unreadable or empty.
func newPolicyReloader(policy *access.Policy, logger *slog.Logger) func(context.Context, string) {
	return func(ctx context.Context, path string) {
		if err := policy.Reload(); err != nil {
			logger.Error("allow-list reload failed, keeping previous identities", "path", path, "error", err)
			return
		}
		logger.Info("allow-list reloaded", "path", path, "identities", len(policy.Identities()))
	}
}

func newAgent(cfg config.Config, logger *slog.Logger) *agent.CLI {
	return agent.NewCLI(agent.CLIConfig{
		Binary:          cfg.AgentBinary,
		Model:           cfg.AgentModel,
		AllowedDirs:     cfg.AgentAllowedDirs(),
		SkipPermissions: cfg.AgentSkipPermissions,
		Timeout:         time.Duration(cfg.AgentTimeoutSec) * time.Second,
		Logger:          logger,
	})
}

func newFetcher(cfg config.Config, logger *slog.Logger) *media.Fetcher {
	return media.NewFetcher(media.FetcherConfig{
		Limits: media.Limits{
			Image: cfg.MaxImageBytes,
			Video: cfg.MaxVideoBytes,
			Audio: cfg.MaxAudioBytes,
		},
		AuthToken: cfg.SlackBotToken,
		Timeout:   time.Duration(cfg.DownloadTimeout) * time.Second,
		Logger:    logger.With("component", "media-fetcher"),
	})
}

func newFFmpeg(cfg config.Config) *transcode.FFmpeg {
	return transcode.NewFFmpeg(transcode.FFmpegConfig{
		Binary:    cfg.FFmpegBinary,
		FPS:       cfg.VideoFrameFPS,
		MaxFrames: cfg.VideoMaxFrames,
		Timeout:   time.Duration(cfg.TranscodeTimeout) * time.Second,
	})
}

func newDownloader(cfg config.Config) *transcode.YTDLP {
	return transcode.NewYTDLP(transcode.YTDLPConfig{
		Binary:   cfg.YTDLPBinary,
		Format:   cfg.YTDLPFormat,
		MaxBytes: cfg.MaxVideoBytes,
		Timeout:  time.Duration(cfg.DownloadTimeout) * time.Second,
	})
}

func newTranscriber(cfg config.Config) *speech.Whisper {
	return speech.NewWhisper(speech.WhisperConfig{
		Binary:   cfg.WhisperBinary,
		Model:    cfg.WhisperModel,
		Language: cfg.WhisperLanguage,
		Timeout:  time.Duration(cfg.STTTimeoutSec) * time.Second,
	})
}

func newSynthesizer(cfg config.Config) *speech.Say {
	return speech.NewSay(speech.SayConfig{
		Binary:  cfg.TTSBinary,
		Voice:   cfg.TTSVoice,
		Timeout: time.Duration(cfg.TTSTimeoutSec) * time.Second,
	})
}
