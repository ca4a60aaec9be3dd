package app

import (
	"log/slog"
	"net/http"

	"github.com/dwizi/slack-bridge/internal/access"
	"github.com/dwizi/slack-bridge/internal/config"
	"github.com/dwizi/slack-bridge/internal/connectors"
	"github.com/dwizi/slack-bridge/internal/heartbeat"
	"github.com/dwizi/slack-bridge/internal/orchestrator"
	"github.com/dwizi/slack-bridge/internal/scratch"
	"github.com/dwizi/slack-bridge/internal/store"
	"github.com/dwizi/slack-bridge/internal/watcher"
)

type Runtime struct {
	cfg              config.Config
	version          string
	logger           *slog.Logger
	store            *store.Store
	engine           *orchestrator.Engine
	policy           *access.Policy
	httpServer       *http.Server
	watcher          *watcher.Service
	sweeper          *scratch.Sweeper
	connectors       []connectors.Connector
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
}

type heartbeatAware interface {
	SetHeartbeatReporter(reporter heartbeat.Reporter)
}
