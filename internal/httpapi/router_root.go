package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwizi/slack-bridge/internal/config"
	"github.com/dwizi/slack-bridge/internal/heartbeat"
	"github.com/dwizi/slack-bridge/internal/store"
)

type Store interface {
	Ping(ctx context.Context) error
	ListInbox(ctx context.Context, limit int) ([]store.InboxEntry, error)
	ClearInbox(ctx context.Context) (int64, error)
	ListSessions(ctx context.Context) ([]store.SessionRecord, error)
}

type QueueStats interface {
	QueueDepth() int
}

type Dependencies struct {
	Config              config.Config
	Version             string
	Store               Store
	Queue               QueueStats
	SlackEvents         http.Handler
	Logger              *slog.Logger
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
}

type router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	rt := &router{deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	mux.HandleFunc("/readyz", rt.handleReady)
	mux.HandleFunc("/api/v1/heartbeat", rt.handleHeartbeat)
	mux.HandleFunc("/api/v1/info", rt.handleInfo)
	mux.HandleFunc("/api/v1/inbox", rt.handleInbox)
	mux.HandleFunc("/api/v1/sessions", rt.handleSessions)
	if deps.SlackEvents != nil {
		mux.Handle("/slack/events", deps.SlackEvents)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
