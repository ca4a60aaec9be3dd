package httpapi

import (
	"net/http"
	"time"
)

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.Store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "heartbeat is disabled",
		})
		return
	}
	snapshot := r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter)
	writeJSON(w, http.StatusOK, snapshot)
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	cfg := r.deps.Config
	payload := map[string]any{
		"name":          "slack-bridge",
		"version":       r.deps.Version,
		"environment":   cfg.Environment,
		"agent_binary":  cfg.AgentBinary,
		"agent_model":   cfg.AgentModel,
		"socket_mode":   cfg.SlackAppToken != "",
		"signed_events": cfg.SlackSigningSecret != "",
		"tts_enabled":   cfg.TTSEnabled,
		"workers":       cfg.Workers,
	}
	if r.deps.Queue != nil {
		payload["queue_depth"] = r.deps.Queue.QueueDepth()
	}
	writeJSON(w, http.StatusOK, payload)
}
