package httpapi

import (
	"net/http"
	"strconv"
	"strings"
)

const maxInboxLimit = 1000

func (r *router) handleInbox(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.handleInboxList(w, req)
	case http.MethodDelete:
		r.handleInboxClear(w, req)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (r *router) handleInboxList(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if raw := strings.TrimSpace(req.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxInboxLimit)
	}
	entries, err := r.deps.Store.ListInbox(req.Context(), limit)
	if err != nil {
		r.deps.Logger.Error("list inbox failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list inbox failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": entries,
		"count":    len(entries),
	})
}

func (r *router) handleInboxClear(w http.ResponseWriter, req *http.Request) {
	removed, err := r.deps.Store.ClearInbox(req.Context())
	if err != nil {
		r.deps.Logger.Error("clear inbox failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "clear inbox failed"})
		return
	}
	r.deps.Logger.Info("inbox cleared", "removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "removed": removed})
}
