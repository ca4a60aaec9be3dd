package httpapi

import "net/http"

func (r *router) handleSessions(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sessions, err := r.deps.Store.ListSessions(req.Context())
	if err != nil {
		r.deps.Logger.Error("list sessions failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list sessions failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}
