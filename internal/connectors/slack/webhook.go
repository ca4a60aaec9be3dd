package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	signatureVersion = "v0"
	maxClockSkew     = 5 * time.Minute
	maxEventBytes    = 1 << 20
)

var (
	ErrMissingSignature = errors.New("missing slack signature headers")
	ErrStaleTimestamp   = errors.New("slack request timestamp outside the allowed window")
	ErrBadSignature     = errors.New("slack signature mismatch")
)

// VerifySignature checks X-Slack-Signature against
// v0=HMAC-SHA256(secret, "v0:<timestamp>:<body>").
func VerifySignature(secret, timestamp, signature string, body []byte, now time.Time) error {
	timestamp = strings.TrimSpace(timestamp)
	signature = strings.TrimSpace(signature)
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}
	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	skew := now.Sub(time.Unix(seconds, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxClockSkew {
		return ErrStaleTimestamp
	}
	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	_, _ = mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// EventsHandler serves the Events API request URL. Accepted events are
// queued and the handler answers right away; Slack expects a reply within
// three seconds.
type EventsHandler struct {
	signingSecret string
	intake        *Intake
	logger        *slog.Logger
	now           func() time.Time
}

func NewEventsHandler(signingSecret string, intake *Intake, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	handler := &EventsHandler{
		signingSecret: strings.TrimSpace(signingSecret),
		intake:        intake,
		logger:        logger.With("component", "slack-events"),
		now:           time.Now,
	}
	if handler.signingSecret == "" {
		handler.logger.Warn("signing secret not configured, event signatures are not verified")
	}
	return handler
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxEventBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if h.signingSecret != "" {
		err := VerifySignature(
			h.signingSecret,
			r.Header.Get("X-Slack-Request-Timestamp"),
			r.Header.Get("X-Slack-Signature"),
			body,
			h.now(),
		)
		if err != nil {
			h.logger.Warn("rejected slack request", "error", err, "remote_addr", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var callback eventCallback
	if err := json.Unmarshal(body, &callback); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if callback.Type == "url_verification" {
		h.logger.Info("url verification received")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": callback.Challenge})
		return
	}
	if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" {
		h.logger.Info("slack retry dropped", "event_id", callback.EventID, "retry", retry, "reason", r.Header.Get("X-Slack-Retry-Reason"))
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.intake.handleCallback(r.Context(), "events-api", callback); err != nil {
		h.logger.Error("slack event not queued", "event_id", callback.EventID, "error", err)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
