package adminclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dwizi/slack-bridge/internal/config"
	"github.com/dwizi/slack-bridge/internal/heartbeat"
	"github.com/dwizi/slack-bridge/internal/store"
)

// Client talks to the HTTP API of a running bridge.
type Client struct {
	baseURL string
	http    *http.Client
}

type Info struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Environment  string `json:"environment"`
	AgentBinary  string `json:"agent_binary"`
	AgentModel   string `json:"agent_model"`
	SocketMode   bool   `json:"socket_mode"`
	SignedEvents bool   `json:"signed_events"`
	TTSEnabled   bool   `json:"tts_enabled"`
	Workers      int    `json:"workers"`
	QueueDepth   int    `json:"queue_depth"`
}

type inboxResponse struct {
	Messages []store.InboxEntry `json:"messages"`
	Count    int                `json:"count"`
}

type clearResponse struct {
	Status  string `json:"status"`
	Removed int64  `json:"removed"`
}

func New(cfg config.Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.AdminAPIURL), "/")
	if baseURL == "" {
		return nil, errors.New("admin api url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse admin api url: %w", err)
	}
	timeout := time.Duration(cfg.AdminHTTPTimeoutSec) * time.Second
	if timeout < time.Second {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	if err := c.do(ctx, http.MethodGet, "/api/v1/info", &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

func (c *Client) Heartbeat(ctx context.Context) (heartbeat.Snapshot, error) {
	var snapshot heartbeat.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/heartbeat", &snapshot); err != nil {
		return heartbeat.Snapshot{}, err
	}
	return snapshot, nil
}

func (c *Client) ListInbox(ctx context.Context, limit int) ([]store.InboxEntry, error) {
	path := "/api/v1/inbox"
	if limit > 0 {
		path += "?limit=" + fmt.Sprintf("%d", limit)
	}
	var response inboxResponse
	if err := c.do(ctx, http.MethodGet, path, &response); err != nil {
		return nil, err
	}
	return response.Messages, nil
}

// ClearInbox compacts the inbox of the running server and returns how many
// entries were removed.
func (c *Client) ClearInbox(ctx context.Context) (int64, error) {
	var response clearResponse
	if err := c.do(ctx, http.MethodDelete, "/api/v1/inbox", &response); err != nil {
		return 0, err
	}
	return response.Removed, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		var apiError struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiError)
		if strings.TrimSpace(apiError.Error) == "" {
			apiError.Error = res.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiError.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
