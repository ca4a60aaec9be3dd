package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/slack-bridge/internal/bridge"
)

const defaultAPIBase = "https://slack.com/api"

// APIError is a Web API response with ok=false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s failed: %s", e.Method, e.Code)
}

// Client is a minimal Slack Web API client covering what the bridge posts
// and reads.
type Client struct {
	botToken   string
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(botToken, apiBase string, logger *slog.Logger) *Client {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = defaultAPIBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		botToken:   strings.TrimSpace(botToken),
		apiBase:    strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type slackUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
	Profile  struct {
		DisplayName string `json:"display_name"`
		RealName    string `json:"real_name"`
	} `json:"profile"`
}

func (c *Client) PostMessage(ctx context.Context, channel, threadTS, text string) error {
	form := url.Values{}
	form.Set("channel", channel)
	form.Set("text", text)
	if strings.TrimSpace(threadTS) != "" {
		form.Set("thread_ts", threadTS)
	}
	return c.call(ctx, "chat.postMessage", c.botToken, form, nil)
}

func (c *Client) LookupUser(ctx context.Context, identity string) (bridge.UserProfile, error) {
	form := url.Values{}
	form.Set("user", identity)
	var response struct {
		User slackUser `json:"user"`
	}
	if err := c.call(ctx, "users.info", c.botToken, form, &response); err != nil {
		return bridge.UserProfile{}, err
	}
	realName := response.User.RealName
	if strings.TrimSpace(realName) == "" {
		realName = response.User.Profile.RealName
	}
	return bridge.UserProfile{
		ID:          response.User.ID,
		Name:        response.User.Name,
		RealName:    realName,
		DisplayName: response.User.Profile.DisplayName,
	}, nil
}

// UploadFile shares a local file into a channel thread using the external
// upload flow: reserve an upload URL, send the bytes, then complete.
func (c *Client) UploadFile(ctx context.Context, channel, threadTS, path, title string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	filename := filepath.Base(path)

	reserve := url.Values{}
	reserve.Set("filename", filename)
	reserve.Set("length", strconv.Itoa(len(data)))
	var reserved struct {
		UploadURL string `json:"upload_url"`
		FileID    string `json:"file_id"`
	}
	if err := c.call(ctx, "files.getUploadURLExternal", c.botToken, reserve, &reserved); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reserved.UploadURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload file bytes: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("upload file bytes failed: status=%d body=%s", res.StatusCode, string(body))
	}

	if strings.TrimSpace(title) == "" {
		title = filename
	}
	files, err := json.Marshal([]map[string]string{{"id": reserved.FileID, "title": title}})
	if err != nil {
		return err
	}
	complete := url.Values{}
	complete.Set("files", string(files))
	complete.Set("channel_id", channel)
	if strings.TrimSpace(threadTS) != "" {
		complete.Set("thread_ts", threadTS)
	}
	return c.call(ctx, "files.completeUploadExternal", c.botToken, complete, nil)
}

// AuthTest returns the bot's own user id.
func (c *Client) AuthTest(ctx context.Context) (string, error) {
	var response struct {
		UserID string `json:"user_id"`
	}
	if err := c.call(ctx, "auth.test", c.botToken, url.Values{}, &response); err != nil {
		return "", err
	}
	return response.UserID, nil
}

// OpenConnection asks for a Socket Mode websocket URL using the app-level
// token.
func (c *Client) OpenConnection(ctx context.Context, appToken string) (string, error) {
	var response struct {
		URL string `json:"url"`
	}
	if err := c.call(ctx, "apps.connections.open", appToken, url.Values{}, &response); err != nil {
		return "", err
	}
	if strings.TrimSpace(response.URL) == "" {
		return "", fmt.Errorf("slack apps.connections.open returned no url")
	}
	return response.URL, nil
}

func (c *Client) call(ctx context.Context, method, token string, form url.Values, out any) error {
	endpoint := c.apiBase + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack %s: %w", method, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("slack %s read: %w", method, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("slack %s failed: status=%d body=%s", method, res.StatusCode, compact(string(body)))
	}
	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("slack %s decode: %w", method, err)
	}
	if !envelope.OK {
		return &APIError{Method: method, Code: envelope.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("slack %s decode: %w", method, err)
	}
	return nil
}

func compact(value string) string {
	normalized := strings.Join(strings.Fields(value), " ")
	if len(normalized) <= 300 {
		return normalized
	}
	return normalized[:300] + "..."
}
