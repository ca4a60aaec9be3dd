package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dwizi/slack-bridge/internal/bridge"
	"github.com/dwizi/slack-bridge/internal/gateway"
	"github.com/dwizi/slack-bridge/internal/media"
	"github.com/dwizi/slack-bridge/internal/store"
)

type AccessPolicy interface {
	Allowed(identity string) bool
}

type ThreadRegistry interface {
	IsActiveThread(ctx context.Context, key string) (bool, error)
}

// Dispatcher queues accepted events for the pipeline.
type Dispatcher interface {
	Dispatch(source string, event bridge.Event) error
}

type eventCallback struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	TeamID    string          `json:"team_id"`
	EventID   string          `json:"event_id"`
	Event     json.RawMessage `json:"event"`
}

type messageEvent struct {
	Type        string      `json:"type"`
	Subtype     string      `json:"subtype"`
	User        string      `json:"user"`
	BotID       string      `json:"bot_id"`
	Text        string      `json:"text"`
	Channel     string      `json:"channel"`
	ChannelType string      `json:"channel_type"`
	TS          string      `json:"ts"`
	ThreadTS    string      `json:"thread_ts"`
	Files       []slackFile `json:"files"`
}

type slackFile struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Mimetype           string `json:"mimetype"`
	Size               int64  `json:"size"`
	URLPrivate         string `json:"url_private"`
	URLPrivateDownload string `json:"url_private_download"`
}

// Intake turns Slack event callbacks into bridge events and hands accepted
// ones to the dispatcher. Webhook and Socket Mode share it.
type Intake struct {
	policy     AccessPolicy
	threads    ThreadRegistry
	dispatcher Dispatcher
	logger     *slog.Logger

	mu        sync.RWMutex
	botUserID string
}

func NewIntake(policy AccessPolicy, threads ThreadRegistry, dispatcher Dispatcher, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		policy:     policy,
		threads:    threads,
		dispatcher: dispatcher,
		logger:     logger.With("component", "slack-intake"),
	}
}

// SetBotUserID lets the intake drop channel message events that duplicate an
// app_mention for the same post.
func (i *Intake) SetBotUserID(userID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.botUserID = strings.TrimSpace(userID)
}

func (i *Intake) botID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.botUserID
}

// handleCallback processes the body of an event_callback.
func (i *Intake) handleCallback(ctx context.Context, source string, callback eventCallback) error {
	if callback.Type != "event_callback" || len(callback.Event) == 0 {
		return nil
	}
	var message messageEvent
	if err := json.Unmarshal(callback.Event, &message); err != nil {
		return fmt.Errorf("decode slack event: %w", err)
	}
	event, ok := i.toEvent(ctx, message)
	if !ok {
		return nil
	}
	return i.dispatcher.Dispatch(source, event)
}

func (i *Intake) toEvent(ctx context.Context, message messageEvent) (bridge.Event, bool) {
	if message.BotID != "" || message.Subtype == "bot_message" {
		return bridge.Event{}, false
	}
	switch message.Subtype {
	case "", "file_share", "thread_broadcast":
	default:
		return bridge.Event{}, false
	}
	if message.Type != "message" && message.Type != "app_mention" {
		return bridge.Event{}, false
	}
	if !i.policy.Allowed(message.User) {
		i.logger.Warn("identity not allowed", "identity", message.User, "channel", message.Channel)
		return bridge.Event{}, false
	}

	isDM := message.Type == "message" && message.ChannelType == "im"
	isMention := message.Type == "app_mention"
	if message.Type == "message" && !isDM {
		if botID := i.botID(); botID != "" && strings.Contains(message.Text, "<@"+botID+">") {
			return bridge.Event{}, false
		}
	}
	if !isDM && !isMention && !i.inActiveThread(ctx, message) {
		return bridge.Event{}, false
	}

	event := bridge.Event{
		Identity: message.User,
		Channel:  message.Channel,
		TS:       message.TS,
		ThreadTS: message.ThreadTS,
		Text:     gateway.StripMentions(message.Text),
		Mention:  isMention,
	}
	for _, file := range message.Files {
		downloadRef := file.URLPrivateDownload
		if downloadRef == "" {
			downloadRef = file.URLPrivate
		}
		if downloadRef == "" {
			continue
		}
		event.Attachments = append(event.Attachments, media.Attachment{
			MimeType:    file.Mimetype,
			SizeBytes:   file.Size,
			DownloadRef: downloadRef,
			Name:        file.Name,
		})
	}
	i.logger.Info("event accepted",
		"identity", event.Identity,
		"channel", event.Channel,
		"dm", isDM,
		"mention", isMention,
		"attachments", len(event.Attachments),
	)
	return event, true
}

func (i *Intake) inActiveThread(ctx context.Context, message messageEvent) bool {
	if strings.TrimSpace(message.ThreadTS) == "" || i.threads == nil {
		return false
	}
	active, err := i.threads.IsActiveThread(ctx, store.ThreadKey(message.Channel, message.ThreadTS))
	if err != nil {
		i.logger.Error("thread lookup failed", "channel", message.Channel, "thread_ts", message.ThreadTS, "error", err)
		return false
	}
	return active
}
