package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dwizi/slack-bridge/internal/heartbeat"
)

const componentName = "connector:slack"

type socketEnvelope struct {
	EnvelopeID   string          `json:"envelope_id"`
	Type         string          `json:"type"`
	Reason       string          `json:"reason"`
	RetryAttempt int             `json:"retry_attempt"`
	Payload      json.RawMessage `json:"payload"`
}

// Connector receives events over Socket Mode. Without an app token it stays
// idle and the Events API webhook is the only ingress.
type Connector struct {
	appToken string
	client   *Client
	intake   *Intake
	logger   *slog.Logger
	reporter heartbeat.Reporter
	dialer   *websocket.Dialer
	backoff  time.Duration
}

func NewConnector(appToken string, client *Client, intake *Intake, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		appToken: strings.TrimSpace(appToken),
		client:   client,
		intake:   intake,
		logger:   logger.With("component", componentName),
		dialer:   websocket.DefaultDialer,
		backoff:  2 * time.Second,
	}
}

func (c *Connector) Name() string {
	return "slack"
}

func (c *Connector) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	c.reporter = reporter
}

func (c *Connector) Start(ctx context.Context) error {
	if c.reporter != nil {
		c.reporter.Starting(componentName, "starting")
	}
	if botUserID, err := c.client.AuthTest(ctx); err != nil {
		c.logger.Warn("slack auth.test failed", "error", err)
	} else {
		c.intake.SetBotUserID(botUserID)
		c.logger.Info("slack bot identified", "bot_user_id", botUserID)
	}
	if c.appToken == "" {
		if c.reporter != nil {
			c.reporter.Disabled(componentName, "app token missing, events api only")
		}
		c.logger.Info("socket mode disabled, app token missing")
		<-ctx.Done()
		return nil
	}

	c.logger.Info("connector started", "mode", "socket")
	for {
		if ctx.Err() != nil {
			c.stopped()
			return nil
		}
		if err := c.runSession(ctx); err != nil {
			if ctx.Err() != nil {
				c.stopped()
				return nil
			}
			if c.reporter != nil {
				c.reporter.Degrade(componentName, "socket session error", err)
			}
			c.logger.Error("slack session ended, reconnecting", "error", err)
			select {
			case <-ctx.Done():
				c.stopped()
				return nil
			case <-time.After(c.backoff):
			}
		}
	}
}

func (c *Connector) stopped() {
	if c.reporter != nil {
		c.reporter.Stopped(componentName, "stopped")
	}
	c.logger.Info("connector stopped")
}

func (c *Connector) runSession(ctx context.Context) error {
	socketURL, err := c.client.OpenConnection(ctx, c.appToken)
	if err != nil {
		return err
	}
	conn, _, err := c.dialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		return fmt.Errorf("dial slack socket: %w", err)
	}
	defer conn.Close()

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-sessionDone:
		}
	}()
	// Slack pings an idle socket; those keep the component from going stale.
	conn.SetPingHandler(func(data string) error {
		if c.reporter != nil {
			c.reporter.Beat(componentName, "socket ping")
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read socket message: %w", err)
		}
		var envelope socketEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			c.logger.Error("decode socket envelope failed", "error", err)
			continue
		}
		if envelope.EnvelopeID != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": envelope.EnvelopeID}); err != nil {
				return fmt.Errorf("ack envelope: %w", err)
			}
		}

		switch envelope.Type {
		case "hello":
			if c.reporter != nil {
				c.reporter.Beat(componentName, "socket session established")
			}
		case "disconnect":
			return fmt.Errorf("slack requested disconnect: %s", envelope.Reason)
		case "events_api":
			if c.reporter != nil {
				c.reporter.Beat(componentName, "socket event received")
			}
			if envelope.RetryAttempt > 0 {
				c.logger.Info("slack retry dropped", "envelope_id", envelope.EnvelopeID, "retry", envelope.RetryAttempt)
				continue
			}
			var callback eventCallback
			if err := json.Unmarshal(envelope.Payload, &callback); err != nil {
				c.logger.Error("decode socket payload failed", "error", err)
				continue
			}
			if err := c.intake.handleCallback(ctx, "socket-mode", callback); err != nil {
				c.logger.Error("slack event not queued", "event_id", callback.EventID, "error", err)
			}
		}
	}
}
