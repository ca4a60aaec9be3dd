package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dwizi/slack-bridge/internal/agent"
	"github.com/dwizi/slack-bridge/internal/gateway"
	"github.com/dwizi/slack-bridge/internal/prompt"
	"github.com/dwizi/slack-bridge/internal/scratch"
	"github.com/dwizi/slack-bridge/internal/session"
	"github.com/dwizi/slack-bridge/internal/speech"
	"github.com/dwizi/slack-bridge/internal/store"
	"github.com/dwizi/slack-bridge/internal/transcode"
)

const (
	maxReplyChars   = 3900
	truncatedMarker = "\n\n... (truncated)"
	emptyReply      = "(empty response)"
	processingReply = "Processing..."
)

// Dependencies wires the pipeline. Transcoding and speech components are
// optional; a nil one disables the media it handles.
type Dependencies struct {
	Store       Store
	Sessions    *session.Manager
	Agent       agent.Agent
	Responder   Responder
	Fetcher     Fetcher
	Frames      transcode.FrameExtractor
	Resampler   transcode.Resampler
	Downloader  transcode.VideoDownloader
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
}

type Config struct {
	ScratchDir string
	TTSEnabled bool
	TTSVoice   string
	Logger     *slog.Logger
}

type Service struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger
}

func New(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Store == nil || deps.Sessions == nil || deps.Agent == nil || deps.Responder == nil || deps.Fetcher == nil {
		return nil, errors.New("bridge requires store, sessions, agent, responder and fetcher")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "bridge"),
	}, nil
}

// HandleEvent runs one event through the pipeline and posts every reply it
// produces. The returned Reply is the last message posted; a zero Reply means
// the event was ignored.
func (s *Service) HandleEvent(ctx context.Context, event Event) (Reply, error) {
	event.Identity = strings.TrimSpace(event.Identity)
	event.Channel = strings.TrimSpace(event.Channel)
	if event.Identity == "" || event.Channel == "" {
		return Reply{}, fmt.Errorf("event requires identity and channel")
	}

	route := gateway.Parse(event.Text)
	if route.IsControl() {
		text, err := s.handleControl(ctx, event, route)
		if err != nil {
			return Reply{}, err
		}
		return s.post(ctx, event, text)
	}
	if strings.TrimSpace(route.Text) == "" && len(event.Attachments) == 0 {
		return Reply{}, nil
	}
	return s.handleContent(ctx, event, route.Text)
}

func (s *Service) handleControl(ctx context.Context, event Event, route gateway.Route) (string, error) {
	logger := s.logger.With("identity", event.Identity, "action", string(route.Action))
	switch route.Action {
	case gateway.ActionResetSession:
		if err := s.deps.Sessions.Reset(ctx, event.Identity); err != nil {
			return "", fmt.Errorf("reset session: %w", err)
		}
		logger.Info("session reset")
		return "New session started.", nil
	case gateway.ActionSwitchSession:
		token := route.Args[0]
		if err := s.deps.Sessions.Rebind(ctx, event.Identity, token); err != nil {
			return "", fmt.Errorf("switch session: %w", err)
		}
		logger.Info("session switched", "session", token)
		return fmt.Sprintf("Session switched: `%s`", token), nil
	case gateway.ActionShowSession:
		token, ok, err := s.deps.Sessions.Current(ctx, event.Identity)
		if err != nil {
			return "", fmt.Errorf("show session: %w", err)
		}
		if !ok {
			return "No active session.", nil
		}
		return fmt.Sprintf("Current session: `%s`", token), nil
	case gateway.ActionWhoAmI:
		return s.whoAmI(ctx, event.Identity), nil
	default:
		return "", fmt.Errorf("unsupported action %q", route.Action)
	}
}

func (s *Service) whoAmI(ctx context.Context, identity string) string {
	profile, err := s.deps.Responder.LookupUser(ctx, identity)
	if err != nil {
		s.logger.Warn("user lookup failed", "identity", identity, "error", err)
		return fmt.Sprintf("You are `%s`.", identity)
	}
	name := firstNonEmpty(profile.DisplayName, profile.RealName, profile.Name)
	if name == "" {
		return fmt.Sprintf("You are `%s`.", identity)
	}
	return fmt.Sprintf("You are %s (`%s`).", name, identity)
}

func (s *Service) handleContent(ctx context.Context, event Event, text string) (Reply, error) {
	logger := s.logger.With("identity", event.Identity, "channel", event.Channel)

	if event.Mention && strings.TrimSpace(event.ThreadTS) == "" {
		key := store.ThreadKey(event.Channel, event.TS)
		if _, created, err := s.deps.Store.RegisterThread(ctx, key, event.Identity); err != nil {
			logger.Error("thread registration failed", "thread", key, "error", err)
		} else if created {
			logger.Info("thread registered", "thread", key)
		}
	}
	if _, err := s.deps.Store.AppendInbox(ctx, store.AppendInboxInput{
		Channel:         event.Channel,
		Identity:        event.Identity,
		Text:            text,
		OriginTS:        event.TS,
		ThreadTS:        event.ThreadTS,
		AttachmentCount: len(event.Attachments),
	}); err != nil {
		logger.Error("inbox append failed", "error", err)
	}
	if err := s.deps.Responder.PostMessage(ctx, event.Channel, event.ThreadAnchor(), processingReply); err != nil {
		logger.Warn("processing notice failed", "error", err)
	}

	unlock := s.deps.Sessions.Lock(event.Identity)
	defer unlock()

	area, err := scratch.NewArea(s.cfg.ScratchDir, s.logger)
	if err != nil {
		return s.post(ctx, event, "Error: "+err.Error())
	}
	defer area.Close()

	collected := s.collectMedia(ctx, event, text, area)
	assembled := prompt.Assemble(prompt.Input{
		Text:       text,
		Transcript: collected.transcript,
		Frames:     collected.frames,
		Images:     collected.images,
	})
	if strings.TrimSpace(assembled) == "" {
		logger.Info("nothing to send after media processing")
		return s.post(ctx, event, "No supported text or media found.")
	}

	output, err := s.invoke(ctx, event.Identity, assembled)
	if err != nil {
		logger.Error("agent invocation failed", withFailure(err)...)
		return s.post(ctx, event, "Error: "+err.Error())
	}

	reply := Reply{Channel: event.Channel, ThreadTS: event.ThreadAnchor(), Text: FormatReply(output)}
	if err := s.deps.Responder.PostMessage(ctx, reply.Channel, reply.ThreadTS, reply.Text); err != nil {
		return Reply{}, fmt.Errorf("post reply: %w", err)
	}
	if path := s.speak(ctx, output, area); path != "" {
		if err := s.deps.Responder.UploadFile(ctx, reply.Channel, reply.ThreadTS, path, "Voice reply"); err != nil {
			logger.Warn("voice upload failed", "error", err)
		} else {
			reply.AttachmentPath = path
		}
	}
	logger.Info("reply sent", "chars", len([]rune(reply.Text)))
	return reply, nil
}

// invoke starts or resumes the identity's session. A failure that points at
// the session drops the binding so the next message starts clean.
func (s *Service) invoke(ctx context.Context, identity, assembled string) (string, error) {
	binding, err := s.deps.Sessions.Ensure(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("ensure session: %w", err)
	}
	var output string
	if binding.Fresh {
		s.logger.Info("starting agent session", "identity", identity, "session", binding.Token)
		output, err = s.deps.Agent.StartWithToken(ctx, binding.Token, assembled)
	} else {
		s.logger.Info("resuming agent session", "identity", identity, "session", binding.Token)
		output, err = s.deps.Agent.Resume(ctx, binding.Token, assembled)
	}
	if err == nil {
		return output, nil
	}

	if agent.IsSessionFailure(err) {
		dropped, invalidateErr := s.deps.Sessions.InvalidateToken(ctx, identity, binding.Token)
		if invalidateErr != nil {
			s.logger.Error("session invalidation failed", "identity", identity, "error", invalidateErr)
		} else if dropped {
			s.logger.Info("session invalidated", "identity", identity, "session", binding.Token)
		}
	}
	return "", err
}

func (s *Service) speak(ctx context.Context, output string, area *scratch.Area) string {
	if !s.cfg.TTSEnabled || s.deps.Synthesizer == nil || strings.TrimSpace(output) == "" {
		return ""
	}
	path, err := s.deps.Synthesizer.Synthesize(ctx, output, s.cfg.TTSVoice, area)
	if err != nil {
		s.logger.Warn("speech synthesis failed", withFailure(err)...)
		return ""
	}
	area.Track(path)
	return path
}

func (s *Service) post(ctx context.Context, event Event, text string) (Reply, error) {
	reply := Reply{Channel: event.Channel, ThreadTS: event.ThreadAnchor(), Text: text}
	if err := s.deps.Responder.PostMessage(ctx, reply.Channel, reply.ThreadTS, reply.Text); err != nil {
		return Reply{}, fmt.Errorf("post reply: %w", err)
	}
	return reply, nil
}

// FormatReply applies the chat length ceiling to agent output.
func FormatReply(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return emptyReply
	}
	runes := []rune(output)
	if len(runes) <= maxReplyChars {
		return output
	}
	return string(runes[:maxReplyChars]) + truncatedMarker
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
