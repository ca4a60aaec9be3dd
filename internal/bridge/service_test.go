package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dwizi/slack-bridge/internal/agent"
	"github.com/dwizi/slack-bridge/internal/media"
	"github.com/dwizi/slack-bridge/internal/session"
	"github.com/dwizi/slack-bridge/internal/speech"
	"github.com/dwizi/slack-bridge/internal/store"
	"github.com/dwizi/slack-bridge/internal/transcode"
)

type postedMessage struct {
	channel  string
	threadTS string
	text     string
}

type fakeResponder struct {
	mu       sync.Mutex
	messages []postedMessage
	uploads  []string
	profile  UserProfile
}

func (f *fakeResponder) PostMessage(ctx context.Context, channel, threadTS, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, postedMessage{channel: channel, threadTS: threadTS, text: text})
	return nil
}

func (f *fakeResponder) UploadFile(ctx context.Context, channel, threadTS, path, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return err
	}
	f.uploads = append(f.uploads, path)
	return nil
}

func (f *fakeResponder) LookupUser(ctx context.Context, identity string) (UserProfile, error) {
	if f.profile.ID == "" {
		return UserProfile{}, errors.New("user not found")
	}
	return f.profile, nil
}

func (f *fakeResponder) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]string, 0, len(f.messages))
	for _, message := range f.messages {
		result = append(result, message.text)
	}
	return result
}

type agentCall struct {
	mode   string
	token  string
	prompt string
}

type fakeAgent struct {
	mu     sync.Mutex
	calls  []agentCall
	output string
	err    error
}

func (f *fakeAgent) StartWithToken(ctx context.Context, token, prompt string) (string, error) {
	return f.record("start", token, prompt)
}

func (f *fakeAgent) Resume(ctx context.Context, token, prompt string) (string, error) {
	return f.record("resume", token, prompt)
}

func (f *fakeAgent) record(mode, token, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, agentCall{mode: mode, token: token, prompt: prompt})
	return f.output, f.err
}

type noFetcher struct{}

func (noFetcher) FetchAll(ctx context.Context, attachments []media.Attachment, files media.FileAllocator) []media.Item {
	return nil
}

type fakeDownloader struct {
	urls []string
}

func (f *fakeDownloader) Download(ctx context.Context, url, outDir string) (media.Item, error) {
	f.urls = append(f.urls, url)
	path := filepath.Join(outDir, "video.mp4")
	if err := os.WriteFile(path, []byte("video"), 0o600); err != nil {
		return media.Item{}, err
	}
	return media.Item{Path: path, Name: "video.mp4", Kind: media.KindVideo}, nil
}

type fakeFrames struct {
	written []string
}

func (f *fakeFrames) ExtractFrames(ctx context.Context, videoPath, outDir string) ([]media.Item, error) {
	items := []media.Item{}
	for _, name := range []string{"frame_0002.png", "frame_0001.png"} {
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, []byte("png"), 0o600); err != nil {
			return nil, err
		}
		f.written = append(f.written, path)
		items = append(items, media.Item{Path: path, Name: name, Kind: media.KindImage})
	}
	return items, nil
}

type failingFrames struct {
	err error
}

func (f failingFrames) ExtractFrames(ctx context.Context, videoPath, outDir string) ([]media.Item, error) {
	return nil, f.err
}

type fakeResampler struct{}

func (fakeResampler) Resample(ctx context.Context, audioPath, outPath string) error {
	return os.WriteFile(outPath, []byte("RIFF"), 0o600)
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(ctx context.Context, wavPath string) (string, error) {
	return f.text, f.err
}

type fakeSynthesizer struct {
	err error
}

func (f fakeSynthesizer) Synthesize(ctx context.Context, text, voice string, files speech.FileAllocator) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	path := files.NewFile(".aiff")
	return path, os.WriteFile(path, []byte("FORM"), 0o600)
}

type harness struct {
	service   *Service
	store     *store.Store
	sessions  *session.Manager
	responder *fakeResponder
	agent     *fakeAgent
	scratch   string
}

func newHarness(t *testing.T, configure func(*Dependencies, *Config)) *harness {
	t.Helper()
	sqlStore, err := store.New(filepath.Join(t.TempDir(), "bridge_test.sqlite"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}

	h := &harness{
		store:     sqlStore,
		sessions:  session.NewManager(sqlStore),
		responder: &fakeResponder{},
		agent:     &fakeAgent{output: "hi there"},
		scratch:   t.TempDir(),
	}
	deps := Dependencies{
		Store:     sqlStore,
		Sessions:  h.sessions,
		Agent:     h.agent,
		Responder: h.responder,
		Fetcher:   noFetcher{},
	}
	cfg := Config{
		ScratchDir: h.scratch,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if configure != nil {
		configure(&deps, &cfg)
	}
	service, err := New(deps, cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.service = service
	return h
}

func (h *harness) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.scratch)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		names := []string{}
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		t.Fatalf("scratch not cleaned: %v", names)
	}
}

func TestNewSessionOnFirstMessage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	reply, err := h.service.HandleEvent(ctx, Event{Identity: "U1", Channel: "D1", TS: "100.1", Text: "hello"})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if reply.Text != "hi there" || reply.ThreadTS != "100.1" {
		t.Fatalf("unexpected reply: %#v", reply)
	}
	if len(h.agent.calls) != 1 || h.agent.calls[0].mode != "start" {
		t.Fatalf("expected one start call, got %#v", h.agent.calls)
	}
	token, ok, err := h.sessions.Current(ctx, "U1")
	if err != nil || !ok {
		t.Fatalf("expected U1 bound, ok=%v err=%v", ok, err)
	}
	if token != h.agent.calls[0].token {
		t.Fatalf("stored token %s differs from started token %s", token, h.agent.calls[0].token)
	}
	if texts := h.responder.texts(); len(texts) != 2 || texts[0] != processingReply {
		t.Fatalf("expected processing notice then reply, got %v", texts)
	}

	if _, err := h.service.HandleEvent(ctx, Event{Identity: "U1", Channel: "D1", TS: "100.2", Text: "again"}); err != nil {
		t.Fatalf("handle second event: %v", err)
	}
	if h.agent.calls[1].mode != "resume" || h.agent.calls[1].token != token {
		t.Fatalf("expected resume of %s, got %#v", token, h.agent.calls[1])
	}

	entries, err := h.store.ListInbox(ctx, 10)
	if err != nil {
		t.Fatalf("list inbox: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two inbox entries, got %d", len(entries))
	}
	h.assertScratchEmpty(t)
}

func TestSwitchSessionCommand(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	reply, err := h.service.HandleEvent(ctx, Event{Identity: "U1", Channel: "C1", TS: "1.0", ThreadTS: "0.5", Text: "!session abc123"})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if reply.Text != "Session switched: `abc123`" || reply.ThreadTS != "0.5" {
		t.Fatalf("unexpected reply: %#v", reply)
	}
	if len(h.agent.calls) != 0 {
		t.Fatalf("control command must not invoke the agent: %#v", h.agent.calls)
	}
	token, ok, _ := h.sessions.Current(ctx, "U1")
	if !ok || token != "abc123" {
		t.Fatalf("expected U1 bound to abc123, got %q ok=%v", token, ok)
	}

	show, err := h.service.HandleEvent(ctx, Event{Identity: "U1", Channel: "C1", TS: "1.1", Text: "/SESSION"})
	if err != nil {
		t.Fatalf("show session: %v", err)
	}
	if show.Text != "Current session: `abc123`" {
		t.Fatalf("unexpected show reply: %q", show.Text)
	}

	reset, err := h.service.HandleEvent(ctx, Event{Identity: "U1", Channel: "C1", TS: "1.2", Text: "!new"})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset.Text != "New session started." {
		t.Fatalf("unexpected reset reply: %q", reset.Text)
	}
	show, _ = h.service.HandleEvent(ctx, Event{Identity: "U1", Channel: "C1", TS: "1.3", Text: "!sessions"})
	if show.Text != "No active session." {
		t.Fatalf("unexpected show reply after reset: %q", show.Text)
	}
	if entries, _ := h.store.ListInbox(ctx, 10); len(entries) != 0 {
		t.Fatalf("control commands must not reach the inbox, got %d entries", len(entries))
	}
}

func TestWhoAmI(t *testing.T) {
	h := newHarness(t, nil)
	h.responder.profile = UserProfile{ID: "U1", Name: "jdoe", RealName: "Jane Doe"}
	reply, err := h.service.HandleEvent(context.Background(), Event{Identity: "U1", Channel: "D1", TS: "1", Text: "!whoami"})
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if reply.Text != "You are Jane Doe (`U1`)." {
		t.Fatalf("unexpected whoami reply: %q", reply.Text)
	}
}

func TestVideoURLFramesAreCleanedUp(t *testing.T) {
	downloader := &fakeDownloader{}
	frames := &fakeFrames{}
	h := newHarness(t, func(deps *Dependencies, cfg *Config) {
		deps.Downloader = downloader
		deps.Frames = frames
	})

	_, err := h.service.HandleEvent(context.Background(), Event{
		Identity: "U1",
		Channel:  "D1",
		TS:       "5.0",
		Text:     "https://youtu.be/dQw4w9WgXcQ",
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(downloader.urls) != 1 || downloader.urls[0] != "https://youtu.be/dQw4w9WgXcQ" {
		t.Fatalf("unexpected downloads: %v", downloader.urls)
	}
	if len(h.agent.calls) != 1 {
		t.Fatalf("expected one agent call, got %d", len(h.agent.calls))
	}
	sent := h.agent.calls[0].prompt
	if !strings.Contains(sent, "## Video frames") || strings.Contains(sent, "## Images") {
		t.Fatalf("unexpected prompt blocks: %q", sent)
	}
	if strings.Index(sent, "frame_0001.png") > strings.Index(sent, "frame_0002.png") {
		t.Fatalf("frames out of order: %q", sent)
	}
	for _, path := range frames.written {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("frame %s still exists", path)
		}
	}
	h.assertScratchEmpty(t)
}

func TestToolDiagnosticIsLoggedNotReplied(t *testing.T) {
	var logs bytes.Buffer
	h := newHarness(t, func(deps *Dependencies, cfg *Config) {
		deps.Downloader = &fakeDownloader{}
		deps.Frames = failingFrames{err: &transcode.Error{
			Op:   "extract frames",
			Tail: "moov atom not found",
			Err:  errors.New("exit status 1"),
		}}
		cfg.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	})

	reply, err := h.service.HandleEvent(context.Background(), Event{
		Identity: "U1",
		Channel:  "D1",
		TS:       "6.0",
		Text:     "summarize https://youtu.be/dQw4w9WgXcQ",
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if !strings.Contains(logs.String(), "moov atom not found") {
		t.Fatalf("expected diagnostic tail in logs, got:\n%s", logs.String())
	}
	for _, text := range h.responder.texts() {
		if strings.Contains(text, "moov atom") {
			t.Fatalf("diagnostic leaked into chat: %q", text)
		}
	}
	if reply.Text != "hi there" {
		t.Fatalf("expected agent reply despite frame failure, got %q", reply.Text)
	}
	h.assertScratchEmpty(t)
}

func TestAgentTimeoutCleansUp(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script test")
	}
	scriptPath := filepath.Join(t.TempDir(), "slow-agent.sh")
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	h := newHarness(t, func(deps *Dependencies, cfg *Config) {
		deps.Agent = agent.NewCLI(agent.CLIConfig{Binary: scriptPath, Timeout: 100 * time.Millisecond})
		deps.Fetcher = media.NewFetcher(media.FetcherConfig{Logger: cfg.Logger})
	})

	started := time.Now()
	reply, err := h.service.HandleEvent(context.Background(), Event{
		Identity: "U1",
		Channel:  "D1",
		TS:       "9.0",
		Text:     "what is this?",
		Attachments: []media.Attachment{
			{MimeType: "image/png", SizeBytes: 11, DownloadRef: server.URL + "/a.png", Name: "a.png"},
		},
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if !strings.HasPrefix(reply.Text, "Error: agent timed out") {
		t.Fatalf("expected timeout reply, got %q", reply.Text)
	}
	if time.Since(started) > 4*time.Second {
		t.Fatal("agent was not stopped at the timeout")
	}
	if _, ok, _ := h.sessions.Current(context.Background(), "U1"); !ok {
		t.Fatal("timeout must not invalidate the session")
	}
	h.assertScratchEmpty(t)
}

func TestSessionFailureInvalidatesBinding(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.sessions.Rebind(ctx, "U1", "gone"); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	h.agent.err = &agent.Error{ExitCode: 1, StderrTail: "No conversation found with session ID: gone", SessionFailure: true}

	reply, err := h.service.HandleEvent(ctx, Event{Identity: "U1", Channel: "D1", TS: "2.0", Text: "hello"})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if !strings.HasPrefix(reply.Text, "Error: ") || !strings.Contains(reply.Text, "No conversation found") {
		t.Fatalf("unexpected error reply: %q", reply.Text)
	}
	if _, ok, _ := h.sessions.Current(ctx, "U1"); ok {
		t.Fatal("expected binding dropped after session failure")
	}
}

func TestAudioTranscriptAndVoiceReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ogg"))
	}))
	defer server.Close()

	h := newHarness(t, func(deps *Dependencies, cfg *Config) {
		deps.Fetcher = media.NewFetcher(media.FetcherConfig{Logger: cfg.Logger})
		deps.Resampler = fakeResampler{}
		deps.Transcriber = fakeTranscriber{text: "turn on the lights"}
		deps.Synthesizer = fakeSynthesizer{}
		cfg.TTSEnabled = true
	})

	reply, err := h.service.HandleEvent(context.Background(), Event{
		Identity: "U1",
		Channel:  "D1",
		TS:       "3.0",
		Attachments: []media.Attachment{
			{MimeType: "audio/ogg", SizeBytes: 3, DownloadRef: server.URL + "/voice.ogg", Name: "voice.ogg"},
		},
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	sent := h.agent.calls[0].prompt
	if !strings.HasPrefix(sent, "Analyze this media.") || !strings.Contains(sent, "turn on the lights") {
		t.Fatalf("unexpected prompt: %q", sent)
	}
	if len(h.responder.uploads) != 1 || reply.AttachmentPath != h.responder.uploads[0] {
		t.Fatalf("expected voice upload, got %v reply=%#v", h.responder.uploads, reply)
	}
	h.assertScratchEmpty(t)
}

func TestVoiceFailureStillReplies(t *testing.T) {
	h := newHarness(t, func(deps *Dependencies, cfg *Config) {
		deps.Synthesizer = fakeSynthesizer{err: errors.New("say crashed")}
		cfg.TTSEnabled = true
	})
	reply, err := h.service.HandleEvent(context.Background(), Event{Identity: "U1", Channel: "D1", TS: "4.0", Text: "hello"})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if reply.Text != "hi there" || reply.AttachmentPath != "" {
		t.Fatalf("unexpected reply: %#v", reply)
	}
}

func TestMentionRegistersThread(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.service.HandleEvent(ctx, Event{Identity: "U1", Channel: "C9", TS: "7.0", Text: "hey", Mention: true}); err != nil {
		t.Fatalf("handle mention: %v", err)
	}
	active, err := h.store.IsActiveThread(ctx, store.ThreadKey("C9", "7.0"))
	if err != nil || !active {
		t.Fatalf("expected thread registered, active=%v err=%v", active, err)
	}

	if _, err := h.service.HandleEvent(ctx, Event{Identity: "U1", Channel: "C9", TS: "8.0", ThreadTS: "7.0", Text: "more", Mention: true}); err != nil {
		t.Fatalf("handle reply mention: %v", err)
	}
	if active, _ := h.store.IsActiveThread(ctx, store.ThreadKey("C9", "8.0")); active {
		t.Fatal("mentions inside a thread must not register a new thread")
	}
}

func TestEmptyEventIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	reply, err := h.service.HandleEvent(context.Background(), Event{Identity: "U1", Channel: "D1", TS: "1", Text: "   "})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if reply != (Reply{}) || len(h.responder.texts()) != 0 {
		t.Fatalf("expected no reply, got %#v", reply)
	}
}

func TestFormatReply(t *testing.T) {
	if got := FormatReply("  "); got != emptyReply {
		t.Fatalf("unexpected empty reply: %q", got)
	}
	exact := strings.Repeat("a", maxReplyChars)
	if got := FormatReply(exact); got != exact {
		t.Fatal("reply at the ceiling must not be truncated")
	}
	long := strings.Repeat("가", maxReplyChars+1)
	got := FormatReply(long)
	if !strings.HasSuffix(got, truncatedMarker) {
		t.Fatalf("expected truncation marker, got suffix %q", got[len(got)-20:])
	}
	if runes := []rune(strings.TrimSuffix(got, truncatedMarker)); len(runes) != maxReplyChars {
		t.Fatalf("expected %d chars kept, got %d", maxReplyChars, len(runes))
	}
}
