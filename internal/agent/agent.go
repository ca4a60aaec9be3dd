package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dwizi/slack-bridge/internal/session"
)

const (
	defaultMaxOutputBytes = 1 << 20
	stderrTailBytes       = 2048
)

var ErrUnavailable = errors.New("agent binary is unavailable")

// Agent is a conversational assistant whose state lives behind a session
// token. Sessions are started under a token the caller has already persisted.
type Agent interface {
	StartWithToken(ctx context.Context, token, prompt string) (string, error)
	Resume(ctx context.Context, token, prompt string) (string, error)
}

// Error is a failed agent invocation. Timeout is set when the wall-clock
// ceiling killed the process; ExitCode is -1 when no exit status exists.
// SessionFailure is decided on the whole stderr before it is cut to the tail.
type Error struct {
	ExitCode       int
	StderrTail     string
	Timeout        bool
	SessionFailure bool
	After          time.Duration
	Err            error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("agent timed out after %s", e.After)
	}
	detail := compactOutput(e.StderrTail)
	if detail == "" {
		return fmt.Sprintf("agent exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("agent exited with code %d: %s", e.ExitCode, detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsSessionFailure reports whether err is an agent failure that points at the
// session itself, e.g. an unknown or unresumable session id.
func IsSessionFailure(err error) bool {
	var agentErr *Error
	if !errors.As(err, &agentErr) {
		return false
	}
	return agentErr.SessionFailure && !agentErr.Timeout
}

type CLIConfig struct {
	Binary          string
	Model           string
	AllowedDirs     []string
	SkipPermissions bool
	Timeout         time.Duration
	WorkDir         string
	MaxOutputBytes  int
	Logger          *slog.Logger
}

// CLI drives a print-mode assistant CLI (claude -p). The prompt is written to
// stdin and the reply read from stdout.
type CLI struct {
	cfg    CLIConfig
	logger *slog.Logger
}

func NewCLI(cfg CLIConfig) *CLI {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "claude"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "opus"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CLI{
		cfg:    cfg,
		logger: logger.With("component", "agent"),
	}
}

// StartWithToken opens a session under a caller chosen id, so the id can be
// persisted before the agent runs.
func (c *CLI) StartWithToken(ctx context.Context, token, prompt string) (string, error) {
	return c.run(ctx, c.Args("--session-id", token), prompt)
}

func (c *CLI) Resume(ctx context.Context, token, prompt string) (string, error) {
	return c.run(ctx, c.Args("--resume", token), prompt)
}

// Args builds the argument vector for one invocation.
func (c *CLI) Args(sessionFlag, token string) []string {
	args := []string{"-p", sessionFlag, token, "--model", c.cfg.Model}
	for _, dir := range c.cfg.AllowedDirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		args = append(args, "--add-dir", dir)
	}
	if c.cfg.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	return args
}

func (c *CLI) run(ctx context.Context, args []string, prompt string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.cfg.Binary, args...)
	cmd.Dir = strings.TrimSpace(c.cfg.WorkDir)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = append(os.Environ(), "TERM=dumb")
	cmd.WaitDelay = 5 * time.Second

	stdout := &limitedBuffer{MaxBytes: c.cfg.MaxOutputBytes}
	stderr := &limitedBuffer{MaxBytes: c.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)
	if err != nil {
		return "", c.classify(runCtx, err, stderr.String())
	}
	if stdout.Truncated {
		c.logger.Warn("agent output truncated", "max_bytes", c.cfg.MaxOutputBytes)
	}
	c.logger.Debug("agent finished", "duration_ms", elapsed.Milliseconds())

	output := strings.TrimSpace(stdout.String())
	if output == "" {
		output = strings.TrimSpace(stderr.String())
	}
	return output, nil
}

func (c *CLI) classify(runCtx context.Context, err error, stderrText string) error {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &Error{ExitCode: -1, StderrTail: tail(stderrText), Timeout: true, After: c.cfg.Timeout, Err: err}
	}
	if errors.Is(err, exec.ErrNotFound) {
		return &Error{ExitCode: -1, Err: fmt.Errorf("%w: %s not found in PATH", ErrUnavailable, c.cfg.Binary)}
	}
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return &Error{
		ExitCode:       exitCode,
		StderrTail:     tail(stderrText),
		SessionFailure: session.IsSessionFailureText(stderrText),
		Err:            err,
	}
}

func tail(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= stderrTailBytes {
		return value
	}
	return value[len(value)-stderrTailBytes:]
}

func compactOutput(value string) string {
	normalized := strings.Join(strings.Fields(value), " ")
	if len(normalized) <= 300 {
		return normalized
	}
	return normalized[:300] + "..."
}

type limitedBuffer struct {
	MaxBytes  int
	Truncated bool
	buf       bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.MaxBytes - b.buf.Len()
	if remaining <= 0 {
		b.Truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		_, _ = b.buf.Write(p[:remaining])
		b.Truncated = true
		return len(p), nil
	}
	_, _ = b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
