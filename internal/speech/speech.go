package speech

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("speech tool is unavailable")

type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, files FileAllocator) (string, error)
}

type commandRunner interface {
	Run(cmd *exec.Cmd) ([]byte, error)
}

// execRunner returns stdout only; recognizers log progress on stderr.
type execRunner struct{}

func (execRunner) Run(cmd *exec.Cmd) ([]byte, error) {
	return cmd.Output()
}

type Error struct {
	Op      string
	Tail    string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s timed out", e.Op)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func run(ctx context.Context, runner commandRunner, timeout time.Duration, op, binary string, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.WaitDelay = 5 * time.Second
	output, err := runner.Run(cmd)
	if err == nil {
		return output, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, &Error{Op: op, Err: fmt.Errorf("%w: %s not found in PATH", ErrUnavailable, binary)}
	}
	diagnostic := string(output)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		diagnostic = string(exitErr.Stderr)
	}
	return nil, &Error{
		Op:      op,
		Tail:    tail(diagnostic, 1024),
		Timeout: errors.Is(runCtx.Err(), context.DeadlineExceeded),
		Err:     err,
	}
}

var timestampMarkup = regexp.MustCompile(`\[\d{2}:\d{2}:\d{2}\.\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}\.\d{3}\]`)

// StripTimestamps removes "[hh:mm:ss.mmm --> hh:mm:ss.mmm]" segment markers
// and blank lines from recognizer output.
func StripTimestamps(text string) string {
	cleaned := timestampMarkup.ReplaceAllString(text, "")
	lines := strings.Split(cleaned, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func tail(value string, maxBytes int) string {
	value = strings.TrimSpace(value)
	if len(value) <= maxBytes {
		return value
	}
	return value[len(value)-maxBytes:]
}
