package transcode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const diagnosticTailBytes = 2048

var ErrUnavailable = errors.New("transcoding tool is unavailable")

type commandRunner interface {
	Run(cmd *exec.Cmd) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(cmd *exec.Cmd) ([]byte, error) {
	return cmd.CombinedOutput()
}

// Error describes a failed or timed out tool invocation. Tail keeps the end
// of the tool's diagnostic output for logs only.
type Error struct {
	Op      string
	Command string
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

func runTool(ctx context.Context, runner commandRunner, timeout time.Duration, op, binary string, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.WaitDelay = 5 * time.Second
	output, err := runner.Run(cmd)
	if err == nil {
		return output, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, &Error{Op: op, Command: binary, Err: fmt.Errorf("%w: %s not found in PATH", ErrUnavailable, binary)}
	}
	return nil, &Error{
		Op:      op,
		Command: cmd.String(),
		Tail:    tail(string(output), diagnosticTailBytes),
		Timeout: errors.Is(runCtx.Err(), context.DeadlineExceeded),
		Err:     err,
	}
}

func tail(value string, maxBytes int) string {
	value = strings.TrimSpace(value)
	if len(value) <= maxBytes {
		return value
	}
	return value[len(value)-maxBytes:]
}
