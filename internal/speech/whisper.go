package speech

import (
	"context"
	"strings"
	"time"
)

type WhisperConfig struct {
	Binary   string
	Model    string
	Language string
	Timeout  time.Duration
}

// Whisper runs a whisper.cpp style recognizer on 16 kHz mono wav input.
type Whisper struct {
	cfg    WhisperConfig
	runner commandRunner
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	return newWhisper(cfg, execRunner{})
}

func newWhisper(cfg WhisperConfig, runner commandRunner) *Whisper {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "whisper-cli"
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "auto"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &Whisper{cfg: cfg, runner: runner}
}

func (w *Whisper) Transcribe(ctx context.Context, wavPath string) (string, error) {
	args := []string{}
	if model := strings.TrimSpace(w.cfg.Model); model != "" {
		args = append(args, "-m", model)
	}
	args = append(args, "-l", w.cfg.Language, "-nt", "-f", wavPath)
	output, err := run(ctx, w.runner, w.cfg.Timeout, "transcribe", w.cfg.Binary, args...)
	if err != nil {
		return "", err
	}
	return StripTimestamps(string(output)), nil
}
