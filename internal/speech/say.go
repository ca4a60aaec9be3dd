package speech

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const maxSpokenChars = 3000

// FileAllocator hands out unique scratch paths owned by the current request.
type FileAllocator interface {
	NewFile(ext string) string
}

type SayConfig struct {
	Binary  string
	Voice   string
	Timeout time.Duration
}

// Say drives a macOS say compatible synthesizer. Text is handed over in a
// file so it never passes through an argument list.
type Say struct {
	cfg    SayConfig
	runner commandRunner
}

func NewSay(cfg SayConfig) *Say {
	return newSay(cfg, execRunner{})
}

func newSay(cfg SayConfig, runner commandRunner) *Say {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "say"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &Say{cfg: cfg, runner: runner}
}

// Synthesize returns the path of an audio file speaking text, allocated from
// files. An empty voice falls back to the configured default.
func (s *Say) Synthesize(ctx context.Context, text, voice string, files FileAllocator) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &Error{Op: "synthesize", Err: fmt.Errorf("empty text")}
	}
	if runes := []rune(text); len(runes) > maxSpokenChars {
		text = string(runes[:maxSpokenChars])
	}
	voice = strings.TrimSpace(voice)
	if voice == "" {
		voice = strings.TrimSpace(s.cfg.Voice)
	}

	textPath := files.NewFile(".txt")
	if err := os.WriteFile(textPath, []byte(text), 0o600); err != nil {
		return "", &Error{Op: "synthesize", Err: err}
	}
	outPath := files.NewFile(".aiff")
	args := []string{}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	args = append(args, "-o", outPath, "-f", textPath)
	if _, err := run(ctx, s.runner, s.cfg.Timeout, "synthesize", s.cfg.Binary, args...); err != nil {
		return "", err
	}
	if info, err := os.Stat(outPath); err != nil || info.Size() == 0 {
		return "", &Error{Op: "synthesize", Err: fmt.Errorf("no audio produced")}
	}
	return outPath, nil
}
