package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/slack-bridge/internal/media"
)

const (
	SpeechSampleRate = 16000
	SpeechChannels   = 1
	framePattern     = "frame_%04d.png"
	// maxFrames is the most frames framePattern names in four digits.
	maxFrames = 9999
)

var ErrNoFrames = errors.New("no frames extracted")

type FrameExtractor interface {
	ExtractFrames(ctx context.Context, videoPath, outDir string) ([]media.Item, error)
}

type Resampler interface {
	Resample(ctx context.Context, audioPath, outPath string) error
}

type FFmpegConfig struct {
	Binary    string
	FPS       float64
	MaxFrames int
	Timeout   time.Duration
}

type FFmpeg struct {
	cfg    FFmpegConfig
	runner commandRunner
}

func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	return newFFmpeg(cfg, execRunner{})
}

func newFFmpeg(cfg FFmpegConfig, runner commandRunner) *FFmpeg {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 1
	}
	if cfg.MaxFrames < 1 {
		cfg.MaxFrames = 30
	}
	if cfg.MaxFrames > maxFrames {
		cfg.MaxFrames = maxFrames
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &FFmpeg{cfg: cfg, runner: runner}
}

// ExtractFrames samples stills from a video into outDir. Frames come back in
// temporal order; their zero-padded names sort the same way.
func (f *FFmpeg) ExtractFrames(ctx context.Context, videoPath, outDir string) ([]media.Item, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", videoPath,
		"-vf", "fps=" + strconv.FormatFloat(f.cfg.FPS, 'f', -1, 64),
		"-frames:v", strconv.Itoa(f.cfg.MaxFrames),
		filepath.Join(outDir, framePattern),
	}
	if _, err := runTool(ctx, f.runner, f.cfg.Timeout, "extract frames", f.cfg.Binary, args...); err != nil {
		return nil, err
	}
	frames, err := CollectFrames(outDir)
	if err != nil {
		return nil, &Error{Op: "extract frames", Command: f.cfg.Binary, Err: err}
	}
	if len(frames) == 0 {
		return nil, &Error{Op: "extract frames", Command: f.cfg.Binary, Err: ErrNoFrames}
	}
	return frames, nil
}

func (f *FFmpeg) Resample(ctx context.Context, audioPath, outPath string) error {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", audioPath,
		"-ar", strconv.Itoa(SpeechSampleRate),
		"-ac", strconv.Itoa(SpeechChannels),
		"-c:a", "pcm_s16le",
		outPath,
	}
	if _, err := runTool(ctx, f.runner, f.cfg.Timeout, "resample audio", f.cfg.Binary, args...); err != nil {
		return err
	}
	if _, err := os.Stat(outPath); err != nil {
		return &Error{Op: "resample audio", Command: f.cfg.Binary, Err: fmt.Errorf("missing output: %w", err)}
	}
	return nil
}

// CollectFrames lists frame_NNNN.png files in dir in sequence order.
func CollectFrames(dir string) ([]media.Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "frame_") || !strings.HasSuffix(name, ".png") {
			continue
		}
		names = append(names, name)
	}
	media.SortFrameNames(names)
	frames := make([]media.Item, 0, len(names))
	for _, name := range names {
		frames = append(frames, media.Item{
			Path: filepath.Join(dir, name),
			Name: name,
			Kind: media.KindImage,
		})
	}
	return frames, nil
}
