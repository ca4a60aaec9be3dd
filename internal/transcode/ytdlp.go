package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/slack-bridge/internal/media"
)

var ErrNoDownload = errors.New("downloader produced no file")

type VideoDownloader interface {
	Download(ctx context.Context, url, outDir string) (media.Item, error)
}

type YTDLPConfig struct {
	Binary   string
	Format   string
	MaxBytes int64
	Timeout  time.Duration
}

type YTDLP struct {
	cfg    YTDLPConfig
	runner commandRunner
}

func NewYTDLP(cfg YTDLPConfig) *YTDLP {
	return newYTDLP(cfg, execRunner{})
}

func newYTDLP(cfg YTDLPConfig, runner commandRunner) *YTDLP {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "yt-dlp"
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = "best[height<=720]/best"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &YTDLP{cfg: cfg, runner: runner}
}

// Download fetches url into outDir, which must be empty and owned by the
// caller. The downloaded file is the largest regular file left in outDir.
func (y *YTDLP) Download(ctx context.Context, url, outDir string) (media.Item, error) {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-part",
		"-f", y.cfg.Format,
	}
	if y.cfg.MaxBytes > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(y.cfg.MaxBytes, 10))
	}
	args = append(args,
		"-o", filepath.Join(outDir, "video.%(ext)s"),
		"--", url,
	)
	if _, err := runTool(ctx, y.runner, y.cfg.Timeout, "download video", y.cfg.Binary, args...); err != nil {
		return media.Item{}, err
	}

	path, err := largestFile(outDir)
	if err != nil {
		return media.Item{}, &Error{Op: "download video", Command: y.cfg.Binary, Err: err}
	}
	return media.Item{Path: path, Name: url, Kind: media.KindVideo}, nil
}

func largestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var (
		best     string
		bestSize int64 = -1
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, entry.Name())
			bestSize = info.Size()
		}
	}
	if best == "" {
		return "", ErrNoDownload
	}
	return best, nil
}
