package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/dwizi/slack-bridge/internal/agent"
	"github.com/dwizi/slack-bridge/internal/media"
	"github.com/dwizi/slack-bridge/internal/scratch"
	"github.com/dwizi/slack-bridge/internal/speech"
	"github.com/dwizi/slack-bridge/internal/transcode"
)

type collectedMedia struct {
	images     []media.Item
	frames     []media.Item
	transcript string
}

// collectMedia downloads and converts everything the event references. Each
// item fails on its own: it is logged and left out of the prompt.
func (s *Service) collectMedia(ctx context.Context, event Event, text string, area *scratch.Area) collectedMedia {
	logger := s.logger.With("identity", event.Identity, "channel", event.Channel)
	collected := collectedMedia{}
	transcripts := []string{}

	for _, item := range s.deps.Fetcher.FetchAll(ctx, event.Attachments, area) {
		switch item.Kind {
		case media.KindImage:
			collected.images = append(collected.images, item)
		case media.KindVideo:
			collected.frames = append(collected.frames, s.extractFrames(ctx, logger, item, area)...)
		case media.KindAudio:
			if transcript := s.transcribe(ctx, logger, item, area); transcript != "" {
				transcripts = append(transcripts, transcript)
			}
		}
	}

	for _, url := range media.ExtractVideoURLs(text) {
		item, ok := s.downloadVideo(ctx, logger, url, area)
		if !ok {
			continue
		}
		collected.frames = append(collected.frames, s.extractFrames(ctx, logger, item, area)...)
	}

	collected.transcript = strings.Join(transcripts, "\n\n")
	return collected
}

func (s *Service) downloadVideo(ctx context.Context, logger *slog.Logger, url string, area *scratch.Area) (media.Item, bool) {
	if s.deps.Downloader == nil {
		logger.Warn("video url ignored, no downloader configured", "url", url)
		return media.Item{}, false
	}
	dir, err := area.NewDir("download")
	if err != nil {
		logger.Error("video download dir failed", "url", url, "error", err)
		return media.Item{}, false
	}
	item, err := s.deps.Downloader.Download(ctx, url, dir)
	if err != nil {
		logger.Warn("video download failed", withFailure(err, "url", url)...)
		return media.Item{}, false
	}
	area.Track(item.Path)
	return item, true
}

func (s *Service) extractFrames(ctx context.Context, logger *slog.Logger, video media.Item, area *scratch.Area) []media.Item {
	if s.deps.Frames == nil {
		logger.Warn("video ignored, no frame extractor configured", "name", video.Name)
		return nil
	}
	dir, err := area.NewDir("frames")
	if err != nil {
		logger.Error("frame dir failed", "name", video.Name, "error", err)
		return nil
	}
	frames, err := s.deps.Frames.ExtractFrames(ctx, video.Path, dir)
	if err != nil {
		logger.Warn("frame extraction failed", withFailure(err, "name", video.Name)...)
		return nil
	}
	logger.Info("frames extracted", "name", video.Name, "frames", len(frames))
	return frames
}

func (s *Service) transcribe(ctx context.Context, logger *slog.Logger, audio media.Item, area *scratch.Area) string {
	if s.deps.Resampler == nil || s.deps.Transcriber == nil {
		logger.Warn("audio ignored, speech recognition not configured", "name", audio.Name)
		return ""
	}
	wavPath := area.NewFile(".wav")
	if err := s.deps.Resampler.Resample(ctx, audio.Path, wavPath); err != nil {
		logger.Warn("audio resample failed", withFailure(err, "name", audio.Name)...)
		return ""
	}
	transcript, err := s.deps.Transcriber.Transcribe(ctx, wavPath)
	if err != nil {
		logger.Warn("transcription failed", withFailure(err, "name", audio.Name)...)
		return ""
	}
	return strings.TrimSpace(transcript)
}

// withFailure appends err and, when the failing tool left one, the tail of its
// diagnostic output. The tail is for logs only and never reaches the chat.
func withFailure(err error, attrs ...any) []any {
	attrs = append(attrs, "error", err)
	if tail := diagnosticTail(err); tail != "" {
		attrs = append(attrs, "diagnostic", tail)
	}
	return attrs
}

func diagnosticTail(err error) string {
	var transcodeErr *transcode.Error
	if errors.As(err, &transcodeErr) {
		return transcodeErr.Tail
	}
	var speechErr *speech.Error
	if errors.As(err, &speechErr) {
		return speechErr.Tail
	}
	var agentErr *agent.Error
	if errors.As(err, &agentErr) {
		return agentErr.StderrTail
	}
	return ""
}
