package scratch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dwizi/slack-bridge/internal/heartbeat"
)

var sweepScheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type SweeperConfig struct {
	BaseDir  string
	Schedule string
	MaxAge   time.Duration
	Logger   *slog.Logger
}

// Sweeper removes request areas left behind by a crashed or killed process.
// Live requests always clean up their own areas.
type Sweeper struct {
	baseDir  string
	schedule cron.Schedule
	spec     string
	maxAge   time.Duration
	logger   *slog.Logger
	reporter heartbeat.Reporter
}

func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		spec = "@every 30m"
	}
	schedule, err := sweepScheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse scratch sweep schedule %q: %w", spec, err)
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 2 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		baseDir:  strings.TrimSpace(cfg.BaseDir),
		schedule: schedule,
		spec:     spec,
		maxAge:   maxAge,
		logger:   logger,
	}, nil
}

func (s *Sweeper) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

func (s *Sweeper) Start(ctx context.Context) error {
	if s.baseDir == "" {
		if s.reporter != nil {
			s.reporter.Disabled("scratch-sweeper", "scratch dir not configured")
		}
		<-ctx.Done()
		return nil
	}
	runner := cron.New(cron.WithParser(sweepScheduleParser))
	runner.Schedule(s.schedule, cron.FuncJob(func() {
		s.sweepAndReport(time.Now())
	}))
	s.sweepAndReport(time.Now())
	runner.Start()
	s.logger.Info("scratch sweeper started", "schedule", s.spec, "max_age", s.maxAge.String(), "dir", s.baseDir)

	<-ctx.Done()
	stopped := runner.Stop()
	<-stopped.Done()
	s.logger.Info("scratch sweeper stopped")
	return nil
}

func (s *Sweeper) sweepAndReport(now time.Time) {
	removed, err := s.Sweep(now)
	if err != nil {
		s.logger.Warn("scratch sweep failed", "error", err)
		if s.reporter != nil {
			s.reporter.Degrade("scratch-sweeper", "sweep failed", err)
		}
		return
	}
	if removed > 0 {
		s.logger.Info("scratch sweep removed stale areas", "count", removed)
	}
	if s.reporter != nil {
		s.reporter.Beat("scratch-sweeper", "sweep complete")
	}
}

// Sweep deletes request areas whose modification time is older than the
// configured max age relative to now.
func (s *Sweeper) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read scratch dir: %w", err)
	}
	cutoff := now.Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), areaPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("remove stale scratch area failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
