package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/slack-bridge/internal/heartbeat"
)

func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("slack-bridge starting",
		"addr", r.cfg.HTTPAddr,
		"version", r.version,
		"scratch_dir", r.cfg.ScratchDir,
		"allowed_identities", len(r.policy.Identities()),
	)
	var reporter heartbeat.Reporter
	if r.heartbeat != nil {
		reporter = r.heartbeat
		r.heartbeat.Beat("runtime", "runtime loop started")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return runMonitored(groupCtx, reporter, "orchestrator", 20*time.Second, r.engine.Start)
	})
	group.Go(func() error {
		return runMonitored(groupCtx, reporter, "scratch-sweeper", 20*time.Second, r.sweeper.Start)
	})
	if r.watcher != nil {
		group.Go(func() error {
			return runMonitored(groupCtx, reporter, "access-watcher", 20*time.Second, r.watcher.Start)
		})
	}
	for _, connector := range r.connectors {
		group.Go(func() error {
			componentName := "connector:" + strings.ToLower(strings.TrimSpace(connector.Name()))
			return runMonitored(groupCtx, reporter, componentName, 0, connector.Start)
		})
	}
	group.Go(func() error {
		return runMonitored(groupCtx, reporter, "api", 20*time.Second, func(runCtx context.Context) error {
			err := r.httpServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	})
	if r.heartbeatMonitor != nil {
		group.Go(func() error {
			return r.heartbeatMonitor.Start(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func (r *Runtime) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// runMonitored reports component lifecycle around run. With a positive
// beatInterval it also beats while run is in progress.
func runMonitored(
	ctx context.Context,
	reporter heartbeat.Reporter,
	component string,
	beatInterval time.Duration,
	run func(context.Context) error,
) error {
	if run == nil {
		return nil
	}
	if reporter != nil {
		reporter.Starting(component, "starting")
		reporter.Beat(component, "running")
	}

	var stopHeartbeat func()
	if reporter != nil && beatInterval > 0 {
		heartbeatCtx, cancel := context.WithCancel(ctx)
		stopHeartbeat = cancel
		go func() {
			ticker := time.NewTicker(beatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-heartbeatCtx.Done():
					return
				case <-ticker.C:
					reporter.Beat(component, "running")
				}
			}
		}()
	}

	err := run(ctx)
	if stopHeartbeat != nil {
		stopHeartbeat()
	}
	if reporter == nil {
		return err
	}
	if err != nil && ctx.Err() == nil {
		reporter.Degrade(component, "component failed", err)
		return err
	}
	reporter.Stopped(component, "stopped")
	return err
}
