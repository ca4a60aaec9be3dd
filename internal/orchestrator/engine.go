package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dwizi/slack-bridge/internal/bridge"
	"github.com/dwizi/slack-bridge/internal/heartbeat"
)

var ErrQueueFull = errors.New("event queue is full")

const componentName = "orchestrator"

// Job is one accepted chat event waiting for a worker.
type Job struct {
	ID        string
	Source    string
	Event     bridge.Event
	CreatedAt time.Time
}

type Handler func(ctx context.Context, job Job) error

type Config struct {
	Workers   int
	QueueSize int
	Handler   Handler
	Logger    *slog.Logger
}

// Engine runs jobs on a fixed pool of workers. Jobs for one identity run one
// at a time in arrival order without holding a worker while they wait.
type Engine struct {
	maxConcurrency int
	capacity       int
	jobs           chan Job
	handler        Handler
	logger         *slog.Logger
	reporter       heartbeat.Reporter
	startOnce      sync.Once

	mu      sync.Mutex
	queued  int
	backlog map[string][]Job
}

func New(cfg Config) *Engine {
	maxConcurrency := cfg.Workers
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = maxConcurrency * 16
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		maxConcurrency: maxConcurrency,
		capacity:       queueSize,
		jobs:           make(chan Job, queueSize),
		backlog:        map[string][]Job{},
		handler:        cfg.Handler,
		logger:         logger.With("component", componentName),
	}
}

func (e *Engine) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	e.reporter = reporter
}

func (e *Engine) Start(ctx context.Context) error {
	if e.handler == nil {
		return fmt.Errorf("orchestrator handler is not configured")
	}
	var workers sync.WaitGroup
	e.startOnce.Do(func() {
		for index := 0; index < e.maxConcurrency; index++ {
			workers.Add(1)
			go func(workerID int) {
				defer workers.Done()
				e.worker(ctx, workerID)
			}(index + 1)
		}
	})
	if e.reporter != nil {
		e.reporter.Beat(componentName, fmt.Sprintf("%d workers running", e.maxConcurrency))
	}

	<-ctx.Done()
	workers.Wait()
	return nil
}

// Enqueue hands a job to the pool without blocking. A job whose identity
// already has one queued or running waits in that identity's lane. A saturated
// queue drops the job and returns ErrQueueFull.
func (e *Engine) Enqueue(job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queued >= e.capacity {
		if e.reporter != nil {
			e.reporter.Degrade(componentName, "queue full", ErrQueueFull)
		}
		return Job{}, ErrQueueFull
	}
	identity := job.Event.Identity
	if lane, busy := e.backlog[identity]; busy {
		e.backlog[identity] = append(lane, job)
		e.logger.Debug("job parked behind identity", "job_id", job.ID, "identity", identity, "lane", len(lane)+1)
	} else {
		// One job per identity is ever in the channel, so it has room.
		e.backlog[identity] = nil
		e.jobs <- job
		e.logger.Debug("job queued", "job_id", job.ID, "source", job.Source, "identity", identity, "channel", job.Event.Channel)
	}
	e.queued++
	return job, nil
}

// Dispatch enqueues a chat event from the named source.
func (e *Engine) Dispatch(source string, event bridge.Event) error {
	if _, err := e.Enqueue(Job{Source: source, Event: event}); err != nil {
		e.logger.Warn("event dropped", "source", source, "identity", event.Identity, "channel", event.Channel, "error", err)
		return err
	}
	return nil
}

// QueueDepth counts accepted jobs that have not started, including those
// parked behind a busy identity.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queued
}

func (e *Engine) worker(ctx context.Context, workerID int) {
	e.logger.Debug("worker started", "worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("worker stopped", "worker_id", workerID)
			return
		case job := <-e.jobs:
			e.mu.Lock()
			e.queued--
			e.mu.Unlock()
			for {
				e.processJob(ctx, workerID, job)
				next, ok := e.release(job.Event.Identity)
				if !ok {
					break
				}
				job = next
			}
		}
	}
}

// release hands back the next parked job for identity, or frees the identity
// when its lane is empty.
func (e *Engine) release(identity string) (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lane := e.backlog[identity]
	if len(lane) == 0 {
		delete(e.backlog, identity)
		return Job{}, false
	}
	next := lane[0]
	lane[0] = Job{}
	e.backlog[identity] = lane[1:]
	e.queued--
	return next, true
}

func (e *Engine) processJob(ctx context.Context, workerID int, job Job) {
	started := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Error("job panicked", "worker_id", workerID, "job_id", job.ID, "panic", recovered)
			if e.reporter != nil {
				e.reporter.Degrade(componentName, "job panicked", fmt.Errorf("%v", recovered))
			}
		}
	}()
	if err := e.handler(ctx, job); err != nil {
		e.logger.Error("job failed", "worker_id", workerID, "job_id", job.ID, "identity", job.Event.Identity, "error", err)
		return
	}
	if e.reporter != nil {
		e.reporter.Beat(componentName, "job completed")
	}
	e.logger.Info("job completed",
		"worker_id", workerID,
		"job_id", job.ID,
		"identity", job.Event.Identity,
		"duration_ms", time.Since(started).Milliseconds(),
		"queue_wait_ms", started.Sub(job.CreatedAt).Milliseconds(),
	)
}
