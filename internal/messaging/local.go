package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"boxoffice/internal/models"

	"golang.org/x/sync/errgroup"
)

var ErrQueueFull = errors.New("task queue is full")

type LocalConfig struct {
	Workers     int
	Buffer      int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// LocalQueue runs reconcile tasks in-process. Failed tasks are retried with
// exponential backoff and an incremented attempt.
type LocalQueue struct {
	cfg   LocalConfig
	tasks chan models.ReconcileTask
}

func NewLocalQueue(cfg LocalConfig) *LocalQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &LocalQueue{cfg: cfg, tasks: make(chan models.ReconcileTask, cfg.Buffer)}
}

// Enqueue never blocks; a full buffer is reported so the caller leaves the
// notification for the stale requeue sweep.
func (q *LocalQueue) Enqueue(ctx context.Context, task models.ReconcileTask) error {
	if task.Attempt == 0 {
		task.Attempt = 1
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *LocalQueue) Backoff(attempt int) time.Duration {
	d := q.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	return d
}

// Run starts the workers and blocks until ctx is cancelled.
func (q *LocalQueue) Run(ctx context.Context, handler TaskHandler) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < q.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			slog.Debug("Local reconcile worker started", "worker", worker)
			for {
				select {
				case <-ctx.Done():
					return nil
				case task := <-q.tasks:
					q.process(ctx, task, handler)
				}
			}
		})
	}

	return g.Wait()
}

func (q *LocalQueue) process(ctx context.Context, task models.ReconcileTask, handler TaskHandler) {
	err := handler(ctx, task)
	if err == nil {
		return
	}

	delay := q.Backoff(task.Attempt)
	task.Attempt++
	slog.Warn("Retrying reconcile task",
		"notification_id", task.NotificationID, "attempt", task.Attempt, "delay", delay, "error", err)

	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := q.Enqueue(ctx, task); err != nil {
			slog.Error("Failed to requeue task", "notification_id", task.NotificationID, "error", err)
		}
	})
}

// LogPublisher stands in for a broker when none is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(subject string, data interface{}) error {
	slog.Debug("Event not published, no broker configured", "subject", subject)
	return nil
}
