package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"boxoffice/internal/authz"
	"boxoffice/internal/config"

	"github.com/go-co-op/gocron/v2"
)

// SweepTarget is implemented by service.PaymentReconciler.
type SweepTarget interface {
	ReleaseExpired(ctx context.Context, p authz.Principal, limit int) (int, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper periodically releases expired pending bookings and requeues
// notifications that were never picked up by a worker.
type Sweeper struct {
	target    SweepTarget
	cfg       config.SweeperConfig
	scheduler gocron.Scheduler
}

func NewSweeper(target SweepTarget, cfg config.SweeperConfig) (*Sweeper, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RequeueInterval <= 0 {
		cfg.RequeueInterval = 2 * time.Minute
	}
	if cfg.RequeueOlderThan <= 0 {
		cfg.RequeueOlderThan = 5 * time.Minute
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Sweeper{target: target, cfg: cfg, scheduler: s}, nil
}

// Start registers both jobs and runs them once immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	slog.Info("Starting sweeper",
		"release_interval", s.cfg.Interval,
		"requeue_interval", s.cfg.RequeueInterval,
		"requeue_older_than", s.cfg.RequeueOlderThan)

	jobs := []struct {
		interval time.Duration
		task     func(context.Context)
	}{
		{s.cfg.Interval, s.ReleaseExpired},
		{s.cfg.RequeueInterval, s.RequeueStale},
	}

	for _, j := range jobs {
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.task, ctx),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule sweeper job: %w", err)
		}
	}

	s.scheduler.Start()
	return nil
}

func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Sweeper) ReleaseExpired(ctx context.Context) {
	released, err := s.target.ReleaseExpired(ctx, authz.System, s.cfg.BatchSize)
	if err != nil {
		slog.Error("Failed to release expired bookings", "error", err)
		return
	}
	if released > 0 {
		slog.Info("Released expired bookings", "count", released)
		return
	}
	slog.Debug("No expired bookings found")
}

func (s *Sweeper) RequeueStale(ctx context.Context) {
	requeued, err := s.target.RequeueStale(ctx, s.cfg.RequeueOlderThan)
	if err != nil {
		slog.Error("Failed to requeue stale notifications", "error", err)
		return
	}
	if requeued > 0 {
		slog.Info("Requeued stale notifications", "count", requeued)
	}
}
