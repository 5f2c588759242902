package consumers

import (
	"context"
	"log/slog"
	"sync"

	"boxoffice/internal/app"
	"boxoffice/internal/config"
	"boxoffice/internal/messaging"
	"boxoffice/internal/models"

	"github.com/nats-io/stan.go"
)

// ConsumerService turns queued reconcile tasks into Reconcile calls on the
// configured transport and fans published events out to extra handlers.
type ConsumerService struct {
	rt       *app.Runtime
	handlers *Handlers

	mu   sync.Mutex
	subs []stan.Subscription
	wg   sync.WaitGroup
}

func NewConsumerService(rt *app.Runtime) *ConsumerService {
	return &ConsumerService{
		rt:       rt,
		handlers: NewHandlers(rt.Services.Payments, rt.Config.Queue.MaxAttempts),
	}
}

func (cs *ConsumerService) Handlers() *Handlers {
	return cs.handlers
}

// Start subscribes the reconcile workers. Loops started for RabbitMQ and the
// in-process queue stop when ctx is cancelled.
func (cs *ConsumerService) Start(ctx context.Context) error {
	slog.Info("Starting reconcile consumers...", "backend", cs.rt.Config.Queue.Backend)

	switch cs.rt.Config.Queue.Backend {
	case config.QueueNATS:
		sub, err := cs.rt.NATS.ConsumeTasks(ctx, cs.rt.Config.Queue.Group, cs.handlers.HandleReconcileTask)
		if err != nil {
			return err
		}
		cs.track(sub)

	case config.QueueRabbitMQ:
		cs.run("rabbitmq tasks", func() error {
			return cs.rt.RabbitMQ.ConsumeTasks(ctx, cs.handlers.HandleReconcileTask)
		})

	case config.QueueLocal:
		cs.run("local tasks", func() error {
			return cs.rt.Local.Run(ctx, cs.handlers.HandleReconcileTask)
		})
	}

	if err := cs.SubscribeEvents(ctx, models.SubjectBookingExpired, cs.handlers.HandleBookingExpired); err != nil {
		return err
	}

	slog.Info("All consumers started successfully")
	return nil
}

// SubscribeEvents delivers events published on subject to handler. Without a
// broker events are only logged, so there is nothing to subscribe to.
func (cs *ConsumerService) SubscribeEvents(ctx context.Context, subject string, handler messaging.EventHandler) error {
	switch {
	case cs.rt.NATS != nil:
		sub, err := cs.rt.NATS.SubscribeEvents(ctx, subject, cs.rt.Config.Queue.Group, handler)
		if err != nil {
			return err
		}
		cs.track(sub)
	case cs.rt.RabbitMQ != nil:
		cs.run(subject, func() error {
			return cs.rt.RabbitMQ.ConsumeEvents(ctx, subject, handler)
		})
	default:
		slog.Warn("No event broker configured, skipping subscription", "subject", subject)
	}
	return nil
}

func (cs *ConsumerService) track(sub stan.Subscription) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.subs = append(cs.subs, sub)
}

func (cs *ConsumerService) run(name string, loop func() error) {
	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		if err := loop(); err != nil {
			slog.Error("Consumer loop stopped", "consumer", name, "error", err)
		}
	}()
}

// Shutdown closes subscriptions and waits for consumer loops. The caller
// cancels the context passed to Start first.
func (cs *ConsumerService) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down consumer service...")

	cs.mu.Lock()
	for _, sub := range cs.subs {
		if err := sub.Close(); err != nil {
			slog.Error("Error closing subscription", "error", err)
		}
	}
	cs.subs = nil
	cs.mu.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
