package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"boxoffice/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQConfig struct {
	URL      string
	Queue    string
	Prefetch int
}

// RabbitMQ is the alternative task transport. Failed tasks are republished
// with an incremented attempt and the original delivery is acknowledged.
type RabbitMQ struct {
	cfg  RabbitMQConfig
	conn *amqp.Connection

	mu sync.Mutex
	ch *amqp.Channel
}

func NewRabbitMQ(cfg RabbitMQConfig) (*RabbitMQ, error) {
	if cfg.Queue == "" {
		cfg.Queue = models.SubjectReconcileTask
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}

	slog.Info("Connected to RabbitMQ", "queue", cfg.Queue)
	return &RabbitMQ{cfg: cfg, conn: conn, ch: ch}, nil
}

func (r *RabbitMQ) publish(ctx context.Context, queue string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (r *RabbitMQ) Enqueue(ctx context.Context, task models.ReconcileTask) error {
	if task.Attempt == 0 {
		task.Attempt = 1
	}
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := r.publish(ctx, r.cfg.Queue, body); err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}
	return nil
}

// Publish sends an event to a durable queue named after the subject.
func (r *RabbitMQ) Publish(subject string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	r.mu.Lock()
	_, err = r.ch.QueueDeclare(subject, true, false, false, false, nil)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.publish(ctx, subject, body)
}

// ConsumeTasks blocks until ctx is cancelled or the delivery channel closes.
func (r *RabbitMQ) ConsumeTasks(ctx context.Context, handler TaskHandler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
		slog.Warn("Set QoS failed", "error", err)
	}

	msgs, err := ch.Consume(r.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			r.handleDelivery(ctx, d, handler)
		}
	}
}

// ConsumeEvents reads a subject queue filled by Publish. A handler error
// requeues the delivery.
func (r *RabbitMQ) ConsumeEvents(ctx context.Context, subject string, handler EventHandler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(subject, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
		slog.Warn("Set QoS failed", "error", err)
	}

	msgs, err := ch.Consume(subject, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handler(ctx, d.Body); err != nil {
				slog.Warn("Event handler failed, requeueing", "subject", subject, "error", err)
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (r *RabbitMQ) handleDelivery(ctx context.Context, d amqp.Delivery, handler TaskHandler) {
	var task models.ReconcileTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		slog.Error("Failed to unmarshal reconcile task", "error", err)
		_ = d.Nack(false, false)
		return
	}
	if task.Attempt == 0 {
		task.Attempt = 1
	}

	if err := handler(ctx, task); err != nil {
		task.Attempt++
		slog.Warn("Republishing reconcile task",
			"notification_id", task.NotificationID, "attempt", task.Attempt, "error", err)
		if perr := r.Enqueue(ctx, task); perr != nil {
			slog.Error("Failed to republish task, requeueing delivery", "error", perr)
			_ = d.Nack(false, true)
			return
		}
	}
	_ = d.Ack(false)
}

func (r *RabbitMQ) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
