package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"boxoffice/internal/models"

	"github.com/google/uuid"
	"github.com/nats-io/stan.go"
)

// TaskHandler processes one reconcile task. A non-nil error asks the
// transport to deliver the task again.
type TaskHandler func(ctx context.Context, task models.ReconcileTask) error

// EventHandler processes one published event payload. A non-nil error asks
// for redelivery.
type EventHandler func(ctx context.Context, data []byte) error

type NATSClient struct {
	conn    stan.Conn
	ackWait time.Duration
}

type Config struct {
	URL       string
	ClusterID string
	ClientID  string
	AckWait   time.Duration
}

func NewNATSClient(cfg Config) (*NATSClient, error) {
	// Generate unique client ID to avoid conflicts
	uniqueClientID := fmt.Sprintf("%s-%s", cfg.ClientID, uuid.New().String()[:8])

	conn, err := stan.Connect(cfg.ClusterID, uniqueClientID, stan.NatsURL(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS Streaming: %w", err)
	}

	slog.Info("Connected to NATS Streaming", "url", cfg.URL, "cluster", cfg.ClusterID, "client", uniqueClientID)

	ackWait := cfg.AckWait
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	return &NATSClient{conn: conn, ackWait: ackWait}, nil
}

func (nc *NATSClient) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	err = nc.conn.Publish(subject, payload)
	if err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}

	slog.Debug("Published message", "subject", subject)
	return nil
}

func (nc *NATSClient) Enqueue(ctx context.Context, task models.ReconcileTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nc.Publish(models.SubjectReconcileTask, task)
}

func (nc *NATSClient) SubscribeQueue(subject, queue string, handler stan.MsgHandler) (stan.Subscription, error) {
	sub, err := nc.conn.QueueSubscribe(subject, queue, handler,
		stan.DurableName(subject+"-"+queue+"-durable"),
		stan.AckWait(nc.ackWait),
		stan.SetManualAckMode(),
		stan.MaxInflight(1))
	if err != nil {
		return nil, fmt.Errorf("failed to queue subscribe to subject %s: %w", subject, err)
	}

	slog.Info("Subscribed to subject", "subject", subject, "queue", queue)
	return sub, nil
}

// ConsumeTasks acknowledges a task only when handler succeeds; otherwise the
// server redelivers it after AckWait. Attempt is derived from the redelivery count.
func (nc *NATSClient) ConsumeTasks(ctx context.Context, queue string, handler TaskHandler) (stan.Subscription, error) {
	return nc.SubscribeQueue(models.SubjectReconcileTask, queue, func(m *stan.Msg) {
		var task models.ReconcileTask
		if err := json.Unmarshal(m.Data, &task); err != nil {
			slog.Error("Failed to unmarshal reconcile task", "error", err)
			_ = m.Ack()
			return
		}
		task.Attempt = int(m.RedeliveryCount) + 1

		if err := handler(ctx, task); err != nil {
			slog.Warn("Reconcile task will be redelivered",
				"notification_id", task.NotificationID, "attempt", task.Attempt, "error", err)
			return
		}
		_ = m.Ack()
	})
}

// SubscribeEvents acknowledges an event only when handler succeeds.
func (nc *NATSClient) SubscribeEvents(ctx context.Context, subject, queue string, handler EventHandler) (stan.Subscription, error) {
	return nc.SubscribeQueue(subject, queue, func(m *stan.Msg) {
		if err := handler(ctx, m.Data); err != nil {
			slog.Warn("Event will be redelivered", "subject", subject, "error", err)
			return
		}
		_ = m.Ack()
	})
}

func (nc *NATSClient) Close() error {
	if nc.conn != nil {
		return nc.conn.Close()
	}
	return nil
}
