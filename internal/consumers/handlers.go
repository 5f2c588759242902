package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
)

// Reconciler applies stored notifications. Implemented by service.PaymentReconciler.
type Reconciler interface {
	Reconcile(ctx context.Context, notificationID int64) error
	MarkFailed(ctx context.Context, notificationID int64, cause error) error
}

type Handlers struct {
	reconciler  Reconciler
	maxAttempts int
}

func NewHandlers(reconciler Reconciler, maxAttempts int) *Handlers {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Handlers{
		reconciler:  reconciler,
		maxAttempts: maxAttempts,
	}
}

// HandleReconcileTask runs one attempt. A returned error makes the transport
// deliver the task again; the last allowed attempt marks the notification
// failed instead.
func (h *Handlers) HandleReconcileTask(ctx context.Context, task models.ReconcileTask) error {
	log := logger.WithContext(ctx).With(
		"notification_id", task.NotificationID,
		"order_id", task.GatewayOrderID,
		"attempt", task.Attempt,
	)

	err := h.reconciler.Reconcile(ctx, task.NotificationID)
	if err == nil {
		return nil
	}

	if errors.Is(err, apperrors.ErrNotFound) {
		log.Warn("Notification not found, dropping task")
		metrics.QueueRetries.WithLabelValues("dropped").Inc()
		return nil
	}

	if task.Attempt >= h.maxAttempts {
		metrics.QueueRetries.WithLabelValues("exhausted").Inc()
		log.Error("Reconcile attempts exhausted", "max_attempts", h.maxAttempts, "error", err)
		if mErr := h.reconciler.MarkFailed(ctx, task.NotificationID, err); mErr != nil {
			log.Error("Failed to mark notification as failed", "error", mErr)
			return mErr
		}
		return nil
	}

	metrics.QueueRetries.WithLabelValues("retry").Inc()
	log.Warn("Reconcile attempt failed, task will be retried", "error", err)
	return err
}

// HandleBookingExpired логирует освобождённые брони. Битые сообщения
// логируются и отбрасываются.
func (h *Handlers) HandleBookingExpired(ctx context.Context, data []byte) error {
	var event models.BookingExpiredEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Error("Failed to unmarshal booking expired event", "error", err)
		return nil
	}

	logger.WithContext(ctx).Info("Booking released",
		"booking_id", event.BookingID,
		"customer_id", event.CustomerID,
		"seat_type_id", event.SeatTypeID,
		"event_day_id", event.EventDayID,
		"quantity", event.Quantity,
		"reason", event.Reason)
	return nil
}
