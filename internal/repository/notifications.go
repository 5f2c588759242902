package repository

import (
	"context"
	"database/sql"

	"boxoffice/internal/database"
	"boxoffice/internal/models"
)

var notificationColumns = []string{
	"id", "gateway_order_id", "gateway_payment_id", "status_code", "amount", "currency", "method",
	"signature_valid", "processing_status", "attempts", "last_error", "payload", "received_at", "processed_at",
}

func scanNotification(s scanner) (models.PaymentNotification, error) {
	var n models.PaymentNotification
	var payload []byte
	err := s.Scan(
		&n.ID,
		&n.GatewayOrderID,
		&n.GatewayPaymentID,
		&n.StatusCode,
		&n.Amount,
		&n.Currency,
		&n.Method,
		&n.SignatureValid,
		&n.ProcessingStatus,
		&n.Attempts,
		&n.LastError,
		&payload,
		&n.ReceivedAt,
		&n.ProcessedAt,
	)
	n.Payload = payload
	return n, err
}

// NotificationRepository stores gateway callbacks. Rows are never deleted;
// only the processing columns change.
type NotificationRepository struct {
	db *database.DB
}

func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.PaymentNotification) error {
	payload := []byte(n.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `
		INSERT INTO payment_notifications
			(gateway_order_id, gateway_payment_id, status_code, amount, currency, method,
			 signature_valid, processing_status, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, received_at`

	return r.db.Conn(ctx).QueryRowContext(ctx, query,
		n.GatewayOrderID,
		n.GatewayPaymentID,
		n.StatusCode,
		n.Amount,
		n.Currency,
		n.Method,
		n.SignatureValid,
		n.ProcessingStatus,
		payload,
	).Scan(&n.ID, &n.ReceivedAt)
}

func (r *NotificationRepository) GetByID(ctx context.Context, id int64) (*models.PaymentNotification, error) {
	query, args := database.Select("payment_notifications", notificationColumns...).
		Where(database.Eq("id", id)).
		Build()

	n, err := scanNotification(r.db.Conn(ctx).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkStatus records the outcome of one processing attempt. Terminal statuses stamp processed_at.
func (r *NotificationRepository) MarkStatus(ctx context.Context, id int64, status models.ProcessingStatus, lastErr string) error {
	set := []database.Assignment{
		database.Set("processing_status", string(status)),
		database.SetRaw("attempts", "attempts + 1"),
	}
	if lastErr != "" {
		set = append(set, database.Set("last_error", lastErr))
	}
	if status.Terminal() {
		set = append(set, database.SetRaw("processed_at", "NOW()"))
	}

	query, args := database.Update("payment_notifications", set...).
		Where(database.Eq("id", id)).
		Build()

	_, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	return err
}

// MarkQueued flags a stored notification as handed to the task queue without counting an attempt.
func (r *NotificationRepository) MarkQueued(ctx context.Context, id int64) error {
	query, args := database.Update("payment_notifications",
		database.Set("processing_status", string(models.ProcessingQueued)),
	).Where(
		database.Eq("id", id),
		database.In("processing_status", []string{string(models.ProcessingReceived), string(models.ProcessingQueued)}),
	).Build()

	_, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	return err
}

// Find compiles the filter into predicates; zero-valued fields are ignored.
func (r *NotificationRepository) Find(ctx context.Context, filter models.NotificationFilter) ([]models.PaymentNotification, error) {
	var preds []database.Predicate
	if filter.GatewayOrderID != "" {
		preds = append(preds, database.Eq("gateway_order_id", filter.GatewayOrderID))
	}
	if filter.ProcessingStatus != "" {
		preds = append(preds, database.Eq("processing_status", string(filter.ProcessingStatus)))
	}
	if filter.SignatureValid != nil {
		preds = append(preds, database.Eq("signature_valid", *filter.SignatureValid))
	}
	if filter.ReceivedBefore != nil {
		preds = append(preds, database.Lt("received_at", *filter.ReceivedBefore))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query, args := database.Select("payment_notifications", notificationColumns...).
		Where(preds...).
		OrderBy("received_at DESC, id DESC").
		Limit(limit).
		Build()

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PaymentNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}

	return out, rows.Err()
}
