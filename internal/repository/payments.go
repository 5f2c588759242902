package repository

import (
	"context"
	"database/sql"

	"boxoffice/internal/database"
	"boxoffice/internal/models"
)

var paymentColumns = []string{
	"id", "booking_id", "amount", "status", "method", "gateway_order_id",
	"gateway_payment_id", "expires_at", "created_at", "updated_at",
}

func scanPayment(s scanner) (models.Payment, error) {
	var p models.Payment
	err := s.Scan(
		&p.ID,
		&p.BookingID,
		&p.Amount,
		&p.Status,
		&p.Method,
		&p.GatewayOrderID,
		&p.GatewayPaymentID,
		&p.ExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

type PaymentRepository struct {
	db *database.DB
}

func NewPaymentRepository(db *database.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) GetPendingByBooking(ctx context.Context, bookingID int64) (*models.Payment, error) {
	query, args := database.Select("payments", paymentColumns...).
		Where(
			database.Eq("booking_id", bookingID),
			database.Eq("status", string(models.PaymentPending)),
		).
		ForUpdate().
		Build()

	payment, err := scanPayment(r.db.Conn(ctx).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (booking_id, amount, status, method, gateway_order_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return r.db.Conn(ctx).QueryRowContext(ctx, query,
		payment.BookingID,
		payment.Amount,
		payment.Status,
		payment.Method,
		payment.GatewayOrderID,
		payment.ExpiresAt,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
}

// UpdatePending moves an existing pending payment onto a new intent in place.
func (r *PaymentRepository) UpdatePending(ctx context.Context, payment *models.Payment) error {
	query, args := database.Update("payments",
		database.Set("amount", payment.Amount),
		database.Set("method", payment.Method),
		database.Set("gateway_order_id", payment.GatewayOrderID),
		database.Set("expires_at", payment.ExpiresAt),
		database.SetRaw("updated_at", "NOW()"),
	).Where(
		database.Eq("id", payment.ID),
		database.Eq("status", string(models.PaymentPending)),
	).Returning("updated_at").Build()

	return r.db.Conn(ctx).QueryRowContext(ctx, query, args...).Scan(&payment.UpdatedAt)
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]models.Payment, error) {
	query, args := database.Select("payments", paymentColumns...).
		Where(database.Eq("gateway_order_id", orderID)).
		OrderBy("id").
		Build()

	return r.list(ctx, query, args...)
}

func (r *PaymentRepository) ListByBookings(ctx context.Context, bookingIDs []int64) ([]models.Payment, error) {
	query, args := database.Select("payments", paymentColumns...).
		Where(database.In("booking_id", bookingIDs)).
		OrderBy("id").
		Build()

	return r.list(ctx, query, args...)
}

// TransitionOrder moves the order's payments currently in one of from to status to.
// gatewayPaymentID is recorded when non-empty.
func (r *PaymentRepository) TransitionOrder(ctx context.Context, orderID string, from []models.PaymentStatus, to models.PaymentStatus, gatewayPaymentID string) ([]models.Payment, error) {
	set := []database.Assignment{
		database.Set("status", string(to)),
		database.SetRaw("updated_at", "NOW()"),
	}
	if gatewayPaymentID != "" {
		set = append(set, database.Set("gateway_payment_id", gatewayPaymentID))
	}

	query, args := database.Update("payments", set...).Where(
		database.Eq("gateway_order_id", orderID),
		database.In("status", statusStrings(from)),
	).Returning(paymentColumns...).Build()

	return r.list(ctx, query, args...)
}

// FailPendingForBookings marks every pending payment of the bookings as failed.
func (r *PaymentRepository) FailPendingForBookings(ctx context.Context, bookingIDs []int64) ([]models.Payment, error) {
	if len(bookingIDs) == 0 {
		return nil, nil
	}
	query, args := database.Update("payments",
		database.Set("status", string(models.PaymentFailed)),
		database.SetRaw("updated_at", "NOW()"),
	).Where(
		database.In("booking_id", bookingIDs),
		database.Eq("status", string(models.PaymentPending)),
	).Returning(paymentColumns...).Build()

	return r.list(ctx, query, args...)
}

func (r *PaymentRepository) list(ctx context.Context, query string, args ...any) ([]models.Payment, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}

	return payments, rows.Err()
}
