package repository

import (
	"context"
	"database/sql"
	"time"

	"boxoffice/internal/database"
	"boxoffice/internal/models"
)

var bookingColumns = []string{
	"id", "customer_id", "shop_id", "seat_type_id", "event_day_id",
	"quantity", "total_price", "status", "expires_at", "created_at", "updated_at",
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(s scanner, extra ...any) (models.Booking, error) {
	var b models.Booking
	dest := []any{
		&b.ID,
		&b.CustomerID,
		&b.ShopID,
		&b.SeatTypeID,
		&b.EventDayID,
		&b.Quantity,
		&b.TotalPrice,
		&b.Status,
		&b.ExpiresAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	}
	err := s.Scan(append(dest, extra...)...)
	return b, err
}

type BookingRepository struct {
	db *database.DB
}

func NewBookingRepository(db *database.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// GetPendingForLine returns the customer's pending booking for the line, locking it when forUpdate is set.
func (r *BookingRepository) GetPendingForLine(ctx context.Context, customerID int64, line models.LineKey, forUpdate bool) (*models.Booking, error) {
	q := database.Select("bookings", bookingColumns...).Where(
		database.Eq("customer_id", customerID),
		database.Eq("shop_id", line.ShopID),
		database.Eq("seat_type_id", line.SeatTypeID),
		database.Eq("event_day_id", line.EventDayID),
		database.Eq("status", string(models.BookingPending)),
	)
	if forUpdate {
		q = q.ForUpdate()
	}
	query, args := q.Build()

	booking, err := scanBooking(r.db.Conn(ctx).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// Create inserts a new booking. A concurrent insert of the same pending line
// fails on uq_bookings_pending_line, which WithinTx replays as an update.
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	query := `
		INSERT INTO bookings (customer_id, shop_id, seat_type_id, event_day_id, quantity, total_price, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return r.db.Conn(ctx).QueryRowContext(ctx, query,
		booking.CustomerID,
		booking.ShopID,
		booking.SeatTypeID,
		booking.EventDayID,
		booking.Quantity,
		booking.TotalPrice,
		booking.Status,
		booking.ExpiresAt,
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
}

// UpdatePending rewrites quantity, price and expiry of a booking that is still pending.
func (r *BookingRepository) UpdatePending(ctx context.Context, booking *models.Booking) error {
	query, args := database.Update("bookings",
		database.Set("quantity", booking.Quantity),
		database.Set("total_price", booking.TotalPrice),
		database.Set("expires_at", booking.ExpiresAt),
		database.SetRaw("updated_at", "NOW()"),
	).Where(
		database.Eq("id", booking.ID),
		database.Eq("status", string(models.BookingPending)),
	).Returning("updated_at").Build()

	err := r.db.Conn(ctx).QueryRowContext(ctx, query, args...).Scan(&booking.UpdatedAt)
	if err == sql.ErrNoRows {
		return sql.ErrNoRows
	}
	return err
}

func (r *BookingRepository) ListByIDs(ctx context.Context, ids []int64) ([]models.Booking, error) {
	query, args := database.Select("bookings", bookingColumns...).
		Where(database.In("id", ids)).
		OrderBy("id").
		Build()

	return r.list(ctx, query, args...)
}

// Transition moves every listed booking currently in one of from to status to,
// returning only the rows that actually changed.
func (r *BookingRepository) Transition(ctx context.Context, ids []int64, from []models.BookingStatus, to models.BookingStatus) ([]models.Booking, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := database.Update("bookings",
		database.Set("status", string(to)),
		database.SetRaw("updated_at", "NOW()"),
	).Where(
		database.In("id", ids),
		database.In("status", statusStrings(from)),
	).Returning(bookingColumns...).Build()

	return r.list(ctx, query, args...)
}

// ListLinesByOrder joins bookings of one gateway order with the catalog names printed on tickets.
func (r *BookingRepository) ListLinesByOrder(ctx context.Context, orderID string, status models.BookingStatus) ([]models.BookingLine, error) {
	query := `
		SELECT b.id, b.customer_id, b.shop_id, b.seat_type_id, b.event_day_id,
		       b.quantity, b.total_price, b.status, b.expires_at, b.created_at, b.updated_at,
		       s.name, st.name, d.event_date
		FROM bookings b
		JOIN shops s ON s.id = b.shop_id
		JOIN seat_types st ON st.id = b.seat_type_id
		JOIN event_days d ON d.id = b.event_day_id
		WHERE b.status = $2
		  AND b.id IN (SELECT DISTINCT booking_id FROM payments WHERE gateway_order_id = $1)
		ORDER BY b.shop_id, b.event_day_id, b.seat_type_id, b.id`

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, orderID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []models.BookingLine
	for rows.Next() {
		var line models.BookingLine
		booking, err := scanBooking(rows, &line.ShopName, &line.SeatTypeName, &line.EventDate)
		if err != nil {
			return nil, err
		}
		line.Booking = booking
		lines = append(lines, line)
	}

	return lines, rows.Err()
}

func (r *BookingRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	query, args := database.Select("bookings", bookingColumns...).
		Where(
			database.Eq("status", string(models.BookingPending)),
			database.Lt("expires_at", now),
		).
		OrderBy("expires_at").
		Limit(limit).
		Build()

	return r.list(ctx, query, args...)
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}

	return bookings, rows.Err()
}
