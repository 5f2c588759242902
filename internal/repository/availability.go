package repository

import (
	"context"
	"database/sql"

	"boxoffice/internal/database"
	"boxoffice/internal/models"
)

type AvailabilityRepository struct {
	db *database.DB
}

func NewAvailabilityRepository(db *database.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

func (r *AvailabilityRepository) Get(ctx context.Context, seatTypeID, eventDayID int64) (*models.SeatTypeAvailability, error) {
	row := &models.SeatTypeAvailability{}
	query := `
		SELECT seat_type_id, event_day_id, price, quantity, available, updated_at
		FROM seat_type_availability
		WHERE seat_type_id = $1 AND event_day_id = $2`

	err := r.db.Conn(ctx).QueryRowContext(ctx, query, seatTypeID, eventDayID).Scan(
		&row.SeatTypeID,
		&row.EventDayID,
		&row.Price,
		&row.Quantity,
		&row.Available,
		&row.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return row, err
}

// Adjust applies delta only while the result stays non-negative. applied is
// false when the row is missing or the decrement would overdraw it.
func (r *AvailabilityRepository) Adjust(ctx context.Context, seatTypeID, eventDayID int64, delta int) (quantity int, applied bool, err error) {
	query := `
		UPDATE seat_type_availability
		SET quantity = quantity + $3, updated_at = NOW()
		WHERE seat_type_id = $1 AND event_day_id = $2 AND quantity + $3 >= 0
		RETURNING quantity`

	err = r.db.Conn(ctx).QueryRowContext(ctx, query, seatTypeID, eventDayID, delta).Scan(&quantity)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return quantity, true, nil
}

// HoldSummary returns the outstanding cart holds of other customers and the
// requester's own pending quantity for one line.
func (r *AvailabilityRepository) HoldSummary(ctx context.Context, seatTypeID, eventDayID, customerID int64) (models.HoldSummary, error) {
	var summary models.HoldSummary
	query := `
		SELECT
			COALESCE((
				SELECT SUM(GREATEST(c.quantity - COALESCE(b.quantity, 0), 0))
				FROM cart_items c
				LEFT JOIN bookings b
					ON b.customer_id = c.customer_id
					AND b.shop_id = c.shop_id
					AND b.seat_type_id = c.seat_type_id
					AND b.event_day_id = c.event_day_id
					AND b.status = 'pending'
				WHERE c.seat_type_id = $1 AND c.event_day_id = $2 AND c.customer_id <> $3
			), 0),
			COALESCE((
				SELECT SUM(quantity)
				FROM bookings
				WHERE seat_type_id = $1 AND event_day_id = $2 AND customer_id = $3 AND status = 'pending'
			), 0)`

	err := r.db.Conn(ctx).QueryRowContext(ctx, query, seatTypeID, eventDayID, customerID).Scan(
		&summary.OthersOutstanding,
		&summary.OwnPending,
	)
	return summary, err
}

// Upsert is used by the inventory seeder.
func (r *AvailabilityRepository) Upsert(ctx context.Context, row *models.SeatTypeAvailability) error {
	query := `
		INSERT INTO seat_type_availability (seat_type_id, event_day_id, price, quantity, available)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (seat_type_id, event_day_id)
		DO UPDATE SET price = EXCLUDED.price, quantity = EXCLUDED.quantity,
		              available = EXCLUDED.available, updated_at = NOW()
		RETURNING updated_at`

	return r.db.Conn(ctx).QueryRowContext(ctx, query,
		row.SeatTypeID,
		row.EventDayID,
		row.Price,
		row.Quantity,
		row.Available,
	).Scan(&row.UpdatedAt)
}

// LineName returns "<shop> / <seat type>" for error reports, or "" when either is unknown.
func (r *AvailabilityRepository) LineName(ctx context.Context, shopID, seatTypeID int64) (string, error) {
	var name string
	query := `
		SELECT s.name || ' / ' || st.name
		FROM shops s, seat_types st
		WHERE s.id = $1 AND st.id = $2`

	err := r.db.Conn(ctx).QueryRowContext(ctx, query, shopID, seatTypeID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return name, err
}
