package repository

import (
	"context"
	"database/sql"

	"boxoffice/internal/database"
	"boxoffice/internal/models"
)

type CartRepository struct {
	db *database.DB
}

func NewCartRepository(db *database.DB) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) ListByCustomer(ctx context.Context, customerID int64) ([]models.CartLine, error) {
	query := `
		SELECT c.id, c.customer_id, c.shop_id, c.seat_type_id, c.event_day_id, c.quantity,
		       c.price_per_seat, c.total_price, c.created_at, c.updated_at,
		       s.name, st.name
		FROM cart_items c
		JOIN shops s ON s.id = c.shop_id
		JOIN seat_types st ON st.id = c.seat_type_id
		WHERE c.customer_id = $1
		ORDER BY c.event_day_id, c.seat_type_id, c.shop_id`

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []models.CartLine
	for rows.Next() {
		var line models.CartLine
		err := rows.Scan(
			&line.ID,
			&line.CustomerID,
			&line.ShopID,
			&line.SeatTypeID,
			&line.EventDayID,
			&line.Quantity,
			&line.PricePerSeat,
			&line.TotalPrice,
			&line.CreatedAt,
			&line.UpdatedAt,
			&line.ShopName,
			&line.SeatTypeName,
		)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	return lines, rows.Err()
}

func (r *CartRepository) Get(ctx context.Context, customerID int64, line models.LineKey) (*models.CartItem, error) {
	item := &models.CartItem{}
	query := `
		SELECT id, customer_id, shop_id, seat_type_id, event_day_id, quantity,
		       price_per_seat, total_price, created_at, updated_at
		FROM cart_items
		WHERE customer_id = $1 AND shop_id = $2 AND seat_type_id = $3 AND event_day_id = $4`

	err := r.db.Conn(ctx).QueryRowContext(ctx, query, customerID, line.ShopID, line.SeatTypeID, line.EventDayID).Scan(
		&item.ID,
		&item.CustomerID,
		&item.ShopID,
		&item.SeatTypeID,
		&item.EventDayID,
		&item.Quantity,
		&item.PricePerSeat,
		&item.TotalPrice,
		&item.CreatedAt,
		&item.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return item, err
}

// Save inserts the line or overwrites quantity and totals of the existing one.
// The captured price is written as given; callers decide whether it changes.
func (r *CartRepository) Save(ctx context.Context, item *models.CartItem) error {
	query := `
		INSERT INTO cart_items (customer_id, shop_id, seat_type_id, event_day_id, quantity, price_per_seat, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (customer_id, shop_id, seat_type_id, event_day_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, price_per_seat = EXCLUDED.price_per_seat,
		              total_price = EXCLUDED.total_price, updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return r.db.Conn(ctx).QueryRowContext(ctx, query,
		item.CustomerID,
		item.ShopID,
		item.SeatTypeID,
		item.EventDayID,
		item.Quantity,
		item.PricePerSeat,
		item.TotalPrice,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
}

func (r *CartRepository) Delete(ctx context.Context, customerID int64, line models.LineKey) error {
	query := `
		DELETE FROM cart_items
		WHERE customer_id = $1 AND shop_id = $2 AND seat_type_id = $3 AND event_day_id = $4`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query, customerID, line.ShopID, line.SeatTypeID, line.EventDayID)
	return err
}
