package repository

import (
	"context"

	"boxoffice/internal/database"
	"boxoffice/internal/models"
)

var ticketColumns = []string{
	"id", "account_owner_id", "booking_id", "shop_id", "event_day_id",
	"ticket_no", "document_ref", "code_ref", "used", "created_at",
}

type TicketRepository struct {
	db *database.DB
}

func NewTicketRepository(db *database.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// CreateIfAbsent inserts the ticket unless its booking already has one.
func (r *TicketRepository) CreateIfAbsent(ctx context.Context, t *models.CustomerTicket) (bool, error) {
	query := `
		INSERT INTO customer_tickets
			(account_owner_id, booking_id, shop_id, event_day_id, ticket_no, document_ref, code_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (booking_id) DO NOTHING`

	res, err := r.db.Conn(ctx).ExecContext(ctx, query,
		t.AccountOwnerID,
		t.BookingID,
		t.ShopID,
		t.EventDayID,
		t.TicketNo,
		t.DocumentRef,
		t.CodeRef,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateRefs writes the non-empty references onto every ticket of the group.
func (r *TicketRepository) UpdateRefs(ctx context.Context, ticketNo string, bookingIDs []int64, documentRef, codeRef string) error {
	var set []database.Assignment
	if documentRef != "" {
		set = append(set, database.Set("document_ref", documentRef))
	}
	if codeRef != "" {
		set = append(set, database.Set("code_ref", codeRef))
	}
	if len(set) == 0 {
		return nil
	}

	query, args := database.Update("customer_tickets", set...).Where(
		database.Eq("ticket_no", ticketNo),
		database.In("booking_id", bookingIDs),
	).Build()

	_, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	return err
}

func (r *TicketRepository) ListByBookings(ctx context.Context, bookingIDs []int64) ([]models.CustomerTicket, error) {
	query, args := database.Select("customer_tickets", ticketColumns...).
		Where(database.In("booking_id", bookingIDs)).
		OrderBy("id").
		Build()

	return r.list(ctx, query, args...)
}

func (r *TicketRepository) ListByOwner(ctx context.Context, ownerID int64) ([]models.CustomerTicket, error) {
	query, args := database.Select("customer_tickets", ticketColumns...).
		Where(database.Eq("account_owner_id", ownerID)).
		OrderBy("created_at DESC, id DESC").
		Build()

	return r.list(ctx, query, args...)
}

func (r *TicketRepository) list(ctx context.Context, query string, args ...any) ([]models.CustomerTicket, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.CustomerTicket
	for rows.Next() {
		var t models.CustomerTicket
		err := rows.Scan(
			&t.ID,
			&t.AccountOwnerID,
			&t.BookingID,
			&t.ShopID,
			&t.EventDayID,
			&t.TicketNo,
			&t.DocumentRef,
			&t.CodeRef,
			&t.Used,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}

	return tickets, rows.Err()
}
