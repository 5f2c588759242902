package repository

import (
	"context"
	"database/sql"

	"boxoffice/internal/database"
	"boxoffice/internal/models"
)

type CustomerRepository struct {
	db *database.DB
}

func NewCustomerRepository(db *database.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) GetContact(ctx context.Context, id int64) (*models.CustomerContact, error) {
	contact := &models.CustomerContact{}
	query := `
		SELECT id, email, full_name
		FROM customers
		WHERE id = $1`

	err := r.db.Conn(ctx).QueryRowContext(ctx, query, id).Scan(
		&contact.ID,
		&contact.Email,
		&contact.FullName,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return contact, err
}
