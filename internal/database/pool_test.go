package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"deadlock", &pq.Error{Code: "40P01"}, true},
		{"concurrent pending booking insert", &pq.Error{Code: "23505", Constraint: "uq_bookings_pending_line"}, true},
		{"concurrent pending payment insert", &pq.Error{Code: "23505", Constraint: "uq_payments_pending_booking"}, true},
		{"wrapped pending booking insert",
			fmt.Errorf("failed to create booking: %w", &pq.Error{Code: "23505", Constraint: "uq_bookings_pending_line"}), true},
		{"other unique violation", &pq.Error{Code: "23505", Constraint: "customers_email_key"}, false},
		{"check violation", &pq.Error{Code: "23514", Constraint: "seat_type_availability_quantity_check"}, false},
		{"dropped connection", errors.New("driver: bad connection"), true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}
