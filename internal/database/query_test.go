package database

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestSelectBuild(t *testing.T) {
	tests := []struct {
		name     string
		query    SelectQuery
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "no filters",
			query:   Select("payment_notifications", "id", "status_code"),
			wantSQL: "SELECT id, status_code FROM payment_notifications",
		},
		{
			name: "filters order and limit",
			query: Select("payment_notifications", "id").
				Where(Eq("gateway_order_id", "ord-1"), Eq("signature_valid", true)).
				OrderBy("received_at DESC").
				Limit(50),
			wantSQL:  "SELECT id FROM payment_notifications WHERE gateway_order_id = $1 AND signature_valid = $2 ORDER BY received_at DESC LIMIT $3",
			wantArgs: []any{"ord-1", true, 50},
		},
		{
			name: "null checks bind nothing",
			query: Select("payments", "id").
				Where(IsNull("gateway_payment_id"), Gte("amount", int64(100))),
			wantSQL:  "SELECT id FROM payments WHERE gateway_payment_id IS NULL AND amount >= $1",
			wantArgs: []any{int64(100)},
		},
		{
			name: "for update",
			query: Select("bookings", "id").
				Where(Eq("customer_id", int64(7))).
				ForUpdate(),
			wantSQL:  "SELECT id FROM bookings WHERE customer_id = $1 FOR UPDATE",
			wantArgs: []any{int64(7)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := tt.query.Build()
			assert.Equal(t, tt.wantSQL, sql)
			if tt.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestInUsesAnyWithArray(t *testing.T) {
	sql, args := Select("bookings", "id").
		Where(In("id", []int64{1, 2}), NotIn("status", []string{"cancelled"})).
		Build()

	assert.Equal(t, "SELECT id FROM bookings WHERE id = ANY($1) AND NOT (status = ANY($2))", sql)
	assert.Len(t, args, 2)
	assert.Equal(t, pq.Array([]int64{1, 2}), args[0])
}

func TestUpdateBuild(t *testing.T) {
	sql, args := Update("bookings",
		Set("status", "confirmed"),
		SetRaw("updated_at", "NOW()"),
	).
		Where(In("id", []int64{3}), In("status", []string{"pending"})).
		Returning("id", "quantity").
		Build()

	assert.Equal(t,
		"UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = ANY($2) AND status = ANY($3) RETURNING id, quantity",
		sql)
	assert.Len(t, args, 3)
	assert.Equal(t, "confirmed", args[0])
}

func TestWhereDoesNotAliasBaseQuery(t *testing.T) {
	base := Select("tickets", "id").Where(Eq("account_owner_id", int64(1)))
	a, _ := base.Where(Eq("event_day_id", int64(2))).Build()
	b, _ := base.Build()

	assert.Contains(t, a, "event_day_id")
	assert.NotContains(t, b, "event_day_id")
}
