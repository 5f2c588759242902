package authz

import (
	"context"
	"testing"

	apperrors "boxoffice/internal/errors"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	alice := Principal{ID: 1, Role: RoleCustomer}
	admin := Principal{ID: 99, Role: RoleAdmin}

	tests := []struct {
		name      string
		principal Principal
		resource  Resource
		action    Action
		want      Decision
	}{
		{"customer writes own cart", alice, Owned(ResourceCart, 1), ActionCartWrite, Allow},
		{"customer writes foreign cart", alice, Owned(ResourceCart, 2), ActionCartWrite, Deny},
		{"customer pays own bookings", alice, Owned(ResourceBooking, 1), ActionPaymentCreate, Allow},
		{"customer reads inventory", alice, Resource{Kind: ResourceInventory}, ActionInventoryRead, Allow},
		{"customer adjusts inventory", alice, Resource{Kind: ResourceInventory}, ActionInventoryWrite, Deny},
		{"customer reads audit", alice, Resource{Kind: ResourceAudit}, ActionAuditRead, Deny},
		{"customer resends own tickets", alice, Owned(ResourceOrder, 1), ActionTicketResend, Allow},
		{"anonymous customer id", Principal{Role: RoleCustomer}, Owned(ResourceCart, 0), ActionCartRead, Deny},
		{"admin adjusts inventory", admin, Resource{Kind: ResourceInventory}, ActionInventoryWrite, Allow},
		{"admin touches foreign cart", admin, Owned(ResourceCart, 1), ActionCartWrite, Allow},
		{"service resends any order", System, Owned(ResourceOrder, 5), ActionTicketResend, Allow},
		{"service expires bookings", System, Resource{Kind: ResourceBooking}, ActionBookingExpire, Allow},
		{"service cannot check out", System, Owned(ResourceCart, 5), ActionCheckout, Deny},
		{"unknown role", Principal{ID: 1, Role: "guest"}, Owned(ResourceCart, 1), ActionCartRead, Deny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.principal, tt.resource, tt.action))
		})
	}
}

func TestAuthorizeReturnsForbidden(t *testing.T) {
	err := Authorize(Principal{ID: 1, Role: RoleCustomer}, Owned(ResourceCart, 2), ActionCartRead)

	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	assert.Contains(t, err.Error(), "cart:read")
	assert.NoError(t, Authorize(Principal{ID: 2, Role: RoleCustomer}, Owned(ResourceCart, 2), ActionCartRead))
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	ctx := ContextWithPrincipal(context.Background(), Principal{ID: 7, Role: RoleAdmin})

	p, ok := PrincipalFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(7), p.ID)

	_, ok = PrincipalFromContext(context.Background())
	assert.False(t, ok)
}
