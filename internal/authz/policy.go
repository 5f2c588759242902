// Package authz holds the single authorization policy consulted by every
// service before it reads or mutates customer-owned state.
package authz

import (
	"context"
	"fmt"

	apperrors "boxoffice/internal/errors"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	// RoleService is used by workers, the expiry scheduler and operator CLIs.
	RoleService Role = "service"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAdmin, RoleService:
		return true
	}
	return false
}

type Principal struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

// System is the principal used by in-process background work.
var System = Principal{ID: 0, Role: RoleService}

type Action string

const (
	ActionCartRead       Action = "cart:read"
	ActionCartWrite      Action = "cart:write"
	ActionCheckout       Action = "checkout"
	ActionPaymentCreate  Action = "payment:create"
	ActionTicketRead     Action = "ticket:read"
	ActionTicketResend   Action = "ticket:resend"
	ActionInventoryRead  Action = "inventory:read"
	ActionInventoryWrite Action = "inventory:write"
	ActionAuditRead      Action = "audit:read"
	ActionBookingExpire  Action = "booking:expire"
)

type ResourceKind string

const (
	ResourceCart      ResourceKind = "cart"
	ResourceBooking   ResourceKind = "booking"
	ResourceOrder     ResourceKind = "order"
	ResourceTicket    ResourceKind = "ticket"
	ResourceInventory ResourceKind = "inventory"
	ResourceAudit     ResourceKind = "audit"
)

// Resource names what is acted on. OwnerID is zero for unowned resources.
type Resource struct {
	Kind    ResourceKind
	OwnerID int64
}

func Owned(kind ResourceKind, ownerID int64) Resource {
	return Resource{Kind: kind, OwnerID: ownerID}
}

func (r Resource) String() string {
	if r.OwnerID == 0 {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s of %d", r.Kind, r.OwnerID)
}

type Decision bool

const (
	Allow Decision = true
	Deny  Decision = false
)

var customerActions = map[Action]bool{
	ActionCartRead:      true,
	ActionCartWrite:     true,
	ActionCheckout:      true,
	ActionPaymentCreate: true,
	ActionTicketRead:    true,
	ActionTicketResend:  true,
	ActionInventoryRead: true,
}

var serviceActions = map[Action]bool{
	ActionTicketRead:    true,
	ActionTicketResend:  true,
	ActionInventoryRead: true,
	ActionBookingExpire: true,
}

// Decide is the whole policy.
func Decide(p Principal, r Resource, a Action) Decision {
	switch p.Role {
	case RoleAdmin:
		return Allow
	case RoleService:
		return Decision(serviceActions[a])
	case RoleCustomer:
		if !customerActions[a] {
			return Deny
		}
		if r.Kind == ResourceInventory {
			return Allow
		}
		return Decision(p.ID != 0 && r.OwnerID == p.ID)
	}
	return Deny
}

// Authorize returns an AuthorizationError when Decide denies.
func Authorize(p Principal, r Resource, a Action) error {
	if Decide(p, r, a) == Allow {
		return nil
	}
	return &apperrors.AuthorizationError{PrincipalID: p.ID, Action: string(a), Resource: r.String()}
}

type ctxKey struct{}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
