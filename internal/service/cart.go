package service

import (
	"context"
	"fmt"

	"boxoffice/internal/authz"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/validation"
)

// CartService manages soft holds. Cart lines never touch the ledger; they only
// narrow what other customers may add.
type CartService struct {
	cart   CartStore
	ledger *InventoryLedger
}

func NewCartService(cart CartStore, ledger *InventoryLedger) *CartService {
	return &CartService{cart: cart, ledger: ledger}
}

func (s *CartService) ListItems(ctx context.Context, p authz.Principal) (*models.CartResponse, error) {
	if err := authz.Authorize(p, authz.Owned(authz.ResourceCart, p.ID), authz.ActionCartRead); err != nil {
		return nil, err
	}

	lines, err := s.cart.ListByCustomer(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart: %w", err)
	}

	resp := &models.CartResponse{Items: lines}
	if resp.Items == nil {
		resp.Items = []models.CartLine{}
	}
	for _, line := range lines {
		resp.Total += line.TotalPrice
	}
	return resp, nil
}

// AddItem merges the requested quantity into the customer's line.
func (s *CartService) AddItem(ctx context.Context, p authz.Principal, req models.AddCartItemRequest) (*models.CartItem, error) {
	return s.put(ctx, p, req, true)
}

// UpdateItem replaces the quantity of an existing line.
func (s *CartService) UpdateItem(ctx context.Context, p authz.Principal, req models.UpdateCartItemRequest) (*models.CartItem, error) {
	return s.put(ctx, p, req, false)
}

func (s *CartService) put(ctx context.Context, p authz.Principal, req models.AddCartItemRequest, merge bool) (*models.CartItem, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := authz.Authorize(p, authz.Owned(authz.ResourceCart, p.ID), authz.ActionCartWrite); err != nil {
		return nil, err
	}

	line := req.Line()
	row, err := s.ledger.GetAvailability(ctx, line.SeatTypeID, line.EventDayID)
	if err != nil {
		return nil, err
	}

	existing, err := s.cart.Get(ctx, p.ID, line)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart item: %w", err)
	}
	if existing == nil && !merge {
		return nil, apperrors.NotFound("cart item", fmt.Sprintf("%d/%d/%d", line.ShopID, line.SeatTypeID, line.EventDayID))
	}

	quantity := req.Quantity
	if merge && existing != nil {
		quantity += existing.Quantity
	}

	available, err := s.ledger.AvailableQuantity(ctx, row, p.ID)
	if err != nil {
		return nil, err
	}
	if quantity > available {
		metrics.CartRejections.Inc()
		return nil, apperrors.Conflict("insufficient availability", s.ledger.unavailable(ctx, line, available))
	}

	item := existing
	if item == nil {
		item = &models.CartItem{
			CustomerID:   p.ID,
			ShopID:       line.ShopID,
			SeatTypeID:   line.SeatTypeID,
			EventDayID:   line.EventDayID,
			PricePerSeat: row.Price,
		}
	}
	item.Quantity = quantity
	item.TotalPrice = int64(quantity) * item.PricePerSeat

	if err := s.cart.Save(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to save cart item: %w", err)
	}

	logger.WithContext(ctx).Info("Cart line saved",
		"customer_id", p.ID,
		"seat_type_id", line.SeatTypeID,
		"event_day_id", line.EventDayID,
		"quantity", quantity)

	return item, nil
}

// RemoveItem deletes the line; removing a missing line succeeds.
func (s *CartService) RemoveItem(ctx context.Context, p authz.Principal, line models.LineKey) error {
	if err := authz.Authorize(p, authz.Owned(authz.ResourceCart, p.ID), authz.ActionCartWrite); err != nil {
		return err
	}
	if err := s.cart.Delete(ctx, p.ID, line); err != nil {
		return fmt.Errorf("failed to delete cart item: %w", err)
	}
	return nil
}

// ClearLines drops the lines of a customer whose bookings were confirmed.
func (s *CartService) ClearLines(ctx context.Context, customerID int64, lines []models.LineKey) error {
	for _, line := range lines {
		if err := s.cart.Delete(ctx, customerID, line); err != nil {
			return fmt.Errorf("failed to clear cart line: %w", err)
		}
	}
	return nil
}
