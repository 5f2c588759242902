package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"boxoffice/internal/authz"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/telemetry"
	"boxoffice/internal/validation"
)

// CheckoutService converts a cart into pending bookings and hands them to
// the reconciler for a payment intent.
type CheckoutService struct {
	stores   Stores
	ledger   *InventoryLedger
	payments *PaymentReconciler
	opts     Options
}

func NewCheckoutService(stores Stores, ledger *InventoryLedger, payments *PaymentReconciler, opts Options) *CheckoutService {
	return &CheckoutService{
		stores:   stores,
		ledger:   ledger,
		payments: payments,
		opts:     opts,
	}
}

// Checkout reserves every cart line or none. When the payment intent cannot
// be created the bookings stay pending and the result is returned with the error.
func (s *CheckoutService) Checkout(ctx context.Context, p authz.Principal, req models.CheckoutRequest) (result *models.CheckoutResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "checkout.Checkout")
	start := time.Now()
	defer func() {
		telemetry.End(span, err)
		metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
		metrics.CheckoutsTotal.WithLabelValues(checkoutResult(result, err)).Inc()
	}()

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := authz.Authorize(p, authz.Owned(authz.ResourceCart, p.ID), authz.ActionCheckout); err != nil {
		return nil, err
	}

	lines, err := s.stores.Cart.ListByCustomer(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, apperrors.Validation("cart", "is empty")
	}
	sortCartLines(lines)

	items, err := s.validate(ctx, p.ID, lines)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return nil, apperrors.Conflict("insufficient inventory", items...)
	}

	result, err = s.commit(ctx, p.ID, lines)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// Lost a race between the passes; report from fresh reads.
			if fresh, verr := s.validate(ctx, p.ID, lines); verr == nil && len(fresh) > 0 {
				return nil, apperrors.Conflict("insufficient inventory", fresh...)
			}
		}
		return nil, err
	}

	log := logger.WithContext(ctx)
	log.Info("Checkout committed",
		"customer_id", p.ID,
		"booking_ids", result.BookingIDs,
		"total", result.Total)

	intent, err := s.payments.CreatePaymentIntent(ctx, p, models.CreatePaymentIntentRequest{
		BookingIDs: result.BookingIDs,
		Method:     req.Method,
	})
	if err != nil {
		log.Error("Failed to create payment intent after checkout", "error", err, "booking_ids", result.BookingIDs)
		return result, apperrors.External("payment", err)
	}
	result.Payment = intent

	return result, nil
}

// validate is the read-only pass. It returns every line whose increase over
// the customer's pending booking exceeds the ledger.
func (s *CheckoutService) validate(ctx context.Context, customerID int64, lines []models.CartLine) ([]apperrors.UnavailableItem, error) {
	var items []apperrors.UnavailableItem

	for _, line := range lines {
		row, err := s.ledger.GetAvailability(ctx, line.SeatTypeID, line.EventDayID)
		if err != nil {
			return nil, err
		}

		pending, err := s.stores.Bookings.GetPendingForLine(ctx, customerID, line.Line(), false)
		if err != nil {
			return nil, fmt.Errorf("failed to get pending booking: %w", err)
		}
		pendingQty := 0
		if pending != nil {
			pendingQty = pending.Quantity
		}

		delta := line.Quantity - pendingQty
		if !row.Available {
			items = append(items, unavailableLine(line, 0))
			continue
		}
		if delta > row.Quantity {
			items = append(items, unavailableLine(line, row.Quantity+pendingQty))
		}
	}

	return items, nil
}

func (s *CheckoutService) commit(ctx context.Context, customerID int64, lines []models.CartLine) (*models.CheckoutResult, error) {
	now := s.opts.now()
	expiresAt := now.Add(s.opts.BookingTTL)
	result := &models.CheckoutResult{ExpiresAt: expiresAt}

	err := s.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		result.BookingIDs = result.BookingIDs[:0]
		result.Total = 0

		for _, line := range lines {
			pending, err := s.stores.Bookings.GetPendingForLine(ctx, customerID, line.Line(), true)
			if err != nil {
				return fmt.Errorf("failed to lock pending booking: %w", err)
			}
			pendingQty := 0
			if pending != nil {
				pendingQty = pending.Quantity
			}

			if delta := line.Quantity - pendingQty; delta != 0 {
				if _, err := s.ledger.Adjust(ctx, line.SeatTypeID, line.EventDayID, -delta); err != nil {
					return err
				}
			}

			total := int64(line.Quantity) * line.PricePerSeat
			if pending != nil {
				pending.Quantity = line.Quantity
				pending.TotalPrice = total
				pending.ExpiresAt = expiresAt
				if err := s.stores.Bookings.UpdatePending(ctx, pending); err != nil {
					return fmt.Errorf("failed to update booking %d: %w", pending.ID, err)
				}
				result.BookingIDs = append(result.BookingIDs, pending.ID)
			} else {
				booking := &models.Booking{
					CustomerID: customerID,
					ShopID:     line.ShopID,
					SeatTypeID: line.SeatTypeID,
					EventDayID: line.EventDayID,
					Quantity:   line.Quantity,
					TotalPrice: total,
					Status:     models.BookingPending,
					ExpiresAt:  expiresAt,
				}
				if err := s.stores.Bookings.Create(ctx, booking); err != nil {
					return fmt.Errorf("failed to create booking: %w", err)
				}
				result.BookingIDs = append(result.BookingIDs, booking.ID)
			}
			result.Total += total
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// sortCartLines fixes the lock order to (event day, seat type, shop).
func sortCartLines(lines []models.CartLine) {
	sort.Slice(lines, func(a, b int) bool {
		la, lb := lines[a], lines[b]
		if la.EventDayID != lb.EventDayID {
			return la.EventDayID < lb.EventDayID
		}
		if la.SeatTypeID != lb.SeatTypeID {
			return la.SeatTypeID < lb.SeatTypeID
		}
		return la.ShopID < lb.ShopID
	})
}

func unavailableLine(line models.CartLine, available int) apperrors.UnavailableItem {
	return apperrors.UnavailableItem{
		Name:              line.Name(),
		ShopID:            line.ShopID,
		SeatTypeID:        line.SeatTypeID,
		EventDayID:        line.EventDayID,
		AvailableQuantity: available,
	}
}

func checkoutResult(result *models.CheckoutResult, err error) string {
	switch {
	case err == nil:
		return "ok"
	case result != nil:
		return "payment_error"
	case errors.Is(err, apperrors.ErrConflict):
		return "conflict"
	case errors.Is(err, apperrors.ErrValidation):
		return "invalid"
	}
	return "error"
}
