package service

import (
	"context"
	"fmt"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
)

// InventoryLedger owns the remaining sellable quantity per (seat type, event day).
type InventoryLedger struct {
	availability AvailabilityStore
}

func NewInventoryLedger(availability AvailabilityStore) *InventoryLedger {
	return &InventoryLedger{availability: availability}
}

func (l *InventoryLedger) GetAvailability(ctx context.Context, seatTypeID, eventDayID int64) (*models.SeatTypeAvailability, error) {
	row, err := l.availability.Get(ctx, seatTypeID, eventDayID)
	if err != nil {
		return nil, fmt.Errorf("failed to get availability: %w", err)
	}
	if row == nil {
		return nil, apperrors.NotFound("availability", fmt.Sprintf("%d/%d", seatTypeID, eventDayID))
	}
	return row, nil
}

// Adjust applies a signed delta atomically. A decrement that would take the
// quantity below zero is rejected with a ConflictError and changes nothing.
func (l *InventoryLedger) Adjust(ctx context.Context, seatTypeID, eventDayID int64, delta int) (int, error) {
	direction := "release"
	if delta < 0 {
		direction = "reserve"
	}

	quantity, applied, err := l.availability.Adjust(ctx, seatTypeID, eventDayID, delta)
	if err != nil {
		metrics.LedgerAdjustments.WithLabelValues(direction, "error").Inc()
		return 0, fmt.Errorf("failed to adjust availability: %w", err)
	}
	if applied {
		metrics.LedgerAdjustments.WithLabelValues(direction, "ok").Inc()
		logger.WithContext(ctx).Debug("Ledger adjusted",
			"seat_type_id", seatTypeID, "event_day_id", eventDayID, "delta", delta, "quantity", quantity)
		return quantity, nil
	}

	metrics.LedgerAdjustments.WithLabelValues(direction, "rejected").Inc()
	row, err := l.GetAvailability(ctx, seatTypeID, eventDayID)
	if err != nil {
		return 0, err
	}
	return 0, apperrors.Conflict("insufficient inventory", apperrors.UnavailableItem{
		SeatTypeID:        seatTypeID,
		EventDayID:        eventDayID,
		AvailableQuantity: row.Quantity,
	})
}

// AvailableQuantity is what the customer may still hold on the line:
// the ledger quantity, plus the customer's own pending bookings (already
// deducted from the ledger), minus cart holds of other customers not yet
// converted into their pending bookings.
func (l *InventoryLedger) AvailableQuantity(ctx context.Context, row *models.SeatTypeAvailability, customerID int64) (int, error) {
	if !row.Available {
		return 0, nil
	}

	summary, err := l.availability.HoldSummary(ctx, row.SeatTypeID, row.EventDayID, customerID)
	if err != nil {
		return 0, fmt.Errorf("failed to summarize holds: %w", err)
	}

	available := row.Quantity + summary.OwnPending - summary.OthersOutstanding
	if available < 0 {
		available = 0
	}
	return available, nil
}

// LineName is the display name used in unavailable-line reports.
func (l *InventoryLedger) LineName(ctx context.Context, line models.LineKey) string {
	name, err := l.availability.LineName(ctx, line.ShopID, line.SeatTypeID)
	if err != nil || name == "" {
		return fmt.Sprintf("shop %d / seat type %d", line.ShopID, line.SeatTypeID)
	}
	return name
}

func (l *InventoryLedger) unavailable(ctx context.Context, line models.LineKey, available int) apperrors.UnavailableItem {
	return apperrors.UnavailableItem{
		Name:              l.LineName(ctx, line),
		ShopID:            line.ShopID,
		SeatTypeID:        line.SeatTypeID,
		EventDayID:        line.EventDayID,
		AvailableQuantity: available,
	}
}
