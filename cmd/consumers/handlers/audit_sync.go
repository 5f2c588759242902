package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"boxoffice/internal/models"
)

// AuditIndex is implemented by search.ElasticsearchClient.
type AuditIndex interface {
	IndexReconciliation(ctx context.Context, event *models.PaymentReconciledEvent) error
}

// AuditSyncHandler copies reconciliation outcomes into the audit index
type AuditSyncHandler struct {
	index AuditIndex
}

func NewAuditSyncHandler(index AuditIndex) *AuditSyncHandler {
	return &AuditSyncHandler{index: index}
}

// HandlePaymentReconciled indexes one payment.reconciled event. Malformed
// payloads are dropped; index errors are returned so the broker redelivers.
func (h *AuditSyncHandler) HandlePaymentReconciled(ctx context.Context, data []byte) error {
	var event models.PaymentReconciledEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Error("Failed to unmarshal payment reconciled event", "error", err)
		return nil
	}

	if event.GatewayOrderID == "" {
		slog.Warn("Skipping reconciled event without order id", "notification_id", event.NotificationID)
		return nil
	}

	if err := h.index.IndexReconciliation(ctx, &event); err != nil {
		slog.Error("Failed to index reconciliation",
			"error", err,
			"notification_id", event.NotificationID,
			"order_id", event.GatewayOrderID)
		return fmt.Errorf("index notification %d: %w", event.NotificationID, err)
	}

	slog.Debug("Reconciliation indexed",
		"notification_id", event.NotificationID,
		"processing_status", event.ProcessingStatus)
	return nil
}
