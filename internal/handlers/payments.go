package handlers

import (
	"log/slog"
	"net/http"

	"boxoffice/internal/models"

	"github.com/gin-gonic/gin"
)

// Payments handlers

// NotifyPaymentCompleted - GET /api/payments/success
// Return page after payment; only the gateway notification decides the order status
func (h *Handlers) NotifyPaymentCompleted(c *gin.Context) {
	orderID := c.Query("orderId")
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderId is required"})
		return
	}

	slog.Info("Customer returned from gateway", "order_id", orderID, "result", "success")

	c.JSON(http.StatusOK, gin.H{"orderId": orderID, "status": "processing"})
}

// NotifyPaymentFailed - GET /api/payments/fail
// Return page after a cancelled payment
func (h *Handlers) NotifyPaymentFailed(c *gin.Context) {
	orderID := c.Query("orderId")
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderId is required"})
		return
	}

	slog.Warn("Customer returned from gateway", "order_id", orderID, "result", "cancelled")

	c.JSON(http.StatusOK, gin.H{"orderId": orderID, "status": "processing"})
}

// OnPaymentUpdates - POST /api/payments/notifications
// Принимать уведомления от платежного шлюза (form или JSON). Ответ 200 сразу
// после сохранения; применение идёт в очереди.
func (h *Handlers) OnPaymentUpdates(c *gin.Context) {
	var notification models.GatewayNotification
	if err := c.ShouldBind(&notification); err != nil {
		bindError(c, err)
		return
	}

	rec, err := h.services.Payments.HandleWebhook(c.Request.Context(), notification)
	if err != nil {
		slog.Error("Failed to handle payment notification", "order_id", notification.OrderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to handle notification"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notificationId":   rec.ID,
		"processingStatus": rec.ProcessingStatus,
	})
}
