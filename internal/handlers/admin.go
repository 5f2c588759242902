package handlers

import (
	"net/http"
	"strconv"
	"time"

	"boxoffice/internal/authz"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
	"boxoffice/internal/search"

	"github.com/gin-gonic/gin"
)

// Admin handlers

// AdjustAvailability - PATCH /api/admin/availability
// Ручная корректировка остатка (знаковая дельта)
func (h *Handlers) AdjustAvailability(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := authz.Authorize(p, authz.Resource{Kind: authz.ResourceInventory}, authz.ActionInventoryWrite); err != nil {
		respondError(c, err)
		return
	}

	var req models.AdjustAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	quantity, err := h.services.Ledger.Adjust(c.Request.Context(), req.SeatTypeID, req.EventDayID, req.Delta)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.AdjustAvailabilityResponse{
		SeatTypeID: req.SeatTypeID,
		EventDayID: req.EventDayID,
		Quantity:   quantity,
	})
}

// ListNotifications - GET /api/admin/notifications
// Журнал уведомлений шлюза с фильтрами
func (h *Handlers) ListNotifications(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	filter, err := notificationFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}

	list, err := h.services.Payments.ListNotifications(c.Request.Context(), p, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func notificationFilter(c *gin.Context) (models.NotificationFilter, error) {
	filter := models.NotificationFilter{
		GatewayOrderID:   c.Query("orderId"),
		ProcessingStatus: models.ProcessingStatus(c.Query("status")),
	}

	if raw := c.Query("signatureValid"); raw != "" {
		valid, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperrors.Validation("signatureValid", "must be a boolean")
		}
		filter.SignatureValid = &valid
	}

	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apperrors.Validation("before", "must be an RFC 3339 timestamp")
		}
		filter.ReceivedBefore = &before
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			return filter, apperrors.Validation("limit", "must be between 1 and 500")
		}
		filter.Limit = limit
	}

	return filter, nil
}

// SearchNotifications - GET /api/admin/notifications/search
// Полнотекстовый поиск по аудиту в Elasticsearch
func (h *Handlers) SearchNotifications(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := authz.Authorize(p, authz.Resource{Kind: authz.ResourceAudit}, authz.ActionAuditRead); err != nil {
		respondError(c, err)
		return
	}

	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit search is disabled"})
		return
	}

	size, _ := strconv.Atoi(c.DefaultQuery("size", "50"))
	events, err := h.audit.Search(c.Request.Context(), search.AuditQuery{
		Text:             c.Query("q"),
		GatewayOrderID:   c.Query("orderId"),
		ProcessingStatus: c.Query("status"),
		Size:             size,
	})
	if err != nil {
		respondError(c, apperrors.External("elasticsearch", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": events})
}

// ReleaseExpired - POST /api/admin/bookings/release-expired
func (h *Handlers) ReleaseExpired(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	released, err := h.services.Payments.ReleaseExpired(c.Request.Context(), p, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ReleaseExpiredResponse{Released: released})
}

// RequeueNotifications - POST /api/admin/notifications/requeue
// Вернуть в очередь уведомления, зависшие в received/queued
func (h *Handlers) RequeueNotifications(c *gin.Context) {
	olderThan := 5 * time.Minute
	if raw := c.Query("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			respondError(c, apperrors.Validation("olderThan", "must be a non-negative duration"))
			return
		}
		olderThan = d
	}

	requeued, err := h.services.Payments.RequeueStale(c.Request.Context(), olderThan)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requeued": requeued})
}
