package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"boxoffice/internal/authz"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/middleware"
	"boxoffice/internal/models"
	"boxoffice/internal/search"
	"boxoffice/internal/service"

	"github.com/gin-gonic/gin"
)

// AuditSearcher is implemented by search.ElasticsearchClient.
type AuditSearcher interface {
	Search(ctx context.Context, q search.AuditQuery) ([]models.PaymentReconciledEvent, error)
}

type Handlers struct {
	services *service.Services
	audit    AuditSearcher
}

// NewHandlers создает обработчики. audit may be nil when Elasticsearch is disabled.
func NewHandlers(services *service.Services, audit AuditSearcher) *Handlers {
	return &Handlers{
		services: services,
		audit:    audit,
	}
}

// respondError maps the error taxonomy onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	switch {
	case errors.Is(err, apperrors.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrConflict):
		body := gin.H{"error": err.Error()}
		if items := apperrors.UnavailableItems(err); len(items) > 0 {
			body["items"] = items
		}
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, apperrors.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, apperrors.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, apperrors.ErrExternalService):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		logger.WithContext(c.Request.Context()).Error("Request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func bindError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// principal returns the authenticated caller or writes 401.
func principal(c *gin.Context) (authz.Principal, bool) {
	p, ok := middleware.Principal(c)
	if !ok {
		respondError(c, apperrors.ErrUnauthorized)
		return authz.Principal{}, false
	}
	return p, true
}

func queryID(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, apperrors.Validation(name, "is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation(name, "must be a positive integer")
	}
	return id, nil
}

func queryLine(c *gin.Context) (models.LineKey, error) {
	var line models.LineKey
	var err error
	if line.ShopID, err = queryID(c, "shopId"); err != nil {
		return line, err
	}
	if line.SeatTypeID, err = queryID(c, "seatTypeId"); err != nil {
		return line, err
	}
	if line.EventDayID, err = queryID(c, "eventDayId"); err != nil {
		return line, err
	}
	return line, nil
}
