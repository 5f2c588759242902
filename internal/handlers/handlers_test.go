package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "boxoffice/internal/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRespondErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", apperrors.Validation("quantity", "must be positive"), http.StatusBadRequest},
		{"not found", apperrors.NotFound("booking", 7), http.StatusNotFound},
		{"conflict", apperrors.Conflict("booking 7 is confirmed"), http.StatusConflict},
		{"unauthorized", apperrors.ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", &apperrors.AuthorizationError{PrincipalID: 1, Action: "cart:write", Resource: "cart:2"}, http.StatusForbidden},
		{"external", apperrors.External("payment", errors.New("timeout")), http.StatusBadGateway},
		{"wrapped", fmt.Errorf("checkout: %w", apperrors.NotFound("availability", "1/2")), http.StatusNotFound},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			respondError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			assert.Len(t, c.Errors, 1)
		})
	}
}

func TestRespondErrorListsUnavailableItems(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/checkout", nil)

	respondError(c, apperrors.Conflict("insufficient inventory",
		apperrors.UnavailableItem{Name: "Main / VIP", ShopID: 1, SeatTypeID: 2, EventDayID: 3, AvailableQuantity: 1}))

	require.Equal(t, http.StatusConflict, w.Code)

	var body struct {
		Error string                      `json:"error"`
		Items []apperrors.UnavailableItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "insufficient inventory (1 lines)", body.Error)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "Main / VIP", body.Items[0].Name)
	assert.Equal(t, 1, body.Items[0].AvailableQuantity)
}

func TestNotificationFilter(t *testing.T) {
	t.Run("parses every field", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet,
			"/?orderId=ord-1&status=queued&signatureValid=true&before=2030-01-02T03:04:05Z&limit=20", nil)

		filter, err := notificationFilter(c)
		require.NoError(t, err)
		assert.Equal(t, "ord-1", filter.GatewayOrderID)
		assert.EqualValues(t, "queued", filter.ProcessingStatus)
		require.NotNil(t, filter.SignatureValid)
		assert.True(t, *filter.SignatureValid)
		require.NotNil(t, filter.ReceivedBefore)
		assert.Equal(t, 2030, filter.ReceivedBefore.Year())
		assert.Equal(t, 20, filter.Limit)
	})

	for _, query := range []string{"signatureValid=maybe", "before=yesterday", "limit=0", "limit=501", "limit=x"} {
		t.Run("rejects "+query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/?"+query, nil)

			_, err := notificationFilter(c)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestQueryLine(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?shopId=1&seatTypeId=2&eventDayId=3", nil)

	line, err := queryLine(c)
	require.NoError(t, err)
	assert.Equal(t, int64(1), line.ShopID)
	assert.Equal(t, int64(2), line.SeatTypeID)
	assert.Equal(t, int64(3), line.EventDayID)

	c.Request = httptest.NewRequest(http.MethodGet, "/?shopId=1&seatTypeId=-2&eventDayId=3", nil)
	_, err = queryLine(c)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
