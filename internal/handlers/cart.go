package handlers

import (
	"net/http"

	"boxoffice/internal/authz"
	"boxoffice/internal/models"

	"github.com/gin-gonic/gin"
)

// GetAvailability - GET /api/availability
// Остаток по типу мест на день события с учётом чужих корзин
func (h *Handlers) GetAvailability(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := authz.Authorize(p, authz.Resource{Kind: authz.ResourceInventory}, authz.ActionInventoryRead); err != nil {
		respondError(c, err)
		return
	}

	seatTypeID, err := queryID(c, "seatTypeId")
	if err != nil {
		respondError(c, err)
		return
	}
	eventDayID, err := queryID(c, "eventDayId")
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	row, err := h.services.Ledger.GetAvailability(ctx, seatTypeID, eventDayID)
	if err != nil {
		respondError(c, err)
		return
	}

	available, err := h.services.Ledger.AvailableQuantity(ctx, row, p.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.AvailabilityResponse{
		SeatTypeAvailability: *row,
		AvailableQuantity:    available,
	})
}

// ListCart - GET /api/cart
func (h *Handlers) ListCart(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	response, err := h.services.Cart.ListItems(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// AddCartItem - POST /api/cart/items
// Добавить места в корзину; количество суммируется с уже добавленным
func (h *Handlers) AddCartItem(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req models.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	item, err := h.services.Cart.AddItem(c.Request.Context(), p, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

// UpdateCartItem - PATCH /api/cart/items
// Заменить количество в строке корзины
func (h *Handlers) UpdateCartItem(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req models.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	item, err := h.services.Cart.UpdateItem(c.Request.Context(), p, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

// RemoveCartItem - DELETE /api/cart/items
func (h *Handlers) RemoveCartItem(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	line, err := queryLine(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.services.Cart.RemoveItem(c.Request.Context(), p, line); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
