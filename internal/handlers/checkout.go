package handlers

import (
	"net/http"

	"boxoffice/internal/models"

	"github.com/gin-gonic/gin"
)

// Checkout - POST /api/checkout
// Превратить корзину в брони и подписать платёж
func (h *Handlers) Checkout(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req models.CheckoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	result, err := h.services.Checkout.Checkout(c.Request.Context(), p, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// CreatePaymentIntent - POST /api/payments/intents
// Подписать платёж для уже созданных броней
func (h *Handlers) CreatePaymentIntent(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req models.CreatePaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	intent, err := h.services.Payments.CreatePaymentIntent(c.Request.Context(), p, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, intent)
}
