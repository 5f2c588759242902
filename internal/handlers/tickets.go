package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListTickets - GET /api/tickets
func (h *Handlers) ListTickets(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	response, err := h.services.Tickets.ListTickets(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ResendTickets - POST /api/orders/:orderId/tickets/resend
// Повторно выпустить недостающие документы и отправить письмо
func (h *Handlers) ResendTickets(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	summary, err := h.services.Tickets.Resend(c.Request.Context(), p, c.Param("orderId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
