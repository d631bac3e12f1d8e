package api

import (
	"errors"
	"io"
	"net/http"

	"isla-market/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) stripeCheckout(c *gin.Context) {
	var req service.CheckoutRequest
	if !h.bindJSON(c, &req) {
		return
	}

	resp, err := h.checkout.CreateSession(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// stripeWebhook verifies and applies a payment provider event
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.badRequest(c, "payload too large", nil)
			return
		}
		h.badRequest(c, "failed to read payload", err)
		return
	}

	result, err := h.checkout.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "result": result})
}
