package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/multiplehats/jobboard-starter-sub000/internal/catalog"
	"github.com/multiplehats/jobboard-starter-sub000/internal/order"
	"github.com/multiplehats/jobboard-starter-sub000/internal/payment"
)

// createOrderRequest payload for POST /orders.
// swagger:model createOrderRequest
type createOrderRequest struct {
	UserID string                   `json:"user_id" example:"usr_b2f5ff47"`
	Items  []payment.OrderItemInput `json:"items"`
}

func createOrderHandler(co *payment.Checkout) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		o, err := co.CreateOrder(c.Request.Context(), req.UserID, req.Items)
		if err != nil {
			if errors.Is(err, catalog.ErrUnknownProduct) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, o)
	}
}

func getOrderHandler(store order.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, items, err := store.GetOrder(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, order.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": o, "items": items})
	}
}

func createCheckoutSessionHandler(co *payment.Checkout) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		if req.OrderID == "" || req.SuccessURL == "" || req.CancelURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "order_id, success_url and cancel_url are required"})
			return
		}

		sess, err := co.CreateCheckoutSession(c.Request.Context(), req)
		if err != nil {
			var (
				priceErr *catalog.PriceNotConfiguredError
				provErr  *payment.ProviderAPIError
			)
			switch {
			case errors.Is(err, order.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			case errors.As(err, &priceErr):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": priceErr.Error()})
			case errors.Is(err, payment.ErrAdapterNotFound):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.As(err, &provErr):
				c.JSON(http.StatusBadGateway, gin.H{"error": provErr.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": sess.SessionID, "redirect_url": sess.URL})
	}
}

// webhookHandler translates HTTP into the ingestion pipeline. The success
// acknowledgement is only sent when processing truly succeeded; a 500 makes
// the provider redeliver, which the pipeline's idempotency absorbs.
func webhookHandler(pipe *payment.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		req := &payment.WebhookRequest{Body: body, Header: c.Request.Header}

		err = pipe.Process(c.Request.Context(), c.Param("provider"), req)
		if err != nil {
			switch {
			case errors.Is(err, payment.ErrInvalidSignature),
				errors.Is(err, payment.ErrMalformedPayload),
				errors.Is(err, payment.ErrAdapterNotFound):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
