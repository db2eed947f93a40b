package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/registry"
	"github.com/layer-3/ferryman/service"
)

// FacilitatorHandlers contains HTTP handlers for the facilitator endpoints
type FacilitatorHandlers struct {
	verifyService *service.VerifyService
	settleService *service.SettleService
	quoteService  *service.QuoteService
	registry      *registry.Registry
}

// NewFacilitatorHandlers creates new facilitator handlers
func NewFacilitatorHandlers(
	verifyService *service.VerifyService,
	settleService *service.SettleService,
	quoteService *service.QuoteService,
	reg *registry.Registry,
) *FacilitatorHandlers {
	return &FacilitatorHandlers{
		verifyService: verifyService,
		settleService: settleService,
		quoteService:  quoteService,
		registry:      reg,
	}
}

// paymentRequest is the body shared by /verify and /settle.
type paymentRequest struct {
	X402Version         int                       `json:"x402Version"`
	PaymentPayload      *core.PaymentPayload      `json:"paymentPayload" binding:"required"`
	PaymentRequirements *core.PaymentRequirements `json:"paymentRequirements" binding:"required"`
}

// Verify handles the verification request
func (h *FacilitatorHandlers) Verify(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.X402Version != core.X402Version {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported x402 version"})
		return
	}

	result, err := h.verifyService.Verify(c.Request.Context(), req.PaymentRequirements, req.PaymentPayload)
	if err != nil {
		status, msg := mapServiceError(err, "Verification failed")
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Settle handles the settlement request
func (h *FacilitatorHandlers) Settle(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.X402Version != core.X402Version {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported x402 version"})
		return
	}

	result, err := h.settleService.Settle(c.Request.Context(), req.PaymentRequirements, req.PaymentPayload)
	if err != nil {
		status, msg := mapServiceError(err, "Settlement failed")
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Supported lists the (scheme, network) pairs this facilitator serves and the
// payload extensions it understands
func (h *FacilitatorHandlers) Supported(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"kinds": h.registry.Kinds(),
		"extensions": []string{
			core.PaymentIdentifierExtension,
			core.FacilitatorFeesExtension,
		},
	})
}

// Attempt returns the persisted settlement attempt for a payment key
func (h *FacilitatorHandlers) Attempt(c *gin.Context) {
	paymentKey := c.Param("paymentKey")
	if !core.ValidPaymentKey(paymentKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment key"})
		return
	}

	attempt, err := h.settleService.Attempt(c.Request.Context(), paymentKey)
	if err != nil {
		if errors.Is(err, core.ErrAttemptNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No settlement attempt for this payment key"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load settlement attempt"})
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// Quote issues a signed fee quote for a route
func (h *FacilitatorHandlers) Quote(c *gin.Context) {
	var req struct {
		Scheme    string `json:"scheme" binding:"required"`
		Network   string `json:"network" binding:"required"`
		Asset     string `json:"asset" binding:"required"`
		FeeAmount string `json:"feeAmount" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if _, err := h.registry.Resolve(req.Scheme, req.Network); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported scheme or network"})
		return
	}

	quote, token, err := h.quoteService.Issue(req.Scheme, req.Network, req.Asset, req.FeeAmount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue quote"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"quote": quote,
		"token": token,
	})
}

// mapServiceError maps sentinel errors to appropriate status codes
func mapServiceError(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidRequirements):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrIdempotencyConflict):
		return http.StatusConflict, "Idempotency identifier already bound to a different payload"
	case errors.Is(err, core.ErrUnsupportedScheme):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, fallback
	}
}
