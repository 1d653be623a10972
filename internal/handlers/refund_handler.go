package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/models"
)

// RefundAdministration is the admin side of refund processing
type RefundAdministration interface {
	GetRefund(ctx context.Context, refundID uuid.UUID) (*models.TourBookingRefund, error)
	Approve(ctx context.Context, refundID uuid.UUID, approvedAmount *float64, note string) (*models.TourBookingRefund, error)
	Reject(ctx context.Context, refundID uuid.UUID, note string) (*models.TourBookingRefund, error)
	Cancel(ctx context.Context, refundID uuid.UUID, note string) (*models.TourBookingRefund, error)
	Complete(ctx context.Context, refundID uuid.UUID, transferReference, note string) (*models.TourBookingRefund, error)
}

// RefundHandler handles refund administration HTTP requests (admin only)
type RefundHandler struct {
	refunds RefundAdministration
	logger  *logrus.Logger
}

// NewRefundHandler creates a new RefundHandler
func NewRefundHandler(refunds RefundAdministration, logger *logrus.Logger) *RefundHandler {
	return &RefundHandler{
		refunds: refunds,
		logger:  logger,
	}
}

// GetRefund handles GET /api/v1/refunds/:id
func (h *RefundHandler) GetRefund(c *gin.Context) {
	refundID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	refund, err := h.refunds.GetRefund(c.Request.Context(), refundID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

// Approve handles POST /api/v1/refunds/:id/approve
func (h *RefundHandler) Approve(c *gin.Context) {
	refundID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.ApproveRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}

	refund, err := h.refunds.Approve(c.Request.Context(), refundID, req.ApprovedAmount, req.AdminNote)
	h.respond(c, refund, err)
}

// Reject handles POST /api/v1/refunds/:id/reject
func (h *RefundHandler) Reject(c *gin.Context) {
	refundID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		AdminNote string `json:"admin_note" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}

	refund, err := h.refunds.Reject(c.Request.Context(), refundID, req.AdminNote)
	h.respond(c, refund, err)
}

// Cancel handles POST /api/v1/refunds/:id/cancel, withdrawing a refund that
// has not been paid out
func (h *RefundHandler) Cancel(c *gin.Context) {
	refundID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		AdminNote string `json:"admin_note"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
	}

	refund, err := h.refunds.Cancel(c.Request.Context(), refundID, req.AdminNote)
	h.respond(c, refund, err)
}

// Complete handles POST /api/v1/refunds/:id/complete
func (h *RefundHandler) Complete(c *gin.Context) {
	refundID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.CompleteRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}

	refund, err := h.refunds.Complete(c.Request.Context(), refundID, req.TransferReference, req.AdminNote)
	h.respond(c, refund, err)
}

func (h *RefundHandler) respond(c *gin.Context, refund *models.TourBookingRefund, err error) {
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}
