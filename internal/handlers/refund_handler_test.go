package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourhub/tour-booking-core/internal/middleware"
	"github.com/tourhub/tour-booking-core/internal/models"
	"github.com/tourhub/tour-booking-core/internal/services"
	"github.com/tourhub/tour-booking-core/pkg/jwt"
)

func refundRouter(refunds *stubRefunds) *gin.Engine {
	h := NewRefundHandler(refunds, testLogger())
	router := newTestRouter(&middleware.UserContext{UserID: uuid.New(), Roles: []string{jwt.RoleAdmin}})
	router.GET("/refunds/:id", h.GetRefund)
	router.POST("/refunds/:id/approve", h.Approve)
	router.POST("/refunds/:id/reject", h.Reject)
	router.POST("/refunds/:id/complete", h.Complete)
	router.POST("/refunds/:id/cancel", h.Cancel)
	return router
}

func pendingRefund() *models.TourBookingRefund {
	return &models.TourBookingRefund{
		ID:              uuid.New(),
		TourBookingID:   uuid.New(),
		RefundType:      models.RefundTypeUserCancellation,
		Status:          models.RefundPending,
		OriginalAmount:  200,
		RequestedAmount: 90,
	}
}

func TestRefundHandler(t *testing.T) {
	t.Run("Get", func(t *testing.T) {
		refund := pendingRefund()
		router := refundRouter(&stubRefunds{refund: refund})

		w := performJSON(router, http.MethodGet, "/refunds/"+refund.ID.String(), nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = performJSON(router, http.MethodGet, "/refunds/"+uuid.NewString(), nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Approve With Amount", func(t *testing.T) {
		refund := pendingRefund()
		router := refundRouter(&stubRefunds{refund: refund})

		w := performJSON(router, http.MethodPost, "/refunds/"+refund.ID.String()+"/approve",
			gin.H{"approved_amount": 80, "admin_note": "goodwill"}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var got models.TourBookingRefund
		decodeBody(t, w, &got)
		assert.Equal(t, models.RefundApproved, got.Status)
		require.NotNil(t, got.ApprovedAmount)
		assert.Equal(t, 80.0, *got.ApprovedAmount)
	})

	t.Run("Approve Negative Amount", func(t *testing.T) {
		refund := pendingRefund()
		router := refundRouter(&stubRefunds{refund: refund})

		w := performJSON(router, http.MethodPost, "/refunds/"+refund.ID.String()+"/approve",
			gin.H{"approved_amount": -5}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, models.RefundPending, refund.Status)
	})

	t.Run("Approve Above Original", func(t *testing.T) {
		refund := pendingRefund()
		err := fmt.Errorf("%w: approved amount 250.00 outside 0..200.00", services.ErrInvalidRefundAmount)
		router := refundRouter(&stubRefunds{refund: refund, err: err})

		w := performJSON(router, http.MethodPost, "/refunds/"+refund.ID.String()+"/approve",
			gin.H{"approved_amount": 250}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_amount")
	})

	t.Run("Reject Requires Note", func(t *testing.T) {
		refund := pendingRefund()
		router := refundRouter(&stubRefunds{refund: refund})

		w := performJSON(router, http.MethodPost, "/refunds/"+refund.ID.String()+"/reject", gin.H{}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = performJSON(router, http.MethodPost, "/refunds/"+refund.ID.String()+"/reject",
			gin.H{"admin_note": "outside policy"}, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.RefundRejected, refund.Status)
	})

	t.Run("Complete", func(t *testing.T) {
		refund := pendingRefund()
		router := refundRouter(&stubRefunds{refund: refund})

		w := performJSON(router, http.MethodPost, "/refunds/"+refund.ID.String()+"/complete", gin.H{}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = performJSON(router, http.MethodPost, "/refunds/"+refund.ID.String()+"/complete",
			gin.H{"transfer_reference": "BOC-55821"}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, refund.TransferReference)
		assert.Equal(t, "BOC-55821", *refund.TransferReference)
	})

	t.Run("Cancel Without Body", func(t *testing.T) {
		refund := pendingRefund()
		router := refundRouter(&stubRefunds{refund: refund})

		w := performJSON(router, http.MethodPost, "/refunds/"+refund.ID.String()+"/cancel", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.RefundCancelled, refund.Status)
	})

	t.Run("Cancel Completed Refund", func(t *testing.T) {
		refund := pendingRefund()
		router := refundRouter(&stubRefunds{refund: refund, err: services.ErrInvalidTransition})

		w := performJSON(router, http.MethodPost, "/refunds/"+refund.ID.String()+"/cancel",
			gin.H{"admin_note": "duplicate request"}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("Complete Before Approval", func(t *testing.T) {
		refund := pendingRefund()
		router := refundRouter(&stubRefunds{refund: refund, err: services.ErrInvalidTransition})

		w := performJSON(router, http.MethodPost, "/refunds/"+refund.ID.String()+"/complete",
			gin.H{"transfer_reference": "BOC-1"}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}
