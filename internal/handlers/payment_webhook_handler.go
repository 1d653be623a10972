package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/models"
	"github.com/tourhub/tour-booking-core/internal/services"
)

// Gateway payment statuses
const (
	PaymentStatusPaid      = "paid"
	PaymentStatusFailed    = "failed"
	PaymentStatusExpired   = "expired"
	PaymentStatusCancelled = "cancelled"
)

// PaymentWebhookPayload is the gateway callback body
type PaymentWebhookPayload struct {
	BookingID     string  `json:"booking_id"`
	Status        string  `json:"status"`
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
}

// PaymentAuditLog keeps the webhook delivery trail
type PaymentAuditLog interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error)
}

// PaymentWebhookHandler turns signed gateway callbacks into payment signals
type PaymentWebhookHandler struct {
	lifecycle       BookingLifecycle
	audits          PaymentAuditLog
	secret          []byte
	signatureHeader string
	logger          *logrus.Logger
}

// NewPaymentWebhookHandler creates a new PaymentWebhookHandler
func NewPaymentWebhookHandler(lifecycle BookingLifecycle, audits PaymentAuditLog, secret, signatureHeader string, logger *logrus.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		lifecycle:       lifecycle,
		audits:          audits,
		secret:          []byte(secret),
		signatureHeader: signatureHeader,
		logger:          logger,
	}
}

// ============================================================================
// PAYMENT WEBHOOK - POST /api/v1/payments/webhook
// ============================================================================

// Handle verifies the signature and applies the payment result
// @Summary Payment webhook callback
// @Description Called by the payment gateway with an HMAC-SHA256 signature of the raw body
// @Tags Payments
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Webhook processed"
// @Failure 401 {object} ErrorResponse "Bad signature"
// @Router /payments/webhook [post]
func (h *PaymentWebhookHandler) Handle(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.logger.WithError(err).Error("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_body", Message: "Failed to read request body"})
		return
	}

	audit := models.NewPaymentAudit(body, time.Now()).SetMetadata(c.ClientIP(), c.Request.UserAgent())
	outcome := models.AuditInvalidPayload
	defer func() {
		h.record(c, audit.Finish(outcome, c.Writer.Status(), time.Now()))
	}()

	if !h.validSignature(body, c.GetHeader(h.signatureHeader)) {
		outcome = models.AuditRejectedSignature
		h.logger.WithField("ip", c.ClientIP()).Warn("Payment webhook with invalid signature")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid_signature", Message: "Signature verification failed"})
		return
	}
	audit.SignatureValid = true

	var payload PaymentWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		audit.SetError(err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_payload", Message: "Malformed webhook payload"})
		return
	}
	audit.SetGatewayDetails(payload.Status, payload.TransactionID, payload.Amount)

	bookingID, err := uuid.Parse(payload.BookingID)
	if err != nil {
		audit.SetError(err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_payload", Message: "Invalid booking_id"})
		return
	}
	audit.SetBooking(bookingID)

	var paid bool
	switch strings.ToLower(payload.Status) {
	case PaymentStatusPaid:
		paid = true
	case PaymentStatusFailed, PaymentStatusExpired, PaymentStatusCancelled:
		paid = false
	default:
		outcome = models.AuditIgnored
		h.logger.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"status":     payload.Status,
		}).Info("Ignoring intermediate payment status")
		c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "status": payload.Status})
		return
	}

	log := h.logger.WithFields(logrus.Fields{
		"booking_id":     bookingID,
		"status":         payload.Status,
		"transaction_id": payload.TransactionID,
		"amount":         payload.Amount,
	})
	log.Info("Payment webhook received")

	booking, err := h.lifecycle.HandlePaymentResult(c.Request.Context(), bookingID, paid)
	audit.SetError(err)
	switch {
	case err == nil:
		outcome = models.AuditApplied
		c.JSON(http.StatusOK, gin.H{"message": "webhook processed successfully", "status": booking.Status})
	case errors.Is(err, services.ErrConcurrencyConflict):
		// gateway retries on non-2xx
		outcome = models.AuditRetryRequested
		respondError(c, h.logger, err)
	default:
		// A late payment for an expired hold or an unknown booking cannot be
		// fixed by a retry. Acknowledge so the gateway stops and reconcile offline.
		outcome = models.AuditNotApplied
		log.WithError(err).Error("Payment signal not applied")
		c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "error": err.Error()})
	}
}

// record writes the audit row; a failure never changes the gateway response
func (h *PaymentWebhookHandler) record(c *gin.Context, audit *models.PaymentAudit) {
	if h.audits == nil {
		return
	}
	if err := h.audits.Log(c.Request.Context(), audit); err != nil {
		h.logger.WithError(err).WithField("audit_id", audit.ID).Error("Payment webhook audit not stored")
	}
}

// ============================================================================
// PAYMENT AUDIT TRAIL - GET /api/v1/payments/audits/:booking_id
// ============================================================================

// ListAudits returns every webhook delivery recorded for a booking
func (h *PaymentWebhookHandler) ListAudits(c *gin.Context) {
	bookingID, ok := parseUUIDParam(c, "booking_id")
	if !ok {
		return
	}

	audits, err := h.audits.ListByBooking(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if audits == nil {
		audits = []*models.PaymentAudit{}
	}

	c.JSON(http.StatusOK, gin.H{
		"audits": audits,
		"total":  len(audits),
	})
}

func (h *PaymentWebhookHandler) validSignature(body []byte, signature string) bool {
	if len(h.secret) == 0 || signature == "" {
		return false
	}
	given, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(given, SignPayload(h.secret, body))
}

// SignPayload returns the HMAC-SHA256 of body under secret
func SignPayload(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
