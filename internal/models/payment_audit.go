package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxAuditBodyBytes caps the raw webhook body kept per audit row
const MaxAuditBodyBytes = 16 << 10

// PaymentAuditOutcome records what the backend did with a gateway callback
type PaymentAuditOutcome string

const (
	AuditApplied           PaymentAuditOutcome = "applied"
	AuditIgnored           PaymentAuditOutcome = "ignored"
	AuditRejectedSignature PaymentAuditOutcome = "rejected_signature"
	AuditInvalidPayload    PaymentAuditOutcome = "invalid_payload"
	AuditRetryRequested    PaymentAuditOutcome = "retry_requested"
	AuditNotApplied        PaymentAuditOutcome = "not_applied"
)

// ============================================================================
// PAYMENT AUDIT (payment_audits table)
// ============================================================================

// PaymentAudit is an immutable record of one payment webhook delivery.
// Rows are written for rejected deliveries too.
type PaymentAudit struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	TourBookingID *uuid.UUID `json:"tour_booking_id,omitempty" db:"tour_booking_id"`

	// Gateway view
	PaymentStatus        *string  `json:"payment_status,omitempty" db:"payment_status"`
	GatewayTransactionID *string  `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`
	Amount               *float64 `json:"amount,omitempty" db:"amount"`

	// Our handling
	Outcome        PaymentAuditOutcome `json:"outcome" db:"outcome"`
	SignatureValid bool                `json:"signature_valid" db:"signature_valid"`
	HTTPStatusCode int                 `json:"http_status_code" db:"http_status_code"`
	ErrorMessage   *string             `json:"error_message,omitempty" db:"error_message"`

	RawBody          string  `json:"raw_body" db:"raw_body"`
	IPAddress        *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent        *string `json:"user_agent,omitempty" db:"user_agent"`
	ProcessingTimeMs int     `json:"processing_time_ms" db:"processing_time_ms"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit starts an audit entry for a received body
func NewPaymentAudit(rawBody []byte, now time.Time) *PaymentAudit {
	if len(rawBody) > MaxAuditBodyBytes {
		rawBody = rawBody[:MaxAuditBodyBytes]
	}
	return &PaymentAudit{
		ID:        uuid.New(),
		RawBody:   string(rawBody),
		CreatedAt: now,
	}
}

// SetBooking sets the booking the callback refers to
func (pa *PaymentAudit) SetBooking(bookingID uuid.UUID) *PaymentAudit {
	pa.TourBookingID = &bookingID
	return pa
}

// SetGatewayDetails copies the parsed gateway fields
func (pa *PaymentAudit) SetGatewayDetails(status, transactionID string, amount float64) *PaymentAudit {
	pa.PaymentStatus = &status
	if transactionID != "" {
		pa.GatewayTransactionID = &transactionID
	}
	pa.Amount = &amount
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(err error) *PaymentAudit {
	if err != nil {
		msg := err.Error()
		pa.ErrorMessage = &msg
	}
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(ip, userAgent string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	return pa
}

// Finish stamps the outcome and how long handling took
func (pa *PaymentAudit) Finish(outcome PaymentAuditOutcome, httpStatus int, now time.Time) *PaymentAudit {
	pa.Outcome = outcome
	pa.HTTPStatusCode = httpStatus
	pa.ProcessingTimeMs = int(now.Sub(pa.CreatedAt).Milliseconds())
	return pa
}
