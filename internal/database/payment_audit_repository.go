package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/models"
)

// PaymentAuditRepository stores the payment webhook trail
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log appends an audit entry. Entries are never updated.
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}

	query := `
		INSERT INTO payment_audits (
			id, tour_booking_id,
			payment_status, gateway_transaction_id, amount,
			outcome, signature_valid, http_status_code, error_message,
			raw_body, ip_address, user_agent, processing_time_ms,
			created_at
		) VALUES (
			$1, $2,
			$3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14
		)`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		audit.ID, audit.TourBookingID,
		audit.PaymentStatus, audit.GatewayTransactionID, audit.Amount,
		audit.Outcome, audit.SignatureValid, audit.HTTPStatusCode, audit.ErrorMessage,
		audit.RawBody, audit.IPAddress, audit.UserAgent, audit.ProcessingTimeMs,
		audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"audit_id": audit.ID,
			"outcome":  audit.Outcome,
		}).Error("Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id": audit.ID,
		"outcome":  audit.Outcome,
	}).Debug("Payment audit logged")
	return nil
}

// ListByBooking returns the deliveries for a booking, newest first
func (r *PaymentAuditRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	query := `
		SELECT id, tour_booking_id, payment_status, gateway_transaction_id, amount,
			outcome, signature_valid, http_status_code, error_message,
			raw_body, ip_address, user_agent, processing_time_ms, created_at
		FROM payment_audits
		WHERE tour_booking_id = $1
		ORDER BY created_at DESC`

	var audits []*models.PaymentAudit
	if err := executor(ctx, r.db).SelectContext(ctx, &audits, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list payment audits: %w", err)
	}
	return audits, nil
}
