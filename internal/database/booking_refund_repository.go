package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/tourhub/tour-booking-core/internal/models"
	"github.com/tourhub/tour-booking-core/internal/services"
)

const refundColumns = `id, tour_booking_id, refund_policy_id, refund_type, status, original_amount,
	requested_amount, approved_amount, processing_fee, days_before_tour, refund_percentage,
	customer_note, admin_note, bank_name, bank_account_number, bank_account_holder,
	transfer_reference, processed_at, completed_at, version, is_deleted, created_at, updated_at`

// uniqueViolation is the postgres SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// BookingRefundRepository handles tour booking refund database operations
type BookingRefundRepository struct {
	db *sqlx.DB
}

// NewBookingRefundRepository creates a new BookingRefundRepository
func NewBookingRefundRepository(db *sqlx.DB) *BookingRefundRepository {
	return &BookingRefundRepository{db: db}
}

// CreateRefund inserts a refund request. A booking carries at most one refund.
func (r *BookingRefundRepository) CreateRefund(ctx context.Context, refund *models.TourBookingRefund) error {
	query := `
		INSERT INTO tour_booking_refunds (
			id, tour_booking_id, refund_policy_id, refund_type, status, original_amount,
			requested_amount, processing_fee, days_before_tour, refund_percentage,
			customer_note, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		refund.ID, refund.TourBookingID, refund.RefundPolicyID, refund.RefundType, refund.Status,
		refund.OriginalAmount, refund.RequestedAmount, refund.ProcessingFee, refund.DaysBeforeTour,
		refund.RefundPercentage, refund.CustomerNote, refund.Version, refund.CreatedAt, refund.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("refund already exists for booking %s", refund.TourBookingID)
	}
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

// GetRefundByID retrieves a refund by ID
func (r *BookingRefundRepository) GetRefundByID(ctx context.Context, id uuid.UUID) (*models.TourBookingRefund, error) {
	var refund models.TourBookingRefund
	query := `SELECT ` + refundColumns + ` FROM tour_booking_refunds WHERE id = $1 AND is_deleted = FALSE`

	err := executor(ctx, r.db).GetContext(ctx, &refund, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: refund %s", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}
	return &refund, nil
}

// UpdateRefundStatus applies an administrative status change if the refund
// still has the expected status and version
func (r *BookingRefundRepository) UpdateRefundStatus(ctx context.Context, u *models.RefundUpdate) error {
	update := psql.Update("tour_booking_refunds").
		Set("status", u.ToStatus).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", u.At)

	if u.ApprovedAmount != nil {
		update = update.Set("approved_amount", *u.ApprovedAmount)
	}
	if u.AdminNote != nil {
		update = update.Set("admin_note", *u.AdminNote)
	}
	if u.TransferReference != nil {
		update = update.Set("transfer_reference", *u.TransferReference)
	}
	switch u.ToStatus {
	case models.RefundApproved, models.RefundRejected:
		update = update.Set("processed_at", u.At)
	case models.RefundCompleted:
		update = update.Set("completed_at", u.At)
	}

	query, args, err := update.Where(squirrel.Eq{
		"id":         u.RefundID,
		"status":     u.FromStatus,
		"version":    u.ExpectedVersion,
		"is_deleted": false,
	}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build refund update: %w", err)
	}

	result, err := executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update refund status: %w", err)
	}
	return expectOneRow(result, services.ErrConcurrencyConflict)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
