package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tourhub/tour-booking-core/internal/models"
	"github.com/tourhub/tour-booking-core/internal/services"
)

const bookingColumns = `id, booking_code, tour_operation_id, tour_slot_id, user_id, guest_count,
	original_price, discount_percent, total_price, status, channel, tour_date, reservation_expiry,
	is_checked_in, checked_in_at, confirmed_at, cancelled_at, cancellation_reason, completed_at,
	version, is_active, is_deleted, created_at, updated_at`

// TourBookingRepository handles tour booking database operations
type TourBookingRepository struct {
	db *sqlx.DB
}

// NewTourBookingRepository creates a new TourBookingRepository
func NewTourBookingRepository(db *sqlx.DB) *TourBookingRepository {
	return &TourBookingRepository{db: db}
}

// ============================================================================
// REFERENCE GENERATION
// ============================================================================

// GenerateBookingCode generates a unique booking code
// Format: PREFIX-YYYYMMDD-XXXXXX (6 hex chars)
// Example: TB-20260310-A1B2C3
func (r *TourBookingRepository) GenerateBookingCode(ctx context.Context, prefix string, now time.Time) (string, error) {
	todayStr := now.UTC().Format("20060102")

	for attempts := 0; attempts < 10; attempts++ {
		randomBytes := make([]byte, 3)
		if _, err := rand.Read(randomBytes); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		code := fmt.Sprintf("%s-%s-%s", prefix, todayStr, strings.ToUpper(hex.EncodeToString(randomBytes)))

		var count int
		err := executor(ctx, r.db).GetContext(ctx, &count, `SELECT COUNT(*) FROM tour_bookings WHERE booking_code = $1`, code)
		if err != nil {
			return "", fmt.Errorf("failed to check booking code uniqueness: %w", err)
		}
		if count == 0 {
			return code, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique booking code after 10 attempts")
}

// ============================================================================
// CRUD
// ============================================================================

// CreateBooking inserts a new booking
func (r *TourBookingRepository) CreateBooking(ctx context.Context, b *models.TourBooking) error {
	query := `
		INSERT INTO tour_bookings (
			id, booking_code, tour_operation_id, tour_slot_id, user_id, guest_count,
			original_price, discount_percent, total_price, status, channel, tour_date,
			reservation_expiry, version, is_active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		b.ID, b.BookingCode, b.TourOperationID, b.TourSlotID, b.UserID, b.GuestCount,
		b.OriginalPrice, b.DiscountPercent, b.TotalPrice, b.Status, b.Channel, b.TourDate,
		b.ReservationExpiry, b.Version, b.IsActive, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tour booking: %w", err)
	}
	return nil
}

// GetBookingByID retrieves a booking by ID
func (r *TourBookingRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*models.TourBooking, error) {
	var b models.TourBooking
	query := `SELECT ` + bookingColumns + ` FROM tour_bookings WHERE id = $1 AND is_deleted = FALSE`

	err := executor(ctx, r.db).GetContext(ctx, &b, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tour booking %s", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tour booking: %w", err)
	}
	return &b, nil
}

// ============================================================================
// STATUS CHANGES
// ============================================================================

// TransitionBooking applies one status change if the row still has the
// expected status and version
func (r *TourBookingRepository) TransitionBooking(ctx context.Context, t *models.BookingTransition) error {
	update := psql.Update("tour_bookings").
		Set("status", t.ToStatus).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", t.At)

	if t.ClearExpiry {
		update = update.Set("reservation_expiry", nil)
	}
	switch {
	case t.ToStatus == models.BookingConfirmed:
		update = update.Set("confirmed_at", t.At)
	case t.ToStatus.IsCancelled():
		update = update.Set("cancelled_at", t.At).Set("cancellation_reason", t.CancellationReason)
	case t.ToStatus == models.BookingCompleted:
		update = update.Set("completed_at", t.At)
	}

	query, args, err := update.Where(squirrel.Eq{
		"id":         t.BookingID,
		"status":     t.FromStatus,
		"version":    t.ExpectedVersion,
		"is_deleted": false,
	}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build booking transition: %w", err)
	}

	result, err := executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition booking %s to %s: %w", t.BookingID, t.ToStatus, err)
	}
	return expectOneRow(result, services.ErrConcurrencyConflict)
}

// MarkCheckedIn flags a confirmed booking as arrived
func (r *TourBookingRepository) MarkCheckedIn(ctx context.Context, id uuid.UUID, expectedVersion int64, at time.Time) error {
	query := `
		UPDATE tour_bookings
		SET is_checked_in = TRUE, checked_in_at = $1, version = version + 1, updated_at = $1
		WHERE id = $2 AND version = $3 AND status = 'confirmed' AND is_deleted = FALSE`

	result, err := executor(ctx, r.db).ExecContext(ctx, query, at, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to check in booking: %w", err)
	}
	return expectOneRow(result, services.ErrConcurrencyConflict)
}

// ============================================================================
// SWEEP / CASCADE QUERIES
// ============================================================================

// ListExpiredHolds returns pending bookings whose hold has passed, oldest first
func (r *TourBookingRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*models.TourBooking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM tour_bookings
		WHERE status = 'pending'
		  AND reservation_expiry IS NOT NULL
		  AND reservation_expiry <= $1
		  AND is_deleted = FALSE
		ORDER BY reservation_expiry ASC
		LIMIT $2`

	var bookings []*models.TourBooking
	if err := executor(ctx, r.db).SelectContext(ctx, &bookings, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}
	return bookings, nil
}

// ListActiveBookingsBySlot returns the pending and confirmed bookings of a slot
func (r *TourBookingRepository) ListActiveBookingsBySlot(ctx context.Context, slotID uuid.UUID) ([]*models.TourBooking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM tour_bookings
		WHERE tour_slot_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND is_deleted = FALSE
		ORDER BY created_at ASC`

	var bookings []*models.TourBooking
	if err := executor(ctx, r.db).SelectContext(ctx, &bookings, query, slotID); err != nil {
		return nil, fmt.Errorf("failed to list slot bookings: %w", err)
	}
	return bookings, nil
}
