package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tourhub/tour-booking-core/internal/models"
	"github.com/tourhub/tour-booking-core/internal/services"
)

const (
	slotColumns = `id, tour_template_id, tour_operation_id, tour_date, max_guests, current_bookings,
		status, version, is_active, is_deleted, created_at, updated_at`

	operationColumns = `id, tour_detail_plan_id, guide_id, price, discount_percent, max_guests, current_bookings,
		status, scheduled_at, version, is_active, is_deleted, created_at, updated_at`
)

// CapacityRepository reads and conditionally writes the seat counters of
// tour slots and tour operations
type CapacityRepository struct {
	db *sqlx.DB
}

// NewCapacityRepository creates a new CapacityRepository
func NewCapacityRepository(db *sqlx.DB) *CapacityRepository {
	return &CapacityRepository{db: db}
}

// GetSlot retrieves a tour slot by ID
func (r *CapacityRepository) GetSlot(ctx context.Context, id uuid.UUID) (*models.TourSlot, error) {
	var slot models.TourSlot
	query := `SELECT ` + slotColumns + ` FROM tour_slots WHERE id = $1 AND is_deleted = FALSE`

	err := executor(ctx, r.db).GetContext(ctx, &slot, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tour slot %s", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tour slot: %w", err)
	}
	return &slot, nil
}

// GetOperation retrieves a tour operation by ID
func (r *CapacityRepository) GetOperation(ctx context.Context, id uuid.UUID) (*models.TourOperation, error) {
	var op models.TourOperation
	query := `SELECT ` + operationColumns + ` FROM tour_operations WHERE id = $1 AND is_deleted = FALSE`

	err := executor(ctx, r.db).GetContext(ctx, &op, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tour operation %s", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tour operation: %w", err)
	}
	return &op, nil
}

// GetCapacity loads the allocation view of a slot or operation. Soft-deleted
// rows are returned with IsDeleted set so bookings on them can still release.
func (r *CapacityRepository) GetCapacity(ctx context.Context, target models.CapacityTarget) (*models.Capacity, error) {
	switch target.Kind {
	case models.CapacityKindSlot:
		var slot models.TourSlot
		query := `SELECT ` + slotColumns + ` FROM tour_slots WHERE id = $1`
		if err := r.getCapacityRow(ctx, &slot, query, target); err != nil {
			return nil, err
		}
		return slot.Capacity(), nil
	case models.CapacityKindOperation:
		var op models.TourOperation
		query := `SELECT ` + operationColumns + ` FROM tour_operations WHERE id = $1`
		if err := r.getCapacityRow(ctx, &op, query, target); err != nil {
			return nil, err
		}
		return op.Capacity(), nil
	}
	return nil, fmt.Errorf("unknown capacity kind %q", target.Kind)
}

func (r *CapacityRepository) getCapacityRow(ctx context.Context, dest interface{}, query string, target models.CapacityTarget) error {
	err := executor(ctx, r.db).GetContext(ctx, dest, query, target.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", services.ErrNotFound, target)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s capacity: %w", target.Kind, err)
	}
	return nil
}

// UpdateCapacity writes the counter and status only if the row still has the
// version the caller read. Returns services.ErrConcurrencyConflict otherwise.
func (r *CapacityRepository) UpdateCapacity(ctx context.Context, c *models.Capacity, bookings int, status models.CapacityStatus) error {
	table, err := capacityTable(c.Target.Kind)
	if err != nil {
		return err
	}

	query := `
		UPDATE ` + table + `
		SET current_bookings = $1, status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4 AND is_deleted = FALSE`

	result, err := executor(ctx, r.db).ExecContext(ctx, query, bookings, status, c.Target.ID, c.Version)
	if err != nil {
		return fmt.Errorf("failed to update %s capacity: %w", c.Target.Kind, err)
	}
	return expectOneRow(result, services.ErrConcurrencyConflict)
}

func capacityTable(kind models.CapacityKind) (string, error) {
	switch kind {
	case models.CapacityKindSlot:
		return "tour_slots", nil
	case models.CapacityKindOperation:
		return "tour_operations", nil
	}
	return "", fmt.Errorf("unknown capacity kind %q", kind)
}
