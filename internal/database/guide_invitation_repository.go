package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tourhub/tour-booking-core/internal/models"
	"github.com/tourhub/tour-booking-core/internal/services"
)

const invitationColumns = `id, tour_detail_plan_id, guide_id, invitation_type, status, message,
	rejection_reason, invited_at, responded_at, expires_at, version, is_active, is_deleted,
	created_at, updated_at`

const insertInvitationSQL = `
	INSERT INTO tour_guide_invitations (
		id, tour_detail_plan_id, guide_id, invitation_type, status, message,
		invited_at, expires_at, version, is_active, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
	)`

// GuideInvitationRepository handles guide invitation database operations
type GuideInvitationRepository struct {
	db *sqlx.DB
}

// NewGuideInvitationRepository creates a new GuideInvitationRepository
func NewGuideInvitationRepository(db *sqlx.DB) *GuideInvitationRepository {
	return &GuideInvitationRepository{db: db}
}

func invitationArgs(inv *models.TourGuideInvitation) []interface{} {
	return []interface{}{
		inv.ID, inv.TourDetailPlanID, inv.GuideID, inv.Type, inv.Status, inv.Message,
		inv.InvitedAt, inv.ExpiresAt, inv.Version, inv.IsActive, inv.CreatedAt, inv.UpdatedAt,
	}
}

// ============================================================================
// INSERTS
// ============================================================================

// InsertInvitationIfAbsent inserts the invitation unless the guide was already
// invited to the plan. Reports whether a row was written.
func (r *GuideInvitationRepository) InsertInvitationIfAbsent(ctx context.Context, inv *models.TourGuideInvitation) (bool, error) {
	query := insertInvitationSQL + ` ON CONFLICT (tour_detail_plan_id, guide_id) DO NOTHING`

	result, err := executor(ctx, r.db).ExecContext(ctx, query, invitationArgs(inv)...)
	if err != nil {
		return false, fmt.Errorf("failed to insert invitation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// InsertInvitation inserts the invitation, failing with
// services.ErrDuplicateInvitation if the guide was already invited to the plan
func (r *GuideInvitationRepository) InsertInvitation(ctx context.Context, inv *models.TourGuideInvitation) error {
	_, err := executor(ctx, r.db).ExecContext(ctx, insertInvitationSQL, invitationArgs(inv)...)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: guide %s, plan %s", services.ErrDuplicateInvitation, inv.GuideID, inv.TourDetailPlanID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert invitation: %w", err)
	}
	return nil
}

// ============================================================================
// READS
// ============================================================================

// GetInvitationByID retrieves an invitation by ID
func (r *GuideInvitationRepository) GetInvitationByID(ctx context.Context, id uuid.UUID) (*models.TourGuideInvitation, error) {
	var inv models.TourGuideInvitation
	query := `SELECT ` + invitationColumns + ` FROM tour_guide_invitations WHERE id = $1 AND is_deleted = FALSE`

	err := executor(ctx, r.db).GetContext(ctx, &inv, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: invitation %s", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return &inv, nil
}

// ListInvitationsByPlan returns every invitation of a plan, oldest first
func (r *GuideInvitationRepository) ListInvitationsByPlan(ctx context.Context, planID uuid.UUID) ([]*models.TourGuideInvitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM tour_guide_invitations
		WHERE tour_detail_plan_id = $1 AND is_deleted = FALSE
		ORDER BY invited_at ASC`

	var invitations []*models.TourGuideInvitation
	if err := executor(ctx, r.db).SelectContext(ctx, &invitations, query, planID); err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return invitations, nil
}

// ListExpiredPending returns pending invitations whose deadline has passed
func (r *GuideInvitationRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.TourGuideInvitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM tour_guide_invitations
		WHERE status = 'pending' AND expires_at <= $1 AND is_deleted = FALSE
		ORDER BY expires_at ASC
		LIMIT $2`

	var invitations []*models.TourGuideInvitation
	if err := executor(ctx, r.db).SelectContext(ctx, &invitations, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired invitations: %w", err)
	}
	return invitations, nil
}

// ============================================================================
// RESPONSES
// ============================================================================

// CloseInvitation moves a pending invitation to rejected or expired
func (r *GuideInvitationRepository) CloseInvitation(ctx context.Context, rej *models.InvitationRejection) error {
	query := `
		UPDATE tour_guide_invitations
		SET status = $1, rejection_reason = $2, responded_at = $3, version = version + 1, updated_at = $4
		WHERE id = $5 AND status = 'pending' AND version = $6 AND is_deleted = FALSE`

	// expired invitations were never answered
	respondedAt := sql.NullTime{Time: rej.At, Valid: rej.ToStatus == models.InvitationRejected}
	result, err := executor(ctx, r.db).ExecContext(ctx, query,
		rej.ToStatus, rej.Reason, respondedAt, rej.At, rej.InvitationID, rej.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("failed to close invitation: %w", err)
	}
	return expectOneRow(result, services.ErrConcurrencyConflict)
}

// AcceptInvitation accepts one invitation, closes its pending siblings and
// assigns the guide to the plan's operation in a single transaction. The
// operation row is locked first so two accepts on one plan serialize.
func (r *GuideInvitationRepository) AcceptInvitation(ctx context.Context, a *models.InvitationAcceptance) ([]uuid.UUID, error) {
	var closed []uuid.UUID

	err := withinTx(ctx, r.db, func(ctx context.Context) error {
		exec := executor(ctx, r.db)

		var op struct {
			ID      uuid.UUID  `db:"id"`
			GuideID *uuid.UUID `db:"guide_id"`
		}
		err := exec.GetContext(ctx, &op, `
			SELECT id, guide_id FROM tour_operations
			WHERE tour_detail_plan_id = $1 AND is_deleted = FALSE
			FOR UPDATE`, a.PlanID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: operation for plan %s", services.ErrNotFound, a.PlanID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock tour operation: %w", err)
		}
		if op.GuideID != nil {
			return fmt.Errorf("%w: operation %s", services.ErrPlanAlreadyStaffed, op.ID)
		}

		result, err := exec.ExecContext(ctx, `
			UPDATE tour_guide_invitations
			SET status = 'accepted', responded_at = $1, version = version + 1, updated_at = $1
			WHERE id = $2 AND status = 'pending' AND version = $3 AND expires_at > $1 AND is_deleted = FALSE`,
			a.At, a.InvitationID, a.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("failed to accept invitation: %w", err)
		}
		if err := expectOneRow(result, services.ErrConcurrencyConflict); err != nil {
			return err
		}

		err = exec.SelectContext(ctx, &closed, `
			UPDATE tour_guide_invitations
			SET status = 'rejected', rejection_reason = $1, responded_at = $2, version = version + 1, updated_at = $2
			WHERE tour_detail_plan_id = $3 AND id <> $4 AND status = 'pending' AND is_deleted = FALSE
			RETURNING id`,
			a.SiblingReason, a.At, a.PlanID, a.InvitationID)
		if err != nil {
			return fmt.Errorf("failed to close sibling invitations: %w", err)
		}

		result, err = exec.ExecContext(ctx, `
			UPDATE tour_operations
			SET guide_id = $1, updated_at = $2
			WHERE id = $3 AND guide_id IS NULL`,
			a.GuideID, a.At, op.ID)
		if err != nil {
			return fmt.Errorf("failed to assign guide: %w", err)
		}
		return expectOneRow(result, services.ErrPlanAlreadyStaffed)
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}
