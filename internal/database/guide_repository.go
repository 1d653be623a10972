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

// GuideRepository reads tour-detail plan requirements and guide availability
type GuideRepository struct {
	db *sqlx.DB
}

// NewGuideRepository creates a new GuideRepository
func NewGuideRepository(db *sqlx.DB) *GuideRepository {
	return &GuideRepository{db: db}
}

// GetPlan returns a plan with the id of the operation bound to it
func (r *GuideRepository) GetPlan(ctx context.Context, planID uuid.UUID) (*models.TourDetailPlan, error) {
	var plan models.TourDetailPlan
	query := `
		SELECT p.id, o.id AS tour_operation_id, p.title, p.required_skills, p.starts_at
		FROM tour_detail_plans p
		JOIN tour_operations o ON o.tour_detail_plan_id = p.id AND o.is_deleted = FALSE
		WHERE p.id = $1`

	err := executor(ctx, r.db).GetContext(ctx, &plan, query, planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tour detail plan %s", services.ErrNotFound, planID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tour detail plan: %w", err)
	}
	return &plan, nil
}

// ListAvailableGuides returns available guides sharing at least one skill
// with skills. An empty skill set returns every available guide.
func (r *GuideRepository) ListAvailableGuides(ctx context.Context, skills models.SkillSet) ([]*models.Guide, error) {
	builder := psql.Select("id", "full_name", "skills", "is_available").
		From("guides").
		Where(squirrel.Eq{"is_available": true, "is_deleted": false}).
		OrderBy("full_name ASC")

	if normalized := skills.Normalized(); len(normalized) > 0 {
		builder = builder.Where(squirrel.Expr("skills && ?", pq.Array([]string(normalized))))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build guide query: %w", err)
	}

	var guides []*models.Guide
	if err := executor(ctx, r.db).SelectContext(ctx, &guides, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list available guides: %w", err)
	}
	return guides, nil
}
