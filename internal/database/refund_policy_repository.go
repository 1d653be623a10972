package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/tourhub/tour-booking-core/internal/models"
)

var refundPolicyColumns = []string{
	"id", "name", "refund_type", "min_days_before_event", "max_days_before_event",
	"refund_percentage", "processing_fee", "processing_fee_percentage", "priority",
	"is_active", "effective_from", "effective_to", "version", "is_deleted", "created_at", "updated_at",
}

// RefundPolicyRepository handles refund policy database operations
type RefundPolicyRepository struct {
	db *sqlx.DB
}

// NewRefundPolicyRepository creates a new RefundPolicyRepository
func NewRefundPolicyRepository(db *sqlx.DB) *RefundPolicyRepository {
	return &RefundPolicyRepository{db: db}
}

// ListCandidatePolicies returns active policies of a type whose effective
// window contains now. Day-range matching and tie-breaking happen in the resolver.
func (r *RefundPolicyRepository) ListCandidatePolicies(ctx context.Context, refundType models.RefundType, now time.Time) ([]*models.RefundPolicy, error) {
	query, args, err := psql.Select(refundPolicyColumns...).
		From("refund_policies").
		Where(squirrel.Eq{
			"refund_type": refundType,
			"is_active":   true,
			"is_deleted":  false,
		}).
		Where(squirrel.LtOrEq{"effective_from": now}).
		Where(squirrel.Or{
			squirrel.Eq{"effective_to": nil},
			squirrel.Gt{"effective_to": now},
		}).
		OrderBy("priority DESC", "min_days_before_event DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build refund policy query: %w", err)
	}

	var policies []*models.RefundPolicy
	if err := executor(ctx, r.db).SelectContext(ctx, &policies, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list refund policies: %w", err)
	}
	return policies, nil
}

// UpsertPolicy inserts a policy or updates the one with the same name.
// The stored id and version are written back to p.
func (r *RefundPolicyRepository) UpsertPolicy(ctx context.Context, p *models.RefundPolicy) error {
	query := `
		INSERT INTO refund_policies (
			id, name, refund_type, min_days_before_event, max_days_before_event,
			refund_percentage, processing_fee, processing_fee_percentage, priority,
			is_active, effective_from, effective_to, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, NOW(), NOW()
		)
		ON CONFLICT (name) DO UPDATE SET
			refund_type = EXCLUDED.refund_type,
			min_days_before_event = EXCLUDED.min_days_before_event,
			max_days_before_event = EXCLUDED.max_days_before_event,
			refund_percentage = EXCLUDED.refund_percentage,
			processing_fee = EXCLUDED.processing_fee,
			processing_fee_percentage = EXCLUDED.processing_fee_percentage,
			priority = EXCLUDED.priority,
			is_active = EXCLUDED.is_active,
			effective_from = EXCLUDED.effective_from,
			effective_to = EXCLUDED.effective_to,
			is_deleted = FALSE,
			version = refund_policies.version + 1,
			updated_at = NOW()
		RETURNING id, version`

	err := executor(ctx, r.db).QueryRowxContext(ctx, query,
		p.ID, p.Name, p.RefundType, p.MinDaysBeforeEvent, p.MaxDaysBeforeEvent,
		p.RefundPercentage, p.ProcessingFee, p.ProcessingFeePercentage, p.Priority,
		p.IsActive, p.EffectiveFrom, p.EffectiveTo,
	).Scan(&p.ID, &p.Version)
	if err != nil {
		return fmt.Errorf("failed to upsert refund policy %q: %w", p.Name, err)
	}
	return nil
}
