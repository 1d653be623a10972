package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/metrics"
	"github.com/tourhub/tour-booking-core/internal/models"
)

// RefundPolicyResolver turns a refund type, tour date and amount into a refund
// breakdown using the refund_policies table. It only reads.
type RefundPolicyResolver struct {
	policies RefundPolicyStore
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// NewRefundPolicyResolver creates a new RefundPolicyResolver
func NewRefundPolicyResolver(policies RefundPolicyStore, m *metrics.Metrics, logger *logrus.Logger) *RefundPolicyResolver {
	if m == nil {
		m = metrics.NewNop()
	}
	return &RefundPolicyResolver{policies: policies, metrics: m, logger: logger}
}

// Resolve computes the refund owed for refundType when cancelling at now a
// tour taking place at tourDate. It fails with ErrNoApplicablePolicy when no
// active policy covers the day count; the caller picks the fallback.
func (r *RefundPolicyResolver) Resolve(ctx context.Context, refundType models.RefundType, tourDate time.Time, originalAmount float64, now time.Time) (*models.RefundBreakdown, error) {
	candidates, err := r.policies.ListCandidatePolicies(ctx, refundType, now)
	if err != nil {
		r.metrics.ObserveRefund(string(refundType), "error")
		return nil, fmt.Errorf("failed to load refund policies: %w", err)
	}

	days := DaysBeforeTour(tourDate, now)
	policy := SelectPolicy(candidates, refundType, days, now)
	if policy == nil {
		r.metrics.ObserveRefund(string(refundType), "no_policy")
		r.logger.WithFields(logrus.Fields{
			"refund_type":      refundType,
			"days_before_tour": days,
			"candidates":       len(candidates),
		}).Warn("No refund policy matched")
		return nil, fmt.Errorf("%w: %s at %d days before tour", ErrNoApplicablePolicy, refundType, days)
	}

	r.metrics.ObserveRefund(string(refundType), "resolved")
	return ComputeBreakdown(policy, days, originalAmount), nil
}

// DaysBeforeTour is the whole number of days from now until tourDate, never negative
func DaysBeforeTour(tourDate, now time.Time) int {
	days := math.Floor(tourDate.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return int(days)
}

// SelectPolicy picks the matching policy with the highest priority, breaking
// ties by the narrowest day range. It returns nil when nothing matches.
func SelectPolicy(policies []*models.RefundPolicy, refundType models.RefundType, days int, now time.Time) *models.RefundPolicy {
	var best *models.RefundPolicy
	for _, p := range policies {
		if p.RefundType != refundType || !p.EffectiveAt(now) || !p.CoversDays(days) {
			continue
		}
		if best == nil || better(p, best) {
			best = p
		}
	}
	return best
}

func better(p, than *models.RefundPolicy) bool {
	if p.Priority != than.Priority {
		return p.Priority > than.Priority
	}
	return p.RangeWidth() < than.RangeWidth()
}

// ComputeBreakdown applies policy to originalAmount. The final amount is
// floored at zero when fees exceed the refund.
func ComputeBreakdown(policy *models.RefundPolicy, days int, originalAmount float64) *models.RefundBreakdown {
	gross := models.RoundMoney(originalAmount * policy.RefundPercentage / 100)
	fee := models.RoundMoney(policy.ProcessingFee + originalAmount*policy.ProcessingFeePercentage/100)
	final := models.RoundMoney(gross - fee)
	if final < 0 {
		final = 0
	}

	return &models.RefundBreakdown{
		PolicyID:         policy.ID,
		PolicyName:       policy.Name,
		RefundType:       policy.RefundType,
		DaysBeforeTour:   days,
		RefundPercentage: policy.RefundPercentage,
		OriginalAmount:   originalAmount,
		GrossRefund:      gross,
		ProcessingFee:    fee,
		FinalAmount:      final,
	}
}
