package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/metrics"
	"github.com/tourhub/tour-booking-core/internal/models"
)

const (
	defaultResponseWindow = 48 * time.Hour
	sweepInvitations      = "invitations"
)

// InvitationConfig tunes the invitation scheduler
type InvitationConfig struct {
	ResponseWindow time.Duration
	MaxAttempts    int
	SweepBatchSize int
}

// GuideInvitationService fans invitations out to guides for a tour-detail plan
// and makes sure at most one of them is ever accepted.
type GuideInvitationService struct {
	invitations InvitationStore
	guides      GuideDirectory
	operations  OperationReader
	clock       Clock
	metrics     *metrics.Metrics
	logger      *logrus.Logger
	events      eventEmitter
	cfg         InvitationConfig
}

// NewGuideInvitationService creates a new GuideInvitationService
func NewGuideInvitationService(
	invitations InvitationStore,
	guides GuideDirectory,
	operations OperationReader,
	publisher EventPublisher,
	clock Clock,
	m *metrics.Metrics,
	logger *logrus.Logger,
	cfg InvitationConfig,
) *GuideInvitationService {
	if cfg.ResponseWindow <= 0 {
		cfg.ResponseWindow = defaultResponseWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxCASAttempts
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaultSweepBatchSize
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &GuideInvitationService{
		invitations: invitations,
		guides:      guides,
		operations:  operations,
		clock:       clock,
		metrics:     m,
		logger:      logger,
		events:      eventEmitter{publisher: publisher, clock: clock, logger: logger},
		cfg:         cfg,
	}
}

// ============================================================================
// SENDING
// ============================================================================

// SendAutomatic invites every available guide whose skills overlap the plan's
// required skills. A plan without required skills matches every available
// guide. Guides already invited are skipped silently.
func (s *GuideInvitationService) SendAutomatic(ctx context.Context, planID uuid.UUID) (*models.AutomaticInvitationResult, error) {
	plan, err := s.staffablePlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	required := plan.RequiredSkills.Normalized()
	candidates, err := s.guides.ListAvailableGuides(ctx, required)
	if err != nil {
		return nil, fmt.Errorf("failed to list available guides: %w", err)
	}

	result := &models.AutomaticInvitationResult{
		PlanID:      planID,
		Invitations: make([]*models.TourGuideInvitation, 0, len(candidates)),
	}
	now := s.clock.Now()

	for _, g := range candidates {
		if !g.IsAvailable || (len(required) > 0 && !g.Skills.Intersects(required)) {
			continue
		}
		result.Matched++

		inv := models.NewInvitation(planID, g.ID, models.InvitationAutomatic, nil, now, s.cfg.ResponseWindow)
		created, err := s.invitations.InsertInvitationIfAbsent(ctx, inv)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"plan_id":  planID,
				"guide_id": g.ID,
			}).Error("Failed to create automatic invitation")
			continue
		}
		if !created {
			continue
		}
		result.Created++
		result.Invitations = append(result.Invitations, inv)
		s.events.invitationEvent(ctx, models.EventInvitationSent, inv)
	}

	s.logger.WithFields(logrus.Fields{
		"plan_id": planID,
		"matched": result.Matched,
		"created": result.Created,
	}).Info("Automatic guide invitations sent")
	return result, nil
}

// SendManual invites one hand-picked guide. It fails with
// ErrDuplicateInvitation if the guide was already invited to the plan.
func (s *GuideInvitationService) SendManual(ctx context.Context, planID, guideID uuid.UUID, message *string) (*models.TourGuideInvitation, error) {
	if _, err := s.staffablePlan(ctx, planID); err != nil {
		return nil, err
	}

	inv := models.NewInvitation(planID, guideID, models.InvitationManual, message, s.clock.Now(), s.cfg.ResponseWindow)
	if err := s.invitations.InsertInvitation(ctx, inv); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"invitation_id": inv.ID,
		"plan_id":       planID,
		"guide_id":      guideID,
	}).Info("Manual guide invitation sent")
	s.events.invitationEvent(ctx, models.EventInvitationSent, inv)
	return inv, nil
}

func (s *GuideInvitationService) staffablePlan(ctx context.Context, planID uuid.UUID) (*models.TourDetailPlan, error) {
	plan, err := s.guides.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	op, err := s.operations.GetOperation(ctx, plan.TourOperationID)
	if err != nil {
		return nil, err
	}
	if op.HasGuide() {
		return nil, fmt.Errorf("%w: operation %s", ErrPlanAlreadyStaffed, op.ID)
	}
	return plan, nil
}

// ============================================================================
// RESPONDING
// ============================================================================

// Respond records a guide's answer. Only a pending invitation inside its
// response window can be answered. Accepting closes every other pending
// invitation of the plan and assigns the guide in one unit of work.
func (s *GuideInvitationService) Respond(ctx context.Context, invitationID uuid.UUID, accept bool, note string) (*models.TourGuideInvitation, error) {
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		inv, err := s.invitations.GetInvitationByID(ctx, invitationID)
		if err != nil {
			return nil, err
		}

		now := s.clock.Now()
		if err := checkRespondable(inv, now); err != nil {
			return nil, err
		}

		if accept {
			err = s.accept(ctx, inv, now)
		} else {
			err = s.reject(ctx, inv, note, now)
		}
		if errors.Is(err, ErrConcurrencyConflict) {
			s.logger.WithFields(logrus.Fields{
				"invitation_id": invitationID,
				"attempt":       attempt,
			}).Debug("Invitation changed while responding, re-reading")
			continue
		}
		if err != nil {
			return nil, err
		}
		return inv, nil
	}

	return nil, fmt.Errorf("%w: respond to invitation %s gave up after %d attempts", ErrConcurrencyConflict, invitationID, s.cfg.MaxAttempts)
}

func checkRespondable(inv *models.TourGuideInvitation, now time.Time) error {
	switch inv.Status {
	case models.InvitationPending:
	case models.InvitationExpired:
		return fmt.Errorf("%w: invitation %s", ErrInvitationExpired, inv.ID)
	default:
		return fmt.Errorf("%w: invitation %s is %s", ErrInvalidTransition, inv.ID, inv.Status)
	}
	if inv.IsExpiredAt(now) {
		return fmt.Errorf("%w: invitation %s expired at %s", ErrInvitationExpired, inv.ID, inv.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func (s *GuideInvitationService) accept(ctx context.Context, inv *models.TourGuideInvitation, now time.Time) error {
	closed, err := s.invitations.AcceptInvitation(ctx, &models.InvitationAcceptance{
		InvitationID:    inv.ID,
		PlanID:          inv.TourDetailPlanID,
		GuideID:         inv.GuideID,
		ExpectedVersion: inv.Version,
		At:              now,
		SiblingReason:   models.SiblingAcceptedReason,
	})
	if err != nil {
		return err
	}

	inv.Status = models.InvitationAccepted
	inv.RespondedAt = &now
	inv.Version++

	s.metrics.ObserveInvitationResponse("accepted")
	s.logger.WithFields(logrus.Fields{
		"invitation_id":   inv.ID,
		"plan_id":         inv.TourDetailPlanID,
		"guide_id":        inv.GuideID,
		"closed_siblings": len(closed),
	}).Info("Guide invitation accepted")
	s.events.invitationEvent(ctx, models.EventInvitationAccepted, inv)

	for _, id := range closed {
		s.events.emit(ctx, models.EventInvitationRejected, "tour_guide_invitation", id, map[string]interface{}{
			"invitation_id":       id,
			"tour_detail_plan_id": inv.TourDetailPlanID,
			"status":              models.InvitationRejected,
			"reason":              models.SiblingAcceptedReason,
		})
	}
	return nil
}

func (s *GuideInvitationService) reject(ctx context.Context, inv *models.TourGuideInvitation, note string, now time.Time) error {
	var reason *string
	if note != "" {
		reason = &note
	}
	if err := s.invitations.CloseInvitation(ctx, &models.InvitationRejection{
		InvitationID:    inv.ID,
		ToStatus:        models.InvitationRejected,
		ExpectedVersion: inv.Version,
		Reason:          reason,
		At:              now,
	}); err != nil {
		return err
	}

	inv.Status = models.InvitationRejected
	inv.RejectionReason = reason
	inv.RespondedAt = &now
	inv.Version++

	s.metrics.ObserveInvitationResponse("rejected")
	s.events.invitationEvent(ctx, models.EventInvitationRejected, inv)
	return nil
}

// GetInvitation returns one invitation
func (s *GuideInvitationService) GetInvitation(ctx context.Context, invitationID uuid.UUID) (*models.TourGuideInvitation, error) {
	return s.invitations.GetInvitationByID(ctx, invitationID)
}

// ListByPlan returns every invitation of a plan
func (s *GuideInvitationService) ListByPlan(ctx context.Context, planID uuid.UUID) ([]*models.TourGuideInvitation, error) {
	return s.invitations.ListInvitationsByPlan(ctx, planID)
}

// ============================================================================
// EXPIRATION (Background Job Support)
// ============================================================================

// ExpireStale moves pending invitations past their deadline to expired. It
// never sends replacements; escalation is left to the operator.
func (s *GuideInvitationService) ExpireStale(ctx context.Context) SweepResult {
	var result SweepResult
	now := s.clock.Now()

	stale, err := s.invitations.ListExpiredPending(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list expired invitations")
		return result
	}
	result.Scanned = len(stale)

	for _, inv := range stale {
		if inv.Status != models.InvitationPending || !inv.IsExpiredAt(now) {
			continue
		}
		err := s.invitations.CloseInvitation(ctx, &models.InvitationRejection{
			InvitationID:    inv.ID,
			ToStatus:        models.InvitationExpired,
			ExpectedVersion: inv.Version,
			At:              now,
		})
		if err != nil {
			result.Failed++
			s.metrics.ObserveSweep(sweepInvitations, "failed")
			s.logger.WithError(err).WithField("invitation_id", inv.ID).Warn("Failed to expire invitation")
			continue
		}

		inv.Status = models.InvitationExpired
		inv.Version++
		result.Processed++
		s.metrics.ObserveSweep(sweepInvitations, "expired")
		s.events.invitationEvent(ctx, models.EventInvitationExpired, inv)
	}

	if result.Processed > 0 || result.Failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"expired": result.Processed,
			"failed":  result.Failed,
		}).Info("Invitation expiry sweep finished")
	}
	return result
}
