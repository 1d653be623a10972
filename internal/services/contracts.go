package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tourhub/tour-booking-core/internal/models"
)

// Clock returns the current time. Services never call time.Now directly.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC
type SystemClock struct{}

// Now implements Clock
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// UnitOfWork runs fn inside one database transaction. Stores called with the
// ctx passed to fn join that transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OperationReader looks up tour operations
type OperationReader interface {
	GetOperation(ctx context.Context, id uuid.UUID) (*models.TourOperation, error)
}

// CapacityStore persists slot and operation counters.
// UpdateCapacity must write only if the stored version still equals
// c.Version, and return ErrConcurrencyConflict otherwise. GetCapacity also
// returns soft-deleted rows, flagged by IsDeleted.
type CapacityStore interface {
	OperationReader
	GetSlot(ctx context.Context, id uuid.UUID) (*models.TourSlot, error)
	GetCapacity(ctx context.Context, target models.CapacityTarget) (*models.Capacity, error)
	UpdateCapacity(ctx context.Context, c *models.Capacity, bookings int, status models.CapacityStatus) error
}

// BookingStore persists tour bookings. TransitionBooking and MarkCheckedIn are
// conditional on status and version and return ErrConcurrencyConflict when the
// row moved underneath.
type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.TourBooking) error
	GetBookingByID(ctx context.Context, id uuid.UUID) (*models.TourBooking, error)
	GenerateBookingCode(ctx context.Context, prefix string, now time.Time) (string, error)
	TransitionBooking(ctx context.Context, t *models.BookingTransition) error
	MarkCheckedIn(ctx context.Context, id uuid.UUID, expectedVersion int64, at time.Time) error
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*models.TourBooking, error)
	ListActiveBookingsBySlot(ctx context.Context, slotID uuid.UUID) ([]*models.TourBooking, error)
}

// RefundPolicyStore returns candidate policies for a refund type
type RefundPolicyStore interface {
	ListCandidatePolicies(ctx context.Context, refundType models.RefundType, now time.Time) ([]*models.RefundPolicy, error)
}

// RefundStore persists refund requests
type RefundStore interface {
	CreateRefund(ctx context.Context, refund *models.TourBookingRefund) error
	GetRefundByID(ctx context.Context, id uuid.UUID) (*models.TourBookingRefund, error)
	UpdateRefundStatus(ctx context.Context, u *models.RefundUpdate) error
}

// InvitationStore persists guide invitations.
//
// AcceptInvitation is one unit of work: it fails with ErrPlanAlreadyStaffed if
// the plan's operation already has a guide, with ErrConcurrencyConflict if the
// invitation is no longer pending at the expected version, and otherwise
// accepts the invitation, closes every other pending invitation of the plan and
// assigns the guide. It returns the ids of the closed siblings.
type InvitationStore interface {
	InsertInvitationIfAbsent(ctx context.Context, inv *models.TourGuideInvitation) (bool, error)
	InsertInvitation(ctx context.Context, inv *models.TourGuideInvitation) error
	GetInvitationByID(ctx context.Context, id uuid.UUID) (*models.TourGuideInvitation, error)
	ListInvitationsByPlan(ctx context.Context, planID uuid.UUID) ([]*models.TourGuideInvitation, error)
	CloseInvitation(ctx context.Context, r *models.InvitationRejection) error
	AcceptInvitation(ctx context.Context, a *models.InvitationAcceptance) ([]uuid.UUID, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.TourGuideInvitation, error)
}

// GuideDirectory is the skill and availability lookup
type GuideDirectory interface {
	GetPlan(ctx context.Context, planID uuid.UUID) (*models.TourDetailPlan, error)
	ListAvailableGuides(ctx context.Context, skills models.SkillSet) ([]*models.Guide, error)
}

// EventPublisher hands domain events to the notifier
type EventPublisher interface {
	Publish(ctx context.Context, event *models.DomainEvent) error
}

// SweepResult summarizes one sweep run
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}
