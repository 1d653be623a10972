package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// INVITATION ENUMS (match DB ENUMs: guide_invitation_type, guide_invitation_status)
// ============================================================================

// InvitationType says how the guide was picked
type InvitationType string

const (
	InvitationAutomatic InvitationType = "automatic" // skill-matched fan-out
	InvitationManual    InvitationType = "manual"    // hand-picked by an operator
)

// InvitationStatus is the status of a guide invitation
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
	InvitationExpired  InvitationStatus = "expired"
)

var invitationTransitions = map[InvitationStatus][]InvitationStatus{
	InvitationPending:  {InvitationAccepted, InvitationRejected, InvitationExpired},
	InvitationAccepted: nil,
	InvitationRejected: nil,
	InvitationExpired:  nil,
}

// CanTransitionTo reports whether next is a legal successor of s
func (s InvitationStatus) CanTransitionTo(next InvitationStatus) bool {
	for _, candidate := range invitationTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s InvitationStatus) IsTerminal() bool {
	return len(invitationTransitions[s]) == 0
}

// SiblingAcceptedReason is stored on pending invitations closed by another guide's acceptance
const SiblingAcceptedReason = "closed by system: another guide accepted this tour"

// ============================================================================
// TOUR GUIDE INVITATION (tour_guide_invitations table)
// ============================================================================

// TourGuideInvitation is an offer to one guide to staff a tour-detail plan.
// (tour_detail_plan_id, guide_id) is unique.
type TourGuideInvitation struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	TourDetailPlanID uuid.UUID        `json:"tour_detail_plan_id" db:"tour_detail_plan_id"`
	GuideID          uuid.UUID        `json:"guide_id" db:"guide_id"`
	Type             InvitationType   `json:"type" db:"invitation_type"`
	Status           InvitationStatus `json:"status" db:"status"`
	Message          *string          `json:"message,omitempty" db:"message"`
	RejectionReason  *string          `json:"rejection_reason,omitempty" db:"rejection_reason"`
	InvitedAt        time.Time        `json:"invited_at" db:"invited_at"`
	RespondedAt      *time.Time       `json:"responded_at,omitempty" db:"responded_at"`
	ExpiresAt        time.Time        `json:"expires_at" db:"expires_at"`
	Version          int64            `json:"version" db:"version"`
	IsActive         bool             `json:"is_active" db:"is_active"`
	IsDeleted        bool             `json:"is_deleted" db:"is_deleted"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// IsExpiredAt reports whether the response window has closed at now
func (i *TourGuideInvitation) IsExpiredAt(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// NewInvitation builds a Pending invitation with its response deadline
func NewInvitation(planID, guideID uuid.UUID, kind InvitationType, message *string, now time.Time, window time.Duration) *TourGuideInvitation {
	return &TourGuideInvitation{
		ID:               uuid.New(),
		TourDetailPlanID: planID,
		GuideID:          guideID,
		Type:             kind,
		Status:           InvitationPending,
		Message:          message,
		InvitedAt:        now,
		ExpiresAt:        now.Add(window),
		Version:          1,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// InvitationAcceptance is the unit of work recorded when a guide accepts
type InvitationAcceptance struct {
	InvitationID    uuid.UUID
	PlanID          uuid.UUID
	GuideID         uuid.UUID
	ExpectedVersion int64
	At              time.Time
	SiblingReason   string
}

// InvitationRejection is a guide declining (or the sweep expiring) one invitation
type InvitationRejection struct {
	InvitationID    uuid.UUID
	ToStatus        InvitationStatus
	ExpectedVersion int64
	Reason          *string
	At              time.Time
}

// ============================================================================
// GUIDE (read model from the guide directory)
// ============================================================================

// Guide is the availability view of a tour guide
type Guide struct {
	ID          uuid.UUID `json:"id" db:"id"`
	FullName    string    `json:"full_name" db:"full_name"`
	Skills      SkillSet  `json:"skills" db:"skills"`
	IsAvailable bool      `json:"is_available" db:"is_available"`
}

// ============================================================================
// REQUEST/RESPONSE STRUCTS
// ============================================================================

// SendManualInvitationRequest is the operator request to invite one guide
type SendManualInvitationRequest struct {
	GuideID string  `json:"guide_id" binding:"required,uuid"`
	Message *string `json:"message,omitempty"`
}

// RespondInvitationRequest is the guide's answer
type RespondInvitationRequest struct {
	Accept *bool  `json:"accept" binding:"required"`
	Note   string `json:"note"`
}

// AutomaticInvitationResult summarizes a fan-out
type AutomaticInvitationResult struct {
	PlanID      uuid.UUID              `json:"plan_id"`
	Matched     int                    `json:"matched"`
	Created     int                    `json:"created"`
	Invitations []*TourGuideInvitation `json:"invitations"`
}
