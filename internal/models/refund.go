package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// RefundType is the policy family a refund is resolved against
type RefundType string

const (
	RefundTypeCompanyCancellation RefundType = "company_cancellation"
	RefundTypeAutoCancellation    RefundType = "auto_cancellation"
	RefundTypeUserCancellation    RefundType = "user_cancellation"
)

// IsValid reports whether the type is one of the enumerated values
func (t RefundType) IsValid() bool {
	switch t {
	case RefundTypeCompanyCancellation, RefundTypeAutoCancellation, RefundTypeUserCancellation:
		return true
	}
	return false
}

// ============================================================================
// REFUND POLICY (refund_policies table)
// ============================================================================

// RefundPolicy maps a refund type and a days-before-event range to a refund
// percentage and processing fees
type RefundPolicy struct {
	ID                      uuid.UUID  `json:"id" db:"id" toml:"-"`
	Name                    string     `json:"name" db:"name" toml:"name"`
	RefundType              RefundType `json:"refund_type" db:"refund_type" toml:"refund_type"`
	MinDaysBeforeEvent      int        `json:"min_days_before_event" db:"min_days_before_event" toml:"min_days"`
	MaxDaysBeforeEvent      *int       `json:"max_days_before_event,omitempty" db:"max_days_before_event" toml:"max_days"`
	RefundPercentage        float64    `json:"refund_percentage" db:"refund_percentage" toml:"refund_percentage"`
	ProcessingFee           float64    `json:"processing_fee" db:"processing_fee" toml:"processing_fee"`
	ProcessingFeePercentage float64    `json:"processing_fee_percentage" db:"processing_fee_percentage" toml:"processing_fee_percentage"`
	Priority                int        `json:"priority" db:"priority" toml:"priority"`
	IsActive                bool       `json:"is_active" db:"is_active" toml:"is_active"`
	EffectiveFrom           time.Time  `json:"effective_from" db:"effective_from" toml:"effective_from"`
	EffectiveTo             *time.Time `json:"effective_to,omitempty" db:"effective_to" toml:"effective_to"`
	Version                 int64      `json:"version" db:"version" toml:"-"`
	IsDeleted               bool       `json:"is_deleted" db:"is_deleted" toml:"-"`
	CreatedAt               time.Time  `json:"created_at" db:"created_at" toml:"-"`
	UpdatedAt               time.Time  `json:"updated_at" db:"updated_at" toml:"-"`
}

// EffectiveAt reports whether the policy is live at now
func (p *RefundPolicy) EffectiveAt(now time.Time) bool {
	if !p.IsActive || p.IsDeleted {
		return false
	}
	if now.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || now.Before(*p.EffectiveTo)
}

// CoversDays reports whether days falls in the inclusive range
func (p *RefundPolicy) CoversDays(days int) bool {
	if days < p.MinDaysBeforeEvent {
		return false
	}
	return p.MaxDaysBeforeEvent == nil || days <= *p.MaxDaysBeforeEvent
}

// RangeWidth is max-min, with an open upper bound counted as infinite
func (p *RefundPolicy) RangeWidth() int {
	if p.MaxDaysBeforeEvent == nil {
		return math.MaxInt
	}
	return *p.MaxDaysBeforeEvent - p.MinDaysBeforeEvent
}

// Validate checks the policy row for obviously broken data
func (p *RefundPolicy) Validate() error {
	switch {
	case !p.RefundType.IsValid():
		return errInvalidPolicy("unknown refund type " + string(p.RefundType))
	case p.MinDaysBeforeEvent < 0:
		return errInvalidPolicy("min_days must be >= 0")
	case p.MaxDaysBeforeEvent != nil && *p.MaxDaysBeforeEvent < p.MinDaysBeforeEvent:
		return errInvalidPolicy("max_days must be >= min_days")
	case p.RefundPercentage < 0 || p.RefundPercentage > 100:
		return errInvalidPolicy("refund_percentage must be within 0..100")
	case p.ProcessingFee < 0 || p.ProcessingFeePercentage < 0 || p.ProcessingFeePercentage > 100:
		return errInvalidPolicy("processing fees must be non-negative")
	case p.EffectiveTo != nil && !p.EffectiveTo.After(p.EffectiveFrom):
		return errInvalidPolicy("effective_to must be after effective_from")
	}
	return nil
}

type policyError string

func (e policyError) Error() string { return "invalid refund policy: " + string(e) }

func errInvalidPolicy(msg string) error { return policyError(msg) }

// RefundBreakdown is the resolver output
type RefundBreakdown struct {
	PolicyID         uuid.UUID  `json:"policy_id"`
	PolicyName       string     `json:"policy_name"`
	RefundType       RefundType `json:"refund_type"`
	DaysBeforeTour   int        `json:"days_before_tour"`
	RefundPercentage float64    `json:"refund_percentage"`
	OriginalAmount   float64    `json:"original_amount"`
	GrossRefund      float64    `json:"gross_refund"`
	ProcessingFee    float64    `json:"processing_fee"`
	FinalAmount      float64    `json:"final_amount"`
}

// ============================================================================
// TOUR BOOKING REFUND (tour_booking_refunds table)
// ============================================================================

// RefundStatus is the administrative status of a refund request
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundApproved  RefundStatus = "approved"
	RefundRejected  RefundStatus = "rejected"
	RefundCompleted RefundStatus = "completed"
	RefundCancelled RefundStatus = "cancelled"
)

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundPending:   {RefundApproved, RefundRejected, RefundCancelled},
	RefundApproved:  {RefundCompleted, RefundCancelled},
	RefundRejected:  nil,
	RefundCompleted: nil,
	RefundCancelled: nil,
}

// CanTransitionTo reports whether next is a legal successor of s
func (s RefundStatus) CanTransitionTo(next RefundStatus) bool {
	for _, candidate := range refundTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// TourBookingRefund records one refund request per booking
type TourBookingRefund struct {
	ID                uuid.UUID    `json:"id" db:"id"`
	TourBookingID     uuid.UUID    `json:"tour_booking_id" db:"tour_booking_id"`
	RefundPolicyID    *uuid.UUID   `json:"refund_policy_id,omitempty" db:"refund_policy_id"`
	RefundType        RefundType   `json:"refund_type" db:"refund_type"`
	Status            RefundStatus `json:"status" db:"status"`
	OriginalAmount    float64      `json:"original_amount" db:"original_amount"`
	RequestedAmount   float64      `json:"requested_amount" db:"requested_amount"`
	ApprovedAmount    *float64     `json:"approved_amount,omitempty" db:"approved_amount"`
	ProcessingFee     float64      `json:"processing_fee" db:"processing_fee"`
	DaysBeforeTour    int          `json:"days_before_tour" db:"days_before_tour"`
	RefundPercentage  float64      `json:"refund_percentage" db:"refund_percentage"`
	CustomerNote      *string      `json:"customer_note,omitempty" db:"customer_note"`
	AdminNote         *string      `json:"admin_note,omitempty" db:"admin_note"`
	BankName          *string      `json:"bank_name,omitempty" db:"bank_name"`
	BankAccountNumber *string      `json:"bank_account_number,omitempty" db:"bank_account_number"`
	BankAccountHolder *string      `json:"bank_account_holder,omitempty" db:"bank_account_holder"`
	TransferReference *string      `json:"transfer_reference,omitempty" db:"transfer_reference"`
	ProcessedAt       *time.Time   `json:"processed_at,omitempty" db:"processed_at"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	Version           int64        `json:"version" db:"version"`
	IsDeleted         bool         `json:"is_deleted" db:"is_deleted"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at" db:"updated_at"`
}

// NewRefundFromBreakdown builds a Pending refund for a booking
func NewRefundFromBreakdown(bookingID uuid.UUID, b *RefundBreakdown, note *string) *TourBookingRefund {
	policyID := b.PolicyID
	return &TourBookingRefund{
		TourBookingID:    bookingID,
		RefundPolicyID:   &policyID,
		RefundType:       b.RefundType,
		Status:           RefundPending,
		OriginalAmount:   b.OriginalAmount,
		RequestedAmount:  b.FinalAmount,
		ProcessingFee:    b.ProcessingFee,
		DaysBeforeTour:   b.DaysBeforeTour,
		RefundPercentage: b.RefundPercentage,
		CustomerNote:     note,
	}
}

// RefundUpdate is one conditional refund status change
type RefundUpdate struct {
	RefundID          uuid.UUID
	FromStatus        RefundStatus
	ToStatus          RefundStatus
	ExpectedVersion   int64
	ApprovedAmount    *float64
	AdminNote         *string
	TransferReference *string
	At                time.Time
}

// ApproveRefundRequest is the admin approval payload
type ApproveRefundRequest struct {
	ApprovedAmount *float64 `json:"approved_amount,omitempty" binding:"omitempty,min=0"`
	AdminNote      string   `json:"admin_note"`
}

// CompleteRefundRequest is the admin payout confirmation payload
type CompleteRefundRequest struct {
	TransferReference string `json:"transfer_reference" binding:"required"`
	AdminNote         string `json:"admin_note"`
}
