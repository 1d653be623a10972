package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// BOOKING STATUS (matches DB ENUM: tour_booking_status)
// ============================================================================

// BookingStatus represents the status of a tour booking
type BookingStatus string

const (
	BookingPending             BookingStatus = "pending"               // Seats held, waiting for payment
	BookingConfirmed           BookingStatus = "confirmed"             // Paid
	BookingCancelledByCustomer BookingStatus = "cancelled_by_customer" // Customer cancelled
	BookingCancelledByCompany  BookingStatus = "cancelled_by_company"  // Company or system cancelled
	BookingCompleted           BookingStatus = "completed"             // Tour took place
	BookingNoShow              BookingStatus = "no_show"               // Paid but never showed up
	BookingRefunded            BookingStatus = "refunded"              // Refund paid out
)

// bookingTransitions is the full transition table. A status missing from the
// map has no outgoing transitions.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:             {BookingConfirmed, BookingCancelledByCustomer, BookingCancelledByCompany},
	BookingConfirmed:           {BookingCompleted, BookingNoShow, BookingCancelledByCustomer, BookingCancelledByCompany},
	BookingCancelledByCustomer: {BookingRefunded},
	BookingCancelledByCompany:  {BookingRefunded},
	BookingNoShow:              {BookingRefunded},
	BookingCompleted:           nil,
	BookingRefunded:            nil,
}

// IsValid reports whether the status is one of the enumerated values
func (s BookingStatus) IsValid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is a legal successor of s
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, candidate := range bookingTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsActive reports whether the booking still holds seats
func (s BookingStatus) IsActive() bool {
	return s == BookingPending || s == BookingConfirmed
}

// IsCancelled reports whether the booking was cancelled by anyone
func (s BookingStatus) IsCancelled() bool {
	return s == BookingCancelledByCustomer || s == BookingCancelledByCompany
}

// CancellationInitiator says who asked for a cancellation
type CancellationInitiator string

const (
	InitiatorCustomer CancellationInitiator = "customer"
	InitiatorCompany  CancellationInitiator = "company"
	InitiatorSystem   CancellationInitiator = "system" // hold expiry, failed payment, slot cancellation
)

// CancelledStatus maps the initiator to the resulting booking status
func (i CancellationInitiator) CancelledStatus() BookingStatus {
	if i == InitiatorCustomer {
		return BookingCancelledByCustomer
	}
	return BookingCancelledByCompany
}

// RefundType maps the initiator to the refund policy family
func (i CancellationInitiator) RefundType() RefundType {
	switch i {
	case InitiatorCustomer:
		return RefundTypeUserCancellation
	case InitiatorSystem:
		return RefundTypeAutoCancellation
	default:
		return RefundTypeCompanyCancellation
	}
}

// BookingChannel records where a reservation came from
type BookingChannel string

const (
	ChannelApp     BookingChannel = "app"
	ChannelWeb     BookingChannel = "web"
	ChannelUnknown BookingChannel = "unknown"
)

// ============================================================================
// TOUR BOOKING (tour_bookings table)
// ============================================================================

// TourBooking is a customer's reservation on a tour operation (and optionally a slot)
type TourBooking struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	BookingCode     string         `json:"booking_code" db:"booking_code"`
	TourOperationID uuid.UUID      `json:"tour_operation_id" db:"tour_operation_id"`
	TourSlotID      *uuid.UUID     `json:"tour_slot_id,omitempty" db:"tour_slot_id"`
	UserID          uuid.UUID      `json:"user_id" db:"user_id"`
	GuestCount      int            `json:"guest_count" db:"guest_count"`
	OriginalPrice   float64        `json:"original_price" db:"original_price"`
	DiscountPercent float64        `json:"discount_percent" db:"discount_percent"`
	TotalPrice      float64        `json:"total_price" db:"total_price"`
	Status          BookingStatus  `json:"status" db:"status"`
	Channel         BookingChannel `json:"channel" db:"channel"`
	TourDate        time.Time      `json:"tour_date" db:"tour_date"`

	// Set only while Pending and unpaid
	ReservationExpiry *time.Time `json:"reservation_expiry,omitempty" db:"reservation_expiry"`

	IsCheckedIn bool       `json:"is_checked_in" db:"is_checked_in"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty" db:"checked_in_at"`

	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancellationReason *string    `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	Version   int64     `json:"version" db:"version"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	IsDeleted bool      `json:"is_deleted" db:"is_deleted"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HoldExpired reports whether the unpaid hold has passed its deadline at now
func (b *TourBooking) HoldExpired(now time.Time) bool {
	return b.Status == BookingPending && b.ReservationExpiry != nil && !now.Before(*b.ReservationExpiry)
}

// CapacityTargets returns the rows this booking holds seats on, operation first
func (b *TourBooking) CapacityTargets() []CapacityTarget {
	targets := []CapacityTarget{OperationTarget(b.TourOperationID)}
	if b.TourSlotID != nil {
		targets = append(targets, SlotTarget(*b.TourSlotID))
	}
	return targets
}

// BookingTransition is one conditional status change, applied only if the
// stored row still has FromStatus and ExpectedVersion
type BookingTransition struct {
	BookingID          uuid.UUID
	FromStatus         BookingStatus
	ToStatus           BookingStatus
	ExpectedVersion    int64
	At                 time.Time
	ClearExpiry        bool
	CancellationReason *string
}

// PriceFor computes original and total price in cents precision
func PriceFor(unitPrice float64, guests int, discountPercent float64) (original, total float64) {
	original = RoundMoney(unitPrice * float64(guests))
	total = RoundMoney(original * (1 - discountPercent/100))
	if total < 0 {
		total = 0
	}
	return original, total
}

// RoundMoney rounds to two decimals
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// ============================================================================
// REQUEST/RESPONSE STRUCTS
// ============================================================================

// CreateReservationRequest is the request to hold seats for a tour
type CreateReservationRequest struct {
	TourOperationID string  `json:"tour_operation_id" binding:"required,uuid"`
	TourSlotID      *string `json:"tour_slot_id,omitempty" binding:"omitempty,uuid"`
	GuestCount      int     `json:"guest_count" binding:"required,min=1"`
}

// CancelBookingRequest carries the cancellation reason
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// ReservationResponse is returned after a hold is created
type ReservationResponse struct {
	BookingID         uuid.UUID     `json:"booking_id"`
	BookingCode       string        `json:"booking_code"`
	Status            BookingStatus `json:"status"`
	GuestCount        int           `json:"guest_count"`
	TotalPrice        float64       `json:"total_price"`
	ReservationExpiry *time.Time    `json:"reservation_expiry,omitempty"`
	TTLSeconds        int           `json:"ttl_seconds"`
}

// CancellationResult is the outcome of a cancellation. The refund is resolved
// after the cancellation commits, so RefundError may be set while the booking
// is cancelled.
type CancellationResult struct {
	Booking     *TourBooking       `json:"booking"`
	Refund      *TourBookingRefund `json:"refund,omitempty"`
	RefundError string             `json:"refund_error,omitempty"`
}
