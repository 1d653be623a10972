package services

import "errors"

// Capacity errors
var (
	ErrCapacityExceeded    = errors.New("not enough seats left")
	ErrSlotUnavailable     = errors.New("tour slot is not open for booking")
	ErrConcurrencyConflict = errors.New("concurrent update, retry")
	ErrInvariantViolation  = errors.New("capacity invariant violated")
	ErrInvalidGuestCount   = errors.New("guest count must be positive")
)

// Booking lifecycle errors
var (
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrReservationExpired = errors.New("reservation hold has expired")
	ErrTourNotStarted     = errors.New("tour has not started yet")
	ErrNotFound           = errors.New("not found")
)

// Refund errors
var (
	ErrNoApplicablePolicy  = errors.New("no applicable refund policy")
	ErrInvalidRefundAmount = errors.New("refund amount out of range")
)

// Guide invitation errors
var (
	ErrInvitationExpired   = errors.New("invitation has expired")
	ErrDuplicateInvitation = errors.New("guide already invited to this plan")
	ErrPlanAlreadyStaffed  = errors.New("tour already has a guide")
)
