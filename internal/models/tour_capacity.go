package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// CAPACITY STATUS (matches DB ENUM: tour_capacity_status)
// ============================================================================

// CapacityStatus is the lifecycle status of a capacity-bearing entity
// (tour slot or tour operation)
type CapacityStatus string

const (
	CapacityAvailable   CapacityStatus = "available"
	CapacityFullyBooked CapacityStatus = "fully_booked"
	CapacityCancelled   CapacityStatus = "cancelled"
	CapacityCompleted   CapacityStatus = "completed"
	CapacityInProgress  CapacityStatus = "in_progress"
)

// IsValid reports whether the status is one of the enumerated values
func (s CapacityStatus) IsValid() bool {
	switch s {
	case CapacityAvailable, CapacityFullyBooked, CapacityCancelled, CapacityCompleted, CapacityInProgress:
		return true
	}
	return false
}

// IsClosed reports whether the entity can never take or return seats again
func (s CapacityStatus) IsClosed() bool {
	return s == CapacityCancelled || s == CapacityCompleted
}

// CapacityKind tells which table a capacity target lives in
type CapacityKind string

const (
	CapacityKindSlot      CapacityKind = "slot"
	CapacityKindOperation CapacityKind = "operation"
)

// CapacityTarget identifies one capacity-bearing row
type CapacityTarget struct {
	Kind CapacityKind
	ID   uuid.UUID
}

// SlotTarget builds a target for a tour slot
func SlotTarget(id uuid.UUID) CapacityTarget {
	return CapacityTarget{Kind: CapacityKindSlot, ID: id}
}

// OperationTarget builds a target for a tour operation
func OperationTarget(id uuid.UUID) CapacityTarget {
	return CapacityTarget{Kind: CapacityKindOperation, ID: id}
}

func (t CapacityTarget) String() string {
	return string(t.Kind) + ":" + t.ID.String()
}

// Capacity is the allocation view shared by slots and operations.
// Every write against it is conditioned on Version.
type Capacity struct {
	Target          CapacityTarget
	MaxGuests       int
	CurrentBookings int
	Status          CapacityStatus
	Version         int64
	ScheduledAt     time.Time
	IsActive        bool
	IsDeleted       bool
}

// Remaining returns the number of free seats
func (c *Capacity) Remaining() int {
	if c.CurrentBookings >= c.MaxGuests {
		return 0
	}
	return c.MaxGuests - c.CurrentBookings
}

// IsRetired reports whether the row has been soft-retired
func (c *Capacity) IsRetired() bool {
	return c.IsDeleted || !c.IsActive
}

// StatusAfter returns the status the entity should carry once its counter is
// set to bookings. Closed and in-progress entities keep their status.
func (c *Capacity) StatusAfter(bookings int) CapacityStatus {
	if c.Status.IsClosed() || c.Status == CapacityInProgress {
		return c.Status
	}
	if bookings >= c.MaxGuests {
		return CapacityFullyBooked
	}
	return CapacityAvailable
}

// ============================================================================
// TOUR SLOT (tour_slots table)
// ============================================================================

// TourSlot is one dated, bookable occurrence of a tour template
type TourSlot struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	TourTemplateID  uuid.UUID      `json:"tour_template_id" db:"tour_template_id"`
	TourOperationID uuid.UUID      `json:"tour_operation_id" db:"tour_operation_id"`
	TourDate        time.Time      `json:"tour_date" db:"tour_date"`
	MaxGuests       int            `json:"max_guests" db:"max_guests"`
	CurrentBookings int            `json:"current_bookings" db:"current_bookings"`
	Status          CapacityStatus `json:"status" db:"status"`
	Version         int64          `json:"version" db:"version"`
	IsActive        bool           `json:"is_active" db:"is_active"`
	IsDeleted       bool           `json:"is_deleted" db:"is_deleted"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Capacity returns the allocation view of the slot
func (s *TourSlot) Capacity() *Capacity {
	return &Capacity{
		Target:          SlotTarget(s.ID),
		MaxGuests:       s.MaxGuests,
		CurrentBookings: s.CurrentBookings,
		Status:          s.Status,
		Version:         s.Version,
		ScheduledAt:     s.TourDate,
		IsActive:        s.IsActive,
		IsDeleted:       s.IsDeleted,
	}
}

// ============================================================================
// TOUR OPERATION (tour_operations table)
// ============================================================================

// TourOperation is the guided-service instance bound 1:1 to a tour-detail plan
type TourOperation struct {
	ID               uuid.UUID      `json:"id" db:"id"`
	TourDetailPlanID uuid.UUID      `json:"tour_detail_plan_id" db:"tour_detail_plan_id"`
	GuideID          *uuid.UUID     `json:"guide_id,omitempty" db:"guide_id"`
	Price            float64        `json:"price" db:"price"`
	DiscountPercent  float64        `json:"discount_percent" db:"discount_percent"`
	MaxGuests        int            `json:"max_guests" db:"max_guests"`
	CurrentBookings  int            `json:"current_bookings" db:"current_bookings"`
	Status           CapacityStatus `json:"status" db:"status"`
	ScheduledAt      time.Time      `json:"scheduled_at" db:"scheduled_at"`
	Version          int64          `json:"version" db:"version"`
	IsActive         bool           `json:"is_active" db:"is_active"`
	IsDeleted        bool           `json:"is_deleted" db:"is_deleted"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// Capacity returns the allocation view of the operation
func (o *TourOperation) Capacity() *Capacity {
	return &Capacity{
		Target:          OperationTarget(o.ID),
		MaxGuests:       o.MaxGuests,
		CurrentBookings: o.CurrentBookings,
		Status:          o.Status,
		Version:         o.Version,
		ScheduledAt:     o.ScheduledAt,
		IsActive:        o.IsActive,
		IsDeleted:       o.IsDeleted,
	}
}

// HasGuide reports whether a guide is already assigned
func (o *TourOperation) HasGuide() bool {
	return o.GuideID != nil
}

// ============================================================================
// TOUR DETAIL PLAN (read-only here; owned by the content side)
// ============================================================================

// TourDetailPlan is the itinerary an operation executes and guides are invited to
type TourDetailPlan struct {
	ID              uuid.UUID `json:"id" db:"id"`
	TourOperationID uuid.UUID `json:"tour_operation_id" db:"tour_operation_id"`
	Title           string    `json:"title" db:"title"`
	RequiredSkills  SkillSet  `json:"required_skills" db:"required_skills"`
	StartsAt        time.Time `json:"starts_at" db:"starts_at"`
}
