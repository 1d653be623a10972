package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DomainEventType names an event written to the outbox
type DomainEventType string

const (
	EventBookingReserved    DomainEventType = "booking.reserved"
	EventBookingConfirmed   DomainEventType = "booking.confirmed"
	EventBookingCancelled   DomainEventType = "booking.cancelled"
	EventBookingExpired     DomainEventType = "booking.expired"
	EventBookingNoShow      DomainEventType = "booking.no_show"
	EventBookingCompleted   DomainEventType = "booking.completed"
	EventRefundRequested    DomainEventType = "refund.requested"
	EventRefundApproved     DomainEventType = "refund.approved"
	EventRefundRejected     DomainEventType = "refund.rejected"
	EventRefundCancelled    DomainEventType = "refund.cancelled"
	EventRefundCompleted    DomainEventType = "refund.completed"
	EventInvitationSent     DomainEventType = "invitation.sent"
	EventInvitationAccepted DomainEventType = "invitation.accepted"
	EventInvitationRejected DomainEventType = "invitation.rejected"
	EventInvitationExpired  DomainEventType = "invitation.expired"
)

// DomainEvent is one row of the domain_events outbox consumed by the notifier
type DomainEvent struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	EventType     DomainEventType `json:"event_type" db:"event_type"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id" db:"aggregate_id"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	OccurredAt    time.Time       `json:"occurred_at" db:"occurred_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty" db:"published_at"`
}

// NewDomainEvent marshals payload into a new event
func NewDomainEvent(eventType DomainEventType, aggregateType string, aggregateID uuid.UUID, payload interface{}, at time.Time) (*DomainEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &DomainEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       raw,
		OccurredAt:    at,
	}, nil
}
