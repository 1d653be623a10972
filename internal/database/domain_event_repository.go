package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/tourhub/tour-booking-core/internal/models"
)

// DomainEventRepository writes domain events to the outbox table read by the
// notification service
type DomainEventRepository struct {
	db *sqlx.DB
}

// NewDomainEventRepository creates a new DomainEventRepository
func NewDomainEventRepository(db *sqlx.DB) *DomainEventRepository {
	return &DomainEventRepository{db: db}
}

// Publish appends the event to the outbox
func (r *DomainEventRepository) Publish(ctx context.Context, e *models.DomainEvent) error {
	query := `
		INSERT INTO domain_events (id, event_type, aggregate_type, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		e.ID, e.EventType, e.AggregateType, e.AggregateID, []byte(e.Payload), e.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.EventType, err)
	}
	return nil
}
