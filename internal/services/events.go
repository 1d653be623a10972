package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/models"
)

// eventEmitter writes domain events and swallows failures after logging them.
// A lost notification never undoes a committed state change.
type eventEmitter struct {
	publisher EventPublisher
	clock     Clock
	logger    *logrus.Logger
}

func (e eventEmitter) emit(ctx context.Context, eventType models.DomainEventType, aggregateType string, aggregateID uuid.UUID, payload interface{}) {
	if e.publisher == nil {
		return
	}
	event, err := models.NewDomainEvent(eventType, aggregateType, aggregateID, payload, e.clock.Now())
	if err != nil {
		e.logger.WithError(err).WithField("event_type", eventType).Error("Failed to encode domain event")
		return
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":   eventType,
			"aggregate_id": aggregateID,
		}).Warn("Failed to publish domain event")
	}
}

func (e eventEmitter) bookingEvent(ctx context.Context, eventType models.DomainEventType, b *models.TourBooking) {
	e.emit(ctx, eventType, "tour_booking", b.ID, map[string]interface{}{
		"booking_id":   b.ID,
		"booking_code": b.BookingCode,
		"user_id":      b.UserID,
		"status":       b.Status,
		"guest_count":  b.GuestCount,
		"tour_date":    b.TourDate,
	})
}

func (e eventEmitter) invitationEvent(ctx context.Context, eventType models.DomainEventType, inv *models.TourGuideInvitation) {
	e.emit(ctx, eventType, "tour_guide_invitation", inv.ID, map[string]interface{}{
		"invitation_id":       inv.ID,
		"tour_detail_plan_id": inv.TourDetailPlanID,
		"guide_id":            inv.GuideID,
		"status":              inv.Status,
		"expires_at":          inv.ExpiresAt,
	})
}

func (e eventEmitter) refundEvent(ctx context.Context, eventType models.DomainEventType, r *models.TourBookingRefund) {
	payload := map[string]interface{}{
		"refund_id":        r.ID,
		"tour_booking_id":  r.TourBookingID,
		"refund_type":      r.RefundType,
		"status":           r.Status,
		"requested_amount": r.RequestedAmount,
	}
	if r.ApprovedAmount != nil {
		payload["approved_amount"] = *r.ApprovedAmount
	}
	e.emit(ctx, eventType, "tour_booking_refund", r.ID, payload)
}
