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
	defaultHoldWindow        = 15 * time.Minute
	defaultBookingCodePrefix = "TB"

	paymentFailedReason = "payment failed or expired"
)

// LifecycleConfig tunes the booking lifecycle
type LifecycleConfig struct {
	HoldWindow        time.Duration // how long an unpaid reservation keeps its seats
	BookingCodePrefix string
}

// ReservationInput is a validated reservation request
type ReservationInput struct {
	OperationID uuid.UUID
	SlotID      *uuid.UUID
	UserID      uuid.UUID
	GuestCount  int
	Channel     models.BookingChannel
}

// BookingLifecycleService drives tour bookings through their status graph
//
// Status flow:
//
//	pending -> confirmed | cancelled_by_customer | cancelled_by_company
//	confirmed -> completed | no_show | cancelled_by_customer | cancelled_by_company
//	cancelled_* | no_show -> refunded (via RefundService)
type BookingLifecycleService struct {
	bookings  BookingStore
	capacity  CapacityStore
	refunds   RefundStore
	allocator *CapacityAllocator
	resolver  *RefundPolicyResolver
	uow       UnitOfWork
	clock     Clock
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	events    eventEmitter
	cfg       LifecycleConfig
}

// NewBookingLifecycleService creates a new BookingLifecycleService
func NewBookingLifecycleService(
	bookings BookingStore,
	capacity CapacityStore,
	refunds RefundStore,
	allocator *CapacityAllocator,
	resolver *RefundPolicyResolver,
	uow UnitOfWork,
	publisher EventPublisher,
	clock Clock,
	m *metrics.Metrics,
	logger *logrus.Logger,
	cfg LifecycleConfig,
) *BookingLifecycleService {
	if cfg.HoldWindow <= 0 {
		cfg.HoldWindow = defaultHoldWindow
	}
	if cfg.BookingCodePrefix == "" {
		cfg.BookingCodePrefix = defaultBookingCodePrefix
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &BookingLifecycleService{
		bookings:  bookings,
		capacity:  capacity,
		refunds:   refunds,
		allocator: allocator,
		resolver:  resolver,
		uow:       uow,
		clock:     clock,
		metrics:   m,
		logger:    logger,
		events:    eventEmitter{publisher: publisher, clock: clock, logger: logger},
		cfg:       cfg,
	}
}

// HoldWindow returns the configured reservation hold
func (s *BookingLifecycleService) HoldWindow() time.Duration {
	return s.cfg.HoldWindow
}

// ============================================================================
// RESERVATION
// ============================================================================

// CreateReservation holds seats and creates a pending booking whose hold
// expires after the configured window. Allocator errors are returned unchanged.
func (s *BookingLifecycleService) CreateReservation(ctx context.Context, in ReservationInput) (*models.TourBooking, error) {
	if in.GuestCount <= 0 {
		return nil, ErrInvalidGuestCount
	}

	op, err := s.capacity.GetOperation(ctx, in.OperationID)
	if err != nil {
		return nil, err
	}
	tourDate := op.ScheduledAt

	if in.SlotID != nil {
		slot, err := s.capacity.GetSlot(ctx, *in.SlotID)
		if err != nil {
			return nil, err
		}
		if slot.TourOperationID != op.ID {
			return nil, fmt.Errorf("%w: slot %s does not belong to operation %s", ErrSlotUnavailable, slot.ID, op.ID)
		}
		tourDate = slot.TourDate
	}

	now := s.clock.Now()
	code, err := s.bookings.GenerateBookingCode(ctx, s.cfg.BookingCodePrefix, now)
	if err != nil {
		return nil, err
	}

	expiry := now.Add(s.cfg.HoldWindow)
	original, total := models.PriceFor(op.Price, in.GuestCount, op.DiscountPercent)
	channel := in.Channel
	if channel == "" {
		channel = models.ChannelUnknown
	}

	booking := &models.TourBooking{
		ID:                uuid.New(),
		BookingCode:       code,
		TourOperationID:   op.ID,
		TourSlotID:        in.SlotID,
		UserID:            in.UserID,
		GuestCount:        in.GuestCount,
		OriginalPrice:     original,
		DiscountPercent:   op.DiscountPercent,
		TotalPrice:        total,
		Status:            models.BookingPending,
		Channel:           channel,
		TourDate:          tourDate,
		ReservationExpiry: &expiry,
		Version:           1,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.uow.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.allocator.ReserveForBooking(ctx, op.ID, in.SlotID, in.GuestCount); err != nil {
			return err
		}
		return s.bookings.CreateBooking(ctx, booking)
	})
	if err != nil {
		s.metrics.ObserveReservation(reservationOutcome(err))
		return nil, err
	}

	s.metrics.ObserveReservation(metrics.OutcomeReserved)
	s.logger.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"booking_code": booking.BookingCode,
		"operation_id": op.ID,
		"guest_count":  booking.GuestCount,
		"expires_at":   expiry,
	}).Info("Reservation created")
	s.events.bookingEvent(ctx, models.EventBookingReserved, booking)

	return booking, nil
}

func reservationOutcome(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return metrics.OutcomeSoldOut
	case errors.Is(err, ErrSlotUnavailable):
		return metrics.OutcomeUnavailable
	case errors.Is(err, ErrConcurrencyConflict):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}

// ============================================================================
// PAYMENT
// ============================================================================

// ConfirmPayment moves a pending booking to confirmed. The hold must still be
// live; an expired hold fails with ErrReservationExpired even before the sweep
// has released it.
func (s *BookingLifecycleService) ConfirmPayment(ctx context.Context, bookingID uuid.UUID) (*models.TourBooking, error) {
	b, err := s.bookings.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanTransitionTo(models.BookingConfirmed) {
		return nil, fmt.Errorf("%w: cannot confirm booking in status %s", ErrInvalidTransition, b.Status)
	}

	now := s.clock.Now()
	if err := s.allocator.ConfirmHold(b, now); err != nil {
		return nil, err
	}

	if err := s.bookings.TransitionBooking(ctx, &models.BookingTransition{
		BookingID:       b.ID,
		FromStatus:      models.BookingPending,
		ToStatus:        models.BookingConfirmed,
		ExpectedVersion: b.Version,
		At:              now,
		ClearExpiry:     true,
	}); err != nil {
		return nil, err
	}

	b.Status = models.BookingConfirmed
	b.ConfirmedAt = &now
	b.Version++

	s.logger.WithFields(logrus.Fields{
		"booking_id":   b.ID,
		"booking_code": b.BookingCode,
	}).Info("Booking confirmed")
	s.events.bookingEvent(ctx, models.EventBookingConfirmed, b)

	return b, nil
}

// HandlePaymentResult maps a payment gateway outcome onto the lifecycle.
// A repeated success for an already confirmed booking is a no-op.
func (s *BookingLifecycleService) HandlePaymentResult(ctx context.Context, bookingID uuid.UUID, paid bool) (*models.TourBooking, error) {
	if paid {
		b, err := s.ConfirmPayment(ctx, bookingID)
		if errors.Is(err, ErrInvalidTransition) {
			current, getErr := s.bookings.GetBookingByID(ctx, bookingID)
			if getErr == nil && current.Status == models.BookingConfirmed {
				return current, nil
			}
		}
		return b, err
	}

	b, err := s.bookings.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingPending {
		return nil, fmt.Errorf("%w: payment failure for booking in status %s", ErrInvalidTransition, b.Status)
	}
	result, err := s.Cancel(ctx, bookingID, models.InitiatorSystem, paymentFailedReason)
	if err != nil {
		return nil, err
	}
	return result.Booking, nil
}

// ============================================================================
// CANCELLATION
// ============================================================================

// Cancel cancels a pending or confirmed booking and releases its seats. When
// the booking was paid, a pending refund is resolved after the cancellation
// has committed; a refund failure is reported in the result and never undoes
// the cancellation.
func (s *BookingLifecycleService) Cancel(ctx context.Context, bookingID uuid.UUID, initiator models.CancellationInitiator, reason string) (*models.CancellationResult, error) {
	b, err := s.bookings.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	to := initiator.CancelledStatus()
	if !b.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: cannot cancel booking in status %s", ErrInvalidTransition, b.Status)
	}

	from := b.Status
	now := s.clock.Now()
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	err = s.uow.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.bookings.TransitionBooking(ctx, &models.BookingTransition{
			BookingID:          b.ID,
			FromStatus:         from,
			ToStatus:           to,
			ExpectedVersion:    b.Version,
			At:                 now,
			ClearExpiry:        true,
			CancellationReason: reasonPtr,
		}); err != nil {
			return err
		}
		// A clamped release is already alarmed by the allocator; the
		// cancellation itself still stands.
		if err := s.allocator.ReleaseForBooking(ctx, b); err != nil && !errors.Is(err, ErrInvariantViolation) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.Status = to
	b.ReservationExpiry = nil
	b.CancelledAt = &now
	b.CancellationReason = reasonPtr
	b.Version++

	s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"from":       from,
		"to":         to,
		"initiator":  initiator,
	}).Info("Booking cancelled")
	s.events.bookingEvent(ctx, models.EventBookingCancelled, b)

	result := &models.CancellationResult{Booking: b}
	if from != models.BookingConfirmed {
		return result, nil
	}

	refund, err := s.requestRefund(ctx, b, initiator.RefundType(), reasonPtr, now)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id":  b.ID,
			"refund_type": initiator.RefundType(),
		}).Warn("Booking cancelled but refund could not be created")
		result.RefundError = err.Error()
		return result, nil
	}
	result.Refund = refund
	return result, nil
}

func (s *BookingLifecycleService) requestRefund(ctx context.Context, b *models.TourBooking, refundType models.RefundType, note *string, now time.Time) (*models.TourBookingRefund, error) {
	breakdown, err := s.resolver.Resolve(ctx, refundType, b.TourDate, b.TotalPrice, now)
	if err != nil {
		return nil, err
	}

	refund := models.NewRefundFromBreakdown(b.ID, breakdown, note)
	refund.ID = uuid.New()
	refund.Version = 1
	refund.CreatedAt = now
	refund.UpdatedAt = now
	if err := s.refunds.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":       b.ID,
		"refund_id":        refund.ID,
		"days_before_tour": breakdown.DaysBeforeTour,
		"final_amount":     breakdown.FinalAmount,
	}).Info("Refund requested")
	s.events.refundEvent(ctx, models.EventRefundRequested, refund)
	return refund, nil
}

// CancelSlot closes a slot and cancels every live booking on it. Paid bookings
// get auto-cancellation refunds. Per-booking failures are logged and counted.
func (s *BookingLifecycleService) CancelSlot(ctx context.Context, slotID uuid.UUID, reason string) (*SlotCancellationResult, error) {
	if _, err := s.allocator.Close(ctx, models.SlotTarget(slotID), models.CapacityCancelled); err != nil {
		return nil, err
	}

	bookings, err := s.bookings.ListActiveBookingsBySlot(ctx, slotID)
	if err != nil {
		return nil, err
	}

	result := &SlotCancellationResult{SlotID: slotID}
	for _, b := range bookings {
		res, err := s.Cancel(ctx, b.ID, models.InitiatorSystem, reason)
		if err != nil {
			result.Failed++
			s.logger.WithError(err).WithFields(logrus.Fields{
				"slot_id":    slotID,
				"booking_id": b.ID,
			}).Error("Failed to cancel booking of cancelled slot")
			continue
		}
		result.Cancelled = append(result.Cancelled, res)
	}

	s.logger.WithFields(logrus.Fields{
		"slot_id":   slotID,
		"cancelled": len(result.Cancelled),
		"failed":    result.Failed,
	}).Info("Slot cancelled")
	return result, nil
}

// SlotCancellationResult summarizes a slot cancellation
type SlotCancellationResult struct {
	SlotID    uuid.UUID                    `json:"slot_id"`
	Cancelled []*models.CancellationResult `json:"cancelled"`
	Failed    int                          `json:"failed"`
}

// ============================================================================
// TOUR DAY
// ============================================================================

// MarkNoShow records that a paid guest never showed up. Seats stay consumed
// and no refund is created.
func (s *BookingLifecycleService) MarkNoShow(ctx context.Context, bookingID uuid.UUID) (*models.TourBooking, error) {
	return s.finishTour(ctx, bookingID, models.BookingNoShow, models.EventBookingNoShow)
}

// MarkCompleted records that the tour took place for a paid booking
func (s *BookingLifecycleService) MarkCompleted(ctx context.Context, bookingID uuid.UUID) (*models.TourBooking, error) {
	return s.finishTour(ctx, bookingID, models.BookingCompleted, models.EventBookingCompleted)
}

func (s *BookingLifecycleService) finishTour(ctx context.Context, bookingID uuid.UUID, to models.BookingStatus, event models.DomainEventType) (*models.TourBooking, error) {
	b, err := s.bookings.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingConfirmed || !b.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: cannot mark booking in status %s as %s", ErrInvalidTransition, b.Status, to)
	}

	now := s.clock.Now()
	if now.Before(b.TourDate) {
		return nil, fmt.Errorf("%w: tour starts at %s", ErrTourNotStarted, b.TourDate.Format(time.RFC3339))
	}

	if err := s.bookings.TransitionBooking(ctx, &models.BookingTransition{
		BookingID:       b.ID,
		FromStatus:      models.BookingConfirmed,
		ToStatus:        to,
		ExpectedVersion: b.Version,
		At:              now,
	}); err != nil {
		return nil, err
	}

	b.Status = to
	if to == models.BookingCompleted {
		b.CompletedAt = &now
	}
	b.Version++

	s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"status":     to,
	}).Info("Booking closed after tour")
	s.events.bookingEvent(ctx, event, b)
	return b, nil
}

// CheckIn flags a confirmed booking as arrived. Checking in twice is a no-op.
func (s *BookingLifecycleService) CheckIn(ctx context.Context, bookingID uuid.UUID) (*models.TourBooking, error) {
	b, err := s.bookings.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingConfirmed {
		return nil, fmt.Errorf("%w: cannot check in booking in status %s", ErrInvalidTransition, b.Status)
	}
	if b.IsCheckedIn {
		return b, nil
	}

	now := s.clock.Now()
	if err := s.bookings.MarkCheckedIn(ctx, b.ID, b.Version, now); err != nil {
		return nil, err
	}
	b.IsCheckedIn = true
	b.CheckedInAt = &now
	b.Version++
	return b, nil
}

// GetBooking returns a booking by id
func (s *BookingLifecycleService) GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.TourBooking, error) {
	return s.bookings.GetBookingByID(ctx, bookingID)
}
