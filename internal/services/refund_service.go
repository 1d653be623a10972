package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/models"
)

// RefundService handles the manual refund workflow. Money never moves here;
// an administrator records the bank transfer once it has been made.
type RefundService struct {
	refunds  RefundStore
	bookings BookingStore
	uow      UnitOfWork
	clock    Clock
	logger   *logrus.Logger
	events   eventEmitter
}

// NewRefundService creates a new RefundService
func NewRefundService(refunds RefundStore, bookings BookingStore, uow UnitOfWork, publisher EventPublisher, clock Clock, logger *logrus.Logger) *RefundService {
	return &RefundService{
		refunds:  refunds,
		bookings: bookings,
		uow:      uow,
		clock:    clock,
		logger:   logger,
		events:   eventEmitter{publisher: publisher, clock: clock, logger: logger},
	}
}

// GetRefund returns a refund by id
func (s *RefundService) GetRefund(ctx context.Context, refundID uuid.UUID) (*models.TourBookingRefund, error) {
	return s.refunds.GetRefundByID(ctx, refundID)
}

// Approve approves a pending refund. approvedAmount defaults to the requested
// amount and may not exceed the original amount.
func (s *RefundService) Approve(ctx context.Context, refundID uuid.UUID, approvedAmount *float64, note string) (*models.TourBookingRefund, error) {
	refund, err := s.refunds.GetRefundByID(ctx, refundID)
	if err != nil {
		return nil, err
	}

	amount := refund.RequestedAmount
	if approvedAmount != nil {
		amount = models.RoundMoney(*approvedAmount)
	}
	if amount < 0 || amount > refund.OriginalAmount {
		return nil, fmt.Errorf("%w: approved amount %.2f outside 0..%.2f", ErrInvalidRefundAmount, amount, refund.OriginalAmount)
	}

	update := s.newUpdate(refund, models.RefundApproved, note)
	update.ApprovedAmount = &amount
	if err := s.apply(ctx, refund, update); err != nil {
		return nil, err
	}
	refund.ApprovedAmount = &amount
	refund.ProcessedAt = &update.At
	s.events.refundEvent(ctx, models.EventRefundApproved, refund)
	return refund, nil
}

// Reject rejects a pending refund
func (s *RefundService) Reject(ctx context.Context, refundID uuid.UUID, note string) (*models.TourBookingRefund, error) {
	refund, err := s.refunds.GetRefundByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	update := s.newUpdate(refund, models.RefundRejected, note)
	if err := s.apply(ctx, refund, update); err != nil {
		return nil, err
	}
	refund.ProcessedAt = &update.At
	s.events.refundEvent(ctx, models.EventRefundRejected, refund)
	return refund, nil
}

// Cancel withdraws a refund that has not been paid out
func (s *RefundService) Cancel(ctx context.Context, refundID uuid.UUID, note string) (*models.TourBookingRefund, error) {
	refund, err := s.refunds.GetRefundByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	update := s.newUpdate(refund, models.RefundCancelled, note)
	if err := s.apply(ctx, refund, update); err != nil {
		return nil, err
	}
	s.events.refundEvent(ctx, models.EventRefundCancelled, refund)
	return refund, nil
}

// Complete records the bank transfer of an approved refund and moves the
// booking to refunded, in one transaction.
func (s *RefundService) Complete(ctx context.Context, refundID uuid.UUID, transferReference, note string) (*models.TourBookingRefund, error) {
	refund, err := s.refunds.GetRefundByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if !refund.Status.CanTransitionTo(models.RefundCompleted) {
		return nil, fmt.Errorf("%w: cannot complete refund in status %s", ErrInvalidTransition, refund.Status)
	}

	booking, err := s.bookings.GetBookingByID(ctx, refund.TourBookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(models.BookingRefunded) {
		return nil, fmt.Errorf("%w: booking in status %s cannot be refunded", ErrInvalidTransition, booking.Status)
	}

	update := s.newUpdate(refund, models.RefundCompleted, note)
	update.TransferReference = &transferReference

	err = s.uow.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.refunds.UpdateRefundStatus(ctx, update); err != nil {
			return err
		}
		return s.bookings.TransitionBooking(ctx, &models.BookingTransition{
			BookingID:       booking.ID,
			FromStatus:      booking.Status,
			ToStatus:        models.BookingRefunded,
			ExpectedVersion: booking.Version,
			At:              update.At,
		})
	})
	if err != nil {
		return nil, err
	}

	refund.Status = models.RefundCompleted
	refund.TransferReference = &transferReference
	refund.CompletedAt = &update.At
	refund.Version++
	if update.AdminNote != nil {
		refund.AdminNote = update.AdminNote
	}

	s.logger.WithFields(logrus.Fields{
		"refund_id":  refund.ID,
		"booking_id": booking.ID,
	}).Info("Refund completed")
	s.events.refundEvent(ctx, models.EventRefundCompleted, refund)
	return refund, nil
}

func (s *RefundService) newUpdate(refund *models.TourBookingRefund, to models.RefundStatus, note string) *models.RefundUpdate {
	u := &models.RefundUpdate{
		RefundID:        refund.ID,
		FromStatus:      refund.Status,
		ToStatus:        to,
		ExpectedVersion: refund.Version,
		At:              s.clock.Now(),
	}
	if note != "" {
		u.AdminNote = &note
	}
	return u
}

func (s *RefundService) apply(ctx context.Context, refund *models.TourBookingRefund, u *models.RefundUpdate) error {
	if !refund.Status.CanTransitionTo(u.ToStatus) {
		return fmt.Errorf("%w: refund %s is %s", ErrInvalidTransition, refund.ID, refund.Status)
	}
	if err := s.refunds.UpdateRefundStatus(ctx, u); err != nil {
		return err
	}

	refund.Status = u.ToStatus
	refund.Version++
	refund.UpdatedAt = u.At
	if u.AdminNote != nil {
		refund.AdminNote = u.AdminNote
	}

	s.logger.WithFields(logrus.Fields{
		"refund_id": refund.ID,
		"status":    refund.Status,
	}).Info("Refund status updated")
	return nil
}
