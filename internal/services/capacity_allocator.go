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
	defaultMaxCASAttempts = 5
	defaultSweepBatchSize = 100

	expiredHoldReason = "reservation hold expired"
	sweepReservations = "reservations"
)

// AllocatorConfig tunes the allocator
type AllocatorConfig struct {
	MaxAttempts    int // compare-and-swap attempts before ErrConcurrencyConflict
	SweepBatchSize int // bookings expired per sweep run
}

// CapacityAllocator reserves and releases seats on tour slots and operations.
// Every counter write is a compare-and-swap on the row version; there is no
// in-process lock, so any number of instances can share the store.
type CapacityAllocator struct {
	capacity CapacityStore
	bookings BookingStore
	uow      UnitOfWork
	clock    Clock
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	events   eventEmitter
	cfg      AllocatorConfig
}

// NewCapacityAllocator creates a new CapacityAllocator
func NewCapacityAllocator(
	capacity CapacityStore,
	bookings BookingStore,
	uow UnitOfWork,
	publisher EventPublisher,
	clock Clock,
	m *metrics.Metrics,
	logger *logrus.Logger,
	cfg AllocatorConfig,
) *CapacityAllocator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxCASAttempts
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaultSweepBatchSize
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &CapacityAllocator{
		capacity: capacity,
		bookings: bookings,
		uow:      uow,
		clock:    clock,
		metrics:  m,
		logger:   logger,
		events:   eventEmitter{publisher: publisher, clock: clock, logger: logger},
		cfg:      cfg,
	}
}

// ============================================================================
// RESERVE / RELEASE
// ============================================================================

// Reserve takes guests seats on target. It fails with ErrCapacityExceeded when
// the entity is sold out or lacks room, ErrSlotUnavailable when it is closed or
// retired, and ErrConcurrencyConflict when every attempt lost the race.
func (a *CapacityAllocator) Reserve(ctx context.Context, target models.CapacityTarget, guests int) (*models.Capacity, error) {
	if guests <= 0 {
		return nil, ErrInvalidGuestCount
	}

	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		c, err := a.capacity.GetCapacity(ctx, target)
		if err != nil {
			return nil, err
		}
		if err := checkReservable(c, guests); err != nil {
			return nil, err
		}

		next := c.CurrentBookings + guests
		status := c.StatusAfter(next)
		err = a.capacity.UpdateCapacity(ctx, c, next, status)
		if err == nil {
			c.CurrentBookings = next
			c.Status = status
			c.Version++
			return c, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return nil, fmt.Errorf("failed to reserve %s: %w", target, err)
		}

		a.metrics.ObserveConflict(string(target.Kind))
		a.logger.WithFields(logrus.Fields{
			"target":  target.String(),
			"attempt": attempt,
		}).Debug("Capacity version conflict on reserve, retrying")
	}

	return nil, fmt.Errorf("%w: reserve on %s gave up after %d attempts", ErrConcurrencyConflict, target, a.cfg.MaxAttempts)
}

func checkReservable(c *models.Capacity, guests int) error {
	switch {
	case c.IsRetired():
		return fmt.Errorf("%w: %s is retired", ErrSlotUnavailable, c.Target)
	case c.Status.IsClosed() || c.Status == models.CapacityInProgress:
		return fmt.Errorf("%w: %s is %s", ErrSlotUnavailable, c.Target, c.Status)
	case c.Status == models.CapacityFullyBooked:
		return fmt.Errorf("%w: %s is sold out", ErrCapacityExceeded, c.Target)
	case c.CurrentBookings+guests > c.MaxGuests:
		return fmt.Errorf("%w: %s has %d of %d seats left", ErrCapacityExceeded, c.Target, c.Remaining(), guests)
	}
	return nil
}

// Release returns guests seats to target. A release that would drive the
// counter below zero is clamped at zero, written, alarmed and reported as
// ErrInvariantViolation. A soft-deleted target no longer sells seats, so the
// release succeeds without a write.
func (a *CapacityAllocator) Release(ctx context.Context, target models.CapacityTarget, guests int) (*models.Capacity, error) {
	if guests <= 0 {
		return nil, ErrInvalidGuestCount
	}

	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		c, err := a.capacity.GetCapacity(ctx, target)
		if err != nil {
			return nil, err
		}
		if c.IsDeleted {
			a.logger.WithFields(logrus.Fields{
				"target": target.String(),
				"guests": guests,
			}).Warn("Release on deleted capacity row skipped")
			return c, nil
		}

		next := c.CurrentBookings - guests
		clamped := next < 0
		if clamped {
			next = 0
		}
		status := c.StatusAfter(next)

		err = a.capacity.UpdateCapacity(ctx, c, next, status)
		if errors.Is(err, ErrConcurrencyConflict) {
			a.metrics.ObserveConflict(string(target.Kind))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to release %s: %w", target, err)
		}

		held := c.CurrentBookings
		c.CurrentBookings = next
		c.Status = status
		c.Version++

		if clamped {
			a.metrics.ObserveInvariantViolation()
			a.logger.WithFields(logrus.Fields{
				"alarm":   "capacity_invariant",
				"target":  target.String(),
				"held":    held,
				"release": guests,
			}).Error("Capacity release would go negative, clamped to zero")
			return c, fmt.Errorf("%w: release of %d on %s holding %d", ErrInvariantViolation, guests, target, held)
		}
		return c, nil
	}

	return nil, fmt.Errorf("%w: release on %s gave up after %d attempts", ErrConcurrencyConflict, target, a.cfg.MaxAttempts)
}

// Close moves target to a closed status without touching its counter
func (a *CapacityAllocator) Close(ctx context.Context, target models.CapacityTarget, status models.CapacityStatus) (*models.Capacity, error) {
	if !status.IsClosed() {
		return nil, fmt.Errorf("%w: %s is not a closing status", ErrInvalidTransition, status)
	}

	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		c, err := a.capacity.GetCapacity(ctx, target)
		if err != nil {
			return nil, err
		}
		if c.Status == status {
			return c, nil
		}
		if c.Status.IsClosed() {
			return nil, fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, target, c.Status)
		}

		err = a.capacity.UpdateCapacity(ctx, c, c.CurrentBookings, status)
		if errors.Is(err, ErrConcurrencyConflict) {
			a.metrics.ObserveConflict(string(target.Kind))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to close %s: %w", target, err)
		}
		c.Status = status
		c.Version++
		return c, nil
	}

	return nil, fmt.Errorf("%w: close on %s gave up after %d attempts", ErrConcurrencyConflict, target, a.cfg.MaxAttempts)
}

// ============================================================================
// BOOKING-LEVEL HELPERS
// ============================================================================

// ReserveForBooking reserves on the operation, which is the authoritative
// ceiling, and then on the slot if one is named. When the slot refuses the
// seats the operation seats are given back before the slot error is returned.
// Any other slot error leaves the rollback to the enclosing transaction.
func (a *CapacityAllocator) ReserveForBooking(ctx context.Context, operationID uuid.UUID, slotID *uuid.UUID, guests int) error {
	opTarget := models.OperationTarget(operationID)
	if _, err := a.Reserve(ctx, opTarget, guests); err != nil {
		return err
	}
	if slotID == nil {
		return nil
	}

	if _, err := a.Reserve(ctx, models.SlotTarget(*slotID), guests); err != nil {
		if !errors.Is(err, ErrCapacityExceeded) && !errors.Is(err, ErrSlotUnavailable) {
			return err
		}
		if _, relErr := a.Release(ctx, opTarget, guests); relErr != nil {
			a.logger.WithError(relErr).WithFields(logrus.Fields{
				"operation_id": operationID,
				"slot_id":      *slotID,
				"guests":       guests,
			}).Error("Failed to compensate operation reservation after slot reservation failed")
		}
		return err
	}
	return nil
}

// ReleaseForBooking releases every row the booking holds seats on. Release
// continues past an invariant violation so both counters are returned.
func (a *CapacityAllocator) ReleaseForBooking(ctx context.Context, b *models.TourBooking) error {
	var violation error
	for _, target := range b.CapacityTargets() {
		_, err := a.Release(ctx, target, b.GuestCount)
		if errors.Is(err, ErrInvariantViolation) {
			if violation == nil {
				violation = err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return violation
}

// ConfirmHold makes a pending reservation non-expirable. The hold must still
// be live at now. Seats are untouched; the caller persists the cleared expiry.
func (a *CapacityAllocator) ConfirmHold(b *models.TourBooking, now time.Time) error {
	if b.Status != models.BookingPending {
		return fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.BookingCode, b.Status)
	}
	if b.HoldExpired(now) {
		return fmt.Errorf("%w: booking %s expired at %s", ErrReservationExpired, b.BookingCode, b.ReservationExpiry.Format(time.RFC3339))
	}
	b.ReservationExpiry = nil
	return nil
}

// ============================================================================
// TTL EXPIRATION (Background Job Support)
// ============================================================================

// ExpireStaleReservations releases seats held by pending bookings whose hold
// has passed and cancels those bookings. Each booking is its own transaction;
// failures are logged and the sweep moves on.
func (a *CapacityAllocator) ExpireStaleReservations(ctx context.Context) SweepResult {
	var result SweepResult
	now := a.clock.Now()

	holds, err := a.bookings.ListExpiredHolds(ctx, now, a.cfg.SweepBatchSize)
	if err != nil {
		a.logger.WithError(err).Error("Failed to list expired reservation holds")
		return result
	}
	result.Scanned = len(holds)
	if len(holds) == 0 {
		return result
	}

	a.logger.WithField("count", len(holds)).Info("Processing expired reservation holds")

	for _, b := range holds {
		if err := a.expireHold(ctx, b); err != nil {
			result.Failed++
			a.metrics.ObserveSweep(sweepReservations, "failed")
			a.logger.WithError(err).WithFields(logrus.Fields{
				"booking_id":   b.ID,
				"booking_code": b.BookingCode,
			}).Error("Failed to expire reservation hold")
			continue
		}
		result.Processed++
		a.metrics.ObserveSweep(sweepReservations, "expired")
		a.logger.WithFields(logrus.Fields{
			"booking_id":  b.ID,
			"guest_count": b.GuestCount,
		}).Info("Reservation hold expired and seats released")
		a.events.bookingEvent(ctx, models.EventBookingExpired, b)
	}

	return result
}

func (a *CapacityAllocator) expireHold(ctx context.Context, b *models.TourBooking) error {
	now := a.clock.Now()
	if !b.HoldExpired(now) {
		return nil
	}

	reason := expiredHoldReason
	to := models.InitiatorSystem.CancelledStatus()

	err := a.uow.WithinTx(ctx, func(ctx context.Context) error {
		if err := a.bookings.TransitionBooking(ctx, &models.BookingTransition{
			BookingID:          b.ID,
			FromStatus:         models.BookingPending,
			ToStatus:           to,
			ExpectedVersion:    b.Version,
			At:                 now,
			ClearExpiry:        true,
			CancellationReason: &reason,
		}); err != nil {
			return err
		}
		if err := a.ReleaseForBooking(ctx, b); err != nil && !errors.Is(err, ErrInvariantViolation) {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.Status = to
	b.ReservationExpiry = nil
	b.CancelledAt = &now
	b.CancellationReason = &reason
	b.Version++
	return nil
}
