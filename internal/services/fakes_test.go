package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/metrics"
	"github.com/tourhub/tour-booking-core/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ============================================================================
// CLOCK / UNIT OF WORK / EVENTS
// ============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type passthroughUoW struct{}

func (passthroughUoW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.DomainEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e *models.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []models.DomainEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.DomainEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

// ============================================================================
// CAPACITY
// ============================================================================

// memCapacityStore keeps operations and slots and applies UpdateCapacity as a
// real compare-and-swap on the version.
type memCapacityStore struct {
	mu         sync.Mutex
	operations map[uuid.UUID]*models.TourOperation
	slots      map[uuid.UUID]*models.TourSlot
	updates    int
}

func newMemCapacityStore() *memCapacityStore {
	return &memCapacityStore{
		operations: make(map[uuid.UUID]*models.TourOperation),
		slots:      make(map[uuid.UUID]*models.TourSlot),
	}
}

func (s *memCapacityStore) addOperation(maxGuests int, price float64, at time.Time) *models.TourOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := &models.TourOperation{
		ID:               uuid.New(),
		TourDetailPlanID: uuid.New(),
		Price:            price,
		MaxGuests:        maxGuests,
		Status:           models.CapacityAvailable,
		ScheduledAt:      at,
		Version:          1,
		IsActive:         true,
	}
	s.operations[op.ID] = op
	cp := *op
	return &cp
}

func (s *memCapacityStore) addSlot(operationID uuid.UUID, maxGuests int, at time.Time) *models.TourSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := &models.TourSlot{
		ID:              uuid.New(),
		TourTemplateID:  uuid.New(),
		TourOperationID: operationID,
		TourDate:        at,
		MaxGuests:       maxGuests,
		Status:          models.CapacityAvailable,
		Version:         1,
		IsActive:        true,
	}
	s.slots[slot.ID] = slot
	cp := *slot
	return &cp
}

func (s *memCapacityStore) GetOperation(_ context.Context, id uuid.UUID) (*models.TourOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[id]
	if !ok {
		return nil, fmt.Errorf("%w: operation %s", ErrNotFound, id)
	}
	cp := *op
	return &cp, nil
}

func (s *memCapacityStore) GetSlot(_ context.Context, id uuid.UUID) (*models.TourSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	cp := *slot
	return &cp, nil
}

func (s *memCapacityStore) GetCapacity(_ context.Context, t models.CapacityTarget) (*models.Capacity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t.Kind {
	case models.CapacityKindOperation:
		if op, ok := s.operations[t.ID]; ok {
			return op.Capacity(), nil
		}
	case models.CapacityKindSlot:
		if slot, ok := s.slots[t.ID]; ok {
			return slot.Capacity(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, t)
}

func (s *memCapacityStore) UpdateCapacity(_ context.Context, c *models.Capacity, bookings int, status models.CapacityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch c.Target.Kind {
	case models.CapacityKindOperation:
		op, ok := s.operations[c.Target.ID]
		if !ok || op.Version != c.Version || op.IsDeleted {
			return ErrConcurrencyConflict
		}
		op.CurrentBookings, op.Status = bookings, status
		op.Version++
	case models.CapacityKindSlot:
		slot, ok := s.slots[c.Target.ID]
		if !ok || slot.Version != c.Version || slot.IsDeleted {
			return ErrConcurrencyConflict
		}
		slot.CurrentBookings, slot.Status = bookings, status
		slot.Version++
	}
	s.updates++
	return nil
}

func (s *memCapacityStore) capacity(t models.CapacityTarget) *models.Capacity {
	c, err := s.GetCapacity(context.Background(), t)
	if err != nil {
		panic(err)
	}
	return c
}

func (s *memCapacityStore) setCounter(t models.CapacityTarget, bookings int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Kind == models.CapacityKindOperation {
		s.operations[t.ID].CurrentBookings = bookings
		return
	}
	s.slots[t.ID].CurrentBookings = bookings
}

func (s *memCapacityStore) setDiscount(operationID uuid.UUID, pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations[operationID].DiscountPercent = pct
}

func (s *memCapacityStore) softDelete(t models.CapacityTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Kind == models.CapacityKindOperation {
		s.operations[t.ID].IsDeleted = true
		return
	}
	s.slots[t.ID].IsDeleted = true
}

func (s *memCapacityStore) assignGuide(planID, guideID uuid.UUID) error {
	for _, op := range s.operations {
		if op.TourDetailPlanID != planID {
			continue
		}
		if op.GuideID != nil {
			return ErrPlanAlreadyStaffed
		}
		g := guideID
		op.GuideID = &g
		op.Version++
		return nil
	}
	return ErrNotFound
}

// ============================================================================
// BOOKINGS
// ============================================================================

type memBookingStore struct {
	mu        sync.Mutex
	bookings  map[uuid.UUID]*models.TourBooking
	seq       int
	codeDates []time.Time
	failNext  error
}

func newMemBookingStore() *memBookingStore {
	return &memBookingStore{bookings: make(map[uuid.UUID]*models.TourBooking)}
}

func (s *memBookingStore) CreateBooking(_ context.Context, b *models.TourBooking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	cp := *b
	s.bookings[b.ID] = &cp
	return nil
}

func (s *memBookingStore) GetBookingByID(_ context.Context, id uuid.UUID) (*models.TourBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (s *memBookingStore) GenerateBookingCode(_ context.Context, prefix string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codeDates = append(s.codeDates, now)
	s.seq++
	return fmt.Sprintf("%s-TEST-%06d", prefix, s.seq), nil
}

func (s *memBookingStore) TransitionBooking(_ context.Context, t *models.BookingTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[t.BookingID]
	if !ok || b.Status != t.FromStatus || b.Version != t.ExpectedVersion {
		return ErrConcurrencyConflict
	}
	at := t.At
	b.Status = t.ToStatus
	b.Version++
	b.UpdatedAt = at
	if t.ClearExpiry {
		b.ReservationExpiry = nil
	}
	switch {
	case t.ToStatus == models.BookingConfirmed:
		b.ConfirmedAt = &at
	case t.ToStatus.IsCancelled():
		b.CancelledAt = &at
		b.CancellationReason = t.CancellationReason
	case t.ToStatus == models.BookingCompleted:
		b.CompletedAt = &at
	}
	return nil
}

func (s *memBookingStore) MarkCheckedIn(_ context.Context, id uuid.UUID, expectedVersion int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Version != expectedVersion || b.Status != models.BookingConfirmed {
		return ErrConcurrencyConflict
	}
	b.IsCheckedIn = true
	b.CheckedInAt = &at
	b.Version++
	return nil
}

func (s *memBookingStore) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]*models.TourBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TourBooking
	for _, b := range s.bookings {
		if b.HoldExpired(now) && !b.IsDeleted {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservationExpiry.Before(*out[j].ReservationExpiry) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memBookingStore) ListActiveBookingsBySlot(_ context.Context, slotID uuid.UUID) ([]*models.TourBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TourBooking
	for _, b := range s.bookings {
		if b.TourSlotID != nil && *b.TourSlotID == slotID && b.Status.IsActive() {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ============================================================================
// REFUNDS
// ============================================================================

type memPolicyStore struct {
	policies []*models.RefundPolicy
	err      error
}

func (s *memPolicyStore) ListCandidatePolicies(_ context.Context, refundType models.RefundType, _ time.Time) ([]*models.RefundPolicy, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*models.RefundPolicy
	for _, p := range s.policies {
		if p.RefundType == refundType {
			out = append(out, p)
		}
	}
	return out, nil
}

type memRefundStore struct {
	mu      sync.Mutex
	refunds map[uuid.UUID]*models.TourBookingRefund
}

func newMemRefundStore() *memRefundStore {
	return &memRefundStore{refunds: make(map[uuid.UUID]*models.TourBookingRefund)}
}

func (s *memRefundStore) CreateRefund(_ context.Context, r *models.TourBookingRefund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.refunds {
		if existing.TourBookingID == r.TourBookingID {
			return fmt.Errorf("refund already exists for booking %s", r.TourBookingID)
		}
	}
	cp := *r
	s.refunds[r.ID] = &cp
	return nil
}

func (s *memRefundStore) GetRefundByID(_ context.Context, id uuid.UUID) (*models.TourBookingRefund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok {
		return nil, fmt.Errorf("%w: refund %s", ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (s *memRefundStore) UpdateRefundStatus(_ context.Context, u *models.RefundUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[u.RefundID]
	if !ok || r.Status != u.FromStatus || r.Version != u.ExpectedVersion {
		return ErrConcurrencyConflict
	}
	r.Status = u.ToStatus
	r.Version++
	if u.ApprovedAmount != nil {
		r.ApprovedAmount = u.ApprovedAmount
	}
	if u.TransferReference != nil {
		r.TransferReference = u.TransferReference
	}
	return nil
}

func (s *memRefundStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refunds)
}

// ============================================================================
// INVITATIONS
// ============================================================================

type memInvitationStore struct {
	mu          sync.Mutex
	invitations map[uuid.UUID]*models.TourGuideInvitation
	capacity    *memCapacityStore
}

func newMemInvitationStore(capacity *memCapacityStore) *memInvitationStore {
	return &memInvitationStore{
		invitations: make(map[uuid.UUID]*models.TourGuideInvitation),
		capacity:    capacity,
	}
}

func (s *memInvitationStore) exists(planID, guideID uuid.UUID) bool {
	for _, inv := range s.invitations {
		if inv.TourDetailPlanID == planID && inv.GuideID == guideID {
			return true
		}
	}
	return false
}

func (s *memInvitationStore) InsertInvitationIfAbsent(_ context.Context, inv *models.TourGuideInvitation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exists(inv.TourDetailPlanID, inv.GuideID) {
		return false, nil
	}
	cp := *inv
	s.invitations[inv.ID] = &cp
	return true, nil
}

func (s *memInvitationStore) InsertInvitation(_ context.Context, inv *models.TourGuideInvitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exists(inv.TourDetailPlanID, inv.GuideID) {
		return ErrDuplicateInvitation
	}
	cp := *inv
	s.invitations[inv.ID] = &cp
	return nil
}

func (s *memInvitationStore) GetInvitationByID(_ context.Context, id uuid.UUID) (*models.TourGuideInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return nil, fmt.Errorf("%w: invitation %s", ErrNotFound, id)
	}
	cp := *inv
	return &cp, nil
}

func (s *memInvitationStore) ListInvitationsByPlan(_ context.Context, planID uuid.UUID) ([]*models.TourGuideInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TourGuideInvitation
	for _, inv := range s.invitations {
		if inv.TourDetailPlanID == planID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memInvitationStore) CloseInvitation(_ context.Context, r *models.InvitationRejection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[r.InvitationID]
	if !ok || inv.Status != models.InvitationPending || inv.Version != r.ExpectedVersion {
		return ErrConcurrencyConflict
	}
	at := r.At
	inv.Status = r.ToStatus
	inv.RejectionReason = r.Reason
	inv.RespondedAt = &at
	inv.Version++
	return nil
}

func (s *memInvitationStore) AcceptInvitation(_ context.Context, a *models.InvitationAcceptance) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity.mu.Lock()
	defer s.capacity.mu.Unlock()

	for _, op := range s.capacity.operations {
		if op.TourDetailPlanID == a.PlanID && op.GuideID != nil {
			return nil, ErrPlanAlreadyStaffed
		}
	}

	inv, ok := s.invitations[a.InvitationID]
	if !ok || inv.Status != models.InvitationPending || inv.Version != a.ExpectedVersion || !a.At.Before(inv.ExpiresAt) {
		return nil, ErrConcurrencyConflict
	}
	at := a.At
	inv.Status = models.InvitationAccepted
	inv.RespondedAt = &at
	inv.Version++

	var closed []uuid.UUID
	for _, sib := range s.invitations {
		if sib.TourDetailPlanID != a.PlanID || sib.ID == a.InvitationID || sib.Status != models.InvitationPending {
			continue
		}
		reason := a.SiblingReason
		sib.Status = models.InvitationRejected
		sib.RejectionReason = &reason
		sib.RespondedAt = &at
		sib.Version++
		closed = append(closed, sib.ID)
	}

	if err := s.capacity.assignGuide(a.PlanID, a.GuideID); err != nil {
		return nil, err
	}
	return closed, nil
}

func (s *memInvitationStore) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]*models.TourGuideInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TourGuideInvitation
	for _, inv := range s.invitations {
		if inv.Status == models.InvitationPending && inv.IsExpiredAt(now) {
			cp := *inv
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memGuideDirectory struct {
	plans  map[uuid.UUID]*models.TourDetailPlan
	guides []*models.Guide
}

func (d *memGuideDirectory) GetPlan(_ context.Context, planID uuid.UUID) (*models.TourDetailPlan, error) {
	p, ok := d.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: plan %s", ErrNotFound, planID)
	}
	cp := *p
	return &cp, nil
}

func (d *memGuideDirectory) ListAvailableGuides(_ context.Context, _ models.SkillSet) ([]*models.Guide, error) {
	return d.guides, nil
}

// ============================================================================
// WIRING
// ============================================================================

type bookingFixture struct {
	clock     *fakeClock
	capacity  *memCapacityStore
	bookings  *memBookingStore
	refunds   *memRefundStore
	policies  *memPolicyStore
	events    *recordingPublisher
	metrics   *metrics.Metrics
	allocator *CapacityAllocator
	resolver  *RefundPolicyResolver
	lifecycle *BookingLifecycleService
	refundSvc *RefundService
}

func newBookingFixture(now time.Time) *bookingFixture {
	f := &bookingFixture{
		clock:    newFakeClock(now),
		capacity: newMemCapacityStore(),
		bookings: newMemBookingStore(),
		refunds:  newMemRefundStore(),
		policies: &memPolicyStore{},
		events:   &recordingPublisher{},
		metrics:  metrics.NewNop(),
	}
	logger := testLogger()
	f.allocator = NewCapacityAllocator(f.capacity, f.bookings, passthroughUoW{}, f.events, f.clock, f.metrics, logger, AllocatorConfig{MaxAttempts: 50})
	f.resolver = NewRefundPolicyResolver(f.policies, f.metrics, logger)
	f.lifecycle = NewBookingLifecycleService(f.bookings, f.capacity, f.refunds, f.allocator, f.resolver, passthroughUoW{}, f.events, f.clock, f.metrics, logger, LifecycleConfig{HoldWindow: 15 * time.Minute})
	f.refundSvc = NewRefundService(f.refunds, f.bookings, passthroughUoW{}, f.events, f.clock, logger)
	return f
}

func intPtr(v int) *int { return &v }

func newPolicy(refundType models.RefundType, min int, max *int, pct, fee float64, priority int) *models.RefundPolicy {
	return &models.RefundPolicy{
		ID:                 uuid.New(),
		Name:               fmt.Sprintf("%s %d+", refundType, min),
		RefundType:         refundType,
		MinDaysBeforeEvent: min,
		MaxDaysBeforeEvent: max,
		RefundPercentage:   pct,
		ProcessingFee:      fee,
		Priority:           priority,
		IsActive:           true,
		EffectiveFrom:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
