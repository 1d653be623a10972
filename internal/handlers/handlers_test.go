package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/tourhub/tour-booking-core/internal/middleware"
	"github.com/tourhub/tour-booking-core/internal/models"
	"github.com/tourhub/tour-booking-core/internal/services"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestRouter returns a router whose requests run as caller
func newTestRouter(caller *middleware.UserContext) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if caller != nil {
			c.Set(middleware.UserContextKey, *caller)
		}
		c.Next()
	})
	return router
}

func performJSON(router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

// ============================================================================
// STUBS
// ============================================================================

type cancelCall struct {
	bookingID uuid.UUID
	initiator models.CancellationInitiator
	reason    string
}

type stubLifecycle struct {
	bookings map[uuid.UUID]*models.TourBooking

	reserveErr  error
	reserved    []services.ReservationInput
	cancelled   []cancelCall
	tourDayErr  error
	paymentErr  error
	paymentSeen []bool
}

func newStubLifecycle(bookings ...*models.TourBooking) *stubLifecycle {
	s := &stubLifecycle{bookings: make(map[uuid.UUID]*models.TourBooking)}
	for _, b := range bookings {
		s.bookings[b.ID] = b
	}
	return s
}

func (s *stubLifecycle) CreateReservation(_ context.Context, in services.ReservationInput) (*models.TourBooking, error) {
	if s.reserveErr != nil {
		return nil, s.reserveErr
	}
	s.reserved = append(s.reserved, in)
	expiry := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	return &models.TourBooking{
		ID:                uuid.New(),
		BookingCode:       "TB-20260310-ABCDEF",
		TourOperationID:   in.OperationID,
		TourSlotID:        in.SlotID,
		UserID:            in.UserID,
		GuestCount:        in.GuestCount,
		TotalPrice:        120,
		Status:            models.BookingPending,
		Channel:           in.Channel,
		ReservationExpiry: &expiry,
	}, nil
}

func (s *stubLifecycle) GetBooking(_ context.Context, id uuid.UUID) (*models.TourBooking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return b, nil
}

func (s *stubLifecycle) Cancel(_ context.Context, id uuid.UUID, initiator models.CancellationInitiator, reason string) (*models.CancellationResult, error) {
	s.cancelled = append(s.cancelled, cancelCall{id, initiator, reason})
	b := *s.bookings[id]
	b.Status = initiator.CancelledStatus()
	return &models.CancellationResult{Booking: &b}, nil
}

func (s *stubLifecycle) tourDay(id uuid.UUID, status models.BookingStatus) (*models.TourBooking, error) {
	if s.tourDayErr != nil {
		return nil, s.tourDayErr
	}
	b, ok := s.bookings[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	b.Status = status
	return b, nil
}

func (s *stubLifecycle) CheckIn(_ context.Context, id uuid.UUID) (*models.TourBooking, error) {
	return s.tourDay(id, models.BookingConfirmed)
}

func (s *stubLifecycle) MarkNoShow(_ context.Context, id uuid.UUID) (*models.TourBooking, error) {
	return s.tourDay(id, models.BookingNoShow)
}

func (s *stubLifecycle) MarkCompleted(_ context.Context, id uuid.UUID) (*models.TourBooking, error) {
	return s.tourDay(id, models.BookingCompleted)
}

func (s *stubLifecycle) CancelSlot(_ context.Context, slotID uuid.UUID, _ string) (*services.SlotCancellationResult, error) {
	return &services.SlotCancellationResult{SlotID: slotID}, nil
}

func (s *stubLifecycle) HandlePaymentResult(_ context.Context, id uuid.UUID, paid bool) (*models.TourBooking, error) {
	s.paymentSeen = append(s.paymentSeen, paid)
	if s.paymentErr != nil {
		return nil, s.paymentErr
	}
	status := models.BookingConfirmed
	if !paid {
		status = models.BookingCancelledByCompany
	}
	return &models.TourBooking{ID: id, Status: status}, nil
}

func (s *stubLifecycle) HoldWindow() time.Duration { return 15 * time.Minute }

type stubScheduler struct {
	invitations map[uuid.UUID]*models.TourGuideInvitation
	err         error
	responses   []bool
}

func (s *stubScheduler) SendAutomatic(_ context.Context, planID uuid.UUID) (*models.AutomaticInvitationResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.AutomaticInvitationResult{PlanID: planID, Matched: 2, Created: 2}, nil
}

func (s *stubScheduler) SendManual(_ context.Context, planID, guideID uuid.UUID, message *string) (*models.TourGuideInvitation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return models.NewInvitation(planID, guideID, models.InvitationManual, message, time.Now(), time.Hour), nil
}

func (s *stubScheduler) Respond(_ context.Context, id uuid.UUID, accept bool, _ string) (*models.TourGuideInvitation, error) {
	s.responses = append(s.responses, accept)
	if s.err != nil {
		return nil, s.err
	}
	inv := *s.invitations[id]
	inv.Status = models.InvitationRejected
	if accept {
		inv.Status = models.InvitationAccepted
	}
	return &inv, nil
}

func (s *stubScheduler) GetInvitation(_ context.Context, id uuid.UUID) (*models.TourGuideInvitation, error) {
	inv, ok := s.invitations[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return inv, nil
}

func (s *stubScheduler) ListByPlan(_ context.Context, planID uuid.UUID) ([]*models.TourGuideInvitation, error) {
	var out []*models.TourGuideInvitation
	for _, inv := range s.invitations {
		if inv.TourDetailPlanID == planID {
			out = append(out, inv)
		}
	}
	return out, nil
}

type stubRefunds struct {
	refund *models.TourBookingRefund
	err    error
}

func (s *stubRefunds) GetRefund(_ context.Context, id uuid.UUID) (*models.TourBookingRefund, error) {
	if s.refund == nil || s.refund.ID != id {
		return nil, services.ErrNotFound
	}
	return s.refund, nil
}

func (s *stubRefunds) Approve(_ context.Context, _ uuid.UUID, amount *float64, _ string) (*models.TourBookingRefund, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.refund.Status = models.RefundApproved
	s.refund.ApprovedAmount = amount
	return s.refund, nil
}

func (s *stubRefunds) Reject(_ context.Context, _ uuid.UUID, _ string) (*models.TourBookingRefund, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.refund.Status = models.RefundRejected
	return s.refund, nil
}

func (s *stubRefunds) Cancel(_ context.Context, _ uuid.UUID, _ string) (*models.TourBookingRefund, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.refund.Status = models.RefundCancelled
	return s.refund, nil
}

func (s *stubRefunds) Complete(_ context.Context, _ uuid.UUID, ref, _ string) (*models.TourBookingRefund, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.refund.Status = models.RefundCompleted
	s.refund.TransferReference = &ref
	return s.refund, nil
}
