package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/middleware"
	"github.com/tourhub/tour-booking-core/internal/models"
	"github.com/tourhub/tour-booking-core/internal/services"
	"github.com/tourhub/tour-booking-core/internal/utils"
	"github.com/tourhub/tour-booking-core/pkg/jwt"
)

// BookingLifecycle is the part of the booking service the HTTP layer drives
type BookingLifecycle interface {
	CreateReservation(ctx context.Context, in services.ReservationInput) (*models.TourBooking, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.TourBooking, error)
	Cancel(ctx context.Context, bookingID uuid.UUID, initiator models.CancellationInitiator, reason string) (*models.CancellationResult, error)
	CheckIn(ctx context.Context, bookingID uuid.UUID) (*models.TourBooking, error)
	MarkNoShow(ctx context.Context, bookingID uuid.UUID) (*models.TourBooking, error)
	MarkCompleted(ctx context.Context, bookingID uuid.UUID) (*models.TourBooking, error)
	CancelSlot(ctx context.Context, slotID uuid.UUID, reason string) (*services.SlotCancellationResult, error)
	HandlePaymentResult(ctx context.Context, bookingID uuid.UUID, paid bool) (*models.TourBooking, error)
	HoldWindow() time.Duration
}

// BookingHandler handles tour booking HTTP requests
type BookingHandler struct {
	lifecycle BookingLifecycle
	logger    *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(lifecycle BookingLifecycle, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// ============================================================================
// RESERVATION - POST /api/v1/bookings
// ============================================================================

// CreateReservation holds seats for the caller
// @Summary Reserve seats on a tour
// @Description Creates a pending booking that must be paid before the hold expires
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.CreateReservationRequest true "Reservation"
// @Success 201 {object} models.ReservationResponse
// @Failure 409 {object} ErrorResponse "Sold out or concurrent update"
// @Failure 410 {object} ErrorResponse "Slot not open for booking"
// @Router /bookings [post]
func (h *BookingHandler) CreateReservation(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "User context not found"})
		return
	}

	var req models.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}

	// binding already validated the uuid format
	in := services.ReservationInput{
		OperationID: uuid.MustParse(req.TourOperationID),
		UserID:      userCtx.UserID,
		GuestCount:  req.GuestCount,
		Channel:     utils.BookingChannel(c.Request.UserAgent()),
	}
	if req.TourSlotID != nil {
		slotID := uuid.MustParse(*req.TourSlotID)
		in.SlotID = &slotID
	}

	booking, err := h.lifecycle.CreateReservation(c.Request.Context(), in)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":      userCtx.UserID,
			"operation_id": in.OperationID,
			"guests":       in.GuestCount,
			"ip":           utils.GetRealIP(c),
		}).Info("Reservation rejected")
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, models.ReservationResponse{
		BookingID:         booking.ID,
		BookingCode:       booking.BookingCode,
		Status:            booking.Status,
		GuestCount:        booking.GuestCount,
		TotalPrice:        booking.TotalPrice,
		ReservationExpiry: booking.ReservationExpiry,
		TTLSeconds:        int(h.lifecycle.HoldWindow().Seconds()),
	})
}

// GetBooking handles GET /api/v1/bookings/:id (owner or staff)
func (h *BookingHandler) GetBooking(c *gin.Context) {
	booking, ok := h.loadVisibleBooking(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, booking)
}

// ============================================================================
// CANCELLATION
// ============================================================================

// Cancel handles POST /api/v1/bookings/:id/cancel. Customers cancel their
// own bookings; admins cancel on behalf of the company.
func (h *BookingHandler) Cancel(c *gin.Context) {
	booking, ok := h.loadVisibleBooking(c)
	if !ok {
		return
	}

	var req models.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
	}

	userCtx, _ := middleware.GetUserContext(c)
	initiator := models.InitiatorCustomer
	if booking.UserID != userCtx.UserID {
		if !userCtx.HasRole(jwt.RoleAdmin) {
			c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "forbidden",
				Message: "Only the booking owner or an admin can cancel",
			})
			return
		}
		initiator = models.InitiatorCompany
	}

	result, err := h.lifecycle.Cancel(c.Request.Context(), booking.ID, initiator, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if result.RefundError != "" {
		h.logger.WithFields(logrus.Fields{
			"booking_id":   booking.ID,
			"refund_error": result.RefundError,
		}).Warn("Booking cancelled without refund")
	}
	c.JSON(http.StatusOK, result)
}

// CancelSlot handles POST /api/v1/slots/:id/cancel (admin)
func (h *BookingHandler) CancelSlot(c *gin.Context) {
	slotID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.CancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "A cancellation reason is required",
		})
		return
	}

	result, err := h.lifecycle.CancelSlot(c.Request.Context(), slotID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ============================================================================
// TOUR DAY (guide or admin)
// ============================================================================

// CheckIn handles POST /api/v1/bookings/:id/check-in
func (h *BookingHandler) CheckIn(c *gin.Context) {
	h.tourDayAction(c, h.lifecycle.CheckIn)
}

// MarkNoShow handles POST /api/v1/bookings/:id/no-show
func (h *BookingHandler) MarkNoShow(c *gin.Context) {
	h.tourDayAction(c, h.lifecycle.MarkNoShow)
}

// MarkCompleted handles POST /api/v1/bookings/:id/complete
func (h *BookingHandler) MarkCompleted(c *gin.Context) {
	h.tourDayAction(c, h.lifecycle.MarkCompleted)
}

func (h *BookingHandler) tourDayAction(c *gin.Context, action func(context.Context, uuid.UUID) (*models.TourBooking, error)) {
	bookingID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	booking, err := action(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// loadVisibleBooking fetches the booking named by :id and checks that the
// caller owns it or is staff. It writes the error response itself.
func (h *BookingHandler) loadVisibleBooking(c *gin.Context) (*models.TourBooking, bool) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "User context not found"})
		return nil, false
	}

	bookingID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil, false
	}

	booking, err := h.lifecycle.GetBooking(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return nil, false
	}

	if booking.UserID != userCtx.UserID && !userCtx.HasRole(jwt.RoleAdmin) && !userCtx.HasRole(jwt.RoleGuide) {
		// same answer as a missing booking so ids cannot be probed
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Booking not found"})
		return nil, false
	}
	return booking, true
}
