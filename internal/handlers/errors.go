package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/services"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Ordered: the first sentinel the error wraps decides the response.
var errorMappings = []errorMapping{
	{services.ErrNotFound, http.StatusNotFound, "not_found"},
	{services.ErrCapacityExceeded, http.StatusConflict, "sold_out"},
	{services.ErrSlotUnavailable, http.StatusGone, "slot_unavailable"},
	{services.ErrConcurrencyConflict, http.StatusConflict, "retry"},
	{services.ErrReservationExpired, http.StatusGone, "reservation_expired"},
	{services.ErrInvitationExpired, http.StatusGone, "invitation_expired"},
	{services.ErrDuplicateInvitation, http.StatusConflict, "duplicate_invitation"},
	{services.ErrPlanAlreadyStaffed, http.StatusConflict, "plan_already_staffed"},
	{services.ErrInvalidTransition, http.StatusUnprocessableEntity, "invalid_transition"},
	{services.ErrTourNotStarted, http.StatusUnprocessableEntity, "tour_not_started"},
	{services.ErrInvalidGuestCount, http.StatusBadRequest, "invalid_guest_count"},
	{services.ErrNoApplicablePolicy, http.StatusUnprocessableEntity, "no_refund_policy"},
	{services.ErrInvalidRefundAmount, http.StatusBadRequest, "invalid_amount"},
}

// respondError writes the status mapped from err. Unmapped errors are logged
// and reported as 500 without their text.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, ErrorResponse{Error: m.code, Message: err.Error()})
			return
		}
	}

	logger.WithError(err).WithFields(logrus.Fields{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
	}).Error("Unhandled service error")
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An unexpected error occurred",
	})
}

// parseUUIDParam reads a path parameter as a uuid, writing 400 on failure
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid " + name + " format",
		})
		return uuid.Nil, false
	}
	return id, true
}

func respondValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "validation_error",
		Message: err.Error(),
	})
}
