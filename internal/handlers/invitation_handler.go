package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/tour-booking-core/internal/middleware"
	"github.com/tourhub/tour-booking-core/internal/models"
	"github.com/tourhub/tour-booking-core/pkg/jwt"
)

// InvitationScheduler is the part of the invitation service the HTTP layer drives
type InvitationScheduler interface {
	SendAutomatic(ctx context.Context, planID uuid.UUID) (*models.AutomaticInvitationResult, error)
	SendManual(ctx context.Context, planID, guideID uuid.UUID, message *string) (*models.TourGuideInvitation, error)
	Respond(ctx context.Context, invitationID uuid.UUID, accept bool, note string) (*models.TourGuideInvitation, error)
	GetInvitation(ctx context.Context, invitationID uuid.UUID) (*models.TourGuideInvitation, error)
	ListByPlan(ctx context.Context, planID uuid.UUID) ([]*models.TourGuideInvitation, error)
}

// InvitationHandler handles guide invitation HTTP requests
type InvitationHandler struct {
	scheduler InvitationScheduler
	logger    *logrus.Logger
}

// NewInvitationHandler creates a new InvitationHandler
func NewInvitationHandler(scheduler InvitationScheduler, logger *logrus.Logger) *InvitationHandler {
	return &InvitationHandler{
		scheduler: scheduler,
		logger:    logger,
	}
}

// SendAutomatic handles POST /api/v1/plans/:plan_id/invitations/auto (admin)
func (h *InvitationHandler) SendAutomatic(c *gin.Context) {
	planID, ok := parseUUIDParam(c, "plan_id")
	if !ok {
		return
	}

	result, err := h.scheduler.SendAutomatic(c.Request.Context(), planID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// SendManual handles POST /api/v1/plans/:plan_id/invitations (admin)
func (h *InvitationHandler) SendManual(c *gin.Context) {
	planID, ok := parseUUIDParam(c, "plan_id")
	if !ok {
		return
	}

	var req models.SendManualInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}

	inv, err := h.scheduler.SendManual(c.Request.Context(), planID, uuid.MustParse(req.GuideID), req.Message)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

// ListByPlan handles GET /api/v1/plans/:plan_id/invitations (admin)
func (h *InvitationHandler) ListByPlan(c *gin.Context) {
	planID, ok := parseUUIDParam(c, "plan_id")
	if !ok {
		return
	}

	invitations, err := h.scheduler.ListByPlan(c.Request.Context(), planID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invitations": invitations,
		"total":       len(invitations),
	})
}

// Respond handles POST /api/v1/invitations/:id/respond. Only the invited
// guide may answer.
func (h *InvitationHandler) Respond(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "User context not found"})
		return
	}

	invitationID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.RespondInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}

	inv, err := h.scheduler.GetInvitation(c.Request.Context(), invitationID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if inv.GuideID != userCtx.UserID && !userCtx.HasRole(jwt.RoleAdmin) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Invitation not found"})
		return
	}

	inv, err = h.scheduler.Respond(c.Request.Context(), invitationID, *req.Accept, req.Note)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"invitation_id": invitationID,
			"guide_id":      userCtx.UserID,
			"accept":        *req.Accept,
		}).Info("Invitation response rejected")
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}
