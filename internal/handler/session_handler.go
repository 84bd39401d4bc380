package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/session-service/internal/dto"
	"github.com/prperemyshlev/session-service/internal/repository"
	"github.com/prperemyshlev/session-service/internal/service"
)

// SessionHandler handles session requests from the mobile app
type SessionHandler struct {
	sessions service.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) respond(c *gin.Context, status int) {
	lifecycle := h.sessions.Lifecycle()
	c.JSON(status, dto.NewSessionResponse(h.sessions.Current(), lifecycle.LastRefreshedAt, lifecycle.NextRefreshAt))
}

// Recover handles session recovery
// @Summary Recover session
// @Description Recover the device session from the identity providers and stored tokens
// @Tags session
// @Produce json
// @Success 200 {object} dto.SessionResponse
// @Failure 429 {object} dto.ErrorResponse
// @Router /session/recover [post]
func (h *SessionHandler) Recover(c *gin.Context) {
	h.sessions.Boot(c.Request.Context())
	h.respond(c, http.StatusOK)
}

// Get handles reading the current session
// @Summary Current session
// @Tags session
// @Produce json
// @Success 200 {object} dto.SessionResponse
// @Router /session [get]
func (h *SessionHandler) Get(c *gin.Context) {
	h.respond(c, http.StatusOK)
}

// Establish handles storing a freshly signed-in session
// @Summary Establish session
// @Description Persist the user and tokens of a completed sign-in and schedule their refresh
// @Tags session
// @Accept json
// @Produce json
// @Param request body dto.EstablishSessionRequest true "Session"
// @Success 200 {object} dto.SessionResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /session [put]
func (h *SessionHandler) Establish(c *gin.Context) {
	var req dto.EstablishSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Validation failed",
			Message: err.Error(),
		})
		return
	}

	user, tokens := req.ToDomain()
	if _, err := h.sessions.EstablishSession(c.Request.Context(), user, tokens); err != nil {
		if errors.Is(err, repository.ErrMissingProvider) || errors.Is(err, repository.ErrMissingUserID) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   "Bad request",
				Message: err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "Internal server error",
			Message: err.Error(),
		})
		return
	}

	h.respond(c, http.StatusOK)
}

// SignOut handles sign-out
// @Summary Sign out
// @Description Remove all session data and stop refreshing
// @Tags session
// @Param clearPendingProfile query bool false "Also drop the pending profile payload"
// @Produce json
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /session [delete]
func (h *SessionHandler) SignOut(c *gin.Context) {
	var query dto.SignOutQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Validation failed",
			Message: err.Error(),
		})
		return
	}

	h.sessions.SignOut(c.Request.Context(), service.ClearOptions{ClearPendingProfile: query.ClearPendingProfile})

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Signed out successfully",
	})
}

// MarkRefreshed records a refresh done outside the daemon
// @Summary Mark session refreshed
// @Tags session
// @Accept json
// @Produce json
// @Param request body dto.MarkRefreshedRequest false "Refresh instant"
// @Success 200 {object} dto.SessionResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /session/refreshed [post]
func (h *SessionHandler) MarkRefreshed(c *gin.Context) {
	var req dto.MarkRefreshedRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   "Validation failed",
				Message: err.Error(),
			})
			return
		}
	}

	var at time.Time
	if req.Timestamp > 0 {
		at = time.UnixMilli(req.Timestamp)
	}
	h.sessions.MarkAuthRefreshed(at)

	h.respond(c, http.StatusOK)
}

// PendingProfile returns the in-flight profile creation payload
// @Summary Pending profile
// @Tags session
// @Produce json
// @Success 200 {object} domain.PendingProfile
// @Failure 404 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /session/pending-profile [get]
func (h *SessionHandler) PendingProfile(c *gin.Context) {
	pending, err := h.sessions.PendingProfile(c.Request.Context())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{
				Error:   "Not found",
				Message: "No profile creation in progress",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "Internal server error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, pending)
}
