package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/session-service/internal/dto"
	"github.com/prperemyshlev/session-service/internal/service"
)

// AppStatePublisher forwards app lifecycle transitions
type AppStatePublisher interface {
	Publish(state service.AppState)
}

// LifecycleHandler receives app lifecycle transitions from the mobile app
type LifecycleHandler struct {
	publisher AppStatePublisher
}

// NewLifecycleHandler creates a new lifecycle handler
func NewLifecycleHandler(publisher AppStatePublisher) *LifecycleHandler {
	return &LifecycleHandler{publisher: publisher}
}

// SetState handles an app state transition
// @Summary Report app state
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param request body dto.AppStateRequest true "App state"
// @Success 202 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /lifecycle/state [post]
func (h *LifecycleHandler) SetState(c *gin.Context) {
	var req dto.AppStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Validation failed",
			Message: err.Error(),
		})
		return
	}

	state, err := service.ParseAppState(req.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Bad request",
			Message: err.Error(),
		})
		return
	}

	h.publisher.Publish(state)

	c.JSON(http.StatusAccepted, dto.SuccessResponse{
		Message: "State recorded",
	})
}
