package dto

import (
	"time"

	"github.com/prperemyshlev/session-service/internal/domain"
)

// SessionResponse is the session outcome plus its refresh bookkeeping
type SessionResponse struct {
	*domain.SessionOutcome
	LastRefreshedAt *int64 `json:"lastRefreshedAt,omitempty"`
	NextRefreshAt   *int64 `json:"nextRefreshAt,omitempty"`
}

// NewSessionResponse builds a SessionResponse; zero instants are omitted
func NewSessionResponse(outcome *domain.SessionOutcome, lastRefreshedAt, nextRefreshAt time.Time) SessionResponse {
	return SessionResponse{
		SessionOutcome:  outcome,
		LastRefreshedAt: epochMillis(lastRefreshedAt),
		NextRefreshAt:   epochMillis(nextRefreshAt),
	}
}

func epochMillis(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
