package service

import (
	"context"
	"time"

	"github.com/prperemyshlev/session-service/internal/domain"
)

// SessionProvider is one tier of the recovery chain. TryRecover returns
// (nil, nil) when the tier has no session; an error is also a fall-through
// signal and never reaches the caller of RecoverAuthSession.
type SessionProvider interface {
	Name() string
	TryRecover(ctx context.Context) (*domain.SessionOutcome, error)
}

// AppStateSource delivers app foreground/background transitions
type AppStateSource interface {
	Subscribe(fn func(AppState)) (unsubscribe func())
}

// ClearOptions controls what a sign-out removes
type ClearOptions struct {
	ClearPendingProfile bool
}

// SessionService is the session API exposed over HTTP
type SessionService interface {
	Boot(ctx context.Context) *domain.SessionOutcome
	Current() *domain.SessionOutcome
	Lifecycle() LifecycleSnapshot
	EstablishSession(ctx context.Context, user *domain.User, tokens *domain.AuthTokens) (*domain.SessionOutcome, error)
	SignOut(ctx context.Context, opts ClearOptions)
	MarkAuthRefreshed(at time.Time)
	PendingProfile(ctx context.Context) (*domain.PendingProfile, error)
}

var _ SessionService = (*SessionManager)(nil)
