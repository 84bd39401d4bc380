package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prperemyshlev/session-service/internal/domain"
	"github.com/prperemyshlev/session-service/internal/utils"
	"github.com/prperemyshlev/session-service/pkg/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Refresh triggers, used as the metrics label
const (
	TriggerBoot       = "boot"
	TriggerManual     = "manual"
	TriggerTimer      = "timer"
	TriggerForeground = "foreground"
)

const refreshKey = "session-refresh"

type SessionManagerConfig struct {
	Policy              RefreshPolicy
	ForegroundThreshold time.Duration
	// RecoverTimeout bounds refreshes started by the timer or the foreground listener
	RecoverTimeout time.Duration
}

// DefaultSessionManagerConfig returns the default refresh policy with a 5m
// foreground threshold and a 20s recovery deadline
func DefaultSessionManagerConfig() SessionManagerConfig {
	return SessionManagerConfig{
		Policy:              DefaultRefreshPolicy(),
		ForegroundThreshold: 5 * time.Minute,
		RecoverTimeout:      20 * time.Second,
	}
}

// SessionManager owns the device's authentication session: it recovers it
// through an ordered chain of providers, persists it and keeps it fresh
type SessionManager struct {
	store     *SessionStore
	providers []SessionProvider
	appState  AppStateSource
	clock     clockwork.Clock
	metrics   *observability.SessionMetrics
	logger    *zap.Logger

	policy              RefreshPolicy
	foregroundThreshold time.Duration
	recoverTimeout      time.Duration

	lifecycle    *AuthLifecycleState
	refreshGroup singleflight.Group

	mu      sync.RWMutex
	current *domain.SessionOutcome
}

// NewSessionManager creates a session manager trying providers in order
func NewSessionManager(
	store *SessionStore,
	providers []SessionProvider,
	appState AppStateSource,
	clock clockwork.Clock,
	cfg SessionManagerConfig,
	metrics *observability.SessionMetrics,
	logger *zap.Logger,
) *SessionManager {
	return &SessionManager{
		store:               store,
		providers:           providers,
		appState:            appState,
		clock:               clock,
		metrics:             metrics,
		logger:              logger,
		policy:              cfg.Policy,
		foregroundThreshold: cfg.ForegroundThreshold,
		recoverTimeout:      cfg.RecoverTimeout,
		lifecycle:           &AuthLifecycleState{},
		current:             domain.Unauthenticated(),
	}
}

// RecoverAuthSession tries each provider in order and returns the first
// usable session. It never fails: when no provider has a session the stale
// session data is cleared and the outcome is unauthenticated. When ctx ends
// before a provider answers, the current session is returned untouched.
func (m *SessionManager) RecoverAuthSession(ctx context.Context) *domain.SessionOutcome {
	for _, provider := range m.providers {
		if ctx.Err() != nil {
			break
		}

		outcome, err := m.tryProvider(ctx, provider)
		if err != nil {
			m.logger.Info("Session provider failed, trying next",
				zap.String("provider", provider.Name()),
				zap.Error(err),
			)
			m.metrics.RecordFallthrough(ctx, provider.Name())
			continue
		}
		if outcome == nil || outcome.Status == domain.StatusUnauthenticated {
			m.logger.Debug("Session provider has no session",
				zap.String("provider", provider.Name()),
			)
			m.metrics.RecordFallthrough(ctx, provider.Name())
			continue
		}

		m.logger.Info("Session recovered",
			zap.String("provider", provider.Name()),
			zap.String("status", string(outcome.Status)),
		)
		m.metrics.RecordRecovery(ctx, string(outcome.Status), provider.Name())
		m.setCurrent(outcome)
		return outcome
	}

	// an interrupted recovery says nothing about the stored session
	if err := ctx.Err(); err != nil {
		m.logger.Warn("Session recovery interrupted, keeping current session", zap.Error(err))
		return m.Current()
	}

	m.store.ClearSessionData(ctx, ClearOptions{})

	outcome := domain.Unauthenticated()
	m.metrics.RecordRecovery(ctx, string(outcome.Status), "none")
	m.setCurrent(outcome)
	return outcome
}

func (m *SessionManager) tryProvider(ctx context.Context, provider SessionProvider) (outcome *domain.SessionOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = fmt.Errorf("provider %s panicked: %v", provider.Name(), r)
		}
	}()

	return provider.TryRecover(ctx)
}

// Refresh recovers the session and acts on the outcome: an authenticated
// session is persisted and its refresh scheduled, a pending profile is
// recorded. Overlapping calls share one recovery.
func (m *SessionManager) Refresh(ctx context.Context) *domain.SessionOutcome {
	return m.refresh(ctx, TriggerManual)
}

func (m *SessionManager) refresh(ctx context.Context, trigger string) *domain.SessionOutcome {
	if ctx.Err() != nil {
		return m.Current()
	}

	// the shared refresh runs detached from the caller that started it, so a
	// caller going away cannot cut short the refresh others joined
	results := m.refreshGroup.DoChan(refreshKey, func() (any, error) {
		refreshCtx, cancel := m.detach(ctx)
		defer cancel()
		return m.doRefresh(refreshCtx, trigger), nil
	})

	select {
	case res := <-results:
		if res.Shared {
			m.logger.Debug("Joined in-flight session refresh", zap.String("trigger", trigger))
		}
		return res.Val.(*domain.SessionOutcome)
	case <-ctx.Done():
		m.logger.Debug("Stopped waiting for session refresh",
			zap.String("trigger", trigger),
			zap.Error(ctx.Err()),
		)
		return m.Current()
	}
}

func (m *SessionManager) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if m.recoverTimeout > 0 {
		return context.WithTimeout(ctx, m.recoverTimeout)
	}
	return context.WithCancel(ctx)
}

func (m *SessionManager) doRefresh(ctx context.Context, trigger string) *domain.SessionOutcome {
	m.metrics.RecordRefresh(ctx, trigger)

	outcome := m.RecoverAuthSession(ctx)
	if ctx.Err() != nil {
		// timed out: keep whatever refresh is armed
		return outcome
	}

	switch outcome.Status {
	case domain.StatusAuthenticated:
		if _, err := m.store.PersistSessionData(ctx, outcome.User, outcome.Tokens); err != nil {
			m.logger.Warn("Failed to persist recovered session", zap.Error(err))
		}
		m.ScheduleSessionRefresh(outcome.Tokens.ExpiresAt, m.timerRefresh)
		m.MarkAuthRefreshed(time.Time{})

	case domain.StatusPendingProfile:
		if err := m.store.SavePendingProfile(ctx, m.pendingProfile(outcome)); err != nil {
			m.logger.Warn("Failed to save pending profile", zap.Error(err))
		}
		m.ScheduleSessionRefresh(outcome.Tokens.ExpiresAt, m.timerRefresh)
		m.MarkAuthRefreshed(time.Time{})

	default:
		m.lifecycle.mu.Lock()
		m.lifecycle.stopTimerLocked()
		m.lifecycle.mu.Unlock()
	}

	return outcome
}

func (m *SessionManager) pendingProfile(outcome *domain.SessionOutcome) *domain.PendingProfile {
	pending := &domain.PendingProfile{
		UserID:       outcome.Tokens.UserID,
		Provider:     outcome.Provider,
		ProfileToken: outcome.ProfileToken,
		CreatedAt:    m.clock.Now().UnixMilli(),
	}
	if claims, err := utils.DecodeUnverifiedClaims(outcome.Tokens.IDToken); err == nil {
		pending.Email = utils.ResolveEmail(claims.Email, claims.Username)
	}
	return pending
}

func (m *SessionManager) timerRefresh() {
	m.backgroundRefresh(TriggerTimer)
}

func (m *SessionManager) foregroundRefresh() {
	m.backgroundRefresh(TriggerForeground)
}

func (m *SessionManager) backgroundRefresh(trigger string) {
	go m.refresh(context.Background(), trigger)
}

// Boot is the app-start flow: refresh the session and start listening for
// foreground transitions
func (m *SessionManager) Boot(ctx context.Context) *domain.SessionOutcome {
	outcome := m.refresh(ctx, TriggerBoot)
	m.RegisterAppStateListener(m.foregroundRefresh)
	return outcome
}

// EstablishSession stores a session produced by a sign-in flow and keeps it
// fresh from now on
func (m *SessionManager) EstablishSession(ctx context.Context, user *domain.User, tokens *domain.AuthTokens) (*domain.SessionOutcome, error) {
	if user == nil {
		return nil, fmt.Errorf("failed to establish session: no user")
	}

	stored, err := m.store.PersistSessionData(ctx, user, tokens)
	if err != nil {
		return nil, err
	}

	if user.ID == "" {
		user.ID = stored.UserID
	}

	outcome := domain.Authenticated(user, stored, stored.Provider)
	m.setCurrent(outcome)

	m.ScheduleSessionRefresh(stored.ExpiresAt, m.timerRefresh)
	m.MarkAuthRefreshed(time.Time{})
	m.RegisterAppStateListener(m.foregroundRefresh)

	return outcome, nil
}

// SignOut removes all session data and resets the lifecycle
func (m *SessionManager) SignOut(ctx context.Context, opts ClearOptions) {
	m.store.ClearSessionData(ctx, opts)
	m.ResetAuthLifecycle(ctx, opts)
	m.setCurrent(domain.Unauthenticated())
}

// Current returns the outcome of the latest recovery
func (m *SessionManager) Current() *domain.SessionOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// PendingProfile returns the in-flight profile creation payload
func (m *SessionManager) PendingProfile(ctx context.Context) (*domain.PendingProfile, error) {
	return m.store.LoadPendingProfile(ctx)
}

// Shutdown disarms the refresh timer
func (m *SessionManager) Shutdown() {
	m.lifecycle.mu.Lock()
	m.lifecycle.stopTimerLocked()
	m.lifecycle.mu.Unlock()
}

func (m *SessionManager) setCurrent(outcome *domain.SessionOutcome) {
	m.mu.Lock()
	m.current = outcome
	m.mu.Unlock()
}
