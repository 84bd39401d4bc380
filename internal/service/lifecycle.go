package service

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// AuthLifecycleState is the refresh bookkeeping of one SessionManager: the
// app-state subscription, the last refresh instant and the armed timer
type AuthLifecycleState struct {
	mu sync.Mutex

	listenerRegistered bool
	listenerGen        uint64
	unsubscribe        func()
	previousAppState   AppState

	lastRefreshedAt time.Time

	refreshTimer  clockwork.Timer
	timerGen      uint64
	nextRefreshAt time.Time
}

// LifecycleSnapshot is a read-only view of AuthLifecycleState
type LifecycleSnapshot struct {
	ListenerRegistered bool
	LastRefreshedAt    time.Time
	NextRefreshAt      time.Time
}

func (l *AuthLifecycleState) snapshot() LifecycleSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LifecycleSnapshot{
		ListenerRegistered: l.listenerRegistered,
		LastRefreshedAt:    l.lastRefreshedAt,
		NextRefreshAt:      l.nextRefreshAt,
	}
}

// stopTimerLocked disarms the pending timer. Bumping the generation also
// stops a callback that already fired but has not reached onRefresh yet.
func (l *AuthLifecycleState) stopTimerLocked() {
	if l.refreshTimer != nil {
		l.refreshTimer.Stop()
		l.refreshTimer = nil
	}
	l.timerGen++
	l.nextRefreshAt = time.Time{}
}

// ScheduleSessionRefresh arms the refresh timer for tokens expiring at
// expiresAt (epoch ms, zero if unknown), replacing any timer already armed
func (m *SessionManager) ScheduleSessionRefresh(expiresAt int64, onRefresh func()) {
	l := m.lifecycle
	now := m.clock.Now()
	delay := m.policy.Delay(expiresAt, now)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopTimerLocked()
	gen := l.timerGen
	l.nextRefreshAt = now.Add(delay)
	l.refreshTimer = m.clock.AfterFunc(delay, func() {
		l.mu.Lock()
		if l.timerGen != gen {
			l.mu.Unlock()
			return
		}
		l.refreshTimer = nil
		l.nextRefreshAt = time.Time{}
		l.mu.Unlock()

		onRefresh()
	})

	m.logger.Debug("Session refresh scheduled",
		zap.Duration("delay", delay),
		zap.Int64("expires_at", expiresAt),
	)
}

// RegisterAppStateListener subscribes to app-state transitions once per
// lifecycle. onRefresh runs when the app comes to the foreground and no
// refresh happened within the foreground threshold. It reports whether a new
// subscription was made.
func (m *SessionManager) RegisterAppStateListener(onRefresh func()) bool {
	l := m.lifecycle

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listenerRegistered {
		return false
	}

	l.listenerRegistered = true
	gen := l.listenerGen
	l.unsubscribe = m.appState.Subscribe(func(state AppState) {
		if m.shouldRefreshOnTransition(gen, state) {
			onRefresh()
		}
	})

	return true
}

func (m *SessionManager) shouldRefreshOnTransition(gen uint64, state AppState) bool {
	l := m.lifecycle

	l.mu.Lock()
	defer l.mu.Unlock()

	// a delivery racing with ResetAuthLifecycle
	if gen != l.listenerGen || !l.listenerRegistered {
		return false
	}

	previous := l.previousAppState
	l.previousAppState = state

	if state != AppStateActive || previous == AppStateActive {
		return false
	}

	if l.lastRefreshedAt.IsZero() {
		return true
	}

	return m.clock.Since(l.lastRefreshedAt) > m.foregroundThreshold
}

// MarkAuthRefreshed records at (or now when zero) as the last refresh
func (m *SessionManager) MarkAuthRefreshed(at time.Time) {
	if at.IsZero() {
		at = m.clock.Now()
	}

	m.lifecycle.mu.Lock()
	m.lifecycle.lastRefreshedAt = at
	m.lifecycle.mu.Unlock()
}

// ResetAuthLifecycle returns the lifecycle to its initial state: the
// listener is unsubscribed, the refresh timer disarmed and the last refresh
// forgotten
func (m *SessionManager) ResetAuthLifecycle(ctx context.Context, opts ClearOptions) {
	l := m.lifecycle

	l.mu.Lock()
	unsubscribe := l.unsubscribe
	l.unsubscribe = nil
	l.listenerRegistered = false
	l.listenerGen++
	l.previousAppState = ""
	l.lastRefreshedAt = time.Time{}
	l.stopTimerLocked()
	l.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	if opts.ClearPendingProfile {
		if err := m.store.RemovePendingProfile(ctx); err != nil {
			m.logger.Warn("Failed to clear pending profile", zap.Error(err))
		}
	}
}

// Lifecycle returns a snapshot of the refresh bookkeeping
func (m *SessionManager) Lifecycle() LifecycleSnapshot {
	return m.lifecycle.snapshot()
}
