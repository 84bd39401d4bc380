package service

import (
	"fmt"
	"sync"
)

// AppState is the mobile app's lifecycle state
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateBackground AppState = "background"
	AppStateInactive   AppState = "inactive"
)

// ParseAppState validates a lifecycle state name
func ParseAppState(s string) (AppState, error) {
	switch state := AppState(s); state {
	case AppStateActive, AppStateBackground, AppStateInactive:
		return state, nil
	default:
		return "", fmt.Errorf("unknown app state %q", s)
	}
}

// AppStateBus fans app-state transitions out to subscribers. Publish calls
// subscribers synchronously in subscription order.
type AppStateBus struct {
	mu          sync.RWMutex
	nextID      uint64
	subscribers map[uint64]func(AppState)
	order       []uint64
}

var _ AppStateSource = (*AppStateBus)(nil)

// NewAppStateBus creates a bus with no subscribers
func NewAppStateBus() *AppStateBus {
	return &AppStateBus{subscribers: make(map[uint64]func(AppState))}
}

// Subscribe registers fn and returns a func removing it. Calling the returned
// func more than once is a no-op.
func (b *AppStateBus) Subscribe(fn func(AppState)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			delete(b.subscribers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers state to every subscriber, in subscription order, on the
// calling goroutine
func (b *AppStateBus) Publish(state AppState) {
	b.mu.RLock()
	fns := make([]func(AppState), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subscribers[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(state)
	}
}

// Subscribers returns the number of live subscriptions
func (b *AppStateBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
