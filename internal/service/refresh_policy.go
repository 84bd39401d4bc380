package service

import "time"

// RefreshPolicy decides when a proactive session refresh fires
type RefreshPolicy struct {
	// Buffer is subtracted from the token expiry so refresh happens before it
	Buffer time.Duration
	// DefaultInterval is used when the expiry is unknown
	DefaultInterval time.Duration
	// MaxDelay keeps the timer short enough not to be dropped by the OS
	MaxDelay time.Duration
	// MinDelay prevents refresh loops on clock skew or expired tokens
	MinDelay time.Duration
}

// DefaultRefreshPolicy returns the 5m buffer, 1h default, 12h ceiling and
// 30s floor policy
func DefaultRefreshPolicy() RefreshPolicy {
	return RefreshPolicy{
		Buffer:          5 * time.Minute,
		DefaultInterval: time.Hour,
		MaxDelay:        12 * time.Hour,
		MinDelay:        30 * time.Second,
	}
}

// Delay returns how long to wait before refreshing tokens expiring at
// expiresAt (epoch ms, zero if unknown)
func (p RefreshPolicy) Delay(expiresAt int64, now time.Time) time.Duration {
	delay := p.DefaultInterval
	if expiresAt > 0 {
		delay = time.UnixMilli(expiresAt).Sub(now) - p.Buffer
	}

	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay < p.MinDelay {
		delay = p.MinDelay
	}

	return delay
}
