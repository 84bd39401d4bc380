package database

import (
	"context"
	"fmt"
	"time"
)

const (
	connectAttempts = 5
	connectTimeout  = 5 * time.Second
	connectBackoff  = 500 * time.Millisecond
)

// waitReady pings until the store answers. On a device the daemon can start
// before the local databases, so a refused first ping is retried with a
// doubling backoff.
func waitReady(ctx context.Context, name string, ping func(context.Context) error) error {
	backoff := connectBackoff

	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err = ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		if attempt == connectAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not ready: %w", name, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("%s not ready after %d attempts: %w", name, connectAttempts, err)
}
