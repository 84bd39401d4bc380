package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/session-service/internal/domain"
	"github.com/prperemyshlev/session-service/internal/service"
)

const healthCheckTimeout = 2 * time.Second

type pinger func(ctx context.Context) error

// sessionReporter is the part of the session manager the health report reads
type sessionReporter interface {
	Current() *domain.SessionOutcome
	Lifecycle() service.LifecycleSnapshot
}

// HealthChecker reports the backing stores and the device session. Only the
// stores decide pass/fail; an unauthenticated device is healthy.
type HealthChecker struct {
	stores   map[string]pinger
	sessions sessionReporter
}

// NewHealthChecker creates a health checker over the infrastructure stores
func NewHealthChecker(infra Infrastructure, sessions sessionReporter) *HealthChecker {
	return &HealthChecker{
		stores: map[string]pinger{
			"postgres": infra.Postgres().Ping,
			"redis":    infra.Redis().Ping,
		},
		sessions: sessions,
	}
}

// check pings every store concurrently and returns per-store results
func (h *HealthChecker) check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(h.stores))
		healthy = true
	)

	for name, ping := range h.stores {
		name, ping := name, ping
		wg.Add(1)
		go func() {
			defer wg.Done()

			result := "pass"
			if err := ping(ctx); err != nil {
				result = "fail: " + err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			results[name] = result
			if result != "pass" {
				healthy = false
			}
		}()
	}
	wg.Wait()

	return results, healthy
}

// Handler serves GET /health
func (h *HealthChecker) Handler(c *gin.Context) {
	checks, healthy := h.check(c.Request.Context())

	body := gin.H{
		"status": "pass",
		"checks": checks,
	}
	if h.sessions != nil {
		body["session"] = gin.H{
			"status":             h.sessions.Current().Status,
			"listenerRegistered": h.sessions.Lifecycle().ListenerRegistered,
		}
	}

	if !healthy {
		body["status"] = "fail"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	c.JSON(http.StatusOK, body)
}
