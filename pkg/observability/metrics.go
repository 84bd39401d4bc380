package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/prperemyshlev/session-service"

// PrometheusHandler returns a Gin handler for Prometheus metrics
func PrometheusHandler(handler http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if handler != nil {
			handler.ServeHTTP(c.Writer, c.Request)
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "metrics handler not initialized",
			})
		}
	}
}

// SessionMetrics records session recovery and refresh activity
type SessionMetrics struct {
	recoveries   otelmetric.Int64Counter
	fallthroughs otelmetric.Int64Counter
	refreshes    otelmetric.Int64Counter
}

// NewSessionMetrics creates the session instruments on provider
func NewSessionMetrics(provider otelmetric.MeterProvider) (*SessionMetrics, error) {
	meter := provider.Meter(meterName)

	recoveries, err := meter.Int64Counter("session_recoveries_total",
		otelmetric.WithDescription("Session recoveries by outcome status and provider"))
	if err != nil {
		return nil, fmt.Errorf("failed to create recoveries counter: %w", err)
	}

	fallthroughs, err := meter.Int64Counter("session_provider_fallthrough_total",
		otelmetric.WithDescription("Recovery tiers that yielded no session"))
	if err != nil {
		return nil, fmt.Errorf("failed to create fallthrough counter: %w", err)
	}

	refreshes, err := meter.Int64Counter("session_refreshes_total",
		otelmetric.WithDescription("Session refreshes by trigger"))
	if err != nil {
		return nil, fmt.Errorf("failed to create refreshes counter: %w", err)
	}

	return &SessionMetrics{
		recoveries:   recoveries,
		fallthroughs: fallthroughs,
		refreshes:    refreshes,
	}, nil
}

// RecordRecovery counts a finished recovery by status and winning provider
func (m *SessionMetrics) RecordRecovery(ctx context.Context, status, provider string) {
	if m == nil {
		return
	}
	m.recoveries.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("status", status),
		attribute.String("provider", provider),
	))
}

// RecordFallthrough counts a provider that had no usable session
func (m *SessionMetrics) RecordFallthrough(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.fallthroughs.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("provider", provider)))
}

// RecordRefresh counts a refresh by trigger
func (m *SessionMetrics) RecordRefresh(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("trigger", trigger)))
}
