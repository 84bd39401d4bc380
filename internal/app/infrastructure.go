package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prperemyshlev/session-service/internal/config"
	"github.com/prperemyshlev/session-service/pkg/database"
	"github.com/prperemyshlev/session-service/pkg/observability"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

const (
	serviceName = "session-service"

	// deviceIDKey holds the generated device id when DEVICE_ID is not set
	deviceIDKey = "sessiond:device_id"
)

type Infrastructure interface {
	Postgres() *database.Postgres
	Redis() *database.Redis
	Logger() *zap.Logger
	MetricsHandler() http.Handler
	MeterProvider() *metric.MeterProvider
	DeviceID() string

	Shutdown(ctx context.Context) error
}

// infrastructure owns the connections shared by every component. closers
// runs in reverse acquisition order, both on a failed start and at shutdown.
type infrastructure struct {
	postgres       *database.Postgres
	redis          *database.Redis
	logger         *zap.Logger
	metricsHandler http.Handler
	meterProvider  *metric.MeterProvider
	deviceID       string
	closers        []func() error
}

var _ Infrastructure = &infrastructure{}

// NewInfrastructure connects the stores, runs migrations and resolves the
// device id
func NewInfrastructure(ctx context.Context, cfg config.Config) (_ *infrastructure, err error) {
	i := &infrastructure{}
	defer func() {
		if err != nil {
			_ = i.close()
		}
	}()

	if i.logger, err = observability.InitLogger(cfg.Env); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if i.postgres, err = database.NewPostgres(ctx, cfg.Postgres.DSN()); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	i.closers = append(i.closers, i.postgres.Close)

	if err = i.postgres.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate PostgreSQL: %w", err)
	}

	i.redis, err = database.NewRedis(ctx, database.RedisOptions{
		Addr:     cfg.Redis.Address(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	i.closers = append(i.closers, i.redis.Close)

	if i.deviceID, err = resolveDeviceID(ctx, i.redis, cfg.DeviceID); err != nil {
		return nil, err
	}

	if i.meterProvider, i.metricsHandler, err = observability.InitTelemetry(serviceName); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	i.logger.Info("Infrastructure ready", zap.String("device_id", i.deviceID))

	return i, nil
}

func (i *infrastructure) close() error {
	var errs []error
	for idx := len(i.closers) - 1; idx >= 0; idx-- {
		errs = append(errs, i.closers[idx]())
	}
	i.closers = nil
	return errors.Join(errs...)
}

// resolveDeviceID returns the configured device id, or a generated one that
// is kept in Redis so the session survives restarts
func resolveDeviceID(ctx context.Context, redis *database.Redis, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	if _, err := redis.Client.SetNX(ctx, deviceIDKey, uuid.NewString(), 0).Result(); err != nil {
		return "", fmt.Errorf("failed to generate device id: %w", err)
	}

	deviceID, err := redis.Client.Get(ctx, deviceIDKey).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	return deviceID, nil
}

func (i *infrastructure) Postgres() *database.Postgres {
	return i.postgres
}

func (i *infrastructure) Redis() *database.Redis {
	return i.redis
}

func (i *infrastructure) Logger() *zap.Logger {
	return i.logger
}

func (i *infrastructure) MetricsHandler() http.Handler {
	return i.metricsHandler
}

func (i *infrastructure) MeterProvider() *metric.MeterProvider {
	return i.meterProvider
}

func (i *infrastructure) DeviceID() string {
	return i.deviceID
}

// Shutdown flushes telemetry and closes the stores
func (i *infrastructure) Shutdown(ctx context.Context) error {
	telemetryErr := observability.Shutdown(ctx, i.meterProvider, i.logger)
	return errors.Join(telemetryErr, i.close())
}
