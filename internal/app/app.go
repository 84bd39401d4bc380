package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prperemyshlev/session-service/internal/config"
	"github.com/prperemyshlev/session-service/internal/handler"
	"github.com/prperemyshlev/session-service/internal/identity"
	"github.com/prperemyshlev/session-service/internal/repository"
	"github.com/prperemyshlev/session-service/internal/service"
	"github.com/prperemyshlev/session-service/internal/utils"
	"github.com/prperemyshlev/session-service/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	infra    Infrastructure
	config   *config.Config
	router   *gin.Engine
	server   *http.Server
	sessions *service.SessionManager
}

// NewApp wires repositories, identity clients, the session manager and the
// HTTP router on top of infra
func NewApp(infra Infrastructure, cfg *config.Config) (*App, error) {
	logger := infra.Logger()
	clock := clockwork.NewRealClock()

	sealer, err := utils.NewSealer(cfg.Security.TokenSealingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create token sealer: %w", err)
	}

	repos := repository.NewRepositories(infra.Postgres(), infra.Redis(), sealer, infra.DeviceID())
	store := service.NewSessionStore(repos.KeyValue, repos.Token, logger)

	profiles := identity.NewProfileStatusClient(cfg.Profile.StatusURL, cfg.Profile.Timeout.Duration)
	hosted := identity.NewHostedAuthClient(identity.HostedAuthConfig{
		TokenURL:     cfg.HostedAuth.TokenURL,
		UserInfoURL:  cfg.HostedAuth.UserInfoURL,
		ClientID:     cfg.HostedAuth.ClientID,
		ClientSecret: cfg.HostedAuth.ClientSecret,
		Timeout:      cfg.HostedAuth.Timeout.Duration,
	}, repos.KeyValue)
	federated := identity.NewFederatedAuthClient(identity.FederatedAuthConfig{
		APIKey:    cfg.FederatedAuth.APIKey,
		TokenURL:  cfg.FederatedAuth.TokenURL,
		LookupURL: cfg.FederatedAuth.LookupURL,
		Timeout:   cfg.FederatedAuth.Timeout.Duration,
	}, repos.KeyValue)

	// recovery order: hosted-auth, federated identity, stored tokens
	providers := []service.SessionProvider{
		service.NewHostedSessionProvider(hosted, profiles),
		service.NewFederatedSessionProvider(federated, profiles, store),
		service.NewStoredSessionProvider(store, clock, logger),
	}

	metrics, err := observability.NewSessionMetrics(infra.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create session metrics: %w", err)
	}

	appState := service.NewAppStateBus()
	sessions := service.NewSessionManager(store, providers, appState, clock, service.SessionManagerConfig{
		Policy: service.RefreshPolicy{
			Buffer:          cfg.Session.RefreshBuffer.Duration,
			DefaultInterval: cfg.Session.DefaultRefresh.Duration,
			MaxDelay:        cfg.Session.MaxRefreshDelay.Duration,
			MinDelay:        cfg.Session.MinRefreshDelay.Duration,
		},
		ForegroundThreshold: cfg.Session.ForegroundThreshold.Duration,
		RecoverTimeout:      cfg.Session.RecoverTimeout.Duration,
	}, metrics, logger)

	rateLimiter := service.NewRateLimiter(infra.Redis(), clock)
	healthChecker := NewHealthChecker(infra, sessions)

	sessionHandler := handler.NewSessionHandler(sessions)
	lifecycleHandler := handler.NewLifecycleHandler(appState)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(handler.LoggerMiddleware(logger))
	router.Use(handler.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))

	setupRoutes(router, cfg, logger, sessionHandler, lifecycleHandler, rateLimiter, healthChecker, infra.MetricsHandler())

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	return &App{
		infra:    infra,
		config:   cfg,
		router:   router,
		server:   srv,
		sessions: sessions,
	}, nil
}

// Router returns the HTTP router
func (a *App) Router() *gin.Engine {
	return a.router
}

// Sessions returns the device session manager
func (a *App) Sessions() *service.SessionManager {
	return a.sessions
}

func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	logger *zap.Logger,
	sessionHandler *handler.SessionHandler,
	lifecycleHandler *handler.LifecycleHandler,
	rateLimiter *service.RateLimiter,
	healthChecker *HealthChecker,
	metricsHandler http.Handler,
) {
	router.GET("/metrics", observability.PrometheusHandler(metricsHandler))
	router.GET("/health", healthChecker.Handler)

	api := router.Group("/api/v1")
	{
		session := api.Group("/session")
		{
			session.POST("/recover",
				handler.RateLimitMiddleware(rateLimiter, cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow.Duration, handler.IPBasedKey, logger),
				sessionHandler.Recover,
			)
			session.GET("", sessionHandler.Get)
			session.PUT("", sessionHandler.Establish)
			session.DELETE("", sessionHandler.SignOut)
			session.POST("/refreshed", sessionHandler.MarkRefreshed)
			session.GET("/pending-profile", sessionHandler.PendingProfile)
		}

		api.POST("/lifecycle/state", lifecycleHandler.SetState)
	}
}

// Run serves HTTP and boots the session until ctx is done, then shuts down
func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		a.infra.Logger().Info("Application starting",
			zap.String("host", a.config.Server.Host),
			zap.String("port", a.config.Server.Port),
			zap.String("device_id", a.infra.DeviceID()),
		)

		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.infra.Logger().Error("Server error", zap.Error(err))
			errChan <- err
		}
	}()

	go a.boot(ctx)

	var serverErr error
	select {
	case err := <-errChan:
		a.infra.Logger().Error("Application failed to start", zap.Error(err))
		serverErr = err
	case <-ctx.Done():
		a.infra.Logger().Info("Application stopped by context")
	}

	if err := a.Shutdown(); err != nil {
		a.infra.Logger().Error("Shutdown error", zap.Error(err))
		if serverErr != nil {
			return errors.Join(serverErr, err)
		}
		return err
	}

	return serverErr
}

// boot recovers the device session once at startup
func (a *App) boot(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Session.RecoverTimeout.Duration)
	defer cancel()

	outcome := a.sessions.Boot(ctx)
	a.infra.Logger().Info("Session recovered at startup",
		zap.String("status", string(outcome.Status)),
		zap.String("provider", string(outcome.Provider)),
	)
}

// Shutdown stops refreshing, drains the server and releases the infrastructure
func (a *App) Shutdown() error {
	a.infra.Logger().Info("Application shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.sessions.Shutdown()

	errs := make(chan error, 2)

	go func() {
		errs <- a.server.Shutdown(ctx)
	}()

	go func() {
		errs <- a.infra.Shutdown(ctx)
	}()

	err := errors.Join(<-errs, <-errs)
	if err != nil {
		a.infra.Logger().Error("Shutdown failed", zap.Error(err))
		return err
	}

	a.infra.Logger().Info("Application exited successfully")
	return nil
}
