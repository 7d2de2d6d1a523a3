package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"rosterbot/internal/api"
	"rosterbot/internal/attempts"
	"rosterbot/internal/config"
	"rosterbot/internal/cooldown"
	"rosterbot/internal/database"
	"rosterbot/internal/hub"
	"rosterbot/internal/metrics"
	"rosterbot/internal/ranking"
	"rosterbot/internal/registration"
	"rosterbot/internal/router"
	"rosterbot/internal/session"
	"rosterbot/internal/sweeper"
	"rosterbot/internal/websocket"
	"rosterbot/pkg/interfaces"
	pkgdatabase "rosterbot/pkg/database"
)

// cooldownStore is a cooldown keyspace the sweeper can also prune.
type cooldownStore interface {
	interfaces.CooldownStore
	sweeper.Target
}

// Application owns every component and their lifecycle.
type Application struct {
	config *config.Config
	logger *slog.Logger

	dbManager       *database.Manager
	redis           *redis.Client
	buttonCooldown  cooldownStore
	refreshCooldown cooldownStore
	failures        *attempts.Tracker
	sessions        *session.Registry
	registrations   *registration.Machine
	metrics         *metrics.Collectors
	router          *router.Router
	hub             *hub.Hub
	sweeper         *sweeper.Sweeper
	relays          *websocket.Registry
	apiServer       *api.Server
	httpServer      *http.Server
}

// NewApplication wires components in dependency order:
// Database → Cooldowns/Failures → Sessions → Ranking → Registration → Router →
// Hub → Sweeper → Gateway/API → HTTP.
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{config: cfg, logger: logger.With("component", "app")}

	// STEP 1: character store and schema
	dbManager, err := database.NewManager(cfg.StoreConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	app.dbManager = dbManager
	if err := pkgdatabase.NewMigrationManager(dbManager.GetDB()).ApplyMigrations(); err != nil {
		_ = app.closeResources()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).ValidateSchema(); err != nil {
		_ = app.closeResources()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	app.logger.Info("database ready", "path", cfg.Database.Path)

	// STEP 2: throttling state
	if err := app.initCooldowns(ctx); err != nil {
		_ = app.closeResources()
		return nil, err
	}
	app.failures = attempts.NewTracker(cfg.Limits.MaxFailures, cfg.Limits.FailureWindow)

	// STEP 3: sessions
	app.sessions = session.NewRegistry(session.Config{
		MaxOpen:          cfg.Limits.MaxOpenSessions,
		InteractionLimit: cfg.Limits.InteractionLimit,
		MaxAge:           cfg.Limits.SessionMaxAge,
		IdleTimeout:      cfg.Limits.PlatformTimeout,
		CompletedTTL:     cfg.Limits.CompletedMarkerTTL,
	}, logger)
	guard := session.NewGuard(app.sessions)

	app.relays = websocket.NewRegistry(logger)
	app.metrics = metrics.New(
		func() float64 { return float64(app.sessions.OpenCount()) },
		func() float64 { return float64(app.relays.Count()) },
	)

	// STEP 4: ranking service
	rankingClient := ranking.NewClient(cfg.Ranking, nil, logger)

	// STEP 5: registration flows
	regCfg := registration.DefaultConfig()
	regCfg.MaxCharacters = cfg.Limits.MaxCharactersPerUser
	regCfg.ProfilePrefix = cfg.Limits.ProfilePrefix
	regCfg.LookupTimeout = cfg.Ranking.Timeout
	app.registrations = registration.NewMachine(regCfg, app.sessions, app.failures, rankingClient, dbManager, logger).
		WithObserver(app.metrics)

	// STEP 6: router
	routerCfg := router.DefaultConfig()
	routerCfg.AdminIDs = cfg.Bot.AdminIDs
	routerCfg.ProfileListCap = cfg.Limits.ProfileListCap
	routerCfg.LookupTimeout = cfg.Ranking.Timeout
	routerCfg.WelcomeChannelID = cfg.Bot.WelcomeChannelID
	app.router = router.New(routerCfg, router.Dependencies{
		Sessions:        app.sessions,
		Guard:           guard,
		Registrations:   app.registrations,
		Store:           dbManager,
		Ranking:         rankingClient,
		ButtonCooldown:  app.buttonCooldown,
		RefreshCooldown: app.refreshCooldown,
		Observer:        app.metrics,
	}, logger)

	// STEP 7: per-user event lanes
	app.hub = hub.NewHub(hub.DefaultConfig(), app.router, logger)

	// STEP 8: expiry sweeper
	app.sweeper = sweeper.New(cfg.Sweeper.Interval, cfg.Sweeper.ReclaimMemory, logger,
		app.buttonCooldown, app.refreshCooldown, app.failures, app.sessions, app.registrations,
	).WithObserver(app.metrics)

	// STEP 9: gateway and API
	wsCfg := websocket.DefaultConfig()
	wsCfg.PingInterval = cfg.WebSocket.PingInterval
	wsCfg.ReadTimeout = cfg.WebSocket.ReadTimeout
	wsCfg.WriteTimeout = cfg.WebSocket.WriteTimeout
	wsCfg.BufferSize = cfg.WebSocket.BufferSize
	wsCfg.RelayToken = cfg.WebSocket.RelayToken
	gateway := websocket.NewHandler(wsCfg, app.relays, app.hub, app.router.Welcome, logger)

	app.apiServer = api.NewServer(dbManager, app.router, api.Options{
		Stats:   app.stats,
		Metrics: app.metrics.Handler(),
		Gateway: http.HandlerFunc(gateway.HandleWebSocket),
	}, logger)

	// STEP 10: HTTP server
	app.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

func (app *Application) initCooldowns(ctx context.Context) error {
	limits := app.config.Limits
	switch app.config.Cooldown.Backend {
	case config.BackendRedis:
		c := app.config.Cooldown
		rdb, err := cooldown.NewRedis(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			return fmt.Errorf("failed to connect cooldown store: %w", err)
		}
		app.redis = rdb
		app.buttonCooldown = cooldown.NewRedisTracker(rdb, c.KeyPrefix, "button", limits.ButtonCooldown)
		app.refreshCooldown = cooldown.NewRedisTracker(rdb, c.KeyPrefix, "refresh", limits.RefreshCooldown)
		app.logger.Info("cooldowns backed by redis", "addr", c.RedisAddr)
	default:
		app.buttonCooldown = cooldown.NewTracker("button", limits.ButtonCooldown)
		app.refreshCooldown = cooldown.NewTracker("refresh", limits.RefreshCooldown)
	}
	return nil
}

// stats feeds the counters reported by /health.
func (app *Application) stats() map[string]int {
	runs, failures, _ := app.sweeper.Stats()
	return map[string]int{
		"open_sessions":      app.sessions.OpenCount(),
		"failure_records":    app.failures.Len(),
		"registration_flows": app.registrations.Len(),
		"relays":             app.relays.Count(),
		"active_lanes":       app.hub.ActiveLanes(),
		"sweeper_runs":       runs,
		"sweeper_failures":   failures,
	}
}

// Start runs the hub and sweeper, then begins serving HTTP.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting rosterbot", "addr", app.httpServer.Addr)

	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	if err := app.sweeper.Start(ctx); err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.sweeper.Stop()
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("rosterbot started")
		return nil
	case <-ctx.Done():
		app.sweeper.Stop()
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse order: HTTP → Gateway → Hub →
// Sweeper → Cooldown store → Database.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down rosterbot")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	app.relays.CloseAll()
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub: %w", err))
	}
	app.sweeper.Stop()
	if err := app.closeResources(); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		app.logger.Error("shutdown finished with errors", "err", err)
	} else {
		app.logger.Info("rosterbot shutdown complete")
	}
	return err
}

func (app *Application) closeResources() error {
	var errs []error
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if app.dbManager != nil {
		if err := app.dbManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GetAddr returns the HTTP listen address.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// Handler returns the HTTP handler, for tests that serve it directly.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Hub returns the event hub.
func (app *Application) Hub() *hub.Hub {
	return app.hub
}
