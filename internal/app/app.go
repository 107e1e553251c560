package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"contrib.go.opencensus.io/integrations/ocsql"

	"github.com/Notifuse/insights/config"
	"github.com/Notifuse/insights/internal/database"
	"github.com/Notifuse/insights/internal/domain"
	httpHandler "github.com/Notifuse/insights/internal/http"
	"github.com/Notifuse/insights/internal/http/middleware"
	"github.com/Notifuse/insights/internal/repository"
	"github.com/Notifuse/insights/internal/service"
	"github.com/Notifuse/insights/pkg/cache"
	pkgDatabase "github.com/Notifuse/insights/pkg/database"
	"github.com/Notifuse/insights/pkg/filter"
	"github.com/Notifuse/insights/pkg/logger"
	"github.com/Notifuse/insights/pkg/ratelimiter"
	"github.com/Notifuse/insights/pkg/tracing"
)

// AppInterface defines the interface for the App
type AppInterface interface {
	Initialize() error
	Start() error
	Shutdown(ctx context.Context) error

	// Getters for app components accessed in tests
	GetConfig() *config.Config
	GetLogger() logger.Logger
	GetMux() *http.ServeMux
	GetAnalyticsService() domain.AnalyticsService

	// Server status methods
	IsServerCreated() bool
	WaitForServerStart(ctx context.Context) bool

	// Methods for initialization steps
	InitTracing() error
	InitDB() error
	InitServices() error
	InitHandlers() error

	// Graceful shutdown methods
	SetShutdownTimeout(timeout time.Duration)
	GetActiveRequestCount() int64
	GetShutdownContext() context.Context
}

// App encapsulates the application dependencies and configuration
type App struct {
	config      *config.Config
	logger      logger.Logger
	connections pkgDatabase.ConnectionManager
	stopDBStats func()

	dialect          *filter.Dialect
	executor         domain.QueryExecutor
	resultCache      *cache.InMemoryCache
	rateLimiter      *ratelimiter.RateLimiter
	analyticsService *service.AnalyticsService

	// HTTP handlers
	mux    *http.ServeMux
	server *http.Server

	// Server synchronization
	serverMu      sync.RWMutex
	serverStarted chan struct{}

	// Graceful shutdown management
	shutdownCtx     context.Context
	shutdownCancel  context.CancelFunc
	activeRequests  int64          // atomic counter for active HTTP requests
	requestWg       sync.WaitGroup // wait group for active requests
	shutdownTimeout time.Duration
}

// AppOption defines a functional option for configuring the App
type AppOption func(*App)

// WithConnections configures the app to use already opened store pools
func WithConnections(connections pkgDatabase.ConnectionManager) AppOption {
	return func(a *App) {
		a.connections = connections
	}
}

// WithExecutor replaces the store executor, e.g. with a mock
func WithExecutor(executor domain.QueryExecutor) AppOption {
	return func(a *App) {
		a.executor = executor
	}
}

// WithLogger sets a custom logger
func WithLogger(logger logger.Logger) AppOption {
	return func(a *App) {
		a.logger = logger
	}
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, opts ...AppOption) AppInterface {
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	app := &App{
		config:          cfg,
		logger:          logger.NewLoggerWithLevel(cfg.LogLevel),
		mux:             http.NewServeMux(),
		serverStarted:   make(chan struct{}),
		shutdownCtx:     shutdownCtx,
		shutdownCancel:  shutdownCancel,
		shutdownTimeout: shutdownTimeout,
	}

	for _, opt := range opts {
		opt(app)
	}

	return app
}

// InitTracing initializes OpenCensus tracing
func (a *App) InitTracing() error {
	if err := tracing.InitTracing(&a.config.Tracing, a.logger); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	return nil
}

// InitDB opens the store that answers analytics queries
func (a *App) InitDB() error {
	dialect, err := filter.DialectFor(a.config.AnalyticsDialect)
	if err != nil {
		return err
	}
	a.dialect = dialect

	// Skip if connections already set (e.g., by tests)
	if a.connections != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(a.shutdownCtx, 30*time.Second)
	defer cancel()

	var db *sql.DB
	switch dialect.Kind() {
	case filter.KindPostgres:
		a.logger.WithField("host", a.config.Database.Host).
			WithField("port", a.config.Database.Port).
			WithField("dbname", a.config.Database.DBName).
			WithField("sslmode", a.config.Database.SSLMode).
			Info("Connecting to PostgreSQL")
		db, err = database.OpenPostgres(ctx, &a.config.Database, a.config.Tracing.Enabled)
		if err == nil && a.config.Tracing.Enabled {
			a.stopDBStats = ocsql.RecordStats(db, 5*time.Second)
		}
	case filter.KindClickHouse:
		a.logger.WithField("addr", a.config.ClickHouse.Addr).
			WithField("database", a.config.ClickHouse.Database).
			Info("Connecting to ClickHouse")
		db, err = database.OpenClickHouse(ctx, &a.config.ClickHouse)
	}
	if err != nil {
		return err
	}

	a.connections = pkgDatabase.NewConnectionManager(map[string]*sql.DB{
		string(dialect.Kind()): db,
	})
	return nil
}

// InitServices builds the executor, the result cache and the analytics service
func (a *App) InitServices() error {
	if a.dialect == nil {
		return fmt.Errorf("database must be initialized before services")
	}

	if a.executor == nil {
		db, err := a.connections.GetConnection(string(a.dialect.Kind()))
		if err != nil {
			return err
		}

		switch a.dialect.Kind() {
		case filter.KindPostgres:
			a.executor = repository.NewPostgresExecutor(db, a.logger)
		case filter.KindClickHouse:
			a.executor = repository.NewClickHouseExecutor(db, a.logger)
		}
	}

	var resultCache cache.Cache
	if a.config.Cache.TTL > 0 {
		a.resultCache = cache.NewInMemoryCache(a.config.Cache.CleanupInterval, a.config.Cache.MaxEntries)
		resultCache = a.resultCache
	}

	a.analyticsService = service.NewAnalyticsService(
		a.executor,
		a.dialect,
		resultCache,
		service.AnalyticsServiceConfig{
			CacheTTL:             a.config.Cache.TTL,
			MaxConcurrentQueries: a.config.MaxConcurrency,
		},
		a.logger,
	)

	if a.config.RateLimit.Requests > 0 {
		a.rateLimiter = ratelimiter.NewRateLimiter(a.config.RateLimit.Window)
		a.rateLimiter.SetPolicy(middleware.AnalyticsRateNamespace, a.config.RateLimit.Requests, a.config.RateLimit.Window)
	}

	a.logger.WithField("dialect", string(a.dialect.Kind())).
		WithField("cache_ttl", a.config.Cache.TTL.String()).
		Info("Analytics service initialized")
	return nil
}

// InitHandlers registers the HTTP routes
func (a *App) InitHandlers() error {
	// Create a new ServeMux to avoid route conflicts on restart
	a.mux = http.NewServeMux()

	secret := func() ([]byte, error) {
		if len(a.config.Security.JWTSecret) == 0 {
			return nil, fmt.Errorf("JWT secret is not configured")
		}
		return a.config.Security.JWTSecret, nil
	}

	analyticsHandler := httpHandler.NewAnalyticsHandler(a.analyticsService, secret, a.rateLimiter, a.logger)
	analyticsHandler.RegisterRoutes(a.mux)

	if a.connections != nil {
		statsHandler := httpHandler.NewConnectionStatsHandler(a.connections, secret, a.logger, a.config.Version)
		statsHandler.RegisterRoutes(a.mux)
	}

	return nil
}

// Handler returns the mux wrapped in the middleware chain
func (a *App) Handler() http.Handler {
	var handler http.Handler = a.mux

	handler = a.gracefulShutdownMiddleware(handler)

	if a.config.Tracing.Enabled {
		handler = middleware.TracingMiddleware(handler)
	}

	// Outermost so the tracing middleware and handlers see the request id
	return middleware.RequestID(handler)
}

// Start starts the HTTP server
func (a *App) Start() error {
	addr := fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port)
	a.logger.WithField("address", addr).Info(fmt.Sprintf("Server starting on %s", addr))

	a.serverMu.Lock()
	if a.serverStarted != nil {
		select {
		case <-a.serverStarted:
		default:
			close(a.serverStarted)
		}
	}
	a.serverStarted = make(chan struct{})

	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverStarted := a.serverStarted
	server := a.server
	a.serverMu.Unlock()

	// Signal that the server has been created and is about to start
	close(serverStarted)

	if a.config.Server.SSL.Enabled {
		a.logger.WithField("cert_file", a.config.Server.SSL.CertFile).Info("SSL enabled")
		return server.ListenAndServeTLS(a.config.Server.SSL.CertFile, a.config.Server.SSL.KeyFile)
	}

	return server.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight ones up to the shutdown timeout and
// releases the store connections
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Starting graceful shutdown...")

	a.shutdownCancel()

	a.serverMu.RLock()
	server := a.server
	a.serverMu.RUnlock()

	if server == nil {
		a.logger.Info("No server to shutdown")
		return a.cleanupResources()
	}

	a.logger.WithField("active_requests", a.getActiveRequestCount()).Info("Active requests at shutdown start")

	shutdownTimeout := a.shutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < shutdownTimeout {
			shutdownTimeout = remaining
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		a.logger.WithField("error", shutdownErr.Error()).Warn("HTTP server shutdown did not complete")
	}

	requestsDone := make(chan struct{})
	go func() {
		a.requestWg.Wait()
		close(requestsDone)
	}()

	select {
	case <-requestsDone:
		a.logger.Info("All requests completed")
	case <-shutdownCtx.Done():
		a.logger.WithField("active_requests", a.getActiveRequestCount()).Warn("Shutdown timeout reached, forcing shutdown")
	}

	if err := a.cleanupResources(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	if shutdownErr != nil {
		a.logger.WithField("error", shutdownErr.Error()).Error("Graceful shutdown completed with errors")
	} else {
		a.logger.Info("Graceful shutdown completed successfully")
	}
	return shutdownErr
}

// cleanupResources stops background sweeps and closes the store connections
func (a *App) cleanupResources() error {
	a.logger.Info("Cleaning up resources...")

	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}
	if a.resultCache != nil {
		a.resultCache.Stop()
	}
	if a.stopDBStats != nil {
		a.stopDBStats()
	}

	if a.connections != nil {
		a.logger.Info("Closing database connections")
		if err := a.connections.Close(); err != nil {
			a.logger.WithField("error", err.Error()).Error("Error closing database connections")
			return err
		}
	}

	a.logger.Info("Resource cleanup completed")
	return nil
}

// IsServerCreated safely checks if the server has been created
func (a *App) IsServerCreated() bool {
	a.serverMu.RLock()
	defer a.serverMu.RUnlock()
	return a.server != nil
}

// WaitForServerStart waits for the server to be created and initialized
// Returns true if the server started successfully, false if context expired
func (a *App) WaitForServerStart(ctx context.Context) bool {
	a.serverMu.RLock()
	started := a.serverStarted
	a.serverMu.RUnlock()

	if started == nil {
		<-ctx.Done()
		return false
	}

	select {
	case <-started:
		return a.IsServerCreated()
	case <-ctx.Done():
		return false
	}
}

// Initialize sets up all components of the application
func (a *App) Initialize() error {
	a.logger.WithField("version", a.config.Version).Info("Starting Insights application")

	if err := a.InitTracing(); err != nil {
		return err
	}

	if err := a.InitDB(); err != nil {
		return err
	}

	if err := a.InitServices(); err != nil {
		return err
	}

	if err := a.InitHandlers(); err != nil {
		return err
	}

	a.logger.Info("Application successfully initialized")
	return nil
}

// GetConfig returns the app's configuration
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetLogger returns the app's logger
func (a *App) GetLogger() logger.Logger {
	return a.logger
}

// GetMux returns the app's HTTP multiplexer
func (a *App) GetMux() *http.ServeMux {
	return a.mux
}

// GetAnalyticsService returns the analytics service
func (a *App) GetAnalyticsService() domain.AnalyticsService {
	if a.analyticsService == nil {
		return nil
	}
	return a.analyticsService
}

func (a *App) incrementActiveRequests() {
	atomic.AddInt64(&a.activeRequests, 1)
	a.requestWg.Add(1)
}

func (a *App) decrementActiveRequests() {
	atomic.AddInt64(&a.activeRequests, -1)
	a.requestWg.Done()
}

func (a *App) getActiveRequestCount() int64 {
	return atomic.LoadInt64(&a.activeRequests)
}

// GetActiveRequestCount returns the current number of active requests
func (a *App) GetActiveRequestCount() int64 {
	return a.getActiveRequestCount()
}

// SetShutdownTimeout sets the timeout for graceful shutdown
func (a *App) SetShutdownTimeout(timeout time.Duration) {
	a.shutdownTimeout = timeout
}

// GetShutdownContext returns the shutdown context for components that need to watch for shutdown
func (a *App) GetShutdownContext() context.Context {
	return a.shutdownCtx
}

func (a *App) isShuttingDown() bool {
	select {
	case <-a.shutdownCtx.Done():
		return true
	default:
		return false
	}
}

// gracefulShutdownMiddleware tracks active requests and refuses new ones once shutdown began
func (a *App) gracefulShutdownMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.isShuttingDown() {
			httpHandler.WriteJSONError(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}

		a.incrementActiveRequests()
		defer a.decrementActiveRequests()

		next.ServeHTTP(w, r)
	})
}

// Ensure App implements AppInterface
var _ AppInterface = (*App)(nil)
