package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/authz"
	"github.com/spendlens/spendlens-api/internal/config"
	"github.com/spendlens/spendlens-api/internal/datastore"
	"github.com/spendlens/spendlens-api/internal/executor"
	"github.com/spendlens/spendlens-api/internal/handlers"
	"github.com/spendlens/spendlens-api/internal/middleware"
	"github.com/spendlens/spendlens-api/internal/migration"
	"github.com/spendlens/spendlens-api/internal/notification"
	"github.com/spendlens/spendlens-api/internal/processor"
	"github.com/spendlens/spendlens-api/internal/quota"
	"github.com/spendlens/spendlens-api/internal/repository"
	"github.com/spendlens/spendlens-api/internal/routes"
	"github.com/spendlens/spendlens-api/internal/scheduler"
	"github.com/spendlens/spendlens-api/internal/secrets"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config        *config.Config
	db            *sql.DB
	logger        zerolog.Logger
	notifications notification.Service
	executor      *executor.Executor
	scheduler     *scheduler.Scheduler
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	gooseAdapter := migration.NewGooseAdapter(logger)
	goose.SetLogger(gooseAdapter)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	// Repositories
	tenantRepo := repository.NewTenantRepository(db)
	credRepo := repository.NewCredentialRepository(db)
	quotaRepo := repository.NewQuotaRepository(db)
	runRepo := repository.NewRunRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Credential store over the configured keyring.
	keyring, err := cfg.Keyring()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build encryption keyring")
	}
	credStore := secrets.NewStore(credRepo, keyring, logger)

	// Admission gate.
	gate := quota.NewGate(tenantRepo, quotaRepo, credStore, logger)

	// Processor registry from the job catalog.
	defs, err := config.LoadJobDefinitions(cfg.JobsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load job catalog")
	}
	clients := make(map[string]processor.APIClient, len(cfg.Providers))
	for provider, pc := range cfg.Providers {
		clients[provider] = processor.NewHTTPClient(pc.BaseURL, logger)
	}
	registry, err := processor.Build(defs, processor.Deps{
		Store:   datastore.NewPostgresStore(db, logger),
		Clients: clients,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build processor registry")
	}
	logger.Info().Int("jobs", len(defs)).Msg("Job catalog loaded")

	// Notification service.
	notificationService := notification.NewService(notificationRepo, logger)

	// Executor and scheduler.
	exec := executor.New(executor.Config{
		Workers:          cfg.Executor.Workers,
		QueueSize:        cfg.Executor.QueueSize,
		MaxRunDuration:   cfg.Executor.MaxRunDuration,
		WatchdogInterval: cfg.Executor.WatchdogInterval,
	}, runRepo, gate, credStore, registry, notificationService, logger)

	sched := scheduler.New(scheduler.Config{
		TickInterval: cfg.Scheduler.TickInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
	}, scheduleRepo, exec, logger)

	app := &application{
		config:        cfg,
		db:            db,
		logger:        logger,
		notifications: notificationService,
		executor:      exec,
		scheduler:     sched,
	}

	// Start background work. The executor sweeps orphaned runs before its
	// workers accept tasks.
	workCtx, stopWork := context.WithCancel(context.Background())
	if err := exec.Start(workCtx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start executor")
	}
	go func() {
		if err := sched.Start(workCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Scheduler stopped with error")
		}
	}()

	// Initialize the HTTP router and middleware.
	router := app.initRouter(tenantRepo, credStore, registry, scheduleRepo, logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization", "X-API-Key"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, stopWork, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(tenantRepo repository.TenantRepository, credStore *secrets.Store, registry *processor.Registry, scheduleRepo repository.ScheduleRepository, logger zerolog.Logger) http.Handler {
	auth := authz.NewAuthenticator(tenantRepo, app.config.JWTSecret, logger)

	runHandler := handlers.NewRunHandler(app.executor, logger)
	credHandler := handlers.NewCredentialHandler(credStore, logger)
	jobHandler := handlers.NewJobHandler(registry)
	scheduleHandler := handlers.NewScheduleHandler(scheduleRepo, registry, logger)
	notificationHandler := handlers.NewNotificationHandler(app.notifications, logger)

	return routes.NewRouter(auth, runHandler, credHandler, jobHandler, scheduleHandler, notificationHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, stopWork context.CancelFunc, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Stop the scheduler and drain the executor workers.
	logger.Info().Msg("Stopping background workers...")
	stopWork()
	app.executor.Wait()
	logger.Info().Msg("Background workers stopped.")
}
