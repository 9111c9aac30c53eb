package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "modernc.org/sqlite"

	"netspace-tracker/internal/auth"
	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus"
	"netspace-tracker/internal/metrics"
	"netspace-tracker/internal/server/handlers"
	"netspace-tracker/internal/server/services/mailer"
)

const serviceName = "netspace-tracker"

type Server struct {
	config      *core.Config
	logger      *core.Logger
	db          *core.Database
	mailer      *mailer.Mailer
	authService *auth.Service
	registry    *core.Registry
	promReg     *prometheus.Registry
	recorder    *metrics.Collector
	limiter     *RateLimiter
	version     string
	handler     http.Handler
	server      *http.Server
}

// New opens the database, wires the features and builds the router
func New(ctx context.Context, config *core.Config, logger *core.Logger, version string) (*Server, error) {
	// Initialize database
	sqlDB, err := core.OpenSQLite(config.Database.Path)
	if err != nil {
		return nil, err
	}
	db := core.NewDatabase(sqlDB, logger)

	// Test the connection
	if err := db.PingWithTimeout(5 * time.Second); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := auth.Migrate(ctx, db, logger); err != nil {
		sqlDB.Close()
		return nil, err
	}

	authService, err := auth.NewService(db, logger.ForFeature("auth"), config.Auth)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(promReg)

	srv := &Server{
		config:      config,
		logger:      logger,
		db:          db,
		mailer:      newMailer(config.Mail, logger.ForFeature("mailer")),
		authService: authService,
		registry:    core.NewRegistry(logger),
		promReg:     promReg,
		recorder:    recorder,
		limiter:     NewRateLimiter(config.Server.SubscribeRate, logger),
		version:     version,
	}

	// Register features if enabled
	if config.IsFeatureEnabled("netstatus") {
		feature := netstatus.NewFeature(logger.ForFeature("netstatus"), db, netstatus.NewConfig(config), srv.mailer, recorder)
		if err := srv.registry.Register(feature); err != nil {
			srv.limiter.Stop()
			sqlDB.Close()
			return nil, fmt.Errorf("failed to register netstatus feature: %w", err)
		}
	}

	// Setup routes
	srv.setupRoutes()

	return srv, nil
}

// newMailer prefers the SMTP2GO API when a key is configured
func newMailer(config core.MailConfig, logger *core.Logger) *mailer.Mailer {
	var transport mailer.Transport
	if config.SMTP2GOAPIKey != "" {
		transport = mailer.NewSMTP2GOTransport(config.SMTP2GOAPIKey, "", nil)
		logger.Info("Using SMTP2GO API for mail")
	} else {
		transport = mailer.NewSMTPTransport(config.Host, config.Port, config.Username, config.Password)
		logger.Info("Using SMTP for mail", "host", config.Host, "port", config.Port)
	}
	return mailer.New(transport, config.From, logger)
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.logger, s.registry, s.db, serviceName, s.version)
	authHandler := auth.NewHandler(s.authService, s.logger.ForFeature("auth"))
	authMiddleware := auth.NewMiddleware(s.authService, s.logger.ForFeature("auth"))

	// Create router
	mux := chi.NewRouter()

	// Add middleware
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)
	mux.Use(MetricsMiddleware(s.recorder))

	// Health check and metrics
	mux.Get("/health", healthHandler.HealthCheckHandler)
	mux.Handle("/metrics", metrics.Handler(s.promReg))

	// Admin session
	mux.Post("/api/admin/login", s.limiter.Limit(authHandler.LoginHandler))
	mux.Post("/api/admin/logout", authMiddleware.RequireAdmin(authHandler.LogoutHandler))

	// Feature routes - use the registry to get all feature routes
	for _, route := range s.registry.GetAllRoutes() {
		handler := route.Handler
		switch route.Access {
		case core.AccessPublicLimited:
			handler = s.limiter.Limit(handler)
		case core.AccessAdmin:
			handler = authMiddleware.RequireAdmin(handler)
		}
		mux.Method(route.Method, route.Path, handler)
	}

	s.handler = mux
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Init initializes every registered feature
func (s *Server) Init(ctx context.Context) error {
	if err := s.registry.InitAll(ctx); err != nil {
		s.logger.Error("Failed to initialize features", "error", err)
		return err
	}
	return nil
}

// Start initializes the features and serves until Shutdown is called
func (s *Server) Start(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}

	// Start HTTP server
	s.logger.Info("Starting server", "host", s.config.Server.Host, "port", s.config.Server.Port, "version", s.version)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, drains the features and closes the database
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown HTTP server: %w", err))
	}

	// Shutdown all features
	if err := s.registry.ShutdownAll(ctx); err != nil {
		s.logger.Error("Failed to shutdown features", "error", err)
		errs = append(errs, err)
	}

	s.limiter.Stop()

	s.db.LogStats()
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}

	return errors.Join(errs...)
}
