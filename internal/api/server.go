package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	mw "github.com/tphakala/wildwatch/internal/api/middleware"
	v2 "github.com/tphakala/wildwatch/internal/api/v2"
	"github.com/tphakala/wildwatch/internal/broadcast"
	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/logger"
	"github.com/tphakala/wildwatch/internal/observability"
)

// Server is the WildWatch HTTP server. It owns the echo instance, the
// middleware stack and the v2 controller.
type Server struct {
	echo   *echo.Echo
	config *Config
	log    logger.Logger

	// Dependencies
	service     v2.Ingestor
	hub         *broadcast.Hub
	metrics     *observability.Metrics
	healthCheck func(ctx context.Context) error
	version     string

	apiController *v2.Controller

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithService sets the ingestion pipeline behind the API.
func WithService(svc v2.Ingestor) ServerOption {
	return func(s *Server) { s.service = svc }
}

// WithHub sets the live stream hub. Without it /api/v2/stream is not mounted.
func WithHub(hub *broadcast.Hub) ServerOption {
	return func(s *Server) { s.hub = hub }
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithHealthCheck sets the dependency probe used by the health endpoint.
func WithHealthCheck(fn func(ctx context.Context) error) ServerOption {
	return func(s *Server) { s.healthCheck = fn }
}

// WithVersion sets the reported build version.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// WithConfig overrides the config derived from settings.
func WithConfig(cfg *Config) ServerOption {
	return func(s *Server) { s.config = cfg }
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	s := &Server{
		config: ConfigFromSettings(settings),
		log:    GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.config.Validate(); err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryConfiguration).
			Context("address", s.config.Address()).
			Build()
	}
	if s.service == nil {
		return nil, errors.Newf("http server requires an ingestion service").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Logger = logger.NewEchoLoggerAdapter(s.log.Module("echo"))
	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout
	s.echo.Server.IdleTimeout = s.config.IdleTimeout

	s.setupMiddleware()
	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.log.Info("HTTP server initialized",
		logger.String("address", s.config.Address()),
		logger.Bool("auth", s.config.APIKey != ""),
		logger.Float64("rate_limit", s.config.RateLimit))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == s.config.MetricsPath
	}))

	securityConfig := mw.DefaultSecurityConfig()
	if len(s.config.AllowedOrigins) > 0 {
		securityConfig.AllowedOrigins = s.config.AllowedOrigins
	}
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewRateLimiter(s.config.RateLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() error {
	s.echo.GET("/health", s.healthCheckHandler)

	if s.config.MetricsEnabled && s.metrics != nil {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}

	opts := []v2.Option{
		v2.WithAPIKey(s.config.APIKey),
		v2.WithKeepAlive(s.config.KeepAlive),
		v2.WithHealthCheck(s.healthCheck),
		v2.WithVersion(s.version),
		v2.WithStreamLimiter(rate.NewLimiter(v2.DefaultStreamRate, v2.DefaultStreamBurst)),
	}
	if s.metrics != nil {
		opts = append(opts, v2.WithMetrics(s.metrics.Pipeline))
	}

	controller, err := v2.New(s.echo, s.service, s.hub, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize API v2: %w", err)
	}
	s.apiController = controller

	s.log.Debug("routes initialized", logger.Int("count", len(s.echo.Routes())))
	return nil
}

// healthCheckHandler is the unauthenticated liveness probe.
func (s *Server) healthCheckHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   s.version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Start binds the listener and serves in a background goroutine. It
// returns once the address is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("address", s.config.Address()).
			Build()
	}

	s.mu.Lock()
	s.listener = ln
	s.serveErr = make(chan error, 1)
	s.echo.Listener = ln
	s.mu.Unlock()

	s.log.Info("HTTP server starting", logger.String("address", ln.Addr().String()))
	go func() {
		err := s.echo.Start("")
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", logger.Error(err))
			s.serveErr <- err
		}
		close(s.serveErr)
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// StartWithGracefulShutdown starts the server and shuts it down on SIGINT,
// SIGTERM or ctx cancellation.
func (s *Server) StartWithGracefulShutdown(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		s.log.Info("shutdown signal received, initiating graceful shutdown")
	case err := <-s.serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown ends live streams and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.apiController != nil {
		s.apiController.Shutdown()
	}

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.log.Info("HTTP server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Routes lists the registered method and path pairs, for diagnostics.
func (s *Server) Routes() []string {
	routes := make([]string, 0, len(s.echo.Routes()))
	for _, r := range s.echo.Routes() {
		routes = append(routes, strings.Join([]string{r.Method, r.Path}, " "))
	}
	return routes
}
