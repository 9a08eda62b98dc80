// Package v2 implements the /api/v2 ingestion, device, report and live
// stream endpoints.
package v2

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	mw "github.com/tphakala/wildwatch/internal/api/middleware"
	"github.com/tphakala/wildwatch/internal/broadcast"
	"github.com/tphakala/wildwatch/internal/datastore"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/ingest"
	"github.com/tphakala/wildwatch/internal/logger"
	"github.com/tphakala/wildwatch/internal/observability/metrics"
)

// Ingestor is the pipeline the controller drives
type Ingestor interface {
	Ingest(ctx context.Context, ev ingest.DetectionEvent) (*ingest.Outcome, error)
	Heartbeat(ctx context.Context, deviceID string) (ingest.DeviceStatus, error)
	DeviceStatus(ctx context.Context, deviceID string) (ingest.DeviceStatus, error)
	ChangeStatus(ctx context.Context, change datastore.StatusChange) (*datastore.Report, *datastore.Notification, error)
}

// Defaults for the live stream endpoint
const (
	DefaultKeepAlive       = 30 * time.Second
	DefaultStreamRate      = 10 // new connections per second
	DefaultStreamBurst     = 20
	DefaultSSEWriteTimeout = 10 * time.Second
)

// Controller manages the API routes and handlers
type Controller struct {
	Group *echo.Group

	svc     Ingestor
	hub     *broadcast.Hub
	metrics *metrics.PipelineMetrics
	log     logger.Logger

	apiKey        string
	keepAlive     time.Duration
	streamLimiter *rate.Limiter
	healthCheck   func(ctx context.Context) error
	version       string

	startTime time.Time
	shutdown  chan struct{}
	closeOnce sync.Once
}

// Option configures a Controller
type Option func(*Controller)

// WithAPIKey sets the shared device secret. An empty key rejects every
// authenticated request.
func WithAPIKey(key string) Option {
	return func(c *Controller) { c.apiKey = key }
}

// WithMetrics records rejected requests in the pipeline metrics
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithKeepAlive sets the SSE keepalive interval
func WithKeepAlive(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.keepAlive = d
		}
	}
}

// WithStreamLimiter replaces the limiter applied to new SSE connections
func WithStreamLimiter(l *rate.Limiter) Option {
	return func(c *Controller) { c.streamLimiter = l }
}

// WithHealthCheck adds a dependency probe to the health endpoint
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(c *Controller) { c.healthCheck = fn }
}

// WithVersion sets the version reported by the health endpoint
func WithVersion(v string) Option {
	return func(c *Controller) { c.version = v }
}

// New registers the v2 routes on e. hub may be nil, in which case the live
// stream endpoint is not mounted.
func New(e *echo.Echo, svc Ingestor, hub *broadcast.Hub, opts ...Option) (*Controller, error) {
	if svc == nil {
		return nil, errors.Newf("api v2 requires an ingestor").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Controller{
		svc:           svc,
		hub:           hub,
		log:           GetLogger(),
		keepAlive:     DefaultKeepAlive,
		streamLimiter: rate.NewLimiter(DefaultStreamRate, DefaultStreamBurst),
		startTime:     time.Now(),
		shutdown:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Group = e.Group("/api/v2")
	c.initRoutes()
	return c, nil
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	auth := mw.NewAPIKeyAuth(c.apiKey, c.onAuthReject)

	c.Group.POST("/detections", c.PostDetection, auth)
	c.Group.POST("/devices/:id/heartbeat", c.PostHeartbeat, auth)
	c.Group.GET("/devices/:id/status", c.GetDeviceStatus, auth)
	c.Group.PATCH("/reports/:id/status", c.PatchReportStatus, auth)

	if c.hub != nil {
		c.Group.GET("/stream", c.StreamEvents, auth)
	}
}

func (c *Controller) onAuthReject(ctx echo.Context) {
	c.metrics.RecordRejection("api_key")
	c.log.Warn("rejected request with invalid api key",
		logger.String("path", ctx.Request().URL.Path),
		logger.String("ip", ctx.RealIP()))
}

// HealthCheck handles the API health check endpoint
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	response := map[string]any{
		"status":         "healthy",
		"version":        c.version,
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if c.hub != nil {
		response["live_clients"] = c.hub.ClientCount()
	}

	code := http.StatusOK
	if c.healthCheck != nil {
		response["database_status"] = "connected"
		if err := c.healthCheck(ctx.Request().Context()); err != nil {
			response["status"] = "degraded"
			response["database_status"] = "disconnected"
			response["database_error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	return ctx.JSON(code, response)
}

// Shutdown ends open live streams
func (c *Controller) Shutdown() {
	c.closeOnce.Do(func() { close(c.shutdown) })
}

// ErrorResponse is the body of every API error
type ErrorResponse struct {
	OK            bool   `json:"ok"`
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
}

// HandleError logs err and writes an ErrorResponse
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	log := c.log.WithContext(ctx.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("API error", fields...)
	} else {
		log.Debug("API error", fields...)
	}

	return ctx.JSON(code, resp)
}

// statusFor maps pipeline and store errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrUnknownDevice),
		errors.Is(err, datastore.ErrDeviceNotFound),
		errors.Is(err, datastore.ErrReportNotFound):
		return http.StatusNotFound
	case errors.Is(err, datastore.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrMissingInput),
		errors.Is(err, ingest.ErrInvalidInput),
		errors.Is(err, ingest.ErrNoLabel),
		errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// GetLogger returns the api v2 logger
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}
