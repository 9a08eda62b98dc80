package api

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/datastore"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/ingest"
	"github.com/tphakala/wildwatch/internal/logger"
	"github.com/tphakala/wildwatch/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
	)
}

type stubIngestor struct {
	mock.Mock
}

func (m *stubIngestor) Ingest(ctx context.Context, ev ingest.DetectionEvent) (*ingest.Outcome, error) {
	args := m.Called(ctx, ev)
	out, _ := args.Get(0).(*ingest.Outcome)
	return out, args.Error(1)
}

func (m *stubIngestor) Heartbeat(ctx context.Context, id string) (ingest.DeviceStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(ingest.DeviceStatus), args.Error(1)
}

func (m *stubIngestor) DeviceStatus(ctx context.Context, id string) (ingest.DeviceStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(ingest.DeviceStatus), args.Error(1)
}

func (m *stubIngestor) ChangeStatus(ctx context.Context, change datastore.StatusChange) (*datastore.Report, *datastore.Notification, error) {
	args := m.Called(ctx, change)
	return nil, nil, args.Error(2)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.APIKey = "k"
	cfg.RateLimit = 0
	return cfg
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.WebServer = conf.WebServerSettings{Listen: ":9090", APIKey: "abc", BodyLimit: "2M", RateLimit: 5}
	settings.Broadcast = conf.BroadcastSettings{KeepAlive: 15 * time.Second, ClientBuffer: 8, MaxClients: 3}
	settings.Metrics = conf.MetricsSettings{Enabled: true, Path: "/prom"}

	cfg := ConfigFromSettings(settings)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, "abc", cfg.APIKey)
	assert.Equal(t, "2M", cfg.BodyLimit)
	assert.InDelta(t, 5.0, cfg.RateLimit, 0)
	assert.Equal(t, 15*time.Second, cfg.KeepAlive)
	assert.Equal(t, 8, cfg.ClientBuffer)
	assert.Equal(t, 3, cfg.MaxClients)
	assert.Equal(t, "/prom", cfg.MetricsPath)
	require.NoError(t, cfg.Validate())
	assert.Contains(t, cfg.String(), "auth=api-key")
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }},
		{"zero keepalive", func(c *Config) { c.KeepAlive = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewRequiresService(t *testing.T) {
	t.Parallel()
	_, err := New(nil, WithConfig(testConfig()))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestEchoLogsThroughCentralLogger(t *testing.T) {
	t.Parallel()
	srv, err := New(nil, WithConfig(testConfig()), WithService(new(stubIngestor)))
	require.NoError(t, err)
	assert.IsType(t, &logger.EchoLoggerAdapter{}, srv.Echo().Logger)
}

func TestServerLifecycle(t *testing.T) {
	m, err := observability.NewMetrics()
	require.NoError(t, err)

	svc := new(stubIngestor)
	svc.On("Heartbeat", mock.Anything, "D1").Return(ingest.DeviceStatus{DeviceID: "D1", Online: true}, nil)

	srv, err := New(nil,
		WithConfig(testConfig()),
		WithService(svc),
		WithMetrics(m),
		WithVersion("test"),
	)
	require.NoError(t, err)
	assert.Contains(t, srv.Routes(), "POST /api/v2/detections")

	require.NoError(t, srv.Start())
	base := "http://" + srv.Addr()
	client := &http.Client{Timeout: 2 * time.Second}
	defer client.CloseIdleConnections()

	resp, err := client.Get(base + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, base+"/api/v2/devices/D1/heartbeat", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "k")
	resp, err = client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "wildwatch_")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}

func TestStartWithGracefulShutdownStopsOnCancel(t *testing.T) {
	srv, err := New(nil, WithConfig(testConfig()), WithService(new(stubIngestor)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.StartWithGracefulShutdown(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
