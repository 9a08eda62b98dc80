package v2

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tphakala/wildwatch/internal/broadcast"
)

func setupStream(t *testing.T, hub *broadcast.Hub, opts ...Option) (*httptest.Server, *Controller) {
	t.Helper()
	e := echo.New()
	c, err := New(e, new(mockIngestor), hub, append([]Option{WithAPIKey(testKey)}, opts...)...)
	require.NoError(t, err)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		c.Shutdown()
		hub.Close()
		srv.Close()
	})
	return srv, c
}

// readEvent returns the next event name and data line
func readEvent(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestStreamDeliversTopicEvents(t *testing.T) {
	hub := broadcast.NewHub(broadcast.HubConfig{ClientBuffer: 4}, nil)
	srv, _ := setupStream(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v2/stream?device_id=D1&api_key="+testKey, http.NoBody)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	r := bufio.NewReader(resp.Body)
	event, data := readEvent(t, r)
	assert.Equal(t, "connected", event)
	assert.Contains(t, data, `"topic":"device.D1"`)
	require.Equal(t, 1, hub.ClientCount())

	// other topics are not delivered
	require.NoError(t, hub.Send(ctx, broadcast.TopicDashboard, broadcast.Message{ID: "x", Event: "report_created"}))
	require.NoError(t, hub.Send(ctx, broadcast.DeviceTopic("D1"), broadcast.Message{
		ID:      "m1",
		Topic:   broadcast.DeviceTopic("D1"),
		Event:   "cooldown",
		Payload: map[string]any{"label": "goat"},
	}))

	event, data = readEvent(t, r)
	assert.Equal(t, "cooldown", event)
	assert.Contains(t, data, `"m1"`)
	assert.Contains(t, data, `"goat"`)

	cancel()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamKeepAlive(t *testing.T) {
	hub := broadcast.NewHub(broadcast.HubConfig{}, nil)
	srv, _ := setupStream(t, hub, WithKeepAlive(20*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v2/stream", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testKey)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	r := bufio.NewReader(resp.Body)
	event, _ := readEvent(t, r)
	require.Equal(t, "connected", event)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ":\n", line)
}

func TestStreamRejections(t *testing.T) {
	t.Run("bad topic", func(t *testing.T) {
		hub := broadcast.NewHub(broadcast.HubConfig{}, nil)
		srv, _ := setupStream(t, hub)
		resp, err := srv.Client().Get(srv.URL + "/api/v2/stream?topic=admin&api_key=" + testKey)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("hub full", func(t *testing.T) {
		hub := broadcast.NewHub(broadcast.HubConfig{MaxClients: 1}, nil)
		_, err := hub.Subscribe(broadcast.TopicDashboard)
		require.NoError(t, err)
		srv, _ := setupStream(t, hub)

		resp, err := srv.Client().Get(srv.URL + "/api/v2/stream?api_key=" + testKey)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("connection rate", func(t *testing.T) {
		hub := broadcast.NewHub(broadcast.HubConfig{}, nil)
		srv, _ := setupStream(t, hub, WithStreamLimiter(rate.NewLimiter(0, 0)))

		resp, err := srv.Client().Get(srv.URL + "/api/v2/stream?api_key=" + testKey)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	})

	t.Run("unauthorized", func(t *testing.T) {
		hub := broadcast.NewHub(broadcast.HubConfig{}, nil)
		srv, _ := setupStream(t, hub)

		resp, err := srv.Client().Get(srv.URL + "/api/v2/stream")
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, 0, hub.ClientCount())
	})
}

func TestShutdownEndsStreams(t *testing.T) {
	hub := broadcast.NewHub(broadcast.HubConfig{}, nil)
	srv, c := setupStream(t, hub)

	resp, err := srv.Client().Get(srv.URL + "/api/v2/stream?api_key=" + testKey)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	r := bufio.NewReader(resp.Body)
	event, _ := readEvent(t, r)
	require.Equal(t, "connected", event)

	c.Shutdown()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
