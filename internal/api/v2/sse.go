package v2

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/wildwatch/internal/broadcast"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/logger"
)

// streamTopic resolves the topic query: "dashboard" (default),
// "device.<id>", or the device_id shorthand.
func streamTopic(ctx echo.Context) (string, bool) {
	if id := strings.TrimSpace(ctx.QueryParam("device_id")); id != "" {
		return broadcast.DeviceTopic(id), true
	}
	topic := strings.TrimSpace(ctx.QueryParam("topic"))
	switch {
	case topic == "":
		return broadcast.TopicDashboard, true
	case topic == broadcast.TopicDashboard:
		return topic, true
	case strings.HasPrefix(topic, "device.") && len(topic) > len("device."):
		return topic, true
	}
	return "", false
}

// StreamEvents handles GET /api/v2/stream, a server-sent event channel of
// live detections for one topic.
func (c *Controller) StreamEvents(ctx echo.Context) error {
	if c.streamLimiter != nil && !c.streamLimiter.Allow() {
		return c.HandleError(ctx, nil, "Too many stream connection attempts", http.StatusTooManyRequests)
	}

	topic, ok := streamTopic(ctx)
	if !ok {
		return c.HandleError(ctx, nil, "Unknown stream topic", http.StatusBadRequest)
	}

	client, err := c.hub.Subscribe(topic)
	if err != nil {
		if errors.Is(err, broadcast.ErrTooManyClients) {
			return c.HandleError(ctx, err, "Live stream is full", http.StatusServiceUnavailable)
		}
		return c.HandleError(ctx, err, "Live stream unavailable", http.StatusInternalServerError)
	}
	defer c.hub.Unsubscribe(client)

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(res.Writer)
	write := func(fn func() error) error {
		// Not every writer supports deadlines; ignore ErrNotSupported.
		_ = rc.SetWriteDeadline(time.Now().Add(DefaultSSEWriteTimeout))
		if err := fn(); err != nil {
			return err
		}
		res.Flush()
		return nil
	}

	if err := write(func() error {
		return broadcast.WriteEvent(res, "connected", map[string]string{
			"client_id": client.ID,
			"topic":     topic,
		})
	}); err != nil {
		return nil
	}

	log := c.log.With(logger.String("client_id", client.ID), logger.String("topic", topic))
	log.Info("live stream client connected", logger.String("ip", ctx.RealIP()))
	defer log.Info("live stream client disconnected")

	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg := <-client.Messages():
			if err := write(func() error { return broadcast.WriteEvent(res, msg.Event, msg) }); err != nil {
				log.Debug("live stream write failed", logger.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := write(func() error { return broadcast.WriteKeepAlive(res) }); err != nil {
				log.Debug("live stream keepalive failed", logger.Error(err))
				return nil
			}
		case <-client.Done():
			return nil
		case <-ctx.Request().Context().Done():
			return nil
		case <-c.shutdown:
			return nil
		}
	}
}
