package v2

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/wildwatch/internal/ingest"
)

// DeviceStatusResponse is returned by the heartbeat and status endpoints
type DeviceStatusResponse struct {
	OK bool `json:"ok"`
	ingest.DeviceStatus
}

// PostHeartbeat handles POST /api/v2/devices/:id/heartbeat
func (c *Controller) PostHeartbeat(ctx echo.Context) error {
	id := strings.TrimSpace(ctx.Param("id"))
	if id == "" {
		return c.HandleError(ctx, nil, "Missing device id", http.StatusBadRequest)
	}

	status, err := c.svc.Heartbeat(ctx.Request().Context(), id)
	if err != nil {
		code := statusFor(err)
		return c.HandleError(ctx, err, "Heartbeat failed", code)
	}
	return ctx.JSON(http.StatusOK, DeviceStatusResponse{OK: true, DeviceStatus: status})
}

// GetDeviceStatus handles GET /api/v2/devices/:id/status
func (c *Controller) GetDeviceStatus(ctx echo.Context) error {
	id := strings.TrimSpace(ctx.Param("id"))
	if id == "" {
		return c.HandleError(ctx, nil, "Missing device id", http.StatusBadRequest)
	}

	status, err := c.svc.DeviceStatus(ctx.Request().Context(), id)
	if err != nil {
		code := statusFor(err)
		return c.HandleError(ctx, err, "Device status unavailable", code)
	}
	return ctx.JSON(http.StatusOK, DeviceStatusResponse{OK: true, DeviceStatus: status})
}
