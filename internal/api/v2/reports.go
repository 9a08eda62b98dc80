package v2

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/wildwatch/internal/datastore"
)

// StatusChangeRequest is the body of PATCH /reports/:id/status
type StatusChangeRequest struct {
	Status    string `json:"status"`
	Reply     string `json:"reply"`
	ChangedBy *uint  `json:"changed_by"`
}

// StatusChangeResponse reports the new status and the upserted notification
type StatusChangeResponse struct {
	OK             bool   `json:"ok"`
	ReportID       uint   `json:"report_id"`
	Status         string `json:"status"`
	NotificationID uint   `json:"notification_id,omitempty"`
}

func validStatus(s string) bool {
	switch s {
	case datastore.StatusChecking, datastore.StatusOnHold, datastore.StatusCompleted:
		return true
	}
	return false
}

// PatchReportStatus handles PATCH /api/v2/reports/:id/status
func (c *Controller) PatchReportStatus(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return c.HandleError(ctx, err, "Invalid report id", http.StatusBadRequest)
	}

	var req StatusChangeRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Malformed status change", http.StatusBadRequest)
	}
	if !validStatus(req.Status) {
		return c.HandleError(ctx, nil, "Unknown report status "+strconv.Quote(req.Status), http.StatusBadRequest)
	}

	report, notification, err := c.svc.ChangeStatus(ctx.Request().Context(), datastore.StatusChange{
		ReportID:  uint(id),
		To:        req.Status,
		Reply:     req.Reply,
		ChangedBy: req.ChangedBy,
	})
	if err != nil {
		code := statusFor(err)
		return c.HandleError(ctx, err, "Status change failed", code)
	}

	resp := StatusChangeResponse{OK: true, ReportID: report.ID, Status: report.Status}
	if notification != nil {
		resp.NotificationID = notification.ID
	}
	return ctx.JSON(http.StatusOK, resp)
}
