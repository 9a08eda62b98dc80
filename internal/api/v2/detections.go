package v2

import (
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/wildwatch/internal/datastore"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/ingest"
	"github.com/tphakala/wildwatch/internal/logger"
)

// DetectionRequest is the JSON body of POST /detections
type DetectionRequest struct {
	DeviceID    string   `json:"device_id"`
	UserID      *uint    `json:"user_id"`
	Label       string   `json:"label"`
	Probability *float64 `json:"prob"`
	Latitude    *float64 `json:"lat"`
	Longitude   *float64 `json:"lng"`
	ImageBase64 string   `json:"image_base64"`
	Filename    string   `json:"filename"`
	Source      string   `json:"source"`
}

// DetectionResponse is the body returned for every accepted detection
type DetectionResponse struct {
	OK bool `json:"ok"`
	*ingest.Outcome
}

// badRequest marks request decoding failures
type badRequest struct {
	field string
	err   error
}

func (e *badRequest) Error() string {
	if e.err == nil {
		return "invalid " + e.field
	}
	return "invalid " + e.field + ": " + e.err.Error()
}

func (e *badRequest) Unwrap() error { return e.err }

// PostDetection handles POST /api/v2/detections. A report_created outcome
// answers 201; the other accepted outcomes answer 200.
func (c *Controller) PostDetection(ctx echo.Context) error {
	ev, err := c.decodeDetection(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Malformed detection payload", http.StatusBadRequest)
	}

	outcome, err := c.svc.Ingest(ctx.Request().Context(), ev)
	if err != nil {
		code := statusFor(err)
		return c.HandleError(ctx, err, http.StatusText(code), code)
	}

	code := http.StatusOK
	if outcome.Created() {
		code = http.StatusCreated
	}
	c.log.Debug("detection handled",
		logger.String("device_id", ev.DeviceID),
		logger.String("event", string(outcome.Event)),
		logger.Int("code", code))
	return ctx.JSON(code, DetectionResponse{OK: true, Outcome: outcome})
}

// decodeDetection accepts application/json or multipart/form-data bodies
func (c *Controller) decodeDetection(ctx echo.Context) (ingest.DetectionEvent, error) {
	contentType := ctx.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		return decodeMultipart(ctx)
	}

	var req DetectionRequest
	if err := ctx.Bind(&req); err != nil {
		return ingest.DetectionEvent{}, &badRequest{field: "body", err: err}
	}

	ev := ingest.DetectionEvent{
		DeviceID:    strings.TrimSpace(req.DeviceID),
		UserID:      req.UserID,
		Label:       strings.TrimSpace(req.Label),
		Probability: req.Probability,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Filename:    req.Filename,
		Source:      sourceOrDefault(req.Source),
	}
	if req.ImageBase64 != "" {
		img, err := decodeImageBase64(req.ImageBase64)
		if err != nil {
			return ingest.DetectionEvent{}, &badRequest{field: "image_base64", err: err}
		}
		ev.Image = img
	}
	return ev, nil
}

func decodeMultipart(ctx echo.Context) (ingest.DetectionEvent, error) {
	ev := ingest.DetectionEvent{
		DeviceID: strings.TrimSpace(ctx.FormValue("device_id")),
		Label:    strings.TrimSpace(ctx.FormValue("label")),
		Filename: ctx.FormValue("filename"),
		Source:   sourceOrDefault(ctx.FormValue("source")),
	}

	var err error
	if ev.Probability, err = formFloat(ctx, "prob"); err != nil {
		return ev, err
	}
	if ev.Latitude, err = formFloat(ctx, "lat"); err != nil {
		return ev, err
	}
	if ev.Longitude, err = formFloat(ctx, "lng"); err != nil {
		return ev, err
	}
	if v := ctx.FormValue("user_id"); v != "" {
		id, perr := strconv.ParseUint(v, 10, 32)
		if perr != nil {
			return ev, &badRequest{field: "user_id", err: perr}
		}
		uid := uint(id)
		ev.UserID = &uid
	}

	file, ferr := ctx.FormFile("image")
	if ferr != nil {
		if errors.Is(ferr, http.ErrMissingFile) {
			return ev, nil
		}
		return ev, &badRequest{field: "image", err: ferr}
	}
	src, err := file.Open()
	if err != nil {
		return ev, &badRequest{field: "image", err: err}
	}
	defer func() { _ = src.Close() }()

	if ev.Image, err = io.ReadAll(src); err != nil {
		return ev, &badRequest{field: "image", err: err}
	}
	if ev.Filename == "" {
		ev.Filename = file.Filename
	}
	return ev, nil
}

func formFloat(ctx echo.Context, name string) (*float64, error) {
	v := ctx.FormValue(name)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, &badRequest{field: name, err: err}
	}
	return &f, nil
}

// decodeImageBase64 tolerates a data URL prefix and unpadded input
func decodeImageBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.TrimSpace(s)
	if img, err := base64.StdEncoding.DecodeString(s); err == nil {
		return img, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func sourceOrDefault(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return datastore.SourceApp
	}
	return s
}
