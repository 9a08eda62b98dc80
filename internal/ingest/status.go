package ingest

import (
	"context"
	"time"

	"github.com/tphakala/wildwatch/internal/broadcast"
	"github.com/tphakala/wildwatch/internal/datastore"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/logger"
)

// DeviceStatus is the derived liveness of a device
type DeviceStatus struct {
	DeviceID      string     `json:"device_id"`
	Online        bool       `json:"online"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
}

func (s *Service) deviceStatus(d *datastore.Device) DeviceStatus {
	return DeviceStatus{
		DeviceID:      d.ID,
		Online:        d.Online(s.deps.Now(), s.cfg.HeartbeatTimeout),
		LastHeartbeat: d.LastHeartbeat,
	}
}

// Heartbeat marks the device as seen now
func (s *Service) Heartbeat(ctx context.Context, deviceID string) (DeviceStatus, error) {
	device, err := s.deps.Heartbeats.MarkHeartbeat(ctx, deviceID, s.deps.Now())
	if err != nil {
		return DeviceStatus{}, s.deviceError(err, deviceID)
	}
	return s.deviceStatus(device), nil
}

// DeviceStatus returns the device's online flag without mutating it
func (s *Service) DeviceStatus(ctx context.Context, deviceID string) (DeviceStatus, error) {
	device, err := s.deps.Store.GetDevice(ctx, deviceID)
	if err != nil {
		return DeviceStatus{}, s.deviceError(err, deviceID)
	}
	return s.deviceStatus(device), nil
}

func (s *Service) deviceError(err error, deviceID string) error {
	if errors.Is(err, datastore.ErrDeviceNotFound) {
		return errors.New(ErrUnknownDevice).
			Component("ingest").
			Category(errors.CategoryNotFound).
			Context("device_id", deviceID).
			Build()
	}
	return err
}

// ChangeStatus moves a report through its lifecycle, upserts the owner's
// notification and publishes the change to the dashboard.
func (s *Service) ChangeStatus(ctx context.Context, change datastore.StatusChange) (*datastore.Report, *datastore.Notification, error) {
	report, notification, err := s.deps.Store.ChangeReportStatus(ctx, change)
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("report status changed",
		logger.Uint64("report_id", uint64(report.ID)),
		logger.String("status", report.Status))

	if s.deps.Broadcaster != nil {
		live := LiveEvent{
			Event:       EventStatusChanged,
			ReportID:    &report.ID,
			Status:      report.Status,
			Label:       report.Label,
			Probability: report.Probability,
			Heuristic:   report.Heuristic,
			At:          s.deps.Now().UTC(),
		}
		if report.DeviceID != nil {
			live.DeviceID = *report.DeviceID
		}
		s.deps.Broadcaster.Publish(ctx, broadcast.TopicDashboard, live)
	}
	return report, notification, nil
}
