// Package ingest runs the detection decision pipeline: it authenticates the
// producer, obtains a label, applies the confidence and cooldown gates,
// resolves the species, persists the report and fans the outcome out.
package ingest

import (
	"time"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/taxonomy"
)

// State is a step of the per-detection state machine
type State string

// Pipeline states. The last five are terminal early exits.
const (
	StateReceived         State = "RECEIVED"
	StateAuthenticated    State = "AUTHENTICATED"
	StateThresholdChecked State = "THRESHOLD_CHECKED"
	StateDeduped          State = "DEDUPED"
	StateResolved         State = "RESOLVED"
	StateReportUpserted   State = "REPORT_UPSERTED"
	StateBroadcast        State = "BROADCAST"
	StateDone             State = "DONE"

	StateRejectedUnauth           State = "REJECTED_UNAUTH"
	StateRejectedNoLabel          State = "REJECTED_NO_LABEL"
	StateVisualOnlyBelowThreshold State = "VISUAL_ONLY_BELOW_THRESHOLD"
	StateVisualOnlyCooldown       State = "VISUAL_ONLY_COOLDOWN"
	StateVisualOnlyUnresolved     State = "VISUAL_ONLY_UNRESOLVED"
)

// Event is the outcome reported to the producer
type Event string

// Outcome events
const (
	EventReportCreated  Event = "report_created"
	EventVisualOnly     Event = "visual_only"
	EventBelowThreshold Event = "below_threshold"
	EventCooldown       Event = "cooldown"

	// EventStatusChanged is only published live, never returned to producers
	EventStatusChanged Event = "status_changed"
)

// Sentinel errors. Callers map them to HTTP status codes with errors.Is.
var (
	ErrUnknownDevice = errors.NewStd("unknown device")
	ErrNoLabel       = errors.NewStd("no label and no image classification available")
	ErrMissingInput  = errors.NewStd("either an image or a label is required")
	ErrInvalidInput  = errors.NewStd("invalid detection payload")
)

// DetectionEvent is one inbound detection. DeviceID is empty for anonymous
// app uploads.
type DetectionEvent struct {
	DeviceID    string
	UserID      *uint
	Label       string
	Probability *float64
	Latitude    *float64
	Longitude   *float64
	Image       []byte
	Filename    string
	Source      string
	ReceivedAt  time.Time
}

// ExplicitLabel reports whether the producer asserted a label
func (e *DetectionEvent) ExplicitLabel() bool {
	return e.Label != ""
}

// Outcome is the pipeline result for one detection
type Outcome struct {
	Event       Event                 `json:"event"`
	State       State                 `json:"-"`
	ReportID    *uint                 `json:"report_id"`
	AnimalID    *uint                 `json:"-"`
	Animal      string                `json:"animal"`
	Label       string                `json:"label"`
	Probability *float64              `json:"prob"`
	Heuristic   bool                  `json:"heuristic,omitempty"`
	Groups      []taxonomy.GroupScore `json:"groups,omitempty"`
}

// Created reports whether the detection produced a persisted report
func (o *Outcome) Created() bool {
	return o.Event == EventReportCreated
}

// LiveEvent is the payload fanned out to dashboards and device channels
type LiveEvent struct {
	Event       Event     `json:"event"`
	DeviceID    string    `json:"device_id,omitempty"`
	ReportID    *uint     `json:"report_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Animal      string    `json:"animal,omitempty"`
	Label       string    `json:"label,omitempty"`
	Probability *float64  `json:"prob,omitempty"`
	Heuristic   bool      `json:"heuristic,omitempty"`
	Latitude    *float64  `json:"lat,omitempty"`
	Longitude   *float64  `json:"lng,omitempty"`
	At          time.Time `json:"at"`
}

// EventType names the live event
func (e LiveEvent) EventType() string {
	return string(e.Event)
}
