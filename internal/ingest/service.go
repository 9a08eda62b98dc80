package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/tphakala/wildwatch/internal/broadcast"
	"github.com/tphakala/wildwatch/internal/classifier"
	"github.com/tphakala/wildwatch/internal/datastore"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/gate"
	"github.com/tphakala/wildwatch/internal/logger"
	"github.com/tphakala/wildwatch/internal/observability/metrics"
	"github.com/tphakala/wildwatch/internal/push"
	"github.com/tphakala/wildwatch/internal/taxonomy"
)

// Store is the persistence the pipeline writes through
type Store interface {
	GetDevice(ctx context.Context, id string) (*datastore.Device, error)
	CreateReport(ctx context.Context, report *datastore.Report, notification *datastore.Notification) error
	ChangeReportStatus(ctx context.Context, change datastore.StatusChange) (*datastore.Report, *datastore.Notification, error)
}

// HeartbeatMarker refreshes a device's last-seen time
type HeartbeatMarker interface {
	MarkHeartbeat(ctx context.Context, id string, at time.Time) (*datastore.Device, error)
}

// SpeciesResolver maps a normalized label or an ambiguity group to a
// catalog animal
type SpeciesResolver interface {
	Resolve(ctx context.Context, normalized, displayHint string) (*datastore.Animal, error)
	ResolveGroup(ctx context.Context, group taxonomy.GroupScore) (*datastore.Animal, error)
}

// CooldownGate is the atomic per (device, species) de-duplication gate
type CooldownGate interface {
	TryFire(ctx context.Context, device, species string, now time.Time) (bool, error)
	Release(ctx context.Context, device, species string, firedAt time.Time) error
}

// Notifier queues push notifications for created reports
type Notifier interface {
	Enqueue(n push.Notice) bool
}

// Config holds the pipeline tunables
type Config struct {
	Threshold        float64
	UnknownAnimalID  uint
	HeartbeatTimeout time.Duration
	Grouped          bool // classify with PredictGrouped and resolve the top group
}

// Dependencies are the collaborators of the Service. Classifier, Broadcaster,
// Notifier and Metrics are optional.
type Dependencies struct {
	Store       Store
	Heartbeats  HeartbeatMarker
	Taxonomy    *taxonomy.Taxonomy
	Resolver    SpeciesResolver
	Cooldown    CooldownGate
	Classifier  classifier.Classifier
	Broadcaster broadcast.Publisher
	Notifier    Notifier
	Metrics     *metrics.PipelineMetrics
	Now         func() time.Time
}

// Service is the ingestion orchestrator
type Service struct {
	cfg  Config
	deps Dependencies
	log  logger.Logger
}

// NewService validates the dependencies and returns a Service
func NewService(cfg Config, deps Dependencies) (*Service, error) {
	var missing []string
	if deps.Store == nil {
		missing = append(missing, "store")
	}
	if deps.Heartbeats == nil {
		missing = append(missing, "heartbeats")
	}
	if deps.Taxonomy == nil {
		missing = append(missing, "taxonomy")
	}
	if deps.Resolver == nil {
		missing = append(missing, "resolver")
	}
	if deps.Cooldown == nil {
		missing = append(missing, "cooldown")
	}
	if len(missing) > 0 {
		return nil, errors.Newf("ingest service missing dependencies: %v", missing).
			Component("ingest").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 20 * time.Second
	}
	return &Service{cfg: cfg, deps: deps, log: GetLogger()}, nil
}

// run carries the per-detection working state
type run struct {
	ev        *DetectionEvent
	device    *datastore.Device
	state     State
	label     string // normalized
	display   string
	prob      *float64
	heuristic bool
	groups    []taxonomy.GroupScore
	group     *taxonomy.GroupScore // set when the label is a group key
	started   time.Time
}

func (s *Service) transition(r *run, to State) {
	s.log.Trace("pipeline transition",
		logger.String("device_id", r.ev.DeviceID),
		logger.String("from", string(r.state)),
		logger.String("to", string(to)))
	r.state = to
	s.deps.Metrics.RecordState(string(to))
}

// Ingest runs one detection through the pipeline. Gate rejections are
// returned as outcomes with a nil error; errors are validation failures,
// unknown devices, or unexpected store failures.
func (s *Service) Ingest(ctx context.Context, ev DetectionEvent) (*Outcome, error) {
	now := s.deps.Now()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = now
	}
	if ev.Source == "" {
		ev.Source = datastore.SourceApp
	}
	r := &run{ev: &ev, started: now}
	s.transition(r, StateReceived)

	if err := validate(&ev); err != nil {
		s.deps.Metrics.RecordRejection("invalid")
		return nil, err
	}

	if ev.DeviceID != "" {
		device, err := s.deps.Store.GetDevice(ctx, ev.DeviceID)
		if err != nil {
			if errors.Is(err, datastore.ErrDeviceNotFound) {
				s.transition(r, StateRejectedUnauth)
				s.deps.Metrics.RecordRejection("unknown_device")
				return nil, errors.New(ErrUnknownDevice).
					Component("ingest").
					Category(errors.CategoryNotFound).
					Context("device_id", ev.DeviceID).
					Build()
			}
			return nil, err
		}
		r.device = device
	}
	s.transition(r, StateAuthenticated)

	if !s.label(ctx, r) {
		s.transition(r, StateRejectedNoLabel)
		s.deps.Metrics.RecordRejection("no_label")
		return nil, errors.New(ErrNoLabel).
			Component("ingest").
			Category(errors.CategoryValidation).
			Build()
	}

	s.markHeartbeat(ctx, r, now)

	passed := gate.Passes(r.prob, s.cfg.Threshold, ev.ExplicitLabel())
	s.deps.Metrics.RecordGate(metrics.GateConfidence, passed)
	if !passed {
		return s.visualOnly(ctx, r, StateVisualOnlyBelowThreshold, EventBelowThreshold), nil
	}
	s.transition(r, StateThresholdChecked)

	producer := s.producerKey(&ev)
	fire, err := s.deps.Cooldown.TryFire(ctx, producer, r.label, now)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.RecordGate(metrics.GateCooldown, fire)
	if !fire {
		return s.visualOnly(ctx, r, StateVisualOnlyCooldown, EventCooldown), nil
	}
	s.transition(r, StateDeduped)

	animal, err := s.resolve(ctx, r)
	if err != nil {
		s.releaseCooldown(ctx, producer, r.label, now)
		return nil, err
	}
	var animalID *uint
	switch {
	case animal != nil:
		animalID = &animal.ID
		r.display = animal.DisplayName()
	case s.cfg.UnknownAnimalID > 0:
		id := s.cfg.UnknownAnimalID
		animalID = &id
	default:
		s.releaseCooldown(ctx, producer, r.label, now)
		return s.visualOnly(ctx, r, StateVisualOnlyUnresolved, EventVisualOnly), nil
	}
	s.transition(r, StateResolved)

	report, err := s.persist(ctx, r, animalID)
	if err != nil {
		s.releaseCooldown(ctx, producer, r.label, now)
		return nil, err
	}
	s.transition(r, StateReportUpserted)

	s.notify(r, report)
	s.transition(r, StateBroadcast)
	s.publish(ctx, r, EventReportCreated, &report.ID, report.Latitude, report.Longitude)
	s.transition(r, StateDone)
	s.deps.Metrics.RecordOutcome(string(EventReportCreated), s.deps.Now().Sub(r.started))

	return &Outcome{
		Event:       EventReportCreated,
		State:       r.state,
		ReportID:    &report.ID,
		AnimalID:    animalID,
		Animal:      r.displayOrLabel(),
		Label:       r.label,
		Probability: r.prob,
		Heuristic:   r.heuristic,
		Groups:      r.groups,
	}, nil
}

func validate(ev *DetectionEvent) error {
	invalid := func(field string, value any) error {
		return errors.New(ErrInvalidInput).
			Component("ingest").
			Category(errors.CategoryValidation).
			Context("field", field).
			Context("value", value).
			Build()
	}

	if ev.Label == "" && len(ev.Image) == 0 {
		return errors.New(ErrMissingInput).
			Component("ingest").
			Category(errors.CategoryValidation).
			Build()
	}
	if p := ev.Probability; p != nil && (math.IsNaN(*p) || *p < 0 || *p > 1) {
		return invalid("prob", *p)
	}
	if (ev.Latitude == nil) != (ev.Longitude == nil) {
		return invalid("lat/lng", "both coordinates are required")
	}
	if ev.Latitude != nil && !validCoordinates(*ev.Latitude, *ev.Longitude) {
		return invalid("lat/lng", []float64{*ev.Latitude, *ev.Longitude})
	}
	if ev.Source != datastore.SourceApp && ev.Source != datastore.SourceCCTV {
		return invalid("source", ev.Source)
	}
	return nil
}

// label fills the run's label from the explicit payload or the classifier.
// It returns false when neither yields a label.
func (s *Service) label(ctx context.Context, r *run) bool {
	ev := r.ev
	if ev.ExplicitLabel() {
		r.label = s.deps.Taxonomy.Normalize(ev.Label)
		r.display = s.deps.Taxonomy.Display(r.label)
		r.prob = ev.Probability
		return r.label != ""
	}
	if s.deps.Classifier == nil || len(ev.Image) == 0 {
		return false
	}

	img := classifier.Image{Data: ev.Image, Filename: ev.Filename}
	var (
		res *classifier.Result
		err error
	)
	if s.cfg.Grouped {
		res, err = s.deps.Classifier.PredictGrouped(ctx, img)
	} else {
		res, err = s.deps.Classifier.Predict(ctx, img)
	}
	if err != nil {
		s.log.Warn("classification failed, continuing without label",
			logger.String("device_id", ev.DeviceID),
			logger.Error(err))
		s.deps.Metrics.RecordClassifierFailure()
		return false
	}
	if res == nil || res.Empty() {
		return false
	}

	r.heuristic = res.Heuristic
	if r.heuristic {
		s.deps.Metrics.RecordHeuristic()
	}
	r.groups = res.Groups

	if s.cfg.Grouped && len(res.Groups) > 0 {
		top := res.Groups[0]
		r.group = &top
		r.label = top.Key
		r.display = top.Display
		r.prob = &top.Aggregate
	} else {
		top, ok := res.Top()
		if !ok {
			return false
		}
		r.label = s.deps.Taxonomy.Normalize(top.Label)
		r.display = s.deps.Taxonomy.Display(r.label)
		p := top.Prob
		r.prob = &p
	}
	return r.label != ""
}

func (s *Service) resolve(ctx context.Context, r *run) (*datastore.Animal, error) {
	if r.group != nil {
		return s.deps.Resolver.ResolveGroup(ctx, *r.group)
	}
	return s.deps.Resolver.Resolve(ctx, r.label, r.display)
}

func (s *Service) markHeartbeat(ctx context.Context, r *run, now time.Time) {
	if r.device == nil {
		return
	}
	device, err := s.deps.Heartbeats.MarkHeartbeat(ctx, r.device.ID, now)
	if err != nil {
		s.log.Warn("heartbeat update failed",
			logger.String("device_id", r.device.ID),
			logger.Error(err))
		return
	}
	r.device = device
}

// releaseCooldown hands back a slot claimed by a detection that created no
// report, so the next detection of the species is not suppressed.
func (s *Service) releaseCooldown(ctx context.Context, producer, species string, firedAt time.Time) {
	// the caller's context may already be done
	ctx = context.WithoutCancel(ctx)
	if err := s.deps.Cooldown.Release(ctx, producer, species, firedAt); err != nil {
		s.log.Warn("cooldown release failed",
			logger.String("producer", producer),
			logger.String("species", species),
			logger.Error(err))
	}
}

// producerKey is the device part of the cooldown key
func (s *Service) producerKey(ev *DetectionEvent) string {
	switch {
	case ev.DeviceID != "":
		return ev.DeviceID
	case ev.UserID != nil:
		return "user:" + strconv.FormatUint(uint64(*ev.UserID), 10)
	default:
		return "anonymous"
	}
}

func (s *Service) visualOnly(ctx context.Context, r *run, state State, event Event) *Outcome {
	s.transition(r, state)
	loc := resolveLocation(r.ev, r.device)
	var lat, lng *float64
	if loc != nil {
		lat, lng = &loc.Latitude, &loc.Longitude
	}
	s.publish(ctx, r, event, nil, lat, lng)
	s.deps.Metrics.RecordOutcome(string(event), s.deps.Now().Sub(r.started))

	return &Outcome{
		Event:       event,
		State:       state,
		Animal:      r.displayOrLabel(),
		Label:       r.label,
		Probability: r.prob,
		Heuristic:   r.heuristic,
		Groups:      r.groups,
	}
}

func (r *run) displayOrLabel() string {
	if r.display != "" {
		return r.display
	}
	return r.label
}

func (s *Service) persist(ctx context.Context, r *run, animalID *uint) (*datastore.Report, error) {
	ev := r.ev
	report := &datastore.Report{
		AnimalID:    animalID,
		UserID:      ev.UserID,
		Label:       r.label,
		Probability: r.prob,
		Source:      ev.Source,
		Status:      datastore.StatusChecking,
		Heuristic:   r.heuristic,
		CreatedAt:   ev.ReceivedAt,
	}
	if ev.DeviceID != "" {
		id := ev.DeviceID
		report.DeviceID = &id
	}
	if loc := resolveLocation(ev, r.device); loc != nil {
		report.Latitude = &loc.Latitude
		report.Longitude = &loc.Longitude
		report.CellToken = loc.CellToken
	}
	if len(ev.Image) > 0 {
		sum := sha256.Sum256(ev.Image)
		report.ImageSHA256 = hex.EncodeToString(sum[:])
	}

	notification := &datastore.Notification{
		Type:         datastore.NotificationGroup,
		Reply:        "New " + r.displayOrLabel() + " sighting is being checked",
		StatusChange: datastore.StatusChecking,
	}
	if ev.UserID != nil {
		notification.Type = datastore.NotificationIndividual
		notification.UserID = ev.UserID
		notification.Reply = "Your report has been received and is being checked"
	}

	if err := s.deps.Store.CreateReport(ctx, report, notification); err != nil {
		return nil, err
	}
	s.log.Info("report created",
		logger.Uint64("report_id", uint64(report.ID)),
		logger.String("label", r.label),
		logger.String("device_id", ev.DeviceID),
		logger.Bool("heuristic", r.heuristic))
	return report, nil
}

func (s *Service) notify(r *run, report *datastore.Report) {
	if s.deps.Notifier == nil {
		return
	}
	data := map[string]string{
		"report_id": strconv.FormatUint(uint64(report.ID), 10),
		"label":     r.label,
		"source":    report.Source,
	}
	if !s.deps.Notifier.Enqueue(push.Notice{
		ReportID: report.ID,
		UserID:   report.UserID,
		Title:    "New wildlife sighting",
		Body:     r.displayOrLabel() + " was reported",
		Data:     data,
	}) {
		s.log.Debug("push notice not queued", logger.Uint64("report_id", uint64(report.ID)))
	}
}

func (s *Service) publish(ctx context.Context, r *run, event Event, reportID *uint, lat, lng *float64) {
	if s.deps.Broadcaster == nil {
		return
	}
	live := LiveEvent{
		Event:       event,
		DeviceID:    r.ev.DeviceID,
		ReportID:    reportID,
		Animal:      r.displayOrLabel(),
		Label:       r.label,
		Probability: r.prob,
		Heuristic:   r.heuristic,
		Latitude:    lat,
		Longitude:   lng,
		At:          r.ev.ReceivedAt,
	}
	if reportID != nil {
		live.Status = datastore.StatusChecking
	}
	topics := []string{broadcast.TopicDashboard}
	if r.ev.DeviceID != "" {
		topics = append(topics, broadcast.DeviceTopic(r.ev.DeviceID))
	}
	s.deps.Broadcaster.PublishTopics(ctx, topics, live)
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the ingest module logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("ingest")
	})
	return serviceLogger
}
