package stream

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/httpclient"
	"github.com/tphakala/wildwatch/internal/logger"
	"github.com/tphakala/wildwatch/internal/observability/metrics"
)

// SourceFactory opens the frame source for a stream
type SourceFactory func(settings conf.StreamSettings) (FrameSource, error)

// HTTPSourceFactory builds HTTPSources sharing client
func HTTPSourceFactory(client *httpclient.Client) SourceFactory {
	return func(settings conf.StreamSettings) (FrameSource, error) {
		if settings.URL == "" {
			return nil, fmt.Errorf("stream %s has no url", settings.DeviceID)
		}
		return NewHTTPSource(client, settings.URL), nil
	}
}

// Manager owns the running workers, keyed by device id
type Manager struct {
	ingestor  Ingestor
	newSource SourceFactory
	metrics   *metrics.StreamMetrics
	log       logger.Logger

	mu      sync.Mutex
	workers map[string]*Worker
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewManager returns a manager with no running workers
func NewManager(ingestor Ingestor, newSource SourceFactory, m *metrics.StreamMetrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ingestor:  ingestor,
		newSource: newSource,
		metrics:   m,
		log:       GetLogger(),
		workers:   make(map[string]*Worker),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// StartStream starts a worker for settings.DeviceID
func (m *Manager) StartStream(settings conf.StreamSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workers[settings.DeviceID]; exists {
		return errors.Newf("stream already running for device %s", settings.DeviceID).
			Component("stream").
			Category(errors.CategoryConflict).
			Context("operation", "start_stream").
			Build()
	}

	source, err := m.newSource(settings)
	if err != nil {
		return errors.New(err).
			Component("stream").
			Category(errors.CategoryConfiguration).
			Context("operation", "start_stream").
			Context("device_id", settings.DeviceID).
			Build()
	}

	w, err := NewWorker(Config{
		DeviceID:     settings.DeviceID,
		PollInterval: settings.PollInterval,
		JoinTimeout:  settings.JoinTimeout,
	}, source, m.ingestor, m.metrics)
	if err != nil {
		_ = source.Close()
		return err
	}
	if err := w.Start(m.ctx); err != nil {
		return err
	}
	m.workers[settings.DeviceID] = w
	return nil
}

// StopStream stops and forgets the worker for deviceID
func (m *Manager) StopStream(deviceID string) error {
	m.mu.Lock()
	w, ok := m.workers[deviceID]
	delete(m.workers, deviceID)
	m.mu.Unlock()

	if !ok {
		return errors.Newf("no stream running for device %s", deviceID).
			Component("stream").
			Category(errors.CategoryNotFound).
			Build()
	}
	return w.Stop()
}

// Sync makes the running set match the enabled streams in settings
func (m *Manager) Sync(settings []conf.StreamSettings) error {
	want := make(map[string]conf.StreamSettings)
	for _, s := range settings {
		if s.Enabled && s.DeviceID != "" {
			want[s.DeviceID] = s
		}
	}

	var errs []error
	for _, id := range m.ActiveStreams() {
		if _, keep := want[id]; !keep {
			if err := m.StopStream(id); err != nil {
				errs = append(errs, err)
			}
		}
	}

	running := m.ActiveStreams()
	for id, s := range want {
		if slices.Contains(running, id) {
			continue
		}
		if err := m.StartStream(s); err != nil {
			m.log.Warn("failed to start stream", logger.String("device_id", id), logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ActiveStreams returns the device ids with a running worker, sorted
func (m *Manager) ActiveStreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Snapshot returns the latest state of a worker
func (m *Manager) Snapshot(deviceID string) (*Snapshot, bool) {
	m.mu.Lock()
	w, ok := m.workers[deviceID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return w.Snapshot(), true
}

// Shutdown stops every worker, waiting at most timeout in total
func (m *Manager) Shutdown(timeout time.Duration) error {
	start := time.Now()
	m.cancel()

	m.mu.Lock()
	workers := m.workers
	m.workers = make(map[string]*Worker)
	m.mu.Unlock()

	m.log.Info("shutting down stream manager", logger.Int("active_streams", len(workers)))

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, w := range workers {
			wg.Go(func() { <-w.Done() })
		}
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		m.log.Info("stream manager shutdown complete",
			logger.Int64("duration_ms", time.Since(start).Milliseconds()),
			logger.Int("stopped_streams", len(workers)))
		return nil
	case <-timer.C:
		m.log.Warn("stream manager shutdown timeout", logger.Int("active_streams", len(workers)))
		return errors.Newf("stream manager shutdown exceeded %s", timeout).
			Component("stream").
			Category(errors.CategoryTimeout).
			Build()
	}
}
