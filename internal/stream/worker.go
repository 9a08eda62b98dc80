// Package stream runs CCTV stream workers. Each worker pulls frames from a
// camera at a fixed pace, submits them to the ingestion pipeline as cctv
// detections and publishes an immutable snapshot of its latest state.
package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/wildwatch/internal/datastore"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/ingest"
	"github.com/tphakala/wildwatch/internal/logger"
	"github.com/tphakala/wildwatch/internal/observability/metrics"
)

// Defaults for worker pacing and shutdown
const (
	DefaultPollInterval      = 30 * time.Millisecond
	DefaultJoinTimeout       = 5 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
)

// ErrAlreadyStarted is returned by Start on a running worker
var ErrAlreadyStarted = errors.NewStd("stream worker already started")

// Ingestor is the part of the pipeline a worker drives
type Ingestor interface {
	Ingest(ctx context.Context, ev ingest.DetectionEvent) (*ingest.Outcome, error)
	Heartbeat(ctx context.Context, deviceID string) (ingest.DeviceStatus, error)
}

// Config configures one worker
type Config struct {
	DeviceID          string
	PollInterval      time.Duration
	JoinTimeout       time.Duration
	HeartbeatInterval time.Duration
}

// Snapshot is the latest published state of a worker. It is never mutated
// after publication.
type Snapshot struct {
	DeviceID     string
	Seq          uint64
	At           time.Time
	Frame        []byte
	Outcome      *ingest.Outcome
	Processed    uint64
	Failed       uint64
	LastError    string
	LastReportAt time.Time
}

// Worker is a single-writer frame loop. Snapshot may be read from any
// goroutine.
type Worker struct {
	cfg      Config
	source   FrameSource
	ingestor Ingestor
	limiter  *rate.Limiter
	metrics  *metrics.StreamMetrics
	log      logger.Logger

	snap atomic.Pointer[Snapshot]

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewWorker validates cfg and returns a stopped worker
func NewWorker(cfg Config, source FrameSource, ingestor Ingestor, m *metrics.StreamMetrics) (*Worker, error) {
	if cfg.DeviceID == "" || source == nil || ingestor == nil {
		return nil, errors.Newf("stream worker requires a device id, a frame source and an ingestor").
			Component("stream").
			Category(errors.CategoryConfiguration).
			Context("device_id", cfg.DeviceID).
			Build()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	w := &Worker{
		cfg:      cfg,
		source:   source,
		ingestor: ingestor,
		limiter:  rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		metrics:  m,
		log:      GetLogger().With(logger.String("device_id", cfg.DeviceID)),
	}
	w.snap.Store(&Snapshot{DeviceID: cfg.DeviceID})
	return w, nil
}

// DeviceID returns the device the worker reports as
func (w *Worker) DeviceID() string {
	return w.cfg.DeviceID
}

// Snapshot returns the latest published state
func (w *Worker) Snapshot() *Snapshot {
	return w.snap.Load()
}

// Start launches the frame loop. The loop ends when ctx is cancelled or
// Stop is called. A worker cannot be restarted.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)
	return nil
}

// Done is closed when the frame loop has exited and released its source
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Stop signals the loop and waits up to the join timeout for it to exit
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	timer := time.NewTimer(w.cfg.JoinTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return errors.Newf("stream worker did not stop within %s", w.cfg.JoinTimeout).
			Component("stream").
			Category(errors.CategoryTimeout).
			Context("device_id", w.cfg.DeviceID).
			Build()
	}
}

func (w *Worker) run(ctx context.Context) {
	w.metrics.WorkerStarted()
	w.log.Info("stream worker started", logger.Duration("poll_interval", w.cfg.PollInterval))

	defer func() {
		if err := w.source.Close(); err != nil {
			w.log.Warn("failed to release stream source", logger.Error(err))
		}
		w.metrics.WorkerStopped()
		w.log.Info("stream worker stopped",
			logger.Uint64("processed", w.Snapshot().Processed),
			logger.Uint64("failed", w.Snapshot().Failed))
		close(w.done)
	}()

	var lastHeartbeat time.Time
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}

		if now := time.Now(); now.Sub(lastHeartbeat) >= w.cfg.HeartbeatInterval {
			w.heartbeat(ctx)
			lastHeartbeat = now
		}

		frame, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.skip(err)
			continue
		}
		w.process(ctx, frame)
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	if _, err := w.ingestor.Heartbeat(ctx, w.cfg.DeviceID); err != nil && ctx.Err() == nil {
		w.log.Warn("stream heartbeat failed", logger.Error(err))
	}
}

// skip records a failed frame; the loop continues with the next one
func (w *Worker) skip(err error) {
	w.metrics.RecordFrame(w.cfg.DeviceID, err)
	w.log.Debug("skipping failed frame", logger.Error(err))

	prev := w.Snapshot()
	next := *prev
	next.Failed++
	next.LastError = err.Error()
	w.snap.Store(&next)
}

func (w *Worker) process(ctx context.Context, frame Frame) {
	outcome, err := w.ingestor.Ingest(ctx, ingest.DetectionEvent{
		DeviceID:   w.cfg.DeviceID,
		Image:      frame.Data,
		Filename:   fmt.Sprintf("%s_%06d.jpg", w.cfg.DeviceID, frame.Seq),
		Source:     datastore.SourceCCTV,
		ReceivedAt: frame.At,
	})

	prev := w.Snapshot()
	next := Snapshot{
		DeviceID:     w.cfg.DeviceID,
		Seq:          frame.Seq,
		At:           frame.At,
		Frame:        frame.Data,
		Outcome:      prev.Outcome,
		Processed:    prev.Processed,
		Failed:       prev.Failed,
		LastError:    prev.LastError,
		LastReportAt: prev.LastReportAt,
	}

	switch {
	case err == nil:
		next.Processed++
		next.Outcome = outcome
		if outcome.Created() {
			next.LastReportAt = frame.At
		}
		w.metrics.RecordFrame(w.cfg.DeviceID, nil)
	case errors.Is(err, ingest.ErrNoLabel):
		// nothing recognizable in the frame
		next.Processed++
		next.Outcome = nil
		w.metrics.RecordFrame(w.cfg.DeviceID, nil)
	default:
		if ctx.Err() != nil {
			return
		}
		next.Failed++
		next.LastError = err.Error()
		w.metrics.RecordFrame(w.cfg.DeviceID, err)
		w.log.Warn("frame ingestion failed", logger.Uint64("seq", frame.Seq), logger.Error(err))
	}
	w.snap.Store(&next)
}

// GetLogger returns the stream package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("stream")
}
