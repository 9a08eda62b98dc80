package push

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/logger"
	"github.com/tphakala/wildwatch/internal/observability/metrics"
)

const (
	defaultQueueSize = 256
	defaultSendTTL   = 30 * time.Second
	defaultDedupeTTL = 10 * time.Minute
)

// TokenStore resolves and prunes device tokens
type TokenStore interface {
	PushTokensForUsers(ctx context.Context, userIDs []uint) ([]string, error)
	AdminPushTokens(ctx context.Context) ([]string, error)
	DeletePushTokens(ctx context.Context, tokens []string) (int64, error)
}

// Notice is a report notification addressed to the report owner (if any)
// and every administrator device.
type Notice struct {
	ReportID uint
	UserID   *uint
	Title    string
	Body     string
	Data     map[string]string
}

// DispatcherConfig configures a Dispatcher. Mobile and Operators may be nil.
type DispatcherConfig struct {
	Store       TokenStore
	Mobile      Sender
	Operators   Sender
	Metrics     *metrics.PushMetrics
	QueueSize   int
	SendTimeout time.Duration
	DedupeTTL   time.Duration
	Breaker     CircuitBreakerConfig
}

// Dispatcher delivers notices asynchronously, at most once per report
// within the dedupe window. A full queue drops the notice; delivery never
// blocks ingestion.
type Dispatcher struct {
	cfg      DispatcherConfig
	breakers map[string]*CircuitBreaker
	seen     *cache.Cache
	queue    chan Notice

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewDispatcher returns a stopped dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTTL
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = defaultDedupeTTL
	}
	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker = DefaultCircuitBreakerConfig()
	}

	d := &Dispatcher{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
		seen:     cache.New(cfg.DedupeTTL, cfg.DedupeTTL),
		queue:    make(chan Notice, cfg.QueueSize),
		stop:     make(chan struct{}),
	}
	for _, s := range []Sender{cfg.Mobile, cfg.Operators} {
		if s != nil {
			d.breakers[s.Name()] = NewCircuitBreaker(cfg.Breaker, s.Name(), cfg.Metrics)
		}
	}
	return d
}

// Start launches the delivery workers
func (d *Dispatcher) Start(workers int) {
	d.startOnce.Do(func() {
		for range max(1, workers) {
			d.wg.Add(1)
			go d.run()
		}
	})
}

// Stop ends the workers, waiting at most timeout. Queued notices that were
// not delivered are dropped.
func (d *Dispatcher) Stop(timeout time.Duration) bool {
	d.stopOnce.Do(func() { close(d.stop) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		GetLogger().Warn("push dispatcher did not stop in time", logger.Duration("timeout", timeout))
		return false
	}
}

// Enqueue schedules n for delivery. It returns false when the report was
// already notified, the queue is full or the dispatcher is stopped.
func (d *Dispatcher) Enqueue(n Notice) bool {
	select {
	case <-d.stop:
		d.cfg.Metrics.RecordDropped("stopped")
		return false
	default:
	}
	if err := d.seen.Add(dedupeKey(n.ReportID), struct{}{}, cache.DefaultExpiration); err != nil {
		return false
	}
	select {
	case d.queue <- n:
		d.cfg.Metrics.SetQueueDepth(len(d.queue))
		return true
	default:
		d.seen.Delete(dedupeKey(n.ReportID))
		d.cfg.Metrics.RecordDropped("queue")
		GetLogger().Warn("push queue full, notice dropped", logger.Int("report_id", int(n.ReportID)))
		return false
	}
}

func dedupeKey(reportID uint) string {
	return fmt.Sprintf("report:%d", reportID)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case n := <-d.queue:
			d.cfg.Metrics.SetQueueDepth(len(d.queue))
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
			if _, err := d.Deliver(ctx, n); err != nil {
				GetLogger().Warn("report notice delivery failed",
					logger.Int("report_id", int(n.ReportID)),
					logger.Error(err))
			}
			cancel()
		}
	}
}

// Deliver sends n synchronously: owner and admin devices through the
// mobile sender, then the operator channels. Dead tokens are pruned.
func (d *Dispatcher) Deliver(ctx context.Context, n Notice) (Result, error) {
	var total Result
	var errs []error

	if d.cfg.Mobile != nil && d.cfg.Store != nil {
		targets, err := d.targets(ctx, n.UserID)
		if err != nil {
			errs = append(errs, err)
		} else if len(targets) > 0 {
			res, err := d.send(ctx, d.cfg.Mobile, targets, n)
			if err != nil {
				errs = append(errs, err)
			}
			total.Add(res)
			d.prune(ctx, res.DeadTokens)
		}
	}

	if d.cfg.Operators != nil {
		res, err := d.send(ctx, d.cfg.Operators, nil, n)
		if err != nil {
			errs = append(errs, err)
		}
		total.Add(res)
	}

	if len(errs) > 0 {
		return total, fmt.Errorf("deliver report %d: %w", n.ReportID, errors.Join(errs...))
	}
	return total, nil
}

func (d *Dispatcher) send(ctx context.Context, s Sender, targets []string, n Notice) (Result, error) {
	var res Result
	start := time.Now()
	err := d.breakers[s.Name()].Call(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.Send(ctx, targets, n.Title, n.Body, n.Data)
		if err == nil && res.Success == 0 && res.Failure > 0 {
			err = fmt.Errorf("%s: every delivery failed", s.Name())
		}
		return err
	})
	d.cfg.Metrics.RecordBatch(s.Name(), res.Success, res.Failure, time.Since(start))
	return res, err
}

func (d *Dispatcher) targets(ctx context.Context, userID *uint) ([]string, error) {
	tokens, err := d.cfg.Store.AdminPushTokens(ctx)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		owner, err := d.cfg.Store.PushTokensForUsers(ctx, []uint{*userID})
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, owner...)
	}
	slices.Sort(tokens)
	return slices.Compact(tokens), nil
}

func (d *Dispatcher) prune(ctx context.Context, dead []string) {
	if len(dead) == 0 {
		return
	}
	n, err := d.cfg.Store.DeletePushTokens(ctx, dead)
	if err != nil {
		GetLogger().Warn("dead token prune failed", logger.Error(err), logger.Int("tokens", len(dead)))
		return
	}
	d.cfg.Metrics.RecordPruned(n)
	GetLogger().Info("pruned unregistered push tokens", logger.Int64("count", n))
}
