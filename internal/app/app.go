// Package app assembles the pipeline collaborators from settings and owns
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/wildwatch/internal/api"
	"github.com/tphakala/wildwatch/internal/broadcast"
	"github.com/tphakala/wildwatch/internal/classifier"
	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/datastore"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/gate"
	"github.com/tphakala/wildwatch/internal/httpclient"
	"github.com/tphakala/wildwatch/internal/ingest"
	"github.com/tphakala/wildwatch/internal/logger"
	"github.com/tphakala/wildwatch/internal/mqtt"
	"github.com/tphakala/wildwatch/internal/observability"
	"github.com/tphakala/wildwatch/internal/push"
	"github.com/tphakala/wildwatch/internal/stream"
	"github.com/tphakala/wildwatch/internal/taxonomy"
)

const (
	janitorInterval   = 10 * time.Minute
	pushStopTimeout   = 5 * time.Second
	streamStopTimeout = 10 * time.Second
	mqttStartTimeout  = 10 * time.Second
	sentryFlush       = 2 * time.Second
)

// Version is reported by the health endpoints and Sentry releases
var Version = "dev"

// App holds every long-lived component
type App struct {
	Settings   *conf.Settings
	Store      datastore.Interface
	Taxonomy   *taxonomy.Taxonomy
	Metrics    *observability.Metrics
	Service    *ingest.Service
	Hub        *broadcast.Hub
	Dispatcher *push.Dispatcher
	Streams    *stream.Manager

	client  *httpclient.Client
	mqtt    mqtt.Client
	shared  *gate.SharedStore
	log     logger.Logger
	closing sync.Once
}

// Option customizes New
type Option func(*options)

type options struct {
	store datastore.Interface
}

// WithStore uses store instead of opening the configured database
func WithStore(store datastore.Interface) Option {
	return func(o *options) { o.store = store }
}

// New builds the application. Nothing is started except the push workers
// and the cooldown janitor; call Serve or RunStreams to start work.
func New(settings *conf.Settings, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Settings: settings, log: GetLogger()}
	initTelemetry(settings)

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_metrics").
			Build()
	}
	a.Metrics = m

	if err := a.openStore(o.store); err != nil {
		return nil, err
	}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(store datastore.Interface) error {
	if store != nil {
		a.Store = store
		return nil
	}
	store, err := datastore.New(a.Settings)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("driver", a.Settings.Database.Driver).
			Build()
	}
	if err := store.Open(); err != nil {
		return err
	}
	a.Store = store
	return nil
}

func (a *App) build() error {
	s := a.Settings

	tax, err := loadTaxonomy(s.Taxonomy.Path)
	if err != nil {
		return err
	}
	a.Taxonomy = tax

	store := gate.NewStore(s.Pipeline.CooldownBackend, a.Store, s.Pipeline.Cooldown)
	if shared, ok := store.(*gate.SharedStore); ok {
		shared.StartJanitor(janitorInterval, 2*s.Pipeline.Cooldown)
		a.shared = shared
	}

	a.client = httpclient.New(&httpclient.Config{Timeout: s.Classifier.Timeout})
	a.client.SetResponseHook(func(_ *http.Request, _ *http.Response, elapsed time.Duration, _ error) {
		a.Metrics.Pipeline.ObserveClassifierLatency(elapsed)
	})

	model, err := a.buildClassifier()
	if err != nil {
		return err
	}

	publisher := a.buildBroadcaster()

	deps := ingest.Dependencies{
		Store:       a.Store,
		Heartbeats:  a.Store,
		Taxonomy:    tax,
		Resolver:    taxonomy.NewResolver(a.Store, s.Taxonomy.CacheTTL),
		Cooldown:    gate.NewCooldown(store, s.Pipeline.Cooldown),
		Broadcaster: publisher,
		Metrics:     a.Metrics.Pipeline,
	}
	if model != nil {
		deps.Classifier = model
	}
	if d := a.buildDispatcher(); d != nil {
		a.Dispatcher = d
		deps.Notifier = d
	}

	svc, err := ingest.NewService(ingest.Config{
		Threshold:        s.Pipeline.Threshold,
		UnknownAnimalID:  s.Pipeline.UnknownAnimalID,
		HeartbeatTimeout: s.Pipeline.HeartbeatTimeout,
		Grouped:          s.Pipeline.Grouped,
	}, deps)
	if err != nil {
		return err
	}
	a.Service = svc

	a.Streams = stream.NewManager(svc, stream.HTTPSourceFactory(a.client), a.Metrics.Stream)
	return nil
}

func loadTaxonomy(path string) (*taxonomy.Taxonomy, error) {
	if path == "" {
		return taxonomy.Default()
	}
	return taxonomy.Load(path)
}

// buildClassifier returns nil when neither the model nor the filename
// hints are enabled
func (a *App) buildClassifier() (classifier.Classifier, error) {
	s := a.Settings
	var hint classifier.Classifier
	if s.Classifier.HintFallback {
		hint = classifier.NewHintClassifier(a.Taxonomy, s.Pipeline.TopK)
	}
	if !s.Classifier.Enabled {
		return hint, nil
	}

	model, err := classifier.NewHTTPClassifier(a.client, s.Classifier.URL, s.Pipeline.TopK, a.Taxonomy)
	if err != nil {
		return nil, err
	}
	if hint == nil {
		return model, nil
	}
	return &classifier.FallbackClassifier{
		Primary:  model,
		Fallback: hint,
		OnFailure: func(err error) {
			a.Metrics.Pipeline.RecordClassifierFailure()
			a.log.Warn("classifier unavailable, using filename hints", logger.Error(err))
		},
	}, nil
}

func (a *App) buildBroadcaster() *broadcast.Broadcaster {
	s := a.Settings
	a.Hub = broadcast.NewHub(broadcast.HubConfig{
		ClientBuffer: s.Broadcast.ClientBuffer,
		MaxClients:   s.Broadcast.MaxClients,
	}, a.Metrics.Broadcast)

	sinks := []broadcast.Sink{a.Hub}
	if s.MQTT.Enabled {
		if client := a.connectMQTT(); client != nil {
			a.mqtt = client
			sinks = append(sinks, broadcast.NewMQTTSink(client, s.MQTT.Topic))
		}
	}
	return broadcast.New(s.Broadcast.SendTimeout, a.Metrics.Broadcast, sinks...)
}

// connectMQTT returns nil when the broker cannot be reached; the live
// feed then runs without the MQTT sink
func (a *App) connectMQTT() mqtt.Client {
	client, err := mqtt.NewClient(mqtt.ConfigFromSettings(&a.Settings.MQTT), a.Metrics.MQTT)
	if err != nil {
		a.log.Warn("invalid MQTT configuration", logger.Error(err))
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mqttStartTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		a.log.Warn("MQTT broker unavailable, continuing without MQTT sink",
			logger.String("broker", a.Settings.MQTT.Broker),
			logger.Error(err))
		client.Disconnect()
		return nil
	}
	return client
}

// buildDispatcher returns nil when push is disabled or no sender could be
// configured
func (a *App) buildDispatcher() *push.Dispatcher {
	s := a.Settings
	if !s.Push.Enabled {
		return nil
	}

	cfg := push.DispatcherConfig{
		Store:       a.Store,
		Metrics:     a.Metrics.Push,
		SendTimeout: s.Push.Timeout,
		Breaker:     push.DefaultCircuitBreakerConfig(),
	}
	if s.Push.FCM.Enabled {
		sender, err := push.NewFCMSender(context.Background(), &s.Push)
		if err != nil {
			a.log.Warn("FCM sender disabled", logger.Error(err))
		} else {
			cfg.Mobile = sender
		}
	}
	if s.Push.Shoutrrr.Enabled {
		sender, err := push.NewShoutrrrSender(s.Push.Shoutrrr.URLs, s.Push.Timeout)
		if err != nil {
			a.log.Warn("shoutrrr sender disabled", logger.Error(err))
		} else {
			cfg.Operators = sender
		}
	}
	if cfg.Mobile == nil && cfg.Operators == nil {
		a.log.Warn("push enabled but no sender is configured")
		return nil
	}

	d := push.NewDispatcher(cfg)
	d.Start(s.Push.Concurrency)
	return d
}

// NewServer returns the HTTP server for the ingestion API
func (a *App) NewServer() (*api.Server, error) {
	opts := []api.ServerOption{
		api.WithService(a.Service),
		api.WithHub(a.Hub),
		api.WithHealthCheck(a.Store.Ping),
		api.WithVersion(Version),
	}
	if a.Settings.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(a.Metrics))
	}
	return api.New(a.Settings, opts...)
}

// Serve runs the HTTP server and the configured stream workers until ctx
// is cancelled or a termination signal arrives
func (a *App) Serve(ctx context.Context) error {
	server, err := a.NewServer()
	if err != nil {
		return err
	}
	if err := a.Streams.Sync(a.Settings.Streams); err != nil {
		a.log.Warn("some streams failed to start", logger.Error(err))
	}
	return server.StartWithGracefulShutdown(ctx)
}

// RunStreams runs only the stream workers until ctx is done
func (a *App) RunStreams(ctx context.Context, streams []conf.StreamSettings) error {
	if err := a.Streams.Sync(streams); err != nil {
		if len(a.Streams.ActiveStreams()) == 0 {
			return err
		}
		a.log.Warn("some streams failed to start", logger.Error(err))
	}
	<-ctx.Done()
	return nil
}

// Close stops every component. It is safe to call more than once.
func (a *App) Close() {
	a.closing.Do(func() {
		if a.Streams != nil {
			if err := a.Streams.Shutdown(streamStopTimeout); err != nil {
				a.log.Warn("stream shutdown incomplete", logger.Error(err))
			}
		}
		if a.Dispatcher != nil {
			a.Dispatcher.Stop(pushStopTimeout)
		}
		if a.Hub != nil {
			a.Hub.Close()
		}
		if a.mqtt != nil {
			a.mqtt.Disconnect()
		}
		if a.shared != nil {
			a.shared.Stop()
		}
		if a.client != nil {
			a.client.Close()
		}
		if a.Store != nil {
			if err := a.Store.Close(); err != nil {
				a.log.Error("failed to close database", logger.Error(err))
			}
		}
		if a.Settings.Sentry.Enabled {
			sentry.Flush(sentryFlush)
		}
	})
}

// initTelemetry installs the Sentry reporter for enhanced errors
func initTelemetry(settings *conf.Settings) {
	enabled := settings.Sentry.Enabled && settings.Sentry.DSN != ""
	if enabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              settings.Sentry.DSN,
			Environment:      settings.Sentry.Environment,
			SampleRate:       settings.Sentry.SampleRate,
			Release:          fmt.Sprintf("wildwatch@%s", Version),
			AttachStacktrace: false,
			ServerName:       "",
		})
		if err != nil {
			GetLogger().Warn("sentry initialization failed", logger.Error(err))
			enabled = false
		}
	}
	errors.SetTelemetryReporter(errors.NewSentryReporter(enabled))
}

// GetLogger returns the app package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}
