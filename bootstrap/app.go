package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"argus/api"
	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/notify"
	"argus/storage"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

const (
	apiShutdownTimeout     = 5 * time.Second
	serviceShutdownTimeout = 15 * time.Second
)

// App represents the argus application with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
	Clock  core.Clock

	// Pipeline
	Detection *Detection
	Incidents *storage.IncidentStore
	Alerting  *Alerting
	Bus       *EventBus
	Retention *storage.RetentionManager

	// Services
	APIServer *api.API

	// Lifecycle
	serviceWg    sync.WaitGroup
	serveErr     chan error
	shutdownOnce sync.Once
}

// Option customizes NewApp
type Option func(*appOptions)

type appOptions struct {
	clock      core.Clock
	senders    map[core.Channel]notify.Sender
	withoutAPI bool
}

// WithClock replaces the system clock, for deterministic tests and replays
func WithClock(clock core.Clock) Option {
	return func(o *appOptions) { o.clock = clock }
}

// WithSender replaces the sender of a configured channel
func WithSender(channel core.Channel, sender notify.Sender) Option {
	return func(o *appOptions) { o.senders[channel] = sender }
}

// WithoutAPI skips the HTTP server
func WithoutAPI() Option {
	return func(o *appOptions) { o.withoutAPI = true }
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := appOptions{clock: core.SystemClock{}, senders: make(map[core.Channel]notify.Sender)}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()
	logConfig(cfg, sugar)

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Sugar:     sugar,
		Clock:     o.clock,
		Incidents: storage.NewIncidentStore(storage.DefaultShards, o.clock),
		serveErr:  make(chan error, 1),
	}

	detection, err := InitDetection(cfg, app.Incidents, o.clock, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize detection: %w", err)
	}
	app.Detection = detection

	alerting, err := InitAlerting(ctx, cfg, o.senders, o.clock, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize alerting: %w", err)
	}
	app.Alerting = alerting

	// The bus outlives ctx so Shutdown can drain queued deliveries
	app.Bus = NewEventBus(context.Background(), cfg.Bus.Workers, cfg.Bus.QueueSize, alerting.Dispatcher, sugar)
	detection.Processor.Subscribe(app.Bus)

	app.Retention = storage.NewRetentionManager(cfg.Retention, storage.RetentionTargets{
		Events:    detection.Cache,
		Alerts:    alerting.Alerts,
		Incidents: app.Incidents,
		Throttle:  alerting.Dispatcher.Throttle(),
		Dedup:     alerting.Dispatcher.Dedup(),
		Actions:   detection.Actions,
	}, o.clock, sugar)

	if !o.withoutAPI {
		app.APIServer, err = api.NewAPI(cfg, api.Deps{
			Processor: detection.Processor,
			Alerts:    alerting.Dispatcher,
			Incidents: app.Incidents,
		}, sugar)
		if err != nil {
			_ = alerting.Close()
			return nil, fmt.Errorf("failed to initialize API: %w", err)
		}
	}

	return app, nil
}

// Processor returns the event processor, the single ingestion entry point
func (a *App) Processor() *detect.Processor {
	return a.Detection.Processor
}

// Dispatcher returns the alert dispatcher
func (a *App) Dispatcher() *notify.Dispatcher {
	return a.Alerting.Dispatcher
}

// Start launches the event bus, the retention sweeper and the API server.
func (a *App) Start(ctx context.Context) error {
	if err := a.Bus.Start(); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	a.Retention.Start(ctx)

	if a.APIServer != nil {
		a.serviceWg.Add(1)
		go func() {
			defer a.serviceWg.Done()
			defer goroutine.Recover("api-server", a.Sugar)
			if err := a.APIServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Sugar.Errorw("API server failed", "error", err)
				a.serveErr <- err
			}
		}()
	}
	a.Sugar.Info("argus started")
	return nil
}

// WaitForShutdown blocks until a shutdown signal arrives, ctx is cancelled or the API
// server fails. The server error, if any, is returned.
func (a *App) WaitForShutdown(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
		return nil
	case <-ctx.Done():
		return nil
	case err := <-a.serveErr:
		return err
	}
}

// Shutdown gracefully shuts down all components. Safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.Sugar.Info("Shutting down...")

	// Phase 1 - Stop accepting events
	if a.APIServer != nil {
		a.Sugar.Info("Phase 1: Stopping API server...")
		ctx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
	}

	// Phase 2 - Drain pending alert deliveries
	a.Sugar.Info("Phase 2: Draining event bus...")
	a.Bus.Stop()

	// Phase 3 - Stop maintenance
	a.Sugar.Info("Phase 3: Stopping retention sweeper...")
	a.Retention.Stop()

	// Phase 4 - Wait for service goroutines
	a.Sugar.Info("Phase 4: Waiting for service goroutines to complete...")
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(serviceShutdownTimeout):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	// Phase 5 - Close external connections
	a.Sugar.Info("Phase 5: Closing connections...")
	if err := a.Alerting.Close(); err != nil {
		a.Sugar.Errorw("Failed to close redis connection", "error", err)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
