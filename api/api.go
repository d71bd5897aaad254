// Package api exposes ingestion, observation and acknowledgment over HTTP
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/notify"
	"argus/storage"
	"argus/util/goroutine"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterIdle is how long a client limiter survives without requests
const rateLimiterIdle = time.Hour

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// EventProcessor is the ingestion side of the pipeline
type EventProcessor interface {
	Process(ctx context.Context, in core.EventInput) core.SecurityEvent
	Stats() detect.ProcessorStats
}

// AlertService is the alert query and acknowledgment surface
type AlertService interface {
	Get(id string) (*core.SecurityAlert, error)
	List(filter storage.AlertFilter) []*core.SecurityAlert
	Acknowledge(id, userID string) (*core.SecurityAlert, error)
	Stats() notify.DispatcherStats
}

// IncidentService is the incident query and lifecycle surface
type IncidentService interface {
	Get(id string) (*core.SecurityIncident, error)
	List(status core.IncidentStatus, limit int) []*core.SecurityIncident
	UpdateStatus(id string, status core.IncidentStatus) (*core.SecurityIncident, error)
}

// Deps groups the services behind the API
type Deps struct {
	Processor EventProcessor
	Alerts    AlertService
	Incidents IncidentService
}

// API represents the REST API server
type API struct {
	router    *mux.Router
	processor EventProcessor
	alerts    AlertService
	incidents IncidentService
	config    *config.Config
	logger    *zap.SugaredLogger
	validate  *validator.Validate

	serverMu sync.Mutex
	server   *http.Server

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex

	cleanupOnce   sync.Once
	cleanupWg     sync.WaitGroup
	cleanupActive atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewAPI creates a new API server
func NewAPI(cfg *config.Config, deps Deps, logger *zap.SugaredLogger) (*API, error) {
	if deps.Processor == nil || deps.Alerts == nil || deps.Incidents == nil {
		return nil, errors.New("api requires processor, alert and incident services")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &API{
		router:       mux.NewRouter(),
		processor:    deps.Processor,
		alerts:       deps.Alerts,
		incidents:    deps.Incidents,
		config:       cfg,
		logger:       logger,
		validate:     newValidator(),
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	return a, nil
}

func (a *API) setupRoutes() {
	a.router.Use(a.metricsMiddleware)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(a.rateLimitMiddleware)
	v1.HandleFunc("/events", a.ingestEvent).Methods("POST")
	v1.HandleFunc("/stats/security", a.getSecurityStats).Methods("GET")
	v1.HandleFunc("/stats/alerts", a.getAlertStats).Methods("GET")
	v1.HandleFunc("/incidents", a.getIncidents).Methods("GET")
	v1.HandleFunc("/incidents/{id}", a.getIncident).Methods("GET")
	v1.HandleFunc("/incidents/{id}", a.updateIncident).Methods("PATCH")
	v1.HandleFunc("/alerts", a.getAlerts).Methods("GET")
	v1.HandleFunc("/alerts/{id}", a.getAlert).Methods("GET")
	v1.HandleFunc("/alerts/{id}/acknowledge", a.acknowledgeAlert).Methods("POST")

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the routed handler, for embedding in tests or another server
func (a *API) Handler() http.Handler {
	return a.router
}

// Start serves until Stop is called. It returns http.ErrServerClosed after a clean shutdown.
func (a *API) Start() error {
	a.serverMu.Lock()
	select {
	case <-a.stopCh:
		a.serverMu.Unlock()
		return http.ErrServerClosed
	default:
	}
	a.cleanupOnce.Do(func() {
		a.cleanupWg.Add(1)
		go func() {
			defer a.cleanupWg.Done()
			defer goroutine.Recover("api-rate-limiter-cleanup", a.logger)
			a.cleanupRateLimiters()
		}()
	})
	a.server = &http.Server{
		Addr:         a.config.Addr(),
		Handler:      a.router,
		ReadTimeout:  a.config.API.ReadTimeout,
		WriteTimeout: a.config.API.WriteTimeout,
	}
	server := a.server
	a.serverMu.Unlock()

	a.logger.Infow("API server listening", "addr", server.Addr)
	return server.ListenAndServe()
}

// Stop stops the API server and the rate limiter cleanup loop
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.serverMu.Lock()
	server := a.server
	a.serverMu.Unlock()

	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}
	a.cleanupWg.Wait()
	return err
}
