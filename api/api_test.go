package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/notify"
	"argus/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testStart = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Process(ctx context.Context, in core.EventInput) core.SecurityEvent {
	args := m.Called(ctx, in)
	return args.Get(0).(core.SecurityEvent)
}

func (m *mockProcessor) Stats() detect.ProcessorStats {
	return m.Called().Get(0).(detect.ProcessorStats)
}

type mockAlerts struct {
	mock.Mock
}

func (m *mockAlerts) Get(id string) (*core.SecurityAlert, error) {
	args := m.Called(id)
	alert, _ := args.Get(0).(*core.SecurityAlert)
	return alert, args.Error(1)
}

func (m *mockAlerts) List(filter storage.AlertFilter) []*core.SecurityAlert {
	alerts, _ := m.Called(filter).Get(0).([]*core.SecurityAlert)
	return alerts
}

func (m *mockAlerts) Acknowledge(id, userID string) (*core.SecurityAlert, error) {
	args := m.Called(id, userID)
	alert, _ := args.Get(0).(*core.SecurityAlert)
	return alert, args.Error(1)
}

func (m *mockAlerts) Stats() notify.DispatcherStats {
	return m.Called().Get(0).(notify.DispatcherStats)
}

type apiFixture struct {
	api       *API
	processor *mockProcessor
	alerts    *mockAlerts
	incidents *storage.IncidentStore
	clock     *core.ManualClock
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0
	cfg.API.MaxBodyBytes = 1 << 16
	cfg.API.RateLimit.RequestsPerSecond = 1000
	cfg.API.RateLimit.Burst = 1000
	return cfg
}

func newAPIFixture(t *testing.T, cfg *config.Config) *apiFixture {
	t.Helper()
	clock := core.NewManualClock(testStart)
	f := &apiFixture{
		processor: &mockProcessor{},
		alerts:    &mockAlerts{},
		incidents: storage.NewIncidentStore(4, clock),
		clock:     clock,
	}
	a, err := NewAPI(cfg, Deps{Processor: f.processor, Alerts: f.alerts, Incidents: f.incidents}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	f.api = a
	return f
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) seedIncident(t *testing.T, id string) {
	t.Helper()
	event := &core.SecurityEvent{
		ID:        "evt-" + id,
		Type:      core.EventSQLInjection,
		Severity:  core.SeverityHigh,
		SourceIP:  "203.0.113.9",
		RiskScore: 70,
	}
	require.NoError(t, f.incidents.Create(core.NewIncidentFromEvent(id, event, f.clock.Now())))
}

func TestNewAPI_RequiresServices(t *testing.T) {
	_, err := NewAPI(testConfig(), Deps{Processor: &mockProcessor{}}, nil)
	assert.Error(t, err)
}

func TestIngestEvent_Valid(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	processed := core.SecurityEvent{
		ID:        "evt-1",
		Type:      core.EventBruteForce,
		Severity:  core.SeverityHigh,
		SourceIP:  "198.51.100.4",
		RiskScore: 65,
	}
	f.processor.On("Process", mock.Anything, mock.MatchedBy(func(in core.EventInput) bool {
		return in.Type == core.EventBruteForce &&
			in.Severity == core.SeverityHigh &&
			in.SourceIP == "198.51.100.4" &&
			in.UserID == "alice" &&
			in.Request.Method == "POST" &&
			in.Metadata["attempts"] == float64(12)
	})).Return(processed).Once()

	rr := f.do("POST", "/api/v1/events", `{
		"type": "brute_force",
		"severity": "high",
		"source_ip": "198.51.100.4",
		"user_id": "alice",
		"request": {"url": "/login", "method": "POST"},
		"metadata": {"attempts": 12}
	}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got core.SecurityEvent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "evt-1", got.ID)
	assert.Equal(t, 65, got.RiskScore)
	f.processor.AssertExpectations(t)
}

func TestIngestEvent_SeverityIsOptional(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	f.processor.On("Process", mock.Anything, mock.MatchedBy(func(in core.EventInput) bool {
		return in.Severity == "" && in.Type == core.EventAuthFailure
	})).Return(core.SecurityEvent{ID: "evt-2"}).Once()

	rr := f.do("POST", "/api/v1/events", `{"type":"AUTH_FAILURE","source_ip":"2001:db8::1"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	f.processor.AssertExpectations(t)
}

func TestIngestEvent_RejectsInvalidBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"type":`},
		{"missing type", `{"source_ip":"198.51.100.4"}`},
		{"unknown type", `{"type":"phishing","source_ip":"198.51.100.4"}`},
		{"missing source ip", `{"type":"XSS"}`},
		{"bad source ip", `{"type":"XSS","source_ip":"not-an-ip"}`},
		{"bad severity", `{"type":"XSS","source_ip":"198.51.100.4","severity":"severe"}`},
		{"unknown field", `{"type":"XSS","source_ip":"198.51.100.4","score":99}`},
		{"trailing data", `{"type":"XSS","source_ip":"198.51.100.4"} {}`},
		{"oversized user", fmt.Sprintf(`{"type":"XSS","source_ip":"198.51.100.4","user_id":%q}`, strings.Repeat("u", 300))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, testConfig())
			rr := f.do("POST", "/api/v1/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			f.processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		})
	}
}

func TestIngestEvent_BodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.API.MaxBodyBytes = 64
	f := newAPIFixture(t, cfg)

	body := fmt.Sprintf(`{"type":"XSS","source_ip":"198.51.100.4","user_id":%q}`, strings.Repeat("a", 128))
	rr := f.do("POST", "/api/v1/events", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	cfg := testConfig()
	cfg.API.RateLimit.RequestsPerSecond = 0.001
	cfg.API.RateLimit.Burst = 2
	f := newAPIFixture(t, cfg)
	f.processor.On("Process", mock.Anything, mock.Anything).Return(core.SecurityEvent{ID: "evt"})

	body := `{"type":"XSS","source_ip":"198.51.100.4"}`
	assert.Equal(t, http.StatusOK, f.do("POST", "/api/v1/events", body).Code)
	assert.Equal(t, http.StatusOK, f.do("POST", "/api/v1/events", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do("POST", "/api/v1/events", body).Code)

	// A different peer has its own bucket
	req := httptest.NewRequest("POST", "/api/v1/events", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.200:5555"
	rr := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Health is outside the limited subtree
	assert.Equal(t, http.StatusOK, f.do("GET", "/health", "").Code)
}

func TestPruneRateLimiters(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	now := time.Now()
	f.api.rateLimiters["192.0.2.1"] = &rateLimiterEntry{lastSeen: now.Add(-2 * time.Hour)}
	f.api.rateLimiters["192.0.2.2"] = &rateLimiterEntry{lastSeen: now}

	assert.Equal(t, 1, f.api.pruneRateLimiters(now.Add(-rateLimiterIdle)))
	assert.Contains(t, f.api.rateLimiters, "192.0.2.2")
	assert.NotContains(t, f.api.rateLimiters, "192.0.2.1")
}

func TestStatsEndpoints(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	f.processor.On("Stats").Return(detect.ProcessorStats{
		Total:      3,
		ByType:     map[string]int64{"XSS": 3},
		BySeverity: map[string]int64{"HIGH": 3},
	})
	f.alerts.On("Stats").Return(notify.DispatcherStats{
		TotalAlerts: 2,
		ByChannel:   map[string]int64{"console": 2},
		ByStatus:    map[string]int{"SENT": 2},
		Suppressed:  1,
	})

	rr := f.do("GET", "/api/v1/stats/security", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var sec detect.ProcessorStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sec))
	assert.Equal(t, int64(3), sec.Total)
	assert.Equal(t, int64(3), sec.ByType["XSS"])

	rr = f.do("GET", "/api/v1/stats/alerts", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var al notify.DispatcherStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &al))
	assert.Equal(t, 2, al.TotalAlerts)
	assert.Equal(t, int64(1), al.Suppressed)
}

func TestGetAlerts_Filters(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	sent := []*core.SecurityAlert{{ID: "a1", Status: core.AlertStatusSent, Severity: core.SeverityHigh}}
	f.alerts.On("List", storage.AlertFilter{Status: core.AlertStatusSent, Severity: core.SeverityHigh, Limit: 5}).Return(sent).Once()
	f.alerts.On("List", storage.AlertFilter{Limit: defaultListLimit}).Return(nil).Once()

	rr := f.do("GET", "/api/v1/alerts?status=sent&severity=HIGH&limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got []core.SecurityAlert
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)

	rr = f.do("GET", "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/api/v1/alerts?status=lost", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/api/v1/alerts?severity=huge", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/api/v1/alerts?limit=0", "").Code)
	f.alerts.AssertExpectations(t)
}

func TestGetAlert(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	f.alerts.On("Get", "a1").Return(&core.SecurityAlert{ID: "a1"}, nil)
	f.alerts.On("Get", "missing").Return(nil, fmt.Errorf("alert missing: %w", core.ErrNotFound))

	assert.Equal(t, http.StatusOK, f.do("GET", "/api/v1/alerts/a1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do("GET", "/api/v1/alerts/missing", "").Code)
}

func TestAcknowledgeAlert(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	ackAt := testStart
	f.alerts.On("Acknowledge", "a1", "analyst").Return(&core.SecurityAlert{
		ID:             "a1",
		Status:         core.AlertStatusAcknowledged,
		AcknowledgedBy: "analyst",
		AcknowledgedAt: &ackAt,
	}, nil)
	f.alerts.On("Acknowledge", "missing", "analyst").Return(nil, fmt.Errorf("alert missing: %w", core.ErrNotFound))
	f.alerts.On("Acknowledge", "a2", "analyst").Return(nil, fmt.Errorf("%w: alert a2 is THROTTLED", core.ErrInvalidTransition))

	rr := f.do("POST", "/api/v1/alerts/a1/acknowledge", `{"user_id":"analyst"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var got core.SecurityAlert
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, core.AlertStatusAcknowledged, got.Status)
	assert.Equal(t, "analyst", got.AcknowledgedBy)

	assert.Equal(t, http.StatusNotFound, f.do("POST", "/api/v1/alerts/missing/acknowledge", `{"user_id":"analyst"}`).Code)
	assert.Equal(t, http.StatusConflict, f.do("POST", "/api/v1/alerts/a2/acknowledge", `{"user_id":"analyst"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("POST", "/api/v1/alerts/a1/acknowledge", `{}`).Code)
}

func TestIncidentLifecycle(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	f.seedIncident(t, "inc-1")
	f.clock.Advance(time.Minute)
	f.seedIncident(t, "inc-2")

	rr := f.do("GET", "/api/v1/incidents", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var all []core.SecurityIncident
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &all))
	require.Len(t, all, 2)
	assert.Equal(t, "inc-2", all[0].ID, "newest first")

	rr = f.do("PATCH", "/api/v1/incidents/inc-1", `{"status":"investigating"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated core.SecurityIncident
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, core.IncidentStatusInvestigating, updated.Status)

	rr = f.do("GET", "/api/v1/incidents?status=INVESTIGATING", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var investigating []core.SecurityIncident
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &investigating))
	require.Len(t, investigating, 1)
	assert.Equal(t, "inc-1", investigating[0].ID)

	assert.Equal(t, http.StatusConflict, f.do("PATCH", "/api/v1/incidents/inc-1", `{"status":"OPEN"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("PATCH", "/api/v1/incidents/inc-1", `{"status":"archived"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("PATCH", "/api/v1/incidents/inc-1", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do("PATCH", "/api/v1/incidents/nope", `{"status":"CLOSED"}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do("GET", "/api/v1/incidents/nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/api/v1/incidents?status=gone", "").Code)

	rr = f.do("PATCH", "/api/v1/incidents/inc-2", `{"status":"CLOSED"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.do("GET", "/api/v1/incidents/inc-2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var closed core.SecurityIncident
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &closed))
	assert.NotNil(t, closed.ClosedAt)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t, testConfig())

	rr := f.do("GET", "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"healthy"`)

	rr = f.do("GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "argus_api_requests_total")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	assert.Equal(t, http.StatusMethodNotAllowed, f.do("DELETE", "/api/v1/events", "").Code)
}

func TestSanitizeErrorMessage(t *testing.T) {
	msg := sanitizeErrorMessage("dial redis://:hunter2@10.0.0.5:6379 failed: password=hunter2")
	assert.NotContains(t, msg, "hunter2")
	assert.Contains(t, msg, "[URL]")

	long := sanitizeErrorMessage(strings.Repeat("x", 1000))
	assert.Len(t, long, maxErrorMessageLength)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestStartStop(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	assert.False(t, f.api.cleanupActive.Load(), "no background work before Start")

	errCh := make(chan error, 1)
	go func() { errCh <- f.api.Start() }()
	require.Eventually(t, f.api.cleanupActive.Load, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		f.api.serverMu.Lock()
		defer f.api.serverMu.Unlock()
		return f.api.server != nil
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.api.Stop(ctx))
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, f.api.cleanupActive.Load(), "Stop waits for the cleanup loop")
}

func TestStopBeforeStartSkipsCleanupLoop(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	require.NoError(t, f.api.Stop(context.Background()))
	assert.ErrorIs(t, f.api.Start(), http.ErrServerClosed)
	assert.False(t, f.api.cleanupActive.Load())
}

func TestWriteJSONEncodesBody(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	rr := httptest.NewRecorder()
	f.api.writeJSON(rr, map[string]int{"n": 1}, http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte(`{"n":1}`)))
}
