package storage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingPruner struct {
	calls   int64
	lastAge int64
	removed int
	panics  bool
}

func (c *countingPruner) Prune(maxAge time.Duration) int { return c.record(maxAge) }
func (c *countingPruner) PruneOlderThan(maxAge time.Duration) int { return c.record(maxAge) }
func (c *countingPruner) PruneClosed(maxAge time.Duration) int { return c.record(maxAge) }
func (c *countingPruner) Purge(idle time.Duration) int { return c.record(idle) }
func (c *countingPruner) PruneExpired() int { return c.record(0) }
func (c *countingPruner) count() int64 { return atomic.LoadInt64(&c.calls) }
func (c *countingPruner) age() time.Duration { return time.Duration(atomic.LoadInt64(&c.lastAge)) }

func (c *countingPruner) record(age time.Duration) int {
	if c.panics {
		panic("prune failed")
	}
	atomic.AddInt64(&c.calls, 1)
	atomic.StoreInt64(&c.lastAge, int64(age))
	return c.removed
}

func TestRetentionManager_SweepsUseConfiguredAges(t *testing.T) {
	events, alerts, incidents, throttle := &countingPruner{removed: 3}, &countingPruner{removed: 1}, &countingPruner{}, &countingPruner{}
	rm := NewRetentionManager(DefaultRetentionConfig(), RetentionTargets{
		Events: events, Alerts: alerts, Incidents: incidents, Throttle: throttle,
	}, core.NewManualClock(testStart), zaptest.NewLogger(t).Sugar())

	hourly := rm.SweepHourly()
	assert.Equal(t, 3, hourly["events"])
	assert.Equal(t, 24*time.Hour, events.age())
	assert.Equal(t, int64(0), alerts.count(), "alerts are swept daily")

	daily := rm.SweepDaily()
	assert.Equal(t, 1, daily["alerts"])
	assert.Equal(t, 7*24*time.Hour, alerts.age())
	assert.Equal(t, 30*24*time.Hour, incidents.age())
	assert.Equal(t, time.Hour, throttle.age())
}

func TestRetentionManager_FailuresAreIsolated(t *testing.T) {
	broken := &countingPruner{panics: true}
	healthy := &countingPruner{removed: 2}
	rm := NewRetentionManager(DefaultRetentionConfig(), RetentionTargets{
		Alerts: broken, Incidents: healthy,
	}, core.NewManualClock(testStart), zaptest.NewLogger(t).Sugar())

	var result SweepResult
	assert.NotPanics(t, func() { result = rm.SweepDaily() })
	assert.Equal(t, 2, result["incidents"])
	_, ok := result["alerts"]
	assert.False(t, ok)
}

func TestRetentionManager_TickersDriveSweeps(t *testing.T) {
	clock := core.NewManualClock(testStart)
	events, alerts := &countingPruner{}, &countingPruner{}
	rm := NewRetentionManager(DefaultRetentionConfig(), RetentionTargets{Events: events, Alerts: alerts}, clock, zaptest.NewLogger(t).Sugar())

	rm.Start(context.Background())
	defer rm.Stop()

	clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return events.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), alerts.count())

	clock.Advance(23 * time.Hour)
	require.Eventually(t, func() bool { return alerts.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRetentionManager_StopIsIdempotent(t *testing.T) {
	rm := NewRetentionManager(RetentionConfig{}, RetentionTargets{}, core.NewManualClock(testStart), zaptest.NewLogger(t).Sugar())
	rm.Stop()
	rm.Start(context.Background())
	rm.Start(context.Background())
	rm.Stop()
	rm.Stop()
}

func TestRetentionManager_EndToEndWithStores(t *testing.T) {
	clock := core.NewManualClock(testStart)
	alerts := NewAlertStore(2, clock)
	incidents := NewIncidentStore(2, clock)
	require.NoError(t, alerts.Insert(newAlert("a", core.AlertStatusSent, core.SeverityHigh, testStart)))
	require.NoError(t, incidents.Create(newIncident("i", testStart)))
	_, err := incidents.UpdateStatus("i", core.IncidentStatusClosed)
	require.NoError(t, err)

	rm := NewRetentionManager(DefaultRetentionConfig(), RetentionTargets{Alerts: alerts, Incidents: incidents}, clock, zaptest.NewLogger(t).Sugar())

	clock.Advance(8 * 24 * time.Hour)
	rm.SweepDaily()
	assert.Equal(t, 0, alerts.Len())
	assert.Equal(t, 1, incidents.Len(), "closed incident younger than 30 days is kept")

	clock.Advance(23 * 24 * time.Hour)
	rm.SweepDaily()
	assert.Equal(t, 0, incidents.Len())
}
