package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAlert(id string, status core.AlertStatus, sev core.Severity, created time.Time) *core.SecurityAlert {
	return &core.SecurityAlert{
		ID:        id,
		EventID:   "evt-" + id,
		Severity:  sev,
		Status:    status,
		Channels:  []core.Channel{core.ChannelConsole},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestAlertStoreInsertGetUpdate(t *testing.T) {
	store := NewAlertStore(4, core.NewManualClock(testStart))
	require.NoError(t, store.Insert(newAlert("a1", core.AlertStatusPending, core.SeverityHigh, testStart)))
	assert.ErrorIs(t, store.Insert(newAlert("a1", core.AlertStatusPending, core.SeverityHigh, testStart)), ErrDuplicateID)

	updated, err := store.Update("a1", func(a *core.SecurityAlert) error {
		a.Status = core.AlertStatusSent
		a.AttemptCount++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusSent, updated.Status)
	assert.Equal(t, 1, updated.AttemptCount)

	_, err = store.Update("a1", func(a *core.SecurityAlert) error {
		a.Status = core.AlertStatusFailed
		return errors.New("rejected")
	})
	assert.Error(t, err)
	status, ok := store.Status("a1")
	require.True(t, ok)
	assert.Equal(t, core.AlertStatusSent, status, "failed mutation leaves the alert unchanged")

	_, err = store.Get("nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.Update("nope", func(*core.SecurityAlert) error { return nil })
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAlertStoreListFilters(t *testing.T) {
	store := NewAlertStore(4, nil)
	statuses := []core.AlertStatus{core.AlertStatusSent, core.AlertStatusThrottled, core.AlertStatusSent}
	severities := []core.Severity{core.SeverityHigh, core.SeverityCritical, core.SeverityCritical}
	for i := range statuses {
		require.NoError(t, store.Insert(newAlert(fmt.Sprintf("a%d", i), statuses[i], severities[i], testStart.Add(time.Duration(i)*time.Second))))
	}

	all := store.List(AlertFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, "a2", all[0].ID)

	assert.Len(t, store.List(AlertFilter{Status: core.AlertStatusSent}), 2)
	assert.Len(t, store.List(AlertFilter{Severity: core.SeverityCritical}), 2)
	assert.Len(t, store.List(AlertFilter{Status: core.AlertStatusSent, Severity: core.SeverityCritical}), 1)
	assert.Len(t, store.List(AlertFilter{Limit: 1}), 1)

	counts := store.CountByStatus()
	assert.Equal(t, 2, counts[core.AlertStatusSent])
	assert.Equal(t, 1, counts[core.AlertStatusThrottled])
}

func TestAlertStorePruneKeepsPending(t *testing.T) {
	clock := core.NewManualClock(testStart)
	store := NewAlertStore(4, clock)
	require.NoError(t, store.Insert(newAlert("old-sent", core.AlertStatusSent, core.SeverityHigh, testStart)))
	require.NoError(t, store.Insert(newAlert("old-pending", core.AlertStatusPending, core.SeverityHigh, testStart)))
	require.NoError(t, store.Insert(newAlert("old-failed", core.AlertStatusFailed, core.SeverityHigh, testStart)))

	clock.Advance(8 * 24 * time.Hour)
	require.NoError(t, store.Insert(newAlert("fresh", core.AlertStatusSent, core.SeverityHigh, clock.Now())))

	assert.Equal(t, 2, store.PruneOlderThan(7*24*time.Hour))
	assert.Equal(t, 2, store.Len())
	_, err := store.Get("old-pending")
	assert.NoError(t, err)
}
