package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestActionExecutorBestEffort(t *testing.T) {
	clock := core.NewManualClock(testStart)
	ae := NewActionExecutor(DefaultActionConfig(), clock, zaptest.NewLogger(t).Sugar())

	require.NoError(t, ae.Register(core.ActionLockAccount, func(context.Context, *core.SecurityEvent) error {
		return errors.New("identity provider unavailable")
	}))
	require.NoError(t, ae.Register(core.ActionRequireMFA, func(context.Context, *core.SecurityEvent) error {
		panic("mfa handler bug")
	}))

	event := eventAt("10.0.0.1", "alice", core.EventBruteForce, clock.Now())
	outcomes := ae.Execute(context.Background(), event, []core.ResponseAction{
		core.ActionLockAccount, core.ActionRequireMFA, core.ActionBlockIP, core.ActionMonitorUser,
	})

	require.Len(t, outcomes, 4)
	assert.Error(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)
	assert.NoError(t, outcomes[2].Err)
	assert.NoError(t, outcomes[3].Err)

	assert.True(t, ae.Blocked("10.0.0.1"), "later actions still ran")
	assert.True(t, ae.Watched(event.Subject()))
}

func TestActionExecutorBlockExpires(t *testing.T) {
	clock := core.NewManualClock(testStart)
	cfg := DefaultActionConfig()
	cfg.BlockDuration = 10 * time.Minute
	ae := NewActionExecutor(cfg, clock, zaptest.NewLogger(t).Sugar())

	event := eventAt("10.0.0.1", "", core.EventAuthFailure, clock.Now())
	ae.Execute(context.Background(), event, []core.ResponseAction{core.ActionBlockIP, core.ActionApplyRateLimit})
	assert.True(t, ae.Blocked("10.0.0.1"))
	assert.True(t, ae.RateLimited(event.Subject()))
	assert.Equal(t, 1, ae.BlockedCount())

	clock.Advance(11 * time.Minute)
	assert.False(t, ae.Blocked("10.0.0.1"))
	assert.Equal(t, 0, ae.BlockedCount())

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 2, ae.PruneExpired())
}

func TestActionExecutorRejectsUnknownAction(t *testing.T) {
	ae := NewActionExecutor(DefaultActionConfig(), nil, zaptest.NewLogger(t).Sugar())
	assert.Error(t, ae.Register("self_destruct", func(context.Context, *core.SecurityEvent) error { return nil }))

	outcomes := ae.Execute(context.Background(), &core.SecurityEvent{ID: "e"}, []core.ResponseAction{"self_destruct"})
	require.Len(t, outcomes, 1)
	assert.Error(t, outcomes[0].Err)
}

func TestEveryActionHasDefaultHandler(t *testing.T) {
	ae := NewActionExecutor(DefaultActionConfig(), nil, zaptest.NewLogger(t).Sugar())
	event := &core.SecurityEvent{ID: "e", SourceIP: "10.0.0.1", Type: core.EventAuthFailure}
	for _, outcome := range ae.Execute(context.Background(), event, core.AllResponseActions) {
		assert.NoError(t, outcome.Err, "action %s", outcome.Action)
	}
}
