package notify

import (
	"context"
	"testing"
	"time"

	"argus/core"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func alwaysLive(string) bool { return true }
func neverLive(string) bool  { return false }

func TestMemoryDedupIndex_Claim(t *testing.T) {
	ctx := context.Background()
	clock := core.NewManualClock(testStart)
	idx := NewMemoryDedupIndex(4, 5*time.Minute, clock)
	key := DedupKey(core.EventBruteForce, "10.0.0.1")

	holder, claimed, err := idx.Claim(ctx, key, "a1", alwaysLive)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "a1", holder)

	holder, claimed, err = idx.Claim(ctx, key, "a2", alwaysLive)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "a1", holder)

	_, claimed, _ = idx.Claim(ctx, DedupKey(core.EventSQLInjection, "10.0.0.1"), "a3", alwaysLive)
	assert.True(t, claimed, "different event types never collide")

	clock.Advance(5 * time.Minute)
	holder, claimed, _ = idx.Claim(ctx, key, "a4", alwaysLive)
	assert.True(t, claimed, "claim expires with the window")
	assert.Equal(t, "a4", holder)
}

func TestMemoryDedupIndex_DeadClaimIsReplaced(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryDedupIndex(4, 5*time.Minute, core.NewManualClock(testStart))
	key := DedupKey(core.EventXSS, "10.0.0.2")

	_, _, _ = idx.Claim(ctx, key, "failed-alert", alwaysLive)
	holder, claimed, err := idx.Claim(ctx, key, "retry", neverLive)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "retry", holder)
}

func TestMemoryDedupIndex_RecordAndPrune(t *testing.T) {
	ctx := context.Background()
	clock := core.NewManualClock(testStart)
	idx := NewMemoryDedupIndex(4, 5*time.Minute, clock)

	require.NoError(t, idx.Record(ctx, "a", "1"))
	clock.Advance(3 * time.Minute)
	require.NoError(t, idx.Record(ctx, "b", "2"))
	_, claimed, _ := idx.Claim(ctx, "a", "3", alwaysLive)
	assert.False(t, claimed)

	clock.Advance(3 * time.Minute)
	assert.Equal(t, 1, idx.PruneExpired())
	assert.Equal(t, 1, idx.Len())
}

func newRedisIndex(t *testing.T, clock core.Clock) (*RedisDedupIndex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	idx := newRedisDedupIndex(client, 5*time.Minute, clock, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { idx.Close() })
	return idx, mr
}

func TestRedisDedupIndex_Claim(t *testing.T) {
	ctx := context.Background()
	clock := core.NewManualClock(testStart)
	idx, mr := newRedisIndex(t, clock)
	require.NoError(t, idx.Ping(ctx))
	key := DedupKey(core.EventBruteForce, "10.0.0.1")

	_, claimed, err := idx.Claim(ctx, key, "a1", alwaysLive)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.True(t, mr.Exists(RedisKeyPrefix+key))
	assert.Equal(t, 5*time.Minute, mr.TTL(RedisKeyPrefix+key))

	holder, claimed, err := idx.Claim(ctx, key, "a2", alwaysLive)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "a1", holder)

	holder, claimed, err = idx.Claim(ctx, key, "a3", neverLive)
	require.NoError(t, err)
	assert.True(t, claimed, "claims of failed alerts are overwritten")
	assert.Equal(t, "a3", holder)
}

func TestRedisDedupIndex_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := core.NewManualClock(testStart)
	idx, mr := newRedisIndex(t, clock)
	key := DedupKey(core.EventXSS, "10.0.0.9")

	require.NoError(t, idx.Record(ctx, key, "incident-alert"))
	_, claimed, err := idx.Claim(ctx, key, "event-alert", alwaysLive)
	require.NoError(t, err)
	assert.False(t, claimed)

	mr.FastForward(5 * time.Minute)
	clock.Advance(5 * time.Minute)
	_, claimed, err = idx.Claim(ctx, key, "later", alwaysLive)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 0, idx.PruneExpired())
}

func TestRedisDedupIndex_UndecodableClaimIsReplaced(t *testing.T) {
	ctx := context.Background()
	idx, mr := newRedisIndex(t, core.NewManualClock(testStart))
	key := DedupKey(core.EventDataExfil, "10.0.0.3")
	require.NoError(t, mr.Set(RedisKeyPrefix+key, "not msgpack"))

	_, claimed, err := idx.Claim(ctx, key, "a1", alwaysLive)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestRedisDedupIndex_ServerDown(t *testing.T) {
	idx, mr := newRedisIndex(t, core.NewManualClock(testStart))
	mr.Close()

	_, _, err := idx.Claim(context.Background(), "k", "a1", alwaysLive)
	assert.Error(t, err)
	assert.Error(t, idx.Record(context.Background(), "k", "a1"))
}
