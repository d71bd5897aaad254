package notify

import (
	"context"
	"sync"
	"time"

	"argus/core"

	"github.com/cespare/xxhash/v2"
)

// DefaultDedupWindow is how long an alert suppresses repeats of its (event type, source) pair
const DefaultDedupWindow = 5 * time.Minute

// DedupKey builds the index key for an event type and source IP
func DedupKey(eventType core.EventType, sourceIP string) string {
	return string(eventType) + ":" + sourceIP
}

// LiveFunc reports whether the alert holding a claim still suppresses repeats
type LiveFunc func(alertID string) bool

// DedupIndex remembers which alert recently claimed a key
type DedupIndex interface {
	// Claim assigns key to alertID unless a live, unexpired claim exists. When the
	// key is taken it returns the holder and false.
	Claim(ctx context.Context, key, alertID string, live LiveFunc) (holder string, claimed bool, err error)
	// Record assigns key to alertID unconditionally
	Record(ctx context.Context, key, alertID string) error
	// PruneExpired drops claims past the window and returns how many were removed
	PruneExpired() int
}

type dedupEntry struct {
	alertID   string
	claimedAt time.Time
}

type dedupShard struct {
	mu      sync.Mutex
	entries map[string]dedupEntry
}

// MemoryDedupIndex is a process-local DedupIndex sharded by key hash
type MemoryDedupIndex struct {
	shards []*dedupShard
	window time.Duration
	clock  core.Clock
}

// NewMemoryDedupIndex creates an in-memory index
func NewMemoryDedupIndex(shards int, window time.Duration, clock core.Clock) *MemoryDedupIndex {
	if shards <= 0 {
		shards = 16
	}
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	idx := &MemoryDedupIndex{shards: make([]*dedupShard, shards), window: window, clock: clock}
	for i := range idx.shards {
		idx.shards[i] = &dedupShard{entries: make(map[string]dedupEntry)}
	}
	return idx
}

func (m *MemoryDedupIndex) shardFor(key string) *dedupShard {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Claim implements DedupIndex
func (m *MemoryDedupIndex) Claim(_ context.Context, key, alertID string, live LiveFunc) (string, bool, error) {
	now := m.clock.Now()
	shard := m.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if e, ok := shard.entries[key]; ok && now.Sub(e.claimedAt) < m.window {
		if live == nil || live(e.alertID) {
			return e.alertID, false, nil
		}
	}
	shard.entries[key] = dedupEntry{alertID: alertID, claimedAt: now}
	return alertID, true, nil
}

// Record implements DedupIndex
func (m *MemoryDedupIndex) Record(_ context.Context, key, alertID string) error {
	shard := m.shardFor(key)
	shard.mu.Lock()
	shard.entries[key] = dedupEntry{alertID: alertID, claimedAt: m.clock.Now()}
	shard.mu.Unlock()
	return nil
}

// PruneExpired implements DedupIndex
func (m *MemoryDedupIndex) PruneExpired() int {
	now := m.clock.Now()
	removed := 0
	for _, shard := range m.shards {
		shard.mu.Lock()
		for key, e := range shard.entries {
			if now.Sub(e.claimedAt) >= m.window {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Len returns the number of claims held, expired or not
func (m *MemoryDedupIndex) Len() int {
	n := 0
	for _, shard := range m.shards {
		shard.mu.Lock()
		n += len(shard.entries)
		shard.mu.Unlock()
	}
	return n
}
