package detect

import (
	"sync"
	"time"

	"argus/core"
	"argus/metrics"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultCacheShards is the shard count used when none is configured
	DefaultCacheShards = 32
	// DefaultWriteWindow is the age beyond which a subject's events are dropped on every write
	DefaultWriteWindow = time.Hour
)

type cacheShard struct {
	mu       sync.RWMutex
	subjects map[string][]core.SecurityEvent
}

// EventCache keeps recent events per subject. Subjects are partitioned across shards
// by hash so concurrent writers for different subjects rarely contend.
type EventCache struct {
	shards      []*cacheShard
	clock       core.Clock
	writeWindow time.Duration
}

// NewEventCache creates a cache. shards <= 0 and writeWindow <= 0 select the defaults.
func NewEventCache(shards int, writeWindow time.Duration, clock core.Clock) *EventCache {
	if shards <= 0 {
		shards = DefaultCacheShards
	}
	if writeWindow <= 0 {
		writeWindow = DefaultWriteWindow
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	c := &EventCache{
		shards:      make([]*cacheShard, shards),
		clock:       clock,
		writeWindow: writeWindow,
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{subjects: make(map[string][]core.SecurityEvent)}
	}
	return c
}

func (c *EventCache) shardFor(subject string) *cacheShard {
	return c.shards[xxhash.Sum64String(subject)%uint64(len(c.shards))]
}

// WriteWindow returns how long events survive a write to their subject
func (c *EventCache) WriteWindow() time.Duration {
	return c.writeWindow
}

// Record appends the event to its subject and drops that subject's entries
// older than the write window.
func (c *EventCache) Record(event *core.SecurityEvent) {
	subject := event.Subject()
	shard := c.shardFor(subject)
	cutoff := c.clock.Now().Add(-c.writeWindow)

	shard.mu.Lock()
	_, existed := shard.subjects[subject]
	kept := pruneBefore(shard.subjects[subject], cutoff)
	shard.subjects[subject] = append(kept, *event.Clone())
	shard.mu.Unlock()

	if !existed {
		metrics.EventCacheSubjects.Inc()
	}
}

// Window returns the subject's events no older than d, oldest first.
// A non-empty types list restricts the result to those event types.
func (c *EventCache) Window(subject string, d time.Duration, types []core.EventType) []core.SecurityEvent {
	cutoff := c.clock.Now().Add(-d)
	shard := c.shardFor(subject)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	var out []core.SecurityEvent
	for _, e := range shard.subjects[subject] {
		if e.Timestamp.Before(cutoff) || !typeMatches(e.Type, types) {
			continue
		}
		out = append(out, *e.Clone())
	}
	return out
}

// Count is Window without the copy
func (c *EventCache) Count(subject string, d time.Duration, types []core.EventType) int {
	cutoff := c.clock.Now().Add(-d)
	shard := c.shardFor(subject)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	n := 0
	for i := range shard.subjects[subject] {
		e := &shard.subjects[subject][i]
		if !e.Timestamp.Before(cutoff) && typeMatches(e.Type, types) {
			n++
		}
	}
	return n
}

// Prune drops every entry older than maxAge and removes subjects left empty.
// It returns the number of events removed.
func (c *EventCache) Prune(maxAge time.Duration) int {
	cutoff := c.clock.Now().Add(-maxAge)
	removed := 0
	emptied := 0

	for _, shard := range c.shards {
		shard.mu.Lock()
		for subject, events := range shard.subjects {
			kept := pruneBefore(events, cutoff)
			removed += len(events) - len(kept)
			if len(kept) == 0 {
				delete(shard.subjects, subject)
				emptied++
				continue
			}
			shard.subjects[subject] = kept
		}
		shard.mu.Unlock()
	}

	if emptied > 0 {
		metrics.EventCacheSubjects.Sub(float64(emptied))
	}
	return removed
}

// Subjects returns the number of subjects currently cached
func (c *EventCache) Subjects() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.subjects)
		shard.mu.RUnlock()
	}
	return n
}

// Len returns the number of cached events across all subjects
func (c *EventCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		for _, events := range shard.subjects {
			n += len(events)
		}
		shard.mu.RUnlock()
	}
	return n
}

// pruneBefore filters in place; concurrent writers may append slightly out of timestamp order
func pruneBefore(events []core.SecurityEvent, cutoff time.Time) []core.SecurityEvent {
	kept := events[:0]
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(events); i++ {
		events[i] = core.SecurityEvent{}
	}
	return kept
}

func typeMatches(t core.EventType, types []core.EventType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}
