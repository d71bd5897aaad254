package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"argus/core"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count for the in-memory stores
const DefaultShards = 16

type incidentShard struct {
	mu    sync.RWMutex
	items map[string]*core.SecurityIncident
}

// IncidentStore holds incidents keyed by id. Records are copied in and out,
// so callers never share memory with the store.
type IncidentStore struct {
	shards []*incidentShard
	clock  core.Clock
}

// NewIncidentStore creates an empty store
func NewIncidentStore(shards int, clock core.Clock) *IncidentStore {
	if shards <= 0 {
		shards = DefaultShards
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	s := &IncidentStore{shards: make([]*incidentShard, shards), clock: clock}
	for i := range s.shards {
		s.shards[i] = &incidentShard{items: make(map[string]*core.SecurityIncident)}
	}
	return s
}

func (s *IncidentStore) shardFor(id string) *incidentShard {
	return s.shards[xxhash.Sum64String(id)%uint64(len(s.shards))]
}

// Create stores a new incident
func (s *IncidentStore) Create(incident *core.SecurityIncident) error {
	if incident == nil || incident.ID == "" {
		return fmt.Errorf("incident must have an id")
	}
	shard := s.shardFor(incident.ID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, exists := shard.items[incident.ID]; exists {
		return fmt.Errorf("incident %s: %w", incident.ID, ErrDuplicateID)
	}
	shard.items[incident.ID] = incident.Clone()
	return nil
}

// Get returns a copy of the incident
func (s *IncidentStore) Get(id string) (*core.SecurityIncident, error) {
	shard := s.shardFor(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	inc, ok := shard.items[id]
	if !ok {
		return nil, notFound("incident", id)
	}
	return inc.Clone(), nil
}

// UpdateStatus applies a lifecycle transition and returns the updated incident
func (s *IncidentStore) UpdateStatus(id string, status core.IncidentStatus) (*core.SecurityIncident, error) {
	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	inc, ok := shard.items[id]
	if !ok {
		return nil, notFound("incident", id)
	}
	if err := inc.TransitionTo(status, s.clock.Now()); err != nil {
		return nil, err
	}
	return inc.Clone(), nil
}

// List returns incidents newest first. An empty status matches all; limit <= 0 means no limit.
func (s *IncidentStore) List(status core.IncidentStatus, limit int) []*core.SecurityIncident {
	var out []*core.SecurityIncident
	for _, shard := range s.shards {
		shard.mu.RLock()
		for _, inc := range shard.items {
			if status == "" || inc.Status == status {
				out = append(out, inc.Clone())
			}
		}
		shard.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ActiveCount returns the number of incidents that are OPEN or INVESTIGATING
func (s *IncidentStore) ActiveCount() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		for _, inc := range shard.items {
			if inc.IsActive() {
				n++
			}
		}
		shard.mu.RUnlock()
	}
	return n
}

// Len returns the number of stored incidents
func (s *IncidentStore) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		n += len(shard.items)
		shard.mu.RUnlock()
	}
	return n
}

// PruneClosed drops CLOSED incidents closed more than maxAge ago
func (s *IncidentStore) PruneClosed(maxAge time.Duration) int {
	cutoff := s.clock.Now().Add(-maxAge)
	removed := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for id, inc := range shard.items {
			if inc.Status == core.IncidentStatusClosed && inc.ClosedAt != nil && inc.ClosedAt.Before(cutoff) {
				delete(shard.items, id)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
