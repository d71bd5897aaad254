package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"argus/core"

	"github.com/cespare/xxhash/v2"
)

type alertShard struct {
	mu    sync.RWMutex
	items map[string]*core.SecurityAlert
}

// AlertFilter narrows an alert listing. Zero values match everything.
type AlertFilter struct {
	Status   core.AlertStatus
	Severity core.Severity
	Limit    int
}

// AlertStore holds alerts keyed by id
type AlertStore struct {
	shards []*alertShard
	clock  core.Clock
}

// NewAlertStore creates an empty store
func NewAlertStore(shards int, clock core.Clock) *AlertStore {
	if shards <= 0 {
		shards = DefaultShards
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	s := &AlertStore{shards: make([]*alertShard, shards), clock: clock}
	for i := range s.shards {
		s.shards[i] = &alertShard{items: make(map[string]*core.SecurityAlert)}
	}
	return s
}

func (s *AlertStore) shardFor(id string) *alertShard {
	return s.shards[xxhash.Sum64String(id)%uint64(len(s.shards))]
}

// Insert stores a new alert
func (s *AlertStore) Insert(alert *core.SecurityAlert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("alert must have an id")
	}
	shard := s.shardFor(alert.ID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, exists := shard.items[alert.ID]; exists {
		return fmt.Errorf("alert %s: %w", alert.ID, ErrDuplicateID)
	}
	shard.items[alert.ID] = alert.Clone()
	return nil
}

// Get returns a copy of the alert
func (s *AlertStore) Get(id string) (*core.SecurityAlert, error) {
	shard := s.shardFor(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	a, ok := shard.items[id]
	if !ok {
		return nil, notFound("alert", id)
	}
	return a.Clone(), nil
}

// Status returns only the status of an alert
func (s *AlertStore) Status(id string) (core.AlertStatus, bool) {
	shard := s.shardFor(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	a, ok := shard.items[id]
	if !ok {
		return "", false
	}
	return a.Status, true
}

// Update applies mutate to the stored alert under its shard lock. When mutate returns
// an error the alert is left unchanged.
func (s *AlertStore) Update(id string, mutate func(a *core.SecurityAlert) error) (*core.SecurityAlert, error) {
	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	current, ok := shard.items[id]
	if !ok {
		return nil, notFound("alert", id)
	}
	working := current.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	shard.items[id] = working
	return working.Clone(), nil
}

// List returns alerts newest first
func (s *AlertStore) List(filter AlertFilter) []*core.SecurityAlert {
	var out []*core.SecurityAlert
	for _, shard := range s.shards {
		shard.mu.RLock()
		for _, a := range shard.items {
			if filter.Status != "" && a.Status != filter.Status {
				continue
			}
			if filter.Severity != "" && a.Severity != filter.Severity {
				continue
			}
			out = append(out, a.Clone())
		}
		shard.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// CountByStatus returns the number of alerts per status
func (s *AlertStore) CountByStatus() map[core.AlertStatus]int {
	counts := make(map[core.AlertStatus]int)
	for _, shard := range s.shards {
		shard.mu.RLock()
		for _, a := range shard.items {
			counts[a.Status]++
		}
		shard.mu.RUnlock()
	}
	return counts
}

// Len returns the number of stored alerts
func (s *AlertStore) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		n += len(shard.items)
		shard.mu.RUnlock()
	}
	return n
}

// PruneOlderThan drops alerts created more than maxAge ago unless they are still PENDING
func (s *AlertStore) PruneOlderThan(maxAge time.Duration) int {
	cutoff := s.clock.Now().Add(-maxAge)
	removed := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for id, a := range shard.items {
			if a.Status != core.AlertStatusPending && a.CreatedAt.Before(cutoff) {
				delete(shard.items, id)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
