package notify

import (
	"sync"
	"time"

	"argus/core"
)

// sendLog is the sliding log of admitted sends on one channel
type sendLog struct {
	mu       sync.Mutex
	sent     []time.Time
	window   time.Duration
	lastSeen time.Time
}

// ChannelThrottle bounds deliveries per channel: at most MaxAlerts admitted sends in
// any window of WindowSeconds. Each channel has its own lock.
type ChannelThrottle struct {
	mu    sync.RWMutex
	logs  map[core.Channel]*sendLog
	clock core.Clock
}

// NewChannelThrottle creates an empty throttle
func NewChannelThrottle(clock core.Clock) *ChannelThrottle {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &ChannelThrottle{logs: make(map[core.Channel]*sendLog), clock: clock}
}

func (t *ChannelThrottle) logFor(channel core.Channel) *sendLog {
	t.mu.RLock()
	l, ok := t.logs[channel]
	t.mu.RUnlock()
	if ok {
		return l
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.logs[channel]; ok {
		return l
	}
	l = &sendLog{}
	t.logs[channel] = l
	return l
}

// Allow admits one send on cfg.Channel if the window has room and records it.
// A non-positive limit or window disables throttling for the channel.
func (t *ChannelThrottle) Allow(cfg core.AlertDeliveryConfig) bool {
	_, ok := t.Reserve(cfg)
	return ok
}

// Reserve is Allow that also returns a release func. Calling release hands the slot back
// when the admitted send never happened.
func (t *ChannelThrottle) Reserve(cfg core.AlertDeliveryConfig) (release func(), ok bool) {
	if cfg.MaxAlerts <= 0 || cfg.WindowSeconds <= 0 {
		return func() {}, true
	}
	now := t.clock.Now()
	l := t.logFor(cfg.Channel)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSeen = now
	l.window = cfg.Window()
	l.evict(now.Add(-l.window))
	if len(l.sent) >= cfg.MaxAlerts {
		return func() {}, false
	}
	l.sent = append(l.sent, now)
	return func() { l.release(now) }, true
}

// release removes the most recent send admitted at ts
func (l *sendLog) release(ts time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.sent) - 1; i >= 0; i-- {
		if l.sent[i].Equal(ts) {
			l.sent = append(l.sent[:i], l.sent[i+1:]...)
			return
		}
	}
}

// evict drops sends at or before cutoff; sent is in admission order
func (l *sendLog) evict(cutoff time.Time) {
	i := 0
	for i < len(l.sent) && !l.sent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.sent = append(l.sent[:0], l.sent[i:]...)
	}
}

// Count returns admitted sends on a channel within the trailing window
func (t *ChannelThrottle) Count(channel core.Channel, window time.Duration) int {
	t.mu.RLock()
	l, ok := t.logs[channel]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	cutoff := t.clock.Now().Add(-window)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ts := range l.sent {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// Purge drops channels with no activity for longer than idle. A channel keeps its log
// while any admitted send is still inside its throttle window.
func (t *ChannelThrottle) Purge(idle time.Duration) int {
	now := t.clock.Now()
	cutoff := now.Add(-idle)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for channel, l := range t.logs {
		l.mu.Lock()
		l.evict(now.Add(-l.window))
		stale := l.lastSeen.Before(cutoff) && len(l.sent) == 0
		l.mu.Unlock()
		if stale {
			delete(t.logs, channel)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked channels
func (t *ChannelThrottle) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.logs)
}
