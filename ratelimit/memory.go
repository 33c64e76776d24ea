package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps windows in process memory. Counts are per instance and
// reset on restart, so it is only suitable for tests and single-instance
// deployments.
type MemoryLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (m *MemoryLimiter) Hit(_ context.Context, key string, window time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.events[key] = append(m.prune(key, now, window), now)
	return nil
}

func (m *MemoryLimiter) Count(_ context.Context, key string, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.prune(key, m.now(), window)), nil
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	events := append(m.prune(key, now, window), now)
	m.events[key] = events
	return len(events) <= limit, nil
}

// Sweep drops keys whose newest event is older than maxAge.
func (m *MemoryLimiter) Sweep(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for key, events := range m.events {
		if len(events) == 0 || events[len(events)-1].Before(cutoff) {
			delete(m.events, key)
			removed++
		}
	}
	return removed
}

// prune must be called with mu held.
func (m *MemoryLimiter) prune(key string, now time.Time, window time.Duration) []time.Time {
	events := m.events[key]
	cutoff := now.Add(-window)
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i == len(events) {
		delete(m.events, key)
		return nil
	}
	kept := events[i:]
	m.events[key] = kept
	return kept
}
