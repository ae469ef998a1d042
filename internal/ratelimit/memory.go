package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entry pairs a token bucket with its last-access time for eviction.
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiter implements Limiter with one in-process token bucket per key.
//
// Each key gets an independent bucket with a sustained rate (requests per
// second) and a burst capacity. A background goroutine evicts entries not
// accessed in the last 10 minutes to bound memory.
type MemoryLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a token bucket limiter.
//   - rps: sustained requests per second per key
//   - burst: maximum burst size (token bucket capacity)
//
// Call Close to stop the eviction goroutine.
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow consumes one token from the bucket for key. Returns true if a token
// was available, false if the request should be rejected.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(m.rps, m.burst)}
		m.entries[key] = e
	}
	e.lastAccess = time.Now()
	m.mu.Unlock()

	return e.limiter.Allow(), nil
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-staleThreshold)
	for key, e := range m.entries {
		if e.lastAccess.Before(cutoff) {
			delete(m.entries, key)
		}
	}
}
