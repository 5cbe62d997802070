package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is an in-process sliding window limiter. Keys whose window
// has closed are dropped at most once per window.
type MemoryLimiter struct {
	mu        sync.Mutex
	config    Config
	opts      options
	hits      map[string][]time.Time
	lastSweep time.Time
}

func NewMemoryLimiter(config Config, opts ...Option) *MemoryLimiter {
	return &MemoryLimiter{config: config, opts: buildOptions(opts), hits: map[string][]time.Time{}}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.now()
	windowStart := now.Add(-l.config.WindowSize)
	key = l.opts.prefix + key
	if now.Sub(l.lastSweep) >= l.config.WindowSize {
		l.sweep(windowStart)
		l.lastSweep = now
	}

	hits := trimHits(l.hits[key], windowStart)
	if len(hits) < l.config.RequestsPerWindow {
		hits = append(hits, now)
		l.hits[key] = hits
		return &Result{Allowed: true, Remaining: l.config.RequestsPerWindow - len(hits)}, nil
	}

	res := &Result{}
	if len(hits) == 0 {
		delete(l.hits, key)
		return res, nil
	}
	l.hits[key] = hits
	res.RetryAfter = hits[0].Add(l.config.WindowSize).Sub(now)
	return res, nil
}

// Len reports how many keys currently hold hits.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// sweep drops every key whose newest hit is outside the window.
func (l *MemoryLimiter) sweep(windowStart time.Time) {
	for k, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(windowStart) {
			delete(l.hits, k)
		}
	}
}

func trimHits(hits []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(windowStart) {
		i++
	}
	return hits[i:]
}
