package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type localEntry struct {
	count       int
	windowStart time.Time
}

// LocalLimiter is a process-local fixed-window counter used while the shared
// store is unreachable. Limits are enforced per instance only. The number of
// tracked tokens is bounded; the least recently seen token is evicted first.
type LocalLimiter struct {
	window time.Duration

	mu      sync.Mutex
	entries *simplelru.LRU[string, *localEntry]
}

// NewLocalLimiter creates a limiter for one action's window that tracks at
// most maxTrackedTokens tokens.
func NewLocalLimiter(window time.Duration, maxTrackedTokens int) *LocalLimiter {
	if maxTrackedTokens <= 0 {
		maxTrackedTokens = 1
	}
	entries, err := simplelru.NewLRU[string, *localEntry](maxTrackedTokens, nil)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &LocalLimiter{window: window, entries: entries}
}

// Check counts one attempt for token and reports Allowed or Exceeded.
func (l *LocalLimiter) Check(token string, limit int, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries.Get(token)
	if !ok || !e.windowStart.After(now.Add(-l.window)) {
		e = &localEntry{count: 1, windowStart: now}
		l.entries.Add(token, e)
		return Decision{Outcome: Allowed, Count: 1, WindowStart: now, Source: SourceFallback}
	}

	e.count++
	return Decision{
		Outcome:     decide(e.count, limit),
		Count:       e.count,
		WindowStart: e.windowStart,
		Source:      SourceFallback,
	}
}

// Len returns the number of tracked tokens.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Len()
}

// Forget drops the entry for token.
func (l *LocalLimiter) Forget(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Remove(token)
}

// Purge forgets every tracked token.
func (l *LocalLimiter) Purge() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Purge()
}
