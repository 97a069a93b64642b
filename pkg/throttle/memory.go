package throttle

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a sliding window limiter held in process memory.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time

	cancel chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewMemoryLimiter creates a limiter allowing limit calls per key in any
// window. A nil now uses time.Now.
func NewMemoryLimiter(limit int, window time.Duration, now func() time.Time) *MemoryLimiter {
	limit, window = normalize(limit, window)
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    now,
	}
}

// Allow records a call for key if it fits in the current window.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := prune(l.hits[key], now.Add(-l.window))
	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false, nil
	}
	l.hits[key] = append(recent, now)
	return true, nil
}

// Cleanup drops keys with no calls inside the window.
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, hits := range l.hits {
		recent := prune(hits, cutoff)
		if len(recent) == 0 {
			delete(l.hits, key)
			continue
		}
		l.hits[key] = recent
	}
}

// StartCleanupRoutine runs Cleanup every interval until Close.
func (l *MemoryLimiter) StartCleanupRoutine(interval time.Duration) {
	if interval <= 0 {
		interval = l.window
	}
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return
	}
	l.cancel = make(chan struct{})
	l.done = make(chan struct{})
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-cancel:
				return
			}
		}
	}()
}

// Close stops the cleanup routine.
func (l *MemoryLimiter) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		cancel, done := l.cancel, l.done
		l.mu.Unlock()
		if cancel != nil {
			close(cancel)
			<-done
		}
	})
	return nil
}

func (l *MemoryLimiter) keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// prune keeps the timestamps after cutoff; hits are in call order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
