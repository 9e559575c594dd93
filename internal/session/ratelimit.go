package session

import (
	"sync"
	"time"
)

// SlidingWindow admits an action for a key only when fewer than the given
// ceiling occurred within the trailing window. Timestamps older than the
// window are evicted lazily on each check, and a timestamp is recorded only
// when the action is allowed. Windows are ephemeral and never persisted.
type SlidingWindow struct {
	window time.Duration
	mu     sync.Mutex
	hits   map[int64][]time.Time
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window: window,
		hits:   make(map[int64][]time.Time),
	}
}

// Allow reports whether one more action fits under the ceiling and records it
// if so.
func (w *SlidingWindow) Allow(id int64, ceiling int, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	recent := w.trim(id, now)
	if len(recent) >= ceiling {
		return false
	}
	w.hits[id] = append(recent, now)
	return true
}

// Count returns the number of recorded actions still inside the window.
func (w *SlidingWindow) Count(id int64, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.trim(id, now))
}

func (w *SlidingWindow) trim(id int64, now time.Time) []time.Time {
	recent := w.hits[id][:0]
	for _, hit := range w.hits[id] {
		if now.Sub(hit) < w.window {
			recent = append(recent, hit)
		}
	}
	if len(recent) == 0 {
		delete(w.hits, id)
		return nil
	}
	w.hits[id] = recent
	return recent
}
