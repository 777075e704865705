package resource

import (
	"sync"
	"time"
)

// slidingWindow tracks recent call timestamps and answers how long a new
// call would have to wait before the window has room, mirroring the
// Python pools' `deque(maxlen=rate_limit)` plus "oldest call + 1s"
// wait-time arithmetic (llm_pool.py, api_pool.py).
type slidingWindow struct {
	mu       sync.Mutex
	calls    []time.Time
	limit    int
	duration time.Duration
}

func newSlidingWindow(limit int, duration time.Duration) *slidingWindow {
	return &slidingWindow{limit: limit, duration: duration}
}

// prune drops timestamps older than duration from now. Caller holds mu.
func (w *slidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.duration)
	i := 0
	for i < len(w.calls) && w.calls[i].Before(cutoff) {
		i++
	}
	w.calls = w.calls[i:]
}

// waitTime returns how long the caller must wait for the window to have
// room, or 0 if there is room now.
func (w *slidingWindow) waitTime(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	if len(w.calls) < w.limit {
		return 0
	}
	oldest := w.calls[0]
	wait := oldest.Add(w.duration).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// record appends a call at t, evicting expired entries first. Called
// once the caller has decided to proceed.
func (w *slidingWindow) record(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(t)
	w.calls = append(w.calls, t)
}

func (w *slidingWindow) count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.calls)
}
