package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/researchflow/orchestrator/internal/werrors"
)

// lowPriorityRefusalThreshold is the wait ceiling past which a low
// priority caller is refused outright rather than queued, matching
// api_pool.py's APIRateLimiter ("if wait_time > 5: raise ... refuse").
const lowPriorityRefusalThreshold = 5 * time.Second

// ratePool is the shared admission algorithm behind the LLM and API
// pools: a concurrency semaphore plus a sliding rate-limit window, both
// gated by the three-way priority tier (SPEC_FULL.md §4.5):
//   - high (>=80): breaks through the rate-limit wait immediately,
//     still respects the concurrency semaphore.
//   - medium ([50,80)): sleeps until the window has room, bounded by
//     the caller's timeout.
//   - low (<50): refused immediately if the wait would exceed
//     lowPriorityRefusalThreshold; otherwise waits it out.
type ratePool struct {
	name       string
	sem        chan struct{}
	window     *slidingWindow
	maxConc    int
	rateLimit  int
	mu         sync.Mutex
	inUse      int
	nextHandle int
}

func newRatePool(name string, maxConcurrent, rateLimit int, windowDuration time.Duration) *ratePool {
	return &ratePool{
		name:      name,
		sem:       make(chan struct{}, maxConcurrent),
		window:    newSlidingWindow(rateLimit, windowDuration),
		maxConc:   maxConcurrent,
		rateLimit: rateLimit,
	}
}

func (p *ratePool) acquire(ctx context.Context, priority int, timeout time.Duration) (Handle, error) {
	deadline := time.Now().Add(timeout)

	switch tierOf(priority) {
	case tierHigh:
		// Breaks through the rate-limit wait; still queues for concurrency.
	case tierMedium:
		wait := p.window.waitTime(time.Now())
		if wait > 0 {
			if err := sleepOrDeadline(ctx, wait, deadline); err != nil {
				return "", err
			}
		}
	default: // tierLow
		wait := p.window.waitTime(time.Now())
		if wait > lowPriorityRefusalThreshold {
			return "", fmt.Errorf("%s: %w (wait %s exceeds refusal threshold)", p.name, werrors.ErrResourceUnavailable, wait)
		}
		if wait > 0 {
			if err := sleepOrDeadline(ctx, wait, deadline); err != nil {
				return "", err
			}
		}
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", p.name, ctx.Err())
	case <-time.After(time.Until(deadline)):
		return "", fmt.Errorf("%s: %w", p.name, werrors.ErrResourceTimeout)
	}

	p.window.record(time.Now())

	p.mu.Lock()
	p.inUse++
	p.nextHandle++
	h := Handle(fmt.Sprintf("%s-%d", p.name, p.nextHandle))
	p.mu.Unlock()

	return h, nil
}

func (p *ratePool) release(Handle) {
	select {
	case <-p.sem:
	default:
	}
	p.mu.Lock()
	if p.inUse > 0 {
		p.inUse--
	}
	p.mu.Unlock()
}

func (p *ratePool) status(kind Kind) Status {
	p.mu.Lock()
	inUse := p.inUse
	p.mu.Unlock()
	util := 0.0
	if p.maxConc > 0 {
		util = float64(inUse) / float64(p.maxConc) * 100
	}
	return Status{
		Kind:            kind,
		MaxConcurrent:   p.maxConc,
		InUse:           inUse,
		RateLimit:       p.rateLimit,
		WindowCallCount: p.window.count(time.Now()),
		UtilizationPct:  util,
	}
}

// sleepOrDeadline blocks for wait, returning early with an error if ctx
// is cancelled or the caller's deadline passes first.
func sleepOrDeadline(ctx context.Context, wait time.Duration, deadline time.Time) error {
	if remaining := time.Until(deadline); wait > remaining {
		return fmt.Errorf("%w", werrors.ErrResourceTimeout)
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
