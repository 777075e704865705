package resource

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// APIPool bounds calls to external APIs, one ratePool per named API,
// grounded on pools/api_pool.py's APIResourcePool + APIRateLimiter (the
// one source file that already implements the three-way priority split
// SPEC_FULL.md §4.5 generalizes to every pool).
type APIPool struct {
	mu            sync.Mutex
	pools         map[string]*ratePool
	maxConcurrent int
	rateLimit     int
	window        time.Duration
}

// NewAPIPool constructs a pool that lazily creates one ratePool per API
// name the first time it is requested, each sized identically.
func NewAPIPool(maxConcurrentPerAPI, rateLimitPerAPI int, window time.Duration) *APIPool {
	return &APIPool{
		pools:         map[string]*ratePool{},
		maxConcurrent: maxConcurrentPerAPI,
		rateLimit:     rateLimitPerAPI,
		window:        window,
	}
}

func (p *APIPool) poolFor(name string) *ratePool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rp, ok := p.pools[name]
	if !ok {
		rp = newRatePool("api:"+name, p.maxConcurrent, p.rateLimit, p.window)
		p.pools[name] = rp
	}
	return rp
}

// AcquireNamed acquires capacity for the named external API.
func (p *APIPool) AcquireNamed(ctx context.Context, apiName string, priority int, timeout time.Duration) (Handle, error) {
	h, err := p.poolFor(apiName).acquire(ctx, priority, timeout)
	if err != nil {
		return "", err
	}
	return Handle(fmt.Sprintf("%s|%s", apiName, h)), nil
}

// Acquire satisfies Pool using a default, unnamed API bucket; node
// handlers that call a specific external API should use AcquireNamed.
func (p *APIPool) Acquire(ctx context.Context, priority int, timeout time.Duration) (Handle, error) {
	return p.AcquireNamed(ctx, "default", priority, timeout)
}

func (p *APIPool) Release(h Handle) {
	name, inner := splitHandle(h)
	p.poolFor(name).release(inner)
}

func (p *APIPool) GetStatus() Status {
	return p.StatusFor("default")
}

// StatusFor reports utilization of one named API's pool.
func (p *APIPool) StatusFor(apiName string) Status {
	return p.poolFor(apiName).status(KindAPI)
}

func splitHandle(h Handle) (name string, inner Handle) {
	s := string(h)
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			return s[:i], Handle(s[i+1:])
		}
	}
	return "default", h
}
