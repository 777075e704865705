package resource

import (
	"context"
	"time"
)

// LLMPool bounds concurrent LLM calls and their per-minute rate,
// grounded on pools/llm_pool.py's LLMResourcePool
// (asyncio.Semaphore(max_concurrent) + deque(maxlen=rate_limit)).
type LLMPool struct {
	rp *ratePool
}

// NewLLMPool constructs a pool allowing maxConcurrent in-flight calls and
// rateLimit calls per rolling minute.
func NewLLMPool(maxConcurrent, rateLimit int) *LLMPool {
	return &LLMPool{rp: newRatePool("llm", maxConcurrent, rateLimit, time.Minute)}
}

func (p *LLMPool) Acquire(ctx context.Context, priority int, timeout time.Duration) (Handle, error) {
	return p.rp.acquire(ctx, priority, timeout)
}

func (p *LLMPool) Release(h Handle) { p.rp.release(h) }

func (p *LLMPool) GetStatus() Status { return p.rp.status(KindLLM) }
