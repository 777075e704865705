// Package resource implements the four priority-aware resource pools
// (LLM, database, worker, API) and the Manager/scheduler loop that node
// handlers acquire capacity through, grounded on
// original_source/src/taskflow/scheduler/{resource,scheduler}.py and
// pools/{llm_pool,database_pool,worker_pool,api_pool}.py.
//
// The Python source models each pool as an asyncio.Semaphore plus a
// deque-based sliding rate-limit window guarded by an asyncio.Lock; here
// that becomes a buffered chan struct{} semaphore plus a mutex-guarded
// slice deque, with context.Context replacing asyncio's cancellation.
package resource

import (
	"context"
	"time"
)

// Kind names one of the four resource categories a node can request.
type Kind string

const (
	KindLLM      Kind = "llm"
	KindDatabase Kind = "database"
	KindWorker   Kind = "worker"
	KindAPI      Kind = "api"
)

// Handle identifies one successful acquisition, returned by Acquire and
// required by the matching Release so a pool can account for what it
// handed out even across goroutines.
type Handle string

// Status is a pool's self-reported utilization, surfaced at
// /api/v1/scheduler/resources (SPEC_FULL.md §6).
type Status struct {
	Kind            Kind    `json:"kind"`
	MaxConcurrent   int     `json:"max_concurrent"`
	InUse           int     `json:"in_use"`
	RateLimit       int     `json:"rate_limit"`
	WindowCallCount int     `json:"window_call_count"`
	UtilizationPct  float64 `json:"utilization_pct"`
}

// Pool is the abstract contract every concrete resource pool satisfies,
// mirroring the Python ResourcePool ABC's acquire/release/get_status
// triad (scheduler/resource.py).
type Pool interface {
	Acquire(ctx context.Context, priority int, timeout time.Duration) (Handle, error)
	Release(h Handle)
	GetStatus() Status
}

// priorityTier classifies a 0-100 priority value into the three-way
// admission policy SPEC_FULL.md §4.5 specifies: pools.api_pool.py's
// APIRateLimiter.priority_thresholds is the one file in the source that
// already implements this three-way split (high/medium/low); the LLM
// pool's source only has a two-way split, which SPEC_FULL.md treats as a
// coarser precursor and generalizes uniformly across every pool.
type priorityTier int

const (
	tierLow priorityTier = iota
	tierMedium
	tierHigh
)

func tierOf(priority int) priorityTier {
	switch {
	case priority >= 80:
		return tierHigh
	case priority >= 50:
		return tierMedium
	default:
		return tierLow
	}
}
