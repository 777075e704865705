package resource

import (
	"context"
	"fmt"
	"time"
)

// Manager aggregates the four resource pools behind one acquire/release
// surface, grounded on scheduler/resource.py's ResourceManager
// (`resource_pools` dict, `acquire_resource`/`release_resource`/
// `get_resource_status`/`with_resource`).
type Manager struct {
	llm *LLMPool
	db  *DBPool
	wrk *WorkerPool
	api *APIPool
}

// Config sizes every pool at construction, read once at startup by
// internal/config.
type Config struct {
	LLMMaxConcurrent int
	LLMRateLimit     int

	DBMaxConnections int
	DBIdleTimeout    time.Duration
	DBMaxAge         time.Duration

	WorkerMaxConcurrent int
	WorkerTaskTimeout   time.Duration

	APIMaxConcurrentPerName int
	APIRateLimitPerName     int
	APIWindow               time.Duration
}

// NewManager constructs a Manager with all four pools sized from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{
		llm: NewLLMPool(cfg.LLMMaxConcurrent, cfg.LLMRateLimit),
		db:  NewDBPool(cfg.DBMaxConnections, cfg.DBIdleTimeout, cfg.DBMaxAge),
		wrk: NewWorkerPool(cfg.WorkerMaxConcurrent, cfg.WorkerTaskTimeout),
		api: NewAPIPool(cfg.APIMaxConcurrentPerName, cfg.APIRateLimitPerName, cfg.APIWindow),
	}
}

// Acquire routes to the pool for kind. apiName is only consulted for
// KindAPI, naming which external API's bucket to draw from.
func (m *Manager) Acquire(ctx context.Context, kind Kind, apiName string, priority int, timeout time.Duration) (Handle, error) {
	switch kind {
	case KindLLM:
		return m.llm.Acquire(ctx, priority, timeout)
	case KindDatabase:
		return m.db.Acquire(ctx, priority, timeout)
	case KindWorker:
		return m.wrk.Acquire(ctx, priority, timeout)
	case KindAPI:
		return m.api.AcquireNamed(ctx, apiName, priority, timeout)
	default:
		return "", fmt.Errorf("resource manager: unknown kind %q", kind)
	}
}

// Release routes to the pool for kind.
func (m *Manager) Release(kind Kind, h Handle) {
	switch kind {
	case KindLLM:
		m.llm.Release(h)
	case KindDatabase:
		m.db.Release(h)
	case KindWorker:
		m.wrk.Release(h)
	case KindAPI:
		m.api.Release(h)
	}
}

// WithResource acquires kind, runs fn, and releases unconditionally —
// the Go equivalent of scheduler/resource.py's `with_resource` async
// context manager.
func (m *Manager) WithResource(ctx context.Context, kind Kind, apiName string, priority int, timeout time.Duration, fn func(ctx context.Context, h Handle) error) error {
	h, err := m.Acquire(ctx, kind, apiName, priority, timeout)
	if err != nil {
		return err
	}
	defer m.Release(kind, h)
	return fn(ctx, h)
}

// Submit runs fn on the worker pool, bounded by its configured task
// timeout; h must come from Acquire(ctx, KindWorker, ...).
func (m *Manager) Submit(ctx context.Context, h Handle, fn func(ctx context.Context) error) error {
	return m.wrk.Submit(ctx, h, fn)
}

// Status returns the utilization of every pool, surfaced at
// /api/v1/scheduler/resources (SPEC_FULL.md §6).
func (m *Manager) Status() map[Kind]Status {
	return map[Kind]Status{
		KindLLM:      m.llm.GetStatus(),
		KindDatabase: m.db.GetStatus(),
		KindWorker:   m.wrk.GetStatus(),
		KindAPI:      m.api.GetStatus(),
	}
}

// StartReapers launches each pool's background eviction loop; callers
// should cancel ctx on shutdown.
func (m *Manager) StartReapers(ctx context.Context) {
	go m.db.Reap(ctx, 30*time.Second)
	go m.wrk.Reap(ctx, 15*time.Second)
}
