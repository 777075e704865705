package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/researchflow/orchestrator/internal/werrors"
)

// workerTask tracks one submitted unit of work, mirroring
// pools/worker_pool.py's WorkerTask bookkeeping (timestamps,
// result/error, execution time).
type workerTask struct {
	id          string
	submittedAt time.Time
	startedAt   time.Time
	completedAt time.Time
	err         error
	done        chan struct{}
}

// WorkerPool runs submitted functions on a bounded goroutine pool and
// times out tasks that run too long or sit queued too long, grounded on
// pools/worker_pool.py's WorkerResourcePool
// (ThreadPoolExecutor + asyncio.Semaphore(max_workers) +
// `_check_timeout_tasks` reaper).
type WorkerPool struct {
	sem     chan struct{}
	mu      sync.Mutex
	tasks   map[string]*workerTask
	timeout time.Duration
	nextID  int
	maxW    int
}

// NewWorkerPool constructs a pool of maxWorkers goroutine slots. taskTimeout
// bounds how long a running task may execute; a task still queued after
// 2*taskTimeout is marked timed out, matching the source's
// `task_timeout * 2` queued-too-long check.
func NewWorkerPool(maxWorkers int, taskTimeout time.Duration) *WorkerPool {
	return &WorkerPool{
		sem:     make(chan struct{}, maxWorkers),
		tasks:   map[string]*workerTask{},
		timeout: taskTimeout,
		maxW:    maxWorkers,
	}
}

func (p *WorkerPool) Acquire(ctx context.Context, priority int, timeout time.Duration) (Handle, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("worker pool: %w", ctx.Err())
	case <-time.After(timeout):
		return "", fmt.Errorf("worker pool: %w", werrors.ErrResourceTimeout)
	}

	p.mu.Lock()
	p.nextID++
	id := fmt.Sprintf("worker-%d", p.nextID)
	p.tasks[id] = &workerTask{id: id, submittedAt: time.Now(), done: make(chan struct{})}
	p.mu.Unlock()

	return Handle(id), nil
}

func (p *WorkerPool) Release(h Handle) {
	select {
	case <-p.sem:
	default:
	}
	p.mu.Lock()
	if t, ok := p.tasks[string(h)]; ok {
		close(t.done)
	}
	p.mu.Unlock()
}

// Submit runs fn under the pool's concurrency limit, recording the
// task's lifecycle. The caller must have already Acquired a Handle.
func (p *WorkerPool) Submit(ctx context.Context, h Handle, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	t, ok := p.tasks[string(h)]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker pool: unknown handle %s", h)
	}

	t.startedAt = time.Now()
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- fn(runCtx) }()

	var err error
	select {
	case err = <-errCh:
	case <-runCtx.Done():
		err = fmt.Errorf("worker pool: task %s: %w", h, werrors.ErrResourceTimeout)
	}
	t.completedAt = time.Now()
	t.err = err
	return err
}

func (p *WorkerPool) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Kind:           KindWorker,
		MaxConcurrent:  p.maxW,
		InUse:          len(p.sem),
		UtilizationPct: float64(len(p.sem)) / float64(p.maxW) * 100,
	}
}

// Reap marks queued-too-long tasks (submitted but never started within
// 2*timeout) as failed, matching worker_pool.py's `_check_timeout_tasks`.
func (p *WorkerPool) Reap(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

func (p *WorkerPool) reapOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for id, t := range p.tasks {
		if t.startedAt.IsZero() && now.Sub(t.submittedAt) > 2*p.timeout {
			t.err = fmt.Errorf("worker pool: task %s timed out while queued", id)
			select {
			case <-t.done:
			default:
				close(t.done)
			}
		}
	}
}
