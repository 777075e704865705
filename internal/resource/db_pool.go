package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/researchflow/orchestrator/internal/werrors"
)

// dbConnection is a pooled logical connection handle. A real deployment
// would embed a *sql.Conn; this pool only tracks lifecycle/usage
// bookkeeping, matching pools/database_pool.py's DatabaseConnection
// wrapper (the source, too, stubs the real connection object).
type dbConnection struct {
	id           string
	createdAt    time.Time
	lastUsedAt   time.Time
	inUse        bool
	usageCount   int
}

// DBPool bounds concurrent database connections with idle/age-based
// eviction and a LIFO free-list, grounded on
// pools/database_pool.py's DatabaseResourcePool — with one deliberate
// deviation: the source reuses free connections FIFO
// (`free_connections.pop(0)`), which SPEC_FULL.md's Open Question
// resolution treats as a source bug and corrects to LIFO (freshest
// connection reused first, reducing the odds of reusing a
// near-idle-timeout connection).
type DBPool struct {
	mu             sync.Mutex
	conns          map[string]*dbConnection
	free           []string // LIFO stack: push/pop at the end
	maxConnections int
	idleTimeout    time.Duration
	maxAge         time.Duration
	nextID         int

	createdTotal int
	closedTotal  int
	timeouts     int
	peak         int
}

// NewDBPool constructs a database connection pool. Call Reap in a
// background goroutine (via Manager) to evict idle/aged connections.
func NewDBPool(maxConnections int, idleTimeout, maxAge time.Duration) *DBPool {
	return &DBPool{
		conns:          map[string]*dbConnection{},
		maxConnections: maxConnections,
		idleTimeout:    idleTimeout,
		maxAge:         maxAge,
	}
}

func (p *DBPool) Acquire(ctx context.Context, priority int, timeout time.Duration) (Handle, error) {
	deadline := time.Now().Add(timeout)
	for {
		if h, ok := p.tryAcquire(priority); ok {
			return h, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("db pool: %w", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			p.mu.Lock()
			p.timeouts++
			p.mu.Unlock()
			return "", fmt.Errorf("db pool: %w", werrors.ErrResourceTimeout)
		}
	}
}

func (p *DBPool) tryAcquire(priority int) (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		id := p.free[n-1] // LIFO: reuse the most recently freed connection.
		p.free = p.free[:n-1]
		c := p.conns[id]
		c.inUse = true
		c.lastUsedAt = time.Now()
		c.usageCount++
		return Handle(id), true
	}

	if len(p.conns) < p.maxConnections {
		id := p.createLocked()
		c := p.conns[id]
		c.inUse = true
		c.usageCount++
		return Handle(id), true
	}

	if tierOf(priority) == tierHigh {
		if victim, ok := p.oldestIdleLocked(); ok {
			p.closeLocked(victim)
			id := p.createLocked()
			c := p.conns[id]
			c.inUse = true
			c.usageCount++
			return Handle(id), true
		}
	}

	return "", false
}

func (p *DBPool) createLocked() string {
	p.nextID++
	id := fmt.Sprintf("db-%d", p.nextID)
	now := time.Now()
	p.conns[id] = &dbConnection{id: id, createdAt: now, lastUsedAt: now}
	p.createdTotal++
	if len(p.conns) > p.peak {
		p.peak = len(p.conns)
	}
	return id
}

func (p *DBPool) oldestIdleLocked() (string, bool) {
	var oldestID string
	var oldestTime time.Time
	found := false
	for id, c := range p.conns {
		if c.inUse {
			continue
		}
		if !found || c.lastUsedAt.Before(oldestTime) {
			oldestID, oldestTime, found = id, c.lastUsedAt, true
		}
	}
	return oldestID, found
}

func (p *DBPool) closeLocked(id string) {
	delete(p.conns, id)
	for i, f := range p.free {
		if f == id {
			p.free = append(p.free[:i], p.free[i+1:]...)
			break
		}
	}
	p.closedTotal++
}

func (p *DBPool) Release(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := string(h)
	c, ok := p.conns[id]
	if !ok {
		return
	}
	c.inUse = false
	c.lastUsedAt = time.Now()
	p.free = append(p.free, id) // push to the LIFO stack's tail
}

func (p *DBPool) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	inUse := len(p.conns) - len(p.free)
	util := 0.0
	if p.maxConnections > 0 {
		util = float64(inUse) / float64(p.maxConnections) * 100
	}
	return Status{
		Kind:           KindDatabase,
		MaxConcurrent:  p.maxConnections,
		InUse:          inUse,
		UtilizationPct: util,
	}
}

// Reap closes idle-timed-out and max-age-exceeded connections until ctx
// is cancelled, mirroring database_pool.py's `_cleanup_loop`.
func (p *DBPool) Reap(ctx context.Context, interval time.Duration) {
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

func (p *DBPool) reapOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	var toClose []string
	for id, c := range p.conns {
		if c.inUse {
			continue
		}
		if now.Sub(c.lastUsedAt) > p.idleTimeout || now.Sub(c.createdAt) > p.maxAge {
			toClose = append(toClose, id)
		}
	}
	for _, id := range toClose {
		p.closeLocked(id)
	}
}
