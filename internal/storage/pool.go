package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/rumormill/internal/metrics"
)

// probeTimeout bounds the liveness check run on every release.
const probeTimeout = 2 * time.Second

// Conn is a pooled connection. Borrowed by exactly one caller at a time and
// never shared concurrently.
type Conn struct {
	id   int64
	conn *sql.Conn
}

// Pool is a bounded set of SQLite connections sharing one pragma profile:
// WAL journaling, NORMAL synchronous, busy timeout, foreign keys on. The
// profile is applied through the DSN so every connection the driver opens
// carries it.
type Pool struct {
	db             *sql.DB
	max            int
	acquireTimeout time.Duration

	// slots bounds borrowers: holding a slot is the permission to hold a
	// connection, so open connections never exceed max.
	slots chan struct{}

	mu     sync.Mutex
	idle   []*Conn
	open   int
	nextID int64
	closed bool
}

func buildDSN(path string, busyTimeout time.Duration) string {
	return path + fmt.Sprintf(
		"?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)",
		busyTimeout.Milliseconds())
}

// NewPool opens the database at path with at most max connections. The file
// itself is opened lazily; an unopenable file surfaces as
// ErrConnectionUnavailable on first acquire.
func NewPool(path string, max int, acquireTimeout, busyTimeout time.Duration) (*Pool, error) {
	if max <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", max)
	}
	db, err := sql.Open("sqlite", buildDSN(path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(max)
	db.SetMaxIdleConns(max)

	return &Pool{
		db:             db,
		max:            max,
		acquireTimeout: acquireTimeout,
		slots:          make(chan struct{}, max),
	}, nil
}

// Acquire returns an idle connection, opens a new one while fewer than max
// exist, or blocks until a release or the acquire timeout.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed: %w", ErrConnectionUnavailable)
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()
	select {
	case p.slots <- struct{}{}:
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, p.acquireTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, fmt.Errorf("pool is closed: %w", ErrConnectionUnavailable)
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		metrics.PoolInUse.Inc()
		return c, nil
	}
	p.mu.Unlock()

	sc, err := p.db.Conn(ctx)
	if err != nil {
		<-p.slots
		return nil, fmt.Errorf("%w: %v", ErrConnectionUnavailable, err)
	}

	p.mu.Lock()
	p.open++
	p.nextID++
	id := p.nextID
	p.mu.Unlock()
	metrics.PoolOpen.Inc()
	metrics.PoolInUse.Inc()
	return &Conn{id: id, conn: sc}, nil
}

// Release probes the connection with a trivial query and returns it to the
// idle set if alive, or closes it so a future acquire can replace it.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	alive := p.probe(c)

	p.mu.Lock()
	if p.closed || !alive {
		c.conn.Close()
		p.open--
		p.mu.Unlock()
		metrics.PoolOpen.Dec()
	} else {
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	}

	<-p.slots
	metrics.PoolInUse.Dec()
}

func (p *Pool) probe(c *Conn) bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	var one int
	if err := c.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return false
	}
	return one == 1
}

// PoolStats is a point-in-time snapshot for status reporting.
type PoolStats struct {
	Open  int `json:"open"`
	Idle  int `json:"idle"`
	InUse int `json:"in_use"`
	Max   int `json:"max"`
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Open:  p.open,
		Idle:  len(p.idle),
		InUse: len(p.slots),
		Max:   p.max,
	}
}

// Close closes idle connections and the underlying database. Borrowed
// connections are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	p.mu.Unlock()

	for _, c := range idle {
		c.conn.Close()
		metrics.PoolOpen.Dec()
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
