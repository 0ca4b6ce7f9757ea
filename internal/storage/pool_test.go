package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestPool(t *testing.T, max int, acquireTimeout time.Duration) *Pool {
	t.Helper()
	p, err := NewPool(filepath.Join(t.TempDir(), "pool.db"), max, acquireTimeout, time.Second)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestNewPool_InvalidSize(t *testing.T) {
	for _, max := range []int{0, -1} {
		if _, err := NewPool(filepath.Join(t.TempDir(), "pool.db"), max, time.Second, time.Second); err == nil {
			t.Errorf("NewPool(max=%d) expected error, got nil", max)
		}
	}
}

func TestPool_BoundedAcquire(t *testing.T) {
	p := newTestPool(t, 3, 2*time.Second)
	ctx := context.Background()

	conns := make([]*Conn, 3)
	for i := range conns {
		c, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire(%d) error = %v", i, err)
		}
		conns[i] = c
	}
	if got := p.Stats().Open; got > 3 {
		t.Errorf("open connections = %d, want <= 3", got)
	}

	// Two more acquirers must block until a release frees a slot.
	acquired := make(chan *Conn, 2)
	for i := 0; i < 2; i++ {
		go func() {
			c, err := p.Acquire(ctx)
			if err != nil {
				t.Errorf("blocked Acquire() error = %v", err)
				acquired <- nil
				return
			}
			acquired <- c
		}()
	}
	select {
	case <-acquired:
		t.Fatal("Acquire() returned before any release")
	case <-time.After(100 * time.Millisecond):
	}

	p.Release(conns[0])
	p.Release(conns[1])
	for i := 0; i < 2; i++ {
		if c := <-acquired; c != nil {
			defer p.Release(c)
		}
	}
	if got := p.Stats().Open; got > 3 {
		t.Errorf("open connections after churn = %d, want <= 3", got)
	}
	p.Release(conns[2])
}

func TestPool_AcquireTimeout(t *testing.T) {
	p := newTestPool(t, 1, 100*time.Millisecond)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer p.Release(c)

	start := time.Now()
	_, err = p.Acquire(ctx)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("second Acquire() = %v, want ErrAcquireTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("Acquire() gave up after %s, want ~100ms", elapsed)
	}
}

func TestPool_AcquireContextCancel(t *testing.T) {
	p := newTestPool(t, 1, 10*time.Second)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer p.Release(c)

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(cctx); err == nil {
		t.Error("Acquire() with cancelled context expected error")
	}
}

func TestPool_ReleaseReplacesDeadConn(t *testing.T) {
	p := newTestPool(t, 2, time.Second)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	// Kill the underlying connection so the release probe fails.
	c.conn.Close()
	p.Release(c)

	if got := p.Stats().Open; got != 0 {
		t.Errorf("open after releasing dead conn = %d, want 0", got)
	}

	// The pool recovers by opening a fresh connection.
	c2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() after dead conn error = %v", err)
	}
	defer p.Release(c2)
	var one int
	if err := c2.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		t.Errorf("replacement conn query error = %v", err)
	}
}

func TestPool_ReuseKeepsConnCount(t *testing.T) {
	p := newTestPool(t, 2, time.Second)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		c, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire(%d) error = %v", i, err)
		}
		p.Release(c)
	}
	if got := p.Stats().Open; got != 1 {
		t.Errorf("open after serial reuse = %d, want 1", got)
	}
	if got := p.Stats().Idle; got != 1 {
		t.Errorf("idle after serial reuse = %d, want 1", got)
	}
}

func TestPool_ForeignKeysEnabled(t *testing.T) {
	p := newTestPool(t, 1, time.Second)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer p.Release(c)

	var fk int
	if err := c.conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys error = %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}

	var mode string
	if err := c.conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestPool_AcquireAfterClose(t *testing.T) {
	p := newTestPool(t, 1, time.Second)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrConnectionUnavailable) {
		t.Errorf("Acquire() after close = %v, want ErrConnectionUnavailable", err)
	}
}

func TestPool_OpenFailureIsUnavailable(t *testing.T) {
	// Parent directory does not exist, so opening a connection fails.
	p, err := NewPool(filepath.Join(t.TempDir(), "missing", "pool.db"), 1, time.Second, time.Second)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer p.Close()

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrConnectionUnavailable) {
		t.Errorf("Acquire() = %v, want ErrConnectionUnavailable", err)
	}

	// The failed acquire must refund its slot.
	if got := p.Stats().InUse; got != 0 {
		t.Errorf("in-use after failed acquire = %d, want 0", got)
	}
}

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN("/tmp/x.db", 30*time.Second)
	wants := []string{
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=busy_timeout(30000)",
		"_pragma=foreign_keys(1)",
		"_txlock=immediate",
	}
	for _, want := range wants {
		if !strings.Contains(dsn, want) {
			t.Errorf("buildDSN() = %q, missing %q", dsn, want)
		}
	}
}
