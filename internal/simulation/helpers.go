package simulation

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

// BumpQuery increments a post's engagement by one. Agents racing this
// statement through the serializer must never lose an update.
const BumpQuery = `UPDATE posts SET engagement = engagement + 1 WHERE id = ?`

// SetEngagementQuery pins a post's engagement to an exact value, for
// scenarios that walk a prescribed engagement trace.
const SetEngagementQuery = `UPDATE posts SET engagement = ? WHERE id = ?`

// HoldWriteLock takes the database's write lock on a separate connection
// and releases it after hold. Mutations submitted to the store meanwhile
// see SQLITE_BUSY and exercise the retry path. Returns a channel that
// closes once the lock is released.
func HoldWriteLock(t *testing.T, path string, hold time.Duration) <-chan struct{} {
	t.Helper()
	ctx := context.Background()

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("HoldWriteLock: open external connection: %v", err)
	}
	rc, err := raw.Conn(ctx)
	if err != nil {
		t.Fatalf("HoldWriteLock: external conn: %v", err)
	}
	if _, err := rc.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		t.Fatalf("HoldWriteLock: begin immediate: %v", err)
	}

	released := make(chan struct{})
	go func() {
		defer close(released)
		time.Sleep(hold)
		rc.ExecContext(ctx, "COMMIT")
		rc.Close()
		raw.Close()
	}()
	return released
}

// CountRows counts table rows over a plain connection, for use after the
// store under test has been closed.
func CountRows(t *testing.T, path, table string) int64 {
	t.Helper()
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("CountRows: open: %v", err)
	}
	defer raw.Close()

	var n int64
	if err := raw.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	return n
}

// WaitFor polls cond until it holds or the deadline passes.
func WaitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
