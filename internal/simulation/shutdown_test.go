package simulation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nvandessel/rumormill/internal/simulation"
	"github.com/nvandessel/rumormill/internal/storage"
)

// TestShutdown_QueuedAgentsDrainClean validates shutdown under load: the
// in-flight operation completes, queued operations fail with ErrQueueClosed,
// and no agent hangs.
//
// Setup:
//   - an external transaction wedges the writer, so the first submitted
//     mutation sits in the worker retrying while five more queue behind it
//   - the store is closed while the queue holds those five
//
// Expected: exactly one agent lands its row (whichever the worker had
// dequeued), the other five all get ErrQueueClosed, and every agent
// returns. The database holds the seed row plus the single landed insert.
func TestShutdown_QueuedAgentsDrainClean(t *testing.T) {
	r := simulation.NewRunnerWithOptions(t, storage.Options{
		BusyTimeout: 25 * time.Millisecond,
		QueueSize:   8,
		Retry: storage.RetryPolicy{
			MaxAttempts: 40,
			BaseDelay:   25 * time.Millisecond,
			MaxDelay:    25 * time.Millisecond,
		},
	})
	s := r.Store()
	ctx := context.Background()

	if _, err := s.Execute(ctx,
		`INSERT INTO posts (id, author, content) VALUES ('p1', 'newswire', 'seed story')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	released := simulation.HoldWriteLock(t, s.Path(), 400*time.Millisecond)

	// Six agents submit distinct inserts. The worker dequeues one and
	// retries it against the held lock; the other five stay queued.
	agentErrs := make([]error, 6)
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, agentErrs[i] = s.Execute(ctx,
				`INSERT INTO posts (id, author, content) VALUES (?, 'agent', 'queued story')`,
				fmt.Sprintf("p%d", i+2))
		}()
	}
	simulation.WaitFor(t, func() bool { return s.Stats().QueueDepth == 5 })

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	wg.Wait()
	<-released

	landed, drained := 0, 0
	for i, err := range agentErrs {
		switch {
		case err == nil:
			landed++
		case errors.Is(err, storage.ErrQueueClosed):
			drained++
		default:
			t.Errorf("agent %d error = %v, want nil or ErrQueueClosed", i, err)
		}
	}
	if landed != 1 {
		t.Errorf("landed agents = %d, want 1", landed)
	}
	if drained != 5 {
		t.Errorf("drained agents = %d, want 5", drained)
	}

	if got := simulation.CountRows(t, s.Path(), "posts"); got != 2 {
		t.Errorf("posts rows = %d, want 2 (seed plus the in-flight insert)", got)
	}
}

// TestShutdown_SubmissionsAfterCloseFailFast validates that agents arriving
// after shutdown are refused immediately instead of hanging on a dead queue.
func TestShutdown_SubmissionsAfterCloseFailFast(t *testing.T) {
	r := simulation.NewRunner(t)
	s := r.Store()

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(),
			`INSERT INTO posts (id, author, content) VALUES ('p1', 'late', 'too late')`)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, storage.ErrQueueClosed) {
			t.Errorf("Execute() after close error = %v, want ErrQueueClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute() after close did not return")
	}
}
