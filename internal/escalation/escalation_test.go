package escalation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nvandessel/rumormill/internal/models"
	"github.com/nvandessel/rumormill/internal/schema"
	"github.com/nvandessel/rumormill/internal/storage"
)

func newTestManager(t *testing.T, opts Options) (*Manager, *storage.Store) {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), storage.Options{
		RelationshipHints: schema.RelationshipHints(),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := schema.Apply(context.Background(), s); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	return NewManager(s, opts), s
}

func seedPost(t *testing.T, s *storage.Store, id string, engagement int64) {
	t.Helper()
	_, err := s.Execute(context.Background(),
		`INSERT INTO posts (id, author, content, engagement) VALUES (?, ?, ?, ?)`,
		id, "bot-1", "they are hiding the truth", engagement)
	if err != nil {
		t.Fatalf("seed post %s: %v", id, err)
	}
}

func setEngagement(t *testing.T, s *storage.Store, id string, engagement int64) {
	t.Helper()
	_, err := s.Execute(context.Background(),
		`UPDATE posts SET engagement = ? WHERE id = ?`, engagement, id)
	if err != nil {
		t.Fatalf("set engagement: %v", err)
	}
}

func TestReserve_FirstRound(t *testing.T) {
	m, s := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})
	ctx := context.Background()
	seedPost(t, s, "post-1", 16)

	ok, err := m.Reserve(ctx, "post-1", 1, 16)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !ok {
		t.Fatal("Reserve() = false, want true")
	}

	history, err := m.History(ctx, "post-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	got := history[0]
	if got.Round != 1 || got.Status != models.StatusReserved {
		t.Errorf("history[0] = round %d status %s, want round 1 RESERVED", got.Round, got.Status)
	}
	if got.EngagementAtReservation != 16 {
		t.Errorf("EngagementAtReservation = %d, want 16", got.EngagementAtReservation)
	}
}

func TestReserve_BelowThreshold(t *testing.T) {
	m, s := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})
	ctx := context.Background()
	seedPost(t, s, "post-1", 12)

	ok, err := m.Reserve(ctx, "post-1", 1, 12)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if ok {
		t.Error("Reserve() below threshold = true, want false")
	}

	history, _ := m.History(ctx, "post-1")
	if len(history) != 0 {
		t.Errorf("ineligible reserve left %d rows", len(history))
	}
}

func TestReserve_AtMostOne(t *testing.T) {
	m, s := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})
	ctx := context.Background()
	seedPost(t, s, "post-42", 20)

	const callers = 10
	results := make(chan bool, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Reserve(ctx, "post-42", 1, 20)
			if err != nil {
				errs <- err
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("Reserve() error = %v", err)
	}
	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("concurrent Reserve() wins = %d, want exactly 1", wins)
	}
}

func TestReserve_RoundMonotonicity(t *testing.T) {
	// Engagement trace 0, 5, 12, 16 with initial threshold 15: round 1
	// lands at 16. Round 2 needs 16+30=46; 50 triggers it.
	m, s := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})
	ctx := context.Background()
	seedPost(t, s, "post-1", 0)

	var reserved []int64
	for _, engagement := range []int64{0, 5, 12, 16} {
		setEngagement(t, s, "post-1", engagement)
		next, err := m.NextRound(ctx, "post-1")
		if err != nil {
			t.Fatalf("NextRound() error = %v", err)
		}
		ok, err := m.Reserve(ctx, "post-1", next, engagement)
		if err != nil {
			t.Fatalf("Reserve(%d) error = %v", engagement, err)
		}
		if ok {
			reserved = append(reserved, engagement)
		}
	}
	if len(reserved) != 1 || reserved[0] != 16 {
		t.Fatalf("round 1 reserved at samples %v, want [16]", reserved)
	}

	threshold, err := m.Threshold(ctx, "post-1", 2)
	if err != nil {
		t.Fatalf("Threshold() error = %v", err)
	}
	if threshold != 46 {
		t.Errorf("round 2 threshold = %d, want 46", threshold)
	}

	// 45 is one short of the round 2 threshold.
	setEngagement(t, s, "post-1", 45)
	if ok, _ := m.Reserve(ctx, "post-1", 2, 45); ok {
		t.Error("Reserve() at 45 = true, want false (threshold 46)")
	}

	setEngagement(t, s, "post-1", 50)
	ok, err := m.Reserve(ctx, "post-1", 2, 50)
	if err != nil {
		t.Fatalf("Reserve() round 2 error = %v", err)
	}
	if !ok {
		t.Error("Reserve() at 50 = false, want true")
	}

	history, _ := m.History(ctx, "post-1")
	rounds := make([]int64, 0, len(history))
	for _, e := range history {
		rounds = append(rounds, e.Round)
	}
	if len(rounds) != 2 || rounds[0] != 1 || rounds[1] != 2 {
		t.Errorf("recorded rounds = %v, want [1 2]", rounds)
	}
}

func TestReserve_RepeatReturnsFalse(t *testing.T) {
	m, s := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})
	ctx := context.Background()
	seedPost(t, s, "post-1", 20)

	if ok, err := m.Reserve(ctx, "post-1", 1, 20); err != nil || !ok {
		t.Fatalf("first Reserve() = %v, %v", ok, err)
	}
	ok, err := m.Reserve(ctx, "post-1", 1, 99)
	if err != nil {
		t.Fatalf("repeat Reserve() error = %v", err)
	}
	if ok {
		t.Error("repeat Reserve() = true, want false")
	}
}

func TestReserve_SkipRejected(t *testing.T) {
	m, s := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})
	ctx := context.Background()
	seedPost(t, s, "post-1", 100)

	_, err := m.Reserve(ctx, "post-1", 3, 100)
	if !errors.Is(err, ErrRoundOrder) {
		t.Errorf("Reserve(round 3 first) error = %v, want ErrRoundOrder", err)
	}

	if _, err := m.Reserve(ctx, "post-1", 0, 100); !errors.Is(err, ErrRoundOrder) {
		t.Errorf("Reserve(round 0) error = %v, want ErrRoundOrder", err)
	}
}

func TestReserve_UnknownTarget(t *testing.T) {
	m, _ := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})

	_, err := m.Reserve(context.Background(), "ghost", 1, 20)
	if err == nil {
		t.Fatal("Reserve() for missing post expected error")
	}
	var ie *storage.IntegrityError
	if !errors.As(err, &ie) {
		t.Errorf("error = %v, want IntegrityError from the posts foreign key", err)
	}
}

func TestCommit(t *testing.T) {
	m, s := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})
	ctx := context.Background()
	seedPost(t, s, "post-1", 20)

	if ok, _ := m.Reserve(ctx, "post-1", 1, 20); !ok {
		t.Fatal("Reserve() = false")
	}
	if err := m.Commit(ctx, "post-1", 1, "debunked"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	history, _ := m.History(ctx, "post-1")
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	got := history[0]
	if got.Status != models.StatusCommitted {
		t.Errorf("Status = %s, want COMMITTED", got.Status)
	}
	if got.Outcome != "debunked" {
		t.Errorf("Outcome = %q, want debunked", got.Outcome)
	}
	if got.CommittedAt == "" {
		t.Error("CommittedAt is empty after commit")
	}
}

func TestCommit_Unknown(t *testing.T) {
	m, s := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})
	seedPost(t, s, "post-1", 20)

	err := m.Commit(context.Background(), "post-1", 1, "done")
	if !errors.Is(err, ErrUnknownReservation) {
		t.Errorf("Commit() without reserve error = %v, want ErrUnknownReservation", err)
	}
}

func TestCommit_Twice(t *testing.T) {
	m, s := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})
	ctx := context.Background()
	seedPost(t, s, "post-1", 20)

	if ok, _ := m.Reserve(ctx, "post-1", 1, 20); !ok {
		t.Fatal("Reserve() = false")
	}
	if err := m.Commit(ctx, "post-1", 1, "debunked"); err != nil {
		t.Fatalf("first Commit() error = %v", err)
	}
	if err := m.Commit(ctx, "post-1", 1, "confirmed"); !errors.Is(err, ErrAlreadyCommitted) {
		t.Errorf("second Commit() error = %v, want ErrAlreadyCommitted", err)
	}

	// The first outcome survives.
	history, _ := m.History(ctx, "post-1")
	if history[0].Outcome != "debunked" {
		t.Errorf("Outcome = %q, want debunked", history[0].Outcome)
	}
}

func TestFailedWorkLeavesReserved(t *testing.T) {
	m, s := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})
	ctx := context.Background()
	seedPost(t, s, "post-1", 20)

	if ok, _ := m.Reserve(ctx, "post-1", 1, 20); !ok {
		t.Fatal("Reserve() = false")
	}
	// The work after the reserve fails; nothing rolls the row back.

	history, _ := m.History(ctx, "post-1")
	if len(history) != 1 || history[0].Status != models.StatusReserved {
		t.Errorf("abandoned reservation = %+v, want one RESERVED row", history)
	}

	// And the round stays blocked for everyone else.
	if ok, _ := m.Reserve(ctx, "post-1", 1, 99); ok {
		t.Error("Reserve() after abandoned reservation = true, want false")
	}
}

func TestStale(t *testing.T) {
	m, s := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})
	ctx := context.Background()
	seedPost(t, s, "post-old", 20)
	seedPost(t, s, "post-new", 20)

	if ok, _ := m.Reserve(ctx, "post-old", 1, 20); !ok {
		t.Fatal("Reserve(post-old) = false")
	}
	if ok, _ := m.Reserve(ctx, "post-new", 1, 20); !ok {
		t.Fatal("Reserve(post-new) = false")
	}
	// Age the first reservation well past the cutoff.
	if _, err := s.Execute(ctx,
		`UPDATE escalations SET created_at = datetime('now', '-1 hour') WHERE target_id = ?`,
		"post-old"); err != nil {
		t.Fatalf("age reservation: %v", err)
	}

	stale, err := m.Stale(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("Stale() error = %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("len(stale) = %d, want 1", len(stale))
	}
	if stale[0].TargetID != "post-old" {
		t.Errorf("stale target = %s, want post-old", stale[0].TargetID)
	}

	// Committed rows never show up as stale.
	if err := m.Commit(ctx, "post-old", 1, "expired"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	stale, _ = m.Stale(ctx, 10*time.Minute)
	if len(stale) != 0 {
		t.Errorf("len(stale) after commit = %d, want 0", len(stale))
	}
}

func TestNextRound(t *testing.T) {
	m, s := newTestManager(t, Options{InitialThreshold: 15, Interval: 30})
	ctx := context.Background()
	seedPost(t, s, "post-1", 20)

	next, err := m.NextRound(ctx, "post-1")
	if err != nil {
		t.Fatalf("NextRound() error = %v", err)
	}
	if next != 1 {
		t.Errorf("NextRound() fresh = %d, want 1", next)
	}

	if ok, _ := m.Reserve(ctx, "post-1", 1, 20); !ok {
		t.Fatal("Reserve() = false")
	}
	next, _ = m.NextRound(ctx, "post-1")
	if next != 2 {
		t.Errorf("NextRound() after round 1 = %d, want 2", next)
	}
}
