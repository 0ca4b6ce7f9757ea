package simulation_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/nvandessel/rumormill/internal/backup"
	"github.com/nvandessel/rumormill/internal/decay"
	"github.com/nvandessel/rumormill/internal/escalation"
	"github.com/nvandessel/rumormill/internal/models"
	"github.com/nvandessel/rumormill/internal/simulation"
)

// TestSimulationLifecycle drives a full campaign: a storm of agents
// bumping engagement and escalating whatever clears the thresholds, then a
// decay sweep, a snapshot, and a restore into a fresh database.
//
// Setup:
//   - 3 posts, 12 agents, 10 steps each; agent i works post i%3
//   - every step bumps the post, then runs the full escalation protocol:
//     next round, threshold, reserve, commit on a win
//   - initial threshold 10, interval 10, so several rounds open per post
//
// Expected:
//   - each post ends at exactly 40 bumps, halved to 20 by decay
//   - every post has at least one escalation round; rounds per post are
//     strictly 1..N and every one is COMMITTED with an outcome
//   - the snapshot restores into an identical database
//   - an uncommitted reservation shows up in the stale scan
func TestSimulationLifecycle(t *testing.T) {
	r := simulation.NewRunner(t)
	ctx := context.Background()

	posts := []simulation.PostSpec{{ID: "p0"}, {ID: "p1"}, {ID: "p2"}}
	result := r.Run(simulation.Scenario{
		Name:       "lifecycle",
		Posts:      posts,
		Agents:     12,
		Steps:      10,
		Escalation: escalation.Options{InitialThreshold: 10, Interval: 10},
		Act: func(ctx context.Context, env *simulation.Env, agent, step int) error {
			target := fmt.Sprintf("p%d", agent%3)
			if _, err := env.Exec.Execute(ctx, simulation.BumpQuery, target); err != nil {
				return err
			}

			row, err := env.Exec.FetchOne(ctx, `SELECT engagement FROM posts WHERE id = ?`, target)
			if err != nil {
				return err
			}
			engagement := models.AsInt64(row[0])

			next, err := env.Escalations.NextRound(ctx, target)
			if err != nil {
				return err
			}
			threshold, err := env.Escalations.Threshold(ctx, target, next)
			if err != nil {
				return err
			}
			if engagement < threshold {
				return nil
			}

			won, err := env.Escalations.Reserve(ctx, target, next, engagement)
			if err != nil {
				// Another agent advanced the round between our lookup and
				// the reserve. A lost race, not a failure.
				if errors.Is(err, escalation.ErrRoundOrder) {
					return nil
				}
				return err
			}
			if !won {
				return nil
			}
			return env.Escalations.Commit(ctx, target, next, "amplified")
		},
	})
	simulation.AssertNoAgentErrors(t, result)

	// Storm accounting: 4 agents x 10 bumps per post.
	for _, p := range posts {
		simulation.AssertEngagement(t, r, p.ID, 40)
	}

	// Decay sweep halves everything.
	if _, err := decay.NewJob(r.Store(), decay.Options{Factor: 0.5}).RunOnce(ctx); err != nil {
		t.Fatalf("decay RunOnce() error = %v", err)
	}
	for _, p := range posts {
		simulation.AssertEngagement(t, r, p.ID, 20)
	}

	// Protocol invariants held under the storm.
	for _, p := range posts {
		history := r.History(p.ID)
		if len(history) == 0 {
			t.Errorf("post %s never escalated; engagement 40 clears threshold 10", p.ID)
		}
		simulation.AssertRoundsConsecutive(t, r, p.ID)
		simulation.AssertAllCommitted(t, r, p.ID)
	}
	simulation.AssertIntegrity(t, r)

	// Snapshot and restore into a fresh database.
	snapPath := filepath.Join(t.TempDir(), "lifecycle.json.gz")
	snap, err := backup.Snapshot(ctx, r.Store(), snapPath, false)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap.Posts) != 3 {
		t.Errorf("snapshot posts = %d, want 3", len(snap.Posts))
	}

	restored := simulation.NewRunner(t)
	if _, err := backup.Restore(ctx, restored.Store(), snapPath, backup.RestoreReplace); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	simulation.AssertSameContent(t, r, restored)
	simulation.AssertIntegrity(t, restored)

	// A reservation whose work never finishes stays RESERVED and is the
	// stale scan's business, not the protocol's.
	mgr := escalation.NewManager(r.Store(), escalation.Options{InitialThreshold: 10, Interval: 10})
	if _, err := r.Store().Execute(ctx, simulation.SetEngagementQuery, 1000, "p0"); err != nil {
		t.Fatalf("raise engagement: %v", err)
	}
	next, err := mgr.NextRound(ctx, "p0")
	if err != nil {
		t.Fatalf("NextRound() error = %v", err)
	}
	if won, err := mgr.Reserve(ctx, "p0", next, 1000); err != nil || !won {
		t.Fatalf("Reserve(%d) = %v, %v; want true, nil", next, won, err)
	}

	stale, err := mgr.Stale(ctx, 0)
	if err != nil {
		t.Fatalf("Stale() error = %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("stale reservations = %d, want 1", len(stale))
	}
	if stale[0].TargetID != "p0" || stale[0].Round != next {
		t.Errorf("stale reservation = %s round %d, want p0 round %d", stale[0].TargetID, stale[0].Round, next)
	}
}
