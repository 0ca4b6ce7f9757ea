package simulation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nvandessel/rumormill/internal/models"
	"github.com/nvandessel/rumormill/internal/schema"
)

// AssertNoAgentErrors asserts that every agent finished clean.
func AssertNoAgentErrors(t *testing.T, result Result) {
	t.Helper()
	for i, err := range result.AgentErrs {
		if err != nil {
			t.Errorf("AssertNoAgentErrors: agent %d: %v", i, err)
		}
	}
}

// AssertAllAgentsFailedWith asserts that every agent stopped on the given
// sentinel error. Scenarios that shut the system down under the agents
// expect this instead of clean exits.
func AssertAllAgentsFailedWith(t *testing.T, result Result, want error) {
	t.Helper()
	for i, err := range result.AgentErrs {
		if err == nil {
			t.Errorf("AssertAllAgentsFailedWith: agent %d finished clean, want %v", i, want)
			continue
		}
		if !errors.Is(err, want) {
			t.Errorf("AssertAllAgentsFailedWith: agent %d: got %v, want %v", i, err, want)
		}
	}
}

// AssertEngagement asserts a post's final engagement.
func AssertEngagement(t *testing.T, r *Runner, postID string, want int64) {
	t.Helper()
	if got := r.Engagement(postID); got != want {
		t.Errorf("AssertEngagement: post %s engagement = %d, want %d", postID, got, want)
	}
}

// AssertRowCount asserts the number of rows in a table.
func AssertRowCount(t *testing.T, r *Runner, table string, want int64) {
	t.Helper()
	if got := r.RowCount(table); got != want {
		t.Errorf("AssertRowCount: %s has %d rows, want %d", table, got, want)
	}
}

// AssertSingleWinner asserts that exactly one recorded outcome is true.
func AssertSingleWinner(t *testing.T, wins []bool) {
	t.Helper()
	winners := 0
	for _, won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("AssertSingleWinner: %d winners out of %d contenders, want exactly 1 (wins: %v)", winners, len(wins), wins)
	}
}

// AssertRoundsConsecutive asserts that the target's recorded rounds are
// exactly 1..N with no gaps and no duplicates.
func AssertRoundsConsecutive(t *testing.T, r *Runner, targetID string) {
	t.Helper()
	history := r.History(targetID)
	for i, e := range history {
		if want := int64(i + 1); e.Round != want {
			t.Errorf("AssertRoundsConsecutive: target %s position %d has round %d, want %d", targetID, i, e.Round, want)
		}
	}
}

// AssertAllCommitted asserts that every recorded round for the target is
// COMMITTED with a non-empty outcome.
func AssertAllCommitted(t *testing.T, r *Runner, targetID string) {
	t.Helper()
	for _, e := range r.History(targetID) {
		if e.Status != models.StatusCommitted {
			t.Errorf("AssertAllCommitted: target %s round %d status = %s, want %s", targetID, e.Round, e.Status, models.StatusCommitted)
		}
		if e.Outcome == "" {
			t.Errorf("AssertAllCommitted: target %s round %d has no outcome", targetID, e.Round)
		}
	}
}

// AssertIntegrity runs SQLite's integrity and foreign key checks against
// the runner's store.
func AssertIntegrity(t *testing.T, r *Runner) {
	t.Helper()
	if err := schema.Integrity(context.Background(), r.store); err != nil {
		t.Errorf("AssertIntegrity: %v", err)
	}
}

// AssertSameContent asserts that two runners hold identical posts and
// escalations. Timestamps are excluded: two runs of the same scenario land
// their writes at different moments.
func AssertSameContent(t *testing.T, a, b *Runner) {
	t.Helper()
	if got, want := contentRows(t, b), contentRows(t, a); !equalRows(got, want) {
		t.Errorf("AssertSameContent: content diverged\n a: %v\n b: %v", want, got)
	}
}

// contentRows flattens the timestamp-free content of both tables into
// comparable strings.
func contentRows(t *testing.T, r *Runner) []string {
	t.Helper()
	ctx := context.Background()

	var rows []string
	posts, err := r.store.FetchAll(ctx,
		`SELECT id, author, content, engagement FROM posts ORDER BY id`)
	if err != nil {
		t.Fatalf("contentRows: posts: %v", err)
	}
	for _, row := range posts.Rows {
		rows = append(rows, fmt.Sprintf("post|%s|%s|%s|%d",
			models.AsString(row[0]), models.AsString(row[1]), models.AsString(row[2]), models.AsInt64(row[3])))
	}

	escalations, err := r.store.FetchAll(ctx,
		`SELECT target_id, round, status, engagement_at_reservation, COALESCE(outcome, '')
		 FROM escalations ORDER BY target_id, round`)
	if err != nil {
		t.Fatalf("contentRows: escalations: %v", err)
	}
	for _, row := range escalations.Rows {
		rows = append(rows, fmt.Sprintf("escalation|%s|%d|%s|%d|%s",
			models.AsString(row[0]), models.AsInt64(row[1]), models.AsString(row[2]),
			models.AsInt64(row[3]), models.AsString(row[4])))
	}
	return rows
}

func equalRows(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
