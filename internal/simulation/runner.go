package simulation

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/rumormill/internal/config"
	"github.com/nvandessel/rumormill/internal/escalation"
	"github.com/nvandessel/rumormill/internal/models"
	"github.com/nvandessel/rumormill/internal/schema"
	"github.com/nvandessel/rumormill/internal/service"
	"github.com/nvandessel/rumormill/internal/storage"
)

// Runner orchestrates multi-agent experiments against a real store and,
// optionally, a real HTTP delegation service in front of it.
type Runner struct {
	t     *testing.T
	store *storage.Store
}

// NewRunner creates a runner with an isolated SQLite store and sandboxed
// HOME directory.
func NewRunner(t *testing.T) *Runner {
	return NewRunnerWithOptions(t, storage.Options{})
}

// NewRunnerWithOptions is NewRunner with explicit store options, for
// scenarios that need small queues or tight retry budgets. Zero fields
// take the production defaults.
func NewRunnerWithOptions(t *testing.T, opts storage.Options) *Runner {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	opts.RelationshipHints = schema.RelationshipHints()
	s, err := storage.Open(filepath.Join(tmpDir, storage.DatabaseFile), opts)
	if err != nil {
		t.Fatalf("NewRunner: failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := schema.Apply(context.Background(), s); err != nil {
		t.Fatalf("NewRunner: failed to apply schema: %v", err)
	}
	return &Runner{t: t, store: s}
}

// Store returns the runner's backing store.
func (r *Runner) Store() *storage.Store { return r.store }

// Run executes the scenario and returns the collected results.
func (r *Runner) Run(scenario Scenario) Result {
	r.t.Helper()
	ctx := context.Background()

	// Phase 1: Seed the feed.
	r.seedPosts(ctx, scenario.Posts)

	// Phase 2: Pick the executor the agents will share.
	var exec storage.Executor = r.store
	if scenario.Remote {
		exec = r.remoteClient()
	}

	// Phase 3: Build the shared environment and release the agents.
	env := &Env{
		Exec:        exec,
		Escalations: escalation.NewManager(exec, scenario.Escalation),
	}

	agents := scenario.Agents
	if agents <= 0 {
		agents = 1
	}
	steps := scenario.Steps
	if steps <= 0 {
		steps = 1
	}

	errs := make([]error, agents)
	var g errgroup.Group
	for a := 0; a < agents; a++ {
		g.Go(func() error {
			for s := 0; s < steps; s++ {
				if err := scenario.Act(ctx, env, a, s); err != nil {
					errs[a] = fmt.Errorf("agent %d step %d: %w", a, s, err)
					return nil
				}
			}
			return nil
		})
	}
	// Agent errors land in errs, never in the group, so Wait only
	// synchronizes.
	_ = g.Wait()

	return Result{Store: r.store, Exec: exec, AgentErrs: errs}
}

// remoteClient serves the runner's store over httptest and returns a
// client pointed at it. The server shuts down with the test.
func (r *Runner) remoteClient() *service.Client {
	r.t.Helper()
	srv := service.NewServer(r.store, config.ServiceConfig{}, nil)
	ts := httptest.NewServer(srv.Handler())
	r.t.Cleanup(ts.Close)
	return service.NewClient(ts.URL, 0, nil)
}

// seedPosts inserts all posts from the scenario into the store.
func (r *Runner) seedPosts(ctx context.Context, posts []PostSpec) {
	r.t.Helper()
	for _, spec := range posts {
		p := spec.withDefaults()
		_, err := r.store.Execute(ctx,
			`INSERT INTO posts (id, author, content, engagement) VALUES (?, ?, ?, ?)`,
			p.ID, p.Author, p.Content, p.Engagement)
		if err != nil {
			r.t.Fatalf("seedPosts: insert %s: %v", p.ID, err)
		}
	}
}

// Engagement returns a post's current engagement.
func (r *Runner) Engagement(postID string) int64 {
	r.t.Helper()
	row, err := r.store.FetchOne(context.Background(),
		`SELECT engagement FROM posts WHERE id = ?`, postID)
	if err != nil {
		r.t.Fatalf("Engagement(%s): %v", postID, err)
	}
	if row == nil {
		r.t.Fatalf("Engagement(%s): post not found", postID)
	}
	return models.AsInt64(row[0])
}

// RowCount returns the number of rows in a table.
func (r *Runner) RowCount(table string) int64 {
	r.t.Helper()
	row, err := r.store.FetchOne(context.Background(),
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table))
	if err != nil {
		r.t.Fatalf("RowCount(%s): %v", table, err)
	}
	return models.AsInt64(row[0])
}

// History returns the escalation rows for a target in round order.
func (r *Runner) History(targetID string) []models.Escalation {
	r.t.Helper()
	rs, err := r.store.FetchAll(context.Background(),
		`SELECT target_id, round, status, engagement_at_reservation, outcome, created_at, committed_at
		 FROM escalations WHERE target_id = ? ORDER BY round`, targetID)
	if err != nil {
		r.t.Fatalf("History(%s): %v", targetID, err)
	}
	escalations := make([]models.Escalation, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		e, err := models.EscalationFromRow(row)
		if err != nil {
			r.t.Fatalf("History(%s): %v", targetID, err)
		}
		escalations = append(escalations, e)
	}
	return escalations
}
