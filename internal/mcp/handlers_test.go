package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/rumormill/internal/constants"
)

func seedPost(t *testing.T, s *Server, id string, engagement int64) {
	t.Helper()
	_, err := s.exec.Execute(context.Background(),
		`INSERT INTO posts (id, author, content, engagement) VALUES (?, ?, ?, ?)`,
		id, "tester", "content of "+id, engagement)
	if err != nil {
		t.Fatalf("seeding post %s: %v", id, err)
	}
}

func TestRequireReadOnly(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{"plain select", "SELECT * FROM posts", ""},
		{"lowercase select", "  select id from posts", ""},
		{"cte", "WITH top AS (SELECT id FROM posts) SELECT * FROM top", ""},
		{"trailing semicolon", "SELECT 1;", ""},
		{"leading comment", "-- top posts\nSELECT id FROM posts", ""},
		{"only comment", "-- nothing here", "only comments"},
		{"insert", "INSERT INTO posts (id) VALUES ('x')", "only SELECT"},
		{"update", "UPDATE posts SET engagement = 0", "only SELECT"},
		{"delete", "DELETE FROM posts", "only SELECT"},
		{"drop", "DROP TABLE posts", "only SELECT"},
		{"pragma", "PRAGMA journal_mode", "only SELECT"},
		{"stacked statements", "SELECT 1; DROP TABLE posts", "multiple SQL statements"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requireReadOnly(tt.query)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("requireReadOnly(%q) = %v, want nil", tt.query, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("requireReadOnly(%q) = %v, want error containing %q", tt.query, err, tt.wantErr)
			}
		})
	}
}

func TestHandleQuery(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	seedPost(t, server, "p1", 10)
	seedPost(t, server, "p2", 25)

	_, out, err := server.handleQuery(ctx, nil, QueryInput{
		Query: `SELECT id, engagement FROM posts ORDER BY id`,
	})
	if err != nil {
		t.Fatalf("handleQuery failed: %v", err)
	}

	if out.Count != 2 {
		t.Errorf("count = %d, want 2", out.Count)
	}
	if len(out.Columns) != 2 || out.Columns[0] != "id" {
		t.Errorf("columns = %v, want [id engagement]", out.Columns)
	}
	if len(out.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(out.Rows))
	}
	if out.Rows[0][0] != "p1" {
		t.Errorf("rows[0][0] = %v, want p1", out.Rows[0][0])
	}
}

func TestHandleQuery_RejectsWrites(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	_, _, err := server.handleQuery(ctx, nil, QueryInput{
		Query: `DELETE FROM posts`,
	})
	if err == nil {
		t.Fatal("expected error for non-SELECT query")
	}
	if !strings.Contains(err.Error(), "only SELECT") {
		t.Errorf("error = %v, want only-SELECT rejection", err)
	}
}

func TestHandleQuery_AppliesLimit(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		seedPost(t, server, id, 1)
	}

	_, out, err := server.handleQuery(ctx, nil, QueryInput{
		Query: `SELECT id FROM posts ORDER BY id`,
		Limit: 3,
	})
	if err != nil {
		t.Fatalf("handleQuery failed: %v", err)
	}
	if out.Count != 3 {
		t.Errorf("count = %d, want 3", out.Count)
	}
}

func TestHandleQuery_WithParams(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	seedPost(t, server, "low", 5)
	seedPost(t, server, "high", 50)

	_, out, err := server.handleQuery(ctx, nil, QueryInput{
		Query:  `SELECT id FROM posts WHERE engagement > ?`,
		Params: []any{10},
	})
	if err != nil {
		t.Fatalf("handleQuery failed: %v", err)
	}
	if out.Count != 1 || out.Rows[0][0] != "high" {
		t.Errorf("rows = %v, want [[high]]", out.Rows)
	}
}

func TestHandleEscalations(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	seedPost(t, server, "p1", 20)
	seedPost(t, server, "p2", 20)

	ok, err := server.esc.Reserve(ctx, "p1", 1, 20)
	if err != nil || !ok {
		t.Fatalf("Reserve(p1) = %v, %v, want true", ok, err)
	}
	ok, err = server.esc.Reserve(ctx, "p2", 1, 20)
	if err != nil || !ok {
		t.Fatalf("Reserve(p2) = %v, %v, want true", ok, err)
	}
	if err := server.esc.Commit(ctx, "p1", 1, "amplified"); err != nil {
		t.Fatalf("Commit(p1) failed: %v", err)
	}

	t.Run("all rows", func(t *testing.T) {
		_, out, err := server.handleEscalations(ctx, nil, EscalationsInput{})
		if err != nil {
			t.Fatalf("handleEscalations failed: %v", err)
		}
		if out.Count != 2 {
			t.Errorf("count = %d, want 2", out.Count)
		}
	})

	t.Run("filter by target", func(t *testing.T) {
		_, out, err := server.handleEscalations(ctx, nil, EscalationsInput{TargetID: "p1"})
		if err != nil {
			t.Fatalf("handleEscalations failed: %v", err)
		}
		if out.Count != 1 {
			t.Fatalf("count = %d, want 1", out.Count)
		}
		got := out.Escalations[0]
		if got.TargetID != "p1" || got.Status != "COMMITTED" || got.Outcome != "amplified" {
			t.Errorf("escalation = %+v, want committed p1 round 1", got)
		}
	})

	t.Run("filter by status", func(t *testing.T) {
		_, out, err := server.handleEscalations(ctx, nil, EscalationsInput{Status: "reserved"})
		if err != nil {
			t.Fatalf("handleEscalations failed: %v", err)
		}
		if out.Count != 1 || out.Escalations[0].TargetID != "p2" {
			t.Errorf("escalations = %+v, want just p2", out.Escalations)
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		_, _, err := server.handleEscalations(ctx, nil, EscalationsInput{Status: "PENDING"})
		if err == nil || !strings.Contains(err.Error(), "invalid status") {
			t.Errorf("error = %v, want invalid status", err)
		}
	})
}

func TestHandleStale(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	seedPost(t, server, "p1", 20)

	// A reservation left RESERVED for an hour is well past the default cutoff
	_, err := server.exec.Execute(ctx,
		`INSERT INTO escalations (target_id, round, status, engagement_at_reservation, created_at)
		 VALUES ('p1', 1, 'RESERVED', 20, datetime('now', '-1 hour'))`)
	if err != nil {
		t.Fatalf("seeding stale reservation: %v", err)
	}

	_, out, err := server.handleStale(ctx, nil, StaleInput{})
	if err != nil {
		t.Fatalf("handleStale failed: %v", err)
	}
	if out.Count != 1 {
		t.Fatalf("count = %d, want 1", out.Count)
	}
	if out.Reservations[0].TargetID != "p1" {
		t.Errorf("target = %q, want p1", out.Reservations[0].TargetID)
	}
	if !strings.Contains(out.Message, "1 reservation") {
		t.Errorf("message = %q, want stale reservation notice", out.Message)
	}

	// A generous cutoff should hide it
	_, out, err = server.handleStale(ctx, nil, StaleInput{OlderThan: "2d"})
	if err != nil {
		t.Fatalf("handleStale with cutoff failed: %v", err)
	}
	if out.Count != 0 {
		t.Errorf("count = %d, want 0 for 2d cutoff", out.Count)
	}
}

func TestHandleStale_BadDuration(t *testing.T) {
	server, _ := setupTestServer(t)

	_, _, err := server.handleStale(context.Background(), nil, StaleInput{OlderThan: "soon"})
	if err == nil || !strings.Contains(err.Error(), "invalid older_than") {
		t.Errorf("error = %v, want invalid older_than", err)
	}
}

func TestHandleStats(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	seedPost(t, server, "p1", 20)
	if ok, err := server.esc.Reserve(ctx, "p1", 1, 20); err != nil || !ok {
		t.Fatalf("Reserve failed: %v %v", ok, err)
	}

	_, out, err := server.handleStats(ctx, nil, StatsInput{})
	if err != nil {
		t.Fatalf("handleStats failed: %v", err)
	}

	if out.Mode != "local" {
		t.Errorf("mode = %q, want local", out.Mode)
	}
	if out.Posts != 1 {
		t.Errorf("posts = %d, want 1", out.Posts)
	}
	if out.Escalations != 1 || out.Reserved != 1 || out.Committed != 0 {
		t.Errorf("escalations = %d/%d/%d, want 1 total, 1 reserved, 0 committed",
			out.Escalations, out.Reserved, out.Committed)
	}
	if out.SchemaVersion != 1 {
		t.Errorf("schema_version = %d, want 1", out.SchemaVersion)
	}
	if out.Path == "" {
		t.Error("path should be set in local mode")
	}
	if out.QueueCap != constants.DefaultQueueSize {
		t.Errorf("queue_cap = %d, want %d", out.QueueCap, constants.DefaultQueueSize)
	}
}

func TestHandleBackup(t *testing.T) {
	server, root := setupTestServer(t)
	ctx := context.Background()

	seedPost(t, server, "p1", 20)
	seedPost(t, server, "p2", 5)

	_, out, err := server.handleBackup(ctx, nil, BackupInput{})
	if err != nil {
		t.Fatalf("handleBackup failed: %v", err)
	}

	if out.Posts != 2 {
		t.Errorf("posts = %d, want 2", out.Posts)
	}
	if out.Escalations != 0 {
		t.Errorf("escalations = %d, want 0", out.Escalations)
	}

	// The snapshot should land in the default backups directory
	wantDir := filepath.Join(root, ".rumormill", "backups")
	if filepath.Dir(out.Path) != wantDir {
		t.Errorf("path = %q, want file under %q", out.Path, wantDir)
	}
	if _, err := os.Stat(out.Path); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
}

func TestHandleBackup_RejectsOutsidePath(t *testing.T) {
	server, _ := setupTestServer(t)

	outside := filepath.Join(t.TempDir(), "exfil.json")
	_, _, err := server.handleBackup(context.Background(), nil, BackupInput{Path: outside})
	if err == nil {
		t.Fatal("expected rejection for path outside allowed directories")
	}
	if !strings.Contains(err.Error(), "backup path rejected") {
		t.Errorf("error = %v, want backup path rejected", err)
	}
}
