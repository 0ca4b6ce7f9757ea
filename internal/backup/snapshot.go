// Package backup snapshots the simulation database to a single file and
// restores it. Snapshots go through the Executor interface, so they work
// identically against a local store and a remote delegation service.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nvandessel/rumormill/internal/models"
	"github.com/nvandessel/rumormill/internal/storage"
)

// SnapshotVersion is the payload schema version, independent of the file
// container format.
const SnapshotVersion = 1

// SnapshotFormat is the JSON payload of a snapshot file.
type SnapshotFormat struct {
	Version     int                 `json:"version"`
	CreatedAt   time.Time           `json:"created_at"`
	Posts       []models.Post       `json:"posts"`
	Escalations []models.Escalation `json:"escalations"`
}

// DefaultDir returns the snapshot directory inside a rumormill data dir.
func DefaultDir(dataDir string) string {
	return filepath.Join(dataDir, "backups")
}

// GeneratePath creates a timestamped snapshot filename in dir.
func GeneratePath(dir string) string {
	ts := time.Now().Format("20060102-150405")
	return filepath.Join(dir, fmt.Sprintf("rumormill-backup-%s.json", ts))
}

// Snapshot exports every post and escalation through exec into a snapshot
// file at path. Plain selects the uncompressed V1 container; the default is
// the checksummed V2 container.
func Snapshot(ctx context.Context, exec storage.Executor, path string, plain bool) (*SnapshotFormat, error) {
	posts, err := exportPosts(ctx, exec)
	if err != nil {
		return nil, err
	}
	escalations, err := exportEscalations(ctx, exec)
	if err != nil {
		return nil, err
	}

	snap := &SnapshotFormat{
		Version:     SnapshotVersion,
		CreatedAt:   time.Now().UTC(),
		Posts:       posts,
		Escalations: escalations,
	}

	if plain {
		if err := writeV1(path, snap); err != nil {
			return nil, err
		}
	} else {
		if err := writeV2(path, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// Load reads a snapshot file in either container format.
func Load(path string) (*SnapshotFormat, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var snap *SnapshotFormat
	switch format {
	case FormatV2:
		snap, err = readV2(path)
	default:
		snap, err = readV1(path)
	}
	if err != nil {
		return nil, err
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version: %d", snap.Version)
	}
	return snap, nil
}

// RestoreMode controls how restore handles existing rows.
type RestoreMode string

const (
	// RestoreMerge keeps existing rows and skips snapshot rows that
	// collide with them.
	RestoreMerge RestoreMode = "merge"
	// RestoreReplace clears both tables before restoring.
	RestoreReplace RestoreMode = "replace"
)

// RestoreResult reports what a restore did.
type RestoreResult struct {
	PostsRestored       int `json:"posts_restored"`
	PostsSkipped        int `json:"posts_skipped"`
	EscalationsRestored int `json:"escalations_restored"`
	EscalationsSkipped  int `json:"escalations_skipped"`
}

const (
	restorePostQuery = `
INSERT INTO posts (id, author, content, engagement, created_at)
VALUES (?, ?, ?, ?, COALESCE(?, datetime('now')))`

	restoreEscalationQuery = `
INSERT INTO escalations (target_id, round, status, engagement_at_reservation, outcome, created_at, committed_at)
VALUES (?, ?, ?, ?, ?, COALESCE(?, datetime('now')), ?)`
)

// Restore imports a snapshot file through exec. Merge mode uses INSERT OR
// IGNORE batches and counts collisions from the per-row counts; replace mode
// clears both tables first, so every snapshot row lands.
func Restore(ctx context.Context, exec storage.Executor, path string, mode RestoreMode) (*RestoreResult, error) {
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}

	if mode == RestoreReplace {
		_, err := exec.Transaction(ctx, []storage.Statement{
			{Query: `DELETE FROM escalations`},
			{Query: `DELETE FROM posts`},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to clear tables: %w", err)
		}
	}

	postQuery := restorePostQuery
	escQuery := restoreEscalationQuery
	if mode == RestoreMerge {
		postQuery = orIgnore(postQuery)
		escQuery = orIgnore(escQuery)
	}

	result := &RestoreResult{}

	if len(snap.Posts) > 0 {
		batch := make([][]any, len(snap.Posts))
		for i, p := range snap.Posts {
			batch[i] = []any{p.ID, p.Author, p.Content, p.Engagement, nullable(p.CreatedAt)}
		}
		res, err := exec.ExecuteMany(ctx, postQuery, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to restore posts: %w", err)
		}
		result.PostsRestored, result.PostsSkipped = tally(res.RowCounts, len(batch))
	}

	if len(snap.Escalations) > 0 {
		batch := make([][]any, len(snap.Escalations))
		for i, e := range snap.Escalations {
			batch[i] = []any{
				e.TargetID, e.Round, string(e.Status), e.EngagementAtReservation,
				nullable(e.Outcome), nullable(e.CreatedAt), nullable(e.CommittedAt),
			}
		}
		res, err := exec.ExecuteMany(ctx, escQuery, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to restore escalations: %w", err)
		}
		result.EscalationsRestored, result.EscalationsSkipped = tally(res.RowCounts, len(batch))
	}

	return result, nil
}

// tally splits per-row counts into restored and skipped. INSERT OR IGNORE
// reports 0 affected rows for a collision.
func tally(counts []int64, total int) (restored, skipped int) {
	for _, n := range counts {
		if n > 0 {
			restored++
		}
	}
	return restored, total - restored
}

func orIgnore(query string) string {
	return strings.Replace(query, "INSERT INTO", "INSERT OR IGNORE INTO", 1)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func exportPosts(ctx context.Context, exec storage.Executor) ([]models.Post, error) {
	rs, err := exec.FetchAll(ctx,
		`SELECT id, author, content, engagement, created_at FROM posts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to export posts: %w", err)
	}
	posts := make([]models.Post, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		p, err := models.PostFromRow(row)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func exportEscalations(ctx context.Context, exec storage.Executor) ([]models.Escalation, error) {
	rs, err := exec.FetchAll(ctx,
		`SELECT target_id, round, status, engagement_at_reservation, outcome, created_at, committed_at
		 FROM escalations ORDER BY target_id, round`)
	if err != nil {
		return nil, fmt.Errorf("failed to export escalations: %w", err)
	}
	escalations := make([]models.Escalation, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		e, err := models.EscalationFromRow(row)
		if err != nil {
			return nil, err
		}
		escalations = append(escalations, e)
	}
	return escalations, nil
}

// ListSnapshots scans dir for snapshot files and returns them newest-first.
func ListSnapshots(dir string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	var snapshots []SnapshotInfo
	for _, e := range entries {
		if e.IsDir() || !isSnapshotFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		si := SnapshotInfo{
			Path:      filepath.Join(dir, e.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		}
		if version, verr := DetectFormat(si.Path); verr == nil {
			si.Version = version
		}
		// V2 headers carry the authoritative creation time and counts.
		if si.Version == FormatV2 {
			if header, herr := ReadHeader(si.Path); herr == nil {
				si.CreatedAt = header.CreatedAt
				si.PostCount = header.PostCount
				si.EscalationCount = header.EscalationCount
			}
		}
		snapshots = append(snapshots, si)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return filepath.Base(snapshots[i].Path) > filepath.Base(snapshots[j].Path)
	})
	return snapshots, nil
}

func isSnapshotFile(name string) bool {
	return filepath.Ext(name) == ".json" &&
		len(name) > len("rumormill-backup-") &&
		name[:len("rumormill-backup-")] == "rumormill-backup-"
}
