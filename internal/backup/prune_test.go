package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSnapshotFile creates a named snapshot file in dir from a seeded
// store, so tests control ordering via the timestamped filename.
func writeSnapshotFile(t *testing.T, dir, name string) string {
	t.Helper()
	store := newTestStore(t)
	seedData(t, store)
	path := filepath.Join(dir, name)
	if _, err := Snapshot(context.Background(), store, path, false); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return path
}

func TestListSnapshots(t *testing.T) {
	dir := t.TempDir()
	writeSnapshotFile(t, dir, "rumormill-backup-20250101-000000.json")
	writeSnapshotFile(t, dir, "rumormill-backup-20250301-000000.json")
	writeSnapshotFile(t, dir, "rumormill-backup-20250201-000000.json")
	// Non-snapshot files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	snapshots, err := ListSnapshots(dir)
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("ListSnapshots() found %d, want 3", len(snapshots))
	}
	if filepath.Base(snapshots[0].Path) != "rumormill-backup-20250301-000000.json" {
		t.Errorf("first snapshot = %s, want the newest", filepath.Base(snapshots[0].Path))
	}
	if snapshots[0].Version != FormatV2 {
		t.Errorf("Version = %d, want %d", snapshots[0].Version, FormatV2)
	}
	if snapshots[0].PostCount != 2 {
		t.Errorf("PostCount = %d, want 2 from the header", snapshots[0].PostCount)
	}
}

func TestListSnapshotsMissingDir(t *testing.T) {
	snapshots, err := ListSnapshots(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v, want nil for a missing dir", err)
	}
	if snapshots != nil {
		t.Errorf("ListSnapshots() = %v, want nil", snapshots)
	}
}

func TestApplyRetentionCountPolicy(t *testing.T) {
	dir := t.TempDir()
	writeSnapshotFile(t, dir, "rumormill-backup-20250101-000000.json")
	writeSnapshotFile(t, dir, "rumormill-backup-20250201-000000.json")
	writeSnapshotFile(t, dir, "rumormill-backup-20250301-000000.json")

	deleted, err := ApplyRetention(dir, &CountPolicy{MaxCount: 2})
	if err != nil {
		t.Fatalf("ApplyRetention() error = %v", err)
	}
	if len(deleted) != 1 {
		t.Fatalf("deleted %d files, want 1", len(deleted))
	}
	if filepath.Base(deleted[0]) != "rumormill-backup-20250101-000000.json" {
		t.Errorf("deleted %s, want the oldest", filepath.Base(deleted[0]))
	}

	remaining, err := ListSnapshots(dir)
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("%d snapshots remain, want 2", len(remaining))
	}
}

func TestCompositePolicyUnion(t *testing.T) {
	now := time.Now()
	snapshots := []SnapshotInfo{
		{Path: "a", CreatedAt: now.Add(-1 * time.Hour), Size: 10},
		{Path: "b", CreatedAt: now.Add(-48 * time.Hour), Size: 10},
		{Path: "c", CreatedAt: now.Add(-240 * time.Hour), Size: 10},
	}

	// Count keeps a; age keeps a and b. Union keeps a and b.
	policy := &CompositePolicy{Policies: []RetentionPolicy{
		&CountPolicy{MaxCount: 1},
		&AgePolicy{MaxAge: 72 * time.Hour},
	}}

	keep := policy.Apply(snapshots)
	if len(keep) != 2 {
		t.Fatalf("kept %d, want 2", len(keep))
	}
	if keep[0].Path != "a" || keep[1].Path != "b" {
		t.Errorf("kept %v, want a and b", keep)
	}
}

func TestSizePolicyKeepsNewest(t *testing.T) {
	snapshots := []SnapshotInfo{
		{Path: "a", Size: 80},
		{Path: "b", Size: 30},
		{Path: "c", Size: 30},
	}

	keep := (&SizePolicy{MaxTotalBytes: 100}).Apply(snapshots)
	if len(keep) != 1 {
		t.Fatalf("kept %d, want 1 (adding b would exceed the cap)", len(keep))
	}
	if keep[0].Path != "a" {
		t.Errorf("kept %s, want a", keep[0].Path)
	}

	// An oversized newest snapshot is still kept.
	keep = (&SizePolicy{MaxTotalBytes: 50}).Apply(snapshots)
	if len(keep) != 1 || keep[0].Path != "a" {
		t.Errorf("kept %v, want just a", keep)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"720h", 720 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"", 0, true},
		{"30x", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDuration(%q) expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDuration(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"100MB", 100 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"500KB", 500 * 1024, false},
		{"42B", 42, false},
		{"", 0, true},
		{"100", 0, true},
		{"xGB", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseSize(%q) expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSize(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
