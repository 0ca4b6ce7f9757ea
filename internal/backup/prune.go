package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SnapshotInfo holds per-file metadata for retention decisions. For V2
// files, CreatedAt and the counts come from the header; for V1 files they
// fall back to filesystem metadata.
type SnapshotInfo struct {
	Path            string
	Size            int64
	CreatedAt       time.Time
	Version         int
	PostCount       int
	EscalationCount int
}

// RetentionPolicy decides which snapshots to keep.
type RetentionPolicy interface {
	Apply(snapshots []SnapshotInfo) (keep []SnapshotInfo)
}

// CountPolicy keeps the N most recent snapshots.
type CountPolicy struct {
	MaxCount int
}

// Apply keeps the first MaxCount snapshots (assumed sorted newest-first).
func (p *CountPolicy) Apply(snapshots []SnapshotInfo) []SnapshotInfo {
	if len(snapshots) <= p.MaxCount {
		return snapshots
	}
	return snapshots[:p.MaxCount]
}

// AgePolicy keeps snapshots newer than MaxAge.
type AgePolicy struct {
	MaxAge time.Duration
}

// Apply keeps snapshots whose CreatedAt is within MaxAge of now.
func (p *AgePolicy) Apply(snapshots []SnapshotInfo) []SnapshotInfo {
	cutoff := time.Now().Add(-p.MaxAge)
	var keep []SnapshotInfo
	for _, s := range snapshots {
		if s.CreatedAt.After(cutoff) {
			keep = append(keep, s)
		}
	}
	return keep
}

// SizePolicy keeps snapshots until their total size exceeds MaxTotalBytes.
type SizePolicy struct {
	MaxTotalBytes int64
}

// Apply keeps snapshots (newest-first) until adding the next would exceed
// the limit. The newest snapshot is always kept.
func (p *SizePolicy) Apply(snapshots []SnapshotInfo) []SnapshotInfo {
	var keep []SnapshotInfo
	var total int64
	for _, s := range snapshots {
		if total+s.Size > p.MaxTotalBytes && len(keep) > 0 {
			break
		}
		keep = append(keep, s)
		total += s.Size
	}
	return keep
}

// CompositePolicy keeps a snapshot if ANY sub-policy wants it.
type CompositePolicy struct {
	Policies []RetentionPolicy
}

// Apply returns the union of snapshots kept by any sub-policy.
func (p *CompositePolicy) Apply(snapshots []SnapshotInfo) []SnapshotInfo {
	kept := make(map[string]bool)
	for _, policy := range p.Policies {
		for _, s := range policy.Apply(snapshots) {
			kept[s.Path] = true
		}
	}

	var result []SnapshotInfo
	for _, s := range snapshots {
		if kept[s.Path] {
			result = append(result, s)
		}
	}
	return result
}

// ApplyRetention deletes snapshots not kept by the policy and returns the
// deleted paths.
func ApplyRetention(dir string, policy RetentionPolicy) (deleted []string, err error) {
	snapshots, err := ListSnapshots(dir)
	if err != nil {
		return nil, err
	}

	keep := policy.Apply(snapshots)
	keepSet := make(map[string]bool, len(keep))
	for _, s := range keep {
		keepSet[s.Path] = true
	}

	for _, s := range snapshots {
		if !keepSet[s.Path] {
			if err := os.Remove(s.Path); err != nil {
				return deleted, fmt.Errorf("removing %s: %w", filepath.Base(s.Path), err)
			}
			deleted = append(deleted, s.Path)
		}
	}

	return deleted, nil
}

// ParseDuration parses duration strings like "30d", "2w", "720h".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	// Standard Go durations first (e.g. "720h")
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(num) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration suffix %q in %q", string(suffix), s)
	}
}

// ParseSize parses size strings like "100MB", "1GB", "500KB" into bytes.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	s = strings.TrimSpace(s)

	// Longer suffixes first so "MB" does not match "B"
	suffixes := []struct {
		suffix     string
		multiplier int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, ss := range suffixes {
		if strings.HasSuffix(s, ss.suffix) {
			num, err := strconv.ParseInt(strings.TrimSuffix(s, ss.suffix), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size: %q", s)
			}
			return num * ss.multiplier, nil
		}
	}

	return 0, fmt.Errorf("invalid size: %q (expected suffix: B, KB, MB, GB)", s)
}
