package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/rumormill/internal/backup"
	"github.com/spf13/cobra"
)

func newBackupListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots with metadata",
		Long: `List all snapshot files in the backups directory with format version,
size, and row counts.

Examples:
  rumormill backup list
  rumormill backup list --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")

			dataDir, err := resolveDataDir(root)
			if err != nil {
				return err
			}
			dir := backup.DefaultDir(dataDir)

			snapshots, err := backup.ListSnapshots(dir)
			if err != nil {
				return fmt.Errorf("failed to list snapshots: %w", err)
			}

			if jsonOut {
				type jsonEntry struct {
					Path        string `json:"path"`
					Version     int    `json:"version"`
					Size        int64  `json:"size_bytes"`
					CreatedAt   string `json:"created_at"`
					Posts       int    `json:"post_count"`
					Escalations int    `json:"escalation_count"`
				}
				entries := make([]jsonEntry, 0, len(snapshots))
				for _, s := range snapshots {
					entries = append(entries, jsonEntry{
						Path:        s.Path,
						Version:     s.Version,
						Size:        s.Size,
						CreatedAt:   s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
						Posts:       s.PostCount,
						Escalations: s.EscalationCount,
					})
				}
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"snapshots":   entries,
					"total_count": len(entries),
					"directory":   dir,
				})
			}

			if len(snapshots) == 0 {
				fmt.Printf("No snapshots found in %s\n", dir)
				return nil
			}

			fmt.Printf("Snapshots in %s:\n", dir)
			var totalSize int64
			for _, s := range snapshots {
				totalSize += s.Size

				formatStr := "json"
				if s.Version == backup.FormatV2 {
					formatStr = "gzip"
				}

				fmt.Printf("  %s  v%d  %s  %s  %d posts  %d escalations  %s\n",
					s.CreatedAt.Format("2006-01-02 15:04"),
					s.Version,
					formatStr,
					formatBytes(s.Size),
					s.PostCount,
					s.EscalationCount,
					filepath.Base(s.Path),
				)
			}
			fmt.Printf("Total: %d snapshot(s), %s\n", len(snapshots), formatBytes(totalSize))
			return nil
		},
	}

	return cmd
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1fGB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1fMB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1fKB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%dB", b)
	}
}
