package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/rumormill/internal/backup"
	"github.com/nvandessel/rumormill/internal/pathutil"
	"github.com/nvandessel/rumormill/internal/storage"
	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a snapshot of posts and escalations",
		Long: `Export every post and escalation to a snapshot file. The default is the
compressed V2 container with a sha256 checksum; --plain writes readable
indented JSON instead.

Snapshots land in the data directory's backups/ folder and old ones are
pruned per backup.keep. A custom --output path must stay inside a
.rumormill/backups directory.

Examples:
  rumormill backup
  rumormill backup --plain
  rumormill backup --output ~/.rumormill/backups/before-reset.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			output, _ := cmd.Flags().GetString("output")
			plain, _ := cmd.Flags().GetBool("plain")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			exec, _, err := openExecutor(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer exec.Close()

			var backupPath string
			if output == "" {
				dataDir, err := resolveDataDir(root)
				if err != nil {
					return err
				}
				dir := backup.DefaultDir(dataDir)
				if err := storage.EnsureDir(dir); err != nil {
					return fmt.Errorf("failed to create backup directory: %w", err)
				}
				backupPath = backup.GeneratePath(dir)
			} else {
				allowedDirs, err := pathutil.AllowedSnapshotDirs(root)
				if err != nil {
					return err
				}
				if err := pathutil.ValidatePath(output, allowedDirs); err != nil {
					return fmt.Errorf("backup path rejected: %w", err)
				}
				if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
					return fmt.Errorf("failed to create backup directory: %w", err)
				}
				backupPath = output
			}

			snap, err := backup.Snapshot(cmd.Context(), exec, backupPath, plain)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			deleted, err := backup.ApplyRetention(filepath.Dir(backupPath), &backup.CountPolicy{MaxCount: cfg.Backup.Keep})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: retention sweep failed: %v\n", err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"status":      "created",
					"path":        backupPath,
					"posts":       len(snap.Posts),
					"escalations": len(snap.Escalations),
					"pruned":      len(deleted),
				})
			}

			fmt.Printf("Snapshot created: %s\n", backupPath)
			fmt.Printf("  %d post(s), %d escalation(s)\n", len(snap.Posts), len(snap.Escalations))
			if len(deleted) > 0 {
				fmt.Printf("  Pruned %d old snapshot(s)\n", len(deleted))
			}
			return nil
		},
	}

	cmd.Flags().String("output", "", "Snapshot file path (default: timestamped file in the backups dir)")
	cmd.Flags().Bool("plain", false, "Write uncompressed indented JSON (V1 format)")
	addModeFlags(cmd)

	cmd.AddCommand(
		newBackupListCmd(),
		newBackupVerifyCmd(),
	)

	return cmd
}
