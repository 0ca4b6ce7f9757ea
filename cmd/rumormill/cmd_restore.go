package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nvandessel/rumormill/internal/backup"
	"github.com/nvandessel/rumormill/internal/config"
	"github.com/nvandessel/rumormill/internal/pathutil"
	"github.com/spf13/cobra"
)

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore posts and escalations from a snapshot",
		Long: `Import a snapshot file (V1 or V2 format, auto-detected) back into the
database. Every row goes through the write serializer, so restoring into a
live simulation is safe.

Modes:
  merge   - Skip rows that already exist (default)
  replace - Clear both tables first, then restore

Examples:
  rumormill restore ~/.rumormill/backups/rumormill-backup-20260825-120000.json
  rumormill restore snapshot.json --mode replace`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath := args[0]
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			mode, _ := cmd.Flags().GetString("mode")

			if mode != "merge" && mode != "replace" {
				return fmt.Errorf("invalid restore mode %q (valid: merge, replace)", mode)
			}
			restoreMode := backup.RestoreMerge
			if mode == "replace" {
				restoreMode = backup.RestoreReplace
			}

			allowedDirs, err := pathutil.AllowedSnapshotDirs(root)
			if err != nil {
				return err
			}
			if err := pathutil.ValidatePath(inputPath, allowedDirs); err != nil {
				return fmt.Errorf("restore path rejected: %w", err)
			}

			// The restore --mode flag is merge/replace, not an execution
			// mode, so the config is loaded without flag overrides.
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			exec, _, err := openExecutor(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer exec.Close()

			result, err := backup.Restore(cmd.Context(), exec, inputPath, restoreMode)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"posts_restored":       result.PostsRestored,
					"posts_skipped":        result.PostsSkipped,
					"escalations_restored": result.EscalationsRestored,
					"escalations_skipped":  result.EscalationsSkipped,
					"message":              fmt.Sprintf("Restore complete: %d posts, %d escalations", result.PostsRestored, result.EscalationsRestored),
				})
			}

			fmt.Printf("Restore complete (mode: %s)\n", mode)
			fmt.Printf("  Posts:       %d restored, %d skipped\n", result.PostsRestored, result.PostsSkipped)
			fmt.Printf("  Escalations: %d restored, %d skipped\n", result.EscalationsRestored, result.EscalationsSkipped)
			return nil
		},
	}

	cmd.Flags().String("mode", "merge", "Restore mode: merge or replace")

	return cmd
}
