package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/nvandessel/rumormill/internal/models"
	"github.com/nvandessel/rumormill/internal/schema"
	"github.com/nvandessel/rumormill/internal/storage"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show storage health and occupancy",
		Long: `Report the resolved execution mode, row counts, schema version, and, in
local mode, write queue depth and connection pool occupancy.

--check additionally runs SQLite's integrity and foreign key checks.

Examples:
  rumormill status
  rumormill status --check --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			check, _ := cmd.Flags().GetBool("check")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			exec, mode, err := openExecutor(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer exec.Close()

			ctx := cmd.Context()

			posts, err := countTable(ctx, exec, "posts")
			if err != nil {
				return err
			}
			escalations, err := countTable(ctx, exec, "escalations")
			if err != nil {
				return err
			}
			reservedRow, err := exec.FetchOne(ctx, `SELECT COUNT(*) FROM escalations WHERE status = 'RESERVED'`)
			if err != nil {
				return err
			}
			reserved := int64(0)
			if len(reservedRow) > 0 {
				reserved = models.AsInt64(reservedRow[0])
			}

			versionRow, err := exec.FetchOne(ctx, `SELECT MAX(version) FROM schema_version`)
			if err != nil {
				return err
			}
			schemaVersion := int64(0)
			if len(versionRow) > 0 {
				schemaVersion = models.AsInt64(versionRow[0])
			}

			integrity := ""
			if check {
				if err := schema.Integrity(ctx, exec); err != nil {
					integrity = err.Error()
				} else {
					integrity = "ok"
				}
			}

			if jsonOut {
				out := map[string]interface{}{
					"mode":           mode.String(),
					"posts":          posts,
					"escalations":    escalations,
					"reserved":       reserved,
					"schema_version": schemaVersion,
				}
				if store, ok := exec.(*storage.Store); ok {
					stats := store.Stats()
					out["path"] = store.Path()
					out["queue_depth"] = stats.QueueDepth
					out["queue_cap"] = stats.QueueCap
					out["pool"] = stats.Pool
				} else {
					out["remote_url"] = cfg.Service.RemoteURL
				}
				if check {
					out["integrity"] = integrity
				}
				return json.NewEncoder(os.Stdout).Encode(out)
			}

			fmt.Printf("Mode:           %s\n", mode)
			if store, ok := exec.(*storage.Store); ok {
				stats := store.Stats()
				fmt.Printf("Database:       %s\n", store.Path())
				fmt.Printf("Write queue:    %d/%d\n", stats.QueueDepth, stats.QueueCap)
				fmt.Printf("Pool:           %d open (%d idle, %d in use, max %d)\n",
					stats.Pool.Open, stats.Pool.Idle, stats.Pool.InUse, stats.Pool.Max)
			} else {
				fmt.Printf("Remote:         %s\n", cfg.Service.RemoteURL)
			}
			fmt.Printf("Schema version: %d\n", schemaVersion)
			fmt.Printf("Posts:          %d\n", posts)
			fmt.Printf("Escalations:    %d (%d reserved)\n", escalations, reserved)
			if check {
				fmt.Printf("Integrity:      %s\n", integrity)
			}
			return nil
		},
	}

	cmd.Flags().Bool("check", false, "Run integrity and foreign key checks")
	addModeFlags(cmd)

	return cmd
}

func countTable(ctx context.Context, exec storage.Executor, table string) (int64, error) {
	row, err := exec.FetchOne(ctx, `SELECT COUNT(*) FROM `+table)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	if len(row) == 0 {
		return 0, nil
	}
	return models.AsInt64(row[0]), nil
}
