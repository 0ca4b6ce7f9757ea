package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <sql>",
		Short: "Execute a mutating SQL statement",
		Long: `Run a single INSERT, UPDATE, or DELETE through the write serializer.
The statement goes through the same queue as every other write, so it is
safe to run while a simulation is live.

Parameters bind positionally with --param, one flag per placeholder.

Examples:
  rumormill exec "INSERT INTO posts (id, author, content) VALUES (?, ?, ?)" \
    --param p1 --param bot-7 --param "the moon is a hologram"
  rumormill exec "UPDATE posts SET engagement = engagement + 1 WHERE id = ?" --param p1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			exec, mode, err := openExecutor(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer exec.Close()

			res, err := exec.Execute(cmd.Context(), args[0], queryParams(cmd)...)
			if err != nil {
				return fmt.Errorf("execute failed: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"affected_rows":  res.RowsAffected,
					"last_insert_id": res.LastInsertID,
					"mode":           mode.String(),
				})
			}

			fmt.Printf("OK: %d row(s) affected (mode: %s)\n", res.RowsAffected, mode)
			return nil
		},
	}

	cmd.Flags().StringArray("param", nil, "Positional query parameter (repeatable)")
	addModeFlags(cmd)

	return cmd
}
