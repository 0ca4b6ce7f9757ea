package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/nvandessel/rumormill/internal/storage"
	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Fetch rows with an ad-hoc query",
		Long: `Run a query and print the result set. Reads go straight to a pooled
connection in local mode; in remote mode they delegate to the service like
everything else.

Examples:
  rumormill query "SELECT id, engagement FROM posts ORDER BY engagement DESC" --limit 10
  rumormill query "SELECT COUNT(*) FROM escalations WHERE status = ?" --param RESERVED --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			exec, mode, err := openExecutor(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer exec.Close()

			params := queryParams(cmd)
			var rs storage.ResultSet
			if limit > 0 {
				rs, err = exec.FetchMany(cmd.Context(), limit, args[0], params...)
			} else {
				rs, err = exec.FetchAll(cmd.Context(), args[0], params...)
			}
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"columns":   rs.Columns,
					"rows":      rs.Rows,
					"row_count": len(rs.Rows),
					"mode":      mode.String(),
				})
			}

			printResultSet(rs)
			return nil
		},
	}

	cmd.Flags().StringArray("param", nil, "Positional query parameter (repeatable)")
	cmd.Flags().Int("limit", 0, "Maximum rows to fetch (0 = all)")
	addModeFlags(cmd)

	return cmd
}

// printResultSet writes a tab-separated table: header, separator, rows.
func printResultSet(rs storage.ResultSet) {
	if len(rs.Rows) == 0 {
		fmt.Println("(no rows)")
		return
	}
	fmt.Println(strings.Join(rs.Columns, "\t"))
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprintf("%v", v)
			}
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	fmt.Printf("(%d rows)\n", len(rs.Rows))
}
