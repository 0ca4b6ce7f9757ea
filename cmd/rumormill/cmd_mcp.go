package main

import (
	"github.com/nvandessel/rumormill/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP analyst server on stdio",
		Long: `Expose read-only analyst tools over the Model Context Protocol so that
agent frameworks can inspect a running simulation: ad-hoc SELECT queries,
the escalation audit trail, stale reservations, and storage stats.

stdout carries the MCP transport; logs go to stderr. The server follows the
same mode resolution as every other command, so it can observe a local
database or delegate to a serve process.

Example Claude Code registration:
  claude mcp add rumormill -- rumormill mcp --root /path/to/sim`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")

			srv, err := mcp.NewServer(&mcp.Config{
				Name:    "rumormill",
				Version: version,
				Root:    root,
			})
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}

	return cmd
}
