package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/rumormill/internal/config"
	"github.com/nvandessel/rumormill/internal/constants"
	"github.com/nvandessel/rumormill/internal/logging"
	"github.com/nvandessel/rumormill/internal/service"
	"github.com/nvandessel/rumormill/internal/storage"
	"github.com/spf13/cobra"
)

// Set via -ldflags at release time.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rumormill",
		Short: "Rumormill - concurrency-safe storage for multi-agent simulations",
		Long: `rumormill owns the SQLite database behind a multi-agent misinformation
simulation. All writes funnel through a single serializer worker, reads share
a bounded connection pool, and secondary processes can delegate to the owning
process over HTTP instead of opening the file themselves.

It also runs the escalation reservation protocol: the atomic check-and-insert
that decides which agent, out of many racing, amplifies a post next.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", "", "Simulation root directory (default: the global ~/.rumormill)")

	// Add subcommands
	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newServeCmd(),
		newExecCmd(),
		newQueryCmd(),
		newEscalationsCmd(),
		newDecayCmd(),
		newBackupCmd(),
		newRestoreCmd(),
		newStatusCmd(),
		newMCPCmd(),
		newConfigCmd(),
	)

	return rootCmd
}

// resolveDataDir maps the --root flag onto a data directory: the project
// .rumormill/ when a root is given, the global ~/.rumormill otherwise. This
// mirrors how the MCP server resolves its scope, so the CLI and the analyst
// tools always land on the same database.
func resolveDataDir(root string) (string, error) {
	if root == "" {
		return storage.GlobalRumormillPath()
	}
	return storage.LocalRumormillPath(root), nil
}

// loadConfig loads the configuration chain and applies the per-command
// --mode and --remote overrides when the command defines them.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
		cfg.Service.Mode = mode
	}
	if remote, _ := cmd.Flags().GetString("remote"); remote != "" {
		cfg.Service.RemoteURL = remote
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// addModeFlags registers the execution mode overrides shared by every
// command that opens an executor.
func addModeFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "", "Execution mode: auto, local, or remote (overrides config)")
	cmd.Flags().String("remote", "", "Remote service URL (overrides config)")
}

// openExecutor resolves the data directory and opens an Executor in the
// configured mode. The caller owns the executor and must Close it.
func openExecutor(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (storage.Executor, constants.ExecMode, error) {
	root, _ := cmd.Flags().GetString("root")
	dataDir, err := resolveDataDir(root)
	if err != nil {
		return nil, "", err
	}
	if err := storage.EnsureDir(dataDir); err != nil {
		return nil, "", err
	}

	log := logging.NewLogger(cfg.Logging.Level, os.Stderr)
	opLog := newOperationLogger(cfg, dataDir)

	exec, mode, err := service.NewExecutor(ctx, cfg, storage.DatabasePath(dataDir), log, opLog)
	if err != nil {
		opLog.Close()
		return nil, "", err
	}
	return exec, mode, nil
}

// newOperationLogger enables the JSONL operation trace at debug level and
// below. Returns nil (a no-op logger) otherwise.
func newOperationLogger(cfg *config.Config, dataDir string) *logging.OperationLogger {
	switch cfg.Logging.Level {
	case "debug", "trace":
		return logging.NewOperationLogger(filepath.Join(dataDir, "operations.jsonl"))
	default:
		return nil
	}
}

// queryParams converts repeated --param flags into positional query
// parameters. SQLite coerces text to numeric where the column wants it, so
// string parameters are passed through as-is.
func queryParams(cmd *cobra.Command) []any {
	raw, _ := cmd.Flags().GetStringArray("param")
	params := make([]any, len(raw))
	for i, p := range raw {
		params[i] = p
	}
	return params
}
