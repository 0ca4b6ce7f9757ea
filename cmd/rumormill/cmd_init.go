package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/rumormill/internal/config"
	"github.com/nvandessel/rumormill/internal/logging"
	"github.com/nvandessel/rumormill/internal/service"
	"github.com/nvandessel/rumormill/internal/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a rumormill data directory",
		Long: `Create the data directory, apply the database schema, and write a
default config.yaml if none exists.

With --root the directory is <root>/.rumormill; without it the global
~/.rumormill is initialized. Only the global config.yaml is loaded
automatically; a local copy documents the available settings.

Examples:
  rumormill init                 # global ~/.rumormill
  rumormill init --root ./sim    # ./sim/.rumormill`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")

			dataDir, err := resolveDataDir(root)
			if err != nil {
				return err
			}
			if err := storage.EnsureDir(dataDir); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			// Opening the store applies the schema.
			log := logging.NewLogger(cfg.Logging.Level, os.Stderr)
			store, err := service.OpenStore(cmd.Context(), cfg, storage.DatabasePath(dataDir), log, nil)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			dbPath := store.Path()
			if err := store.Close(); err != nil {
				return err
			}

			configPath := filepath.Join(dataDir, "config.yaml")
			configCreated := false
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				data, err := yaml.Marshal(config.Default())
				if err != nil {
					return fmt.Errorf("failed to marshal default config: %w", err)
				}
				header := []byte("# rumormill configuration\n# Settings here are overridden by RUMORMILL_* environment variables.\n")
				if err := os.WriteFile(configPath, append(header, data...), 0644); err != nil {
					return fmt.Errorf("failed to create config.yaml: %w", err)
				}
				configCreated = true
			}

			scope := "local"
			if root == "" {
				scope = "global"
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"status":         "initialized",
					"path":           dataDir,
					"database":       dbPath,
					"scope":          scope,
					"config_created": configCreated,
				})
			}

			if scope == "global" {
				fmt.Printf("Initialized global .rumormill/ at %s\n", dataDir)
			} else {
				fmt.Printf("Initialized .rumormill/ in %s\n", root)
			}
			fmt.Printf("  Database: %s\n", dbPath)
			if configCreated {
				fmt.Printf("  Config:   %s\n", configPath)
			}
			return nil
		},
	}

	return cmd
}
