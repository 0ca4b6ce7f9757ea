package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/rumormill/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after the full resolution chain:
defaults -> ~/.rumormill/config.yaml -> RUMORMILL_* environment variables.

Output is YAML by default, JSON with --json.

Examples:
  rumormill config
  rumormill config --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: configuration is invalid: %v\n", err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(cfg)
			}

			if homeDir, err := os.UserHomeDir(); err == nil {
				configPath := filepath.Join(homeDir, ".rumormill", "config.yaml")
				if _, err := os.Stat(configPath); err == nil {
					fmt.Printf("# loaded from %s\n", configPath)
				} else {
					fmt.Printf("# defaults (no %s)\n", configPath)
				}
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}

	return cmd
}
