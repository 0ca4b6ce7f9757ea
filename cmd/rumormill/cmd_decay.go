package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nvandessel/rumormill/internal/decay"
	"github.com/nvandessel/rumormill/internal/logging"
	"github.com/spf13/cobra"
)

func newDecayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Run one engagement decay cycle",
		Long: `Multiply every post's engagement by the decay factor, once. The serve
process runs this on an interval when decay is enabled; this command is the
manual equivalent for paused or offline simulations.

Examples:
  rumormill decay
  rumormill decay --factor 0.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			factor, _ := cmd.Flags().GetFloat64("factor")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if factor == 0 {
				factor = cfg.Decay.Factor
			}
			if factor <= 0 || factor > 1 {
				return fmt.Errorf("decay factor must be in (0, 1], got %g", factor)
			}

			exec, _, err := openExecutor(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer exec.Close()

			job := decay.NewJob(exec, decay.Options{
				Factor: factor,
				Logger: logging.NewLogger(cfg.Logging.Level, os.Stderr),
			})
			affected, err := job.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("decay cycle failed: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"affected_rows": affected,
					"factor":        factor,
				})
			}

			fmt.Printf("Decayed %d post(s) by factor %g\n", affected, factor)
			return nil
		},
	}

	cmd.Flags().Float64("factor", 0, "Decay multiplier in (0, 1] (overrides config)")
	addModeFlags(cmd)

	return cmd
}
