package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/nvandessel/rumormill/internal/backup"
	"github.com/nvandessel/rumormill/internal/escalation"
	"github.com/nvandessel/rumormill/internal/models"
	"github.com/spf13/cobra"
)

func newEscalationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "List escalation reservations and commits",
		Long: `Show the escalation audit trail: which rounds were reserved, at what
engagement, and what outcome was committed.

--stale lists RESERVED rows older than a duration, which usually means an
agent claimed a round and then crashed before committing.

Examples:
  rumormill escalations
  rumormill escalations --target p1
  rumormill escalations --status reserved
  rumormill escalations --stale 30m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			target, _ := cmd.Flags().GetString("target")
			staleStr, _ := cmd.Flags().GetString("stale")
			status, _ := cmd.Flags().GetString("status")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			exec, _, err := openExecutor(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			defer exec.Close()

			mgr := escalation.NewManager(exec, escalation.Options{
				InitialThreshold: cfg.Escalation.InitialThreshold,
				Interval:         cfg.Escalation.Interval,
			})

			var escalations []models.Escalation
			switch {
			case staleStr != "":
				cutoff, err := backup.ParseDuration(staleStr)
				if err != nil {
					return fmt.Errorf("invalid --stale duration: %w", err)
				}
				escalations, err = mgr.Stale(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
			case target != "":
				escalations, err = mgr.History(cmd.Context(), target)
				if err != nil {
					return err
				}
			default:
				rs, err := exec.FetchAll(cmd.Context(),
					`SELECT target_id, round, status, engagement_at_reservation, outcome, created_at, committed_at
					 FROM escalations ORDER BY target_id, round`)
				if err != nil {
					return err
				}
				for _, row := range rs.Rows {
					e, err := models.EscalationFromRow(row)
					if err != nil {
						return err
					}
					escalations = append(escalations, e)
				}
			}

			if status != "" {
				want := models.EscalationStatus(strings.ToUpper(status))
				if want != models.StatusReserved && want != models.StatusCommitted {
					return fmt.Errorf("invalid status %q (valid: reserved, committed)", status)
				}
				filtered := escalations[:0]
				for _, e := range escalations {
					if e.Status == want {
						filtered = append(filtered, e)
					}
				}
				escalations = filtered
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"escalations": escalations,
					"count":       len(escalations),
				})
			}

			if len(escalations) == 0 {
				fmt.Println("No escalations found.")
				return nil
			}
			for _, e := range escalations {
				line := fmt.Sprintf("%s round %d  %s  engagement=%d", e.TargetID, e.Round, e.Status, e.EngagementAtReservation)
				if e.Outcome != "" {
					line += fmt.Sprintf("  outcome=%s", e.Outcome)
				}
				if e.CreatedAt != "" {
					line += fmt.Sprintf("  reserved=%s", e.CreatedAt)
				}
				fmt.Println(line)
			}
			fmt.Printf("(%d escalations)\n", len(escalations))
			return nil
		},
	}

	cmd.Flags().String("target", "", "Only escalations for this post ID")
	cmd.Flags().String("stale", "", "Only RESERVED rows older than this duration (e.g. 30m, 2d)")
	cmd.Flags().String("status", "", "Filter by status: reserved or committed")
	addModeFlags(cmd)

	return cmd
}
