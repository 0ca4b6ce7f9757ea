package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nvandessel/rumormill/internal/decay"
	"github.com/nvandessel/rumormill/internal/logging"
	"github.com/nvandessel/rumormill/internal/service"
	"github.com/nvandessel/rumormill/internal/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the delegation service that owns the database",
		Long: `Serve the database over HTTP so that other processes delegate their
operations here instead of opening the SQLite file themselves. This is what
keeps the single-writer guarantee intact across process boundaries: one
serve process, one writer.

The service exposes /execute, /executemany, /transaction, /health, /stats,
and prometheus metrics on /metrics. When decay is enabled the engagement
decay loop runs in the same process.

Examples:
  rumormill serve
  rumormill serve --listen :9090 --decay`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			listenAddr, _ := cmd.Flags().GetString("listen")
			decayFlag, _ := cmd.Flags().GetBool("decay")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Service.ListenAddr = listenAddr
			}

			log := logging.NewLogger(cfg.Logging.Level, os.Stderr)

			dataDir, err := resolveDataDir(root)
			if err != nil {
				return err
			}
			if err := storage.EnsureDir(dataDir); err != nil {
				return err
			}
			opLog := newOperationLogger(cfg, dataDir)
			defer opLog.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			store, err := service.OpenStore(ctx, cfg, storage.DatabasePath(dataDir), log, opLog)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer store.Close()

			srv := service.NewServer(store, cfg.Service, log)

			if cfg.Decay.Enabled || decayFlag {
				job := decay.NewJob(store, decay.Options{
					Interval: cfg.Decay.Interval,
					Factor:   cfg.Decay.Factor,
					Logger:   log,
				})
				job.Start()
				defer job.Stop()
				log.Info("decay loop running", "interval", cfg.Decay.Interval, "factor", cfg.Decay.Factor)
			}

			sigCh := make(chan os.Signal, 1)
			notifySignals(sigCh)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(ctx)
			})
			g.Go(func() error {
				select {
				case sig := <-sigCh:
					log.Info("received signal, shutting down", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
				return nil
			})

			return g.Wait()
		},
	}

	cmd.Flags().String("listen", "", "Listen address (overrides config)")
	cmd.Flags().Bool("decay", false, "Run the engagement decay loop even when disabled in config")

	return cmd
}
