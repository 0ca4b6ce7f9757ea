package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nvandessel/rumormill/internal/config"
	"github.com/nvandessel/rumormill/internal/constants"
	"github.com/nvandessel/rumormill/internal/logging"
	"github.com/nvandessel/rumormill/internal/schema"
	"github.com/nvandessel/rumormill/internal/storage"
)

// NewExecutor picks the execution mode once and returns the matching
// Executor. "local" opens the embedded store, "remote" requires a healthy
// service and fails hard otherwise, and "auto" probes the configured remote
// and falls back to local when it does not answer. After construction the
// mode never changes; callers hold a plain Executor and cannot tell which
// side they got.
func NewExecutor(ctx context.Context, cfg *config.Config, dbPath string, log *slog.Logger, opLog *logging.OperationLogger) (storage.Executor, constants.ExecMode, error) {
	if log == nil {
		log = slog.Default()
	}
	mode := constants.ExecMode(cfg.Service.Mode)
	if !mode.Valid() {
		return nil, "", fmt.Errorf("invalid execution mode: %s", cfg.Service.Mode)
	}

	switch mode {
	case constants.ModeLocal:
		exec, err := openLocal(ctx, cfg, dbPath, log, opLog)
		return exec, constants.ModeLocal, err

	case constants.ModeRemote:
		client := NewClient(cfg.Service.RemoteURL, cfg.Service.RequestTimeout, log)
		if err := probe(ctx, client, cfg); err != nil {
			return nil, "", fmt.Errorf("remote service at %s is not healthy: %w", cfg.Service.RemoteURL, err)
		}
		log.Info("using remote storage", "url", cfg.Service.RemoteURL)
		return client, constants.ModeRemote, nil

	default: // auto
		if cfg.Service.RemoteURL == "" {
			exec, err := openLocal(ctx, cfg, dbPath, log, opLog)
			return exec, constants.ModeLocal, err
		}
		client := NewClient(cfg.Service.RemoteURL, cfg.Service.RequestTimeout, log)
		probeErr := probe(ctx, client, cfg)
		if probeErr == nil {
			log.Info("using remote storage", "url", cfg.Service.RemoteURL)
			return client, constants.ModeRemote, nil
		}
		log.Warn("remote service unreachable, falling back to local storage",
			"url", cfg.Service.RemoteURL,
			"error", probeErr)
		exec, err := openLocal(ctx, cfg, dbPath, log, opLog)
		return exec, constants.ModeLocal, err
	}
}

// OpenStore opens the local store with the schema applied. The serve command
// uses this directly since the service always owns a local store.
func OpenStore(ctx context.Context, cfg *config.Config, dbPath string, log *slog.Logger, opLog *logging.OperationLogger) (*storage.Store, error) {
	opts := cfg.StorageOptions()
	opts.RelationshipHints = schema.RelationshipHints()
	opts.Logger = log
	opts.OperationLog = opLog

	store, err := storage.Open(dbPath, opts)
	if err != nil {
		return nil, err
	}
	if err := schema.Apply(ctx, store); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return store, nil
}

func openLocal(ctx context.Context, cfg *config.Config, dbPath string, log *slog.Logger, opLog *logging.OperationLogger) (storage.Executor, error) {
	store, err := OpenStore(ctx, cfg, dbPath, log, opLog)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func probe(ctx context.Context, client *Client, cfg *config.Config) error {
	timeout := cfg.Service.HealthTimeout
	if timeout <= 0 {
		timeout = constants.DefaultHealthTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.Health(probeCtx)
}
