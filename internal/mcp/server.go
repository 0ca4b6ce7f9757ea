package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/rumormill/internal/backup"
	"github.com/nvandessel/rumormill/internal/config"
	"github.com/nvandessel/rumormill/internal/constants"
	"github.com/nvandessel/rumormill/internal/escalation"
	"github.com/nvandessel/rumormill/internal/logging"
	"github.com/nvandessel/rumormill/internal/ratelimit"
	"github.com/nvandessel/rumormill/internal/service"
	"github.com/nvandessel/rumormill/internal/storage"
)

// Server wraps the MCP SDK server and exposes rumormill analyst tools.
type Server struct {
	server       *sdk.Server
	exec         storage.Executor
	esc          *escalation.Manager
	mode         constants.ExecMode
	root         string
	dataDir      string
	scope        string // routes audit entries to the local or global log
	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
	retention    backup.RetentionPolicy
	log          *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Name     string         // Server name (e.g., "rumormill")
	Version  string         // Server version
	Root     string         // Simulation root; empty targets the global ~/.rumormill database
	Settings *config.Config // nil loads the standard configuration chain
}

// NewServer creates a new MCP server with rumormill analyst tools.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("loading configuration: %w", err)
		}
		settings = loaded
	}

	// stdout carries the MCP transport, so all logging goes to stderr.
	log := logging.NewLogger(settings.Logging.Level, os.Stderr)

	dataDir := ""
	scope := "local"
	if cfg.Root != "" {
		dataDir = storage.LocalRumormillPath(cfg.Root)
	} else {
		globalDir, err := storage.GlobalRumormillPath()
		if err != nil {
			return nil, err
		}
		dataDir = globalDir
		scope = "global"
	}
	if err := storage.EnsureDir(dataDir); err != nil {
		return nil, err
	}

	exec, mode, err := service.NewExecutor(context.Background(), settings, storage.DatabasePath(dataDir), log, nil)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	esc := escalation.NewManager(exec, escalation.Options{
		InitialThreshold: settings.Escalation.InitialThreshold,
		Interval:         settings.Escalation.Interval,
		Logger:           log,
	})

	// Create MCP server
	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			// Client initialized, ready to serve
		},
	})

	home, _ := os.UserHomeDir()

	keep := settings.Backup.Keep
	if keep < 1 {
		keep = constants.MaxBackupRotation
	}

	s := &Server{
		server:       mcpServer,
		exec:         exec,
		esc:          esc,
		mode:         mode,
		root:         cfg.Root,
		dataDir:      dataDir,
		scope:        scope,
		toolLimiters: ratelimit.NewToolLimiters(),
		auditLogger:  NewAuditLogger(cfg.Root, home),
		retention:    &backup.CountPolicy{MaxCount: keep},
		log:          log,
	}

	// Register tools
	if err := s.registerTools(); err != nil {
		exec.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	// Register resources for auto-loading into context
	if err := s.registerResources(); err != nil {
		exec.Close()
		return nil, fmt.Errorf("failed to register resources: %w", err)
	}

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle OS signals
	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)

	go func() {
		<-sigChan
		cancel()
	}()

	// Run server (blocks)
	err := s.server.Run(ctx, &sdk.StdioTransport{})

	// Clean up
	s.exec.Close()

	return err
}

// Close closes the server and releases resources.
func (s *Server) Close() error {
	err := s.exec.Close()
	if aerr := s.auditLogger.Close(); aerr != nil && err == nil {
		err = aerr
	}
	return err
}
