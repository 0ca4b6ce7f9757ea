package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/rumormill/internal/backup"
	"github.com/nvandessel/rumormill/internal/models"
	"github.com/nvandessel/rumormill/internal/pathutil"
	"github.com/nvandessel/rumormill/internal/ratelimit"
	"github.com/nvandessel/rumormill/internal/storage"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000

	// defaultStaleCutoff is how long a reservation may sit RESERVED before
	// the stale tool flags it.
	defaultStaleCutoff = 10 * time.Minute
)

// registerTools registers all rumormill MCP tools with the server.
func (s *Server) registerTools() error {
	// Register rumormill_query tool
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rumormill_query",
		Description: "Run a read-only SQL query against the simulation database",
	}, s.handleQuery)

	// Register rumormill_escalations tool
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rumormill_escalations",
		Description: "List escalation rounds, optionally filtered by target post or status",
	}, s.handleEscalations)

	// Register rumormill_stale tool
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rumormill_stale",
		Description: "Find reservations stuck in RESERVED past an age cutoff (abandoned escalation work)",
	}, s.handleStale)

	// Register rumormill_stats tool
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rumormill_stats",
		Description: "Report database row counts, storage mode, and pool/queue occupancy",
	}, s.handleStats)

	// Register rumormill_backup tool
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rumormill_backup",
		Description: "Snapshot every post and escalation to a backup file",
	}, s.handleBackup)

	return nil
}

// registerResources registers MCP resources for auto-loading into context.
func (s *Server) registerResources() error {
	// Register the status resource. This gives clients a cheap overview of
	// the database without spending a tool call.
	s.server.AddResource(&sdk.Resource{
		URI:         "rumormill://status",
		Name:        "rumormill-status",
		Description: "Current database status: storage mode, row counts, and reservations needing attention.",
		MIMEType:    "text/markdown",
	}, s.handleStatusResource)

	// Register expansion resource template for per-post escalation history
	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: "rumormill://escalations/{target_id}",
		Name:        "rumormill-escalation-history",
		Description: "Full escalation history for one post, in round order. Use this when a summary row needs context.",
		MIMEType:    "text/markdown",
	}, s.handleHistoryResource)

	return nil
}

// handleStatusResource returns a markdown summary of the database for
// context injection.
func (s *Server) handleStatusResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	posts, err := s.countRow(ctx, `SELECT COUNT(*) FROM posts`)
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}
	total, err := s.countRow(ctx, `SELECT COUNT(*) FROM escalations`)
	if err != nil {
		return nil, fmt.Errorf("failed to count escalations: %w", err)
	}
	reserved, err := s.countRow(ctx,
		`SELECT COUNT(*) FROM escalations WHERE status = ?`, string(models.StatusReserved))
	if err != nil {
		return nil, fmt.Errorf("failed to count reservations: %w", err)
	}

	stale, err := s.esc.Stale(ctx, defaultStaleCutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to scan stale reservations: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Rumormill Database\n\n")
	fmt.Fprintf(&sb, "- Storage mode: %s\n", s.mode)
	fmt.Fprintf(&sb, "- Posts: %d\n", posts)
	fmt.Fprintf(&sb, "- Escalations: %d (%d still reserved)\n", total, reserved)

	if len(stale) > 0 {
		fmt.Fprintf(&sb, "\n**%d reservation(s) have been RESERVED for over %s.** ", len(stale), defaultStaleCutoff)
		sb.WriteString("These usually mean an agent claimed a round and never finished. ")
		sb.WriteString("Inspect them with the `rumormill_stale` tool.\n")
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      "rumormill://status",
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}

// handleHistoryResource returns the full escalation history for one post.
func (s *Server) handleHistoryResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	// Extract target ID from URI
	// URI format: rumormill://escalations/{target_id}
	uri := req.Params.URI
	prefix := "rumormill://escalations/"
	if !strings.HasPrefix(uri, prefix) {
		return nil, fmt.Errorf("invalid URI format: %s", uri)
	}
	targetID := strings.TrimPrefix(uri, prefix)
	if targetID == "" {
		return nil, fmt.Errorf("target ID is required")
	}

	history, err := s.esc.History(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Escalations for %s\n\n", targetID)

	if len(history) == 0 {
		sb.WriteString("No escalation rounds recorded for this post.\n")
	}
	for _, e := range history {
		fmt.Fprintf(&sb, "## Round %d: %s\n\n", e.Round, e.Status)
		fmt.Fprintf(&sb, "- Engagement at reservation: %d\n", e.EngagementAtReservation)
		if e.CreatedAt != "" {
			fmt.Fprintf(&sb, "- Reserved at: %s\n", e.CreatedAt)
		}
		if e.Status == models.StatusCommitted {
			if e.Outcome != "" {
				fmt.Fprintf(&sb, "- Outcome: %s\n", e.Outcome)
			}
			if e.CommittedAt != "" {
				fmt.Fprintf(&sb, "- Committed at: %s\n", e.CommittedAt)
			}
		}
		sb.WriteString("\n")
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      uri,
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}

// handleQuery implements the rumormill_query tool.
func (s *Server) handleQuery(ctx context.Context, req *sdk.CallToolRequest, args QueryInput) (_ *sdk.CallToolResult, _ QueryOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rumormill_query", start, retErr, sanitizeToolParams("rumormill_query", map[string]interface{}{
			"query": args.Query, "params": args.Params, "limit": args.Limit,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rumormill_query"); err != nil {
		return nil, QueryOutput{}, err
	}

	if strings.TrimSpace(args.Query) == "" {
		return nil, QueryOutput{}, fmt.Errorf("'query' parameter is required")
	}
	if err := requireReadOnly(args.Query); err != nil {
		return nil, QueryOutput{}, err
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	rs, err := s.exec.FetchMany(ctx, limit, args.Query, args.Params...)
	if err != nil {
		return nil, QueryOutput{}, fmt.Errorf("query failed: %w", err)
	}

	return nil, QueryOutput{
		Columns: rs.Columns,
		Rows:    rs.Rows,
		Count:   len(rs.Rows),
	}, nil
}

// requireReadOnly rejects anything other than a single SELECT (or WITH ...
// SELECT) statement. The analyst tools never mutate; writes belong to the
// simulation itself.
func requireReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)

	// Skip leading line comments
	for strings.HasPrefix(trimmed, "--") {
		idx := strings.IndexByte(trimmed, '\n')
		if idx < 0 {
			return fmt.Errorf("query contains only comments")
		}
		trimmed = strings.TrimSpace(trimmed[idx+1:])
	}
	if trimmed == "" {
		return fmt.Errorf("'query' parameter is required")
	}

	// One statement only: a semicolon anywhere but the tail smuggles in a
	// second statement.
	if rest := strings.TrimRight(trimmed, "; \t\r\n"); strings.ContainsRune(rest, ';') {
		return fmt.Errorf("multiple SQL statements are not allowed")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		word := trimmed
		if fields := strings.Fields(trimmed); len(fields) > 0 {
			word = fields[0]
		}
		return fmt.Errorf("only SELECT queries are allowed, got %q", word)
	}
	return nil
}

// handleEscalations implements the rumormill_escalations tool.
func (s *Server) handleEscalations(ctx context.Context, req *sdk.CallToolRequest, args EscalationsInput) (_ *sdk.CallToolResult, _ EscalationsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rumormill_escalations", start, retErr, sanitizeToolParams("rumormill_escalations", map[string]interface{}{
			"target_id": args.TargetID, "status": args.Status,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rumormill_escalations"); err != nil {
		return nil, EscalationsOutput{}, err
	}

	status := models.EscalationStatus(strings.ToUpper(strings.TrimSpace(args.Status)))
	if status != "" && status != models.StatusReserved && status != models.StatusCommitted {
		return nil, EscalationsOutput{}, fmt.Errorf("invalid status: %s (must be 'RESERVED' or 'COMMITTED')", args.Status)
	}

	var (
		rows []models.Escalation
		err  error
	)
	if args.TargetID != "" {
		rows, err = s.esc.History(ctx, args.TargetID)
	} else {
		rows, err = s.listEscalations(ctx, status)
	}
	if err != nil {
		return nil, EscalationsOutput{}, fmt.Errorf("failed to list escalations: %w", err)
	}

	summaries := make([]EscalationSummary, 0, len(rows))
	for _, e := range rows {
		if status != "" && e.Status != status {
			continue
		}
		summaries = append(summaries, escalationSummary(e))
	}

	return nil, EscalationsOutput{
		Escalations: summaries,
		Count:       len(summaries),
	}, nil
}

// listEscalations fetches every escalation row, optionally filtered by status.
func (s *Server) listEscalations(ctx context.Context, status models.EscalationStatus) ([]models.Escalation, error) {
	query := `SELECT target_id, round, status, engagement_at_reservation, outcome, created_at, committed_at
		FROM escalations`
	var params []any
	if status != "" {
		query += ` WHERE status = ?`
		params = append(params, string(status))
	}
	query += ` ORDER BY target_id, round`

	rs, err := s.exec.FetchAll(ctx, query, params...)
	if err != nil {
		return nil, err
	}

	out := make([]models.Escalation, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		e, err := models.EscalationFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func escalationSummary(e models.Escalation) EscalationSummary {
	return EscalationSummary{
		TargetID:                e.TargetID,
		Round:                   e.Round,
		Status:                  string(e.Status),
		EngagementAtReservation: e.EngagementAtReservation,
		Outcome:                 e.Outcome,
		CreatedAt:               e.CreatedAt,
		CommittedAt:             e.CommittedAt,
	}
}

// handleStale implements the rumormill_stale tool.
func (s *Server) handleStale(ctx context.Context, req *sdk.CallToolRequest, args StaleInput) (_ *sdk.CallToolResult, _ StaleOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rumormill_stale", start, retErr, sanitizeToolParams("rumormill_stale", map[string]interface{}{
			"older_than": args.OlderThan,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rumormill_stale"); err != nil {
		return nil, StaleOutput{}, err
	}

	olderThan := defaultStaleCutoff
	if args.OlderThan != "" {
		d, err := backup.ParseDuration(args.OlderThan)
		if err != nil {
			return nil, StaleOutput{}, fmt.Errorf("invalid older_than: %w", err)
		}
		olderThan = d
	}

	rows, err := s.esc.Stale(ctx, olderThan)
	if err != nil {
		return nil, StaleOutput{}, fmt.Errorf("failed to scan stale reservations: %w", err)
	}

	summaries := make([]EscalationSummary, 0, len(rows))
	for _, e := range rows {
		summaries = append(summaries, escalationSummary(e))
	}

	message := fmt.Sprintf("No reservations stuck in RESERVED for more than %s", olderThan)
	if len(summaries) > 0 {
		message = fmt.Sprintf("%d reservation(s) stuck in RESERVED for more than %s; the work that claimed them likely failed", len(summaries), olderThan)
	}

	return nil, StaleOutput{
		Reservations: summaries,
		Count:        len(summaries),
		Message:      message,
	}, nil
}

// handleStats implements the rumormill_stats tool.
func (s *Server) handleStats(ctx context.Context, req *sdk.CallToolRequest, args StatsInput) (_ *sdk.CallToolResult, _ StatsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rumormill_stats", start, retErr, nil)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rumormill_stats"); err != nil {
		return nil, StatsOutput{}, err
	}

	out := StatsOutput{Mode: s.mode.String()}

	var err error
	if out.Posts, err = s.countRow(ctx, `SELECT COUNT(*) FROM posts`); err != nil {
		return nil, StatsOutput{}, fmt.Errorf("failed to count posts: %w", err)
	}
	if out.Escalations, err = s.countRow(ctx, `SELECT COUNT(*) FROM escalations`); err != nil {
		return nil, StatsOutput{}, fmt.Errorf("failed to count escalations: %w", err)
	}
	if out.Reserved, err = s.countRow(ctx,
		`SELECT COUNT(*) FROM escalations WHERE status = ?`, string(models.StatusReserved)); err != nil {
		return nil, StatsOutput{}, fmt.Errorf("failed to count reserved: %w", err)
	}
	if out.Committed, err = s.countRow(ctx,
		`SELECT COUNT(*) FROM escalations WHERE status = ?`, string(models.StatusCommitted)); err != nil {
		return nil, StatsOutput{}, fmt.Errorf("failed to count committed: %w", err)
	}
	if out.SchemaVersion, err = s.countRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return nil, StatsOutput{}, fmt.Errorf("failed to read schema version: %w", err)
	}

	// Pool and queue occupancy only exist on the local store; in remote mode
	// they belong to the service process, not this one.
	if store, ok := s.exec.(*storage.Store); ok {
		stats := store.Stats()
		out.Path = store.Path()
		out.PoolOpen = stats.Pool.Open
		out.PoolInUse = stats.Pool.InUse
		out.QueueDepth = stats.QueueDepth
		out.QueueCap = stats.QueueCap
	}

	return nil, out, nil
}

// countRow runs a single-value aggregate query and returns it as int64.
func (s *Server) countRow(ctx context.Context, query string, params ...any) (int64, error) {
	row, err := s.exec.FetchOne(ctx, query, params...)
	if err != nil {
		return 0, err
	}
	if len(row) == 0 || row[0] == nil {
		return 0, nil
	}
	return models.AsInt64(row[0]), nil
}

// handleBackup implements the rumormill_backup tool.
func (s *Server) handleBackup(ctx context.Context, req *sdk.CallToolRequest, args BackupInput) (_ *sdk.CallToolResult, _ BackupOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rumormill_backup", start, retErr, sanitizeToolParams("rumormill_backup", map[string]interface{}{
			"path": args.Path, "plain": args.Plain,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rumormill_backup"); err != nil {
		return nil, BackupOutput{}, err
	}

	outputPath := args.Path
	if outputPath == "" {
		// Default path -- controlled by us, no validation needed
		dir := backup.DefaultDir(s.dataDir)
		if err := storage.EnsureDir(dir); err != nil {
			return nil, BackupOutput{}, err
		}
		outputPath = backup.GeneratePath(dir)
	} else {
		// User-specified path -- validate against allowed directories
		allowedDirs, err := pathutil.AllowedSnapshotDirs(s.root)
		if err != nil {
			return nil, BackupOutput{}, fmt.Errorf("failed to determine allowed backup dirs: %w", err)
		}
		if err := pathutil.ValidatePath(outputPath, allowedDirs); err != nil {
			return nil, BackupOutput{}, fmt.Errorf("backup path rejected: %w", err)
		}
		if err := storage.EnsureDir(filepath.Dir(outputPath)); err != nil {
			return nil, BackupOutput{}, err
		}
	}

	snap, err := backup.Snapshot(ctx, s.exec, outputPath, args.Plain)
	if err != nil {
		return nil, BackupOutput{}, fmt.Errorf("backup failed: %w", err)
	}

	// Apply retention policy
	if _, err := backup.ApplyRetention(filepath.Dir(outputPath), s.retention); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to apply retention: %v\n", err)
	}

	return nil, BackupOutput{
		Path:        outputPath,
		Posts:       len(snap.Posts),
		Escalations: len(snap.Escalations),
		Message:     fmt.Sprintf("Snapshot created: %d posts, %d escalations → %s", len(snap.Posts), len(snap.Escalations), outputPath),
	}, nil
}
