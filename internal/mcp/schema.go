// Package mcp provides an MCP (Model Context Protocol) server exposing
// read-only analyst tools over a rumormill database.
package mcp

// QueryInput defines the input for the rumormill_query tool.
type QueryInput struct {
	Query  string `json:"query" jsonschema:"SQL SELECT statement to run"`
	Params []any  `json:"params,omitempty" jsonschema:"Positional parameters for the query"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum rows to return (default 100, capped at 1000)"`
}

// QueryOutput defines the output for the rumormill_query tool.
type QueryOutput struct {
	Columns []string `json:"columns" jsonschema:"Result column names"`
	Rows    [][]any  `json:"rows" jsonschema:"Result rows in column order"`
	Count   int      `json:"count" jsonschema:"Number of rows returned"`
}

// EscalationsInput defines the input for the rumormill_escalations tool.
type EscalationsInput struct {
	TargetID string `json:"target_id,omitempty" jsonschema:"Limit results to a single post ID"`
	Status   string `json:"status,omitempty" jsonschema:"Filter by status: RESERVED or COMMITTED"`
}

// EscalationsOutput defines the output for the rumormill_escalations tool.
type EscalationsOutput struct {
	Escalations []EscalationSummary `json:"escalations" jsonschema:"Matching escalation rows"`
	Count       int                 `json:"count" jsonschema:"Number of rows"`
}

// EscalationSummary provides a list view of an escalation row.
type EscalationSummary struct {
	TargetID                string `json:"target_id"`
	Round                   int64  `json:"round"`
	Status                  string `json:"status"`
	EngagementAtReservation int64  `json:"engagement_at_reservation"`
	Outcome                 string `json:"outcome,omitempty"`
	CreatedAt               string `json:"created_at"`
	CommittedAt             string `json:"committed_at,omitempty"`
}

// StaleInput defines the input for the rumormill_stale tool.
type StaleInput struct {
	OlderThan string `json:"older_than,omitempty" jsonschema:"Age cutoff as a duration (e.g. '10m'; '1h'; '2d'; default 10m)"`
}

// StaleOutput defines the output for the rumormill_stale tool.
type StaleOutput struct {
	Reservations []EscalationSummary `json:"reservations" jsonschema:"Reservations still RESERVED past the cutoff"`
	Count        int                 `json:"count" jsonschema:"Number of stale reservations"`
	Message      string              `json:"message" jsonschema:"Human-readable summary"`
}

// StatsInput defines the input for the rumormill_stats tool.
type StatsInput struct{}

// StatsOutput defines the output for the rumormill_stats tool.
type StatsOutput struct {
	Mode          string `json:"mode" jsonschema:"Storage mode in effect (local or remote)"`
	Path          string `json:"path,omitempty" jsonschema:"Database file path (local mode only)"`
	Posts         int64  `json:"posts" jsonschema:"Number of posts"`
	Escalations   int64  `json:"escalations" jsonschema:"Total escalation rows"`
	Reserved      int64  `json:"reserved" jsonschema:"Escalations still RESERVED"`
	Committed     int64  `json:"committed" jsonschema:"Escalations marked COMMITTED"`
	SchemaVersion int64  `json:"schema_version" jsonschema:"Applied schema version"`
	PoolOpen      int    `json:"pool_open,omitempty" jsonschema:"Open pool connections (local mode only)"`
	PoolInUse     int    `json:"pool_in_use,omitempty" jsonschema:"Borrowed pool connections (local mode only)"`
	QueueDepth    int    `json:"queue_depth,omitempty" jsonschema:"Writes waiting in the serializer queue (local mode only)"`
	QueueCap      int    `json:"queue_cap,omitempty" jsonschema:"Serializer queue capacity (local mode only)"`
}

// BackupInput defines the input for the rumormill_backup tool.
type BackupInput struct {
	Path  string `json:"path,omitempty" jsonschema:"Destination file (default: a timestamped file under the backups directory)"`
	Plain bool   `json:"plain,omitempty" jsonschema:"Write plain JSON instead of the compressed checksummed format"`
}

// BackupOutput defines the output for the rumormill_backup tool.
type BackupOutput struct {
	Path        string `json:"path" jsonschema:"Path the snapshot was written to"`
	Posts       int    `json:"posts" jsonschema:"Posts captured in the snapshot"`
	Escalations int    `json:"escalations" jsonschema:"Escalations captured in the snapshot"`
	Message     string `json:"message" jsonschema:"Human-readable result message"`
}
