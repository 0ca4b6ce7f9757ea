// Package service provides the database delegation facade: an HTTP service
// that owns the local Store, a client that implements the same Executor
// interface over the wire, and the mode selection that picks between them at
// construction time.
package service

import (
	"errors"
	"net/http"

	"github.com/nvandessel/rumormill/internal/storage"
)

// ExecuteRequest is the body of POST /execute. Fetch selects read behavior:
// empty runs the query as a write, "one" returns the first row, "many"
// returns at most Limit rows, "all" returns every row.
type ExecuteRequest struct {
	Query  string `json:"query" binding:"required"`
	Params []any  `json:"params,omitempty"`
	Fetch  string `json:"fetch,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ExecuteManyRequest is the body of POST /executemany: one query run once
// per parameter row inside a single transaction.
type ExecuteManyRequest struct {
	Query string  `json:"query" binding:"required"`
	Batch [][]any `json:"batch"`
}

// TransactionRequest is the body of POST /transaction.
type TransactionRequest struct {
	Statements []storage.Statement `json:"statements" binding:"required"`
}

// Response is the envelope every data endpoint returns. On failure, Error
// carries the underlying message and Type the error taxonomy entry;
// Relationship and Attempts carry the structured fields the client needs to
// rebuild the typed error.
type Response struct {
	Success      bool                 `json:"success"`
	Data         any                  `json:"data,omitempty"`
	Columns      []string             `json:"columns,omitempty"`
	AffectedRows int64                `json:"affected_rows"`
	LastRowID    int64                `json:"lastrowid"`
	RowCounts    []int64              `json:"row_counts,omitempty"`
	Results      []storage.ExecResult `json:"results,omitempty"`
	Error        string               `json:"error,omitempty"`
	Type         string               `json:"type,omitempty"`
	Relationship string               `json:"relationship,omitempty"`
	Attempts     int                  `json:"attempts,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	Error         string `json:"error,omitempty"`
}

// errorResponse maps err onto the wire envelope. Typed errors are unwrapped
// so the client can reconstruct them with the same message the local mode
// would have produced.
func errorResponse(err error) Response {
	resp := Response{
		Success: false,
		Error:   err.Error(),
		Type:    storage.ErrorType(err),
	}

	var ie *storage.IntegrityError
	if errors.As(err, &ie) {
		resp.Error = ie.Err.Error()
		resp.Relationship = ie.Relationship
		return resp
	}

	var re *storage.RetryExhaustedError
	if errors.As(err, &re) {
		resp.Error = re.Last.Error()
		resp.Attempts = re.Attempts
	}
	return resp
}

// statusFor maps an error taxonomy entry onto an HTTP status code.
func statusFor(errType string) int {
	switch errType {
	case "integrity":
		return http.StatusConflict
	case "busy", "unavailable", "closed", "retry_exhausted":
		return http.StatusServiceUnavailable
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}
