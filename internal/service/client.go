package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nvandessel/rumormill/internal/constants"
	"github.com/nvandessel/rumormill/internal/storage"
)

// Client implements storage.Executor against a remote delegation service.
// Errors are rebuilt from the wire envelope into the same types the local
// Store returns, so callers cannot distinguish the two modes by error shape.
// Numeric values decode as float64 over JSON; read them through
// models.AsInt64 and friends.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

var _ storage.Executor = (*Client)(nil)

// NewClient builds a client for the service at baseURL. A zero timeout takes
// the default request timeout.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Execute runs one mutating statement on the remote service.
func (c *Client) Execute(ctx context.Context, query string, params ...any) (storage.ExecResult, error) {
	resp, err := c.post(ctx, "/execute", query, ExecuteRequest{Query: query, Params: params})
	if err != nil {
		return storage.ExecResult{}, err
	}
	return storage.ExecResult{
		RowsAffected: resp.AffectedRows,
		LastInsertID: resp.LastRowID,
	}, nil
}

// ExecuteMany runs query once per batch row inside one remote transaction.
func (c *Client) ExecuteMany(ctx context.Context, query string, batch [][]any) (storage.ManyResult, error) {
	resp, err := c.post(ctx, "/executemany", query, ExecuteManyRequest{Query: query, Batch: batch})
	if err != nil {
		return storage.ManyResult{}, err
	}
	return storage.ManyResult{
		ExecResult: storage.ExecResult{
			RowsAffected: resp.AffectedRows,
			LastInsertID: resp.LastRowID,
		},
		RowCounts: resp.RowCounts,
	}, nil
}

// FetchOne returns the first matching row, or nil when there is none.
func (c *Client) FetchOne(ctx context.Context, query string, params ...any) ([]any, error) {
	resp, err := c.post(ctx, "/execute", query, ExecuteRequest{Query: query, Params: params, Fetch: "one"})
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, nil
	}
	row, ok := resp.Data.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected row payload %T", resp.Data)
	}
	return row, nil
}

// FetchMany returns at most limit matching rows.
func (c *Client) FetchMany(ctx context.Context, limit int, query string, params ...any) (storage.ResultSet, error) {
	resp, err := c.post(ctx, "/execute", query, ExecuteRequest{Query: query, Params: params, Fetch: "many", Limit: limit})
	if err != nil {
		return storage.ResultSet{}, err
	}
	return resultSetFrom(resp)
}

// FetchAll returns every matching row.
func (c *Client) FetchAll(ctx context.Context, query string, params ...any) (storage.ResultSet, error) {
	resp, err := c.post(ctx, "/execute", query, ExecuteRequest{Query: query, Params: params, Fetch: "all"})
	if err != nil {
		return storage.ResultSet{}, err
	}
	return resultSetFrom(resp)
}

// Transaction runs the statements atomically on the remote service.
func (c *Client) Transaction(ctx context.Context, stmts []storage.Statement) ([]storage.ExecResult, error) {
	query := ""
	if len(stmts) > 0 {
		query = stmts[0].Query
	}
	resp, err := c.post(ctx, "/transaction", query, TransactionRequest{Statements: stmts})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Health probes GET /health. A nil return means the service answers and its
// database serves queries.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", storage.ErrConnectionUnavailable, err)
	}
	defer httpResp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&health); err != nil {
		return fmt.Errorf("%w: invalid health response", storage.ErrConnectionUnavailable)
	}
	if httpResp.StatusCode != http.StatusOK || health.Status != "ok" {
		return fmt.Errorf("%w: service reports %q", storage.ErrConnectionUnavailable, health.Status)
	}
	return nil
}

// Close releases idle connections. The remote store stays up; its lifecycle
// belongs to the serving process.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// post sends body to path and decodes the envelope. The query is threaded
// through for error reconstruction only.
func (c *Client) post(ctx context.Context, path, query string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", storage.ErrConnectionUnavailable, err)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: invalid response (status %d)", storage.ErrConnectionUnavailable, httpResp.StatusCode)
	}
	if !resp.Success {
		return nil, reconstructError(query, &resp)
	}
	return &resp, nil
}

// reconstructError rebuilds the typed error a local Store would have
// returned from the wire envelope.
func reconstructError(query string, resp *Response) error {
	base := errors.New(resp.Error)
	switch resp.Type {
	case "integrity":
		return &storage.IntegrityError{
			Query:        query,
			Relationship: resp.Relationship,
			Err:          base,
		}
	case "retry_exhausted":
		return &storage.RetryExhaustedError{
			Attempts: resp.Attempts,
			Last:     base,
		}
	case "closed":
		return storage.ErrQueueClosed
	case "unavailable":
		return storage.ErrConnectionUnavailable
	case "timeout":
		return storage.ErrAcquireTimeout
	default:
		return base
	}
}

func resultSetFrom(resp *Response) (storage.ResultSet, error) {
	rs := storage.ResultSet{Columns: resp.Columns}
	if resp.Data == nil {
		return rs, nil
	}
	raw, ok := resp.Data.([]any)
	if !ok {
		return storage.ResultSet{}, fmt.Errorf("unexpected rows payload %T", resp.Data)
	}
	rs.Rows = make([][]any, 0, len(raw))
	for _, r := range raw {
		row, ok := r.([]any)
		if !ok {
			return storage.ResultSet{}, fmt.Errorf("unexpected row payload %T", r)
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}
