package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/rumormill/internal/constants"
	"github.com/nvandessel/rumormill/internal/logging"
)

// Options configures a Store. Zero fields take defaults.
type Options struct {
	PoolMax           int
	AcquireTimeout    time.Duration
	BusyTimeout       time.Duration
	QueueSize         int
	Retry             RetryPolicy
	RelationshipHints map[string]string
	Logger            *slog.Logger
	OperationLog      *logging.OperationLogger
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		PoolMax:        constants.DefaultPoolMax,
		AcquireTimeout: constants.DefaultAcquireTimeout,
		BusyTimeout:    constants.DefaultBusyTimeout,
		QueueSize:      constants.DefaultQueueSize,
		Retry:          DefaultRetryPolicy(),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.PoolMax <= 0 {
		o.PoolMax = def.PoolMax
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = def.AcquireTimeout
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = def.BusyTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = def.QueueSize
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if o.Retry.BaseDelay <= 0 {
		o.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if o.Retry.MaxDelay <= 0 {
		o.Retry.MaxDelay = def.Retry.MaxDelay
	}
	if o.Logger == nil {
		o.Logger = discardLogger()
	}
	return o
}

// Store is the local Executor: mutations flow through the single-writer
// serializer, reads are served directly by pooled connections. WAL mode
// lets readers run concurrently with the writer.
type Store struct {
	path  string
	pool  *Pool
	ser   *Serializer
	retry RetryPolicy
	hints map[string]string
	log   *slog.Logger
	opLog *logging.OperationLogger
}

var _ Executor = (*Store)(nil)

// Open creates the database's parent directory if needed and returns a
// ready Store. The file itself opens lazily on first use.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	opts = opts.withDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	pool, err := NewPool(path, opts.PoolMax, opts.AcquireTimeout, opts.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return &Store{
		path:  path,
		pool:  pool,
		ser:   NewSerializer(pool, opts),
		retry: opts.Retry,
		hints: opts.RelationshipHints,
		log:   opts.Logger,
		opLog: opts.OperationLog,
	}, nil
}

// Execute runs one mutating statement through the serializer.
func (s *Store) Execute(ctx context.Context, query string, params ...any) (ExecResult, error) {
	v, err := s.ser.Submit(ctx, NewExecute(query, params...))
	if err != nil {
		return ExecResult{}, err
	}
	res, ok := v.(ExecResult)
	if !ok {
		return ExecResult{}, fmt.Errorf("unexpected result type %T", v)
	}
	return res, nil
}

// ExecuteMany runs query once per parameter row inside one transaction.
func (s *Store) ExecuteMany(ctx context.Context, query string, batch [][]any) (ManyResult, error) {
	v, err := s.ser.Submit(ctx, NewExecuteMany(query, batch))
	if err != nil {
		return ManyResult{}, err
	}
	res, ok := v.(ManyResult)
	if !ok {
		return ManyResult{}, fmt.Errorf("unexpected result type %T", v)
	}
	return res, nil
}

// Transaction runs the statements atomically through the serializer.
func (s *Store) Transaction(ctx context.Context, stmts []Statement) ([]ExecResult, error) {
	v, err := s.ser.Submit(ctx, NewTransaction(stmts))
	if err != nil {
		return nil, err
	}
	res, ok := v.([]ExecResult)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", v)
	}
	return res, nil
}

// FetchOne returns the first matching row, or nil when there is none.
// Reads use pooled connections directly and are not ordered relative to
// queued writes; route a fetch Operation through Submit when ordering
// matters.
func (s *Store) FetchOne(ctx context.Context, query string, params ...any) ([]any, error) {
	v, err := s.read(ctx, NewFetchOne(query, params...))
	if err != nil {
		return nil, err
	}
	row, _ := v.([]any)
	return row, nil
}

// FetchMany returns at most limit matching rows.
func (s *Store) FetchMany(ctx context.Context, limit int, query string, params ...any) (ResultSet, error) {
	v, err := s.read(ctx, NewFetchMany(limit, query, params...))
	if err != nil {
		return ResultSet{}, err
	}
	rs, ok := v.(ResultSet)
	if !ok {
		return ResultSet{}, fmt.Errorf("unexpected result type %T", v)
	}
	return rs, nil
}

// FetchAll returns every matching row.
func (s *Store) FetchAll(ctx context.Context, query string, params ...any) (ResultSet, error) {
	v, err := s.read(ctx, NewFetchAll(query, params...))
	if err != nil {
		return ResultSet{}, err
	}
	rs, ok := v.(ResultSet)
	if !ok {
		return ResultSet{}, fmt.Errorf("unexpected result type %T", v)
	}
	return rs, nil
}

// Submit routes an operation through the serializer, ordering it after every
// queued write. The reservation protocol's check-and-insert always takes
// this path.
func (s *Store) Submit(ctx context.Context, op *Operation) (any, error) {
	return s.ser.Submit(ctx, op)
}

// SubmitWait is Submit without cancellation.
func (s *Store) SubmitWait(op *Operation) (any, error) {
	return s.ser.SubmitWait(op)
}

func (s *Store) read(ctx context.Context, op *Operation) (any, error) {
	start := time.Now()
	var value any
	err := WithRetry(ctx, s.retry, func() error {
		conn, aerr := s.pool.Acquire(ctx)
		if aerr != nil {
			return aerr
		}
		defer s.pool.Release(conn)
		v, xerr := executeOn(ctx, conn, op, s.hints)
		if xerr != nil {
			return xerr
		}
		value = v
		return nil
	})
	observeOp(s.log, s.opLog, op, err, start)
	return value, err
}

// StoreStats is a point-in-time snapshot for status reporting.
type StoreStats struct {
	Pool       PoolStats `json:"pool"`
	QueueDepth int       `json:"queue_depth"`
	QueueCap   int       `json:"queue_cap"`
}

// Stats reports pool occupancy and queue depth.
func (s *Store) Stats() StoreStats {
	return StoreStats{
		Pool:       s.pool.Stats(),
		QueueDepth: s.ser.QueueDepth(),
		QueueCap:   s.ser.QueueCap(),
	}
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close stops the serializer, failing queued operations with ErrQueueClosed,
// then closes the pool. The operation log, if any, belongs to the caller.
func (s *Store) Close() error {
	if err := s.ser.Close(); err != nil {
		return err
	}
	return s.pool.Close()
}
