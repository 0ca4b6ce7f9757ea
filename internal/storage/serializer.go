package storage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nvandessel/rumormill/internal/logging"
	"github.com/nvandessel/rumormill/internal/metrics"
)

// Serializer is the single-writer work queue. One worker goroutine pulls
// operations strictly in FIFO order, executes each against a pooled
// connection under the retry policy, and fulfills the operation's pending
// result. It is the sole place mutating rows.
type Serializer struct {
	pool  *Pool
	retry RetryPolicy
	hints map[string]string
	log   *slog.Logger
	opLog *logging.OperationLogger

	queue chan *Operation
	quit  chan struct{}
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewSerializer starts the worker goroutine draining a bounded queue.
func NewSerializer(pool *Pool, opts Options) *Serializer {
	opts = opts.withDefaults()
	s := &Serializer{
		pool:  pool,
		retry: opts.Retry,
		hints: opts.RelationshipHints,
		log:   opts.Logger,
		opLog: opts.OperationLog,
		queue: make(chan *Operation, opts.QueueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.worker()
	return s
}

// Submit enqueues op and awaits its result. Cancelling ctx abandons the wait
// and discards the eventual result; the dispatched operation still completes
// against storage. After Close, Submit fails fast with ErrQueueClosed.
func (s *Serializer) Submit(ctx context.Context, op *Operation) (any, error) {
	if err := s.send(ctx, op); err != nil {
		return nil, err
	}
	select {
	case res := <-op.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitWait enqueues op and blocks until its result is delivered.
func (s *Serializer) SubmitWait(op *Operation) (any, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	op.EnqueueTime = time.Now()
	s.queue <- op
	s.mu.RUnlock()
	metrics.QueueDepth.Set(float64(len(s.queue)))

	res := <-op.done
	return res.value, res.err
}

func (s *Serializer) send(ctx context.Context, op *Operation) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrQueueClosed
	}
	op.EnqueueTime = time.Now()
	select {
	case s.queue <- op:
		metrics.QueueDepth.Set(float64(len(s.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth reports how many operations are currently queued.
func (s *Serializer) QueueDepth() int { return len(s.queue) }

// QueueCap reports the queue capacity.
func (s *Serializer) QueueCap() int { return cap(s.queue) }

// Close stops the worker. The in-flight operation completes; every operation
// still queued is failed with ErrQueueClosed rather than executed, and later
// submissions fail fast. No operation is silently dropped. Close returns
// once the worker has exited.
func (s *Serializer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.quit)
	<-s.done
	return nil
}

func (s *Serializer) worker() {
	defer close(s.done)
	for {
		// Shutdown outranks queued work: once quit is closed the remaining
		// queue is drained with ErrQueueClosed, not executed.
		select {
		case <-s.quit:
			s.drain()
			return
		default:
		}
		select {
		case <-s.quit:
			s.drain()
			return
		case op := <-s.queue:
			metrics.QueueDepth.Set(float64(len(s.queue)))
			s.execute(op)
		}
	}
}

func (s *Serializer) drain() {
	for {
		select {
		case op := <-s.queue:
			op.deliver(nil, ErrQueueClosed)
		default:
			metrics.QueueDepth.Set(0)
			return
		}
	}
}

func (s *Serializer) execute(op *Operation) {
	start := time.Now()
	var value any
	err := WithRetry(context.Background(), s.retry, func() error {
		conn, aerr := s.pool.Acquire(context.Background())
		if aerr != nil {
			return aerr
		}
		defer s.pool.Release(conn)
		v, xerr := executeOn(context.Background(), conn, op, s.hints)
		if xerr != nil {
			return xerr
		}
		value = v
		return nil
	})
	observeOp(s.log, s.opLog, op, err, start)
	op.deliver(value, err)
}

// observeOp records one finished operation: metrics always, an error log
// with query, params, and classification on failure, and a JSONL trace line
// when operation logging is enabled.
func observeOp(log *slog.Logger, opLog *logging.OperationLogger, op *Operation, err error, start time.Time) {
	d := time.Since(start)
	status := "ok"
	if err != nil {
		status = ErrorType(err)
	}
	metrics.OpsTotal.WithLabelValues(string(op.Kind), status).Inc()
	metrics.OpDurationSeconds.WithLabelValues(string(op.Kind)).Observe(d.Seconds())

	if err != nil {
		log.Error("operation failed",
			"op_id", op.ID,
			"kind", op.Kind,
			"query", op.Query,
			"params", op.Params,
			"classification", status,
			"error", err)
	}

	event := map[string]any{
		"op_id":       op.ID,
		"kind":        string(op.Kind),
		"query":       op.Query,
		"params":      op.Params,
		"status":      status,
		"duration_ms": float64(d.Microseconds()) / 1000.0,
	}
	if !op.EnqueueTime.IsZero() {
		event["queue_wait_ms"] = float64(start.Sub(op.EnqueueTime).Microseconds()) / 1000.0
	}
	if err != nil {
		event["error"] = err.Error()
	}
	opLog.Log(event)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
