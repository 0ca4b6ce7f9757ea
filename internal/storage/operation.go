package storage

import (
	"time"

	"github.com/google/uuid"
)

// OpKind identifies what a queued operation does when it reaches the worker.
type OpKind string

const (
	OpExecute     OpKind = "execute"
	OpExecuteMany OpKind = "execute_many"
	OpFetchOne    OpKind = "fetch_one"
	OpFetchMany   OpKind = "fetch_many"
	OpFetchAll    OpKind = "fetch_all"
	OpTransaction OpKind = "transaction"
)

// Statement is one query with its parameters, used by transactions and the
// remote wire format.
type Statement struct {
	Query  string `json:"query"`
	Params []any  `json:"params,omitempty"`
}

// ExecResult reports the effect of a mutating statement.
type ExecResult struct {
	RowsAffected int64 `json:"affected_rows"`
	LastInsertID int64 `json:"lastrowid"`
}

// ManyResult is the result of a batch execute: the summed effect plus the
// per-call row counts.
type ManyResult struct {
	ExecResult
	RowCounts []int64 `json:"row_counts"`
}

// ResultSet holds fetched rows with their column names.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"data"`
}

type opResult struct {
	value any
	err   error
}

// Operation is one unit of storage work. It is created per call, owned
// exclusively by the serializer while queued, and discarded once its result
// is delivered through the one-shot done channel.
type Operation struct {
	ID          string
	Kind        OpKind
	Query       string
	Params      []any
	Batch       [][]any
	Statements  []Statement
	Limit       int
	EnqueueTime time.Time

	done chan opResult
}

func newOperation(kind OpKind) *Operation {
	return &Operation{
		ID:   uuid.NewString(),
		Kind: kind,
		done: make(chan opResult, 1),
	}
}

// NewExecute builds a single mutating statement operation.
func NewExecute(query string, params ...any) *Operation {
	op := newOperation(OpExecute)
	op.Query = query
	op.Params = params
	return op
}

// NewExecuteMany builds a batch operation: one query executed once per
// parameter row inside a single transaction.
func NewExecuteMany(query string, batch [][]any) *Operation {
	op := newOperation(OpExecuteMany)
	op.Query = query
	op.Batch = batch
	return op
}

// NewFetchOne builds a read returning the first row or nil.
func NewFetchOne(query string, params ...any) *Operation {
	op := newOperation(OpFetchOne)
	op.Query = query
	op.Params = params
	return op
}

// NewFetchMany builds a read returning at most limit rows.
func NewFetchMany(limit int, query string, params ...any) *Operation {
	op := newOperation(OpFetchMany)
	op.Query = query
	op.Params = params
	op.Limit = limit
	return op
}

// NewFetchAll builds a read returning every matching row.
func NewFetchAll(query string, params ...any) *Operation {
	op := newOperation(OpFetchAll)
	op.Query = query
	op.Params = params
	return op
}

// NewTransaction builds an atomic multi-statement operation.
func NewTransaction(stmts []Statement) *Operation {
	op := newOperation(OpTransaction)
	op.Statements = stmts
	return op
}

// deliver fulfills the operation's pending result. Called exactly once, by
// the worker or by the shutdown drain, never both.
func (o *Operation) deliver(value any, err error) {
	o.done <- opResult{value: value, err: err}
}
