package storage

import "context"

// Executor is the operation vocabulary shared by local and remote modes.
// The local Store and the remote facade client both implement it; the mode
// is chosen once at construction, and callers cannot distinguish modes by
// behavior or error shape.
type Executor interface {
	Execute(ctx context.Context, query string, params ...any) (ExecResult, error)
	ExecuteMany(ctx context.Context, query string, batch [][]any) (ManyResult, error)
	FetchOne(ctx context.Context, query string, params ...any) ([]any, error)
	FetchMany(ctx context.Context, limit int, query string, params ...any) (ResultSet, error)
	FetchAll(ctx context.Context, query string, params ...any) (ResultSet, error)
	Transaction(ctx context.Context, stmts []Statement) ([]ExecResult, error)
	Close() error
}
