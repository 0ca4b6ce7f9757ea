package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// executeOn runs one operation against a borrowed connection. Failures are
// rolled back before returning, so a classified-transient error is always
// safe to re-execute verbatim.
func executeOn(ctx context.Context, c *Conn, op *Operation, hints map[string]string) (any, error) {
	switch op.Kind {
	case OpExecute:
		res, err := c.conn.ExecContext(ctx, op.Query, op.Params...)
		if err != nil {
			return nil, wrapStatement(op.Query, hints, err)
		}
		return execResult(res), nil

	case OpExecuteMany:
		return executeMany(ctx, c, op, hints)

	case OpFetchOne:
		rs, err := fetchRows(ctx, c, op.Query, op.Params, 1)
		if err != nil {
			return nil, wrapStatement(op.Query, hints, err)
		}
		if len(rs.Rows) == 0 {
			return []any(nil), nil
		}
		return rs.Rows[0], nil

	case OpFetchMany:
		if op.Limit <= 0 {
			return nil, fmt.Errorf("fetch_many requires a positive limit, got %d", op.Limit)
		}
		rs, err := fetchRows(ctx, c, op.Query, op.Params, op.Limit)
		if err != nil {
			return nil, wrapStatement(op.Query, hints, err)
		}
		return rs, nil

	case OpFetchAll:
		rs, err := fetchRows(ctx, c, op.Query, op.Params, 0)
		if err != nil {
			return nil, wrapStatement(op.Query, hints, err)
		}
		return rs, nil

	case OpTransaction:
		return runTransaction(ctx, c, op.Statements, hints)

	default:
		return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

func execResult(res sql.Result) ExecResult {
	var out ExecResult
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out
}

func fetchRows(ctx context.Context, c *Conn, query string, params []any, limit int) (ResultSet, error) {
	rows, err := c.conn.QueryContext(ctx, query, params...)
	if err != nil {
		return ResultSet{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, fmt.Errorf("failed to read columns: %w", err)
	}
	out := ResultSet{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return ResultSet{}, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range vals {
			vals[i] = normalizeValue(v)
		}
		out.Rows = append(out.Rows, vals)
		if limit > 0 && len(out.Rows) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, err
	}
	return out, nil
}

// normalizeValue converts driver scan types into plain values that survive a
// JSON round trip, so local and remote results read back identically.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

func executeMany(ctx context.Context, c *Conn, op *Operation, hints map[string]string) (any, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	stmt, err := tx.PrepareContext(ctx, op.Query)
	if err != nil {
		tx.Rollback()
		return nil, wrapStatement(op.Query, hints, err)
	}
	defer stmt.Close()

	out := ManyResult{RowCounts: make([]int64, 0, len(op.Batch))}
	for _, params := range op.Batch {
		res, err := stmt.ExecContext(ctx, params...)
		if err != nil {
			tx.Rollback()
			return nil, wrapStatement(op.Query, hints, err)
		}
		r := execResult(res)
		out.RowCounts = append(out.RowCounts, r.RowsAffected)
		out.RowsAffected += r.RowsAffected
		out.LastInsertID = r.LastInsertID
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return out, nil
}

func runTransaction(ctx context.Context, c *Conn, stmts []Statement, hints map[string]string) (any, error) {
	if len(stmts) == 0 {
		return []ExecResult{}, nil
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	results := make([]ExecResult, 0, len(stmts))
	for _, st := range stmts {
		res, err := tx.ExecContext(ctx, st.Query, st.Params...)
		if err != nil {
			tx.Rollback()
			return nil, wrapStatement(st.Query, hints, err)
		}
		results = append(results, execResult(res))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return results, nil
}
