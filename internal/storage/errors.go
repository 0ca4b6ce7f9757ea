// Package storage provides the embedded-storage concurrency core: a bounded
// connection pool, a single-writer serializer, and the retry policy that all
// simulation writes flow through.
package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrQueueClosed is delivered to operations still queued when the
	// serializer shuts down, and to submissions after shutdown began.
	ErrQueueClosed = errors.New("operation queue is closed")

	// ErrConnectionUnavailable indicates the database file could not be
	// opened or the pool is no longer usable. Best-effort callers should
	// skip their cycle on this error rather than crash.
	ErrConnectionUnavailable = errors.New("connection unavailable")

	// ErrAcquireTimeout indicates no pooled connection became free within
	// the configured acquire timeout.
	ErrAcquireTimeout = errors.New("timed out waiting for a connection")
)

// RetryExhaustedError wraps the last transient failure after all retry
// attempts were consumed.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// IntegrityError wraps a constraint violation. Relationship is a best-effort
// identification of the violated relationship derived from the query text;
// it may be empty when no known table appears in the query.
type IntegrityError struct {
	Query        string
	Relationship string
	Err          error
}

func (e *IntegrityError) Error() string {
	if e.Relationship != "" {
		return fmt.Sprintf("integrity violation (%s): %v", e.Relationship, e.Err)
	}
	return fmt.Sprintf("integrity violation: %v", e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// IsBusy reports whether err is SQLite's signal that a competing writer
// holds the needed lock. Matched by message text because the pure-Go driver
// surfaces busy conditions as formatted strings carrying the result code.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "database table is locked") ||
		strings.Contains(s, "(5)") ||
		strings.Contains(s, "(6)")
}

// IsIntegrity reports whether err is a constraint violation.
func IsIntegrity(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "constraint failed") ||
		strings.Contains(s, "constraint violation")
}

// ErrorType maps err onto the wire taxonomy shared by local and remote
// modes: retry_exhausted, integrity, busy, closed, unavailable, timeout,
// or error for anything unclassified.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQueueClosed):
		return "closed"
	case errors.Is(err, ErrConnectionUnavailable):
		return "unavailable"
	case errors.Is(err, ErrAcquireTimeout):
		return "timeout"
	}
	var re *RetryExhaustedError
	if errors.As(err, &re) {
		return "retry_exhausted"
	}
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return "integrity"
	}
	if IsBusy(err) {
		return "busy"
	}
	if IsIntegrity(err) {
		return "integrity"
	}
	return "error"
}

// relationshipHint scans query text for known table names and returns the
// relationship registered for the first match. Tables are checked longest
// name first so overlapping names resolve deterministically.
func relationshipHint(query string, hints map[string]string) string {
	if len(hints) == 0 {
		return ""
	}
	q := strings.ToLower(query)
	tables := make([]string, 0, len(hints))
	for t := range hints {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool {
		if len(tables[i]) != len(tables[j]) {
			return len(tables[i]) > len(tables[j])
		}
		return tables[i] < tables[j]
	})
	for _, t := range tables {
		if strings.Contains(q, t) {
			return hints[t]
		}
	}
	return ""
}

// wrapStatement classifies a statement failure. Integrity violations are
// wrapped with the query and relationship hint; everything else passes
// through for the retry classifier to inspect.
func wrapStatement(query string, hints map[string]string, err error) error {
	if err == nil {
		return nil
	}
	if IsIntegrity(err) {
		return &IntegrityError{Query: query, Relationship: relationshipHint(query, hints), Err: err}
	}
	return err
}
