// Package escalation implements the reservation protocol that guarantees
// at-most-one actor performs a given escalation round on a target post.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nvandessel/rumormill/internal/constants"
	"github.com/nvandessel/rumormill/internal/metrics"
	"github.com/nvandessel/rumormill/internal/models"
	"github.com/nvandessel/rumormill/internal/storage"
)

var (
	// ErrRoundOrder indicates a requested round that is not the next one
	// for its target. Rounds only ever advance by one.
	ErrRoundOrder = errors.New("escalation round out of order")

	// ErrUnknownReservation indicates a commit for a (target, round) that
	// was never reserved.
	ErrUnknownReservation = errors.New("unknown reservation")

	// ErrAlreadyCommitted indicates a commit for a round that has already
	// been committed. History is never rewritten.
	ErrAlreadyCommitted = errors.New("reservation already committed")
)

// reserveQuery is the atomic check-and-insert. It claims (target, round)
// only when no row exists for it, the round is exactly the next one, and
// the observed engagement clears the round's threshold: the initial
// threshold for round 1, the previous round's reservation engagement plus
// the interval for every later round. Executed as one statement by the
// single writer, so exactly one of N concurrent callers sees a row land.
//
// Parameters: ?1 target, ?2 round, ?3 engagement, ?4 interval, ?5 initial
// threshold.
const reserveQuery = `
INSERT INTO escalations (target_id, round, status, engagement_at_reservation)
SELECT ?1, ?2, 'RESERVED', ?3
WHERE NOT EXISTS (SELECT 1 FROM escalations WHERE target_id = ?1 AND round = ?2)
  AND ?2 = COALESCE((SELECT MAX(round) FROM escalations WHERE target_id = ?1), 0) + 1
  AND ?3 >= COALESCE(
        (SELECT engagement_at_reservation FROM escalations WHERE target_id = ?1 AND round = ?2 - 1) + ?4,
        ?5)`

const commitQuery = `
UPDATE escalations
SET status = 'COMMITTED', outcome = ?, committed_at = datetime('now')
WHERE target_id = ? AND round = ? AND status = 'RESERVED'`

const escalationColumns = `target_id, round, status, engagement_at_reservation, outcome, created_at, committed_at`

// Options configures a Manager. Zero fields take defaults.
type Options struct {
	// InitialThreshold is the engagement required for round 1.
	InitialThreshold int64

	// Interval is the additional engagement, beyond the previous round's
	// reservation point, required for each following round.
	Interval int64

	Logger *slog.Logger
}

// Manager runs the reservation protocol against an Executor. The executor
// may be local or remote; either way the check-and-insert reaches a single
// writer, which is what makes the at-most-one guarantee hold.
type Manager struct {
	exec             storage.Executor
	initialThreshold int64
	interval         int64
	log              *slog.Logger
}

// NewManager creates a Manager on top of exec.
func NewManager(exec storage.Executor, opts Options) *Manager {
	if opts.InitialThreshold <= 0 {
		opts.InitialThreshold = constants.DefaultInitialThreshold
	}
	if opts.Interval <= 0 {
		opts.Interval = constants.DefaultEscalationInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		exec:             exec,
		initialThreshold: opts.InitialThreshold,
		interval:         opts.Interval,
		log:              opts.Logger,
	}
}

// Reserve attempts to claim round for targetID given the engagement the
// caller observed. It returns true when this call created the RESERVED
// row. False means the round is already taken or the target is not yet
// eligible; both are normal control flow. Requesting a round other than
// the next one returns ErrRoundOrder.
func (m *Manager) Reserve(ctx context.Context, targetID string, round, engagement int64) (bool, error) {
	if round < 1 {
		return false, fmt.Errorf("%w: round must be at least 1, got %d", ErrRoundOrder, round)
	}

	res, err := m.exec.Execute(ctx, reserveQuery, targetID, round, engagement, m.interval, m.initialThreshold)
	if err != nil {
		metrics.ReservationsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("reserving %s round %d: %w", targetID, round, err)
	}
	if res.RowsAffected == 1 {
		metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
		m.log.Debug("escalation reserved",
			"target", targetID, "round", round, "engagement", engagement)
		return true, nil
	}
	return false, m.diagnoseReserve(ctx, targetID, round)
}

// diagnoseReserve explains a zero-row reserve. A row already present for
// (target, round) is a lost race or a repeat: normal, not an error. A
// round that is not the next one is a protocol violation. Anything else
// means the target has not cleared the threshold yet.
func (m *Manager) diagnoseReserve(ctx context.Context, targetID string, round int64) error {
	row, err := m.exec.FetchOne(ctx,
		`SELECT status FROM escalations WHERE target_id = ? AND round = ?`, targetID, round)
	if err != nil {
		return fmt.Errorf("diagnosing reserve of %s round %d: %w", targetID, round, err)
	}
	if row != nil {
		metrics.ReservationsTotal.WithLabelValues("conflict").Inc()
		m.log.Debug("reservation conflict", "target", targetID, "round", round)
		return nil
	}

	next, err := m.NextRound(ctx, targetID)
	if err != nil {
		return err
	}
	if round != next {
		metrics.ReservationsTotal.WithLabelValues("order").Inc()
		return fmt.Errorf("%w: requested round %d for %s, next is %d", ErrRoundOrder, round, targetID, next)
	}

	metrics.ReservationsTotal.WithLabelValues("ineligible").Inc()
	m.log.Debug("target not eligible", "target", targetID, "round", round)
	return nil
}

// Commit marks a RESERVED round as COMMITTED and records the outcome.
// The row is updated in place; history is never deleted.
func (m *Manager) Commit(ctx context.Context, targetID string, round int64, outcome string) error {
	res, err := m.exec.Execute(ctx, commitQuery, outcome, targetID, round)
	if err != nil {
		return fmt.Errorf("committing %s round %d: %w", targetID, round, err)
	}
	if res.RowsAffected == 1 {
		metrics.ReservationsTotal.WithLabelValues("committed").Inc()
		m.log.Debug("escalation committed", "target", targetID, "round", round, "outcome", outcome)
		return nil
	}

	row, err := m.exec.FetchOne(ctx,
		`SELECT status FROM escalations WHERE target_id = ? AND round = ?`, targetID, round)
	if err != nil {
		return fmt.Errorf("diagnosing commit of %s round %d: %w", targetID, round, err)
	}
	if row == nil {
		return fmt.Errorf("%w: %s round %d", ErrUnknownReservation, targetID, round)
	}
	if models.AsString(row[0]) == string(models.StatusCommitted) {
		return fmt.Errorf("%w: %s round %d", ErrAlreadyCommitted, targetID, round)
	}
	return fmt.Errorf("commit of %s round %d changed no rows, status is %v", targetID, round, row[0])
}

// NextRound returns the round number a caller should request next for
// targetID: one past the highest recorded round, or 1 for a fresh target.
func (m *Manager) NextRound(ctx context.Context, targetID string) (int64, error) {
	row, err := m.exec.FetchOne(ctx,
		`SELECT COALESCE(MAX(round), 0) + 1 FROM escalations WHERE target_id = ?`, targetID)
	if err != nil {
		return 0, fmt.Errorf("next round for %s: %w", targetID, err)
	}
	if row == nil {
		return 1, nil
	}
	return models.AsInt64(row[0]), nil
}

// Threshold returns the engagement targetID must reach for round.
// Round 1 uses the initial threshold; later rounds build on the previous
// round's reservation engagement.
func (m *Manager) Threshold(ctx context.Context, targetID string, round int64) (int64, error) {
	if round <= 1 {
		return m.initialThreshold, nil
	}
	row, err := m.exec.FetchOne(ctx,
		`SELECT engagement_at_reservation FROM escalations WHERE target_id = ? AND round = ?`,
		targetID, round-1)
	if err != nil {
		return 0, fmt.Errorf("threshold for %s round %d: %w", targetID, round, err)
	}
	if row == nil {
		return 0, fmt.Errorf("%w: round %d has no predecessor for %s", ErrRoundOrder, round, targetID)
	}
	return models.AsInt64(row[0]) + m.interval, nil
}

// History returns all recorded rounds for targetID in round order.
func (m *Manager) History(ctx context.Context, targetID string) ([]models.Escalation, error) {
	rs, err := m.exec.FetchAll(ctx,
		`SELECT `+escalationColumns+` FROM escalations WHERE target_id = ? ORDER BY round`, targetID)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", targetID, err)
	}
	return escalationsFromRows(rs.Rows)
}

// Stale returns RESERVED rows older than olderThan. A reservation whose
// work failed is deliberately left RESERVED, so recovery tooling scans
// for these rather than the protocol rolling them back.
func (m *Manager) Stale(ctx context.Context, olderThan time.Duration) ([]models.Escalation, error) {
	cutoff := fmt.Sprintf("-%d seconds", int64(olderThan.Seconds()))
	rs, err := m.exec.FetchAll(ctx,
		`SELECT `+escalationColumns+` FROM escalations
		 WHERE status = 'RESERVED' AND created_at <= datetime('now', ?)
		 ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("scanning stale reservations: %w", err)
	}
	return escalationsFromRows(rs.Rows)
}

func escalationsFromRows(rows [][]any) ([]models.Escalation, error) {
	out := make([]models.Escalation, 0, len(rows))
	for _, row := range rows {
		e, err := models.EscalationFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
