package models

// EscalationStatus is the lifecycle state of a reservation
type EscalationStatus string

const (
	StatusReserved  EscalationStatus = "RESERVED"  // claimed, work not yet finished
	StatusCommitted EscalationStatus = "COMMITTED" // work finished and durably recorded
)

// Escalation is one reserved or committed escalation round for a post.
// The (TargetID, Round) pair is unique; rounds are strictly increasing
// per target.
type Escalation struct {
	TargetID string           `json:"target_id" yaml:"target_id"`
	Round    int64            `json:"round" yaml:"round"`
	Status   EscalationStatus `json:"status" yaml:"status"`

	// EngagementAtReservation is the engagement level when the round was
	// claimed. The next round becomes eligible relative to this value.
	EngagementAtReservation int64 `json:"engagement_at_reservation" yaml:"engagement_at_reservation"`

	// Outcome is recorded at commit time and empty while reserved
	Outcome string `json:"outcome,omitempty" yaml:"outcome,omitempty"`

	CreatedAt   string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	CommittedAt string `json:"committed_at,omitempty" yaml:"committed_at,omitempty"`
}

// EscalationFromRow maps a row of (target_id, round, status,
// engagement_at_reservation, outcome, created_at, committed_at) onto an
// Escalation. Trailing columns may be omitted.
func EscalationFromRow(row []any) (Escalation, error) {
	if len(row) < 4 {
		return Escalation{}, rowLengthError("escalation", 4, len(row))
	}
	e := Escalation{
		TargetID:                AsString(row[0]),
		Round:                   AsInt64(row[1]),
		Status:                  EscalationStatus(AsString(row[2])),
		EngagementAtReservation: AsInt64(row[3]),
	}
	if len(row) > 4 {
		e.Outcome = AsString(row[4])
	}
	if len(row) > 5 {
		e.CreatedAt = AsString(row[5])
	}
	if len(row) > 6 {
		e.CommittedAt = AsString(row[6])
	}
	return e, nil
}
