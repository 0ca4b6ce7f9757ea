package models

import "testing"

func TestPostFromRow(t *testing.T) {
	tests := []struct {
		name    string
		row     []any
		want    Post
		wantErr bool
	}{
		{
			name: "local row with int64",
			row:  []any{"p1", "bot-7", "crops fail after 5g rollout", int64(42), "2026-01-02 03:04:05"},
			want: Post{ID: "p1", Author: "bot-7", Content: "crops fail after 5g rollout", Engagement: 42, CreatedAt: "2026-01-02 03:04:05"},
		},
		{
			name: "remote row with float64",
			row:  []any{"p1", "bot-7", "crops fail after 5g rollout", float64(42), "2026-01-02 03:04:05"},
			want: Post{ID: "p1", Author: "bot-7", Content: "crops fail after 5g rollout", Engagement: 42, CreatedAt: "2026-01-02 03:04:05"},
		},
		{
			name: "no timestamp column",
			row:  []any{"p2", "bot-1", "x", int64(0)},
			want: Post{ID: "p2", Author: "bot-1", Content: "x", Engagement: 0},
		},
		{
			name:    "too short",
			row:     []any{"p1", "bot-7"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PostFromRow(tt.row)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PostFromRow() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("PostFromRow() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEscalationFromRow(t *testing.T) {
	row := []any{"p1", int64(2), "RESERVED", int64(45), nil, "2026-01-02 03:04:05", nil}
	got, err := EscalationFromRow(row)
	if err != nil {
		t.Fatalf("EscalationFromRow() error = %v", err)
	}
	if got.TargetID != "p1" || got.Round != 2 {
		t.Errorf("target/round = %s/%d, want p1/2", got.TargetID, got.Round)
	}
	if got.Status != StatusReserved {
		t.Errorf("Status = %q, want %q", got.Status, StatusReserved)
	}
	if got.EngagementAtReservation != 45 {
		t.Errorf("EngagementAtReservation = %d, want 45", got.EngagementAtReservation)
	}
	if got.Outcome != "" || got.CommittedAt != "" {
		t.Errorf("reserved row has outcome %q / committed_at %q, want empty", got.Outcome, got.CommittedAt)
	}
}

func TestEscalationFromRow_RemoteNumbers(t *testing.T) {
	// JSON decoding turns every number into float64.
	row := []any{"p1", float64(3), "COMMITTED", float64(75), "debunked"}
	got, err := EscalationFromRow(row)
	if err != nil {
		t.Fatalf("EscalationFromRow() error = %v", err)
	}
	if got.Round != 3 || got.EngagementAtReservation != 75 {
		t.Errorf("round/engagement = %d/%d, want 3/75", got.Round, got.EngagementAtReservation)
	}
	if got.Status != StatusCommitted {
		t.Errorf("Status = %q, want %q", got.Status, StatusCommitted)
	}
	if got.Outcome != "debunked" {
		t.Errorf("Outcome = %q, want debunked", got.Outcome)
	}
}

func TestAsInt64(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
	}{
		{"int64", int64(7), 7},
		{"int", 7, 7},
		{"float64", float64(7), 7},
		{"nil", nil, 0},
		{"string", "7", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AsInt64(tt.in); got != tt.want {
				t.Errorf("AsInt64(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestAsString(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "x", "x"},
		{"bytes", []byte("x"), "x"},
		{"nil", nil, ""},
		{"int", int64(5), "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AsString(tt.in); got != tt.want {
				t.Errorf("AsString(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
