package constants

import "testing"

func TestExecModeValid(t *testing.T) {
	tests := []struct {
		mode ExecMode
		want bool
	}{
		{ModeAuto, true},
		{ModeLocal, true},
		{ModeRemote, true},
		{ExecMode("hybrid"), false},
		{ExecMode(""), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			if got := tt.mode.Valid(); got != tt.want {
				t.Errorf("ExecMode(%q).Valid() = %v, want %v", tt.mode, got, tt.want)
			}
		})
	}
}

func TestExecModeString(t *testing.T) {
	if got := ModeAuto.String(); got != "auto" {
		t.Errorf("ModeAuto.String() = %q, want auto", got)
	}
}
