package constants

// ExecMode selects how database operations are executed
type ExecMode string

const (
	// ModeAuto probes the remote service at startup and falls back to
	// local execution when it is unreachable
	ModeAuto ExecMode = "auto"

	// ModeLocal always executes against the embedded database
	ModeLocal ExecMode = "local"

	// ModeRemote always delegates to the database service
	ModeRemote ExecMode = "remote"
)

// Valid returns true if the mode is a recognized value.
func (m ExecMode) Valid() bool {
	switch m {
	case ModeAuto, ModeLocal, ModeRemote:
		return true
	}
	return false
}

// String returns the string representation of the mode.
func (m ExecMode) String() string {
	return string(m)
}
