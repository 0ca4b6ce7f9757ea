// Package constants provides named constants used throughout the rumormill codebase.
// This centralizes magic numbers for better maintainability and documentation.
package constants

import "time"

// Connection pool constants
const (
	// DefaultPoolMax is the maximum number of concurrently open SQLite
	// connections. Reads share these; writes funnel through one worker.
	DefaultPoolMax = 5

	// DefaultAcquireTimeout bounds how long a caller waits for a free
	// connection before giving up.
	DefaultAcquireTimeout = 10 * time.Second

	// DefaultBusyTimeout is the SQLite busy handler timeout applied to
	// every connection. Generous because a competing process may hold
	// the write lock across a whole agent decision.
	DefaultBusyTimeout = 30 * time.Second

	// DefaultQueueSize is the write queue capacity of the serializer.
	DefaultQueueSize = 256
)

// Retry constants
const (
	// DefaultRetryAttempts is the total number of tries for a transient
	// failure, including the first.
	DefaultRetryAttempts = 5

	// DefaultRetryBaseDelay is the backoff before the second attempt.
	// Subsequent delays double up to DefaultRetryMaxDelay.
	DefaultRetryBaseDelay = 50 * time.Millisecond

	// DefaultRetryMaxDelay caps the exponential backoff.
	DefaultRetryMaxDelay = 2 * time.Second
)

// Escalation protocol constants
const (
	// DefaultInitialThreshold is the engagement a post needs before its
	// first escalation round becomes eligible.
	DefaultInitialThreshold = 15

	// DefaultEscalationInterval is the additional engagement, measured
	// from the previous round's reservation point, required before the
	// next round becomes eligible.
	DefaultEscalationInterval = 30
)

// Service constants
const (
	// DefaultListenAddr is the address the delegation service binds to.
	DefaultListenAddr = ":8080"

	// DefaultRequestTimeout bounds a single remote execute call.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultHealthTimeout bounds the startup health probe that decides
	// between remote and local mode.
	DefaultHealthTimeout = 2 * time.Second
)

// Engagement decay constants
const (
	// DefaultDecayInterval is how often the decay job runs.
	DefaultDecayInterval = time.Minute

	// DefaultDecayFactor is the multiplier applied to engagement each
	// decay cycle. Engagement only ever shrinks toward zero.
	DefaultDecayFactor = 0.9
)

// Backup rotation controls how many backup files are retained.
const (
	// MaxBackupRotation is the default maximum number of backup files to keep.
	MaxBackupRotation = 10
)
