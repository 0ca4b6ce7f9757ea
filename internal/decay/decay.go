// Package decay runs the periodic engagement decay job. Decay is
// best-effort maintenance: a failed cycle is logged and skipped, never
// retried into a crash.
package decay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nvandessel/rumormill/internal/constants"
	"github.com/nvandessel/rumormill/internal/storage"
)

// decayQuery scales every engaged post by the factor in one statement, so a
// cycle is a single atomic write through the serializer. CAST truncates
// toward zero, which drives stale posts to zero engagement over time.
const decayQuery = `
UPDATE posts
SET engagement = CAST(engagement * ? AS INTEGER)
WHERE engagement > 0
`

// Options configures a decay Job. Zero fields take defaults.
type Options struct {
	Interval time.Duration
	Factor   float64
	Logger   *slog.Logger
}

// Job periodically multiplies post engagement by a factor below one.
type Job struct {
	exec     storage.Executor
	interval time.Duration
	factor   float64
	log      *slog.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewJob builds a decay job over exec. Start must be called to begin
// cycling; RunOnce works without Start.
func NewJob(exec storage.Executor, opts Options) *Job {
	if opts.Interval <= 0 {
		opts.Interval = constants.DefaultDecayInterval
	}
	if opts.Factor <= 0 || opts.Factor > 1 {
		opts.Factor = constants.DefaultDecayFactor
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Job{
		exec:     exec,
		interval: opts.Interval,
		factor:   opts.Factor,
		log:      opts.Logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the cycle goroutine.
func (j *Job) Start() {
	go j.run()
}

// Stop signals the goroutine and waits for it to finish. Safe to call more
// than once.
func (j *Job) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

func (j *Job) run() {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.cycle()
		}
	}
}

// cycle runs one decay pass and logs the outcome. Unavailable storage skips
// the cycle quietly; anything else is worth a warning.
func (j *Job) cycle() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	affected, err := j.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrConnectionUnavailable) || errors.Is(err, storage.ErrQueueClosed) {
			j.log.Debug("decay cycle skipped, storage unavailable", "error", err)
			return
		}
		j.log.Warn("decay cycle failed", "error", err)
		return
	}
	j.log.Debug("decay cycle complete", "posts_decayed", affected, "factor", j.factor)
}

// RunOnce applies one decay pass and reports how many posts were touched.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	res, err := j.exec.Execute(ctx, decayQuery, j.factor)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}
