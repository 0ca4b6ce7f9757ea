package simulation

import (
	"context"

	"github.com/nvandessel/rumormill/internal/escalation"
	"github.com/nvandessel/rumormill/internal/storage"
)

// Scenario defines a complete multi-agent experiment.
type Scenario struct {
	Name   string
	Posts  []PostSpec
	Agents int // concurrent agent goroutines; 0 means 1
	Steps  int // Act invocations per agent; 0 means 1

	// Act is the per-step agent behavior. It runs concurrently from all
	// agent goroutines against the shared executor; agent and step
	// identify the invocation. An error stops that agent and is recorded
	// in the result, it does not stop the other agents.
	Act func(ctx context.Context, env *Env, agent, step int) error

	// Escalation configures the reservation manager shared by all agents.
	// Zero fields take the production defaults.
	Escalation escalation.Options

	// Remote routes agents through an in-process HTTP service instead of
	// the store directly, exercising the delegation path. The service
	// still writes to the runner's store, so assertions read the same
	// database either way.
	Remote bool
}

// PostSpec seeds one feed post before agents start.
type PostSpec struct {
	ID         string
	Author     string
	Content    string
	Engagement int64
}

// withDefaults fills author and content so specs can stay one-liners.
func (p PostSpec) withDefaults() PostSpec {
	if p.Author == "" {
		p.Author = "newswire"
	}
	if p.Content == "" {
		p.Content = "developing story: " + p.ID
	}
	return p
}

// Env is the world an agent acts in: the executor it shares with every
// other agent and the reservation manager built on top of it.
type Env struct {
	Exec        storage.Executor
	Escalations *escalation.Manager
}

// Result captures the outcome of a scenario run.
type Result struct {
	// Store is the backing store, for direct inspection. It is the same
	// database the agents wrote to even when the scenario ran remote.
	Store *storage.Store

	// Exec is the executor the agents used: the store itself, or an HTTP
	// client when the scenario ran remote.
	Exec storage.Executor

	// AgentErrs has one entry per agent, nil when that agent finished
	// clean. Scenarios that drive the system into failure paths on
	// purpose inspect these instead of asserting emptiness.
	AgentErrs []error
}
