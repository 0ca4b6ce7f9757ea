// Package simulation provides a multi-agent test harness for validating
// the concurrency guarantees of the storage core.
//
// The simulation exercises the real Store, Serializer, escalation Manager,
// and HTTP delegation service — no mocks. Scenarios are Go builders that
// seed feed posts and release configurable numbers of concurrent agent
// goroutines against a shared executor, capturing per-agent outcomes for
// property-based assertions.
//
// Each test gets an isolated SQLite database via t.TempDir() and a
// sandboxed HOME to prevent touching user data. A scenario can route its
// agents through an in-process HTTP service instead of the store directly,
// so every property can be checked on both sides of the delegation
// boundary.
//
// Usage:
//
//	func TestEngagementStorm(t *testing.T) {
//	    r := simulation.NewRunner(t)
//	    result := r.Run(simulation.Scenario{
//	        Name:   "engagement-storm",
//	        Posts:  []simulation.PostSpec{{ID: "p1"}},
//	        Agents: 20,
//	        Steps:  5,
//	        Act: func(ctx context.Context, env *simulation.Env, agent, step int) error {
//	            _, err := env.Exec.Execute(ctx, simulation.BumpQuery, "p1")
//	            return err
//	        },
//	    })
//	    simulation.AssertNoAgentErrors(t, result)
//	    simulation.AssertEngagement(t, r, "p1", 100)
//	}
package simulation
