package ratelimit

import (
	"strings"
	"testing"
	"time"
)

func TestLimiterAllowsBurst(t *testing.T) {
	l := NewLimiter(1.0, 5)

	// Should allow exactly burst requests immediately
	for i := 0; i < 5; i++ {
		if !l.Allow("client") {
			t.Errorf("request %d should be allowed within burst", i+1)
		}
	}

	// Next request should be denied
	if l.Allow("client") {
		t.Error("request beyond burst should be denied")
	}
}

func TestLimiterRefillsOverTime(t *testing.T) {
	now := time.Now()
	l := NewLimiter(2.0, 2) // 2 tokens/sec, burst 2
	l.nowFunc = func() time.Time { return now }

	// Exhaust the burst
	if !l.Allow("client") {
		t.Fatal("first request should be allowed")
	}
	if !l.Allow("client") {
		t.Fatal("second request should be allowed")
	}
	if l.Allow("client") {
		t.Fatal("third request should be denied")
	}

	// Advance 500ms: 1 token refilled
	now = now.Add(500 * time.Millisecond)
	if !l.Allow("client") {
		t.Error("request after refill should be allowed")
	}
	if l.Allow("client") {
		t.Error("second request after partial refill should be denied")
	}
}

func TestLimiterCapsAtBurst(t *testing.T) {
	now := time.Now()
	l := NewLimiter(10.0, 3)
	l.nowFunc = func() time.Time { return now }

	// Prime the bucket, then wait long enough to refill far past burst
	l.Allow("client")
	now = now.Add(time.Hour)

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("client") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed = %d, want 3 (capped at burst)", allowed)
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := NewLimiter(1.0, 1)

	if !l.Allow("a") {
		t.Fatal("first request for key a should be allowed")
	}
	if l.Allow("a") {
		t.Fatal("second request for key a should be denied")
	}

	// A different key has its own bucket
	if !l.Allow("b") {
		t.Error("first request for key b should be allowed")
	}
}

func TestNewToolLimiters(t *testing.T) {
	limiters := NewToolLimiters()

	for _, tool := range []string{
		"rumormill_query",
		"rumormill_escalations",
		"rumormill_stale",
		"rumormill_stats",
		"rumormill_backup",
	} {
		if _, ok := limiters[tool]; !ok {
			t.Errorf("missing limiter for %s", tool)
		}
	}
}

func TestCheckLimit(t *testing.T) {
	limiters := ToolLimiters{
		"limited": NewLimiter(1.0, 1),
	}

	if err := CheckLimit(limiters, "limited"); err != nil {
		t.Errorf("first call should pass, got %v", err)
	}
	err := CheckLimit(limiters, "limited")
	if err == nil {
		t.Fatal("second call should be rate limited")
	}
	if !strings.Contains(err.Error(), "rate limit exceeded for limited") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestCheckLimitUnknownTool(t *testing.T) {
	limiters := NewToolLimiters()

	// Tools without a configured limiter are never limited
	for i := 0; i < 100; i++ {
		if err := CheckLimit(limiters, "unknown_tool"); err != nil {
			t.Fatalf("unknown tool should never be limited, got %v", err)
		}
	}
}
