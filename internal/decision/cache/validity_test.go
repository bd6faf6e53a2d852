package cache

import (
	"testing"
	"time"
)

func validityEntry(insertedAt time.Time, ttl time.Duration, signature string) Entry {
	return Entry{InsertedAt: insertedAt, TTL: ttl, StateSignature: signature}
}

func TestEvaluateExpiryBoundary(t *testing.T) {
	t0 := time.Date(2026, time.March, 14, 15, 0, 0, 0, time.UTC)
	entry := validityEntry(t0, 5*time.Second, "sig")
	window := 500 * time.Millisecond

	if got := Evaluate(entry, "sig", t0.Add(5*time.Second+time.Millisecond), window); got != VerdictExpired {
		t.Fatalf("one past the TTL should expire, got %s", got)
	}
	if got := Evaluate(entry, "sig", t0.Add(5*time.Second-time.Millisecond), window); got != VerdictValid {
		t.Fatalf("one inside the TTL should stay valid, got %s", got)
	}
	if got := Evaluate(entry, "sig", t0.Add(5*time.Second), window); got != VerdictValid {
		t.Fatalf("age equal to the TTL is not yet expired, got %s", got)
	}
}

func TestEvaluateExpiryBeatsRedecisionWindow(t *testing.T) {
	t0 := time.Date(2026, time.March, 14, 15, 0, 0, 0, time.UTC)
	entry := validityEntry(t0, 300*time.Millisecond, "sig")

	got := Evaluate(entry, "sig", t0.Add(400*time.Millisecond), 500*time.Millisecond)
	if got != VerdictExpired {
		t.Fatalf("expiry must be checked before the force-valid window, got %s", got)
	}
}

func TestEvaluateAntiOscillationWindow(t *testing.T) {
	t0 := time.Date(2026, time.March, 14, 15, 0, 0, 0, time.UTC)
	entry := validityEntry(t0, 5*time.Second, "before-goal")
	window := 500 * time.Millisecond

	// Inside the window even a changed match state must not flip the
	// decision back and forth.
	if got := Evaluate(entry, "after-goal", t0.Add(499*time.Millisecond), window); got != VerdictValid {
		t.Fatalf("inside the re-decision window a changed state is still valid, got %s", got)
	}
	if got := Evaluate(entry, "after-goal", t0.Add(500*time.Millisecond), window); got != VerdictStale {
		t.Fatalf("at the window edge the signature check resumes, got %s", got)
	}
	if got := Evaluate(entry, "before-goal", t0.Add(500*time.Millisecond), window); got != VerdictValid {
		t.Fatalf("matching signature past the window stays valid, got %s", got)
	}
}

func TestEvaluateZeroWindowDisablesForceValid(t *testing.T) {
	t0 := time.Date(2026, time.March, 14, 15, 0, 0, 0, time.UTC)
	entry := validityEntry(t0, 5*time.Second, "sig")

	if got := Evaluate(entry, "other", t0.Add(time.Millisecond), 0); got != VerdictStale {
		t.Fatalf("with no window a signature mismatch is stale immediately, got %s", got)
	}
}
