package cache

import "time"

// Verdict is the validity evaluator's judgement on a cached entry.
type Verdict string

const (
	// VerdictValid means the entry may be reused as-is.
	VerdictValid Verdict = "valid"
	// VerdictExpired means the entry outlived its TTL.
	VerdictExpired Verdict = "expired"
	// VerdictStale means the macro match situation moved on even though the
	// positional key still matches.
	VerdictStale Verdict = "stale"
)

// Evaluate decides whether a cached entry is still usable. Check order is
// deliberate: expiry is absolute and always wins; the anti-oscillation window
// then force-validates young entries, waiving only the signature comparison.
// Trading a little staleness inside that window keeps players from flipping
// decisions every animation frame.
func Evaluate(entry Entry, signature string, now time.Time, minRedecision time.Duration) Verdict {
	age := now.Sub(entry.InsertedAt)
	if age > entry.TTL {
		return VerdictExpired
	}
	if minRedecision > 0 && age < minRedecision {
		return VerdictValid
	}
	if signature != entry.StateSignature {
		return VerdictStale
	}
	return VerdictValid
}
