package cache

import (
	"time"

	"github.com/matchsim/tacticache/internal/game"
)

// Entry is a stored decision plus the metadata the validity evaluator needs.
// Entries are immutable once inserted except for the HitCount diagnostic.
type Entry struct {
	Decision       game.Decision `json:"decision"`
	InsertedAt     time.Time     `json:"insertedAt"`
	HitCount       int64         `json:"hitCount"`
	StateSignature string        `json:"stateSignature"`
	TTL            time.Duration `json:"ttl"`
}

// ExpiresAt reports the instant the entry ages out.
func (e Entry) ExpiresAt() time.Time {
	return e.InsertedAt.Add(e.TTL)
}

// Clone deep-copies the entry so stored state never aliases caller-held
// decisions.
func (e Entry) Clone() Entry {
	out := e
	out.Decision = e.Decision.Clone()
	return out
}
