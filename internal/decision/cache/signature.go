package cache

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/matchsim/tacticache/internal/game"
)

// signatureTimeBucket coarsens the clock so the signature only shifts every
// ten seconds of match time rather than every tick.
const signatureTimeBucket = 10 * time.Second

// MatchSignature computes a deterministic FNV-1a hash of the macro match
// situation: live flag, half, bucketed time remaining, and both scores. A
// cached entry whose signature no longer matches was decided in a different
// game even when the positional key still lines up.
func MatchSignature(m game.MatchState) string {
	h := fnv.New64a()
	active := "0"
	if m.Active {
		active = "1"
	}
	_, _ = h.Write([]byte(active))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(strconv.Itoa(m.Half)))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(strconv.FormatInt(int64(m.TimeRemaining/signatureTimeBucket), 10)))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(strconv.Itoa(m.HomeScore)))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(strconv.Itoa(m.AwayScore)))
	return fmt.Sprintf("%016x", h.Sum64())
}
