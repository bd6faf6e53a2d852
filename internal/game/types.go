package game

import (
	"math"
	"time"
)

// Role identifies the tactical role an AI player fills. The constants below
// cover the stock formation; match scripts may introduce further role strings
// without touching this package.
type Role string

const (
	RoleGoalkeeper Role = "goalkeeper"
	RoleDefender   Role = "defender"
	RoleMidfielder Role = "midfielder"
	RoleForward    Role = "forward"
)

// Kind enumerates the decision actions the AI heuristics emit. Custom kinds
// are permitted; unlisted kinds fall into the baseline TTL class.
type Kind string

const (
	KindMoveToPosition Kind = "move_to_position"
	KindDefendGoal     Kind = "defend_goal"
	KindPassBall       Kind = "pass_ball"
	KindShootBall      Kind = "shoot_ball"
	KindIntercept      Kind = "intercept"
	KindIdle           Kind = "idle"
)

// Position locates an entity on the pitch. Tactical reasoning happens on the
// ground plane, so Y carries height only for the host's benefit.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PlanarDistance measures the ground-plane distance to another position,
// ignoring height.
func (p Position) PlanarDistance(o Position) float64 {
	dx := p.X - o.X
	dz := p.Z - o.Z
	return math.Sqrt(dx*dx + dz*dz)
}

// Player pairs a role with a pitch position.
type Player struct {
	Role     Role     `json:"role"`
	Position Position `json:"position"`
}

// MatchState carries the macro-level match situation: whether play is live,
// which half is running, how much time remains, and both scores.
type MatchState struct {
	Active        bool          `json:"active"`
	Half          int           `json:"half"`
	TimeRemaining time.Duration `json:"timeRemaining"`
	HomeScore     int           `json:"homeScore"`
	AwayScore     int           `json:"awayScore"`
}

// Context is the snapshot of game state the decision cache fingerprints. It
// is assembled by the host adapter once per tick per player.
type Context struct {
	Player    Player     `json:"player"`
	Ball      Position   `json:"ball"`
	Teammates []Player   `json:"teammates"`
	Opponents []Player   `json:"opponents"`
	Match     MatchState `json:"match"`
}

// Decision is the AI output the cache memoizes. Target is optional; Priority
// runs 0.0 to 1.0; Reasoning is a free-text tag the cacheability policy
// inspects.
type Decision struct {
	Kind      Kind      `json:"kind"`
	Target    *Position `json:"target,omitempty"`
	Priority  float64   `json:"priority"`
	Reasoning string    `json:"reasoning,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy so cached snapshots stay immutable when the
// caller later mutates its decision.
func (d Decision) Clone() Decision {
	out := d
	if d.Target != nil {
		target := *d.Target
		out.Target = &target
	}
	return out
}

// Clone deep-copies the context, detaching the entity slices.
func (c Context) Clone() Context {
	out := c
	out.Teammates = clonePlayers(c.Teammates)
	out.Opponents = clonePlayers(c.Opponents)
	return out
}

func clonePlayers(in []Player) []Player {
	if len(in) == 0 {
		return nil
	}
	out := make([]Player, len(in))
	copy(out, in)
	return out
}
