package sim

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/matchsim/tacticache/internal/decision"
	"github.com/matchsim/tacticache/internal/game"
)

const (
	pitchHalfLength = 52.5
	pitchHalfWidth  = 34.0

	halfDuration = 45 * time.Minute

	// Per-tick event odds. The goal chance is deliberately small so a soak
	// run sees possession flips far more often than full wipes.
	goalChance       = 0.004
	possessionChance = 0.03

	defaultTick    = 100 * time.Millisecond
	defaultPlayers = 6
)

// Options wires the synthetic match driver.
type Options struct {
	Cache          *decision.Cache
	Logger         *slog.Logger
	Seed           int64
	TickInterval   time.Duration
	PlayersPerTeam int
}

// Driver runs a seeded two-team match against the decision cache: every tick
// each home player resolves a decision through the facade while the ball and
// both rosters drift across the pitch, and macro events fire invalidations.
// It stands in for the host engine during demos and soak runs. All state is
// owned by the goroutine calling Run or Step.
type Driver struct {
	cache  *decision.Cache
	logger *slog.Logger
	rng    *rand.Rand
	tick   time.Duration

	home  []game.Player
	away  []game.Player
	ball  game.Position
	match game.MatchState
	ticks uint64
}

// New builds a driver. The same seed always produces the same match.
func New(opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := opts.TickInterval
	if tick <= 0 {
		tick = defaultTick
	}
	perTeam := opts.PlayersPerTeam
	if perTeam <= 0 {
		perTeam = defaultPlayers
	}
	seed := uint64(opts.Seed)
	return &Driver{
		cache:  opts.Cache,
		logger: logger.With(slog.String("component", "sim")),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		tick:   tick,
		home:   formation(perTeam, 1),
		away:   formation(perTeam, -1),
		match:  game.MatchState{Active: true, Half: 1, TimeRemaining: halfDuration},
	}
}

// Run ticks the match until the context is canceled.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	d.logger.Info("match driver starting",
		slog.Int("players_per_team", len(d.home)),
		slog.Duration("tick_interval", d.tick))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("match driver stopped", slog.Uint64("ticks", d.ticks))
			return
		case <-ticker.C:
			d.Step(ctx)
		}
	}
}

// Step advances the match by one tick: clock, movement, one decision per home
// player, then event rolls.
func (d *Driver) Step(ctx context.Context) {
	d.ticks++
	d.advanceClock(ctx)
	d.moveBall()
	d.moveSide(d.home)
	d.moveSide(d.away)
	for i := range d.home {
		gctx := d.contextFor(i)
		if _, err := d.cache.Resolve(ctx, gctx, d.produce); err != nil {
			d.logger.Warn("decision resolution failed",
				slog.String("role", string(gctx.Player.Role)), slog.Any("error", err))
		}
	}
	d.rollEvents(ctx)
}

// advanceClock burns one second of match time per tick and handles half-time
// and full-time transitions.
func (d *Driver) advanceClock(ctx context.Context) {
	d.match.TimeRemaining -= time.Second
	if d.match.TimeRemaining > 0 {
		return
	}
	if d.match.Half == 1 {
		d.match.Half = 2
		d.match.TimeRemaining = halfDuration
		d.ball = game.Position{}
		d.cache.InvalidateEvent(ctx, "half_time")
		d.logger.Info("half time",
			slog.Int("home", d.match.HomeScore), slog.Int("away", d.match.AwayScore))
		return
	}
	d.logger.Info("full time",
		slog.Int("home", d.match.HomeScore), slog.Int("away", d.match.AwayScore))
	d.match = game.MatchState{Active: true, Half: 1, TimeRemaining: halfDuration}
	d.ball = game.Position{}
	d.cache.InvalidateEvent(ctx, "kickoff")
}

func (d *Driver) moveBall() {
	d.ball.X = clamp(d.ball.X+d.jitter(2.5), -pitchHalfLength, pitchHalfLength)
	d.ball.Z = clamp(d.ball.Z+d.jitter(2.5), -pitchHalfWidth, pitchHalfWidth)
}

// moveSide drifts outfield players toward the ball with a little noise.
// Keepers hold their line.
func (d *Driver) moveSide(side []game.Player) {
	for i := range side {
		if side[i].Role == game.RoleGoalkeeper {
			continue
		}
		pos := &side[i].Position
		dx := d.ball.X - pos.X
		dz := d.ball.Z - pos.Z
		if dist := math.Hypot(dx, dz); dist > 1 {
			pos.X += dx / dist * 0.8
			pos.Z += dz / dist * 0.8
		}
		pos.X = clamp(pos.X+d.jitter(0.5), -pitchHalfLength, pitchHalfLength)
		pos.Z = clamp(pos.Z+d.jitter(0.5), -pitchHalfWidth, pitchHalfWidth)
	}
}

func (d *Driver) rollEvents(ctx context.Context) {
	roll := d.rng.Float64()
	switch {
	case roll < goalChance:
		if d.rng.Float64() < 0.5 {
			d.match.HomeScore++
		} else {
			d.match.AwayScore++
		}
		d.ball = game.Position{}
		removed := d.cache.InvalidateEvent(ctx, "goal_scored")
		d.logger.Info("goal scored",
			slog.Int("home", d.match.HomeScore),
			slog.Int("away", d.match.AwayScore),
			slog.Int("invalidated", removed))
	case roll < goalChance+possessionChance:
		removed := d.cache.InvalidateEvent(ctx, "possession_changed")
		d.logger.Debug("possession changed", slog.Int("invalidated", removed))
	}
}

func (d *Driver) contextFor(i int) game.Context {
	teammates := make([]game.Player, 0, len(d.home)-1)
	teammates = append(teammates, d.home[:i]...)
	teammates = append(teammates, d.home[i+1:]...)
	opponents := make([]game.Player, len(d.away))
	copy(opponents, d.away)
	return game.Context{
		Player:    d.home[i],
		Ball:      d.ball,
		Teammates: teammates,
		Opponents: opponents,
		Match:     d.match,
	}
}

// produce is the stand-in decision heuristic. It is purely positional so two
// drivers with the same seed replay the same match regardless of cache
// timing.
func (d *Driver) produce(_ context.Context, gctx game.Context) (game.Decision, error) {
	player := gctx.Player
	ball := gctx.Ball
	dist := player.Position.PlanarDistance(ball)

	switch {
	case player.Role == game.RoleGoalkeeper:
		return game.Decision{
			Kind:      game.KindDefendGoal,
			Target:    &game.Position{X: player.Position.X, Z: ball.Z * 0.3},
			Priority:  0.8,
			Reasoning: "hold the goal line",
		}, nil
	case ball.X < -40 && dist <= 12:
		// Deliberately uncacheable: clearing a ball off the line is a
		// one-shot call, never a plan to reuse.
		return game.Decision{
			Kind:      game.KindIntercept,
			Target:    &game.Position{X: ball.X, Z: ball.Z},
			Priority:  0.95,
			Reasoning: "emergency clearance",
		}, nil
	case dist <= 3 && ball.X > 35:
		return game.Decision{
			Kind:      game.KindShootBall,
			Target:    &game.Position{X: pitchHalfLength},
			Priority:  0.85,
			Reasoning: "strike on goal",
		}, nil
	case dist <= 3:
		if target, ok := nearestTeammate(player.Position, gctx.Teammates); ok {
			return game.Decision{
				Kind:      game.KindPassBall,
				Target:    &target,
				Priority:  0.7,
				Reasoning: "lay the ball off",
			}, nil
		}
		return game.Decision{
			Kind:      game.KindMoveToPosition,
			Target:    &game.Position{X: ball.X, Z: ball.Z},
			Priority:  0.6,
			Reasoning: "carry forward",
		}, nil
	case dist <= 12:
		return game.Decision{
			Kind:      game.KindIntercept,
			Target:    &game.Position{X: ball.X, Z: ball.Z},
			Priority:  0.65,
			Reasoning: "close down the carrier",
		}, nil
	case dist > 35:
		return game.Decision{
			Kind:      game.KindIdle,
			Priority:  0.2,
			Reasoning: "hold shape",
		}, nil
	default:
		return game.Decision{
			Kind: game.KindMoveToPosition,
			Target: &game.Position{
				X: (player.Position.X + ball.X) / 2,
				Z: (player.Position.Z + ball.Z) / 2,
			},
			Priority:  0.45,
			Reasoning: "support the play",
		}, nil
	}
}

func nearestTeammate(from game.Position, teammates []game.Player) (game.Position, bool) {
	best := game.Position{}
	bestDist := math.MaxFloat64
	found := false
	for _, mate := range teammates {
		if d := from.PlanarDistance(mate.Position); d < bestDist {
			best = mate.Position
			bestDist = d
			found = true
		}
	}
	return best, found
}

// formation lays a team out on its own side: slot 0 keeps goal, the rest
// split into defender, midfielder and forward lines. sign +1 means the team
// defends negative x.
func formation(count int, sign float64) []game.Player {
	players := make([]game.Player, 0, count)
	players = append(players, game.Player{
		Role:     game.RoleGoalkeeper,
		Position: game.Position{X: -48 * sign},
	})
	outfield := count - 1
	for i := 0; i < outfield; i++ {
		line := i * 3 / max(outfield, 1)
		var role game.Role
		var lineX float64
		switch line {
		case 0:
			role, lineX = game.RoleDefender, -30
		case 1:
			role, lineX = game.RoleMidfielder, -8
		default:
			role, lineX = game.RoleForward, 14
		}
		players = append(players, game.Player{
			Role:     role,
			Position: game.Position{X: lineX * sign, Z: float64((i%3)-1) * 12},
		})
	}
	return players
}

func (d *Driver) jitter(scale float64) float64 {
	return (d.rng.Float64()*2 - 1) * scale
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
