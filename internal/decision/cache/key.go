package cache

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/matchsim/tacticache/internal/game"
)

// Phase classifies the tactical situation a decision was made in. Phases are
// a closed enumeration; serialized keys carrying anything else fail ParseKey.
type Phase string

const (
	PhaseDefensive   Phase = "defensive"
	PhaseAttacking   Phase = "attacking"
	PhaseBallControl Phase = "ball_control"
	PhaseSupporting  Phase = "supporting"
)

const (
	DefaultGridSize       = 2.0
	DefaultProximityRange = 10.0
	DefaultDefensiveX     = -15.0
	DefaultAttackingX     = 25.0
)

// sectionSeparator joins the five key sections. Roles and phases are closed
// enumerations and bucket coordinates are numeric, so no section can contain
// it; ParseKey still verifies the section count defensively.
const sectionSeparator = "#"

// KeyOptions tunes fingerprint quantization. The zero value resolves to the
// stock pitch geometry.
type KeyOptions struct {
	GridSize        float64
	ProximityRange  float64
	DefensiveBelowX float64
	AttackingAboveX float64
}

func (o KeyOptions) withDefaults() KeyOptions {
	if o.GridSize <= 0 || !isFinite(o.GridSize) {
		o.GridSize = DefaultGridSize
	}
	if o.ProximityRange <= 0 || !isFinite(o.ProximityRange) {
		o.ProximityRange = DefaultProximityRange
	}
	if !isFinite(o.DefensiveBelowX) || !isFinite(o.AttackingAboveX) || o.AttackingAboveX <= o.DefensiveBelowX {
		o.DefensiveBelowX = DefaultDefensiveX
		o.AttackingAboveX = DefaultAttackingX
	}
	return o
}

// GridPoint is a position snapped onto the quantization grid, ground plane
// only.
type GridPoint struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Key identifies a class of equivalent decision contexts. Two contexts that
// fingerprint to the same Key are close enough for one cached decision to
// serve both.
type Key struct {
	Role         game.Role `json:"role"`
	BallBucket   GridPoint `json:"ballBucket"`
	PlayerBucket GridPoint `json:"playerBucket"`
	Phase        Phase     `json:"phase"`
	Proximity    string    `json:"proximity"`
}

// Fingerprint derives the quantized cache key for a context. It is a pure
// function of its input: degenerate contexts (no entities, non-finite
// coordinates) yield a well-formed key rather than an error.
func Fingerprint(gctx game.Context, opts KeyOptions) Key {
	opts = opts.withDefaults()
	ball := sanitizePosition(gctx.Ball)
	player := sanitizePosition(gctx.Player.Position)
	return Key{
		Role:         gctx.Player.Role,
		BallBucket:   snapToGrid(ball, opts.GridSize),
		PlayerBucket: snapToGrid(player, opts.GridSize),
		Phase:        phaseFor(ball, player, gctx.Teammates, opts),
		Proximity:    proximityFingerprint(player, gctx.Teammates, gctx.Opponents, opts),
	}
}

// phaseFor resolves the game phase in priority order: field position first,
// then possession. The closest-teammate comparison is non-strict, so a
// distance tie still counts as ball control.
func phaseFor(ball, player game.Position, teammates []game.Player, opts KeyOptions) Phase {
	switch {
	case ball.X < opts.DefensiveBelowX:
		return PhaseDefensive
	case ball.X > opts.AttackingAboveX:
		return PhaseAttacking
	}
	own := player.PlanarDistance(ball)
	for _, mate := range teammates {
		if sanitizePosition(mate.Position).PlanarDistance(ball) < own {
			return PhaseSupporting
		}
	}
	return PhaseBallControl
}

// proximityFingerprint encodes every teammate and opponent within range as
// "{T|O}:{role}:{bx},{bz}", sorted lexicographically so identical entity sets
// produce byte-identical strings regardless of iteration order.
func proximityFingerprint(player game.Position, teammates, opponents []game.Player, opts KeyOptions) string {
	entries := make([]string, 0, len(teammates)+len(opponents))
	appendSide := func(side string, players []game.Player) {
		for _, p := range players {
			pos := sanitizePosition(p.Position)
			if player.PlanarDistance(pos) > opts.ProximityRange {
				continue
			}
			point := snapToGrid(pos, opts.GridSize)
			entries = append(entries, side+":"+string(p.Role)+":"+formatCoord(point.X)+","+formatCoord(point.Z))
		}
	}
	appendSide("T", teammates)
	appendSide("O", opponents)
	sort.Strings(entries)
	return strings.Join(entries, "|")
}

// Serialize flattens the key into its canonical string form:
// role#ballX,ballZ#playerX,playerZ#phase#proximity.
func (k Key) Serialize() string {
	var b strings.Builder
	b.WriteString(string(k.Role))
	b.WriteString(sectionSeparator)
	b.WriteString(formatCoord(k.BallBucket.X))
	b.WriteString(",")
	b.WriteString(formatCoord(k.BallBucket.Z))
	b.WriteString(sectionSeparator)
	b.WriteString(formatCoord(k.PlayerBucket.X))
	b.WriteString(",")
	b.WriteString(formatCoord(k.PlayerBucket.Z))
	b.WriteString(sectionSeparator)
	b.WriteString(string(k.Phase))
	b.WriteString(sectionSeparator)
	b.WriteString(k.Proximity)
	return b.String()
}

// ParseKey reverses Serialize. Stored keys that fail to parse can never match
// a lookup again, so callers treat the error as grounds for removal rather
// than escalation.
func ParseKey(raw string) (Key, error) {
	sections := strings.Split(raw, sectionSeparator)
	if len(sections) != 5 {
		return Key{}, fmt.Errorf("cache: key %q: expected 5 sections, got %d", raw, len(sections))
	}
	if sections[0] == "" {
		return Key{}, fmt.Errorf("cache: key %q: empty role", raw)
	}
	ballBucket, err := parseGridPoint(sections[1])
	if err != nil {
		return Key{}, fmt.Errorf("cache: key %q: ball bucket: %w", raw, err)
	}
	playerBucket, err := parseGridPoint(sections[2])
	if err != nil {
		return Key{}, fmt.Errorf("cache: key %q: player bucket: %w", raw, err)
	}
	phase := Phase(sections[3])
	switch phase {
	case PhaseDefensive, PhaseAttacking, PhaseBallControl, PhaseSupporting:
	default:
		return Key{}, fmt.Errorf("cache: key %q: unknown phase %q", raw, sections[3])
	}
	return Key{
		Role:         game.Role(sections[0]),
		BallBucket:   ballBucket,
		PlayerBucket: playerBucket,
		Phase:        phase,
		Proximity:    sections[4],
	}, nil
}

func parseGridPoint(raw string) (GridPoint, error) {
	coords := strings.Split(raw, ",")
	if len(coords) != 2 {
		return GridPoint{}, fmt.Errorf("expected x,z pair, got %q", raw)
	}
	x, err := strconv.ParseFloat(coords[0], 64)
	if err != nil {
		return GridPoint{}, fmt.Errorf("x coordinate %q: %w", coords[0], err)
	}
	z, err := strconv.ParseFloat(coords[1], 64)
	if err != nil {
		return GridPoint{}, fmt.Errorf("z coordinate %q: %w", coords[1], err)
	}
	return GridPoint{X: x, Z: z}, nil
}

func snapToGrid(p game.Position, grid float64) GridPoint {
	return GridPoint{X: bucketCoord(p.X, grid), Z: bucketCoord(p.Z, grid)}
}

func bucketCoord(v, grid float64) float64 {
	b := math.Round(v/grid) * grid
	if b == 0 {
		return 0 // normalizes the -0 bucket
	}
	return b
}

// formatCoord renders coordinates with the shortest exact representation so
// Serialize and ParseKey round-trip without loss.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sanitizePosition(p game.Position) game.Position {
	return game.Position{X: finiteOrZero(p.X), Y: finiteOrZero(p.Y), Z: finiteOrZero(p.Z)}
}

func finiteOrZero(v float64) float64 {
	if !isFinite(v) {
		return 0
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
