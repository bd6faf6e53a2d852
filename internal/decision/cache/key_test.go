package cache

import (
	"math"
	"strings"
	"testing"

	"github.com/matchsim/tacticache/internal/game"
)

func fingerprintContext() game.Context {
	return game.Context{
		Player: game.Player{Role: game.RoleForward, Position: game.Position{X: 0, Y: 0, Z: 0}},
		Ball:   game.Position{X: 0, Y: 0, Z: 0},
		Teammates: []game.Player{
			{Role: game.RoleDefender, Position: game.Position{X: 4, Y: 0, Z: 3}},
		},
		Opponents: []game.Player{
			{Role: game.RoleForward, Position: game.Position{X: 6, Y: 0, Z: 8}},
			{Role: game.RoleMidfielder, Position: game.Position{X: 9, Y: 0, Z: 9}},
		},
	}
}

func TestFingerprintSerialized(t *testing.T) {
	key := Fingerprint(fingerprintContext(), KeyOptions{})

	// Teammate at distance 5 and opponent at exactly 10 are in range, the
	// opponent at ~12.7 is not. The acting player shares the ball cell, so
	// the phase is ball control.
	want := "forward#0,0#0,0#ball_control#O:forward:6,8|T:defender:4,4"
	if got := key.Serialize(); got != want {
		t.Fatalf("serialized key mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestFingerprintAttackingThreshold(t *testing.T) {
	gctx := game.Context{
		Player: game.Player{Role: game.RoleForward, Position: game.Position{X: 10, Y: 0, Z: 0}},
		Ball:   game.Position{X: 30, Y: 0, Z: 0},
	}
	key := Fingerprint(gctx, KeyOptions{})
	if key.Phase != PhaseAttacking {
		t.Fatalf("expected attacking phase for ball x=30, got %s", key.Phase)
	}
}

func TestFingerprintPhaseResolution(t *testing.T) {
	cases := []struct {
		name     string
		ballX    float64
		player   game.Position
		teammate game.Position
		want     Phase
	}{
		{"defensive wins over possession", -20, game.Position{X: -20}, game.Position{X: 50}, PhaseDefensive},
		{"attacking wins over possession", 30, game.Position{X: 30}, game.Position{X: 50}, PhaseAttacking},
		{"player closest holds ball", 0, game.Position{X: 1}, game.Position{X: 8}, PhaseBallControl},
		{"teammate closer means support", 0, game.Position{X: 8}, game.Position{X: 1}, PhaseSupporting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gctx := game.Context{
				Player:    game.Player{Role: game.RoleMidfielder, Position: tc.player},
				Ball:      game.Position{X: tc.ballX},
				Teammates: []game.Player{{Role: game.RoleDefender, Position: tc.teammate}},
			}
			key := Fingerprint(gctx, KeyOptions{})
			if key.Phase != tc.want {
				t.Fatalf("phase = %s, want %s", key.Phase, tc.want)
			}
		})
	}
}

func TestFingerprintPhaseTieFavorsBallControl(t *testing.T) {
	gctx := game.Context{
		Player:    game.Player{Role: game.RoleMidfielder, Position: game.Position{X: 3, Y: 0, Z: 4}},
		Ball:      game.Position{X: 0, Y: 0, Z: 0},
		Teammates: []game.Player{{Role: game.RoleForward, Position: game.Position{X: -3, Y: 0, Z: 4}}},
	}
	key := Fingerprint(gctx, KeyOptions{})
	if key.Phase != PhaseBallControl {
		t.Fatalf("equidistant teammate should not demote to supporting, got %s", key.Phase)
	}
}

func TestFingerprintIgnoresRosterOrder(t *testing.T) {
	base := game.Context{
		Player: game.Player{Role: game.RoleMidfielder, Position: game.Position{X: 2, Y: 0, Z: 2}},
		Ball:   game.Position{X: 1, Y: 0, Z: 1},
		Teammates: []game.Player{
			{Role: game.RoleDefender, Position: game.Position{X: -4, Y: 0, Z: 2}},
			{Role: game.RoleForward, Position: game.Position{X: 7, Y: 0, Z: -1}},
			{Role: game.RoleGoalkeeper, Position: game.Position{X: -9, Y: 0, Z: 0}},
		},
		Opponents: []game.Player{
			{Role: game.RoleMidfielder, Position: game.Position{X: 5, Y: 0, Z: 5}},
			{Role: game.RoleDefender, Position: game.Position{X: -2, Y: 0, Z: -6}},
		},
	}
	shuffled := base.Clone()
	shuffled.Teammates[0], shuffled.Teammates[2] = shuffled.Teammates[2], shuffled.Teammates[0]
	shuffled.Opponents[0], shuffled.Opponents[1] = shuffled.Opponents[1], shuffled.Opponents[0]

	a := Fingerprint(base, KeyOptions{}).Serialize()
	b := Fingerprint(shuffled, KeyOptions{}).Serialize()
	if a != b {
		t.Fatalf("roster order changed the fingerprint:\n %q\n %q", a, b)
	}
}

func TestFingerprintQuantizesWithinCell(t *testing.T) {
	at := func(x, z float64) game.Context {
		return game.Context{
			Player: game.Player{Role: game.RoleForward, Position: game.Position{X: x, Y: 0, Z: z}},
			Ball:   game.Position{X: 0, Y: 0, Z: 0},
		}
	}
	inCell := Fingerprint(at(10.3, 5.2), KeyOptions{})
	sameCell := Fingerprint(at(10.9, 6.7), KeyOptions{})
	nextCell := Fingerprint(at(11.2, 5.2), KeyOptions{})

	if inCell.PlayerBucket != (GridPoint{X: 10, Z: 6}) {
		t.Fatalf("unexpected bucket: %+v", inCell.PlayerBucket)
	}
	if inCell.Serialize() != sameCell.Serialize() {
		t.Fatalf("positions in one grid cell should share a key")
	}
	if inCell.Serialize() == nextCell.Serialize() {
		t.Fatalf("positions in neighboring cells should not share a key")
	}
}

func TestFingerprintCustomGridSize(t *testing.T) {
	gctx := game.Context{
		Player: game.Player{Role: game.RoleDefender, Position: game.Position{X: 10.3, Y: 0, Z: 5.2}},
		Ball:   game.Position{X: 0, Y: 0, Z: 0},
	}
	key := Fingerprint(gctx, KeyOptions{GridSize: 5})
	if key.PlayerBucket != (GridPoint{X: 10, Z: 5}) {
		t.Fatalf("unexpected bucket for grid 5: %+v", key.PlayerBucket)
	}
}

func TestFingerprintNegativeZeroBucket(t *testing.T) {
	gctx := game.Context{
		Player: game.Player{Role: game.RoleDefender, Position: game.Position{X: -0.4, Y: 0, Z: -0.3}},
		Ball:   game.Position{X: -0.9, Y: 0, Z: 0},
	}
	serialized := Fingerprint(gctx, KeyOptions{}).Serialize()
	if strings.Contains(serialized, "-0") {
		t.Fatalf("negative zero leaked into key: %q", serialized)
	}
}

func TestFingerprintNonFiniteCoordinates(t *testing.T) {
	gctx := game.Context{
		Player: game.Player{Role: game.RoleForward, Position: game.Position{X: math.NaN(), Y: 0, Z: math.Inf(1)}},
		Ball:   game.Position{X: math.Inf(-1), Y: 0, Z: 0},
	}
	key := Fingerprint(gctx, KeyOptions{})
	if key.PlayerBucket != (GridPoint{}) || key.BallBucket != (GridPoint{}) {
		t.Fatalf("non-finite coordinates should collapse to the origin cell: %+v", key)
	}
	if _, err := ParseKey(key.Serialize()); err != nil {
		t.Fatalf("sanitized key should round-trip: %v", err)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	keys := []Key{
		{Role: game.RoleForward, BallBucket: GridPoint{X: 30, Z: 0}, PlayerBucket: GridPoint{X: 28, Z: -4}, Phase: PhaseAttacking, Proximity: "O:defender:26,-4|T:midfielder:24,0"},
		{Role: game.RoleGoalkeeper, BallBucket: GridPoint{X: -44, Z: 2}, PlayerBucket: GridPoint{X: -50, Z: 0}, Phase: PhaseDefensive, Proximity: ""},
		{Role: "sweeper", BallBucket: GridPoint{X: 0.5, Z: -1.5}, PlayerBucket: GridPoint{X: 0, Z: 0}, Phase: PhaseBallControl, Proximity: "T:sweeper:0,0"},
	}
	for _, key := range keys {
		parsed, err := ParseKey(key.Serialize())
		if err != nil {
			t.Fatalf("parse %q: %v", key.Serialize(), err)
		}
		if parsed != key {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", parsed, key)
		}
	}
}

func TestParseKeyErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"too few sections", "forward#0,0#0,0#attacking"},
		{"too many sections", "forward#0,0#0,0#attacking#prox#extra"},
		{"missing role", "#0,0#0,0#attacking#"},
		{"bad ball bucket", "forward#zero,0#0,0#attacking#"},
		{"bad player bucket", "forward#0,0#0;0#attacking#"},
		{"unknown phase", "forward#0,0#0,0#celebrating#"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseKey(tc.raw); err == nil {
				t.Fatalf("expected parse error for %q", tc.raw)
			}
		})
	}
}

func TestProximityRangeConfigurable(t *testing.T) {
	gctx := game.Context{
		Player: game.Player{Role: game.RoleForward, Position: game.Position{X: 0, Y: 0, Z: 0}},
		Ball:   game.Position{X: 0, Y: 0, Z: 0},
		Opponents: []game.Player{
			{Role: game.RoleDefender, Position: game.Position{X: 0, Y: 0, Z: 7}},
		},
	}
	wide := Fingerprint(gctx, KeyOptions{})
	narrow := Fingerprint(gctx, KeyOptions{ProximityRange: 5})
	if wide.Proximity == "" {
		t.Fatalf("opponent at distance 7 should be inside the default range")
	}
	if narrow.Proximity != "" {
		t.Fatalf("opponent at distance 7 should drop out of a 5-unit range, got %q", narrow.Proximity)
	}
}

func TestProximityIgnoresElevation(t *testing.T) {
	gctx := game.Context{
		Player: game.Player{Role: game.RoleForward, Position: game.Position{X: 0, Y: 0, Z: 0}},
		Ball:   game.Position{X: 0, Y: 0, Z: 0},
		Opponents: []game.Player{
			{Role: game.RoleGoalkeeper, Position: game.Position{X: 0, Y: 40, Z: 6}},
		},
	}
	key := Fingerprint(gctx, KeyOptions{})
	if key.Proximity != "O:goalkeeper:0,6" {
		t.Fatalf("planar distance should ignore Y, got %q", key.Proximity)
	}
}
