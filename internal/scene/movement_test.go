package scene

import (
	"math"
	"math/rand"
	"testing"

	"holding-parade/server/internal/render"
)

func TestMovementStaysWithinOneStepOfRadius(t *testing.T) {
	cfg := DefaultConfig().normalized()
	const dt = 0.1
	step := cfg.RunSpeed * dt

	for seed := int64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewSource(seed))
		angle := randomAngle(rng)
		r := rng.Float64() * cfg.RoamRadius
		pos := render.Vec3{X: r * math.Sin(angle), Z: r * math.Cos(angle)}
		var m Movement
		for i := 0; i < 5000; i++ {
			pos = m.Step(pos, cfg.RunSpeed, dt, cfg, rng)
			if d := math.Hypot(pos.X, pos.Z); d > cfg.RoamRadius+step+1e-9 {
				t.Fatalf("seed %d step %d: distance %.4f exceeds radius %.1f by more than one step", seed, i, d, cfg.RoamRadius)
			}
		}
	}
}

func TestMovementOutsideRadiusNeverMovesFurtherOut(t *testing.T) {
	cfg := DefaultConfig().normalized()
	const dt = 0.1
	for seed := int64(1); seed <= 10; seed++ {
		rng := rand.New(rand.NewSource(seed))
		pos := render.Vec3{X: 3 * cfg.RoamRadius}
		// Heading straight away from the center.
		m := Movement{DirX: 1, Countdown: 100}
		prev := math.Hypot(pos.X, pos.Z)
		for i := 0; i < 2000; i++ {
			pos = m.Step(pos, cfg.RunSpeed, dt, cfg, rng)
			d := math.Hypot(pos.X, pos.Z)
			if prev > cfg.RoamRadius && d >= prev {
				t.Fatalf("seed %d step %d: distance grew from %.4f to %.4f outside the radius", seed, i, prev, d)
			}
			prev = d
		}
		if prev > cfg.RoamRadius+cfg.RunSpeed*dt {
			t.Fatalf("seed %d: never came back, distance %.4f", seed, prev)
		}
	}
}

func TestMovementRedrawsDirectionOnCountdown(t *testing.T) {
	cfg := DefaultConfig().normalized()
	rng := rand.New(rand.NewSource(3))
	var m Movement
	m.Step(render.Vec3{}, 1, 0.1, cfg, rng)
	if m.Countdown < cfg.DirectionMin-0.1 || m.Countdown > cfg.DirectionMax {
		t.Fatalf("countdown %.2f outside [%v, %v]", m.Countdown, cfg.DirectionMin, cfg.DirectionMax)
	}
	if got := math.Hypot(m.DirX, m.DirZ); math.Abs(got-1) > 1e-9 {
		t.Fatalf("direction not unit length: %v", got)
	}
}

func TestMovementStationaryWithoutSpeed(t *testing.T) {
	cfg := DefaultConfig().normalized()
	rng := rand.New(rand.NewSource(3))
	var m Movement
	start := render.Vec3{X: 1, Z: 2}
	if got := m.Step(start, 0, 0.1, cfg, rng); got != start {
		t.Fatalf("expected no movement, got %+v", got)
	}
}

func TestDampAngleTakesShortestArc(t *testing.T) {
	got := dampAngle(math.Pi-0.1, -math.Pi+0.1, 8, 0.1)
	if math.Abs(wrapAngle(got-math.Pi)) > 0.2 {
		t.Fatalf("expected heading to stay near pi, got %v", got)
	}
	if got := dampAngle(0, 1, 8, 10); math.Abs(got-1) > 1e-6 {
		t.Fatalf("expected convergence after a long step, got %v", got)
	}
	if got := dampAngle(0.5, 1, 8, 0); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("zero dt must not move heading, got %v", got)
	}
}
