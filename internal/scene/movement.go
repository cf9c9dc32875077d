package scene

import (
	"math"
	"math/rand"

	"holding-parade/server/internal/render"
)

// Movement is the random-wander state of one entity. Direction is a unit
// vector on the ground plane.
type Movement struct {
	DirX      float64
	DirZ      float64
	Countdown float64
}

// Step advances pos by speed*dt along the current direction and returns the
// new position. Beyond radius the direction is blended toward the center and
// keeps enough inward component that the next position is no farther out, so
// an entity overshoots the radius by at most one step.
func (m *Movement) Step(pos render.Vec3, speed, dt float64, cfg Config, rng *rand.Rand) render.Vec3 {
	if dt <= 0 || speed <= 0 {
		return pos
	}
	m.Countdown -= dt
	if m.Countdown <= 0 || (m.DirX == 0 && m.DirZ == 0) {
		angle := randomAngle(rng)
		m.DirX, m.DirZ = math.Sin(angle), math.Cos(angle)
		m.Countdown = uniform(rng, cfg.DirectionMin, cfg.DirectionMax)
	}

	step := speed * dt
	dist := math.Hypot(pos.X, pos.Z)
	if dist > cfg.RoamRadius && dist > 0 {
		inX, inZ := -pos.X/dist, -pos.Z/dist
		blend := 1 - math.Exp(-cfg.TurnRate*dt)
		m.DirX, m.DirZ = normalize2(m.DirX+(inX-m.DirX)*blend, m.DirZ+(inZ-m.DirZ)*blend, inX, inZ)
		m.DirX, m.DirZ = ensureInward(m.DirX, m.DirZ, inX, inZ, math.Min(1, step/dist))
	}

	pos.X += m.DirX * step
	pos.Z += m.DirZ * step
	return pos
}

// Heading is the yaw that faces along the current direction.
func (m *Movement) Heading() float64 {
	return math.Atan2(m.DirX, m.DirZ)
}

// ensureInward rotates (x, z) the least amount needed so its component along
// the inward unit vector is at least minInward.
func ensureInward(x, z, inX, inZ, minInward float64) (float64, float64) {
	c := x*inX + z*inZ
	if c >= minInward {
		return x, z
	}
	tx, tz := x-c*inX, z-c*inZ
	tlen := math.Hypot(tx, tz)
	if tlen < 1e-9 {
		// Pointing straight out: pick either perpendicular.
		tx, tz, tlen = -inZ, inX, 1
	}
	tx, tz = tx/tlen, tz/tlen
	side := math.Sqrt(math.Max(0, 1-minInward*minInward))
	return minInward*inX + side*tx, minInward*inZ + side*tz
}

func normalize2(x, z, fallbackX, fallbackZ float64) (float64, float64) {
	length := math.Hypot(x, z)
	if length < 1e-9 {
		return fallbackX, fallbackZ
	}
	return x / length, z / length
}

// dampAngle moves current toward target along the shortest arc with
// frame-rate independent exponential smoothing.
func dampAngle(current, target, lambda, dt float64) float64 {
	diff := wrapAngle(target - current)
	return wrapAngle(current + diff*(1-math.Exp(-lambda*dt)))
}

func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
