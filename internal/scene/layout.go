package scene

import (
	"math"

	"holding-parade/server/internal/render"
)

// GridLayout places n slots on a near-square grid centered at the origin.
// Slots fill row by row, so index order is rank order.
func GridLayout(n int, spacing float64) []render.Vec3 {
	if n <= 0 {
		return nil
	}
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols
	width := float64(cols-1) * spacing
	depth := float64(rows-1) * spacing

	slots := make([]render.Vec3, n)
	for i := range slots {
		col := i % cols
		row := i / cols
		slots[i] = render.Vec3{
			X: float64(col)*spacing - width/2,
			Z: float64(row)*spacing - depth/2,
		}
	}
	return slots
}
