package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"holding-parade/server/internal/render"
)

func TestGridLayoutSingleSlotIsOrigin(t *testing.T) {
	assert.Equal(t, []render.Vec3{{}}, GridLayout(1, 3))
	assert.Nil(t, GridLayout(0, 3))
}

func TestGridLayoutIsCenteredAndRowMajor(t *testing.T) {
	slots := GridLayout(5, 2)
	// 5 slots -> 3 columns, 2 rows.
	assert.Equal(t, []render.Vec3{
		{X: -2, Z: -1}, {X: 0, Z: -1}, {X: 2, Z: -1},
		{X: -2, Z: 1}, {X: 0, Z: 1},
	}, slots)
}

func TestGridLayoutSquare(t *testing.T) {
	slots := GridLayout(4, 3)
	var sumX, sumZ float64
	for _, s := range slots {
		sumX += s.X
		sumZ += s.Z
	}
	assert.Zero(t, sumX)
	assert.Zero(t, sumZ)
	assert.Equal(t, render.Vec3{X: -1.5, Z: -1.5}, slots[0])
	assert.Equal(t, render.Vec3{X: 1.5, Z: 1.5}, slots[3])
}
