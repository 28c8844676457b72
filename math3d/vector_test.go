package math3d

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMagnitude(t *testing.T) {
	type eg struct {
		input Vector3
		exp   float64
	}

	examples := []eg{
		{Vector3{}, 0},
		{Vector3{X: 300, Y: 400, Z: 0}, 500},
		{Vector3{X: -120, Y: 0, Z: 0}, 120},
		{Vector3{X: 12, Y: -4, Z: 3}, 13},
	}

	for i, x := range examples {
		assert.InDelta(t, x.exp, x.input.Magnitude(), 1e-9, "example #%d", i+1)
	}
}

func TestSubtract(t *testing.T) {
	a := Vector3{X: 1500, Y: 20, Z: 300}
	b := Vector3{X: 1000, Y: 30, Z: 300}
	assert.Equal(t, Vector3{X: 500, Y: -10, Z: 0}, a.Subtract(b))
	assert.Equal(t, Vector3{X: 0.5, Y: -0.01, Z: 0}, a.Subtract(b).Metres())
}

func TestHasNaN(t *testing.T) {
	type eg struct {
		in  Vector3
		exp bool
	}

	examples := []eg{
		{Vector3{}, false},
		{Vector3{X: 1, Y: 2, Z: 3}, false},
		{Vector3{X: math.NaN(), Y: 2, Z: 3}, true},
		{Vector3{X: 1, Y: 2, Z: math.NaN()}, true},
	}

	for i, x := range examples {
		assert.Equal(t, x.exp, x.in.HasNaN(), "example #%d", i+1)
	}
}

func TestVectorString(t *testing.T) {
	assert.Equal(t, "&Vec3{x=1.50 y=-2.00 z=300.25}", Vector3{X: 1.5, Y: -2, Z: 300.25}.String())
}
