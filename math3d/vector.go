package math3d

import (
	"fmt"
	"math"
)

// Vector3 is a position in the motion capture volume, in millimetres.
type Vector3 struct {
	X float64
	Y float64
	Z float64
}

func (v Vector3) String() string {
	return fmt.Sprintf("&Vec3{x=%0.2f y=%0.2f z=%0.2f}", v.X, v.Y, v.Z)
}

// HasNaN returns true if any component is NaN, which is how the mocap system
// reports a body which it can't currently see.
func (v Vector3) HasNaN() bool {
	return math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z)
}

// Subtract returns the vector from vv to v.
func (v Vector3) Subtract(vv Vector3) Vector3 {
	return Vector3{
		(v.X - vv.X),
		(v.Y - vv.Y),
		(v.Z - vv.Z),
	}
}

// Magnitude returns the length of the vector, in the same units.
func (v Vector3) Magnitude() float64 {
	return math.Sqrt((v.X * v.X) + (v.Y * v.Y) + (v.Z * v.Z))
}

// Metres converts each component from millimetres.
func (v Vector3) Metres() Vector3 {
	return Vector3{v.X / 1000, v.Y / 1000, v.Z / 1000}
}
