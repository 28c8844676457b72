package mocap

import (
	"context"

	"github.com/adammck/biped/math3d"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "mocap",
})

// Body is the pose of a single rigid body in one frame. Bodies which the
// cameras can't see have NaN positions.
type Body struct {
	Position math3d.Vector3

	// Row-major rotation matrix.
	Rotation [9]float64
}

// Frame is a single sample of every rigid body, in the same order as the body
// directory.
type Frame struct {
	Timestamp int64
	Number    uint32
	Bodies    []Body
}

// Source is a motion capture system which can stream 6DOF body poses.
type Source interface {

	// Bodies returns the names of every rigid body, in the order in which they
	// appear in frames.
	Bodies(ctx context.Context) ([]string, error)

	// StreamFrames starts streaming, and calls onFrame for each frame until
	// StopStreaming is called. It doesn't block.
	StreamFrames(ctx context.Context, onFrame func(Frame)) error

	StopStreaming(ctx context.Context) error
}
