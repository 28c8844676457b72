package biped

import (
	"github.com/pkg/errors"
)

var (
	// ErrBadRequest is returned when a parameter payload is absent, empty, or
	// contains a value which isn't a number.
	ErrBadRequest = errors.New("bad request")

	// ErrNotReady is returned when the robot is asked to start walking before
	// any parameters have been received.
	ErrNotReady = errors.New("parameters not received yet")
)
