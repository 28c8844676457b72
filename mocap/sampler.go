package mocap

import (
	"context"
	"time"

	"github.com/adammck/biped/math3d"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

const (

	// How long each streaming session stays open while waiting for a frame.
	DefaultWindow = 1 * time.Second
)

var (
	// ErrBodyNotFound is returned when the tracked body isn't in the body
	// directory. Retrying won't help; the mocap system must be reconfigured.
	ErrBodyNotFound = errors.New("body not found")

	// ErrSensorTimeout is returned when MaxAttempts is set, and that many
	// sessions passed without a usable frame.
	ErrSensorTimeout = errors.New("no valid position")
)

// Sampler measures the position of a single rigid body.
type Sampler struct {
	Source Source
	Body   string
	Window time.Duration

	// Zero means retry forever.
	MaxAttempts int

	clock clock.Clock
}

func NewSampler(src Source, body string, clk clock.Clock) *Sampler {
	return &Sampler{
		Source: src,
		Body:   body,
		Window: DefaultWindow,
		clock:  clk,
	}
}

// Sample returns the current position of the body. Sessions which produce no
// frame, or a frame in which the body isn't visible, are retried until one
// does. Failures to stream are retried too, unless the connection is gone.
func (s *Sampler) Sample(ctx context.Context) (math3d.Vector3, error) {
	names, err := s.Source.Bodies(ctx)
	if err != nil {
		return math3d.Vector3{}, err
	}

	idx := -1
	for i, n := range names {
		if n == s.Body {
			idx = i
			break
		}
	}

	if idx < 0 {
		return math3d.Vector3{}, errors.Wrapf(ErrBodyNotFound, "%q not in %v", s.Body, names)
	}

	for attempt := 1; ; attempt++ {
		if s.MaxAttempts > 0 && attempt > s.MaxAttempts {
			return math3d.Vector3{}, errors.Wrapf(ErrSensorTimeout, "%s after %d attempts", s.Body, s.MaxAttempts)
		}

		if err := ctx.Err(); err != nil {
			return math3d.Vector3{}, err
		}

		log.Infof("waiting for valid mocap data (attempt %d)", attempt)

		pos, ok, err := s.capture(ctx, idx)
		if err != nil {
			if errors.Is(err, ErrDisconnected) || ctx.Err() != nil {
				return math3d.Vector3{}, err
			}

			log.Warnf("error while streaming: %s", err)
			continue
		}

		if ok && !pos.HasNaN() {
			log.Infof("valid mocap data received after %d attempts: %s", attempt, pos)
			return pos, nil
		}
	}
}

// capture opens a streaming session, and returns the position of the body in
// the first frame to arrive within the window. The bool is false if no frame
// arrived.
func (s *Sampler) capture(ctx context.Context, idx int) (math3d.Vector3, bool, error) {
	slot := make(chan math3d.Vector3, 1)

	onFrame := func(f Frame) {
		if idx >= len(f.Bodies) {
			return
		}

		select {
		case slot <- f.Bodies[idx].Position:
		default:
		}
	}

	err := s.Source.StreamFrames(ctx, onFrame)
	if err != nil {
		// Wait out the window anyway, so a failing source isn't hammered.
		s.clock.Sleep(s.Window)
		return math3d.Vector3{}, false, err
	}

	var pos math3d.Vector3
	var ok bool

	select {
	case pos = <-slot:
		ok = true
	case <-s.clock.After(s.Window):
	case <-ctx.Done():
	}

	// Always close the session, even if the caller has given up.
	err = s.Source.StopStreaming(context.WithoutCancel(ctx))
	if err != nil {
		return math3d.Vector3{}, false, errors.Wrap(err, "while stopping stream")
	}

	return pos, ok, nil
}
