package trial

import (
	"context"
	"math"
	"time"

	"github.com/adammck/biped"
	"github.com/adammck/biped/math3d"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// How long the robot walks for in each trial.
	DefaultDuration = 20 * time.Second
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "trial",
})

// Sampler measures the position of the robot.
type Sampler interface {
	Sample(ctx context.Context) (math3d.Vector3, error)
}

// Control is the remote control surface of the robot.
type Control interface {
	SetParameters(ctx context.Context, p biped.Parameters) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Runner evaluates a gait by walking the robot and measuring how far it got.
type Runner struct {
	Sampler  Sampler
	Control  Control
	Duration time.Duration

	clock clock.Clock
}

func New(s Sampler, c Control, clk clock.Clock) *Runner {
	return &Runner{
		Sampler:  s,
		Control:  c,
		Duration: DefaultDuration,
		clock:    clk,
	}
}

// Run walks the robot with the given parameters for Duration, and returns the
// distance travelled along the X axis, in metres. Once started, a trial always
// runs to completion; cancelling the context has no effect.
func (r *Runner) Run(ctx context.Context, p biped.Parameters) (float64, error) {
	ctx = context.WithoutCancel(ctx)

	start, err := r.Sampler.Sample(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "while measuring start position")
	}
	log.Infof("start position: %s", start)

	err = r.Control.SetParameters(ctx, p)
	if err != nil {
		return 0, errors.Wrap(err, "while sending parameters")
	}

	err = r.Control.Start(ctx)
	if err != nil {
		r.stop(ctx)
		return 0, errors.Wrap(err, "while starting")
	}

	log.Infof("walking for %s", r.Duration)
	r.clock.Sleep(r.Duration)

	err = r.Control.Stop(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "while stopping")
	}

	end, err := r.Sampler.Sample(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "while measuring end position")
	}
	log.Infof("end position: %s", end)

	// Only progress along X counts; the rest is drift.
	delta := end.Subtract(start).Metres()
	d := math.Abs(delta.X)
	log.Infof("the robot moved %.2f metres (%.2f in total)", d, delta.Magnitude())

	return d, nil
}

// stop tries to leave the robot stopped after a failure.
func (r *Runner) stop(ctx context.Context) {
	err := r.Control.Stop(ctx)
	if err != nil {
		log.Warnf("error while stopping after failure: %s", err)
	}
}
