package controller

import (
	"sync"
	"time"

	"github.com/adammck/biped"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (

	// How long to wait after parking, before committing new parameters. This
	// gives the servos time to reach the rest pose, so every gait starts from
	// the same place.
	DefaultSettle = 1 * time.Second
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "controller",
})

// Rester is implemented by the actuation loop.
type Rester interface {
	Rest() error
}

// Auditor records every committed set of parameters.
type Auditor interface {
	Record(p biped.Parameters) error
}

// Controller implements the control operations, independent of transport.
type Controller struct {
	state *biped.State
	legs  Rester
	audit Auditor
	clock clock.Clock

	Settle time.Duration

	// Serializes whole SetParameters sequences, including the settle wait, and
	// Start, so a start never lands before the commit which follows a park.
	seq sync.Mutex
}

// New creates a controller. The auditor may be nil.
func New(state *biped.State, legs Rester, audit Auditor, clk clock.Clock) *Controller {
	return &Controller{
		state:  state,
		legs:   legs,
		audit:  audit,
		clock:  clk,
		Settle: DefaultSettle,
	}
}

// SetParameters stops the robot, parks it, and commits the given fields on top
// of the current parameters. The robot must be started again afterwards.
func (c *Controller) SetParameters(fields map[string]interface{}) (biped.Parameters, error) {
	if len(fields) == 0 {
		return biped.Parameters{}, errors.Wrap(biped.ErrBadRequest, "no parameters")
	}

	c.seq.Lock()
	defer c.seq.Unlock()

	// Validate before touching anything, so a bad request doesn't stop the
	// robot.
	_, err := c.state.Snapshot().Parameters.Merge(fields)
	if err != nil {
		return biped.Parameters{}, err
	}

	c.state.Halt()
	c.rest()

	if c.Settle > 0 {
		c.clock.Sleep(c.Settle)
	}

	p, err := c.state.Update(fields)
	if err != nil {
		return biped.Parameters{}, err
	}

	log.Infof("parameters: %s", p)

	if c.audit != nil {
		err = c.audit.Record(p)
		if err != nil {
			log.Warnf("error writing audit log: %s", err)
		}
	}

	return p, nil
}

// Start makes the robot walk with the current parameters. If parameters are
// being set, it waits until they have been committed.
func (c *Controller) Start() error {
	c.seq.Lock()
	defer c.seq.Unlock()

	err := c.state.SetRunning(true)
	if err != nil {
		return err
	}

	log.Info("started")
	return nil
}

// Stop halts the robot and parks it. This never fails, even if parameters were
// never received.
func (c *Controller) Stop() {
	c.state.Halt()
	c.rest()
	log.Info("stopped")
}

func (c *Controller) Status() biped.RunState {
	return c.state.Status()
}

func (c *Controller) rest() {
	err := c.legs.Rest()
	if err != nil {
		log.Warnf("error while parking: %s", err)
	}
}
