package biped

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "biped",
})

// Component is a long-running part of the robot, e.g. the actuation loop or
// the control surface.
type Component interface {
	Name() string
	Boot() error

	// Run blocks until the context is cancelled or the component fails.
	Run(ctx context.Context) error
}

// Robot owns the shared state, and the components which read and write it.
type Robot struct {
	Layout     Layout
	State      *State
	Components []Component
}

// NewRobot creates a new Robot with the given layout, holding the default
// gait until some parameters are received.
func NewRobot(layout Layout, initial Parameters) *Robot {
	return &Robot{
		Layout:     layout,
		State:      NewState(initial),
		Components: []Component{},
	}
}

// Add registers a component to be booted and run.
func (r *Robot) Add(c Component) {
	r.Components = append(r.Components, c)
}

// Boot calls Boot on each component, in the order they were added.
func (r *Robot) Boot() error {
	for _, c := range r.Components {
		log.Infof("booting %s", c.Name())
		err := c.Boot()
		if err != nil {
			return err
		}
	}

	return nil
}

// Run runs every component until the context is cancelled. If any of them
// fails, the others are cancelled and the first error is returned.
func (r *Robot) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, c := range r.Components {
		c := c
		g.Go(func() error {
			log.Infof("running %s", c.Name())
			err := c.Run(ctx)
			if err != nil {
				log.Errorf("%s failed: %s", c.Name(), err)
			}

			return err
		})
	}

	return g.Wait()
}
