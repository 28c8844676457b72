package legs

import (
	"context"
	"sync"
	"time"

	"github.com/adammck/biped"
	"github.com/adammck/biped/components/legs/gait"
	"github.com/adammck/biped/servos"
	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

type State string

const (
	sDefault State = ""
	sIdle    State = "sIdle"
	sWalking State = "sWalking"

	// How long to wait between ticks while the robot isn't walking. There's
	// nothing to do but check whether it has been started.
	DefaultIdleInterval = 100 * time.Millisecond

	// The shortest sleep between two walking ticks. Only matters when speed is
	// zero or negative, which would otherwise spin.
	minWalkInterval = time.Millisecond
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "legs",
})

// Legs is the actuation loop. While the robot is running, it advances the gait
// by Speed on every tick, and commands each joint to its position on the
// waveform. While stopped, it holds the rest pose.
type Legs struct {
	params *biped.State
	driver servos.Driver
	layout biped.Layout
	gait   *gait.Gait
	clock  clock.Clock

	IdleInterval time.Duration

	// How long to wait after commanding the rest pose at boot, to give the
	// servos time to get there before the first tick.
	BootDelay time.Duration

	// Held for the whole of each tick, and while commanding the rest pose, so
	// that the two are never interleaved.
	mu sync.Mutex

	// The state that the legs are currently in.
	State        State
	stateCounter int

	// Position in the gait cycle. This isn't reset when the robot stops, so
	// restarting resumes where it left off.
	t float64

	degraded Latch
}

func New(params *biped.State, driver servos.Driver, layout biped.Layout, clk clock.Clock) *Legs {
	return &Legs{
		params:       params,
		driver:       driver,
		layout:       layout,
		gait:         gait.New(layout),
		clock:        clk,
		IdleInterval: DefaultIdleInterval,
		State:        sDefault,
	}
}

func (l *Legs) Name() string {
	return "legs"
}

// Boot moves every joint to its rest pose. Channels which fail are logged, but
// aren't fatal; the robot can still be driven if they recover.
func (l *Legs) Boot() error {
	err := l.Rest()
	if err != nil {
		log.Warnf("error while moving to rest pose: %s", err)
	}

	if l.BootDelay > 0 {
		log.Infof("waiting %s for servos to settle", l.BootDelay)
		l.clock.Sleep(l.BootDelay)
	}

	return nil
}

func (l *Legs) SetState(s State) {
	log.Infof("state=%v", s)
	l.stateCounter = 0
	l.State = s
}

// Tick performs a single iteration of the loop, and returns how long to sleep
// before the next one.
func (l *Legs) Tick() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stateCounter += 1
	snap := l.params.Snapshot()

	if !snap.Running || !snap.ParametersReceived {

		// Park on the transition into idle, but not on every idle tick, so the
		// servos can be moved by whatever else wants to.
		if l.State != sIdle {
			l.SetState(sIdle)
			l.send(l.gait.Rest())
		}

		return l.IdleInterval
	}

	if l.State != sWalking {
		l.SetState(sWalking)
		log.Infof("walking with %s", snap.Parameters)
	}

	speed := snap.Parameters.Speed
	l.t += speed
	l.send(l.gait.Frame(snap.Parameters, l.t))

	d := time.Duration(speed * float64(time.Second))
	if d < minWalkInterval {
		d = minWalkInterval
	}

	return d
}

// Run ticks until the context is cancelled, then parks at the rest pose. It
// never returns an error; hardware failures are logged and retried on the
// next tick.
func (l *Legs) Run(ctx context.Context) error {
	for {
		d := l.Tick()

		select {
		case <-ctx.Done():
			log.Infof("stopping after %d ticks in %s", l.ticks(), l.state())
			if err := l.Rest(); err != nil {
				log.Warnf("error while moving to rest pose: %s", err)
			}
			return nil

		case <-l.clock.After(d):
		}
	}
}

// Rest commands every joint to its rest pose. This doesn't stop the robot; if
// it's running, the next tick will move the joints again.
func (l *Legs) Rest() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.send(l.gait.Rest())
}

// Degraded returns true if every channel failed during the most recent command.
func (l *Legs) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded.Value()
}

// Phase returns the current position in the gait cycle.
func (l *Legs) Phase() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.t
}

func (l *Legs) ticks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateCounter
}

func (l *Legs) state() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.State
}

// send commands every joint in the frame, in layout order. Failed channels are
// skipped, and their errors combined. Must be called with mu held.
func (l *Legs) send(f gait.Frame) error {
	var errs error
	sent, failed := 0, 0

	for _, j := range l.layout.Joints {
		pos, ok := f[j.Channel]
		if !ok {
			continue
		}

		sent += 1
		err := l.driver.SetPosition(j.Channel, pos)
		if err != nil {
			failed += 1
			errs = multierr.Append(errs, err)
		}
	}

	allFailed := sent > 0 && failed == sent

	switch l.degraded.Set(allFailed) {
	case Rising:
		log.Errorf("all %d channels failing, running degraded: %s", sent, errs)
	case Falling:
		log.Infof("recovered from degraded mode")
	default:
		if errs != nil && !allFailed {
			log.Warnf("%d/%d channels failed: %s", failed, sent, errs)
		}
	}

	return errs
}
