package servos

import (
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "servos",
})

// Driver sends position commands to a bank of servos. Positions are raw
// actuator commands, in whatever unit the layout was calibrated in. For the
// PWM boards, that's the 12-bit pulse width at the configured frequency.
type Driver interface {
	SetPosition(channel int, pos int) error

	// Relax stops driving a channel, so the servo can be moved by hand.
	Relax(channel int) error

	Close() error
}

// Shutdown relaxes every given channel, then closes the driver. This should be
// called before terminating the program, to ensure that servos don't stay
// powered up indefinitely. Every channel is attempted even if some fail.
func Shutdown(d Driver, channels []int) error {
	var err error

	for _, ch := range channels {
		if e := d.Relax(ch); e != nil {
			log.Warnf("error relaxing channel %d: %s", ch, e)
			err = multierr.Append(err, e)
		}
	}

	return multierr.Append(err, d.Close())
}
