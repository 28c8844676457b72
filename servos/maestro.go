package servos

import (
	"fmt"
	"io"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

const (
	// Compact protocol command.
	cmdSetTarget = 0x84

	// Maestro channels are limited by the largest model.
	maestroChannels = 24
)

// Maestro drives servos via a Pololu Maestro USB servo controller, using the
// compact serial protocol. Positions are interpreted the same way as for the
// PCA9685, so layouts can be moved between the two without recalibrating.
type Maestro struct {
	port io.ReadWriteCloser
	freq physic.Frequency
}

// NewMaestro wraps an open serial port. The frequency is the PWM frequency
// which positions were calibrated at, usually DefaultFrequency.
func NewMaestro(port io.ReadWriteCloser, freq physic.Frequency) *Maestro {
	return &Maestro{
		port: port,
		freq: freq,
	}
}

// OpenMaestro opens the given serial port and returns a Maestro on it.
func OpenMaestro(name string, baud uint, freq physic.Frequency) (*Maestro, error) {
	options := serial.OpenOptions{
		PortName:        name,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}

	port, err := serial.Open(options)
	if err != nil {
		return nil, errors.Wrapf(err, "while opening %s", name)
	}

	log.Infof("maestro on %s at %d baud", name, baud)
	return NewMaestro(port, freq), nil
}

// SetPosition converts the position to a pulse width and sends it as the
// target of the channel.
func (m *Maestro) SetPosition(channel int, pos int) error {
	if pos < 0 || pos >= steps {
		return fmt.Errorf("position out of range: %d", pos)
	}

	return m.setTarget(channel, m.target(pos))
}

// Relax sets the target to zero, which the Maestro treats as "off".
func (m *Maestro) Relax(channel int) error {
	return m.setTarget(channel, 0)
}

func (m *Maestro) Close() error {
	return m.port.Close()
}

// target returns the Maestro target (in quarter-microseconds) for a position.
func (m *Maestro) target(pos int) int {
	period := m.freq.Period().Microseconds()
	us := float64(pos) * float64(period) / steps
	return int(us*4 + 0.5)
}

func (m *Maestro) setTarget(channel int, target int) error {
	if channel < 0 || channel >= maestroChannels {
		return fmt.Errorf("no such channel: %d", channel)
	}

	_, err := m.port.Write([]byte{
		cmdSetTarget,
		byte(channel),
		byte(target & 0x7F),
		byte((target >> 7) & 0x7F),
	})

	return err
}
