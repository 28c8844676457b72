package servos

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// The ServoPi board ships strapped to this address.
	DefaultAddress uint16 = 0x6F

	// Standard hobby servo frame rate.
	DefaultFrequency = 50 * physic.Hertz

	// Internal oscillator of the PCA9685.
	oscillator = 25000000

	regMode1    = 0x00
	regMode2    = 0x01
	regLED0     = 0x06
	regPrescale = 0xFE

	mode1Sleep   = 0x10
	mode1AutoInc = 0x20
	mode1Restart = 0x80
	mode2OutDrv  = 0x04

	// Set in the high byte of the OFF register to hold a channel low.
	fullOff = 0x10

	// Resolution of the PWM counter.
	steps = 4096
)

// PCA9685 drives servos via the 16-channel PCA9685 PWM controller over I2C.
type PCA9685 struct {
	dev    *i2c.Dev
	closer io.Closer
}

// NewPCA9685 configures the controller at the given address to emit pulses at
// the given frequency.
func NewPCA9685(bus i2c.Bus, addr uint16, freq physic.Frequency) (*PCA9685, error) {
	p := &PCA9685{
		dev: &i2c.Dev{Bus: bus, Addr: addr},
	}

	pre, err := prescale(freq)
	if err != nil {
		return nil, err
	}

	err = p.write(regMode2, mode2OutDrv)
	if err != nil {
		return nil, errors.Wrap(err, "while setting mode2")
	}

	// The prescaler can only be written while the oscillator is asleep.
	err = p.write(regMode1, mode1Sleep)
	if err != nil {
		return nil, errors.Wrap(err, "while sleeping")
	}

	err = p.write(regPrescale, pre)
	if err != nil {
		return nil, errors.Wrap(err, "while setting prescale")
	}

	err = p.write(regMode1, mode1AutoInc)
	if err != nil {
		return nil, errors.Wrap(err, "while waking")
	}

	// The oscillator needs 500us to stabilize before restarting.
	time.Sleep(500 * time.Microsecond)

	err = p.write(regMode1, mode1Restart|mode1AutoInc)
	if err != nil {
		return nil, errors.Wrap(err, "while restarting")
	}

	log.Infof("pca9685 at %#x running at %s (prescale=%d)", addr, freq, pre)
	return p, nil
}

// OpenPCA9685 initializes the host drivers, opens the named I2C bus (or the
// first available, if name is empty), and configures the controller on it.
// Closing the controller closes the bus.
func OpenPCA9685(name string, addr uint16, freq physic.Frequency) (*PCA9685, error) {
	_, err := host.Init()
	if err != nil {
		return nil, errors.Wrap(err, "while initializing host")
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "while opening i2c bus %q", name)
	}

	p, err := NewPCA9685(bus, addr, freq)
	if err != nil {
		bus.Close()
		return nil, err
	}

	p.closer = bus
	return p, nil
}

// SetPosition sets the pulse width of a channel, in counts of the 12-bit PWM
// cycle. The pulse always starts at count zero.
func (p *PCA9685) SetPosition(channel int, pos int) error {
	if err := checkChannel(channel); err != nil {
		return err
	}

	if pos < 0 || pos >= steps {
		return fmt.Errorf("position out of range: %d", pos)
	}

	return p.dev.Tx([]byte{
		ledRegister(channel),
		0, 0,
		byte(pos & 0xFF), byte(pos >> 8),
	}, nil)
}

// Relax holds a channel low, which stops the servo from holding position.
func (p *PCA9685) Relax(channel int) error {
	if err := checkChannel(channel); err != nil {
		return err
	}

	return p.dev.Tx([]byte{ledRegister(channel), 0, 0, 0, fullOff}, nil)
}

func (p *PCA9685) Close() error {
	if p.closer == nil {
		return nil
	}

	return p.closer.Close()
}

func (p *PCA9685) String() string {
	return p.dev.String()
}

func (p *PCA9685) write(reg, val byte) error {
	return p.dev.Tx([]byte{reg, val}, nil)
}

func ledRegister(channel int) byte {
	return byte(regLED0 + 4*channel)
}

func checkChannel(channel int) error {
	if channel < 0 || channel > 15 {
		return fmt.Errorf("no such channel: %d", channel)
	}

	return nil
}

// prescale returns the prescaler value for the given output frequency.
func prescale(freq physic.Frequency) (byte, error) {
	hz := float64(freq) / float64(physic.Hertz)
	if hz <= 0 {
		return 0, fmt.Errorf("invalid frequency: %s", freq)
	}

	v := math.Round(oscillator/(steps*hz)) - 1
	if v < 3 || v > 255 {
		return 0, fmt.Errorf("frequency out of range: %s", freq)
	}

	return byte(v), nil
}
