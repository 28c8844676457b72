// Package config loads the settings of both binaries: code defaults, then an
// optional YAML file, then WALKER_* environment variables.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/adammck/biped"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "config",
})

const (
	LayoutTwoDOF = "two_dof"
	LayoutOneDOF = "one_dof"

	DriverPCA9685 = "pca9685"
	DriverMaestro = "maestro"
	DriverFake    = "fake"
)

// Config holds the settings of walkerd and gaitopt.
type Config struct {
	// Which joints the robot has; LayoutTwoDOF or LayoutOneDOF.
	LayoutName string `yaml:"layout"`

	Walker Walker `yaml:"walker"`
	Mocap  Mocap  `yaml:"mocap"`
	Trial  Trial  `yaml:"trial"`
	Search Search `yaml:"search"`
	Grid   Grid   `yaml:"grid"`
}

// Walker is the robot side.
type Walker struct {
	Addr      string        `yaml:"addr"`
	Driver    string        `yaml:"driver"`
	I2CBus    string        `yaml:"i2c_bus"`
	I2CAddr   uint16        `yaml:"i2c_addr"`
	Serial    string        `yaml:"serial"`
	Baud      uint          `yaml:"baud"`
	Frequency int           `yaml:"frequency"`
	Settle    time.Duration `yaml:"settle"`
	BootDelay time.Duration `yaml:"boot_delay"`
	AuditLog  string        `yaml:"audit_log"`
}

type Mocap struct {
	Addr        string        `yaml:"addr"`
	Body        string        `yaml:"body"`
	Window      time.Duration `yaml:"window"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type Trial struct {
	ControllerURL string        `yaml:"controller_url"`
	Duration      time.Duration `yaml:"duration"`
	Timeout       time.Duration `yaml:"timeout"`
}

type Search struct {
	Seed        uint64  `yaml:"seed"`
	Iterations  int     `yaml:"iterations"`
	K           int     `yaml:"k"`
	Temperature float64 `yaml:"temperature"`
	Decay       float64 `yaml:"decay"`

	// Overrides of the layout's default parameters, to start the search from.
	Initial map[string]float64 `yaml:"initial"`

	// Directory which CSVs and charts are written to.
	Output   string `yaml:"output"`
	Database string `yaml:"database"`
}

type Grid struct {
	Path   string `yaml:"path"`
	Offset int    `yaml:"offset"`

	// Values of the fields which the grid doesn't sweep.
	Fixed map[string]float64 `yaml:"fixed"`
}

// Default returns the settings of the original robot.
func Default() Config {
	return Config{
		LayoutName: LayoutTwoDOF,
		Walker: Walker{
			Addr:      ":5000",
			Driver:    DriverPCA9685,
			I2CBus:    "",
			I2CAddr:   0x6F,
			Serial:    "/dev/ttyACM0",
			Baud:      115200,
			Frequency: 50,
			Settle:    1 * time.Second,
			BootDelay: 2 * time.Second,
			AuditLog:  "parameters_log.csv",
		},
		Mocap: Mocap{
			Addr:   "192.168.50.50",
			Body:   "mortenrobot",
			Window: 1 * time.Second,
		},
		Trial: Trial{
			ControllerURL: "http://192.168.50.177:5000",
			Duration:      20 * time.Second,
			Timeout:       10 * time.Second,
		},
		Search: Search{
			Seed:        1,
			Iterations:  128,
			K:           10,
			Temperature: 1.0,
			Decay:       0.98,
			Initial: map[string]float64{
				"hip1_min":    340,
				"hip1_max":    220,
				"hip2_min":    340,
				"hip2_max":    220,
				"knee1_min":   450,
				"knee1_max":   320,
				"knee2_min":   450,
				"knee2_max":   320,
				"hip1_phase":  0,
				"hip2_phase":  0.5,
				"knee1_phase": 0,
				"knee2_phase": 0.5,
				"speed":       0.0015,
			},
			Output:   ".",
			Database: "runs.db",
		},
		Grid: Grid{
			Path: "combinations.csv",
			Fixed: map[string]float64{
				"hip1_min":    340,
				"hip1_max":    340,
				"hip2_min":    340,
				"hip2_max":    340,
				"hip1_phase":  0,
				"hip2_phase":  0.5,
				"knee1_phase": 0,
				"knee2_phase": 0.5,
				"speed":       0.0015,
			},
		},
	}
}

// Load returns the defaults, overlaid by the YAML file at path (if path isn't
// empty), overlaid by the environment.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "while reading config")
		}

		err = yaml.Unmarshal(b, &c)
		if err != nil {
			return Config{}, errors.Wrapf(err, "while parsing %s", path)
		}
	}

	c.applyEnv()

	err := c.Validate()
	if err != nil {
		return Config{}, err
	}

	return c, nil
}

func (c *Config) applyEnv() {
	c.LayoutName = getEnv("WALKER_LAYOUT", c.LayoutName)

	c.Walker.Addr = getEnv("WALKER_ADDR", c.Walker.Addr)
	c.Walker.Driver = getEnv("WALKER_DRIVER", c.Walker.Driver)
	c.Walker.I2CBus = getEnv("WALKER_I2C_BUS", c.Walker.I2CBus)
	c.Walker.Serial = getEnv("WALKER_SERIAL", c.Walker.Serial)
	c.Walker.Settle = getEnvDuration("WALKER_SETTLE", c.Walker.Settle)
	c.Walker.BootDelay = getEnvDuration("WALKER_BOOT_DELAY", c.Walker.BootDelay)
	c.Walker.AuditLog = getEnv("WALKER_AUDIT_LOG", c.Walker.AuditLog)

	c.Mocap.Addr = getEnv("WALKER_MOCAP_ADDR", c.Mocap.Addr)
	c.Mocap.Body = getEnv("WALKER_MOCAP_BODY", c.Mocap.Body)
	c.Mocap.Window = getEnvDuration("WALKER_MOCAP_WINDOW", c.Mocap.Window)
	c.Mocap.MaxAttempts = getEnvInt("WALKER_MOCAP_MAX_ATTEMPTS", c.Mocap.MaxAttempts)

	c.Trial.ControllerURL = getEnv("WALKER_CONTROLLER_URL", c.Trial.ControllerURL)
	c.Trial.Duration = getEnvDuration("WALKER_TRIAL_DURATION", c.Trial.Duration)

	c.Search.Seed = uint64(getEnvInt("WALKER_SEED", int(c.Search.Seed)))
	c.Search.Iterations = getEnvInt("WALKER_ITERATIONS", c.Search.Iterations)
	c.Search.Output = getEnv("WALKER_OUTPUT", c.Search.Output)
	c.Search.Database = getEnv("WALKER_DB", c.Search.Database)

	c.Grid.Path = getEnv("WALKER_GRID", c.Grid.Path)
	c.Grid.Offset = getEnvInt("WALKER_GRID_OFFSET", c.Grid.Offset)
}

// Validate checks the settings which would otherwise fail late, e.g. half way
// through a search.
func (c Config) Validate() error {
	if _, err := c.Layout(); err != nil {
		return err
	}

	switch c.Walker.Driver {
	case DriverPCA9685, DriverMaestro, DriverFake:
	default:
		return errors.Errorf("unknown driver: %q", c.Walker.Driver)
	}

	if c.Walker.Frequency <= 0 {
		return errors.Errorf("invalid frequency: %d", c.Walker.Frequency)
	}

	if c.Mocap.Window <= 0 {
		return errors.Errorf("invalid mocap window: %s", c.Mocap.Window)
	}

	if c.Trial.Duration <= 0 {
		return errors.Errorf("invalid trial duration: %s", c.Trial.Duration)
	}

	if c.Search.Decay <= 0 || c.Search.Decay > 1 {
		return errors.Errorf("invalid decay: %v", c.Search.Decay)
	}

	if c.Search.Temperature < 0 {
		return errors.Errorf("invalid temperature: %v", c.Search.Temperature)
	}

	if c.Search.Iterations < 0 {
		return errors.Errorf("invalid iterations: %d", c.Search.Iterations)
	}

	if c.Search.K <= 0 {
		return errors.Errorf("invalid k: %d", c.Search.K)
	}

	if c.Grid.Offset < 0 {
		return errors.Errorf("invalid grid offset: %d", c.Grid.Offset)
	}

	return nil
}

// Layout returns the joint layout named by LayoutName.
func (c Config) Layout() (biped.Layout, error) {
	switch c.LayoutName {
	case LayoutTwoDOF:
		return biped.TwoDOF(), nil
	case LayoutOneDOF:
		return biped.OneDOF(), nil
	}

	return biped.Layout{}, errors.Errorf("unknown layout: %q", c.LayoutName)
}

// InitialParameters returns the parameters that the search starts from.
func (c Config) InitialParameters(l biped.Layout) (biped.Parameters, error) {
	return overlay(biped.DefaultParameters(l), c.Search.Initial)
}

// GridBase returns the parameters that each grid combination is applied to.
func (c Config) GridBase(l biped.Layout) (biped.Parameters, error) {
	return overlay(biped.DefaultParameters(l), c.Grid.Fixed)
}

// overlay merges fields into p. Fields of joints which aren't in the layout are
// ignored, so one config serves both layouts.
func overlay(p biped.Parameters, fields map[string]float64) (biped.Parameters, error) {
	f := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		f[k] = v
	}

	return p.Merge(f)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
		log.Warnf("ignoring %s=%q: not an integer", key, val)
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		log.Warnf("ignoring %s=%q: not a duration", key, val)
	}
	return defaultVal
}
