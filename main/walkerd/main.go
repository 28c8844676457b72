package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adammck/biped"
	"github.com/adammck/biped/components/controller"
	"github.com/adammck/biped/components/legs"
	"github.com/adammck/biped/config"
	fakeservos "github.com/adammck/biped/fake/servos"
	"github.com/adammck/biped/report"
	"github.com/adammck/biped/servos"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "walkerd",
})

func main() {
	app := &cli.App{
		Name:            "walkerd",
		Usage:           "walk the robot, as directed over HTTP",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "one of debug, info, warn, error",
			},
		},
		Before: setupLogging,
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "serve the control surface and run the actuation loop (default)",
				Action: runAction,
			},
			{
				Name:   "relax",
				Usage:  "power down every servo, and exit",
				Action: relaxAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func setupLogging(c *cli.Context) error {
	lvl, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}

	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	layout, err := cfg.Layout()
	if err != nil {
		return err
	}

	err = layout.Validate()
	if err != nil {
		return err
	}

	driver, err := openDriver(cfg.Walker)
	if err != nil {
		return err
	}

	// Always leave the servos unpowered, however we exit.
	defer func() {
		err := servos.Shutdown(driver, layout.Channels())
		if err != nil {
			log.Warnf("error during shutdown: %s", err)
		}
	}()

	clk := clock.New()

	audit, err := report.OpenAudit(cfg.Walker.AuditLog, layout.FieldNames(), clk)
	if err != nil {
		return err
	}
	defer audit.Close()

	robot := biped.NewRobot(layout, biped.DefaultParameters(layout))

	l := legs.New(robot.State, driver, layout, clk)
	l.BootDelay = cfg.Walker.BootDelay

	ctl := controller.New(robot.State, l, audit, clk)
	ctl.Settle = cfg.Walker.Settle

	robot.Add(l)
	robot.Add(controller.NewServer(ctl, cfg.Walker.Addr))

	log.Info("booting components...")
	err = robot.Boot()
	if err != nil {
		return errors.Wrap(err, "while booting")
	}

	// Catch both SIGINT (ctrl+c) and SIGTERM (kill/systemd), to allow the robot
	// to park and power down its servos before exiting.
	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = robot.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("shutting down")
	return nil
}

func relaxAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	layout, err := cfg.Layout()
	if err != nil {
		return err
	}

	driver, err := openDriver(cfg.Walker)
	if err != nil {
		return err
	}

	return servos.Shutdown(driver, layout.Channels())
}

func openDriver(w config.Walker) (servos.Driver, error) {
	freq := physic.Frequency(w.Frequency) * physic.Hertz

	switch w.Driver {
	case config.DriverPCA9685:
		log.Infof("opening pca9685 at %#x on i2c bus %q", w.I2CAddr, w.I2CBus)
		return servos.OpenPCA9685(w.I2CBus, w.I2CAddr, freq)

	case config.DriverMaestro:
		log.Infof("opening maestro on %s", w.Serial)
		return servos.OpenMaestro(w.Serial, w.Baud, freq)

	case config.DriverFake:
		log.Warn("using fake servos; the robot won't move")
		return fakeservos.New(), nil
	}

	return nil, errors.Errorf("unknown driver: %q", w.Driver)
}
