package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/adammck/biped"
	"github.com/adammck/biped/components/controller"
	"github.com/adammck/biped/config"
	"github.com/adammck/biped/mocap"
	"github.com/adammck/biped/report"
	"github.com/adammck/biped/search"
	"github.com/adammck/biped/store"
	"github.com/adammck/biped/trial"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const chartTitle = "Optimization of robot gait"

var log = logrus.WithFields(logrus.Fields{
	"pkg": "gaitopt",
})

func main() {
	app := &cli.App{
		Name:            "gaitopt",
		Usage:           "search for the gait which walks furthest",
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
		Commands: []*cli.Command{
			{
				Name:   "grid",
				Usage:  "try every combination in the grid CSV",
				Action: gridAction,
			},
			{
				Name:   "search",
				Usage:  "run the stochastic search",
				Action: searchAction,
			},
			{
				Name:   "measure",
				Usage:  "print the current position of the robot",
				Action: measureAction,
			},
			{
				Name:   "status",
				Usage:  "print the run state of the robot",
				Action: statusAction,
			},
			{
				Name:   "runs",
				Usage:  "list previous runs",
				Action: runsAction,
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

// session is everything a run needs, opened from the config.
type session struct {
	cfg    config.Config
	layout biped.Layout
	clock  clock.Clock
	mocap  *mocap.Client
	runner *trial.Runner
	store  *store.Store
	run    *store.Run
	log    *report.RunLog
	path   string
}

func open(ctx context.Context, c *cli.Context, kind string) (*session, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	layout, err := cfg.Layout()
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:    cfg,
		layout: layout,
		clock:  clock.New(),
	}

	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	s.mocap, err = mocap.Dial(ctx, cfg.Mocap.Addr)
	if err != nil {
		return nil, err
	}

	sampler := mocap.NewSampler(s.mocap, cfg.Mocap.Body, s.clock)
	sampler.Window = cfg.Mocap.Window
	sampler.MaxAttempts = cfg.Mocap.MaxAttempts

	ctl := controller.NewClient(cfg.Trial.ControllerURL, cfg.Trial.Timeout)
	s.runner = trial.New(sampler, ctl, s.clock)
	s.runner.Duration = cfg.Trial.Duration

	s.store, err = store.Open(cfg.Search.Database, s.clock)
	if err != nil {
		return nil, err
	}

	s.run, err = s.store.Begin(kind)
	if err != nil {
		return nil, err
	}

	err = os.MkdirAll(cfg.Search.Output, 0o755)
	if err != nil {
		return nil, errors.Wrap(err, "while creating output directory")
	}

	s.path = filepath.Join(cfg.Search.Output, fmt.Sprintf("%s_%s", kind, s.run.ID[:8]))
	s.log, err = report.CreateRunLog(s.path+".csv", layout.FieldNames())
	if err != nil {
		return nil, err
	}

	ok = true
	return s, nil
}

func (s *session) recorder() search.Recorder {
	return search.Recorders{s.log, s.run}
}

// finish writes the artifacts of a run, even if it was cut short.
func (s *session) finish(results []search.Result) {
	if err := s.run.Finish(); err != nil {
		log.Warnf("error finishing run: %s", err)
	}

	if len(results) == 0 {
		log.Warn("no trials completed")
		return
	}

	if err := report.Chart(s.path+".png", chartTitle, results); err != nil {
		log.Warnf("error drawing chart: %s", err)
	}

	sum, err := report.Summarize(results)
	if err != nil {
		log.Warnf("error summarizing: %s", err)
		return
	}

	log.Infof("summary: %s", sum)
	log.Infof("best parameters: %s", sum.Best.Parameters)
}

func (s *session) Close() {
	if s.log != nil {
		s.log.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.mocap != nil {
		s.mocap.Close()
	}
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func gridAction(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	s, err := open(ctx, c, "grid")
	if err != nil {
		return err
	}
	defer s.Close()

	base, err := s.cfg.GridBase(s.layout)
	if err != nil {
		return err
	}

	combos, err := report.ReadGrid(s.cfg.Grid.Path, s.layout.FieldNames(), s.cfg.Grid.Offset)
	if err != nil {
		return err
	}

	log.Infof("trying %d combinations from %s", len(combos), s.cfg.Grid.Path)

	g := &search.Grid{Base: base, Recorder: s.recorder()}
	results, err := g.Run(ctx, s.runner, combos)
	s.finish(results)

	return err
}

func searchAction(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	s, err := open(ctx, c, "search")
	if err != nil {
		return err
	}
	defer s.Close()

	initial, err := s.cfg.InitialParameters(s.layout)
	if err != nil {
		return err
	}

	a := search.NewAnnealer(s.layout, s.cfg.Search.Seed)
	a.Temperature = s.cfg.Search.Temperature
	a.Decay = s.cfg.Search.Decay
	a.Iterations = s.cfg.Search.Iterations
	a.K = s.cfg.Search.K
	a.Recorder = s.recorder()

	log.Infof("searching for %d iterations from %s", a.Iterations, initial)

	out, err := a.Run(ctx, s.runner, initial)
	s.finish(out.Results)

	if len(out.Top) > 0 {
		path := fmt.Sprintf("%s_top%d.csv", s.path, a.K)
		werr := report.WriteResults(path, s.layout.FieldNames(), out.Top)
		if werr != nil {
			log.Warnf("error writing %s: %s", path, werr)
		}

		log.Infof("best distance: %.2fm, with %s", out.Final.BestDistance, out.Final.Best)
	}

	return err
}

func measureAction(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	mc, err := mocap.Dial(ctx, cfg.Mocap.Addr)
	if err != nil {
		return err
	}
	defer mc.Close()

	sampler := mocap.NewSampler(mc, cfg.Mocap.Body, clock.New())
	sampler.Window = cfg.Mocap.Window
	sampler.MaxAttempts = cfg.Mocap.MaxAttempts

	pos, err := sampler.Sample(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", cfg.Mocap.Body, pos)
	return nil
}

func statusAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	ctl := controller.NewClient(cfg.Trial.ControllerURL, cfg.Trial.Timeout)
	st, err := ctl.Status(c.Context)
	if err != nil {
		return err
	}

	fmt.Printf("running: %v\nparameters received: %v\n", st.Running, st.ParametersReceived)
	return nil
}

func runsAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Search.Database, clock.New())
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.Runs()
	if err != nil {
		return err
	}

	for _, r := range runs {
		results, err := st.Results(r.ID)
		if err != nil {
			return err
		}

		line := []string{r.ID, r.Kind, r.Started.Local().Format("2006-01-02 15:04"), fmt.Sprintf("%d trials", r.Trials)}
		if sum, err := report.Summarize(results); err == nil {
			line = append(line, fmt.Sprintf("best %.2fm", sum.Best.Distance))
		}
		if r.Finished.IsZero() {
			line = append(line, "unfinished")
		}

		fmt.Println(strings.Join(line, "  "))
	}

	return nil
}
