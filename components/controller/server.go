package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/adammck/biped"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	StatusOK    = "OK"
	StatusError = "Error"

	shutdownTimeout = 5 * time.Second
)

// Response is the body of every response.
type Response struct {
	Status  string `json:"Status"`
	Message string `json:"Message,omitempty"`
}

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Status             string `json:"Status"`
	Running            bool   `json:"Running"`
	ParametersReceived bool   `json:"Parameters Received"`
}

// Server exposes a Controller over HTTP.
type Server struct {
	ctl  *Controller
	addr string
	echo *echo.Echo
}

func NewServer(ctl *Controller, addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			}).Debug("request")
			return nil
		},
	}))

	s := &Server{
		ctl:  ctl,
		addr: addr,
		echo: e,
	}

	e.POST("/set_params", s.SetParams)
	e.POST("/start", s.Start)
	e.POST("/stop", s.Stop)
	e.GET("/", s.Status)

	return s
}

func (s *Server) Name() string {
	return "controller"
}

func (s *Server) Boot() error {
	return nil
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)

	go func() {
		log.Infof("listening on %s", s.addr)
		err := s.echo.Start(s.addr)
		if err != nil && err != http.ErrServerClosed {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return errors.Wrap(err, "while serving")

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// SetParams merges the JSON body into the current parameters.
// POST /set_params
func (s *Server) SetParams(c echo.Context) error {
	fields, err := decodeFields(c.Request().Body)
	if err != nil {
		return fail(c, errors.Wrap(biped.ErrBadRequest, err.Error()))
	}

	_, err = s.ctl.SetParameters(fields)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, Response{Status: StatusOK, Message: "Parameters updated"})
}

// Start starts the robot.
// POST /start
func (s *Server) Start(c echo.Context) error {
	err := s.ctl.Start()
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, Response{Status: StatusOK, Message: "Robot started"})
}

// Stop stops the robot.
// POST /stop
func (s *Server) Stop(c echo.Context) error {
	s.ctl.Stop()
	return c.JSON(http.StatusOK, Response{Status: StatusOK, Message: "Robot stopped"})
}

// Status returns the run state.
// GET /
func (s *Server) Status(c echo.Context) error {
	rs := s.ctl.Status()
	return c.JSON(http.StatusOK, StatusResponse{
		Status:             StatusOK,
		Running:            rs.Running,
		ParametersReceived: rs.ParametersReceived,
	})
}

func decodeFields(r io.Reader) (map[string]interface{}, error) {
	var fields map[string]interface{}

	dec := json.NewDecoder(r)
	dec.UseNumber()

	err := dec.Decode(&fields)
	if err == io.EOF {
		return nil, errors.New("no body")
	}
	if err != nil {
		return nil, err
	}

	return fields, nil
}

func fail(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	if errors.Is(err, biped.ErrBadRequest) || errors.Is(err, biped.ErrNotReady) {
		code = http.StatusBadRequest
	}

	log.Warnf("%s %s: %s", c.Request().Method, c.Path(), err)
	return c.JSON(code, Response{Status: StatusError, Message: err.Error()})
}
