package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"servo-dispatcher/internal/pool"
	"servo-dispatcher/internal/servo"
)

// ServoFinder locates a servo by device id.
type ServoFinder interface {
	FindServo(ctx context.Context, id int) (*servo.Servo, error)
}

// Server exposes the registry over HTTP.
//
//	GET /health        liveness and the registered action names
//	GET /servos/:id    fresh register snapshot of one servo
//	GET /<action>      perform an action, e.g. /refresh or /scheduler/enable
type Server struct {
	echo     *echo.Echo
	listen   string
	registry *Registry
	finder   ServoFinder
	logger   Logger
}

// ActionResponse is the body returned by an action request.
type ActionResponse struct {
	Action string `json:"action"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ServoResponse is the body returned by GET /servos/:id.
type ServoResponse struct {
	ID        int                          `json:"id"`
	Port      string                       `json:"port"`
	Registers map[servo.RegisterType]int64 `json:"registers"`
	ReadAt    time.Time                    `json:"read_at"`
	ReadError string                       `json:"read_error,omitempty"`
}

// NewServer builds the echo instance. finder may be nil, which disables the
// servo route.
func NewServer(listen string, registry *Registry, finder ServoFinder, logger Logger) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Server{
		echo:     echo.New(),
		listen:   listen,
		registry: registry,
		finder:   finder,
		logger:   logger,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
	}))
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Warn("request failed", "method", v.Method, "uri", v.URI, "status", v.Status, "error", v.Error)
				return nil
			}
			s.logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	s.echo.GET("/health", s.handleHealth)
	if finder != nil {
		s.echo.GET("/servos/:id", s.handleServo)
	}
	s.echo.GET("/*", s.handleAction)
	return s
}

// Handler returns the HTTP handler, for mounting in tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("action server listening", "listen", s.listen)
	if err := s.echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving actions on %s: %w", s.listen, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"actions": s.registry.Names(),
	})
}

func (s *Server) handleAction(c echo.Context) error {
	name := strings.Trim(c.Param("*"), "/")
	result, err := s.registry.Run(c.Request().Context(), name)
	switch {
	case errors.Is(err, ErrUnknownAction):
		return c.JSON(http.StatusNotFound, ActionResponse{Action: name, Status: "error", Error: err.Error()})
	case err != nil:
		s.logger.Error("action failed", "action", name, "error", err)
		return c.JSON(http.StatusInternalServerError, ActionResponse{Action: name, Status: "error", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, ActionResponse{Action: name, Status: "ok", Result: result})
}

func (s *Server) handleServo(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "servo id must be a positive integer"})
	}
	ctx := c.Request().Context()
	sv, err := s.finder.FindServo(ctx, id)
	if errors.Is(err, pool.ErrDeviceNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	resp := ServoResponse{ID: sv.ID, Port: sv.Port}
	regs, err := sv.ReadAll(ctx)
	if err != nil {
		resp.ReadError = err.Error()
	}
	resp.Registers = regs
	resp.ReadAt = sv.ReadAt()
	return c.JSON(http.StatusOK, resp)
}
