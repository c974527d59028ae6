// Package health serves the supervisor's liveness endpoint.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"kaos.obsgrid.org/common"
	"kaos.obsgrid.org/scheduler"
	"kaos.obsgrid.org/store"
)

// failureThreshold is the number of consecutive failed store pings after
// which the endpoint starts answering 503. One or two misses are treated
// as transient.
const failureThreshold = 2

// Response is the /health payload.
type Response struct {
	Status    string           `json:"status"`
	Uptime    string           `json:"uptime"`
	RedisOK   bool             `json:"redis_ok"`
	Scheduler scheduler.Status `json:"scheduler"`
}

// Server is the health HTTP server.
type Server struct {
	echo      *echo.Echo
	store     store.Store
	scheduler *scheduler.Scheduler
	started   time.Time

	pingFailures atomic.Int64
}

// NewServer wires the endpoint against the given store and scheduler.
func NewServer(st store.Store, sched *scheduler.Scheduler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		store:     st,
		scheduler: sched,
		started:   time.Now(),
	}
	e.GET("/health", s.handleHealth)
	return s
}

// Start listens on the given port in a background goroutine.
func (s *Server) Start(port int) {
	addr := fmt.Sprintf(":%d", port)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			common.Logger.WithError(err).Error("health endpoint failed")
		}
	}()
	common.Logger.WithField("addr", addr).Info("health endpoint listening")
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleHealth pings the store and reports fleet status. The store being
// briefly unreachable does not flip the status; only a streak of failed
// pings beyond the threshold does.
func (s *Server) handleHealth(c echo.Context) error {
	redisOK := s.store.Ping(c.Request().Context())
	if redisOK {
		s.pingFailures.Store(0)
	} else {
		s.pingFailures.Add(1)
	}

	resp := Response{
		Status:    "ok",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		RedisOK:   redisOK,
		Scheduler: s.scheduler.Status(),
	}

	code := http.StatusOK
	if s.pingFailures.Load() > failureThreshold {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}
