// Package api serves the application status over HTTP on a unix socket.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/stereovision/pkg/calibration"
	"github.com/charlie0129/stereovision/pkg/events"
	"github.com/charlie0129/stereovision/pkg/history"
	"github.com/charlie0129/stereovision/pkg/schedule"
)

// ErrBusy is returned by a Backend that cannot take a request right now.
var ErrBusy = errors.New("calibration already in progress")

// Backend is what the API needs from the running application.
type Backend interface {
	Status() calibration.Status
	// RequestRecalibration asks the live loop to stop and recalibrate.
	RequestRecalibration(trigger string) error
	Schedule() schedule.Status
	SetSchedule(expr string) error
	// SkipSchedule moves the next scheduled run to the one after it.
	SkipSchedule() error
	History(limit int) ([]history.Run, error)
}

type Server struct {
	backend Backend
	hub     *events.EventHub
	router  *gin.Engine
	// closing ends event streams on shutdown.
	closing   chan struct{}
	closeOnce sync.Once
}

func New(backend Backend, hub *events.EventHub) *Server {
	s := &Server{backend: backend, hub: hub, closing: make(chan struct{})}
	s.router = s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/status", s.getStatus)
	router.GET("/triangulation", s.getTriangulation)
	router.GET("/triangulation/plot.png", s.getTriangulationPlot)
	router.POST("/recalibrate", s.postRecalibrate)
	router.GET("/schedule", s.getSchedule)
	router.PUT("/schedule", s.putSchedule)
	router.POST("/schedule/skip", s.postScheduleSkip)
	router.GET("/history", s.getHistory)
	router.GET("/events", s.getEvents)
	router.GET("/version", getVersion)

	return router
}

// Serve listens on the unix socket until ctx is done. A stale socket file
// left by a crashed run is removed first.
func (s *Server) Serve(ctx context.Context, socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(socketPath, 0666); err != nil {
		logrus.WithError(err).Warn("failed to relax permissions on api socket")
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logrus.Info("shutting down http server")
	s.closeOnce.Do(func() { close(s.closing) })
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	_ = os.Remove(socketPath)
	return nil
}
