package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/stereovision/pkg/events"
	"github.com/charlie0129/stereovision/pkg/history"
	"github.com/charlie0129/stereovision/pkg/schedule"
	"github.com/charlie0129/stereovision/pkg/version"
)

func (s *Server) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.backend.Status())
}

func (s *Server) getTriangulation(c *gin.Context) {
	ev, ok := s.hub.Latest(events.Triangulation)
	if !ok {
		c.IndentedJSON(http.StatusNotFound, "no triangulation yet")
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", ev.Data)
}

func (s *Server) getTriangulationPlot(c *gin.Context) {
	ev, ok := s.hub.Latest(events.Triangulation)
	if !ok {
		c.IndentedJSON(http.StatusNotFound, "no triangulation yet")
		return
	}
	tri, err := events.DecodeAs[events.TriangulationEvent](ev)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	png, err := TopViewPNG(tri)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) postRecalibrate(c *gin.Context) {
	err := s.backend.RequestRecalibration(history.TriggerManual)
	if errors.Is(err, ErrBusy) {
		c.IndentedJSON(http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusAccepted, "recalibration requested")
}

func (s *Server) getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.backend.Schedule())
}

func (s *Server) putSchedule(c *gin.Context) {
	b, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	expr := strings.TrimSpace(string(b))

	if err := s.backend.SetSchedule(expr); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		return
	}
	logrus.WithField("expression", expr).Info("recalibration schedule changed")
	c.IndentedJSON(http.StatusOK, s.backend.Schedule())
}

func (s *Server) postScheduleSkip(c *gin.Context) {
	err := s.backend.SkipSchedule()
	if errors.Is(err, schedule.ErrNoSchedule) {
		c.IndentedJSON(http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	st := s.backend.Schedule()
	logrus.WithField("nextRun", st.NextRun).Info("next recalibration skipped")
	c.IndentedJSON(http.StatusOK, st)
}

func (s *Server) getHistory(c *gin.Context) {
	limit := 20
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			c.IndentedJSON(http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	runs, err := s.backend.History(limit)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	c.IndentedJSON(http.StatusOK, runs)
}

// getEvents streams hub events as server-sent events until the client goes
// away or the server shuts down.
func (s *Server) getEvents(c *gin.Context) {
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-c.Request.Context().Done():
			return false
		case <-s.closing:
			return false
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
