package client

import (
	"encoding/json"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/stereovision/pkg/calibration"
	"github.com/charlie0129/stereovision/pkg/events"
	"github.com/charlie0129/stereovision/pkg/history"
	"github.com/charlie0129/stereovision/pkg/schedule"
)

func (c *Client) GetStatus() (*calibration.Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}

	var st calibration.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

func (c *Client) GetTriangulation() (*events.TriangulationEvent, error) {
	ret, err := c.Get("/triangulation")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get triangulation")
	}

	var tri events.TriangulationEvent
	if err := json.Unmarshal([]byte(ret), &tri); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal triangulation")
	}
	return &tri, nil
}

// GetTriangulationPlot returns the top-view PNG of the latest triangulation.
func (c *Client) GetTriangulationPlot() ([]byte, error) {
	ret, err := c.Get("/triangulation/plot.png")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get triangulation plot")
	}
	return []byte(ret), nil
}

func (c *Client) Recalibrate() (string, error) {
	return c.Post("/recalibrate", "")
}

func (c *Client) GetSchedule() (*schedule.Status, error) {
	ret, err := c.Get("/schedule")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get recalibration schedule")
	}

	var st schedule.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal recalibration schedule")
	}
	return &st, nil
}

// SetSchedule sets the recalibration cron expression. An empty expression
// disables it.
func (c *Client) SetSchedule(expr string) (*schedule.Status, error) {
	ret, err := c.Put("/schedule", expr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set recalibration schedule")
	}

	var st schedule.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal recalibration schedule")
	}
	return &st, nil
}

// SkipSchedule skips the next scheduled recalibration.
func (c *Client) SkipSchedule() (*schedule.Status, error) {
	ret, err := c.Post("/schedule/skip", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to skip recalibration")
	}

	var st schedule.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal recalibration schedule")
	}
	return &st, nil
}

func (c *Client) GetHistory(limit int) ([]history.Run, error) {
	ret, err := c.Get("/history?limit=" + strconv.Itoa(limit))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration history")
	}

	var runs []history.Run
	if err := json.Unmarshal([]byte(ret), &runs); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration history")
	}
	return runs, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}

	var v string
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return v, nil
}
