package client

import (
	pkgerrors "github.com/pkg/errors"

	"github.com/junwei-lu/metercal/pkg/comm"
	"github.com/junwei-lu/metercal/pkg/config"
	"github.com/junwei-lu/metercal/pkg/executor"
	"github.com/junwei-lu/metercal/pkg/params"
	"github.com/junwei-lu/metercal/pkg/presets"
	"github.com/junwei-lu/metercal/pkg/serialport"
)

// StepInfo mirrors the daemon's step listing.
type StepInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	DI   string `json:"di"`
}

// Stats mirrors the daemon's /stats response.
type Stats struct {
	Comm      comm.Stats `json:"comm"`
	CommState comm.State `json:"commState"`
	Running   bool       `json:"running"`
	Simulated bool       `json:"simulated"`
}

// CalibrateRequest mirrors the daemon's /calibrate request body. Leave
// StepIDs empty for a one-click run of every step.
type CalibrateRequest struct {
	StepIDs   []int                  `json:"stepIds,omitempty"`
	Preset    string                 `json:"preset,omitempty"`
	Standards *params.StandardValues `json:"standards,omitempty"`
}

// ScheduleStatus mirrors the daemon's /schedule response.
type ScheduleStatus struct {
	Expression string `json:"expression"`
	NextRun    string `json:"nextRun,omitempty"`
}

func (c *Client) GetConfig() (config.RawFileConfig, error) {
	var raw config.RawFileConfig
	if err := c.GetInto("/config", &raw); err != nil {
		return raw, pkgerrors.Wrapf(err, "failed to get daemon config")
	}
	return raw, nil
}

func (c *Client) SetSerialPort(cfg serialport.Config) (string, error) {
	return c.PutJSON("/serial-port", cfg)
}

func (c *Client) SetDeviceAddress(addr string) (string, error) {
	return c.PutJSON("/device-address", addr)
}

func (c *Client) SetTolerance(stepID int, percent float64) (string, error) {
	return c.PutJSON("/tolerance", map[string]any{
		"stepId":  stepID,
		"percent": percent,
	})
}

func (c *Client) SetPolicy(p executor.Policy) (string, error) {
	return c.PutJSON("/policy", p)
}

func (c *Client) GetSteps() ([]StepInfo, error) {
	var out []StepInfo
	if err := c.GetInto("/steps", &out); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list calibration steps")
	}
	return out, nil
}

func (c *Client) GetSession() (executor.Session, error) {
	var s executor.Session
	if err := c.GetInto("/session", &s); err != nil {
		return s, pkgerrors.Wrapf(err, "failed to get calibration session")
	}
	return s, nil
}

func (c *Client) GetStats() (Stats, error) {
	var s Stats
	if err := c.GetInto("/stats", &s); err != nil {
		return s, pkgerrors.Wrapf(err, "failed to get communication stats")
	}
	return s, nil
}

func (c *Client) Calibrate(req CalibrateRequest) (string, error) {
	return c.PostJSON("/calibrate", req)
}

func (c *Client) CancelCalibration() (string, error) {
	return c.Post("/cancel", "")
}

func (c *Client) GetSchedule() (ScheduleStatus, error) {
	var s ScheduleStatus
	if err := c.GetInto("/schedule", &s); err != nil {
		return s, pkgerrors.Wrapf(err, "failed to get schedule")
	}
	return s, nil
}

func (c *Client) SetSchedule(expr string) (string, error) {
	return c.PutJSON("/schedule", expr)
}

func (c *Client) SkipScheduledRun() (string, error) {
	return c.Post("/schedule/skip", "")
}

func (c *Client) PostponeScheduledRun(minutes int) (string, error) {
	return c.PostJSON("/schedule/postpone", minutes)
}

func (c *Client) GetPresets() ([]presets.Preset, error) {
	var out []presets.Preset
	if err := c.GetInto("/presets", &out); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list presets")
	}
	return out, nil
}

func (c *Client) SavePreset(p presets.Preset) (string, error) {
	return c.PutJSON("/presets", p)
}

func (c *Client) DeletePreset(name string) (string, error) {
	return c.Delete("/presets/" + name)
}

func (c *Client) GetSerialPorts() ([]string, error) {
	var out []string
	if err := c.GetInto("/ports", &out); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list serial ports")
	}
	return out, nil
}

func (c *Client) GetVersion() (string, error) {
	var v string
	if err := c.GetInto("/version", &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get daemon version")
	}
	return v, nil
}
