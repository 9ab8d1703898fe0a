package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/junwei-lu/metercal/pkg/dlt645"
	"github.com/junwei-lu/metercal/pkg/executor"
	"github.com/junwei-lu/metercal/pkg/params"
	"github.com/junwei-lu/metercal/pkg/presets"
	"github.com/junwei-lu/metercal/pkg/serialport"
	"github.com/junwei-lu/metercal/pkg/steps"
	"github.com/junwei-lu/metercal/pkg/version"
)

func getConfig(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, conf.Raw())
}

func setSerialPort(c *gin.Context) {
	var req serialport.Config
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if simulated {
		err := fmt.Errorf("running in simulation, serial port changes have no effect")
		c.IndentedJSON(http.StatusConflict, err.Error())
		_ = c.AbortWithError(http.StatusConflict, err)
		return
	}

	conf.SetSerialPort(req)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set serial port to %s @ %d baud; restart the daemon to apply", req.Name, req.BaudRate)
	c.IndentedJSON(http.StatusCreated, "serial port saved; restart the daemon to apply")
}

func setDeviceAddress(c *gin.Context) {
	var addr string
	if err := c.BindJSON(&addr); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if _, err := dlt645.ParseAddress(addr); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	conf.SetDeviceAddress(addr)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set device address to %s; restart the daemon to apply", addr)
	c.IndentedJSON(http.StatusCreated, "device address saved; restart the daemon to apply")
}

type toleranceRequest struct {
	StepID  int     `json:"stepId"`
	Percent float64 `json:"percent"`
}

func setTolerance(c *gin.Context) {
	var req toleranceRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if _, ok := steps.ByID(req.StepID); !ok {
		err := fmt.Errorf("unknown step id %d", req.StepID)
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if req.Percent <= 0 {
		err := fmt.Errorf("tolerance must be positive, got %g", req.Percent)
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	conf.SetTolerance(req.StepID, req.Percent)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if err := exec.SetConfig(conf.Executor()); err != nil {
		c.IndentedJSON(http.StatusConflict, err.Error())
		_ = c.AbortWithError(http.StatusConflict, err)
		return
	}

	logrus.Infof("set step %d tolerance to %g%%", req.StepID, req.Percent)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func setPolicy(c *gin.Context) {
	var p executor.Policy
	if err := c.BindJSON(&p); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if err := p.Validate(); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	conf.SetPolicy(p)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if err := exec.SetConfig(conf.Executor()); err != nil {
		c.IndentedJSON(http.StatusConflict, err.Error())
		_ = c.AbortWithError(http.StatusConflict, err)
		return
	}

	logrus.Infof("set failure policy to %s", p.Kind)
	c.IndentedJSON(http.StatusCreated, "ok")
}

type stepInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	DI   string `json:"di"`
}

func getSteps(c *gin.Context) {
	out := make([]stepInfo, 0, 5)
	for _, s := range steps.All() {
		out = append(out, stepInfo{ID: s.ID, Name: s.Name, DI: s.DI.String()})
	}
	c.IndentedJSON(http.StatusOK, out)
}

func getSession(c *gin.Context) {
	s := exec.Session()
	if s == nil {
		c.IndentedJSON(http.StatusOK, executor.Session{State: executor.NotStarted})
		return
	}
	c.IndentedJSON(http.StatusOK, s)
}

type statsResponse struct {
	Comm      any  `json:"comm"`
	CommState any  `json:"commState"`
	Running   bool `json:"running"`
	Simulated bool `json:"simulated"`
}

func getStats(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, statsResponse{
		Comm:      meter.Stats(),
		CommState: meter.CommState(),
		Running:   exec.Running(),
		Simulated: simulated,
	})
}

type calibrateRequest struct {
	StepIDs   []int                  `json:"stepIds,omitempty"`
	Preset    string                 `json:"preset,omitempty"`
	Standards *params.StandardValues `json:"standards,omitempty"`
}

func startCalibration(c *gin.Context) {
	var req calibrateRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	var vals params.StandardValues
	switch {
	case req.Preset != "":
		p, ok := presetStore.Get(req.Preset)
		if !ok {
			err := fmt.Errorf("no preset named %q", req.Preset)
			c.IndentedJSON(http.StatusBadRequest, err.Error())
			_ = c.AbortWithError(http.StatusBadRequest, err)
			return
		}
		vals = p.Standards
		if p.Tolerance > 0 {
			cfg := conf.Executor()
			cfg.DefaultTolerance = p.Tolerance
			cfg.Tolerances = nil
			if err := exec.SetConfig(cfg); err != nil {
				c.IndentedJSON(http.StatusConflict, err.Error())
				_ = c.AbortWithError(http.StatusConflict, err)
				return
			}
		}
	case req.Standards != nil:
		vals = *req.Standards
	default:
		vals = presets.Builtins()[0].Standards
	}

	if err := vals.Validate(); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if exec.Running() {
		err := executor.ErrSessionInProgress
		c.IndentedJSON(http.StatusConflict, err.Error())
		_ = c.AbortWithError(http.StatusConflict, err)
		return
	}

	ids := req.StepIDs
	go func() {
		var err error
		if len(ids) == 0 {
			_, err = exec.ExecuteOneClick(context.Background(), vals)
		} else {
			_, err = exec.ExecuteSelectedSteps(context.Background(), ids, vals)
		}
		if err != nil {
			logrus.Errorf("calibration run failed to start: %v", err)
		}
	}()

	logrus.WithFields(logrus.Fields{"steps": ids, "preset": req.Preset}).Info("calibration requested")
	c.IndentedJSON(http.StatusAccepted, "calibration started; watch /events or poll /session")
}

func cancelCalibration(c *gin.Context) {
	if !exec.Cancel() {
		c.IndentedJSON(http.StatusConflict, "no calibration session in flight")
		return
	}
	logrus.Info("calibration session cancelled")
	c.IndentedJSON(http.StatusOK, "cancelled")
}

type scheduleResponse struct {
	Expression string    `json:"expression"`
	NextRun    time.Time `json:"nextRun,omitempty"`
}

func getSchedule(c *gin.Context) {
	next, _ := sched.Status()
	c.IndentedJSON(http.StatusOK, scheduleResponse{Expression: conf.Schedule(), NextRun: next})
}

func setSchedule(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if expr == "" {
		sched.Disable()
	} else if err := sched.Schedule(expr); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	conf.SetSchedule(expr)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if expr == "" {
		logrus.Info("scheduled calibration disabled")
	} else {
		logrus.Infof("scheduled calibration set to %q", expr)
	}
	c.IndentedJSON(http.StatusCreated, "ok")
}

func skipScheduledRun(c *gin.Context) {
	if err := sched.Skip(); err != nil {
		c.IndentedJSON(http.StatusConflict, err.Error())
		_ = c.AbortWithError(http.StatusConflict, err)
		return
	}
	c.IndentedJSON(http.StatusOK, "next scheduled run skipped")
}

func postponeScheduledRun(c *gin.Context) {
	var minutes int
	if err := c.BindJSON(&minutes); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if err := sched.Postpone(time.Duration(minutes) * time.Minute); err != nil {
		c.IndentedJSON(http.StatusConflict, err.Error())
		_ = c.AbortWithError(http.StatusConflict, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fmt.Sprintf("next scheduled run postponed by %d minutes", minutes))
}

func getPresets(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, presetStore.List())
}

func savePreset(c *gin.Context) {
	var p presets.Preset
	if err := c.BindJSON(&p); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := presetStore.Save(p); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	logrus.Infof("saved preset %q", p.Name)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func deletePreset(c *gin.Context) {
	name := c.Param("name")
	if err := presetStore.Delete(name); err != nil {
		c.IndentedJSON(http.StatusNotFound, err.Error())
		_ = c.AbortWithError(http.StatusNotFound, err)
		return
	}

	logrus.Infof("deleted preset %q", name)
	c.IndentedJSON(http.StatusOK, "ok")
}

func getSerialPorts(c *gin.Context) {
	ports, err := serialport.List()
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, ports)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
