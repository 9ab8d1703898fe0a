package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/junwei-lu/metercal/pkg/comm"
	"github.com/junwei-lu/metercal/pkg/config"
	"github.com/junwei-lu/metercal/pkg/device"
	"github.com/junwei-lu/metercal/pkg/dlt645"
	"github.com/junwei-lu/metercal/pkg/events"
	"github.com/junwei-lu/metercal/pkg/executor"
	"github.com/junwei-lu/metercal/pkg/presets"
)

// setupTestDaemon wires the package state against a loopback meter and
// returns the router, mirroring what Run does without sockets or signals.
func setupTestDaemon(t *testing.T) *gin.Engine {
	t.Helper()

	dir := t.TempDir()
	var err error
	conf, err = config.NewFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("config.NewFile failed: %v", err)
	}

	hub = events.NewEventHub()
	simulated = true

	addr, err := dlt645.ParseAddress(conf.DeviceAddress())
	if err != nil {
		t.Fatalf("ParseAddress failed: %v", err)
	}
	meter = device.NewMeter(&device.Loopback{}, addr, comm.Config{
		Timeout:     200 * time.Millisecond,
		MaxAttempts: 2,
		RetryDelay:  time.Millisecond,
	}, hub)
	if err := meter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = meter.Disconnect() })

	ecfg := conf.Executor()
	ecfg.StepDelay = 0
	exec = executor.New(meter, ecfg, hub)

	sched = NewScheduler(func() error { return nil }, nil, nil, nil)
	t.Cleanup(sched.Stop)

	presetStore, err = presets.NewStore(filepath.Join(dir, "presets.json"))
	if err != nil {
		t.Fatalf("presets.NewStore failed: %v", err)
	}

	return setupRoutes()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetStepsListsFive(t *testing.T) {
	router := setupTestDaemon(t)

	w := doJSON(t, router, http.MethodGet, "/steps", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var got []stepInfo
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 5 || got[0].DI != "00F81500" || got[4].DI != "00F81900" {
		t.Fatalf("steps = %+v", got)
	}
}

func TestCalibrateEndToEnd(t *testing.T) {
	router := setupTestDaemon(t)

	w := doJSON(t, router, http.MethodPost, "/calibrate", calibrateRequest{})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	// the run is asynchronous; poll the session until it is terminal
	deadline := time.Now().Add(5 * time.Second)
	for {
		w := doJSON(t, router, http.MethodGet, "/session", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d", w.Code)
		}
		var s executor.Session
		if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
			t.Fatalf("decode session: %v", err)
		}
		if s.State == executor.Completed {
			if len(s.Results) != 5 {
				t.Fatalf("results = %d", len(s.Results))
			}
			return
		}
		if s.State == executor.Aborted {
			t.Fatalf("session aborted: %+v", s)
		}
		if time.Now().After(deadline) {
			t.Fatalf("session still %s", s.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCalibrateRejectsBadStandards(t *testing.T) {
	router := setupTestDaemon(t)

	bad := calibrateRequest{Standards: &presets.Builtins()[0].Standards}
	bad.Standards.Voltage = 80
	w := doJSON(t, router, http.MethodPost, "/calibrate", bad)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestCalibrateRejectsUnknownPreset(t *testing.T) {
	router := setupTestDaemon(t)

	w := doJSON(t, router, http.MethodPost, "/calibrate", calibrateRequest{Preset: "nope"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestCancelWithoutSession(t *testing.T) {
	router := setupTestDaemon(t)

	w := doJSON(t, router, http.MethodPost, "/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestScheduleValidation(t *testing.T) {
	router := setupTestDaemon(t)

	w := doJSON(t, router, http.MethodPut, "/schedule", "not a cron expr")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad expr: status %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPut, "/schedule", "0 3 * * *")
	if w.Code != http.StatusCreated {
		t.Fatalf("good expr: status %d: %s", w.Code, w.Body.String())
	}
	if got := conf.Schedule(); got != "0 3 * * *" {
		t.Fatalf("persisted schedule = %q", got)
	}

	// empty expression disables
	w = doJSON(t, router, http.MethodPut, "/schedule", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("disable: status %d", w.Code)
	}
}

func TestToleranceEndpoint(t *testing.T) {
	router := setupTestDaemon(t)

	w := doJSON(t, router, http.MethodPut, "/tolerance", toleranceRequest{StepID: 9, Percent: 1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown step: status %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPut, "/tolerance", toleranceRequest{StepID: 2, Percent: -1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("negative tolerance: status %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPut, "/tolerance", toleranceRequest{StepID: 2, Percent: 0.5})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if got := exec.Config().Tolerances[2]; got != 0.5 {
		t.Fatalf("executor tolerance = %g", got)
	}
}

func TestPresetEndpoints(t *testing.T) {
	router := setupTestDaemon(t)

	w := doJSON(t, router, http.MethodGet, "/presets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var list []presets.Preset
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != len(presets.Builtins()) {
		t.Fatalf("got %d presets", len(list))
	}

	mine := presets.Preset{Name: "bench-1", Standards: presets.Builtins()[0].Standards}
	if w := doJSON(t, router, http.MethodPut, "/presets", mine); w.Code != http.StatusCreated {
		t.Fatalf("save: status %d: %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, router, http.MethodDelete, "/presets/bench-1", nil); w.Code != http.StatusOK {
		t.Fatalf("delete: status %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodDelete, "/presets/bench-1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("double delete: status %d", w.Code)
	}
}

// The scheduler's task runs a one-click calibration using the "scheduled"
// user preset when one exists.
func TestScheduledCalibrationRun(t *testing.T) {
	setupTestDaemon(t)

	mine := presets.Builtins()[1] // low-current
	mine.Name = "scheduled"
	mine.Builtin = false
	if err := presetStore.Save(mine); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := runScheduledCalibration(); err != nil {
		t.Fatalf("runScheduledCalibration failed: %v", err)
	}

	s := exec.Session()
	if s == nil || s.State != executor.Completed {
		t.Fatalf("session = %+v", s)
	}
	if s.Standards.Current != mine.Standards.Current {
		t.Fatalf("ran with current %g, want preset's %g", s.Standards.Current, mine.Standards.Current)
	}
}

func TestGetVersion(t *testing.T) {
	router := setupTestDaemon(t)

	w := doJSON(t, router, http.MethodGet, "/version", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}
