// Package daemon serves the calibration API over a unix socket and owns the
// long-lived pieces: the device, the executor, the event hub, the scheduler.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	ginlogrus "github.com/toorop/gin-logrus"

	"github.com/junwei-lu/metercal/pkg/config"
	"github.com/junwei-lu/metercal/pkg/device"
	"github.com/junwei-lu/metercal/pkg/dlt645"
	"github.com/junwei-lu/metercal/pkg/events"
	"github.com/junwei-lu/metercal/pkg/executor"
	"github.com/junwei-lu/metercal/pkg/presets"
	"github.com/junwei-lu/metercal/pkg/serialport"
)

var (
	conf        *config.File
	meter       *device.Meter
	exec        *executor.Executor
	hub         *events.EventHub
	sched       *Scheduler
	presetStore *presets.Store
	simulated   bool
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginlogrus.Logger(logrus.StandardLogger()))
	router.GET("/config", getConfig)
	router.PUT("/serial-port", setSerialPort)
	router.PUT("/device-address", setDeviceAddress)
	router.PUT("/tolerance", setTolerance)
	router.PUT("/policy", setPolicy)
	router.GET("/steps", getSteps)
	router.GET("/session", getSession)
	router.GET("/stats", getStats)
	router.POST("/calibrate", startCalibration)
	router.POST("/cancel", cancelCalibration)
	router.GET("/schedule", getSchedule)
	router.PUT("/schedule", setSchedule)
	router.POST("/schedule/skip", skipScheduledRun)
	router.POST("/schedule/postpone", postponeScheduledRun)
	router.GET("/presets", getPresets)
	router.PUT("/presets", savePreset)
	router.DELETE("/presets/:name", deletePreset)
	router.GET("/ports", getSerialPorts)
	router.GET("/events", streamEvents)
	router.GET("/version", getVersion)

	return router
}

// Run starts the daemon and blocks until SIGINT/SIGTERM. With simulate set,
// a loopback meter replaces the serial port.
func Run(configPath, unixSocketPath string, simulate, allowNonRoot bool) error {
	router := setupRoutes()

	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			if err := exec.SetConfig(conf.Executor()); err != nil {
				logrus.Errorf("failed to apply reloaded config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	hub = events.NewEventHub()
	simulated = simulate

	addr, err := dlt645.ParseAddress(conf.DeviceAddress())
	if err != nil {
		logrus.Fatalf("invalid device address in config: %v", err)
	}

	var conn device.Connector
	if simulate {
		logrus.Info("running against a simulated meter")
		conn = &device.Loopback{}
	} else {
		conn = serialport.New(conf.SerialPort())
	}
	meter = device.NewMeter(conn, addr, conf.Comm(), hub)
	if err := meter.Connect(context.Background()); err != nil {
		logrus.Fatalf("failed to connect to meter: %v", err)
	}

	exec = executor.New(meter, conf.Executor(), hub)

	// the scheduled run reads the preset store, so load it before anything
	// can fire
	presetStore, err = presets.NewStore(presetsPath())
	if err != nil {
		logrus.Fatalf("failed to load presets: %v", err)
	}

	sched = NewScheduler(runScheduledCalibration, schedulerPreCheck, notifyUpcomingRun, notifySchedulerError)
	sched.Start()
	if expr := conf.Schedule(); expr != "" {
		if err := sched.Schedule(expr); err != nil {
			logrus.Errorf("invalid schedule %q in config: %v", expr, err)
		}
	}

	srv := &http.Server{
		Handler: router,
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	if exec.Cancel() {
		logrus.Info("cancelled the session in flight")
	}

	logrus.Info("stopping scheduler")
	sched.Stop()

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("disconnecting from meter")
	if err := meter.Disconnect(); err != nil {
		logrus.Errorf("failed to disconnect from meter: %v", err)
	}

	logrus.Info("exiting")
	return nil
}

func presetsPath() string {
	if p := conf.PresetsPath(); p != "" {
		return p
	}
	return "/etc/metercal/presets.json"
}

func runScheduledCalibration() error {
	vals := presets.Builtins()[0].Standards
	if p, ok := presetStore.Get("scheduled"); ok {
		vals = p.Standards
	}
	_, err := exec.ExecuteOneClick(context.Background(), vals)
	return err
}

func schedulerPreCheck() error {
	if exec.Running() {
		return errors.New("a calibration session is in flight")
	}
	return nil
}

func notifyUpcomingRun(data any) {
	if t, ok := data.(time.Time); ok {
		logrus.Infof("scheduled calibration upcoming at %s", t.Format(time.DateTime))
	}
}

func notifySchedulerError(data any) {
	logrus.Errorf("scheduler: %v", data)
}
