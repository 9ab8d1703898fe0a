package config

import (
	"time"

	"github.com/junwei-lu/metercal/pkg/comm"
	"github.com/junwei-lu/metercal/pkg/executor"
	"github.com/junwei-lu/metercal/pkg/serialport"
)

// Config is the daemon configuration surface. The file implementation is the
// only one today; tests use it with a temp path.
type Config interface {
	SerialPort() serialport.Config
	DeviceAddress() string
	Comm() comm.Config
	Executor() executor.Config
	PresetsPath() string
	Schedule() string
	AllowNonRootAccess() bool

	SetSerialPort(serialport.Config)
	SetDeviceAddress(string)
	SetSchedule(string)
	SetTolerance(stepID int, percent float64)
	SetPolicy(executor.Policy)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}

// Defaults mirrored by the zero file config.
const (
	defaultBaudRate      = 9600
	defaultDeviceAddress = "111111111111"
	defaultTimeout       = 3 * time.Second
	defaultMaxAttempts   = 3
	defaultRetryDelay    = 500 * time.Millisecond
	defaultTolerance     = 1.0
	defaultStepDelay     = 500 * time.Millisecond
)
