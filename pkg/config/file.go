package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/junwei-lu/metercal/pkg/comm"
	"github.com/junwei-lu/metercal/pkg/executor"
	"github.com/junwei-lu/metercal/pkg/serialport"
	"github.com/junwei-lu/metercal/pkg/utils/ptr"
)

var defaultFileConfig = &RawFileConfig{
	SerialPort:         ptr.To(""),
	BaudRate:           ptr.To(defaultBaudRate),
	DeviceAddress:      ptr.To(defaultDeviceAddress),
	TimeoutMs:          ptr.To(int(defaultTimeout / time.Millisecond)),
	MaxAttempts:        ptr.To(defaultMaxAttempts),
	RetryDelayMs:       ptr.To(int(defaultRetryDelay / time.Millisecond)),
	DefaultTolerance:   ptr.To(defaultTolerance),
	StepDelayMs:        ptr.To(int(defaultStepDelay / time.Millisecond)),
	FailurePolicy:      ptr.To(string(executor.RetryStep)),
	FailureRetries:     ptr.To(1),
	FailureFallback:    ptr.To(string(executor.Abort)),
	PresetsPath:        ptr.To(""),
	Schedule:           ptr.To(""),
	AllowNonRootAccess: ptr.To(false),
}

var _ Config = &File{}

// RawFileConfig is the JSON shape of the config file. Pointer fields tell an
// absent key apart from a zero value, so defaults only fill real gaps.
type RawFileConfig struct {
	SerialPort         *string         `json:"serialPort,omitempty"`
	BaudRate           *int            `json:"baudRate,omitempty"`
	DeviceAddress      *string         `json:"deviceAddress,omitempty"`
	TimeoutMs          *int            `json:"timeoutMs,omitempty"`
	MaxAttempts        *int            `json:"maxAttempts,omitempty"`
	RetryDelayMs       *int            `json:"retryDelayMs,omitempty"`
	DefaultTolerance   *float64        `json:"defaultTolerance,omitempty"`
	Tolerances         map[int]float64 `json:"tolerances,omitempty"`
	StepDelayMs        *int            `json:"stepDelayMs,omitempty"`
	FailurePolicy      *string         `json:"failurePolicy,omitempty"`
	FailureRetries     *int            `json:"failureRetries,omitempty"`
	FailureFallback    *string         `json:"failureFallback,omitempty"`
	PresetsPath        *string         `json:"presetsPath,omitempty"`
	Schedule           *string         `json:"schedule,omitempty"`
	AllowNonRootAccess *bool           `json:"allowNonRootAccess,omitempty"`
}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = defaultFileConfig
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

// Raw returns a snapshot of the raw file shape, for serving over the API.
func (f *File) Raw() RawFileConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := *f.c
	if f.c.Tolerances != nil {
		out.Tolerances = make(map[int]float64, len(f.c.Tolerances))
		for k, v := range f.c.Tolerances {
			out.Tolerances[k] = v
		}
	}
	return out
}

func intOr(p, def *int) int {
	if p != nil {
		return *p
	}
	return *def
}

func strOr(p, def *string) string {
	if p != nil {
		return *p
	}
	return *def
}

func (f *File) SerialPort() serialport.Config {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return serialport.Config{
		Name:     strOr(f.c.SerialPort, defaultFileConfig.SerialPort),
		BaudRate: intOr(f.c.BaudRate, defaultFileConfig.BaudRate),
	}
}

func (f *File) DeviceAddress() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return strOr(f.c.DeviceAddress, defaultFileConfig.DeviceAddress)
}

func (f *File) Comm() comm.Config {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return comm.Config{
		Timeout:     time.Duration(intOr(f.c.TimeoutMs, defaultFileConfig.TimeoutMs)) * time.Millisecond,
		MaxAttempts: intOr(f.c.MaxAttempts, defaultFileConfig.MaxAttempts),
		RetryDelay:  time.Duration(intOr(f.c.RetryDelayMs, defaultFileConfig.RetryDelayMs)) * time.Millisecond,
	}
}

func (f *File) Executor() executor.Config {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	tolerance := *defaultFileConfig.DefaultTolerance
	if f.c.DefaultTolerance != nil {
		tolerance = *f.c.DefaultTolerance
	}

	var tolerances map[int]float64
	if len(f.c.Tolerances) > 0 {
		tolerances = make(map[int]float64, len(f.c.Tolerances))
		for k, v := range f.c.Tolerances {
			tolerances[k] = v
		}
	}

	policy := executor.Policy{
		Kind:     executor.PolicyKind(strOr(f.c.FailurePolicy, defaultFileConfig.FailurePolicy)),
		Retries:  intOr(f.c.FailureRetries, defaultFileConfig.FailureRetries),
		Fallback: executor.PolicyKind(strOr(f.c.FailureFallback, defaultFileConfig.FailureFallback)),
	}
	if err := policy.Validate(); err != nil {
		logrus.Warnf("invalid failure policy in config, using default: %v", err)
		policy = executor.DefaultPolicy()
	}

	return executor.Config{
		Tolerances:       tolerances,
		DefaultTolerance: tolerance,
		StepDelay:        time.Duration(intOr(f.c.StepDelayMs, defaultFileConfig.StepDelayMs)) * time.Millisecond,
		Policy:           policy,
	}
}

func (f *File) PresetsPath() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return strOr(f.c.PresetsPath, defaultFileConfig.PresetsPath)
}

func (f *File) Schedule() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return strOr(f.c.Schedule, defaultFileConfig.Schedule)
}

func (f *File) AllowNonRootAccess() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.AllowNonRootAccess != nil {
		return *f.c.AllowNonRootAccess
	}
	return *defaultFileConfig.AllowNonRootAccess
}

func (f *File) SetSerialPort(c serialport.Config) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.SerialPort = &c.Name
	f.c.BaudRate = &c.BaudRate
}

func (f *File) SetDeviceAddress(addr string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.DeviceAddress = &addr
}

func (f *File) SetSchedule(expr string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Schedule = &expr
}

func (f *File) SetTolerance(stepID int, percent float64) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.c.Tolerances == nil {
		f.c.Tolerances = map[int]float64{}
	}
	f.c.Tolerances[stepID] = percent
}

func (f *File) SetPolicy(p executor.Policy) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.FailurePolicy = ptr.To(string(p.Kind))
	f.c.FailureRetries = ptr.To(p.Retries)
	f.c.FailureFallback = ptr.To(string(p.Fallback))
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}
	configString := string(b)

	if strings.TrimSpace(configString) == "" {
		// If the file is empty, return the empty config.
		// Do not make f.c a nil.
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"serialPort":    f.SerialPort().Name,
		"baudRate":      f.SerialPort().BaudRate,
		"deviceAddress": f.DeviceAddress(),
		"timeout":       f.Comm().Timeout,
		"maxAttempts":   f.Comm().MaxAttempts,
		"tolerance":     f.Executor().DefaultTolerance,
		"policy":        f.Executor().Policy.Kind,
		"schedule":      f.Schedule(),
	}
}
