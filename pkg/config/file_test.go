package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/junwei-lu/metercal/pkg/executor"
	"github.com/junwei-lu/metercal/pkg/serialport"
)

func TestMissingFileYieldsDefaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	if got := f.DeviceAddress(); got != "111111111111" {
		t.Fatalf("DeviceAddress = %q", got)
	}
	if got := f.SerialPort().BaudRate; got != 9600 {
		t.Fatalf("BaudRate = %d", got)
	}
	c := f.Comm()
	if c.Timeout != 3*time.Second || c.MaxAttempts != 3 || c.RetryDelay != 500*time.Millisecond {
		t.Fatalf("Comm = %+v", c)
	}
	e := f.Executor()
	if e.DefaultTolerance != 1.0 || e.StepDelay != 500*time.Millisecond {
		t.Fatalf("Executor = %+v", e)
	}
	if e.Policy.Kind != executor.RetryStep || e.Policy.Retries != 1 || e.Policy.Fallback != executor.Abort {
		t.Fatalf("Policy = %+v", e.Policy)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	f.SetSerialPort(serialport.Config{Name: "/dev/ttyUSB1", BaudRate: 2400})
	f.SetDeviceAddress("123456789012")
	f.SetSchedule("0 3 * * *")
	f.SetTolerance(4, 0.25)
	f.SetPolicy(executor.Policy{Kind: executor.SkipAndContinue})
	if err := f.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	g, err := NewFile(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := g.SerialPort(); got.Name != "/dev/ttyUSB1" || got.BaudRate != 2400 {
		t.Fatalf("SerialPort = %+v", got)
	}
	if got := g.DeviceAddress(); got != "123456789012" {
		t.Fatalf("DeviceAddress = %q", got)
	}
	if got := g.Schedule(); got != "0 3 * * *" {
		t.Fatalf("Schedule = %q", got)
	}
	e := g.Executor()
	if e.Tolerances[4] != 0.25 {
		t.Fatalf("Tolerances = %+v", e.Tolerances)
	}
	if e.Policy.Kind != executor.SkipAndContinue {
		t.Fatalf("Policy = %+v", e.Policy)
	}
	// untouched fields still fall back to defaults
	if e.DefaultTolerance != 1.0 {
		t.Fatalf("DefaultTolerance = %g", e.DefaultTolerance)
	}
}

func TestEmptyFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("  \n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	if got := f.Comm().MaxAttempts; got != 3 {
		t.Fatalf("MaxAttempts = %d", got)
	}
}

func TestBadPolicyFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"failurePolicy":"explode"}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	if got := f.Executor().Policy; got != executor.DefaultPolicy() {
		t.Fatalf("Policy = %+v", got)
	}
}
