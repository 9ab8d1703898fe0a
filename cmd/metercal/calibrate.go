package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/junwei-lu/metercal/pkg/client"
	"github.com/junwei-lu/metercal/pkg/executor"
	"github.com/junwei-lu/metercal/pkg/params"
)

func NewCalibrateCommand() *cobra.Command {
	var (
		presetName string
		wait       bool
		standards  params.StandardValues
		useFlags   bool
	)

	cmd := &cobra.Command{
		Use:     "calibrate [step-id...]",
		Aliases: []string{"cali"},
		Short:   "Run meter calibration",
		GroupID: gBasic,
		Long: `Run meter calibration.

Without arguments this runs every step in order (one-click calibration).
Pass step IDs to run a subset; they always execute in canonical order.

Standard values come from a preset (--preset), from the standards flags
(--voltage, --current, ...), or from the default bench preset.`,
		Example: `  metercal calibrate                  (one-click, default standards)
  metercal calibrate 2 3              (gain steps only)
  metercal calibrate --preset low-current
  metercal calibrate --voltage 230 --current 5 --power-factor 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.CalibrateRequest{Preset: presetName}
			for _, a := range args {
				id, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("invalid step id %q: %v", a, err)
				}
				req.StepIDs = append(req.StepIDs, id)
			}
			if useFlags {
				if presetName != "" {
					return fmt.Errorf("cannot combine --preset with standards flags")
				}
				req.Standards = &standards
			}

			ret, err := apiClient.Calibrate(req)
			if err != nil {
				return fmt.Errorf("failed to start calibration: %v", err)
			}
			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			if !wait {
				cmd.Println("Calibration started. Run 'metercal status' to follow it.")
				return nil
			}
			return waitForSession(cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&presetName, "preset", "p", "", "standard-value preset to calibrate against")
	f.BoolVarP(&wait, "wait", "w", true, "wait for the run to finish and print the results")
	f.Float64Var(&standards.Voltage, "voltage", 220, "standard voltage (V)")
	f.Float64Var(&standards.Current, "current", 1, "standard current (A)")
	f.Float64Var(&standards.PowerFactor, "power-factor", 1, "standard power factor")
	f.Float64Var(&standards.Frequency, "frequency", 50, "standard frequency (Hz)")
	f.Float64Var(&standards.Phase, "phase", 0, "standard phase angle (degrees)")
	f.Float64Var(&standards.SmallCurrentThreshold, "threshold", 0.05, "small-current threshold (A)")

	cmd.AddCommand(newCalibrateCancelCommand())

	// only send ad-hoc standards when the user actually set one
	cmd.PreRun = func(cmd *cobra.Command, _ []string) {
		for _, name := range []string{"voltage", "current", "power-factor", "frequency", "phase", "threshold"} {
			if cmd.Flags().Changed(name) {
				useFlags = true
			}
		}
	}

	return cmd
}

func newCalibrateCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the calibration session in flight",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ret, err := apiClient.CancelCalibration()
			if err != nil {
				return fmt.Errorf("failed to cancel calibration: %v", err)
			}
			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			cmd.Println("Calibration cancelled.")
			return nil
		},
	}
}

// waitForSession polls the daemon until the session reaches a terminal state,
// then prints the results.
func waitForSession(cmd *cobra.Command) error {
	// the run starts asynchronously; give the daemon a moment so we do not
	// read the previous session's terminal state
	time.Sleep(300 * time.Millisecond)

	var last executor.SessionState
	for {
		s, err := apiClient.GetSession()
		if err != nil {
			return fmt.Errorf("failed to poll calibration session: %v", err)
		}
		if s.State != last {
			last = s.State
			logrus.Debugf("session state: %s", s.State)
		}
		if s.State == executor.Completed || s.State == executor.Aborted {
			printSession(cmd, s)
			if s.State == executor.Aborted {
				return fmt.Errorf("calibration aborted")
			}
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
}
