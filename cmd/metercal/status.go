package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/junwei-lu/metercal/pkg/client"
	"github.com/junwei-lu/metercal/pkg/config"
	"github.com/junwei-lu/metercal/pkg/executor"
	"github.com/junwei-lu/metercal/pkg/steps"
)

var apiClient *client.Client

type statusData struct {
	stats   client.Stats
	session executor.Session
	config  config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	stats, err := apiClient.GetStats()
	if err != nil {
		return nil, fmt.Errorf("failed to get daemon stats: %w", err)
	}

	session, err := apiClient.GetSession()
	if err != nil {
		return nil, fmt.Errorf("failed to get calibration session: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{
		stats:   stats,
		session: session,
		config:  conf,
	}, nil
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of metercal",
		Long:    `Get daemon status, the last calibration session, and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Get various info first.
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			conf := config.NewFileFromConfig(&data.config, "")

			// Daemon status.
			cmd.Println(bold("Daemon status:"))
			cmd.Println("  Simulated meter: " + bool2Text(data.stats.Simulated))
			cmd.Println("  Calibration in progress: " + bool2Text(data.stats.Running))
			cmd.Printf("  Link state: %s\n", bold("%s", data.stats.CommState))
			cmd.Printf("  Commands: %s  ok: %s  failed: %s  retries: %s\n",
				bold("%d", data.stats.Comm.Commands),
				bold("%d", data.stats.Comm.Successes),
				bold("%d", data.stats.Comm.Failures),
				bold("%d", data.stats.Comm.Retries))

			cmd.Println()

			// Last session.
			cmd.Println(bold("Calibration session:"))
			printSession(cmd, data.session)

			cmd.Println()

			// Config.
			cmd.Println(bold("Configuration:"))
			sp := conf.SerialPort()
			cmd.Printf("  Serial port: %s\n", bold("%s @ %d baud", sp.Name, sp.BaudRate))
			cmd.Printf("  Device address: %s\n", bold("%s", conf.DeviceAddress()))
			ecfg := conf.Executor()
			cmd.Printf("  Default tolerance: %s\n", bold("%g%%", ecfg.DefaultTolerance))
			cmd.Printf("  Failure policy: %s\n", bold("%s", ecfg.Policy.Kind))
			if sched := conf.Schedule(); sched != "" {
				cmd.Printf("  Schedule: %s\n", bold("%s", sched))
			} else {
				cmd.Println("  Schedule: not set")
			}
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
			return nil
		},
	}
}

func printSession(cmd *cobra.Command, s executor.Session) {
	if s.State == executor.NotStarted {
		cmd.Println("  No calibration has been run yet.")
		return
	}

	state := string(s.State)
	switch s.State {
	case executor.Completed:
		state = color.GreenString(state)
	case executor.Aborted:
		state = color.RedString(state)
	}
	cmd.Printf("  State: %s\n", bold("%s", state))
	cmd.Printf("  Standards: %s\n",
		bold("%gV %gA pf=%g %gHz", s.Standards.Voltage, s.Standards.Current, s.Standards.PowerFactor, s.Standards.Frequency))
	if !s.StartedAt.IsZero() {
		cmd.Printf("  Started: %s\n", s.StartedAt.Local().Format(time.DateTime))
	}
	if len(s.Results) > 0 {
		cmd.Printf("  Success rate: %s\n", bold("%.0f%% (%d ok, %d failed, %d skipped)",
			s.SuccessRate(), s.Succeeded(), s.Failed(), s.Skipped()))
	}
	for _, r := range s.Results {
		cmd.Printf("  [%d] %-22s %s", r.StepID, r.Name, stepState2Text(r.State))
		if dev := worstDeviation(r); dev != nil {
			cmd.Printf("  deviation %+.3f%%", *dev)
		}
		if r.Attempts > 1 {
			cmd.Printf("  (%d attempts)", r.Attempts)
		}
		if r.Error != "" {
			cmd.Printf("  %s", color.RedString(r.Error))
		}
		cmd.Println()
	}
}

// worstDeviation returns the largest-magnitude measured deviation of a step,
// or nil when the step produced none.
func worstDeviation(r steps.Result) *float64 {
	var worst *float64
	for i := range r.Quantities {
		d := r.Quantities[i].Deviation
		if d == nil {
			continue
		}
		if worst == nil || abs(*d) > abs(*worst) {
			worst = d
		}
	}
	return worst
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func stepState2Text(s steps.State) string {
	switch s {
	case steps.Success:
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	case steps.Failed:
		return color.New(color.Bold, color.FgRed).Sprint("✘")
	case steps.Skipped:
		return color.New(color.Bold, color.FgYellow).Sprint("skipped")
	default:
		return string(s)
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
