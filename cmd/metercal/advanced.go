package main

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/junwei-lu/metercal/pkg/dlt645"
	"github.com/junwei-lu/metercal/pkg/executor"
	"github.com/junwei-lu/metercal/pkg/serialport"
)

func NewDeviceAddressCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "device-address [address]",
		Short:   "Set the meter address",
		GroupID: gAdvanced,
		Long: `Set the meter address.

The address is 12 decimal digits as printed on the meter nameplate, for
example 111111111111. The daemon must be restarted to talk to the new
address.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := dlt645.ParseAddress(args[0]); err != nil {
				return fmt.Errorf("invalid address: %v", err)
			}

			ret, err := apiClient.SetDeviceAddress(args[0])
			if err != nil {
				return fmt.Errorf("failed to set device address: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully set device address to %s", args[0])
			return nil
		},
	}
}

func NewSerialPortCommand() *cobra.Command {
	var cfg serialport.Config

	cmd := &cobra.Command{
		Use:     "serial-port",
		Short:   "Configure or list serial ports",
		GroupID: gAdvanced,
		Long: `Configure the serial port the daemon uses to reach the meter.

The daemon must be restarted for the change to take effect. Use
'metercal serial-port list' to see the ports present on this machine.`,
		Example: `  metercal serial-port --port /dev/ttyUSB0 --baud 2400`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if cfg.Name == "" {
				return fmt.Errorf("--port is required")
			}

			ret, err := apiClient.SetSerialPort(cfg)
			if err != nil {
				return fmt.Errorf("failed to set serial port: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully set serial port to %s @ %d baud", cfg.Name, cfg.BaudRate)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Name, "port", "", "serial port device, e.g. /dev/ttyUSB0")
	f.IntVar(&cfg.BaudRate, "baud", 9600, "baud rate")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List serial ports on this machine (via the daemon)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := apiClient.GetSerialPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				cmd.Println("No serial ports found.")
				return nil
			}
			for _, p := range ports {
				cmd.Printf("  %s\n", p)
			}
			return nil
		},
	})

	return cmd
}

func NewToleranceCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "tolerance <step-id> <percent>",
		Short:   "Set the per-step verification tolerance",
		GroupID: gAdvanced,
		Long: `Set the per-step verification tolerance.

A step passes verification when every measured deviation stays within the
tolerance, in percent. The setting is persisted and applies to future runs.`,
		Example: `  metercal tolerance 2 0.5  (voltage/current gain must land within 0.5%)`,
		Args:    cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			stepID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step id: %v", err)
			}
			percent, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid tolerance: %v", err)
			}

			ret, err := apiClient.SetTolerance(stepID, percent)
			if err != nil {
				return fmt.Errorf("failed to set tolerance: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully set step %d tolerance to %g%%", stepID, percent)
			return nil
		},
	}
}

func NewPolicyCommand() *cobra.Command {
	var p executor.Policy

	cmd := &cobra.Command{
		Use:     "policy <abort|skip|retry>",
		Short:   "Set the failure policy for calibration runs",
		GroupID: gAdvanced,
		Long: `Set the failure policy for calibration runs.

  abort  stop the run on the first failed step
  skip   mark the failed step and continue with the rest
  retry  re-run the failed step, then fall back to abort or skip`,
		Example: `  metercal policy abort
  metercal policy retry --retries 2 --fallback skip`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			p.Kind = executor.PolicyKind(args[0])
			if err := p.Validate(); err != nil {
				return err
			}

			ret, err := apiClient.SetPolicy(p)
			if err != nil {
				return fmt.Errorf("failed to set policy: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully set failure policy to %s", p.Kind)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&p.Retries, "retries", 1, "retry count (retry policy only)")
	var fallback string
	f.StringVar(&fallback, "fallback", "abort", "what to do when retries are exhausted: abort or skip")
	cmd.PreRunE = func(_ *cobra.Command, _ []string) error {
		switch fallback {
		case "abort":
			p.Fallback = executor.Abort
		case "skip":
			p.Fallback = executor.SkipAndContinue
		default:
			return fmt.Errorf("invalid fallback %q", fallback)
		}
		return nil
	}

	return cmd
}
