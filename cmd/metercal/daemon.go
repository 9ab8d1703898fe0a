package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/junwei-lu/metercal/pkg/daemon"
	"github.com/junwei-lu/metercal/pkg/version"
)

var (
	// simulate replaces the serial port with an in-process loopback meter.
	simulate = false
	// alwaysAllowNonRootAccess indicates whether to always allow non-root users to access the metercal daemon.
	alwaysAllowNonRootAccess = false
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daemon",
		Short:   "Run metercal daemon in the foreground",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
			}).Info("metercal daemon starting")
			return daemon.Run(configPath, unixSocketPath, simulate, alwaysAllowNonRootAccess)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&simulate, "simulate", false,
		"Use a simulated loopback meter instead of the configured serial port.")
	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")

	return cmd
}
