package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/junwei-lu/metercal/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s\n", version.Version)
		},
	}
}

func NewStepsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "steps",
		Short:   "List the calibration steps",
		GroupID: gBasic,
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, err := apiClient.GetSteps()
			if err != nil {
				return fmt.Errorf("failed to list steps: %v", err)
			}
			for _, s := range steps {
				cmd.Printf("  [%d] %-22s DI %s\n", s.ID, s.Name, s.DI)
			}
			return nil
		},
	}
}
