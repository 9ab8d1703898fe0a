package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/junwei-lu/metercal/pkg/presets"
)

func NewPresetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "preset",
		Short:   "Manage standard-value presets",
		GroupID: gAdvanced,
		Long: `Manage standard-value presets.

A preset names a full set of bench standard values (voltage, current, power
factor, frequency, phase, small-current threshold) plus an optional tolerance.
Built-in presets cover common bench points; user presets are stored by the
daemon and shadow built-ins with the same name.`,
	}

	cmd.AddCommand(
		newPresetListCommand(),
		newPresetShowCommand(),
		newPresetSaveCommand(),
		newPresetDeleteCommand(),
	)

	return cmd
}

func newPresetListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := apiClient.GetPresets()
			if err != nil {
				return err
			}
			for _, p := range list {
				origin := "user"
				if p.Builtin {
					origin = "builtin"
				}
				cmd.Printf("  %-18s %-7s %s\n", p.Name, origin, p.Description)
			}
			return nil
		},
	}
}

func newPresetShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one preset in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := apiClient.GetPresets()
			if err != nil {
				return err
			}
			for _, p := range list {
				if p.Name != args[0] {
					continue
				}
				cmd.Println(bold(p.Name))
				if p.Description != "" {
					cmd.Printf("  %s\n", p.Description)
				}
				cmd.Printf("  Voltage: %s\n", bold("%g V", p.Standards.Voltage))
				cmd.Printf("  Current: %s\n", bold("%g A", p.Standards.Current))
				cmd.Printf("  Power factor: %s\n", bold("%g", p.Standards.PowerFactor))
				cmd.Printf("  Frequency: %s\n", bold("%g Hz", p.Standards.Frequency))
				cmd.Printf("  Phase: %s\n", bold("%g°", p.Standards.Phase))
				cmd.Printf("  Small-current threshold: %s\n", bold("%g A", p.Standards.SmallCurrentThreshold))
				if p.Tolerance > 0 {
					cmd.Printf("  Tolerance: %s\n", bold("%g%%", p.Tolerance))
				}
				return nil
			}
			return fmt.Errorf("no preset named %q", args[0])
		},
	}
}

func newPresetSaveCommand() *cobra.Command {
	var p presets.Preset

	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save a user preset",
		Args:  cobra.ExactArgs(1),
		Example: `  metercal preset save bench-2 --voltage 230 --current 5
  metercal preset save strict --tolerance 0.2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Name = args[0]
			if _, err := apiClient.SavePreset(p); err != nil {
				return fmt.Errorf("failed to save preset: %v", err)
			}
			cmd.Printf("Preset %q saved.\n", p.Name)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&p.Description, "description", "", "human-readable description")
	f.Float64Var(&p.Standards.Voltage, "voltage", 220, "standard voltage (V)")
	f.Float64Var(&p.Standards.Current, "current", 1, "standard current (A)")
	f.Float64Var(&p.Standards.PowerFactor, "power-factor", 1, "standard power factor")
	f.Float64Var(&p.Standards.Frequency, "frequency", 50, "standard frequency (Hz)")
	f.Float64Var(&p.Standards.Phase, "phase", 0, "standard phase angle (degrees)")
	f.Float64Var(&p.Standards.SmallCurrentThreshold, "threshold", 0.05, "small-current threshold (A)")
	f.Float64Var(&p.Tolerance, "tolerance", 0, "per-preset tolerance override (percent, 0 = use configured)")

	return cmd
}

func newPresetDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a user preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := apiClient.DeletePreset(args[0]); err != nil {
				return fmt.Errorf("failed to delete preset: %v", err)
			}
			cmd.Printf("Preset %q deleted.\n", args[0])
			return nil
		},
	}
}
