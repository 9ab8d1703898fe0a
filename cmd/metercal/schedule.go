package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sche", "sched"},
		Short:   "Manage automatic calibration schedule",
		GroupID: gAdvanced,
		Long: `Manage automatic calibration schedule.

The schedule command can be used in multiple ways:
  metercal schedule 'minute hour day month weekday' Set schedule with cron expression
  metercal schedule disable                         Disable the schedule
  metercal schedule postpone [duration]             Postpone next run
  metercal schedule skip                            Skip next run
  metercal schedule show                            Show current schedule`,
		Example: `  metercal schedule '0 3 * * *' (At 03:00 every day)
  metercal schedule '0 3 * * 0' (At 03:00 on Sunday)
  metercal schedule '0 3 1 * *' (At 03:00 on the first day of every month)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// If no arguments, show the current schedule
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			// Otherwise, treat as a cron expression to set
			return runScheduleSet(cmd, args[0])
		},
	}

	// Add subcommands
	cmd.AddCommand(
		newScheduleDisableCommand(),
		newSchedulePostponeCommand(),
		newScheduleSkipCommand(),
		newScheduleShowCommand(),
	)

	return cmd
}

func newScheduleDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable the calibration schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleDisable(cmd)
		},
	}
}

func newSchedulePostponeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled calibration run",
		Example: `  metercal schedule postpone      (Postpone by 1 hour)
  metercal schedule postpone 90m  (Postpone by 90 minutes)
  metercal schedule postpone 2h   (Postpone by 2 hours)`,
		Long: `Postpone the next scheduled calibration run by a specified duration.
If no duration is provided, defaults to 1 hour.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour // default
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			return runSchedulePostpone(cmd, d)
		},
	}
}

func newScheduleSkipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled calibration run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleSkip(cmd)
		},
	}
}

func newScheduleShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current calibration schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleShow(cmd)
		},
	}
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	if _, err := apiClient.SetSchedule(cronExpr); err != nil {
		return err
	}
	return runScheduleShow(cmd)
}

func runScheduleDisable(cmd *cobra.Command) error {
	if _, err := apiClient.SetSchedule(""); err != nil {
		return err
	}
	cmd.Println("Calibration schedule disabled.")
	return nil
}

func runSchedulePostpone(cmd *cobra.Command, duration time.Duration) error {
	minutes := int(duration.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		return fmt.Errorf("duration must be at least one minute, got %s", duration)
	}
	if _, err := apiClient.PostponeScheduledRun(minutes); err != nil {
		return err
	}
	cmd.Printf("Next run postponed by %s.\n", duration)
	return nil
}

func runScheduleSkip(cmd *cobra.Command) error {
	if _, err := apiClient.SkipScheduledRun(); err != nil {
		return err
	}
	cmd.Println("Next scheduled run skipped.")
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	st, err := apiClient.GetSchedule()
	if err != nil {
		return err
	}
	if st.Expression == "" {
		cmd.Println("Calibration schedule is not set.")
		return nil
	}
	cmd.Printf("Schedule: %s\n", st.Expression)
	if st.NextRun != "" {
		if t, err := time.Parse(time.RFC3339, st.NextRun); err == nil && !t.IsZero() {
			cmd.Printf("Next run: %s\n", t.Local().Format(time.DateTime))
			return nil
		}
		cmd.Printf("Next run: %s\n", st.NextRun)
	}
	return nil
}
