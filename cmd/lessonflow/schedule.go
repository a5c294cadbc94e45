package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/lessonflow/internal/scheduler"
	"github.com/rendis/lessonflow/internal/store"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage cron schedules for saved workflows",
	Long: `Schedules start saved workflows on a cron expression such as
"0 9 * * MON" or "@daily". They fire while lessonflow serve is running.`,
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <workflow-id> <cron>",
	Short: "Schedule a saved workflow",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(cmd, func(ctx context.Context, a *app, s *scheduler.Scheduler) error {
			if _, err := a.store.GetWorkflow(ctx, args[0]); err != nil {
				return err
			}
			mode, _ := cmd.Flags().GetString("mode")
			sc, err := s.Add(ctx, args[0], args[1], mode)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schedule %s added, next run %s\n", sc.ID, formatTime(sc.NextRunAt))
			return nil
		})
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withScheduler(cmd, func(ctx context.Context, a *app, _ *scheduler.Scheduler) error {
			wf, _ := cmd.Flags().GetString("workflow")
			list, err := a.store.ListSchedules(ctx, store.ScheduleFilter{WorkflowID: wf})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWORKFLOW\tCRON\tMODE\tENABLED\tNEXT RUN\tLAST STATUS")
			for _, sc := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
					sc.ID, sc.WorkflowID, sc.CronExpression, orDash(sc.Mode), sc.Enabled,
					formatTime(sc.NextRunAt), orDash(sc.LastRunStatus))
			}
			return tw.Flush()
		})
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Delete a schedule",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(cmd, func(ctx context.Context, _ *app, s *scheduler.Scheduler) error {
			return s.Remove(ctx, args[0])
		})
	},
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Stop a schedule from firing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(cmd, func(ctx context.Context, _ *app, s *scheduler.Scheduler) error {
			return s.SetEnabled(ctx, args[0], false)
		})
	},
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Let a paused schedule fire again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(cmd, func(ctx context.Context, _ *app, s *scheduler.Scheduler) error {
			return s.SetEnabled(ctx, args[0], true)
		})
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd, schedulePauseCmd, scheduleResumeCmd)
	scheduleAddCmd.Flags().String("mode", "", "walk mode for scheduled runs (default from settings)")
	scheduleListCmd.Flags().String("workflow", "", "only schedules of this workflow")
}

// withScheduler opens the app and hands fn a scheduler that is not ticking;
// schedules are only fired by serve.
func withScheduler(cmd *cobra.Command, fn func(context.Context, *app, *scheduler.Scheduler) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(cmd.Context()))
	return fn(cmd.Context(), a, scheduler.New(a.store, a.runs, cfg.Scheduler.Tick, a.logger))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
