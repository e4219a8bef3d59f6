package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/aurora/internal/scheduler"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and run scheduled tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in tasks and their next run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Type", "Name", "Cron", "Enabled", "Runs", "Next Run"})
		for _, task := range a.sched.Tasks() {
			next := "-"
			if task.NextRun != nil {
				next = humanize.Time(*task.NextRun)
			}
			t.AppendRow(table.Row{task.Type, task.Name, task.CronExpression, task.Enabled, task.RunCount, next})
		}
		t.Render()
		return nil
	},
}

var tasksRunCmd = &cobra.Command{
	Use:   "run <type>",
	Short: "Run a task once, ignoring its schedule and settings",
	Long: `Runs one of the built-in tasks immediately. Valid types are
feed-refresh, icon-cleanup and health-check.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskType, err := scheduler.ParseTaskType(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.sched.TaskByType(taskType)
		if err != nil {
			return err
		}
		res, err := a.sched.ExecuteTaskManually(cmd.Context(), task.ID)
		if err != nil {
			return err
		}
		status := "ok"
		if !res.Success {
			status = "failed"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s in %dms: %s\n", res.TaskName, status, res.DurationMs, res.Message)
		if !res.Success {
			return fmt.Errorf("task %s failed", task.Name)
		}
		return nil
	},
}

func init() {
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksRunCmd)
}
