package main

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:     "job",
	GroupID: "automation",
	Short:   "Inspect and manage the background job queue",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs for the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.New().Headers("ID", "TYPE", "STATUS", "ATTEMPT", "RUN_AT", "ERROR")
		for _, j := range app.Jobs.List(flagWorkspaceID) {
			t.Row(j.ID, j.Type, string(j.Status), fmt.Sprintf("%d/%d", j.Attempt, j.MaxAttempts),
				j.RunAt.Format("2006-01-02 15:04"), j.LastError)
		}
		fmt.Println(t)
		return nil
	},
}

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Print a job and its lifecycle events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j, found := app.Jobs.Get(args[0])
		if !found {
			return fmt.Errorf("craftctl: job %s not found", args[0])
		}
		b, _ := json.MarshalIndent(j, "", "  ")
		fmt.Println(string(b))
		t := table.New().Headers("KIND", "DETAIL", "AT")
		for _, e := range app.Jobs.ListEvents(args[0]) {
			t.Row(e.Kind, e.Detail, e.At.Format("2006-01-02 15:04:05"))
		}
		fmt.Println(t)
		return nil
	},
}

var jobRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Re-queue a failed or dead job immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Jobs.Retry(args[0]); err != nil {
			return err
		}
		ok("requeued job %s", args[0])
		return nil
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job cooperatively (no in-flight interruption)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !askConfirm(fmt.Sprintf("Cancel job %s?", args[0]), "Cancel job", "Back") {
			warn("cancelled nothing")
			return nil
		}
		if err := app.Jobs.Cancel(args[0]); err != nil {
			return err
		}
		ok("cancelled job %s", args[0])
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobListCmd, jobShowCmd, jobRetryCmd, jobCancelCmd)
	rootCmd.AddCommand(jobCmd)
}
