package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lowcraft/runtime/internal/automation"
)

var automationCmd = &cobra.Command{
	Use:     "automation",
	GroupID: "automation",
	Short:   "Create, publish, disable, and inspect automations",
}

var automationImportCmd = &cobra.Command{
	Use:   "import <definition-file>",
	Short: "Import (or update) an automation from a YAML/JSON definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadManifestFile(args[0])
		if err != nil {
			return err
		}
		a := automation.AutomationFromDoc(doc)
		if a.Status == "" {
			a.Status = automation.StatusDraft
		}
		saved := app.Automation.Upsert(flagWorkspaceID, a)
		ok("imported automation %s (%s)", saved.ID, saved.Status)
		return nil
	},
}

var automationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List automations",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.New().Headers("ID", "NAME", "STATUS", "STEPS")
		for _, a := range app.Automation.List(flagWorkspaceID) {
			t.Row(a.ID, a.Name, string(a.Status), fmt.Sprint(len(a.Steps)))
		}
		fmt.Println(t)
		return nil
	},
}

var automationShowCmd = &cobra.Command{
	Use:   "show <automation-id>",
	Short: "Print an automation's definition as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, found := app.Automation.Get(flagWorkspaceID, args[0])
		if !found {
			return fmt.Errorf("craftctl: automation %s not found", args[0])
		}
		out, err := yaml.Marshal(automation.ExportDoc(a))
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var automationPublishCmd = &cobra.Command{
	Use:   "publish <automation-id>",
	Short: "Mark an automation published, making it live against incoming events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Automation.SetStatus(flagWorkspaceID, args[0], automation.StatusPublished); err != nil {
			return err
		}
		ok("published %s", args[0])
		return nil
	},
}

var automationDisableCmd = &cobra.Command{
	Use:   "disable <automation-id>",
	Short: "Disable a published automation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Automation.SetStatus(flagWorkspaceID, args[0], automation.StatusDisabled); err != nil {
			return err
		}
		ok("disabled %s", args[0])
		return nil
	},
}

var automationRunsCmd = &cobra.Command{
	Use:   "runs <automation-id>",
	Short: "List an automation's runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.New().Headers("RUN", "STATUS", "STEP", "STARTED", "ERROR")
		for _, r := range app.Automation.ListRuns(flagWorkspaceID) {
			if r.AutomationID != args[0] {
				continue
			}
			t.Row(r.ID, string(r.Status), fmt.Sprint(r.CurrentStepIndex), r.StartedAt.Format("2006-01-02 15:04"), r.LastError)
		}
		fmt.Println(t)
		return nil
	},
}

var automationRunShowCmd = &cobra.Command{
	Use:   "run-show <run-id>",
	Short: "Show a run's step history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, found := app.Automation.GetRun(flagWorkspaceID, args[0])
		if !found {
			return fmt.Errorf("craftctl: run %s not found", args[0])
		}
		b, _ := json.MarshalIndent(run, "", "  ")
		fmt.Println(string(b))
		t := table.New().Headers("STEP", "ATTEMPT", "STATUS", "ERROR")
		for _, sr := range app.Automation.ListStepRuns(args[0]) {
			t.Row(sr.StepID, fmt.Sprint(sr.Attempt), string(sr.Status), sr.LastError)
		}
		fmt.Println(t)
		return nil
	},
}

var automationRunRetryCmd = &cobra.Command{
	Use:   "run-retry <run-id>",
	Short: "Re-advance a failed run from its current step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Automation.UpdateRun(flagWorkspaceID, args[0], func(r *automation.Run) {
			r.Status = automation.RunQueued
			r.LastError = ""
		}); err != nil {
			return err
		}
		if err := app.Runtime.Advance(ctx, flagWorkspaceID, args[0]); err != nil {
			return err
		}
		ok("retried run %s", args[0])
		return nil
	},
}

var automationRunCancelCmd = &cobra.Command{
	Use:   "run-cancel <run-id>",
	Short: "Cancel a queued or running automation run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Automation.UpdateRun(flagWorkspaceID, args[0], func(r *automation.Run) {
			r.Status = automation.RunCancelled
			r.EndedAt = time.Now().UTC()
		}); err != nil {
			return err
		}
		ok("cancelled run %s", args[0])
		return nil
	},
}

func init() {
	automationCmd.AddCommand(automationImportCmd, automationListCmd, automationShowCmd,
		automationPublishCmd, automationDisableCmd, automationRunsCmd, automationRunShowCmd,
		automationRunRetryCmd, automationRunCancelCmd)
	rootCmd.AddCommand(automationCmd)
}
