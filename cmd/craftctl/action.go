package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lowcraft/runtime/internal/actionexec"
)

var actionRunCmd = &cobra.Command{
	Use:     "action-run <module-id> <action-id>",
	GroupID: "content",
	Short:   "Invoke a declarative action against the current manifest",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, actionID := args[0], args[1]
		recordID, _ := cmd.Flags().GetString("record")
		selected, _ := cmd.Flags().GetString("selected")
		draftPath, _ := cmd.Flags().GetString("draft")

		actx := actionexec.Context{RecordID: recordID}
		if selected != "" {
			actx.SelectedIDs = strings.Split(selected, ",")
		}
		if draftPath != "" {
			doc, err := loadJSONDoc(draftPath)
			if err != nil {
				return err
			}
			actx.RecordDraft = doc
		}

		roles := []string{flagActorRole}
		result, err := app.Executor.Execute(flagWorkspaceID, moduleID, actionID, actx, flagActorID, roles)
		if err != nil {
			return err
		}
		ok("action %s/%s: %s", moduleID, actionID, result.Kind)
		if result.Target != "" {
			fmt.Println("target:", result.Target)
		}
		if result.Record != nil {
			b, _ := json.MarshalIndent(result.Record, "", "  ")
			fmt.Println(string(b))
		}
		for _, r := range result.Records {
			b, _ := json.Marshal(r)
			fmt.Println(string(b))
		}
		if len(result.EventsEmitted) > 0 {
			fmt.Println("events:", strings.Join(result.EventsEmitted, ", "))
		}
		return nil
	},
}

func init() {
	actionRunCmd.Flags().String("record", "", "record id the action is bound to")
	actionRunCmd.Flags().String("selected", "", "comma-separated record ids for a bulk action")
	actionRunCmd.Flags().String("draft", "", "JSON file with unsaved form edits")
	rootCmd.AddCommand(actionRunCmd)
}
