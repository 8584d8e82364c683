package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/runtimeerr"
	"github.com/lowcraft/runtime/internal/validate"
)

var draftCmd = &cobra.Command{
	Use:     "draft",
	GroupID: "content",
	Short:   "Edit a module's working-copy manifest before publishing",
}

var draftListCmd = &cobra.Command{
	Use:   "list",
	Short: "List modules with an open draft",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.New().Headers("MODULE", "UPDATED", "BY")
		for _, d := range app.Drafts.ListDrafts(flagWorkspaceID) {
			t.Row(d.ModuleID, d.UpdatedAt.Format("2006-01-02 15:04"), d.UpdatedBy)
		}
		fmt.Println(t)
		return nil
	},
}

var draftShowCmd = &cobra.Command{
	Use:   "show <module-id>",
	Short: "Print a draft's manifest as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := app.Drafts.GetDraft(flagWorkspaceID, args[0])
		if d == nil {
			return fmt.Errorf("craftctl: no draft for module %s", args[0])
		}
		out, err := yaml.Marshal(d.Manifest)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var draftSetCmd = &cobra.Command{
	Use:   "set <module-id> <manifest-file>",
	Short: "Replace a draft's working copy from a YAML/JSON file, validating first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, path := args[0], args[1]
		doc, err := loadManifestFile(path)
		if err != nil {
			return err
		}
		result := validate.Validate(doc, moduleID)
		note, _ := cmd.Flags().GetString("note")
		errDocs := issuesToDocs(result.Errors)
		v := app.Drafts.CreateDraftVersion(flagWorkspaceID, moduleID, result.Normalized, note, flagActorID, "", nil, errDocs)
		if len(result.Errors) > 0 {
			warn("draft saved with %d validation errors (version %s)", len(result.Errors), v.ID)
			for _, iss := range result.Errors {
				fmt.Printf("  %s %s: %s\n", iss.Code, iss.Path, iss.Message)
			}
			return nil
		}
		ok("draft version %s saved for %s", v.ID, moduleID)
		return nil
	},
}

var draftVersionsCmd = &cobra.Command{
	Use:   "versions <module-id>",
	Short: "List a draft's saved versions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.New().Headers("VERSION", "NOTE", "BY", "AT", "ERRORS")
		for _, v := range app.Drafts.ListDraftVersions(flagWorkspaceID, args[0]) {
			t.Row(v.ID, v.Note, v.CreatedBy, v.CreatedAt.Format("2006-01-02 15:04"), fmt.Sprint(len(v.ValidationErrors)))
		}
		fmt.Println(t)
		return nil
	},
}

var draftInstallCmd = &cobra.Command{
	Use:   "install <module-id>",
	Short: "Install the module's current draft working copy as its new head, if it validates clean",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID := args[0]
		d := app.Drafts.GetDraft(flagWorkspaceID, moduleID)
		if d == nil {
			return fmt.Errorf("craftctl: no draft for module %s", moduleID)
		}
		result := validate.Validate(d.Manifest, moduleID)
		if len(result.Errors) > 0 {
			return reportValidationErrors(result)
		}
		name := manifest.Str(manifest.Section(result.Normalized, "module"), "name")
		return withWorkspaceLock(flagWorkspaceID, func() error {
			if app.Manifests.GetHead(flagWorkspaceID, moduleID) == "" {
				m, err := app.Registry.Install(flagWorkspaceID, moduleID, name, result.Normalized, flagActorID, cmd.Flag("reason").Value.String(), "")
				if err != nil {
					return err
				}
				ok("installed %s at %s", m.ModuleID, m.CurrentHash)
				return nil
			}
			m, err := app.Registry.Upgrade(flagWorkspaceID, moduleID, result.Normalized, flagActorID, cmd.Flag("reason").Value.String(), "")
			if err != nil {
				return err
			}
			ok("upgraded %s to %s", m.ModuleID, m.CurrentHash)
			return nil
		})
	},
}

var draftRollbackCmd = &cobra.Command{
	Use:   "rollback <module-id> <to_snapshot_hash|to_draft_version_id|to_transaction_group_id>",
	Short: "Roll back a module to a snapshot hash, draft version id, or transaction group id",
	Args:  cobra.ExactArgs(2),
	RunE:  patchsetRollbackCmd.RunE,
}

func issuesToDocs(issues []runtimeerr.Issue) []manifest.Doc {
	out := make([]manifest.Doc, len(issues))
	for i, iss := range issues {
		out[i] = manifest.Doc{"code": iss.Code, "message": iss.Message, "path": iss.Path}
	}
	return out
}

func init() {
	draftSetCmd.Flags().String("note", "", "version note")
	draftInstallCmd.Flags().String("reason", "", "audit reason")
	draftRollbackCmd.Flags().String("reason", "", "audit reason")
	draftCmd.AddCommand(draftListCmd, draftShowCmd, draftSetCmd, draftVersionsCmd, draftInstallCmd, draftRollbackCmd)
	rootCmd.AddCommand(draftCmd)
}
