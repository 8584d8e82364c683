package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/patchset"
)

var patchsetCmd = &cobra.Command{
	Use:     "patchset",
	GroupID: "content",
	Short:   "Validate, preview, apply, or roll back a JSON-pointer-addressed patch",
}

// opFile is the on-disk shape of a patchset ops file: a JSON array of
// {kind, path, value?, old_id?, new_id?} objects, per spec.md §9.
type opFile struct {
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	Value   any    `json:"value"`
	OldID   string `json:"old_id"`
	NewID   string `json:"new_id"`
}

func loadOps(path string) ([]patchset.Op, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("craftctl: reading %s: %w", path, err)
	}
	var raw []opFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("craftctl: parsing %s: %w", path, err)
	}
	out := make([]patchset.Op, len(raw))
	for i, o := range raw {
		out[i] = patchset.Op{Kind: patchset.Kind(o.Kind), Path: o.Path, Value: toManifestDoc(o.Value), OldID: o.OldID, NewID: o.NewID}
	}
	return out, nil
}

// baseManifest resolves the base a patchset operates against: the open
// draft's working copy if one exists, otherwise the module's installed
// head snapshot, otherwise an empty manifest (a brand new module).
func baseManifest(moduleID string) manifest.Doc {
	if d := app.Drafts.GetDraft(flagWorkspaceID, moduleID); d != nil {
		return d.Manifest
	}
	if head := app.Manifests.GetHead(flagWorkspaceID, moduleID); head != "" {
		if m, err := app.Manifests.GetSnapshot(flagWorkspaceID, moduleID, head); err == nil {
			return m
		}
	}
	return manifest.Doc{}
}

var patchsetValidateCmd = &cobra.Command{
	Use:   "validate <module-id> <ops-file>",
	Short: "Apply ops to the module's base manifest and report validation issues without saving",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, path := args[0], args[1]
		ops, err := loadOps(path)
		if err != nil {
			return err
		}
		result, err := patchset.Validate(baseManifest(moduleID), moduleID, ops)
		if err != nil {
			return err
		}
		reportPatchsetResult(result)
		return nil
	},
}

var patchsetPreviewCmd = &cobra.Command{
	Use:   "preview <module-id> <ops-file>",
	Short: "Apply ops and print the resulting manifest as JSON, without saving",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, path := args[0], args[1]
		ops, err := loadOps(path)
		if err != nil {
			return err
		}
		result, err := patchset.Preview(baseManifest(moduleID), moduleID, ops)
		if err != nil {
			return err
		}
		reportPatchsetResult(result)
		b, _ := json.MarshalIndent(result.Validated.Normalized, "", "  ")
		fmt.Println(string(b))
		return nil
	},
}

var patchsetApplyCmd = &cobra.Command{
	Use:   "apply <module-id> <ops-file>",
	Short: "Apply ops, save as a draft version, and install the result as the module's new head if it validates clean",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, path := args[0], args[1]
		ops, err := loadOps(path)
		if err != nil {
			return err
		}
		note, _ := cmd.Flags().GetString("note")
		install, _ := cmd.Flags().GetBool("install")

		base := baseManifest(moduleID)
		result, err := patchset.Validate(base, moduleID, ops)
		if err != nil {
			return err
		}
		errDocs := issuesToDocs(result.Validated.Errors)
		opDocs := patchset.OpsToDocs(ops)
		v := app.Drafts.CreateDraftVersion(flagWorkspaceID, moduleID, result.Validated.Normalized, note, flagActorID, "", opDocs, errDocs)
		if len(result.Validated.Errors) > 0 {
			warn("patchset applied with %d validation errors; draft version %s saved, not installed", len(result.Validated.Errors), v.ID)
			reportPatchsetResult(result)
			return nil
		}
		ok("draft version %s saved for %s", v.ID, moduleID)
		if !install {
			return nil
		}
		return withWorkspaceLock(flagWorkspaceID, func() error {
			txGroup := uuid.NewString()
			name := manifest.Str(manifest.Section(result.Validated.Normalized, "module"), "name")
			if app.Manifests.GetHead(flagWorkspaceID, moduleID) == "" {
				m, err := app.Registry.Install(flagWorkspaceID, moduleID, name, result.Validated.Normalized, flagActorID, cmd.Flag("reason").Value.String(), txGroup)
				if err != nil {
					return err
				}
				ok("installed %s at %s (tx %s)", m.ModuleID, m.CurrentHash, txGroup)
				return nil
			}
			m, err := app.Registry.Upgrade(flagWorkspaceID, moduleID, result.Validated.Normalized, flagActorID, cmd.Flag("reason").Value.String(), txGroup)
			if err != nil {
				return err
			}
			ok("upgraded %s to %s (tx %s)", m.ModuleID, m.CurrentHash, txGroup)
			return nil
		})
	},
}

var patchsetRollbackCmd = &cobra.Command{
	Use:   "rollback <module-id> <target>",
	Short: "Roll back a module to a snapshot hash, draft version id, or transaction group id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, target := args[0], args[1]
		hash, err := patchset.ResolveRollbackTarget(app.Manifests, app.Drafts, flagWorkspaceID, moduleID, target)
		if err != nil {
			return err
		}
		if !askConfirm(fmt.Sprintf("Roll back %s to %s?", moduleID, shortHash(hash)), "Roll back", "Cancel") {
			warn("rollback cancelled")
			return nil
		}
		return withWorkspaceLock(flagWorkspaceID, func() error {
			mod, err := app.Registry.Rollback(flagWorkspaceID, moduleID, hash, flagActorID, cmd.Flag("reason").Value.String())
			if err != nil {
				return err
			}
			ok("rolled back %s to %s", mod.ModuleID, mod.CurrentHash)
			return nil
		})
	},
}

func reportPatchsetResult(result patchset.Result) {
	t := table.New().Headers("KIND", "CODE", "PATH", "MESSAGE")
	for _, iss := range result.Validated.Errors {
		t.Row("error", iss.Code, iss.Path, iss.Message)
	}
	for _, iss := range result.Validated.Warnings {
		t.Row("warning", iss.Code, iss.Path, iss.Message)
	}
	for _, iss := range result.Validated.DesignWarnings {
		t.Row("design", iss.Code, iss.Path, iss.Message)
	}
	fmt.Println(t)
}

func init() {
	patchsetApplyCmd.Flags().String("note", "", "draft version note")
	patchsetApplyCmd.Flags().String("reason", "", "audit reason")
	patchsetApplyCmd.Flags().Bool("install", false, "install the result as the module's new head if it validates clean")
	patchsetRollbackCmd.Flags().String("reason", "", "audit reason")

	patchsetCmd.AddCommand(patchsetValidateCmd, patchsetPreviewCmd, patchsetApplyCmd, patchsetRollbackCmd)
	rootCmd.AddCommand(patchsetCmd)
}
