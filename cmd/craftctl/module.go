package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/validate"
)

var moduleCmd = &cobra.Command{
	Use:     "module",
	GroupID: "modules",
	Short:   "Install, upgrade, enable, disable, rollback, or delete modules",
}

var moduleInstallCmd = &cobra.Command{
	Use:   "install <module-id> <manifest-file>",
	Short: "Validate a manifest and install it as a new module",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, path := args[0], args[1]
		doc, err := loadManifestFile(path)
		if err != nil {
			return err
		}
		result := validate.Validate(doc, moduleID)
		if len(result.Errors) > 0 {
			return reportValidationErrors(result)
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = manifest.Str(manifest.Section(result.Normalized, "module"), "name")
		}
		return withWorkspaceLock(flagWorkspaceID, func() error {
			mod, err := app.Registry.Install(flagWorkspaceID, moduleID, name, result.Normalized, flagActorID, cmd.Flag("reason").Value.String(), "")
			if err != nil {
				return err
			}
			ok("installed %s at %s", mod.ModuleID, mod.CurrentHash)
			return nil
		})
	},
}

var moduleUpgradeCmd = &cobra.Command{
	Use:   "upgrade <module-id> <manifest-file>",
	Short: "Validate a manifest and install it as the module's new head",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, path := args[0], args[1]
		doc, err := loadManifestFile(path)
		if err != nil {
			return err
		}
		result := validate.Validate(doc, moduleID)
		if len(result.Errors) > 0 {
			return reportValidationErrors(result)
		}
		return withWorkspaceLock(flagWorkspaceID, func() error {
			mod, err := app.Registry.Upgrade(flagWorkspaceID, moduleID, result.Normalized, flagActorID, cmd.Flag("reason").Value.String(), "")
			if err != nil {
				return err
			}
			ok("upgraded %s to %s", mod.ModuleID, mod.CurrentHash)
			return nil
		})
	},
}

var moduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed modules",
	RunE: func(cmd *cobra.Command, args []string) error {
		mods := app.Registry.List(flagWorkspaceID)
		t := table.New().Headers("MODULE", "NAME", "ENABLED", "HASH", "UPDATED")
		for _, m := range mods {
			t.Row(m.ModuleID, m.Name, fmt.Sprint(m.Enabled), shortHash(m.CurrentHash), m.UpdatedAt.Format("2006-01-02 15:04"))
		}
		fmt.Println(t)
		return nil
	},
}

var moduleEnableCmd = &cobra.Command{
	Use:   "enable <module-id>",
	Short: "Enable a disabled module",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(cmd, args[0], true) },
}

var moduleDisableCmd = &cobra.Command{
	Use:   "disable <module-id>",
	Short: "Disable an installed module",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(cmd, args[0], false) },
}

func setEnabled(cmd *cobra.Command, moduleID string, enabled bool) error {
	mod, err := app.Registry.SetEnabled(flagWorkspaceID, moduleID, enabled, flagActorID, cmd.Flag("reason").Value.String())
	if err != nil {
		return err
	}
	ok("module %s enabled=%v", mod.ModuleID, mod.Enabled)
	return nil
}

var moduleGetManifestCmd = &cobra.Command{
	Use:   "get-manifest <module-id>",
	Short: "Print a module's current manifest as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mod, err := app.Registry.Get(flagWorkspaceID, args[0])
		if err != nil {
			return err
		}
		m, err := app.Manifests.GetSnapshot(flagWorkspaceID, args[0], mod.CurrentHash)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(m)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var moduleSetIconCmd = &cobra.Command{
	Use:   "set-icon <module-id> <icon-key>",
	Short: "Set a module's display icon",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mod, err := app.Registry.SetIcon(flagWorkspaceID, args[0], args[1])
		if err != nil {
			return err
		}
		ok("module %s icon=%s", mod.ModuleID, mod.IconKey)
		return nil
	},
}

var moduleSetDisplayOrderCmd = &cobra.Command{
	Use:   "set-display-order <module-id> <order>",
	Short: "Set a module's list sort order",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		order, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("craftctl: %q is not an integer", args[1])
		}
		mod, err := app.Registry.SetDisplayOrder(flagWorkspaceID, args[0], order)
		if err != nil {
			return err
		}
		ok("module %s display_order=%d", mod.ModuleID, mod.DisplayOrder)
		return nil
	},
}

var moduleHistoryCmd = &cobra.Command{
	Use:   "history <module-id>",
	Short: "Show a module's snapshot audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries := app.Manifests.ListHistory(flagWorkspaceID, args[0])
		t := table.New().Headers("ACTION", "FROM", "TO", "ACTOR", "AT")
		for _, e := range entries {
			t.Row(string(e.Action), shortHash(e.FromHash), shortHash(e.ToHash), e.Actor, e.At.Format("2006-01-02 15:04"))
		}
		fmt.Println(t)
		return nil
	},
}

var moduleRollbackCmd = &cobra.Command{
	Use:   "rollback <module-id> <target-hash>",
	Short: "Roll a module back to a previously stored snapshot hash",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, target := args[0], args[1]
		if !askConfirm(fmt.Sprintf("Roll back %s to %s?", moduleID, shortHash(target)), "Roll back", "Cancel") {
			warn("rollback cancelled")
			return nil
		}
		return withWorkspaceLock(flagWorkspaceID, func() error {
			mod, err := app.Registry.Rollback(flagWorkspaceID, moduleID, target, flagActorID, cmd.Flag("reason").Value.String())
			if err != nil {
				return err
			}
			ok("rolled back %s to %s", mod.ModuleID, mod.CurrentHash)
			return nil
		})
	},
}

var moduleDeleteCmd = &cobra.Command{
	Use:   "delete <module-id> <entity-id...>",
	Short: "Delete (or archive) a module, refusing if records exist unless forced",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, entityIDs := args[0], args[1:]
		force, _ := cmd.Flags().GetBool("force")
		archive, _ := cmd.Flags().GetBool("archive")
		if !askConfirm(fmt.Sprintf("Delete module %s?", moduleID), "Delete", "Cancel") {
			warn("delete cancelled")
			return nil
		}
		return withWorkspaceLock(flagWorkspaceID, func() error {
			result, err := app.Registry.Delete(flagWorkspaceID, moduleID, entityIDs, force, archive, flagActorID, cmd.Flag("reason").Value.String())
			if err != nil {
				return err
			}
			ok("module %s: deleted=%v archived=%v", moduleID, result.Deleted, result.Archived)
			return nil
		})
	},
}

func shortHash(h string) string {
	if len(h) > 19 {
		return h[:19] + "…"
	}
	return h
}

func loadManifestFile(path string) (manifest.Doc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("craftctl: reading %s: %w", path, err)
	}
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("craftctl: parsing %s: %w", path, err)
	}
	doc, ok := toManifestDoc(generic).(manifest.Doc)
	if !ok {
		return nil, fmt.Errorf("craftctl: %s does not decode to a manifest object", path)
	}
	return doc, nil
}

// toManifestDoc converts yaml.v3's map[string]any/[]any tree (which yaml
// decodes recursively already as map[string]any under Unmarshal to `any`)
// into manifest.Doc at every nesting level.
func toManifestDoc(v any) any {
	switch t := v.(type) {
	case map[string]any:
		d := make(manifest.Doc, len(t))
		for k, val := range t {
			d[k] = toManifestDoc(val)
		}
		return d
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = toManifestDoc(val)
		}
		return out
	default:
		return v
	}
}

func reportValidationErrors(result validate.Result) error {
	for _, iss := range result.Errors {
		fmt.Fprintln(os.Stderr, styleErr.Render(fmt.Sprintf("%s %s: %s", iss.Code, iss.Path, iss.Message)))
	}
	return fmt.Errorf("craftctl: manifest failed validation (%d errors)", len(result.Errors))
}

func askConfirm(title, affirmative, negative string) bool {
	var confirmed bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title(title).Affirmative(affirmative).Negative(negative).Value(&confirmed),
	)).Run()
	if err != nil {
		return false
	}
	return confirmed
}

func init() {
	moduleInstallCmd.Flags().String("name", "", "display name (defaults to manifest module.name)")
	moduleInstallCmd.Flags().String("reason", "", "audit reason")
	moduleUpgradeCmd.Flags().String("reason", "", "audit reason")
	moduleEnableCmd.Flags().String("reason", "", "audit reason")
	moduleDisableCmd.Flags().String("reason", "", "audit reason")
	moduleRollbackCmd.Flags().String("reason", "", "audit reason")
	moduleDeleteCmd.Flags().String("reason", "", "audit reason")
	moduleDeleteCmd.Flags().Bool("force", false, "delete even if records exist")
	moduleDeleteCmd.Flags().Bool("archive", false, "archive instead of hard-delete")

	moduleCmd.AddCommand(moduleInstallCmd, moduleUpgradeCmd, moduleListCmd, moduleEnableCmd,
		moduleDisableCmd, moduleHistoryCmd, moduleRollbackCmd, moduleDeleteCmd, moduleGetManifestCmd,
		moduleSetIconCmd, moduleSetDisplayOrderCmd)
	rootCmd.AddCommand(moduleCmd)
}
