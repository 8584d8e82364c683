package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lowcraft/runtime/internal/config"
	"github.com/lowcraft/runtime/internal/workspace"
)

var (
	flagWorkspaceID string
	flagActorID     string
	flagActorEmail  string
	flagActorRole   string
	flagPlatform    string

	app *App
	ctx = context.Background()
)

var rootCmd = &cobra.Command{
	Use:   "craftctl",
	Short: "Control plane for the manifest-driven application runtime",
	Long: `craftctl operates a workspace's installed modules, drafts, records,
automations, and background jobs without a running HTTP server.

Every subcommand runs against --workspace, acting as --actor.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Initialize()
		if err != nil {
			return fmt.Errorf("craftctl: loading configuration: %w", err)
		}
		app = newApp(cfg)
		if flagWorkspaceID == "" {
			return fmt.Errorf("craftctl: --workspace is required")
		}
		actor := workspace.Actor{
			UserID: flagActorID, Email: flagActorEmail, WorkspaceID: flagWorkspaceID,
			WorkspaceRole: flagActorRole, PlatformRole: flagPlatform,
		}
		ctx = workspace.WithActor(ctx, actor)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagWorkspaceID, "workspace", "", "workspace id to operate on")
	rootCmd.PersistentFlags().StringVar(&flagActorID, "actor", "cli", "acting user id")
	rootCmd.PersistentFlags().StringVar(&flagActorEmail, "actor-email", "cli@local", "acting user email")
	rootCmd.PersistentFlags().StringVar(&flagActorRole, "actor-role", "admin", "acting workspace role (admin|member|readonly|portal)")
	rootCmd.PersistentFlags().StringVar(&flagPlatform, "platform-role", "standard", "acting platform role (standard|superadmin)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "modules", Title: "Module lifecycle:"},
		&cobra.Group{ID: "content", Title: "Drafts, records & actions:"},
		&cobra.Group{ID: "automation", Title: "Automations & jobs:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styleErr.Render(err.Error()))
		os.Exit(1)
	}
}
