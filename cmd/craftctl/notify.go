package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:     "notify",
	GroupID: "automation",
	Short:   "List and acknowledge in-app notifications",
}

var notifyListCmd = &cobra.Command{
	Use:   "list <recipient-id>",
	Short: "List a recipient's notifications, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.New().Headers("ID", "TITLE", "READ", "CREATED")
		for _, n := range app.Notify.List(flagWorkspaceID, args[0]) {
			t.Row(n.ID, n.Title, fmt.Sprint(n.Read), n.CreatedAt.Format("2006-01-02 15:04"))
		}
		fmt.Println(t)
		unread := app.Notify.UnreadCount(flagWorkspaceID, args[0])
		fmt.Println(styleMuted.Render(fmt.Sprintf("%d unread", unread)))
		return nil
	},
}

var notifyReadCmd = &cobra.Command{
	Use:   "read <recipient-id> <notification-id>",
	Short: "Mark a single notification read",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !app.Notify.MarkRead(flagWorkspaceID, args[0], args[1]) {
			return fmt.Errorf("craftctl: notification %s not found", args[1])
		}
		ok("marked %s read", args[1])
		return nil
	},
}

var notifyReadAllCmd = &cobra.Command{
	Use:   "read-all <recipient-id>",
	Short: "Mark every notification read for a recipient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n := app.Notify.MarkAllRead(flagWorkspaceID, args[0])
		ok("marked %d notifications read", n)
		return nil
	},
}

func init() {
	notifyCmd.AddCommand(notifyListCmd, notifyReadCmd, notifyReadAllCmd)
	rootCmd.AddCommand(notifyCmd)
}
