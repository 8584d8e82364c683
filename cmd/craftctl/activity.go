package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/lowcraft/runtime/internal/activity"
	"github.com/lowcraft/runtime/internal/render"
)

var activityCmd = &cobra.Command{
	Use:     "activity",
	GroupID: "content",
	Short:   "List, comment on, and attach files to a record's activity feed",
}

var activityListCmd = &cobra.Command{
	Use:   "list <entity-id> <record-id>",
	Short: "List a record's activity feed, newest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		t := table.New().Headers("KIND", "AUTHOR", "AT", "DETAIL")
		for _, e := range app.Activity.List(flagWorkspaceID, args[0], args[1], limit) {
			t.Row(string(e.EventType), authorLabel(e.Author), e.CreatedAt.Format("2006-01-02 15:04"), fmt.Sprint(e.Payload))
		}
		fmt.Println(t)
		return nil
	},
}

var activityCommentCmd = &cobra.Command{
	Use:   "comment <entity-id> <record-id> <body>",
	Short: "Post a comment to a record's activity feed",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, recordID, body := args[0], args[1], args[2]
		e := app.Activity.AddComment(flagWorkspaceID, entityID, recordID, body, activity.AuthorFromActor(flagActorID, "", ""))
		ok("posted comment %s", e.ID)
		return nil
	},
}

var activityUploadCmd = &cobra.Command{
	Use:   "upload <entity-id> <record-id> <file-path>",
	Short: "Upload a file and link it to a record as an attachment",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, recordID, path := args[0], args[1], args[2]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("craftctl: reading %s: %w", path, err)
		}
		mime := http.DetectContentType(data)
		stored, err := app.Storage.StoreBytes(ctx, flagWorkspaceID, filepath.Base(path), data, mime, "attachments")
		if err != nil {
			return fmt.Errorf("craftctl: storing attachment: %w", err)
		}
		att := app.RenderDB.CreateAttachment(flagWorkspaceID, render.Attachment{
			EntityID: entityID, RecordID: recordID, Filename: filepath.Base(path),
			StorageKey: stored.StorageKey, SHA256: stored.SHA256, Size: stored.Size,
			MIME: mime, Source: "manual",
		})
		app.Activity.AddAttachment(flagWorkspaceID, entityID, recordID, att.ID, att.Filename, att.MIME, att.Size,
			activity.AuthorFromActor(flagActorID, "", ""))
		ok("uploaded %s as attachment %s", att.Filename, att.ID)
		return nil
	},
}

func authorLabel(a *activity.Author) string {
	if a == nil {
		return ""
	}
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

func init() {
	activityListCmd.Flags().Int("limit", 50, "max entries to return")
	activityCmd.AddCommand(activityListCmd, activityCommentCmd, activityUploadCmd)
	rootCmd.AddCommand(activityCmd)
}
