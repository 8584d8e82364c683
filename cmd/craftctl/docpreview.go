package main

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

// docPreviewCmd renders a doc template's sandboxed-template body against a
// JSON record context and shows it in the terminal via glamour, a dry run
// before the doc.generate job actually produces a PDF (SPEC_FULL.md §6).
var docPreviewCmd = &cobra.Command{
	Use:     "doc-preview <doc-template-id> <context-json-file>",
	GroupID: "content",
	Short:   "Render a document template's body and preview it in the terminal",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tpl, found := app.RenderDB.GetDocTemplate(flagWorkspaceID, args[0])
		if !found {
			return fmt.Errorf("craftctl: doc template %s not found", args[0])
		}
		doc, err := loadJSONDoc(args[1])
		if err != nil {
			return err
		}
		subject, body, err := app.RenderSvc.RenderEmailBody(tpl.Name, tpl.Body, doc)
		if err != nil {
			return err
		}
		rendered, err := glamour.Render(body, "dark")
		if err != nil {
			return fmt.Errorf("craftctl: glamour render: %w", err)
		}
		fmt.Println(styleTitle.Render(subject))
		fmt.Println(rendered)
		return nil
	},
}

var docAttachmentsCmd = &cobra.Command{
	Use:     "attachments <record-id>",
	GroupID: "content",
	Short:   "List attachments linked to a record",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, a := range app.RenderDB.ListAttachments(flagWorkspaceID, args[0]) {
			b, _ := json.Marshal(a)
			fmt.Println(string(b))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(docPreviewCmd, docAttachmentsCmd)
}
