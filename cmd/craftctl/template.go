package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/lowcraft/runtime/internal/adapter"
	"github.com/lowcraft/runtime/internal/render"
)

// templateCmd groups email-connection and doc-template administration:
// CRUD, validate (referenced-variable reporting), preview, send_test, and
// history, the surface spec.md §6's "Email/Doc templates" line names.
var templateCmd = &cobra.Command{
	Use:     "template",
	GroupID: "content",
	Short:   "Manage email connections, doc templates, and send a test email",
}

var templateConnectionSetCmd = &cobra.Command{
	Use:   "connection-set <type: smtp|api> <config-json-file>",
	Short: "Register or replace an email connection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		connType, path := args[0], args[1]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("craftctl: reading %s: %w", path, err)
		}
		var cfg map[string]any
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("craftctl: parsing %s: %w", path, err)
		}
		id, _ := cmd.Flags().GetString("id")
		secretRef, _ := cmd.Flags().GetString("secret-ref")
		isDefault, _ := cmd.Flags().GetBool("default")
		conn := app.RenderDB.UpsertConnection(flagWorkspaceID, adapter.EmailConnection{
			ID: id, Type: connType, IsDefault: isDefault, SecretRef: secretRef, Config: cfg,
		})
		ok("saved email connection %s (%s)", conn.ID, conn.Type)
		return nil
	},
}

var templateConnectionListCmd = &cobra.Command{
	Use:   "connection-list",
	Short: "List email connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.New().Headers("ID", "TYPE", "DEFAULT", "SECRET_REF")
		for _, c := range app.RenderDB.ListConnections(flagWorkspaceID) {
			t.Row(c.ID, c.Type, fmt.Sprint(c.IsDefault), c.SecretRef)
		}
		fmt.Println(t)
		return nil
	},
}

var templateDocSetCmd = &cobra.Command{
	Use:   "doc-set <entity-id> <name> <body-file>",
	Short: "Register or replace a document template",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, name, bodyPath := args[0], args[1], args[2]
		body, err := os.ReadFile(bodyPath)
		if err != nil {
			return fmt.Errorf("craftctl: reading %s: %w", bodyPath, err)
		}
		id, _ := cmd.Flags().GetString("id")
		paper, _ := cmd.Flags().GetString("paper")
		tpl := app.RenderDB.UpsertDocTemplate(flagWorkspaceID, render.DocTemplate{
			ID: id, EntityID: entityID, Name: name, Body: string(body), Paper: paper,
		})
		ok("saved doc template %s (%s)", tpl.ID, tpl.Name)
		return nil
	},
}

var templateDocListCmd = &cobra.Command{
	Use:   "doc-list",
	Short: "List document templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.New().Headers("ID", "ENTITY", "NAME", "PAPER")
		for _, tpl := range app.RenderDB.ListDocTemplates(flagWorkspaceID) {
			t.Row(tpl.ID, tpl.EntityID, tpl.Name, tpl.Paper)
		}
		fmt.Println(t)
		return nil
	},
}

var templateValidateCmd = &cobra.Command{
	Use:   "validate <label=file>...",
	Short: "Parse one or more templates and report declared/undefined variables",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctxPath, _ := cmd.Flags().GetString("context")
		var sampleCtx map[string]any
		if ctxPath != "" {
			doc, err := loadJSONDoc(ctxPath)
			if err != nil {
				return err
			}
			sampleCtx = doc
		}
		items := make([]adapter.LabeledTemplate, 0, len(args))
		for _, pair := range args {
			label, path, found := strings.Cut(pair, "=")
			if !found {
				return fmt.Errorf("craftctl: expected label=file, got %q", pair)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("craftctl: reading %s: %w", path, err)
			}
			items = append(items, adapter.LabeledTemplate{Label: label, Text: string(data)})
		}
		errs, declared, undefined := app.Templates.ValidateTemplates(items, sampleCtx)
		for _, e := range errs {
			fmt.Println(styleErr.Render(e))
		}
		fmt.Println(styleMuted.Render(fmt.Sprintf("variables: %s", strings.Join(declared, ", "))))
		if len(undefined) > 0 {
			warn("undefined: %s", strings.Join(undefined, ", "))
		}
		if len(errs) > 0 {
			return fmt.Errorf("craftctl: %d template(s) failed to parse", len(errs))
		}
		return nil
	},
}

var templateSendTestCmd = &cobra.Command{
	Use:   "send-test <connection-id> <to> <subject-template> <body-file> <context-json-file>",
	Short: "Render an email template against a sample context and send it",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		connID, to, subjectTmpl, bodyPath, ctxPath := args[0], args[1], args[2], args[3], args[4]
		body, err := os.ReadFile(bodyPath)
		if err != nil {
			return fmt.Errorf("craftctl: reading %s: %w", bodyPath, err)
		}
		recordCtx, err := loadJSONDoc(ctxPath)
		if err != nil {
			return err
		}
		subject, rendered, err := app.RenderSvc.RenderEmailBody(subjectTmpl, string(body), recordCtx)
		if err != nil {
			return err
		}

		conn, found := app.RenderDB.GetConnection(flagWorkspaceID, connID)
		if !found {
			return fmt.Errorf("craftctl: email connection %s not found", connID)
		}
		provider, ok2 := app.Email[conn.Type]
		if !ok2 {
			return fmt.Errorf("craftctl: unknown email connection type %q", conn.Type)
		}
		secret := ""
		if conn.SecretRef != "" && app.Secrets != nil {
			secret, err = app.Secrets.Resolve(ctx, conn.SecretRef)
			if err != nil {
				return fmt.Errorf("craftctl: resolving secret: %w", err)
			}
		}

		row := app.RenderDB.CreateOutboxRow(flagWorkspaceID, render.OutboxRow{
			To: []string{to}, Subject: subject, BodyHTML: rendered, ConnectionID: conn.ID,
		})
		sendCtx, cancel := context.WithTimeout(ctx, adapter.EmailSendTimeout)
		defer cancel()
		result, err := provider.Send(sendCtx, adapter.EmailMessage{To: row.To, Subject: subject, BodyHTML: rendered}, *conn, secret, flagWorkspaceID)
		if err != nil {
			app.RenderDB.MarkFailed(flagWorkspaceID, row.ID)
			return fmt.Errorf("craftctl: sending test email: %w", err)
		}
		app.RenderDB.MarkSent(flagWorkspaceID, row.ID, result.ProviderMessageID)
		ok("sent test email %s via %s (message id %s)", row.ID, conn.ID, result.ProviderMessageID)
		return nil
	},
}

var templateHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List the email outbox, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.New().Headers("ID", "TO", "SUBJECT", "STATUS", "SENT_AT")
		for _, r := range app.RenderDB.ListOutboxRows(flagWorkspaceID) {
			sentAt := ""
			if !r.SentAt.IsZero() {
				sentAt = r.SentAt.Format("2006-01-02 15:04")
			}
			t.Row(r.ID, strings.Join(r.To, ","), r.Subject, string(r.Status), sentAt)
		}
		fmt.Println(t)
		return nil
	},
}

func init() {
	templateConnectionSetCmd.Flags().String("id", "", "connection id (blank generates one)")
	templateConnectionSetCmd.Flags().String("secret-ref", "", "secret store reference for auth")
	templateConnectionSetCmd.Flags().Bool("default", false, "make this the workspace default connection")
	templateDocSetCmd.Flags().String("id", "", "template id (blank generates one)")
	templateDocSetCmd.Flags().String("paper", "letter", "paper size")
	templateValidateCmd.Flags().String("context", "", "optional sample-context JSON file")

	templateCmd.AddCommand(templateConnectionSetCmd, templateConnectionListCmd, templateDocSetCmd,
		templateDocListCmd, templateValidateCmd, templateSendTestCmd, templateHistoryCmd)
	rootCmd.AddCommand(templateCmd)
}
