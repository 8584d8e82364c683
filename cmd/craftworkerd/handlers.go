package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lowcraft/runtime/internal/adapter"
	"github.com/lowcraft/runtime/internal/jobs"
)

// handleEmailSend sends the outbox row named by job.Payload["outbox_id"],
// the payload shape automation.Runtime's dispatchSendEmail enqueues under
// jobs.TypeEmailSend.
func handleEmailSend(ctx context.Context, app *App, job *jobs.Job) error {
	outboxID, _ := job.Payload["outbox_id"].(string)
	if outboxID == "" {
		return fmt.Errorf("craftworkerd: email.send job %s missing outbox_id", job.ID)
	}
	row, found := app.RenderDB.GetOutboxRow(job.WorkspaceID, outboxID)
	if !found {
		return fmt.Errorf("craftworkerd: outbox row %s not found", outboxID)
	}

	conn, found := app.RenderDB.GetConnection(job.WorkspaceID, row.ConnectionID)
	if !found {
		conn, found = app.RenderDB.DefaultConnection(job.WorkspaceID)
	}
	if !found {
		return fmt.Errorf("craftworkerd: no email connection for outbox row %s", outboxID)
	}

	secret, err := app.resolveSecret(ctx, conn.SecretRef)
	if err != nil {
		app.RenderDB.MarkFailed(job.WorkspaceID, outboxID)
		return err
	}

	provider, err := emailProviderFor(app, conn)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, adapter.EmailSendTimeout)
	defer cancel()

	result, err := provider.Send(sendCtx, adapter.EmailMessage{
		To: row.To, CC: row.CC, BCC: row.BCC,
		From: row.FromEmail, ReplyTo: row.ReplyTo,
		Subject: row.Subject, BodyHTML: row.BodyHTML, BodyText: row.BodyText,
	}, *conn, secret, job.WorkspaceID)
	if err != nil {
		app.RenderDB.MarkFailed(job.WorkspaceID, outboxID)
		return fmt.Errorf("craftworkerd: email send: %w", err)
	}
	app.RenderDB.MarkSent(job.WorkspaceID, outboxID, result.ProviderMessageID)
	return nil
}

// handleDocGenerate renders and stores a PDF for job.Payload's
// {template_id, record_id, purpose}, the shape automation.Runtime's
// dispatchGenerateDocument enqueues under jobs.TypeDocGenerate.
func handleDocGenerate(ctx context.Context, app *App, job *jobs.Job) error {
	templateID, _ := job.Payload["template_id"].(string)
	recordID, _ := job.Payload["record_id"].(string)
	purpose, _ := job.Payload["purpose"].(string)
	if templateID == "" {
		return fmt.Errorf("craftworkerd: doc.generate job %s missing template_id", job.ID)
	}

	tpl, found := app.RenderDB.GetDocTemplate(job.WorkspaceID, templateID)
	if !found {
		return fmt.Errorf("craftworkerd: doc template %s not found", templateID)
	}

	var recordCtx map[string]any
	if recordID != "" {
		rec, err := app.Records.Get(job.WorkspaceID, tpl.EntityID, recordID)
		if err != nil {
			return fmt.Errorf("craftworkerd: loading record %s: %w", recordID, err)
		}
		recordCtx = rec
	}

	storeCtx, cancel := context.WithTimeout(ctx, adapter.StorageTimeout)
	defer cancel()
	_, err := app.RenderSvc.RenderAndStoreDocument(storeCtx, job.WorkspaceID, tpl, recordCtx, recordID, purpose)
	return err
}

// handleAutomationRun advances job.Payload["run_id"], the shape
// automation.Runtime.WireMatcher enqueues under jobs.TypeAutomationRun.
func handleAutomationRun(ctx context.Context, app *App, job *jobs.Job) error {
	runID, _ := job.Payload["run_id"].(string)
	if runID == "" {
		return fmt.Errorf("craftworkerd: automation.run job %s missing run_id", job.ID)
	}
	return app.Runtime.Advance(ctx, job.WorkspaceID, runID)
}

// handleAttachmentsCleanup deletes attachments matching job.Payload's
// {source, older_than_hours}, per spec.md §4.10's "attachments.cleanup:
// delete attachments whose source=X and created_at < now - hours".
func handleAttachmentsCleanup(_ context.Context, app *App, job *jobs.Job) error {
	source, _ := job.Payload["source"].(string)
	if source == "" {
		return fmt.Errorf("craftworkerd: attachments.cleanup job %s missing source", job.ID)
	}
	hours, _ := job.Payload["older_than_hours"].(float64)
	if hours <= 0 {
		hours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	removed := app.RenderDB.CleanupAttachments(job.WorkspaceID, source, cutoff)
	app.Jobs.AddEvent(job.ID, "cleanup", fmt.Sprintf("removed %d attachments", removed))
	return nil
}
