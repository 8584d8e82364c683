package automation

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/lowcraft/runtime/internal/actionexec"
	"github.com/lowcraft/runtime/internal/adapter"
	"github.com/lowcraft/runtime/internal/eventbus"
	"github.com/lowcraft/runtime/internal/jobs"
	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/notify"
	"github.com/lowcraft/runtime/internal/records"
	"github.com/lowcraft/runtime/internal/render"
	"github.com/lowcraft/runtime/internal/runtimeerr"
)

// delayParser resolves a delay step's `until` phrase when it is not a plain
// RFC3339 timestamp — spec.md §4.9 allows delay steps authored as natural
// language ("tomorrow at 9am", "in 3 days") as well as exact timestamps.
var delayParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// errSystemFail is raised by the test-only system.fail step, per
// spec.md §4.9: "the latter always raises".
var errSystemFail = fmt.Errorf("system.fail: automation step failure (test step)")

// Runtime wires the automation store to the event bus, job queue, action
// executor, and email/notification/secret collaborators, and advances runs
// one worker cycle at a time, per spec.md §4.9.
type Runtime struct {
	Store    *Store
	Jobs     *jobs.Store
	Bus      *eventbus.Bus
	Executor *actionexec.Executor
	Notify   *notify.Store
	Render   *render.Service
	Outbox   *render.Store
	Records  *records.Store
	Secrets  adapter.SecretStore
}

// New returns a Runtime over the given collaborators.
func New(store *Store, jobStore *jobs.Store, bus *eventbus.Bus, exec *actionexec.Executor, notifyStore *notify.Store, renderSvc *render.Service, outboxStore *render.Store, recordStore *records.Store, secrets adapter.SecretStore) *Runtime {
	return &Runtime{Store: store, Jobs: jobStore, Bus: bus, Executor: exec, Notify: notifyStore, Render: renderSvc, Outbox: outboxStore, Records: recordStore, Secrets: secrets}
}

// WireMatcher subscribes the runtime to every event the bus publishes,
// scanning published automations in the event's workspace for a trigger
// match, materializing a run and enqueueing its first cycle on a hit —
// spec.md §4.9: "on every emitted event, the matcher scans automations
// with status=published in the workspace."
//
// workspaceOf extracts the workspace id an event belongs to; the envelope
// itself (spec.md §3) carries no workspace field, so the caller supplies
// the binding the way it was pushed onto the publishing goroutine's context
// (internal/workspace).
func (rt *Runtime) WireMatcher(workspaceOf func(ev eventbus.Event) string) eventbus.SubscriptionID {
	return rt.Bus.SubscribeAll(func(ev eventbus.Event) error {
		workspaceID := workspaceOf(ev)
		if workspaceID == "" {
			return nil
		}
		for _, a := range rt.Store.Published(workspaceID) {
			if !MatchEvent(a.Trigger, ev.Name, ev.Payload) {
				continue
			}
			run := rt.Store.CreateRun(workspaceID, a.ID, ev.Name, ev.Payload)
			rt.Jobs.Enqueue(jobs.EnqueueInput{
				WorkspaceID: workspaceID, Type: jobs.TypeAutomationRun,
				Payload:        map[string]any{"run_id": run.ID},
				IdempotencyKey: run.ID + ":0:enqueue",
			})
		}
		return nil
	})
}

// Advance runs one worker cycle of runID, per spec.md §4.9's step loop.
// It returns (without error) as soon as the run reaches a terminal state,
// hits a condition-goto, or schedules a delay/retry re-enqueue.
func (rt *Runtime) Advance(ctx context.Context, workspaceID, runID string) error {
	run, ok := rt.Store.GetRun(workspaceID, runID)
	if !ok {
		return fmt.Errorf("automation: run %s not found", runID)
	}
	if isTerminal(run.Status) {
		return nil
	}
	automation, ok := rt.Store.Get(workspaceID, run.AutomationID)
	if !ok {
		return rt.failRun(workspaceID, runID, "automation definition not found")
	}

	if run.Status == RunQueued {
		_ = rt.Store.UpdateRun(workspaceID, runID, func(r *Run) {
			r.Status = RunRunning
			if r.StartedAt.IsZero() {
				r.StartedAt = time.Now().UTC()
			}
		})
		run, _ = rt.Store.GetRun(workspaceID, runID)
	}

	i := run.CurrentStepIndex
	if i < 0 || i >= len(automation.Steps) {
		return rt.succeedRun(workspaceID, runID)
	}
	step := automation.Steps[i]
	attempt := 1
	idempotencyKey := fmt.Sprintf("%s:%s:%d", runID, step.ID, attempt)
	for {
		if existing, found := rt.Store.FindStepRun(runID, idempotencyKey); found {
			if existing.Status == StepRunSucceeded {
				attempt++
				idempotencyKey = fmt.Sprintf("%s:%s:%d", runID, step.ID, attempt)
				continue
			}
			attempt = existing.Attempt + 1
			idempotencyKey = fmt.Sprintf("%s:%s:%d", runID, step.ID, attempt)
			continue
		}
		break
	}

	triggerCtx := map[string]any{"trigger": map[string]any(run.TriggerPayload)}
	sr := rt.Store.CreateStepRun(runID, i, step.ID, attempt, idempotencyKey, run.TriggerPayload)

	switch step.Kind {
	case StepCondition:
		return rt.advanceCondition(workspaceID, runID, i, step, sr, triggerCtx)
	case StepDelay:
		return rt.advanceDelay(workspaceID, runID, i, step, sr, triggerCtx)
	case StepAction:
		return rt.advanceAction(ctx, workspaceID, runID, i, step, sr, triggerCtx)
	default:
		rt.Store.FinishStepRun(sr, StepRunFailed, nil, "unknown step kind")
		return rt.failRun(workspaceID, runID, "unknown step kind: "+string(step.Kind))
	}
}

func isTerminal(s RunStatus) bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

func (rt *Runtime) succeedRun(workspaceID, runID string) error {
	return rt.Store.UpdateRun(workspaceID, runID, func(r *Run) {
		r.Status = RunSucceeded
		r.EndedAt = time.Now().UTC()
	})
}

func (rt *Runtime) failRun(workspaceID, runID, reason string) error {
	_ = rt.Store.UpdateRun(workspaceID, runID, func(r *Run) {
		r.Status = RunFailed
		r.EndedAt = time.Now().UTC()
		r.LastError = reason
	})
	return fmt.Errorf("automation: run %s failed: %s", runID, reason)
}

func (rt *Runtime) advanceCondition(workspaceID, runID string, i int, step Step, sr *StepRun, ctx map[string]any) error {
	result, err := manifest.Evaluate(step.Expr, ctx)
	if err != nil {
		rt.Store.FinishStepRun(sr, StepRunFailed, nil, err.Error())
		return rt.failRun(workspaceID, runID, err.Error())
	}
	rt.Store.FinishStepRun(sr, StepRunSucceeded, manifest.Doc{"result": result}, "")

	next := i + 1
	if result && step.IfTrueGoto != nil {
		next = *step.IfTrueGoto
	} else if !result && step.IfFalseGoto != nil {
		next = *step.IfFalseGoto
	}
	return rt.Store.UpdateRun(workspaceID, runID, func(r *Run) {
		r.CurrentStepIndex = next
		r.Status = RunQueued
	})
}

func (rt *Runtime) advanceDelay(workspaceID, runID string, i int, step Step, sr *StepRun, ctx map[string]any) error {
	delaySeconds := 0
	if step.Seconds != nil {
		delaySeconds = *step.Seconds
	} else if step.Until != "" {
		if until, err := time.Parse(time.RFC3339, step.Until); err == nil {
			delaySeconds = int(time.Until(until).Seconds())
		} else if r, err := delayParser.Parse(step.Until, time.Now().UTC()); err == nil && r != nil {
			delaySeconds = int(time.Until(r.Time).Seconds())
		}
	}
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	rt.Store.FinishStepRun(sr, StepRunSucceeded, nil, "")
	next := i + 1
	if err := rt.Store.UpdateRun(workspaceID, runID, func(r *Run) {
		r.CurrentStepIndex = next
		r.Status = RunQueued
	}); err != nil {
		return err
	}
	rt.Jobs.Enqueue(jobs.EnqueueInput{
		WorkspaceID: workspaceID, Type: jobs.TypeAutomationRun,
		Payload:        map[string]any{"run_id": runID},
		RunAt:          time.Now().UTC().Add(time.Duration(delaySeconds) * time.Second),
		IdempotencyKey: fmt.Sprintf("%s:%d:delay", runID, next),
	})
	return nil
}

func (rt *Runtime) advanceAction(ctx context.Context, workspaceID, runID string, i int, step Step, sr *StepRun, tctx map[string]any) error {
	inputs := resolveInputs(step.Inputs, tctx)
	var output manifest.Doc
	var stepErr error

	switch step.ActionID {
	case "system.noop":
		output = manifest.Doc{"noop": true}
	case "system.fail":
		stepErr = errSystemFail
	case "system.notify":
		output, stepErr = rt.dispatchNotify(workspaceID, inputs)
	case "system.send_email":
		output, stepErr = rt.dispatchSendEmail(ctx, workspaceID, inputs)
	case "system.generate_document":
		output, stepErr = rt.dispatchGenerateDocument(workspaceID, inputs)
	default:
		output, stepErr = rt.dispatchCustomAction(workspaceID, step, inputs)
	}

	if stepErr == nil {
		rt.Store.FinishStepRun(sr, StepRunSucceeded, output, "")
		return rt.Store.UpdateRun(workspaceID, runID, func(r *Run) {
			r.CurrentStepIndex = i + 1
			r.Status = RunQueued
		})
	}

	rt.Store.FinishStepRun(sr, StepRunFailed, nil, stepErr.Error())
	maxAttempts := 1
	backoff := 60
	if step.Retry != nil {
		maxAttempts = step.Retry.MaxAttempts
		backoff = step.Retry.BackoffSeconds
	}
	if sr.Attempt+1 < maxAttempts {
		rt.Jobs.Enqueue(jobs.EnqueueInput{
			WorkspaceID: workspaceID, Type: jobs.TypeAutomationRun,
			Payload:        map[string]any{"run_id": runID},
			RunAt:          time.Now().UTC().Add(time.Duration(backoff) * time.Second),
			IdempotencyKey: fmt.Sprintf("%s:%s:%d", runID, step.ID, sr.Attempt+1),
		})
		return rt.Store.UpdateRun(workspaceID, runID, func(r *Run) {
			r.Status = RunQueued
			r.CurrentStepIndex = i
		})
	}
	return rt.failRun(workspaceID, runID, stepErr.Error())
}

func (rt *Runtime) dispatchNotify(workspaceID string, inputs manifest.Doc) (manifest.Doc, error) {
	var recipients []string
	switch v := inputs["recipient_id"].(type) {
	case string:
		recipients = append(recipients, v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				recipients = append(recipients, s)
			}
		}
	}
	title := manifest.Str(inputs, "title")
	body := manifest.Str(inputs, "body")
	count := 0
	for _, r := range recipients {
		rt.Notify.Create(workspaceID, r, title, body, inputs)
		count++
	}
	return manifest.Doc{"notified": count}, nil
}

func (rt *Runtime) dispatchSendEmail(ctx context.Context, workspaceID string, inputs manifest.Doc) (manifest.Doc, error) {
	conn := rt.resolveConnection(workspaceID, inputs)
	if conn == nil {
		return nil, fmt.Errorf("system.send_email: no email connection resolved")
	}
	recipients := rt.resolveRecipients(workspaceID, inputs)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("system.send_email: no recipients resolved")
	}
	renderCtx := map[string]any(inputs)
	subject, body, err := rt.Render.RenderEmailBody(manifest.Str(inputs, "subject"), manifest.Str(inputs, "body"), renderCtx)
	if err != nil {
		return nil, err
	}
	row := rt.Outbox.CreateOutboxRow(workspaceID, render.OutboxRow{
		To: recipients, FromEmail: manifest.Str(inputs, "from"),
		Subject: subject, BodyHTML: body, ConnectionID: conn.ID,
	})
	rt.Jobs.Enqueue(jobs.EnqueueInput{
		WorkspaceID: workspaceID, Type: jobs.TypeEmailSend,
		Payload:        map[string]any{"outbox_id": row.ID},
		IdempotencyKey: "email:" + row.ID,
	})
	return manifest.Doc{"outbox_id": row.ID}, nil
}

func (rt *Runtime) resolveConnection(workspaceID string, inputs manifest.Doc) *adapter.EmailConnection {
	if id := manifest.Str(inputs, "connection_id"); id != "" {
		if c, ok := rt.Outbox.GetConnection(workspaceID, id); ok {
			return c
		}
	}
	if c, ok := rt.Outbox.DefaultConnection(workspaceID); ok {
		return c
	}
	return nil
}

// resolveRecipients merges explicit `to`, a record field id, and a
// to_expr template-rendered value, per spec.md §4.9's "merging explicit
// to, record field ids, lookup-field-resolved emails, and a to_expr
// template".
func (rt *Runtime) resolveRecipients(workspaceID string, inputs manifest.Doc) []string {
	var out []string
	switch v := inputs["to"].(type) {
	case string:
		out = append(out, v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	if field := manifest.Str(inputs, "to_record_field"); field != "" {
		if entityID := manifest.Str(inputs, "record_entity_id"); entityID != "" {
			if recordID := manifest.Str(inputs, "record_id"); recordID != "" {
				if rec, err := rt.Records.Get(workspaceID, entityID, recordID); err == nil {
					if email := manifest.Str(rec, field); email != "" {
						out = append(out, email)
					}
				}
			}
		}
	}
	if toExpr := manifest.Str(inputs, "to_expr"); toExpr != "" {
		rendered, err := renderSimpleTemplate(toExpr, map[string]any(inputs))
		if err == nil && rendered != "" {
			out = append(out, rendered)
		}
	}
	return dedupeStrings(out)
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func (rt *Runtime) dispatchGenerateDocument(workspaceID string, inputs manifest.Doc) (manifest.Doc, error) {
	templateID := manifest.Str(inputs, "template_id")
	recordID := manifest.Str(inputs, "record_id")
	purpose := manifest.Str(inputs, "purpose")
	rt.Jobs.Enqueue(jobs.EnqueueInput{
		WorkspaceID: workspaceID, Type: jobs.TypeDocGenerate,
		Payload: map[string]any{"template_id": templateID, "record_id": recordID, "purpose": purpose},
	})
	return manifest.Doc{"template_id": templateID, "record_id": recordID}, nil
}

func (rt *Runtime) dispatchCustomAction(workspaceID string, step Step, inputs manifest.Doc) (manifest.Doc, error) {
	moduleID := step.ModuleID
	if moduleID == "" {
		return nil, fmt.Errorf("automation: step %s has no module_id for action %s", step.ID, step.ActionID)
	}
	actx := actionexec.Context{
		RecordID:    manifest.Str(inputs, "record_id"),
		RecordDraft: inputs,
	}
	if ids, ok := inputs["selected_ids"].([]any); ok {
		for _, v := range ids {
			if s, ok := v.(string); ok {
				actx.SelectedIDs = append(actx.SelectedIDs, s)
			}
		}
	}
	result, err := rt.Executor.Execute(workspaceID, moduleID, step.ActionID, actx, "system", []string{"system"})
	if err != nil {
		if re, ok := err.(*runtimeerr.Error); ok {
			return nil, fmt.Errorf("%s: %s", re.Code, re.Message)
		}
		return nil, err
	}
	return manifest.Doc{"kind": result.Kind, "entity_id": result.EntityID}, nil
}

// resolveInputs resolves each entry of a step's `inputs` map as a value
// node against ctx (variable substitution against {trigger}), per
// spec.md §4.9.
func resolveInputs(inputs manifest.Doc, ctx map[string]any) manifest.Doc {
	out := manifest.Doc{}
	for k, v := range inputs {
		if s, ok := v.(string); ok && strings.Contains(s, "{{") {
			rendered, err := renderSimpleTemplate(s, ctx)
			if err == nil {
				out[k] = rendered
				continue
			}
		}
		rv, err := manifest.ResolveValueNode(v, ctx)
		if err != nil {
			out[k] = v
			continue
		}
		out[k] = rv
	}
	return out
}

// renderSimpleTemplate renders a `{{ … }}` string-template expression
// against ctx, per spec.md §4.9's "string-template render for {{ … }}
// expressions". Uses the same text/template engine the sandboxed renderer
// does, but unsandboxed filter set since automation inputs are
// operator-authored, not tenant-uploaded content.
func renderSimpleTemplate(text string, ctx map[string]any) (string, error) {
	tmpl, err := template.New("input").Option("missingkey=default").Parse(text)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", err
	}
	return buf.String(), nil
}
