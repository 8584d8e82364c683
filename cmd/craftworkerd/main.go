package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lowcraft/runtime/internal/adapter"
	"github.com/lowcraft/runtime/internal/config"
	"github.com/lowcraft/runtime/internal/jobs"
	"github.com/lowcraft/runtime/internal/workspace"
)

func main() {
	cfg, err := config.Initialize()
	if err != nil {
		fmt.Fprintln(os.Stderr, "craftworkerd: loading configuration:", err)
		os.Exit(1)
	}
	app := newApp(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app.Log.Info("craftworkerd starting", "poll_interval", cfg.WorkerPollInterval(), "batch", cfg.WorkerBatch, "workspace", cfg.WorkerOrgID)
	runLoop(ctx, app)
	app.Log.Info("craftworkerd stopped")
}

// runLoop polls on WorkerPollInterval, claiming and dispatching a batch of
// jobs each tick, grounded on daemon_event_loop.go's ticker + select
// pattern (here driven by a single poll ticker plus ctx.Done, since there
// is no filesystem to watch).
func runLoop(ctx context.Context, app *App) {
	ticker := time.NewTicker(app.Config.WorkerPollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			claimed := app.Jobs.ClaimBatch(app.Config.WorkerBatch, workerID())
			if len(claimed) == 0 {
				continue
			}
			batch := claimed
			if app.Config.WorkerOrgID != "" {
				batch = filterWorkspace(claimed, app.Config.WorkerOrgID)
			}
			if err := runBatch(ctx, app, batch); err != nil {
				app.Log.Error("batch run failed", "error", err)
			}
		}
	}
}

func filterWorkspace(in []*jobs.Job, workspaceID string) []*jobs.Job {
	out := in[:0]
	for _, j := range in {
		if j.WorkspaceID == workspaceID {
			out = append(out, j)
		}
	}
	return out
}

// runBatch executes claimed jobs concurrently, bounded by
// config.Config.WorkerBatch, using errgroup the way none of the example
// repos hand-roll a worker pool with raw channels when it is available.
func runBatch(ctx context.Context, app *App, batch []*jobs.Job) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(app.Config.WorkerBatch)
	for _, j := range batch {
		j := j
		g.Go(func() error {
			runJob(gctx, app, j)
			return nil
		})
	}
	return g.Wait()
}

func workerID() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "craftworkerd"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// runJob dispatches a single claimed job by type and resolves its
// lifecycle: success marks it succeeded, a *adapter.SecretStoreError marks
// it failed (fatal, not retriable — spec.md §4.10/§7), any other error
// backs off via jobs.BackoffSeconds up to MaxAttempts before going dead.
func runJob(ctx context.Context, app *App, job *jobs.Job) {
	jobCtx := workspace.WithWorkspace(ctx, job.WorkspaceID)
	log := app.Log.With("job_id", job.ID, "type", job.Type, "workspace_id", job.WorkspaceID, "attempt", job.Attempt)

	var err error
	switch job.Type {
	case jobs.TypeEmailSend:
		err = handleEmailSend(jobCtx, app, job)
	case jobs.TypeDocGenerate:
		err = handleDocGenerate(jobCtx, app, job)
	case jobs.TypeAutomationRun:
		err = handleAutomationRun(jobCtx, app, job)
	case jobs.TypeAttachmentsCleanup:
		err = handleAttachmentsCleanup(jobCtx, app, job)
	default:
		err = fmt.Errorf("craftworkerd: unknown job type %q", job.Type)
	}

	if err == nil {
		succeeded := jobs.StatusSucceeded
		_ = app.Jobs.Update(job.ID, jobs.Patch{Status: &succeeded, ClearLock: true})
		app.Jobs.AddEvent(job.ID, "succeeded", "")
		log.Info("job succeeded")
		return
	}

	log.Warn("job failed", "error", err)
	resolveFailure(app, job, err)
}

// resolveFailure applies spec.md §4.10's retry policy: secret-store errors
// are fatal immediately; everything else retries with exponential backoff
// until MaxAttempts, then goes dead.
func resolveFailure(app *App, job *jobs.Job, cause error) {
	msg := cause.Error()
	var secretErr *adapter.SecretStoreError
	if errors.As(cause, &secretErr) {
		failed := jobs.StatusFailed
		_ = app.Jobs.Update(job.ID, jobs.Patch{Status: &failed, LastError: &msg, ClearLock: true})
		app.Jobs.AddEvent(job.ID, "failed", msg)
		return
	}

	if job.Attempt >= job.MaxAttempts {
		dead := jobs.StatusDead
		_ = app.Jobs.Update(job.ID, jobs.Patch{Status: &dead, LastError: &msg, ClearLock: true})
		app.Jobs.AddEvent(job.ID, "dead", msg)
		return
	}

	queued := jobs.StatusQueued
	runAt := time.Now().UTC().Add(time.Duration(jobs.BackoffSeconds(job.Attempt)) * time.Second)
	_ = app.Jobs.Update(job.ID, jobs.Patch{Status: &queued, LastError: &msg, RunAt: &runAt, ClearLock: true})
	app.Jobs.AddEvent(job.ID, "retry_scheduled", msg)
}
