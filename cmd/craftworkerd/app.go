// Command craftworkerd is the standalone background job worker spec.md
// §4.10 describes: it polls internal/jobs on WORKER_POLL_MS, claims a
// batch, and dispatches each job by type. Grounded on cmd/bd's daemon
// (daemon_event_loop.go's ticker + signal select loop), generalized from a
// file-watching issue daemon to a job-queue poller, with
// golang.org/x/sync/errgroup driving the per-batch claim-execute pool
// instead of hand-rolled worker goroutines + channels.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lowcraft/runtime/internal/actionexec"
	"github.com/lowcraft/runtime/internal/activity"
	"github.com/lowcraft/runtime/internal/adapter"
	"github.com/lowcraft/runtime/internal/applog"
	"github.com/lowcraft/runtime/internal/automation"
	"github.com/lowcraft/runtime/internal/config"
	"github.com/lowcraft/runtime/internal/eventbus"
	"github.com/lowcraft/runtime/internal/jobs"
	"github.com/lowcraft/runtime/internal/manifeststore"
	"github.com/lowcraft/runtime/internal/notify"
	"github.com/lowcraft/runtime/internal/records"
	"github.com/lowcraft/runtime/internal/registry"
	"github.com/lowcraft/runtime/internal/render"
)

// App wires the same collaborators craftctl does. It is a separate process
// (and a separate in-memory store set) from any craftctl invocation, the
// same way cmd/bd's daemon and its CLI are separate binaries sharing
// package code but not process state.
type App struct {
	Config *config.Config
	Log    *slog.Logger

	Jobs       *jobs.Store
	Automation *automation.Store
	Runtime    *automation.Runtime
	Records    *records.Store
	RenderSvc  *render.Service
	RenderDB   *render.Store
	Email      map[string]adapter.EmailProvider
	Secrets    adapter.SecretStore
}

func newApp(cfg *config.Config) *App {
	logger := applog.New(applog.Config{Path: os.Getenv("CRAFTWORKERD_LOG_FILE"), Level: slog.LevelInfo})

	manifests := manifeststore.New()
	recs := records.New()
	reg := registry.New(manifests, recs)
	act := newActivityStore(cfg, logger)
	bus := eventbus.New()
	exec := actionexec.New(reg, manifests, recs, act, bus)
	notifyStore := notify.New()

	tmpl := adapter.NewSandboxTemplate()
	pdf := adapter.NewStubPDFRenderer()
	storage, err := adapter.NewLocalStorage(localStorageDir())
	if err != nil {
		logger.Error("local storage init failed", "error", err)
		os.Exit(1)
	}
	renderStore := render.NewStore()
	renderSvc := render.NewService(renderStore, tmpl, pdf, storage)

	var secrets adapter.SecretStore
	if len(cfg.AppSecretKey) == 32 {
		s, err := adapter.NewEncryptedSecretStore(cfg.AppSecretKey)
		if err != nil {
			logger.Error("secret store init failed", "error", err)
			os.Exit(1)
		}
		secrets = s
	}

	autoStore := automation.NewStore()
	jobStore := jobs.New()
	rt := automation.New(autoStore, jobStore, bus, exec, notifyStore, renderSvc, renderStore, recs, secrets)
	rt.WireMatcher(func(ev eventbus.Event) string { return ev.Meta.WorkspaceID })

	return &App{
		Config:     cfg,
		Log:        logger,
		Jobs:       jobStore,
		Automation: autoStore,
		Runtime:    rt,
		Records:    recs,
		RenderSvc:  renderSvc,
		RenderDB:   renderStore,
		Email: map[string]adapter.EmailProvider{
			"smtp": adapter.NewSMTPProvider(),
			"api":  adapter.NewHostedAPIProvider(),
		},
		Secrets: secrets,
	}
}

// newActivityStore mirrors the activity feed through the adapter.SQL
// boundary spec.md §6's USE_DB selector names: USE_DB=0 backs it with
// MemorySQL, USE_DB=1 with a SQLite file per workspace under DB_DIR.
func newActivityStore(cfg *config.Config, logger *slog.Logger) *activity.Store {
	if !cfg.UseDB {
		return activity.NewWithSQL(adapter.NewMemorySQL())
	}
	if err := os.MkdirAll(cfg.DBDir, 0o755); err != nil {
		logger.Error("creating DB_DIR failed", "dir", cfg.DBDir, "error", err)
		os.Exit(1)
	}
	return activity.NewWithSQL(adapter.NewSQLiteSQL(cfg.DBDir))
}

func localStorageDir() string {
	if dir := os.Getenv("CRAFTWORKERD_STORAGE_DIR"); dir != "" {
		return dir
	}
	return "./craftctl-storage"
}

// resolveSecret returns the plaintext secret for ref, or "" if ref is
// empty (connections without auth) or no secret store is configured.
func (a *App) resolveSecret(ctx context.Context, ref string) (string, error) {
	if ref == "" || a.Secrets == nil {
		return "", nil
	}
	return a.Secrets.Resolve(ctx, ref)
}

func emailProviderFor(a *App, conn *adapter.EmailConnection) (adapter.EmailProvider, error) {
	p, ok := a.Email[conn.Type]
	if !ok {
		return nil, fmt.Errorf("craftworkerd: unknown email connection type %q", conn.Type)
	}
	return p, nil
}
