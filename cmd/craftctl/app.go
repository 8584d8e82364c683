// Command craftctl is the control-plane CLI for the runtime: module
// lifecycle, draft editing, record CRUD, action invocation, automation
// admin, job admin, and notifications, one subcommand tree per command
// group spec.md §6 names. Grounded on cmd/bd's layout: one file per
// command, a package-level *cobra.Command wired together in init(), output
// styled with github.com/charmbracelet/lipgloss and destructive operations
// confirmed with github.com/charmbracelet/huh, the same way cmd/bd does it.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/gofrs/flock"

	"github.com/lowcraft/runtime/internal/actionexec"
	"github.com/lowcraft/runtime/internal/activity"
	"github.com/lowcraft/runtime/internal/adapter"
	"github.com/lowcraft/runtime/internal/automation"
	"github.com/lowcraft/runtime/internal/config"
	"github.com/lowcraft/runtime/internal/draft"
	"github.com/lowcraft/runtime/internal/eventbus"
	"github.com/lowcraft/runtime/internal/jobs"
	"github.com/lowcraft/runtime/internal/manifeststore"
	"github.com/lowcraft/runtime/internal/notify"
	"github.com/lowcraft/runtime/internal/records"
	"github.com/lowcraft/runtime/internal/registry"
	"github.com/lowcraft/runtime/internal/render"
)

// App wires every core package together for a single craftctl invocation.
// Stores are in-memory (spec.md's USE_DB=0 default): state lives only for
// the process's lifetime, which is enough for scripted multi-command
// sessions and the one-shot operations this CLI mostly performs; durable
// cross-invocation state needs USE_DB=1, recorded as an Open Question
// decision in DESIGN.md.
type App struct {
	Config *config.Config

	Manifests  *manifeststore.Store
	Registry   *registry.Registry
	Drafts     *draft.Store
	Records    *records.Store
	Activity   *activity.Store
	Bus        *eventbus.Bus
	Executor   *actionexec.Executor
	Automation *automation.Store
	Runtime    *automation.Runtime
	Jobs       *jobs.Store
	Notify     *notify.Store
	RenderSvc  *render.Service
	RenderDB   *render.Store
	Storage    adapter.Storage
	Templates  adapter.TemplateSandbox
	Email      map[string]adapter.EmailProvider
	Secrets    adapter.SecretStore
}

func newApp(cfg *config.Config) *App {
	manifests := manifeststore.New()
	recs := records.New()
	reg := registry.New(manifests, recs)
	act := newActivityStore(cfg)
	bus := eventbus.New()
	exec := actionexec.New(reg, manifests, recs, act, bus)

	notifyStore := notify.New()
	tmpl := adapter.NewSandboxTemplate()
	pdf := adapter.NewStubPDFRenderer()
	storage, err := adapter.NewLocalStorage(localStorageDir())
	if err != nil {
		fatalf("craftctl: local storage init: %v", err)
	}
	renderStore := render.NewStore()
	renderSvc := render.NewService(renderStore, tmpl, pdf, storage)

	var secrets adapter.SecretStore
	if len(cfg.AppSecretKey) == 32 {
		s, err := adapter.NewEncryptedSecretStore(cfg.AppSecretKey)
		if err != nil {
			fatalf("craftctl: secret store init: %v", err)
		}
		secrets = s
	}

	autoStore := automation.NewStore()
	jobStore := jobs.New()
	rt := automation.New(autoStore, jobStore, bus, exec, notifyStore, renderSvc, renderStore, recs, secrets)
	rt.WireMatcher(func(ev eventbus.Event) string { return ev.Meta.WorkspaceID })

	return &App{
		Config:     cfg,
		Manifests:  manifests,
		Registry:   reg,
		Drafts:     draft.New(),
		Records:    recs,
		Activity:   act,
		Bus:        bus,
		Executor:   exec,
		Automation: autoStore,
		Runtime:    rt,
		Jobs:       jobStore,
		Notify:     notifyStore,
		RenderSvc:  renderSvc,
		RenderDB:   renderStore,
		Storage:    storage,
		Templates:  tmpl,
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
func newActivityStore(cfg *config.Config) *activity.Store {
	if !cfg.UseDB {
		return activity.NewWithSQL(adapter.NewMemorySQL())
	}
	if err := os.MkdirAll(cfg.DBDir, 0o755); err != nil {
		fatalf("craftctl: creating DB_DIR %s: %v", cfg.DBDir, err)
	}
	return activity.NewWithSQL(adapter.NewSQLiteSQL(cfg.DBDir))
}

func localStorageDir() string {
	if dir := os.Getenv("CRAFTCTL_STORAGE_DIR"); dir != "" {
		return dir
	}
	return "./craftctl-storage"
}

// withWorkspaceLock acquires an advisory file lock scoped to workspaceID
// for the duration of fn, the single-process-local-deployment guard
// spec.md §4.3 calls for so two craftctl invocations against the same
// on-disk workspace cannot race a module mutation.
func withWorkspaceLock(workspaceID string, fn func() error) error {
	path := fmt.Sprintf("./.craftctl-%s.lock", workspaceID)
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("craftctl: acquiring workspace lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("craftctl: workspace %s is locked by another craftctl invocation", workspaceID)
	}
	defer fl.Unlock()
	return fn()
}

var (
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	styleMuted = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func fatalf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, styleErr.Render(fmt.Sprintf(format, args...)))
	os.Exit(1)
}

func ok(format string, args ...any) {
	fmt.Println(styleOK.Render(fmt.Sprintf(format, args...)))
}

func warn(format string, args ...any) {
	fmt.Println(styleWarn.Render(fmt.Sprintf(format, args...)))
}
