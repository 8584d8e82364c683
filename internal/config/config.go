// Package config loads the runtime's ambient configuration: the storage
// backend selector, worker pacing, the studio agent's patch-batch limits,
// the at-rest secret key, and the advisory performance budgets spec.md §6
// enumerates. Grounded on cmd/bd's internal/config viper-based
// Initialize()/singleton pattern, generalized from a project-local
// config.yaml search to this runtime's env-first surface — every field
// spec.md §6 "Configuration (enumerated)" names is bound to an env var of
// the same name, with viper supplying defaults, file overlay, and type
// coercion the same way.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved, validated runtime configuration.
type Config struct {
	// UseDB selects the SQL backend behind the activity feed's mirror:
	// MemorySQL (false) or SQLiteSQL under DBDir (true). The other stores
	// keep in-memory maps either way.
	UseDB bool
	// DBDir is the directory SQLiteSQL roots its per-workspace database
	// files under when UseDB is true.
	DBDir string

	// MaxAgentIters / MaxAgentOps bound a single studio patch-batch request.
	MaxAgentIters int
	MaxAgentOps   int

	// WorkerPollMS is how often the job worker polls for claimable jobs.
	WorkerPollMS int
	// WorkerBatch is the max number of jobs claimed per poll cycle.
	WorkerBatch int
	// WorkerOrgID scopes a standalone worker process to one workspace; empty
	// means "serve every workspace the job store knows about".
	WorkerOrgID string

	// AppSecretKey is the raw 32-byte symmetric key used for at-rest secret
	// encryption (email connection secrets, API tokens). Never logged.
	AppSecretKey []byte

	// Perf budgets are advisory only (spec.md §6 "Perf budgets (advisory)"):
	// they are loaded here, and nothing in the core reads or enforces them.
	PerfP95MSBootstrapList      int
	PerfMaxQueriesBootstrapList int
	PerfP95MSBootstrapForm      int
	PerfMaxQueriesBootstrapForm int
}

var v *viper.Viper

// Initialize sets up the package-level viper singleton. Should be called
// once at process startup (cmd/craftctl, cmd/craftworkerd), mirroring the
// teacher's internal/config.Initialize() call site in cmd/bd's root
// command's PersistentPreRunE.
func Initialize() (*Config, error) {
	v = viper.New()
	v.AutomaticEnv()

	v.SetDefault("USE_DB", false)
	v.SetDefault("DB_DIR", "./runtime-db")
	v.SetDefault("MAX_AGENT_ITERS", 8)
	v.SetDefault("MAX_AGENT_OPS", 200)
	v.SetDefault("WORKER_POLL_MS", 1000)
	v.SetDefault("WORKER_BATCH", 10)
	v.SetDefault("WORKER_ORG_ID", "")
	v.SetDefault("PERF_P95_MS_BOOTSTRAP_LIST", 250)
	v.SetDefault("PERF_MAX_QUERIES_BOOTSTRAP_LIST", 10)
	v.SetDefault("PERF_P95_MS_BOOTSTRAP_FORM", 250)
	v.SetDefault("PERF_MAX_QUERIES_BOOTSTRAP_FORM", 10)

	// Optional config.yaml overlay, found by walking up from cwd looking
	// for a project-local dotfile, the way cmd/bd's config does: here it
	// is ./runtime.yaml or a parent directory's runtime.yaml.
	v.SetConfigType("yaml")
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			path := filepath.Join(dir, "runtime.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				break
			}
		}
	}
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", v.ConfigFileUsed(), err)
		}
	}

	return resolve(v)
}

func resolve(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		UseDB:                       v.GetBool("USE_DB"),
		DBDir:                       v.GetString("DB_DIR"),
		MaxAgentIters:               v.GetInt("MAX_AGENT_ITERS"),
		MaxAgentOps:                 v.GetInt("MAX_AGENT_OPS"),
		WorkerPollMS:                v.GetInt("WORKER_POLL_MS"),
		WorkerBatch:                 v.GetInt("WORKER_BATCH"),
		WorkerOrgID:                 v.GetString("WORKER_ORG_ID"),
		PerfP95MSBootstrapList:      v.GetInt("PERF_P95_MS_BOOTSTRAP_LIST"),
		PerfMaxQueriesBootstrapList: v.GetInt("PERF_MAX_QUERIES_BOOTSTRAP_LIST"),
		PerfP95MSBootstrapForm:      v.GetInt("PERF_P95_MS_BOOTSTRAP_FORM"),
		PerfMaxQueriesBootstrapForm: v.GetInt("PERF_MAX_QUERIES_BOOTSTRAP_FORM"),
	}

	if raw := v.GetString("APP_SECRET_KEY"); raw != "" {
		key, err := decodeSecretKey(raw)
		if err != nil {
			return nil, fmt.Errorf("config: APP_SECRET_KEY: %w", err)
		}
		cfg.AppSecretKey = key
	}
	return cfg, nil
}

// decodeSecretKey accepts either a raw 32-byte string or urlsafe-base64, per
// spec.md §6: "32-byte key accepted raw or urlsafe-base64".
func decodeSecretKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(raw)
	if err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return nil, fmt.Errorf("must be a raw 32-byte string or urlsafe-base64 encoding of one")
	}
	return decoded, nil
}

// WorkerPollInterval returns WorkerPollMS as a time.Duration.
func (c *Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.WorkerPollMS) * time.Millisecond
}
