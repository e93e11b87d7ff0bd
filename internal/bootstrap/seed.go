// Package bootstrap seeds a freshly created store with a short list of
// built-in health-check jobs, so a fresh deployment shows activity in
// scheduler_list_runs without any operator action.
package bootstrap

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/config"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

// healthCheckInterval is how often each seeded job re-fires.
const healthCheckInterval = 60

// healthCheckTool is the tool every seeded job invokes. Each built-in
// backend is expected to expose it; backends that don't will simply show
// up with failing runs until the job is edited or removed.
const healthCheckTool = "health_check"

// SeedIfEmpty seeds one health-check job per built-in backend when, and
// only when, cfg resolves to the scheduler's own default local embedded
// store and that store currently holds zero jobs. It never touches a
// shared or remote store, and SCHEDULER_BOOTSTRAP_JOBS=false disables it
// unconditionally.
func SeedIfEmpty(ctx context.Context, s store.Store, cfg config.Config) error {
	if !cfg.BootstrapJobs {
		slog.Info("bootstrap: seeding disabled via SCHEDULER_BOOTSTRAP_JOBS")
		return nil
	}
	if !cfg.IsDefaultLocalStore() {
		slog.Info("bootstrap: store is not the default local embedded path, skipping seed")
		return nil
	}

	existing, err := s.ListJobs(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now().UTC()
	argsJSON, _ := json.Marshal(map[string]any{})

	for _, backend := range config.BuiltinBackends() {
		job := store.Job{
			Label:           backend.Name + " health check",
			Server:          backend.Name,
			Tool:            healthCheckTool,
			ArgsJSON:        string(argsJSON),
			IntervalSeconds: healthCheckInterval,
			Enabled:         true,
			NextRunAt:       &now,
		}
		if _, err := s.UpsertJob(ctx, job); err != nil {
			return err
		}
	}

	slog.Info("bootstrap: seeded built-in health-check jobs", "count", len(config.BuiltinBackends()))
	return nil
}
