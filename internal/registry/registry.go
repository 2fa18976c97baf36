// Package registry generalizes the teacher's inline engine.Stop() shutdown
// sequence (cancel contexts, safety-net cleanup, persist state, wait for
// goroutines, close resources) into a reusable priority-ordered callback
// list, per spec §10.4.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultShutdownTimeout is the overall budget for Shutdown, matching the
// teacher engine's stale-book cancel-all deadline reused as the global
// shutdown deadline.
const DefaultShutdownTimeout = 10 * time.Second

type entry struct {
	priority int
	name     string
	cleanup  func(ctx context.Context) error
}

// ResourceRegistry collects cleanup callbacks and runs them in
// priority-ascending order on Shutdown, so dependents (detectors) clean up
// before dependencies (storage).
type ResourceRegistry struct {
	mu      sync.Mutex
	entries []entry
	log     *slog.Logger
}

// New builds an empty registry.
func New(log *slog.Logger) *ResourceRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &ResourceRegistry{log: log.With("component", "registry")}
}

// Register adds a cleanup callback at the given priority. Lower priorities
// run first. Per spec §10.4: detectors=0, preprocessor=10, signal
// manager=20, storage=30.
func (r *ResourceRegistry) Register(priority int, name string, cleanup func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{priority: priority, name: name, cleanup: cleanup})
}

// Shutdown runs every registered cleanup in priority order within the
// overall deadline carried on ctx. It does not stop at the first error; it
// runs every callback and returns a joined error describing every failure.
func (r *ResourceRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	ordered := make([]entry, len(r.entries))
	copy(ordered, r.entries)
	r.mu.Unlock()

	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].priority < ordered[j].priority })

	var errs []error
	for _, e := range ordered {
		select {
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("shutdown deadline exceeded before %q ran", e.name))
			continue
		default:
		}

		r.log.Info("shutdown: running cleanup", "name", e.name, "priority", e.priority)
		if err := e.cleanup(ctx); err != nil {
			r.log.Error("shutdown: cleanup failed", "name", e.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("shutdown errors: %v", errs)
}
