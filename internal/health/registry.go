package health

import (
	"sort"
	"sync"

	"hostwatch/internal/clock"
	"hostwatch/internal/models"
)

type entry struct {
	svc      models.ServiceConfig
	state    State
	inFlight bool
	timer    clock.Timer
	last     *models.ServiceSnapshot
}

// busy services are skipped by the regular pass: a probe is running, a
// follow-up is scheduled, or recovery mode owns the cadence.
func (e *entry) busy() bool {
	return e.inFlight || e.timer != nil || e.state.RecoveryMode
}

// Registry holds the per-service state of one checker, keyed by service id.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) State(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// Pending reports whether a follow-up probe is scheduled for id.
func (r *Registry) Pending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return ok && e.timer != nil
}

// Snapshots returns the latest observation of every tracked service,
// ordered by service id.
func (r *Registry) Snapshots() []models.ServiceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ServiceSnapshot, 0, len(r.entries))
	for _, e := range r.entries {
		if e.last != nil {
			out = append(out, *e.last)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// sync tracks exactly the given services. Dropped services lose their
// state and any scheduled follow-up.
func (r *Registry) sync(services []models.ServiceConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(services))
	for _, svc := range services {
		seen[svc.ID] = struct{}{}
		if e, ok := r.entries[svc.ID]; ok {
			e.svc = svc
			continue
		}
		r.entries[svc.ID] = &entry{svc: svc}
	}
	for id, e := range r.entries {
		if _, ok := seen[id]; ok {
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(r.entries, id)
	}
}

// claim marks id in flight unless it is busy or the registry is closed.
func (r *Registry) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if r.closed || !ok || e.busy() {
		return false
	}
	e.inFlight = true
	return true
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.inFlight = false
	}
}

// close cancels every scheduled follow-up and clears recovery flags. Later
// callbacks and probe completions are ignored.
func (r *Registry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, e := range r.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.inFlight = false
		e.state.RecoveryMode = false
		e.state.Confirming = false
	}
}
