package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
)

// Worker is the control surface the reconciler needs from a tenant worker
type Worker interface {
	TenantID() string
	Fingerprint() string
	Digest() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() model.WorkerHandle
	HandleEvent(ctx context.Context, event model.Event) (model.Outcome, error)
}

type registryEntry struct {
	worker     Worker
	insertedAt time.Time
}

// Registry maps tenant id to its single running worker
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]registryEntry),
	}
}

// InsertIfAbsent registers w unless the tenant already has a worker
func (r *Registry) InsertIfAbsent(tenantID string, w Worker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[tenantID]; exists {
		return false
	}
	r.entries[tenantID] = registryEntry{worker: w, insertedAt: time.Now()}
	return true
}

// Remove deletes the entry only if it still holds w
func (r *Registry) Remove(tenantID string, w Worker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[tenantID]
	if !exists || entry.worker != w {
		return false
	}
	delete(r.entries, tenantID)
	return true
}

// Get returns the worker of a tenant
func (r *Registry) Get(tenantID string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[tenantID]
	return entry.worker, exists
}

// Snapshot returns a copy of the tenant to worker mapping
func (r *Registry) Snapshot() map[string]Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Worker, len(r.entries))
	for id, entry := range r.entries {
		out[id] = entry.worker
	}
	return out
}

// Handles returns status snapshots of every registered worker ordered by tenant id
func (r *Registry) Handles() []model.WorkerHandle {
	workers := r.Snapshot()

	ids := make([]string, 0, len(workers))
	for id := range workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	handles := make([]model.WorkerHandle, 0, len(ids))
	for _, id := range ids {
		handles = append(handles, workers[id].Status())
	}
	return handles
}

// Len returns the number of registered workers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
