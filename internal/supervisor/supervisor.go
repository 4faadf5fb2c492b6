package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownPlatform is returned for a platform without a reconciler
var ErrUnknownPlatform = errors.New("unknown platform")

// Supervisor runs one reconciler per configured platform
type Supervisor struct {
	mu          sync.RWMutex
	reconcilers map[string]*Reconciler
	logger      *zap.Logger
}

// New creates an empty supervisor
func New(logger *zap.Logger) *Supervisor {
	return &Supervisor{
		reconcilers: make(map[string]*Reconciler),
		logger:      logger,
	}
}

// Register adds the reconciler of a platform
func (s *Supervisor) Register(r *Reconciler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reconcilers[r.Platform()]; exists {
		return fmt.Errorf("platform %s already registered", r.Platform())
	}
	s.reconcilers[r.Platform()] = r
	return nil
}

// Platforms returns the registered platform names in order
func (s *Supervisor) Platforms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.reconcilers))
	for name := range s.reconcilers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reconciler returns the reconciler of a platform
func (s *Supervisor) Reconciler(platform string) (*Reconciler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reconcilers[platform]
	if !ok {
		return nil, fmt.Errorf("%s: %w", platform, ErrUnknownPlatform)
	}
	return r, nil
}

func (s *Supervisor) all() []*Reconciler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Reconciler, 0, len(s.reconcilers))
	for _, r := range s.reconcilers {
		out = append(out, r)
	}
	return out
}

// Statuses returns the snapshot of every worker of a platform
func (s *Supervisor) Statuses(platform string) ([]model.WorkerHandle, error) {
	r, err := s.Reconciler(platform)
	if err != nil {
		return nil, err
	}
	return r.Registry().Handles(), nil
}

// Status returns the snapshot of one tenant's worker
func (s *Supervisor) Status(platform, tenantID string) (model.WorkerHandle, error) {
	r, err := s.Reconciler(platform)
	if err != nil {
		return model.WorkerHandle{}, err
	}

	w, ok := r.Registry().Get(tenantID)
	if !ok {
		return model.WorkerHandle{}, fmt.Errorf("tenant %s: %w", tenantID, model.ErrWorkerNotFound)
	}
	return w.Status(), nil
}

// RouteWebhook delivers a pushed event to the hinted tenant's worker,
// falling back to the shared server worker when that tenant has none.
func (s *Supervisor) RouteWebhook(ctx context.Context, platform, tenantHint string, event model.Event) (model.Outcome, error) {
	r, err := s.Reconciler(platform)
	if err != nil {
		return model.Outcome{}, err
	}

	registry := r.Registry()
	w, ok := registry.Get(tenantHint)
	if !ok || tenantHint == "" {
		w, ok = registry.Get(model.ServerTenantID)
	}
	if !ok {
		return model.Outcome{}, fmt.Errorf("no worker for tenant %q on %s: %w", tenantHint, platform, model.ErrWorkerNotFound)
	}

	return w.HandleEvent(ctx, event)
}

// Run starts every reconcile loop and blocks until ctx is done or all loops exit
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range s.all() {
		wg.Add(1)
		go func(r *Reconciler) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}
	wg.Wait()
}

// TriggerAll requests an immediate pass on every platform
func (s *Supervisor) TriggerAll() {
	for _, r := range s.all() {
		r.Trigger()
	}
}

// Shutdown stops every platform concurrently
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	for _, r := range s.all() {
		r := r
		g.Go(func() error {
			if err := r.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown %s: %w", r.Platform(), err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		s.logger.Error("Supervisor shutdown incomplete", zap.Error(err))
	} else {
		s.logger.Info("Supervisor shutdown complete")
	}
	return err
}
