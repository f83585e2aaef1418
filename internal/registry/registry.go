// Package registry is the only cross-tenant shared structure: an owned map
// from tenant id to its supervisor. The map mutex guards insert/remove/
// lookup; everything behind a handle is tenant-scoped and needs no
// cross-tenant locking.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexwire/chatgate/internal/bus"
	"github.com/nexwire/chatgate/internal/credstore"
	"github.com/nexwire/chatgate/internal/logger"
	"github.com/nexwire/chatgate/internal/metrics"
	"github.com/nexwire/chatgate/internal/model"
	"github.com/nexwire/chatgate/internal/session"
	"github.com/nexwire/chatgate/internal/supervisor"
	"github.com/nexwire/chatgate/internal/transport"
)

var (
	ErrDuplicateTenant = errors.New("tenant already provisioned")
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrNotClosed       = errors.New("session is not closed")
)

// Deprovisioned is notified when a tenant is removed so downstream
// components (the dispatcher) can release per-tenant resources.
type Deprovisioned interface {
	RemoveTenant(tenantID string)
}

type Config struct {
	Supervisor supervisor.Config
	StopGrace  time.Duration // bound on graceful supervisor shutdown
}

type entry struct {
	tenant   model.Tenant
	sup      *supervisor.Supervisor
	stopping bool
}

type Registry struct {
	cfg    Config
	dialer transport.Dialer
	bus    *bus.Bus
	creds  credstore.Store
	notify Deprovisioned // optional
	log    *zap.Logger

	mu      sync.Mutex
	tenants map[string]*entry
}

func New(cfg Config, dialer transport.Dialer, b *bus.Bus, creds credstore.Store, notify Deprovisioned) *Registry {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	return &Registry{
		cfg:     cfg,
		dialer:  dialer,
		bus:     b,
		creds:   creds,
		notify:  notify,
		log:     logger.Named("registry", ""),
		tenants: make(map[string]*entry),
	}
}

// Provision creates and starts a supervisor for the tenant.
func (r *Registry) Provision(t model.Tenant) error {
	if t.ID == "" {
		return fmt.Errorf("empty tenant id")
	}
	for _, target := range t.Sinks {
		if !target.Kind.Valid() {
			return fmt.Errorf("tenant %s: invalid sink kind %q", t.ID, target.Kind)
		}
	}

	sup := supervisor.New(t, r.cfg.Supervisor, r.dialer, r.bus, r.creds)

	r.mu.Lock()
	if _, ok := r.tenants[t.ID]; ok {
		r.mu.Unlock()
		return ErrDuplicateTenant
	}
	r.tenants[t.ID] = &entry{tenant: t, sup: sup}
	r.mu.Unlock()

	sup.Start()
	metrics.ActiveSessions.Inc()
	r.log.Info("tenant provisioned", zap.String("tenant", t.ID))
	return nil
}

// Deprovision stops the tenant's supervisor within the grace period and
// removes it. An entry already being stopped counts as absent.
func (r *Registry) Deprovision(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	e, ok := r.tenants[tenantID]
	if !ok || e.stopping {
		r.mu.Unlock()
		return ErrTenantNotFound
	}
	e.stopping = true
	r.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, r.cfg.StopGrace)
	defer cancel()
	if err := e.sup.Stop(stopCtx); err != nil {
		r.log.Warn("supervisor stop exceeded grace period",
			zap.String("tenant", tenantID), zap.Error(err))
	}

	r.mu.Lock()
	delete(r.tenants, tenantID)
	r.mu.Unlock()

	if r.notify != nil {
		r.notify.RemoveTenant(tenantID)
	}
	metrics.ActiveSessions.Dec()
	r.log.Info("tenant deprovisioned", zap.String("tenant", tenantID))
	return nil
}

// Get returns the handle used to submit messages and query state.
func (r *Registry) Get(tenantID string) (*supervisor.Supervisor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tenants[tenantID]
	if !ok || e.stopping {
		return nil, ErrTenantNotFound
	}
	return e.sup, nil
}

// Enqueue submits one outbound message for the tenant.
func (r *Registry) Enqueue(tenantID string, m *model.OutboundMessage) error {
	sup, err := r.Get(tenantID)
	if err != nil {
		return err
	}
	return sup.Enqueue(m)
}

// Status reports one tenant's session state.
func (r *Registry) Status(tenantID string) (supervisor.Status, error) {
	sup, err := r.Get(tenantID)
	if err != nil {
		return supervisor.Status{}, err
	}
	return sup.Status(), nil
}

// StatusAll reports every provisioned tenant.
func (r *Registry) StatusAll() []supervisor.Status {
	r.mu.Lock()
	sups := make([]*supervisor.Supervisor, 0, len(r.tenants))
	for _, e := range r.tenants {
		if !e.stopping {
			sups = append(sups, e.sup)
		}
	}
	r.mu.Unlock()

	out := make([]supervisor.Status, 0, len(sups))
	for _, sup := range sups {
		out = append(out, sup.Status())
	}
	return out
}

// Reset replaces a Closed tenant's supervisor with a fresh one. This is the
// operator-triggered restart; a live session is never torn down by it.
func (r *Registry) Reset(tenantID string) error {
	r.mu.Lock()
	e, ok := r.tenants[tenantID]
	if !ok || e.stopping {
		r.mu.Unlock()
		return ErrTenantNotFound
	}
	if e.sup.State() != session.Closed {
		r.mu.Unlock()
		return ErrNotClosed
	}
	sup := supervisor.New(e.tenant, r.cfg.Supervisor, r.dialer, r.bus, r.creds)
	e.sup = sup
	r.mu.Unlock()

	sup.Start()
	r.log.Info("tenant reset", zap.String("tenant", tenantID))
	return nil
}

// Targets implements the dispatcher's TargetSource.
func (r *Registry) Targets(tenantID string) []model.SinkTarget {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tenants[tenantID]
	if !ok {
		return nil
	}
	return e.tenant.Sinks
}

// Shutdown stops all supervisors, each bounded by the grace period.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.Deprovision(ctx, id); err != nil && !errors.Is(err, ErrTenantNotFound) {
				r.log.Warn("shutdown deprovision", zap.String("tenant", id), zap.Error(err))
			}
		}(id)
	}
	wg.Wait()
}
