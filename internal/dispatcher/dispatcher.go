// Package dispatcher fans bus events out to each tenant's configured sinks.
// Every (tenant, target) pair gets its own serial delivery worker so a slow
// or down sink never delays delivery to the others. Semantics are
// at-least-once per (event, target); duplicates are possible and consumers
// key on the idempotency data carried in the event payload.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexwire/chatgate/internal/bus"
	"github.com/nexwire/chatgate/internal/logger"
	"github.com/nexwire/chatgate/internal/metrics"
	"github.com/nexwire/chatgate/internal/model"
	"github.com/nexwire/chatgate/internal/repository"
	"github.com/nexwire/chatgate/internal/retry"
	"github.com/nexwire/chatgate/internal/sink"
	"github.com/nexwire/chatgate/internal/util"
)

// TargetSource resolves the sink targets configured for a tenant. The
// registry implements it.
type TargetSource interface {
	Targets(tenantID string) []model.SinkTarget
}

type Config struct {
	Backoff         retry.Config // delay progression between attempts
	DefaultAttempts int          // per-target ceiling when the target sets none
	WorkerBuffer    int          // per-(tenant,target) inbox size
}

type Dispatcher struct {
	cfg    Config
	bus    *bus.Bus
	source TargetSource
	deps   sink.Deps
	audit  *repository.DeliveryLog // optional
	log    *zap.Logger

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup
}

func New(cfg Config, b *bus.Bus, source TargetSource, deps sink.Deps, audit *repository.DeliveryLog) *Dispatcher {
	if cfg.DefaultAttempts <= 0 {
		cfg.DefaultAttempts = 3
	}
	if cfg.WorkerBuffer <= 0 {
		cfg.WorkerBuffer = 256
	}
	return &Dispatcher{
		cfg:     cfg,
		bus:     b,
		source:  source,
		deps:    deps,
		audit:   audit,
		log:     logger.Named("dispatcher", ""),
		workers: make(map[string]*worker),
	}
}

// SetTargetSource wires the target resolver after construction. The registry
// and the dispatcher reference each other, so one side is attached late.
// Must be called before Run.
func (d *Dispatcher) SetTargetSource(source TargetSource) { d.source = source }

// Run consumes the bus until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	sub := d.bus.Subscribe("dispatcher")
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			d.stopAll()
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				d.stopAll()
				return nil
			}
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev model.Event) {
	// delivery.failed is observability-only: re-dispatching it to the
	// failing sink would loop forever
	if ev.Kind == model.EventDeliveryFailed {
		return
	}
	if d.source == nil {
		return
	}

	for _, target := range d.source.Targets(ev.TenantID) {
		w, err := d.workerFor(ctx, ev.TenantID, target)
		if err != nil {
			d.log.Error("sink construction failed",
				zap.String("tenant", ev.TenantID),
				zap.String("target", target.Name),
				zap.Error(err))
			continue
		}
		if !w.offer(ev) {
			// inbox overflow exhausts the budget for this pair up front;
			// report it the same way as a failed delivery
			d.reportFailure(ev, target, 0, fmt.Errorf("delivery worker backlog full"))
		}
	}
}

// RemoveTenant stops and forgets all delivery workers of one tenant. Called
// on deprovision.
func (d *Dispatcher) RemoveTenant(tenantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, w := range d.workers {
		if w.tenantID == tenantID {
			w.cancel()
			delete(d.workers, key)
		}
	}
}

func (d *Dispatcher) workerFor(ctx context.Context, tenantID string, target model.SinkTarget) (*worker, error) {
	key := tenantID + "/" + target.Name

	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.workers[key]; ok {
		return w, nil
	}

	snk, err := sink.New(target, d.deps)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &worker{
		tenantID: tenantID,
		target:   target,
		snk:      snk,
		inbox:    make(chan model.Event, d.cfg.WorkerBuffer),
		cancel:   cancel,
	}
	d.workers[key] = w

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer snk.Close()
		w.run(wctx, d)
	}()
	return w, nil
}

func (d *Dispatcher) stopAll() {
	d.mu.Lock()
	for key, w := range d.workers {
		w.cancel()
		delete(d.workers, key)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) attemptsFor(target model.SinkTarget) int {
	if target.MaxAttempts > 0 {
		return target.MaxAttempts
	}
	return d.cfg.DefaultAttempts
}

func (d *Dispatcher) reportFailure(ev model.Event, target model.SinkTarget, attempts int, err error) {
	metrics.SinkDeliveries.WithLabelValues(target.Kind.String(), "failed").Inc()
	d.log.Warn("sink delivery failed permanently",
		zap.String("tenant", ev.TenantID),
		zap.String("target", target.Name),
		zap.String("event", ev.ID),
		zap.Int("attempts", attempts),
		zap.Error(err))

	if d.audit != nil {
		d.audit.Record(deliveryRecord(ev, target, "failed", attempts, err))
	}
	d.bus.Publish(model.Event{
		ID:       util.NewID(),
		TenantID: ev.TenantID,
		Kind:     model.EventDeliveryFailed,
		Payload: model.DeliveryFailure{
			EventID:  ev.ID,
			Target:   target.Name,
			Attempts: attempts,
			Error:    err.Error(),
		},
		At: time.Now(),
	})
}

func (d *Dispatcher) reportDelivered(ev model.Event, target model.SinkTarget, attempts int) {
	metrics.SinkDeliveries.WithLabelValues(target.Kind.String(), "delivered").Inc()
	if d.audit != nil {
		d.audit.Record(deliveryRecord(ev, target, "delivered", attempts, nil))
	}
}

func deliveryRecord(ev model.Event, target model.SinkTarget, outcome string, attempts int, err error) repository.DeliveryRecord {
	r := repository.DeliveryRecord{
		TenantID: ev.TenantID,
		EventID:  ev.ID,
		Kind:     ev.Kind.String(),
		Target:   target.Name,
		SinkKind: target.Kind.String(),
		Outcome:  outcome,
		Attempts: attempts,
		At:       time.Now(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// ---- per-(tenant,target) delivery worker ----

type worker struct {
	tenantID string
	target   model.SinkTarget
	snk      sink.Sink
	inbox    chan model.Event
	cancel   context.CancelFunc
}

// offer hands ev to the worker without blocking.
func (w *worker) offer(ev model.Event) bool {
	select {
	case w.inbox <- ev:
		return true
	default:
		return false
	}
}

func (w *worker) run(ctx context.Context, d *Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.inbox:
			w.deliver(ctx, d, ev)
		}
	}
}

func (w *worker) deliver(ctx context.Context, d *Dispatcher, ev model.Event) {
	cfg := d.cfg.Backoff
	cfg.MaxAttempts = d.attemptsFor(w.target)

	attempt := 0
	err := retry.Do(ctx, cfg, func() error {
		attempt++
		return w.snk.Deliver(ctx, ev)
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		d.reportFailure(ev, w.target, attempt, err)
		return
	}
	d.reportDelivered(ev, w.target, attempt)
}
