// Package bus is the single-process publish point for tenant events.
// Publishing is non-blocking under the default drop policy: a slow subscriber
// loses events (counted and logged) instead of stalling a supervisor. Under
// the block policy a publisher waits on the slow subscriber; cancelling the
// subscription or closing the bus releases it.
// Per-tenant publish order is preserved per subscriber because a tenant's
// events are always published from that tenant's own goroutines and each
// subscriber is a single FIFO channel.
package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nexwire/chatgate/internal/metrics"
	"github.com/nexwire/chatgate/internal/model"
)

type Policy string

const (
	// PolicyDrop drops the event for the slow subscriber and records it.
	PolicyDrop Policy = "drop"
	// PolicyBlock slows the publisher until the subscriber catches up.
	PolicyBlock Policy = "block"
)

// Subscription is one consumer's view of the bus.
type Subscription struct {
	C      <-chan model.Event
	cancel func()
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() { s.cancel() }

type subscriber struct {
	name   string
	ch     chan model.Event
	done   chan struct{}            // closed on cancel, unblocks block-policy publishers
	tenant string                   // "" = all tenants
	kinds  map[model.EventKind]bool // nil = all kinds
}

func (s *subscriber) wants(ev model.Event) bool {
	if s.tenant != "" && s.tenant != ev.TenantID {
		return false
	}
	if s.kinds != nil && !s.kinds[ev.Kind] {
		return false
	}
	return true
}

type Bus struct {
	mu        sync.RWMutex
	subs      map[int]*subscriber
	nextID    int
	buffer    int
	policy    Policy
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
	log       *zap.Logger
}

func New(buffer int, policy Policy, log *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 1024
	}
	if policy != PolicyBlock {
		policy = PolicyDrop
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
		policy: policy,
		done:   make(chan struct{}),
		log:    log,
	}
}

// SubscribeOption narrows what a subscription receives.
type SubscribeOption func(*subscriber)

// WithTenant limits the subscription to one tenant's events.
func WithTenant(tenantID string) SubscribeOption {
	return func(s *subscriber) { s.tenant = tenantID }
}

// WithKinds limits the subscription to the given event kinds.
func WithKinds(kinds ...model.EventKind) SubscribeOption {
	return func(s *subscriber) {
		s.kinds = make(map[model.EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
}

func (b *Bus) Subscribe(name string, opts ...SubscribeOption) *Subscription {
	sub := &subscriber{
		name: name,
		ch:   make(chan model.Event, b.buffer),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return &Subscription{
		C: sub.ch,
		cancel: func() {
			once.Do(func() {
				// done first: a block-policy publisher stuck on this
				// subscriber holds the read lock, so it must be released
				// before the write lock can be taken
				close(sub.done)
				b.mu.Lock()
				if !b.closed {
					delete(b.subs, id)
					close(sub.ch)
				}
				b.mu.Unlock()
			})
		},
	}
}

// Publish fans ev out to matching subscribers and counts it.
func (b *Bus) Publish(ev model.Event) {
	metrics.EventsTotal.WithLabelValues(ev.Kind.String()).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.wants(ev) {
			continue
		}
		if b.policy == PolicyBlock {
			select {
			case sub.ch <- ev:
			case <-sub.done:
			case <-b.done:
			}
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			metrics.EventsDropped.Inc()
			b.log.Warn("bus buffer full, dropping event",
				zap.String("subscriber", sub.name),
				zap.String("tenant", ev.TenantID),
				zap.String("kind", ev.Kind.String()))
		}
	}
}

// Close detaches all subscribers and closes their channels.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
