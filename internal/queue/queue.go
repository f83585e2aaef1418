// Package queue provides the per-tenant bounded FIFO outbound message queue.
// Enqueue never blocks; the supervisor drain loop consumes the head with
// Next/Ack so an in-flight message survives a reconnect without losing its
// place.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/nexwire/chatgate/internal/model"
)

var (
	// ErrFull is the backpressure signal: the caller must retry later.
	ErrFull = errors.New("outbound queue at capacity")
	// ErrClosed rejects enqueues once the tenant's session is terminally closed.
	ErrClosed = errors.New("outbound queue closed")
)

type Queue struct {
	mu       sync.Mutex
	items    []*model.OutboundMessage
	capacity int
	closed   bool
	notify   chan struct{}
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue appends m and returns immediately. ErrFull and ErrClosed are the
// only rejection reasons.
func (q *Queue) Enqueue(m *model.OutboundMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if len(q.items) >= q.capacity {
		return ErrFull
	}
	q.items = append(q.items, m)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Next blocks until a head message is available and returns it without
// removing it. The caller removes it with Ack after the send either succeeds
// or exhausts its retry budget.
func (q *Queue) Next(ctx context.Context) (*model.OutboundMessage, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			head := q.items[0]
			q.mu.Unlock()
			return head, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Ack removes the head message. It is a no-op if the head does not match id,
// which can only happen if the queue was closed and drained concurrently.
func (q *Queue) Ack(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 && q.items[0].ID == id {
		q.items = q.items[1:]
	}
}

// Close rejects all future enqueues and returns the messages still pending,
// so the caller can report them as failed.
func (q *Queue) Close() []*model.OutboundMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	pending := q.items
	q.items = nil

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return pending
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
