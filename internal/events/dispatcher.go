// Package events implements the in-process order event dispatcher.
//
// The primary store publishes an event strictly after the mutation commits.
// Delivery is at-most-once and not persisted. Handlers for the same order run
// one at a time in emission order; handlers for different orders run
// concurrently.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sha1n/order-index/internal/domain"
	"github.com/sha1n/order-index/internal/perkey"
)

// Type is the kind of mutation an event reports.
type Type string

const (
	Created  Type = "created"
	Updated  Type = "updated"
	Canceled Type = "canceled"
	Deleted  Type = "deleted"
)

// ErrHandlerRegistered is returned when a second handler is subscribed to a type.
var ErrHandlerRegistered = errors.New("handler already registered for event type")

// Event carries a copy of the committed order snapshot.
type Event struct {
	Type      Type
	OrderID   string
	Order     domain.Order
	EmittedAt time.Time
}

// Handler reacts to one event. A returned error is logged by the dispatcher.
type Handler func(ctx context.Context, evt Event) error

// Dispatcher routes published events to the single handler registered for
// their type, serialized per order UUID.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
	sched    *perkey.Scheduler[string]
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. bufferSize is the initial per-order
// queue capacity.
func NewDispatcher(logger *slog.Logger, bufferSize int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		handlers: make(map[Type]Handler),
		logger:   logger,
	}
	d.sched = perkey.New[string](
		perkey.WithBufferSize(bufferSize),
		perkey.WithErrorHandler(func(key any, err error) {
			d.logger.Error("Event handler failed", "order_id", key, "error", err)
		}),
	)
	return d
}

// Subscribe registers h for t. Exactly one handler per type is allowed.
func (d *Dispatcher) Subscribe(t Type, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler for %q cannot be nil", t)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[t]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerRegistered, t)
	}
	d.handlers[t] = h
	return nil
}

// Publish hands a snapshot of order to the handler for t and returns without
// waiting. The handler runs detached from ctx cancellation so a finished
// request does not abort its projection.
func (d *Dispatcher) Publish(ctx context.Context, t Type, order domain.Order) error {
	d.mu.RLock()
	h, ok := d.handlers[t]
	d.mu.RUnlock()
	if !ok {
		d.logger.Debug("No handler for event, dropping", "event", t, "order_id", order.UUID)
		return nil
	}

	evt := Event{
		Type:      t,
		OrderID:   order.UUID,
		Order:     order.Clone(),
		EmittedAt: time.Now().UTC(),
	}
	hctx := context.WithoutCancel(ctx)
	return d.sched.Go(ctx, evt.OrderID, func() error {
		return h(hctx, evt)
	})
}

// Serialize runs fn in the same per-order lane as event handlers and waits
// for it. Reconciliation replays use it so they never interleave with a
// live event for the same order.
func (d *Dispatcher) Serialize(ctx context.Context, orderID string, fn func() error) error {
	return d.sched.DoContext(ctx, orderID, fn)
}

// Wait blocks until all dispatched handlers have finished.
func (d *Dispatcher) Wait() {
	d.sched.Wait()
}

// Close stops accepting events and drains queued handlers.
func (d *Dispatcher) Close() {
	if n := d.sched.ActiveKeys(); n > 0 {
		d.logger.Info("Draining dispatcher", "active_orders", n)
	}
	d.sched.Close()
}
