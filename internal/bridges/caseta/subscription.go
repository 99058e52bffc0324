package caseta

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Handler receives decoded frames from a Bridge.
//
// HandleFrame is called from the bridge's read loop. Frames arrive in wire
// order and handlers run one after another, so a slow handler delays every
// handler registered after it.
type Handler interface {
	HandleFrame(ctx context.Context, f Frame) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, f Frame) error

// HandleFrame calls fn(ctx, f).
func (fn HandlerFunc) HandleFrame(ctx context.Context, f Frame) error {
	return fn(ctx, f)
}

// Subscription identifies a registered handler. Pass it to Unsubscribe to
// stop delivery.
type Subscription struct {
	ID uint64
}

// subscriptionIDs is shared by all registries so handles never collide
// across bridges.
var subscriptionIDs atomic.Uint64

type entry struct {
	id      uint64
	handler Handler
}

// Registry holds frame handlers in registration order.
//
// Thread Safety: All methods are safe for concurrent use. Dispatch works on
// a snapshot, so handlers may subscribe or unsubscribe while a frame is
// being delivered; the change applies from the next frame.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe registers h and returns its handle.
func (r *Registry) Subscribe(h Handler) Subscription {
	id := subscriptionIDs.Add(1)

	r.mu.Lock()
	r.entries = append(r.entries, entry{id: id, handler: h})
	r.mu.Unlock()

	return Subscription{ID: id}
}

// SubscribeFunc registers fn and returns its handle.
func (r *Registry) SubscribeFunc(fn func(ctx context.Context, f Frame) error) Subscription {
	return r.Subscribe(HandlerFunc(fn))
}

// Unsubscribe removes the handler registered under sub.
// Returns false if sub was not registered (or was already removed).
func (r *Registry) Unsubscribe(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == sub.ID {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Dispatch delivers f to every handler in registration order, waiting for
// each to return before calling the next.
//
// A handler that returns an error or panics does not stop delivery to the
// remaining handlers. All failures are returned joined, each wrapping
// ErrDispatchFailed; nil means every handler succeeded.
func (r *Registry) Dispatch(ctx context.Context, f Frame) error {
	r.mu.RLock()
	snapshot := make([]entry, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.RUnlock()

	var errs []error
	for _, e := range snapshot {
		if err := invoke(ctx, e.handler, f); err != nil {
			errs = append(errs, fmt.Errorf("%w: subscription %d: %w", ErrDispatchFailed, e.id, err))
		}
	}
	return errors.Join(errs...)
}

// invoke calls a single handler, converting a panic into an error.
func invoke(ctx context.Context, h Handler, f Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.HandleFrame(ctx, f)
}
