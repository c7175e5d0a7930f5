package stomp

import (
	"context"
	"sync"
)

// Registry tracks the single active room subscription of a session. A
// session listens to at most one room topic at a time: switching rooms
// tears down the previous subscription before the new one goes live, so no
// frame is ever routed to two live room contexts.
type Registry struct {
	conn *Conn

	mu     sync.Mutex
	active *Subscription
}

// NewRegistry builds a registry bound to one connection.
func NewRegistry(conn *Conn) *Registry {
	return &Registry{conn: conn}
}

// Switch replaces the active subscription with one for destination. The old
// subscription is gone even if the new subscribe fails or is cancelled.
func (r *Registry) Switch(ctx context.Context, destination string, h Handler) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		r.conn.Unsubscribe(r.active)
		r.active = nil
	}

	sub, err := r.conn.Subscribe(ctx, destination, h)
	if err != nil {
		return nil, err
	}
	r.active = sub
	return sub, nil
}

// Clear drops the active subscription if any. Idempotent.
func (r *Registry) Clear() {
	r.mu.Lock()
	sub := r.active
	r.active = nil
	r.mu.Unlock()

	if sub != nil {
		r.conn.Unsubscribe(sub)
	}
}

// Active returns the current subscription, or nil.
func (r *Registry) Active() *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
