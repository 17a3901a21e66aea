package broker

import (
	"context"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/linebroker/pkg/uuidx"
)

// LocalHub links brokers that live in the same process. Every relay created
// from the hub sees the messages forwarded by the others.
type LocalHub struct {
	relays *haxmap.Map[string, *localRelay]
}

// Local creates an empty hub.
func Local() *LocalHub {
	return &LocalHub{
		relays: haxmap.New[string, *localRelay](),
	}
}

// Relay attaches a new broker to the hub.
func (h *LocalHub) Relay() Relay {
	r := &localRelay{
		origin: uuidx.NewString(),
		hub:    h,
	}
	h.relays.Set(r.origin, r)
	return r
}

type localRelay struct {
	origin string
	hub    *LocalHub

	mu      sync.RWMutex
	closed  bool
	ctx     context.Context
	inbound InboundFunc
}

func (r *localRelay) Forward(ctx context.Context, msg Message) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrRelayClosed
	}

	env := newEnvelope(r.origin, msg)
	r.hub.relays.ForEach(func(id string, peer *localRelay) bool {
		if id != r.origin && peer != nil {
			peer.deliver(env)
		}
		return true
	})
	return nil
}

func (r *localRelay) deliver(env Envelope) {
	r.mu.RLock()
	fn, ctx, closed := r.inbound, r.ctx, r.closed
	r.mu.RUnlock()
	if closed || fn == nil || env.Origin == r.origin {
		return
	}
	fn(ctx, env.Message())
}

func (r *localRelay) Listen(ctx context.Context, fn InboundFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRelayClosed
	}
	r.ctx = ctx
	r.inbound = fn
	return nil
}

func (r *localRelay) Close() error {
	r.mu.Lock()
	r.closed = true
	r.inbound = nil
	r.mu.Unlock()
	r.hub.relays.Del(r.origin)
	return nil
}
