package transport

import (
	"context"
	"sync"
)

// Pool is the outbound connection cache of spec 5: "a lock-free map keyed
// by endpoint; entries are idempotently created." sync.Map gives the
// idempotent-create semantics (LoadOrStore) without a caller-visible lock.
type Pool struct {
	dialer Dialer
	conns  sync.Map // endpoint -> Conn
}

// NewPool builds a connection cache backed by the given dialer.
func NewPool(dialer Dialer) *Pool {
	return &Pool{dialer: dialer}
}

// Get returns a cached connection for endpoint, dialing one if absent.
// Concurrent callers racing to create the same endpoint's connection both
// dial, but only one dial result is kept; the loser's connection is closed.
func (p *Pool) Get(ctx context.Context, endpoint string) (Conn, error) {
	if v, ok := p.conns.Load(endpoint); ok {
		return v.(Conn), nil
	}
	c, err := p.dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	actual, loaded := p.conns.LoadOrStore(endpoint, c)
	if loaded {
		_ = c.Close()
	}
	return actual.(Conn), nil
}

// Drop closes and evicts the cached connection for endpoint, if any. Called
// when a peer-RPC fails so the next attempt dials fresh.
func (p *Pool) Drop(endpoint string) {
	if v, ok := p.conns.LoadAndDelete(endpoint); ok {
		_ = v.(Conn).Close()
	}
}

// CloseAll closes every cached connection, used on daemon shutdown.
func (p *Pool) CloseAll() {
	p.conns.Range(func(key, value any) bool {
		_ = value.(Conn).Close()
		p.conns.Delete(key)
		return true
	})
}
