package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	closed atomic.Bool
}

func (f *fakeConn) Send([]byte) error           { return nil }
func (f *fakeConn) Recv() ([]byte, error)       { return nil, nil }
func (f *fakeConn) SetDeadline(time.Time) error { return nil }
func (f *fakeConn) Close() error                { f.closed.Store(true); return nil }
func (f *fakeConn) RemoteEndpoint() string      { return "fake" }

type fakeDialer struct {
	dials atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.dials.Add(1)
	return &fakeConn{}, nil
}

func TestPoolIdempotentCreate(t *testing.T) {
	d := &fakeDialer{}
	p := NewPool(d)

	c1, err := p.Get(context.Background(), "ep-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c2, err := p.Get(context.Background(), "ep-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected the same cached connection for repeated Get")
	}
	if d.dials.Load() != 1 {
		t.Fatalf("expected exactly one dial, got %d", d.dials.Load())
	}
}

func TestPoolDropClosesAndEvicts(t *testing.T) {
	d := &fakeDialer{}
	p := NewPool(d)

	c1, _ := p.Get(context.Background(), "ep-1")
	p.Drop("ep-1")
	if !c1.(*fakeConn).closed.Load() {
		t.Fatalf("expected dropped connection to be closed")
	}

	c2, _ := p.Get(context.Background(), "ep-1")
	if c1 == c2 {
		t.Fatalf("expected a fresh connection after Drop")
	}
	if d.dials.Load() != 2 {
		t.Fatalf("expected a second dial after Drop, got %d", d.dials.Load())
	}
}

func TestPoolCloseAll(t *testing.T) {
	d := &fakeDialer{}
	p := NewPool(d)
	c1, _ := p.Get(context.Background(), "ep-1")
	c2, _ := p.Get(context.Background(), "ep-2")
	p.CloseAll()
	if !c1.(*fakeConn).closed.Load() || !c2.(*fakeConn).closed.Load() {
		t.Fatalf("expected all cached connections to be closed")
	}
}
