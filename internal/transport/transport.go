// Package transport abstracts the datagram/stream socket factory spec 4.6
// and spec 1 describe as an external, overlay-agnostic collaborator: the
// core addresses peers purely by opaque endpoint strings and never assumes
// a specific network stack. The default implementation here dials and
// listens over net.Conn (TCP, or a unix socket for the client bridge); a
// Tor/I2P overlay can satisfy the same Dialer/Listener interfaces without
// any change to the protocol engine above it.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize bounds a single length-prefixed frame to guard against a
// malicious or corrupt peer claiming an enormous length.
const MaxFrameSize = 8 << 20 // 8 MiB, comfortably above the 4 MiB record cap.

// Conn is a request-scoped connection: one frame out, one frame back, per
// spec 4.6 ("Connections are request-scoped").
type Conn interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
	SetDeadline(t time.Time) error
	Close() error
	RemoteEndpoint() string
}

// Dialer opens an outbound connection to an opaque endpoint string.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Listener accepts inbound connections on a bound endpoint.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

// Factory is the overlay's socket factory: listen and dial, spec 4.6.
type Factory interface {
	Dialer
	Listen(endpoint string) (Listener, error)
}

// netConn adapts a net.Conn to the Conn interface with 4-byte
// big-endian length-prefixed framing (spec 4.6).
type netConn struct {
	c net.Conn
}

func (nc *netConn) Send(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("transport: frame of %d bytes exceeds max %d", len(frame), MaxFrameSize)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := nc.c.Write(hdr[:]); err != nil {
		return err
	}
	_, err := nc.c.Write(frame)
	return err
}

func (nc *netConn) Recv() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(nc.c, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("transport: peer announced frame of %d bytes, exceeds max %d", n, MaxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(nc.c, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (nc *netConn) SetDeadline(t time.Time) error { return nc.c.SetDeadline(t) }
func (nc *netConn) Close() error                  { return nc.c.Close() }
func (nc *netConn) RemoteEndpoint() string        { return nc.c.RemoteAddr().String() }

// NetFactory implements Factory over the standard library's net package.
// network is "tcp" for peer-to-peer endpoints or "unix" for the local
// client bridge socket.
type NetFactory struct {
	Network string
}

func (f NetFactory) Dial(ctx context.Context, endpoint string) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, f.network(), endpoint)
	if err != nil {
		return nil, err
	}
	return &netConn{c: c}, nil
}

func (f NetFactory) Listen(endpoint string) (Listener, error) {
	l, err := net.Listen(f.network(), endpoint)
	if err != nil {
		return nil, err
	}
	return &netListener{l: l}, nil
}

func (f NetFactory) network() string {
	if f.Network == "" {
		return "tcp"
	}
	return f.Network
}

type netListener struct {
	l net.Listener
}

func (nl *netListener) Accept() (Conn, error) {
	c, err := nl.l.Accept()
	if err != nil {
		return nil, err
	}
	return &netConn{c: c}, nil
}

func (nl *netListener) Close() error { return nl.l.Close() }
func (nl *netListener) Addr() string { return nl.l.Addr().String() }
