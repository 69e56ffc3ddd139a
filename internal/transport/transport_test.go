package transport

import (
	"context"
	"testing"
	"time"
)

func TestListenDialRoundTrip(t *testing.T) {
	f := NetFactory{Network: "tcp"}
	ln, err := f.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		accepted <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := f.Dial(ctx, ln.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	server := <-accepted
	defer server.Close()
	frame, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(frame) != "hello" {
		t.Fatalf("frame = %q, want %q", frame, "hello")
	}
}

func TestSendRejectsOversizedFrame(t *testing.T) {
	f := NetFactory{Network: "tcp"}
	ln, err := f.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := f.Dial(ctx, ln.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	oversized := make([]byte, MaxFrameSize+1)
	if err := client.Send(oversized); err == nil {
		t.Fatalf("expected Send to reject an oversized frame client-side")
	}
}
