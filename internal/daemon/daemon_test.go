package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"neromon/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	var cfg config.Config
	cfg.Network.ListenEndpoint = "127.0.0.1:0"
	cfg.Storage.DataDir = dir
	cfg.Bridge.SocketPath = filepath.Join(dir, "neromon.sock")
	cfg.Routing.BucketSize = 20
	cfg.Routing.ReplicationFactor = 20
	cfg.Bridge.Workers = 4
	cfg.Logging.Level = "error"
	return &cfg
}

func TestNewWiresAllCollaborators(t *testing.T) {
	d, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if d.Node == nil || d.Store == nil || d.Index == nil || d.Bridge == nil {
		t.Fatalf("expected every collaborator to be constructed, got %+v", d)
	}
}

func TestRunReturnsCleanlyOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	// Listen on a real, distinct port so the peer listener can bind.
	cfg.Network.ListenEndpoint = "127.0.0.1:18090"

	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Give Run time to bind its listeners before tearing down.
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestDebugRouterHealthz(t *testing.T) {
	d, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	srv := &http.Server{Handler: d.debugRouter()}
	go srv.Serve(ln)
	t.Cleanup(func() { _ = srv.Close() })

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q, want 200 ok", resp.StatusCode, body)
	}

	resp2, err := http.Get("http://" + ln.Addr().String() + "/debug/status")
	if err != nil {
		t.Fatalf("GET /debug/status: %v", err)
	}
	defer resp2.Body.Close()
	var status struct {
		Host string `json:"host"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
}
