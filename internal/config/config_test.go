package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.BucketSize != 20 {
		t.Fatalf("bucket_size = %d, want 20", cfg.Routing.BucketSize)
	}
	if cfg.Bridge.Workers != 16 {
		t.Fatalf("workers = %d, want 16", cfg.Bridge.Workers)
	}
}

func TestLoadReadsExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	contents := "network:\n  listen_endpoint: 10.0.0.1:9000\nrouting:\n  bucket_size: 8\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.ListenEndpoint != "10.0.0.1:9000" {
		t.Fatalf("listen_endpoint = %q, want 10.0.0.1:9000", cfg.Network.ListenEndpoint)
	}
	if cfg.Routing.BucketSize != 8 {
		t.Fatalf("bucket_size = %d, want 8", cfg.Routing.BucketSize)
	}
}

func TestParseBootstrapList(t *testing.T) {
	peers, err := ParseBootstrapList([]byte("- 127.0.0.1:4030\n- 127.0.0.1:4031\n"))
	if err != nil {
		t.Fatalf("ParseBootstrapList: %v", err)
	}
	if len(peers) != 2 || peers[0] != "127.0.0.1:4030" {
		t.Fatalf("unexpected peers: %+v", peers)
	}
}

func TestMigrateLegacyConfig(t *testing.T) {
	raw := []byte("listen_endpoint: 127.0.0.1:4030\nbootstrap_peers:\n  - 127.0.0.1:5000\ndata_dir: /var/lib/neromon\n")
	cfg, err := MigrateLegacyConfig(raw)
	if err != nil {
		t.Fatalf("MigrateLegacyConfig: %v", err)
	}
	if cfg.Network.ListenEndpoint != "127.0.0.1:4030" || cfg.Storage.DataDir != "/var/lib/neromon" {
		t.Fatalf("unexpected migrated config: %+v", cfg)
	}
}
