package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg := Load()
	if cfg.ServerAddr != ":3000" {
		t.Fatalf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.Snapshot.Path != "./chat.db.json" {
		t.Fatalf("Snapshot.Path = %q", cfg.Snapshot.Path)
	}
	if cfg.Snapshot.Interval != 5*time.Second {
		t.Fatalf("Snapshot.Interval = %v", cfg.Snapshot.Interval)
	}
	if cfg.WSMaxMessageSize != 1<<20 {
		t.Fatalf("WSMaxMessageSize = %d", cfg.WSMaxMessageSize)
	}
	if cfg.RelayHost != "localhost:3000" {
		t.Fatalf("RelayHost = %q", cfg.RelayHost)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := []byte("server_addr: \":4000\"\nsnapshot_path: /var/lib/chat.db.json\nsnapshot_interval: 30\nrelay_host: chat.example.com:4000\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg := Load()
	if cfg.ServerAddr != ":4000" {
		t.Fatalf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.Snapshot.Path != "/var/lib/chat.db.json" {
		t.Fatalf("Snapshot.Path = %q", cfg.Snapshot.Path)
	}
	if cfg.Snapshot.Interval != 30*time.Second {
		t.Fatalf("Snapshot.Interval = %v", cfg.Snapshot.Interval)
	}
	if cfg.RelayHost != "chat.example.com:4000" {
		t.Fatalf("RelayHost = %q", cfg.RelayHost)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("server_addr: \":4000\"\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SERVER_ADDR", ":5000")
	t.Setenv("SNAPSHOT_INTERVAL", "2")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg := Load()
	if cfg.ServerAddr != ":5000" {
		t.Fatalf("env must beat yaml: ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.Snapshot.Interval != 2*time.Second {
		t.Fatalf("Snapshot.Interval = %v", cfg.Snapshot.Interval)
	}
	if cfg.Snapshot.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("Snapshot.RedisURL = %q", cfg.Snapshot.RedisURL)
	}
}

func TestSnapshotIntervalFloor(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("SNAPSHOT_INTERVAL", "0")

	cfg := Load()
	if cfg.Snapshot.Interval != 5*time.Second {
		t.Fatalf("non-positive interval must fall back to 5s, got %v", cfg.Snapshot.Interval)
	}
}

func TestEnvIntRejectsGarbage(t *testing.T) {
	t.Setenv("MAX_WS_CONNECTIONS", "not-a-number")
	if got := envInt("MAX_WS_CONNECTIONS", 7); got != 7 {
		t.Fatalf("envInt = %d, want fallback 7", got)
	}
}
