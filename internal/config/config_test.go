package config_test

import (
	"testing"

	"transfer-monitor/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != "0.0.0.0:8080" {
		t.Errorf("server addr = %q, want 0.0.0.0:8080", cfg.Server.Addr)
	}
	if cfg.Database.Path != "data/monitor.db" {
		t.Errorf("database path = %q, want data/monitor.db", cfg.Database.Path)
	}
	if cfg.Monitor.TickSeconds != 2 {
		t.Errorf("tick seconds = %d, want 2", cfg.Monitor.TickSeconds)
	}
	if cfg.Monitor.MaxConcurrent != 3 {
		t.Errorf("max concurrent = %d, want 3", cfg.Monitor.MaxConcurrent)
	}
	if cfg.Monitor.GatherPeers {
		t.Error("peer gathering should default off")
	}
	if cfg.Monitor.PrebufferPieces != 8 {
		t.Errorf("prebuffer pieces = %d, want 8", cfg.Monitor.PrebufferPieces)
	}
	if cfg.Storage.KeyPrefix != "transfer-reports" {
		t.Errorf("key prefix = %q, want transfer-reports", cfg.Storage.KeyPrefix)
	}
	if cfg.Auth.TokenTTLMinutes != 720 {
		t.Errorf("token ttl = %d, want 720", cfg.Auth.TokenTTLMinutes)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MONITOR_SERVER_ADDR", "127.0.0.1:9999")
	t.Setenv("MONITOR_MONITOR_GATHERPEERS", "true")
	t.Setenv("MONITOR_STORAGE_BUCKET", "reports-bucket")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("server addr = %q, want override", cfg.Server.Addr)
	}
	if !cfg.Monitor.GatherPeers {
		t.Error("gather peers override not applied")
	}
	if cfg.Storage.Bucket != "reports-bucket" {
		t.Errorf("bucket = %q, want reports-bucket", cfg.Storage.Bucket)
	}
}
