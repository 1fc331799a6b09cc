package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.TriggerInterval != 10*time.Second {
		t.Errorf("TriggerInterval = %v, want 10s", cfg.Engine.TriggerInterval)
	}
	if cfg.Engine.DetectionBatchSize != 50 {
		t.Errorf("DetectionBatchSize = %d, want 50", cfg.Engine.DetectionBatchSize)
	}
	if cfg.Engine.MerchantTxnLimit != 50000 {
		t.Errorf("MerchantTxnLimit = %d, want 50000", cfg.Engine.MerchantTxnLimit)
	}
	if cfg.Engine.AvgAmountLimit != 23.0 {
		t.Errorf("AvgAmountLimit = %v, want 23.0", cfg.Engine.AvgAmountLimit)
	}
	if cfg.Engine.MinTxnCount != 80 {
		t.Errorf("MinTxnCount = %d, want 80", cfg.Engine.MinTxnCount)
	}
	if cfg.Redis.KeyPrefix != "merchant:txncount:" {
		t.Errorf("KeyPrefix = %q", cfg.Redis.KeyPrefix)
	}
	if cfg.Postgres.DSN() == "" {
		t.Error("empty postgres DSN")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
engine:
  streamId: test-stream
  triggerInterval: 2s
  detectionBatchSize: 10
chunks:
  dir: /var/chunks
postgres:
  host: db.internal
  port: 5433
logging:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.StreamID != "test-stream" {
		t.Errorf("StreamID = %q", cfg.Engine.StreamID)
	}
	if cfg.Engine.TriggerInterval != 2*time.Second {
		t.Errorf("TriggerInterval = %v", cfg.Engine.TriggerInterval)
	}
	if cfg.Engine.DetectionBatchSize != 10 {
		t.Errorf("DetectionBatchSize = %d", cfg.Engine.DetectionBatchSize)
	}
	if cfg.Chunks.Dir != "/var/chunks" {
		t.Errorf("Chunks.Dir = %q", cfg.Chunks.Dir)
	}
	if cfg.Postgres.Host != "db.internal" || cfg.Postgres.Port != 5433 {
		t.Errorf("Postgres = %s:%d", cfg.Postgres.Host, cfg.Postgres.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	// Unset fields keep their defaults.
	if cfg.Engine.MerchantTxnLimit != 50000 {
		t.Errorf("MerchantTxnLimit = %d, want default 50000", cfg.Engine.MerchantTxnLimit)
	}
	if cfg.Output.Dir != "data/detections" {
		t.Errorf("Output.Dir = %q, want default", cfg.Output.Dir)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FD_STREAM_ID", "env-stream")
	t.Setenv("FD_TRIGGER_INTERVAL", "500ms")
	t.Setenv("FD_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("FD_KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("FD_KAFKA_ENABLED", "false")
	t.Setenv("FD_POSTGRES_PORT", "15432")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.StreamID != "env-stream" {
		t.Errorf("StreamID = %q", cfg.Engine.StreamID)
	}
	if cfg.Engine.TriggerInterval != 500*time.Millisecond {
		t.Errorf("TriggerInterval = %v", cfg.Engine.TriggerInterval)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b2:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Enabled {
		t.Error("Kafka.Enabled should be false")
	}
	if cfg.Postgres.Port != 15432 {
		t.Errorf("Postgres.Port = %d", cfg.Postgres.Port)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  streamId: file-stream\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FD_STREAM_ID", "env-stream")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.StreamID != "env-stream" {
		t.Errorf("StreamID = %q, want env-stream", cfg.Engine.StreamID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
