package storage

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{BucketName: "test-bucket"}
	cfg.applyDefaults()

	if cfg.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.RetryAttempts)
	}
	if cfg.UploadTimeout != 10*time.Minute {
		t.Errorf("UploadTimeout = %v, want 10m", cfg.UploadTimeout)
	}
	if cfg.StorageClass != "STANDARD" {
		t.Errorf("StorageClass = %q, want STANDARD", cfg.StorageClass)
	}
}

func TestConfigApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{BucketName: "b", RetryAttempts: 5, StorageClass: "GLACIER"}
	cfg.applyDefaults()

	if cfg.RetryAttempts != 5 {
		t.Errorf("RetryAttempts = %d, want 5", cfg.RetryAttempts)
	}
	if cfg.StorageClass != "GLACIER" {
		t.Errorf("StorageClass = %q, want GLACIER", cfg.StorageClass)
	}
}

func TestArchiveKeyStructure(t *testing.T) {
	m := &Mirror{config: Config{KeyPrefix: "test-prefix/"}}
	at := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	key := m.ArchiveKey("naive", 1024, at)

	if !strings.HasPrefix(key, "test-prefix/archive/2026/03/05/naive/1024/") {
		t.Errorf("unexpected key prefix: %s", key)
	}
	if !strings.HasSuffix(key, ".bin") {
		t.Errorf("expected key to end with .bin, got: %s", key)
	}
}

func TestSessionKeyStructure(t *testing.T) {
	m := &Mirror{config: Config{KeyPrefix: "test-prefix/"}}
	at := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	key := m.SessionKey(at)

	if !strings.HasPrefix(key, "test-prefix/session/2026/03/05/") {
		t.Errorf("unexpected key prefix: %s", key)
	}
	if !strings.HasSuffix(key, ".jsonl") {
		t.Errorf("expected key to end with .jsonl, got: %s", key)
	}
}

func TestNewConstructsFromDefaultConfig(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx, Config{BucketName: "test-bucket"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.client == nil {
		t.Fatal("client should not be nil")
	}
	if m.config.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want default 3", m.config.RetryAttempts)
	}
}
