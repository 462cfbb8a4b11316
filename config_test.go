package kache

import (
	"os"
	"testing"
)

func TestDefaultConfigMatchesSpecConstants(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ExpireWorkMax != 2000 {
		t.Log("expected EXPIRE_WORK_MAX 2000, got", cfg.ExpireWorkMax)
		t.FailNow()
	}
	if cfg.LargeContainerThreshold != 1000 {
		t.Log("expected LARGE_CONTAINER_THRESHOLD 1000, got", cfg.LargeContainerThreshold)
		t.FailNow()
	}
	if cfg.ZqueryMax != 10000 {
		t.Log("expected ZQUERY_MAX 10000, got", cfg.ZqueryMax)
		t.FailNow()
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "kache-*.toml")
	if err != nil {
		t.Log("failed to create temp config", err)
		t.FailNow()
	}
	if _, err := f.WriteString("ListenAddr = \"127.0.0.1:9999\"\nThreadPoolSize = 8\n"); err != nil {
		t.Log("failed to write temp config", err)
		t.FailNow()
	}
	f.Close()

	cfg, err := LoadConfig(f.Name())
	if err != nil {
		t.Log("unexpected error loading config", err)
		t.FailNow()
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Log("expected overridden listen addr, got", cfg.ListenAddr)
		t.FailNow()
	}
	if cfg.ThreadPoolSize != 8 {
		t.Log("expected overridden thread pool size, got", cfg.ThreadPoolSize)
		t.FailNow()
	}
	if cfg.ExpireWorkMax != 2000 {
		t.Log("expected un-set field to keep its default, got", cfg.ExpireWorkMax)
		t.FailNow()
	}
}

func TestLoadConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Log("unexpected error", err)
		t.FailNow()
	}
	if cfg.ListenAddr != DefaultConfig().ListenAddr {
		t.Log("expected default listen addr")
		t.FailNow()
	}
}
