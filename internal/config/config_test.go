package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"genomeforge/internal/blob"
	"genomeforge/internal/infra/kv"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genomeforge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvFile, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.KV.Driver != kv.DriverMemory || cfg.Blob.Driver != blob.DriverFilesystem {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Limits.OracleRate != 20 || cfg.Limits.MaterialiseRate != 5 {
		t.Fatalf("unexpected limits %+v", cfg.Limits)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
  json: true
storage:
  driver: memory
blob:
  driver: s3
  s3:
    bucket: artifacts
    path_style: true
kv:
  driver: redis
  redis:
    addr: redis:6379
    db: 2
materialise:
  workers: 8
reconcile:
  interval: 30s
  min_age: 2h
`)
	t.Setenv(kv.EnvRedisAddr, "override:6380")
	t.Setenv(EnvWorkers, "3")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Blob.Driver != blob.DriverS3 || cfg.Blob.S3.Bucket != "artifacts" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("unexpected blob config %+v", cfg.Blob)
	}
	if cfg.KV.Redis.Addr != "override:6380" || cfg.KV.Redis.DB != 2 {
		t.Fatalf("expected env to override addr only, got %+v", cfg.KV.Redis)
	}
	if cfg.Materialise.Workers != 3 {
		t.Fatalf("expected 3 workers, got %d", cfg.Materialise.Workers)
	}
	if cfg.Reconcile.Interval != 30*time.Second || cfg.Reconcile.MinAge != 2*time.Hour {
		t.Fatalf("unexpected reconcile config %+v", cfg.Reconcile)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeFile(t, "storage:\n  driver: oracle\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("expected validation error, got %v", err)
	}
	path = writeFile(t, "storage:\n  driver: postgres\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected postgres without dsn to fail")
	}
	t.Setenv(EnvWorkers, "many")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), EnvWorkers) {
		t.Fatalf("expected parse error naming %s, got %v", EnvWorkers, err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := Load(missing); err == nil {
		t.Fatalf("expected explicit missing file to fail")
	}
	t.Setenv(EnvFile, missing)
	if _, err := Load(""); err != nil {
		t.Fatalf("expected env-named missing file to be ignored, got %v", err)
	}
}
