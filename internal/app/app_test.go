package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

func sqliteConfig(t *testing.T) Config {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "driftd.db"))
	t.Setenv("SCHEDULER", SchedulerOff)
	t.Setenv("AUTH_DISABLED", "true")
	cfg, err := LoadConfig(logger.Nop(), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	return cfg
}

func TestNewWiresSQLiteStack(t *testing.T) {
	cfg := sqliteConfig(t)
	ctx := context.Background()
	if err := Migrate(logger.Nop(), cfg); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	a, err := New(ctx, logger.Nop(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Clients.Redis != nil || a.Clients.Generator != nil {
		t.Fatalf("optional clients should be absent: %+v", a.Clients)
	}
	if failed := a.ScanOnce(ctx); failed != 0 {
		t.Fatalf("no sources declared, got %d failures", failed)
	}
	if n, err := a.SweepOnce(ctx); err != nil || n != 0 {
		t.Fatalf("SweepOnce = %d, %v", n, err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestScanKeyRefusesUndeclaredSource(t *testing.T) {
	cfg := sqliteConfig(t)
	a, err := New(context.Background(), logger.Nop(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if _, err := a.ScanKey(context.Background(), fingerprint.Key{TenantID: "t1", SourceID: "nope", Entity: "account"}); err == nil {
		t.Fatalf("expected error for undeclared source")
	}
}

func TestNewRejectsBadSourcesFile(t *testing.T) {
	cfg := sqliteConfig(t)
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte("sources:\n  - id: crm\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg.SourcesPath = path
	if _, err := New(context.Background(), logger.Nop(), cfg); err == nil {
		t.Fatalf("expected error for source without tenant_id")
	}
}
