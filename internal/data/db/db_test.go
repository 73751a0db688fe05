package db

import (
	"testing"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
)

func TestAutoMigrateOnSQLite(t *testing.T) {
	gdb, err := OpenSQLite("file::memory:", nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrateAll(gdb); err != nil {
		t.Fatalf("AutoMigrateAll: %v", err)
	}
	for _, model := range []any{&domain.Fingerprint{}, &domain.DriftTicket{}, &domain.MappingEntry{}, &domain.ReviewItem{}, &domain.GateDecision{}, &domain.KnowledgeEntry{}} {
		if !gdb.Migrator().HasTable(model) {
			t.Fatalf("missing table for %T", model)
		}
	}
	if !gdb.Migrator().HasIndex(&domain.MappingEntry{}, "idx_mapping_active") {
		t.Fatalf("expected partial unique index idx_mapping_active")
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := Config{User: "u", Password: "p", Host: "h", Port: "5432", Name: "n"}
	if got := cfg.PostgresDSN(); got != "postgres://u:p@h:5432/n?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(nil, Config{Driver: "oracle"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
