package pgcatalog

import (
	"context"
	"os"
	"testing"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

func TestNormalizeType(t *testing.T) {
	cases := map[string]string{
		"uuid":                        "uuid",
		"character varying":           "string",
		"text":                        "string",
		"bigint":                      "integer",
		"numeric":                     "number",
		"double precision":            "number",
		"timestamp without time zone": "timestamp",
		"date":                        "timestamp",
		"jsonb":                       "object",
		"ARRAY":                       "array",
		"boolean":                     "boolean",
	}
	for in, want := range cases {
		if got := NormalizeType(in); got != want {
			t.Fatalf("NormalizeType(%q)=%q want %q", in, got, want)
		}
	}
}

func TestColumnsAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := Open(ctx, logger.Nop(), dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	cols, err := c.Columns(ctx, "information_schema", "columns")
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if len(cols) == 0 {
		t.Fatalf("expected columns")
	}
	if _, err := c.Columns(ctx, "public", "definitely_missing_table_xyz"); err == nil {
		t.Fatalf("expected error for missing table")
	}
}
