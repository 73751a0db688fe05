package gemini

import (
	"strings"
	"testing"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

func TestParseObjectStripsFences(t *testing.T) {
	obj, err := parseObject("```json\n{\"canonical_field\":\"tier\"}\n```")
	if err != nil {
		t.Fatalf("parseObject: %v", err)
	}
	if obj["canonical_field"] != "tier" {
		t.Fatalf("unexpected %#v", obj)
	}
	if _, err := parseObject("  "); err == nil {
		t.Fatalf("expected error for empty text")
	}
}

func TestWithSchemaEmbedsSchema(t *testing.T) {
	got, err := withSchema("sys", "mapping", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("withSchema: %v", err)
	}
	if !strings.Contains(got, `"type":"object"`) || !strings.HasPrefix(got, "sys") {
		t.Fatalf("unexpected instruction %q", got)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(logger.Nop(), Config{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
