// Package sources declares which (tenant, source, entity) keys are scanned
// and builds the connector reader for each.
package sources

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
)

const (
	KindPostgres = "postgres"
	// KindPush sources send snapshots over HTTP and are never polled.
	KindPush = "push"
)

type EntitySpec struct {
	Name string `yaml:"name"`
	// Table defaults to Name.
	Table string `yaml:"table"`
	// Target is the canonical entity this source entity maps onto.
	Target canonical.Entity `yaml:"target"`
}

type Source struct {
	TenantID string       `yaml:"tenant_id"`
	ID       string       `yaml:"id"`
	Kind     string       `yaml:"kind"`
	DSN      string       `yaml:"dsn"`
	Schema   string       `yaml:"schema"`
	Entities []EntitySpec `yaml:"entities"`
}

func (s *Source) Entity(name string) (*EntitySpec, bool) {
	for i := range s.Entities {
		if s.Entities[i].Name == name {
			return &s.Entities[i], true
		}
	}
	return nil, false
}

type Registry struct {
	sources map[string]*Source
}

type document struct {
	Sources []*Source `yaml:"sources"`
}

func sourceKey(tenantID, sourceID string) string { return tenantID + "|" + sourceID }

// Load parses a sources file. DSNs may reference environment variables as
// ${NAME}.
func Load(r io.Reader) (*Registry, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	reg := &Registry{sources: map[string]*Source{}}
	for _, s := range doc.Sources {
		if s == nil {
			continue
		}
		if strings.TrimSpace(s.TenantID) == "" || strings.TrimSpace(s.ID) == "" {
			return nil, fmt.Errorf("source requires tenant_id and id")
		}
		switch s.Kind {
		case "":
			s.Kind = KindPush
		case KindPush, KindPostgres:
		default:
			return nil, fmt.Errorf("source %s: unknown kind %q", s.ID, s.Kind)
		}
		if s.Kind == KindPostgres && strings.TrimSpace(s.DSN) == "" {
			return nil, fmt.Errorf("source %s: postgres source requires dsn", s.ID)
		}
		s.DSN = os.ExpandEnv(s.DSN)
		for i := range s.Entities {
			e := &s.Entities[i]
			if e.Name == "" {
				return nil, fmt.Errorf("source %s: entity without name", s.ID)
			}
			if e.Table == "" {
				e.Table = e.Name
			}
			if e.Target != "" {
				if _, err := canonical.NewPayload(e.Target); err != nil {
					return nil, fmt.Errorf("source %s entity %s: %w", s.ID, e.Name, err)
				}
			}
		}
		k := sourceKey(s.TenantID, s.ID)
		if _, dup := reg.sources[k]; dup {
			return nil, fmt.Errorf("duplicate source %s for tenant %s", s.ID, s.TenantID)
		}
		reg.sources[k] = s
	}
	return reg, nil
}

// LoadFile reads path; an empty path yields an empty registry.
func LoadFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return &Registry{sources: map[string]*Source{}}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func (r *Registry) Lookup(tenantID, sourceID string) (*Source, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.sources[sourceKey(tenantID, sourceID)]
	return s, ok
}

// Target returns the declared canonical entity for a key, or "" when none is declared.
func (r *Registry) Target(tenantID, sourceID, entity string) canonical.Entity {
	s, ok := r.Lookup(tenantID, sourceID)
	if !ok {
		return ""
	}
	e, ok := s.Entity(entity)
	if !ok {
		return ""
	}
	return e.Target
}

// PolledKeys lists every key of every non-push source in stable order.
func (r *Registry) PolledKeys() []fingerprint.Key {
	if r == nil {
		return nil
	}
	var out []fingerprint.Key
	for _, s := range r.sources {
		if s.Kind == KindPush {
			continue
		}
		for _, e := range s.Entities {
			out = append(out, fingerprint.Key{TenantID: s.TenantID, SourceID: s.ID, Entity: e.Name})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.Entity < b.Entity
	})
	return out
}
