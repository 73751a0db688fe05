// Package contract loads the per-entity canonical contracts that drive both
// the validator and the similarity seed index.
package contract

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
)

//go:embed contracts.yaml
var defaultContracts []byte

type FieldType string

const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeInteger   FieldType = "integer"
	TypeBoolean   FieldType = "boolean"
	TypeTimestamp FieldType = "timestamp"
)

type FieldSpec struct {
	Name        string    `yaml:"name"`
	Type        FieldType `yaml:"type"`
	Required    bool      `yaml:"required"`
	Min         *float64  `yaml:"min"`
	Max         *float64  `yaml:"max"`
	Clamp       bool      `yaml:"clamp"`
	NonNegative bool      `yaml:"non_negative"`
	Enum        []string  `yaml:"enum"`
	Format      string    `yaml:"format"`
	Aliases     []string  `yaml:"aliases"`
}

// Bounded reports whether the field has a numeric range.
func (f *FieldSpec) Bounded() bool {
	return f != nil && (f.Min != nil || f.Max != nil)
}

// ClampValue pins v into [Min, Max] when the field is declared clampable.
func (f *FieldSpec) ClampValue(v float64) float64 {
	if f == nil || !f.Clamp {
		return v
	}
	if f.Min != nil && v < *f.Min {
		v = *f.Min
	}
	if f.Max != nil && v > *f.Max {
		v = *f.Max
	}
	return v
}

type EntityContract struct {
	Entity canonical.Entity `yaml:"entity"`
	Key    string           `yaml:"key"`
	Fields []FieldSpec      `yaml:"fields"`

	byName map[string]*FieldSpec
}

func (c *EntityContract) Field(name string) (*FieldSpec, bool) {
	if c == nil {
		return nil, false
	}
	f, ok := c.byName[name]
	return f, ok
}

type Set struct {
	entities map[canonical.Entity]*EntityContract
}

type document struct {
	Entities []*EntityContract `yaml:"entities"`
}

func Load(r io.Reader) (*Set, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode contracts: %w", err)
	}
	set := &Set{entities: map[canonical.Entity]*EntityContract{}}
	for _, ec := range doc.Entities {
		if ec == nil || ec.Entity == "" {
			return nil, fmt.Errorf("contract without entity")
		}
		if _, err := canonical.NewPayload(ec.Entity); err != nil {
			return nil, err
		}
		if _, dup := set.entities[ec.Entity]; dup {
			return nil, fmt.Errorf("duplicate contract for %s", ec.Entity)
		}
		if ec.Key == "" {
			ec.Key = "id"
		}
		ec.byName = make(map[string]*FieldSpec, len(ec.Fields))
		for i := range ec.Fields {
			f := &ec.Fields[i]
			switch f.Type {
			case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeTimestamp:
			default:
				return nil, fmt.Errorf("%s.%s: unknown type %q", ec.Entity, f.Name, f.Type)
			}
			if _, dup := ec.byName[f.Name]; dup {
				return nil, fmt.Errorf("%s.%s: duplicate field", ec.Entity, f.Name)
			}
			ec.byName[f.Name] = f
		}
		if _, ok := ec.byName[ec.Key]; !ok {
			return nil, fmt.Errorf("%s: key field %q not declared", ec.Entity, ec.Key)
		}
		set.entities[ec.Entity] = ec
	}
	return set, nil
}

// Default returns the embedded contracts.
func Default() (*Set, error) {
	return Load(strings.NewReader(string(defaultContracts)))
}

// LoadFile reads contracts from path, or the embedded defaults when path is empty.
func LoadFile(path string) (*Set, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func (s *Set) Entity(e canonical.Entity) (*EntityContract, bool) {
	if s == nil {
		return nil, false
	}
	c, ok := s.entities[e]
	return c, ok
}

func (s *Set) Entities() []canonical.Entity {
	out := make([]canonical.Entity, 0, len(s.entities))
	for e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FieldType returns the declared type of entity.field, if any.
func (s *Set) FieldType(entity canonical.Entity, field string) (FieldType, bool) {
	c, ok := s.Entity(entity)
	if !ok {
		return "", false
	}
	f, ok := c.Field(field)
	if !ok {
		return "", false
	}
	return f.Type, true
}
