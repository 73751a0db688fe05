package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

// Value types recognised in fingerprints.
const (
	TypeString    = "string"
	TypeInteger   = "integer"
	TypeNumber    = "number"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
	TypeUUID      = "uuid"
	TypeObject    = "object"
	TypeArray     = "array"
	TypeNull      = "null"
)

const maxSamplesPerField = 3

type Config struct {
	SampleSize int
}

func DefaultConfig() Config {
	return Config{SampleSize: 50}
}

type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Snapshot is what a connector hands over: a declared column catalog for
// tabular sources or sampled records for schemaless ones.
type Snapshot struct {
	Columns []Column
	Records []map[string]any
}

// Reader is the upstream connector contract.
type Reader interface {
	Read(ctx context.Context, entity string, sampleSize int) (Snapshot, error)
}

type Key struct {
	TenantID string
	SourceID string
	Entity   string
}

// Capture is a fingerprint plus a few raw values per field, kept out of the
// stored fingerprint and used only as repair context.
type Capture struct {
	Fingerprint *domain.Fingerprint
	Samples     map[string][]string
}

type Fingerprinter struct {
	log *logger.Logger
	cfg Config
}

func New(log *logger.Logger, cfg Config) *Fingerprinter {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultConfig().SampleSize
	}
	return &Fingerprinter{log: log.With("component", "Fingerprinter"), cfg: cfg}
}

// Capture reads the source and builds a fingerprint. Read failures are
// reported as drifterr.ErrFingerprintUnavailable and never produce a
// partial fingerprint.
func (f *Fingerprinter) Capture(ctx context.Context, key Key, r Reader) (*Capture, error) {
	if key.TenantID == "" {
		return nil, drifterr.ErrMissingTenant
	}
	snap, err := r.Read(ctx, key.Entity, f.cfg.SampleSize)
	if err != nil {
		observability.Current().IncFingerprint("unavailable")
		return nil, &drifterr.UnavailableError{SourceID: key.SourceID, Entity: key.Entity, Err: err}
	}
	var c *Capture
	switch {
	case len(snap.Columns) > 0:
		c, err = FromColumns(key, snap.Columns)
	case len(snap.Records) > 0:
		c, err = FromRecords(key, snap.Records, f.cfg.SampleSize)
	default:
		err = fmt.Errorf("empty snapshot")
	}
	if err != nil {
		observability.Current().IncFingerprint("unavailable")
		return nil, &drifterr.UnavailableError{SourceID: key.SourceID, Entity: key.Entity, Err: err}
	}
	observability.Current().IncFingerprint("captured")
	f.log.Debug("fingerprint captured",
		"tenant_id", key.TenantID,
		"source_id", key.SourceID,
		"entity", key.Entity,
		"method", c.Fingerprint.Method,
		"hash", c.Fingerprint.Hash,
	)
	return c, nil
}

func FromColumns(key Key, cols []Column) (*Capture, error) {
	fields := make(map[string]domain.FieldShape, len(cols))
	for _, col := range cols {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			continue
		}
		typ := col.Type
		if typ == "" {
			typ = TypeString
		}
		fields[name] = domain.FieldShape{Type: typ, Nullable: col.Nullable}
	}
	fp, err := build(key, fields, domain.FingerprintMethodCatalog, 0)
	if err != nil {
		return nil, err
	}
	return &Capture{Fingerprint: fp, Samples: map[string][]string{}}, nil
}

// FromRecords infers per-field majority types from up to limit records.
// Mixed-type fields keep their full distribution instead of failing.
func FromRecords(key Key, records []map[string]any, limit int) (*Capture, error) {
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	dist := map[string]map[string]int{}
	present := map[string]int{}
	samples := map[string][]string{}
	for _, rec := range records {
		for name, v := range rec {
			if dist[name] == nil {
				dist[name] = map[string]int{}
			}
			t := InferType(v)
			dist[name][t]++
			present[name]++
			if t != TypeNull && len(samples[name]) < maxSamplesPerField {
				samples[name] = append(samples[name], sampleString(v))
			}
		}
	}
	fields := make(map[string]domain.FieldShape, len(dist))
	for name, d := range dist {
		fields[name] = domain.FieldShape{
			Type:             majority(d),
			Nullable:         d[TypeNull] > 0 || present[name] < len(records),
			TypeDistribution: d,
		}
	}
	fp, err := build(key, fields, domain.FingerprintMethodSample, len(records))
	if err != nil {
		return nil, err
	}
	return &Capture{Fingerprint: fp, Samples: samples}, nil
}

func build(key Key, fields map[string]domain.FieldShape, method string, sampleSize int) (*domain.Fingerprint, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields observed")
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return &domain.Fingerprint{
		ID:         uuid.New(),
		TenantID:   key.TenantID,
		SourceID:   key.SourceID,
		Entity:     key.Entity,
		Fields:     datatypes.JSON(raw),
		Hash:       Hash(fields),
		Method:     method,
		SampleSize: sampleSize,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// Hash is order-independent over field names and depends only on each
// field's dominant type and nullability.
func Hash(fields map[string]domain.FieldShape) string {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	h := sha256.New()
	for _, n := range names {
		f := fields[n]
		fmt.Fprintf(h, "%s\x00%s\x00%t\n", n, f.Type, f.Nullable)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func majority(d map[string]int) string {
	best, bestN := "", -1
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == TypeNull {
			continue
		}
		if d[k] > bestN {
			best, bestN = k, d[k]
		}
	}
	if best == "" {
		return TypeNull
	}
	return best
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func LooksLikeTimestamp(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 10 || s[4] != '-' {
		return false
	}
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func InferType(v any) string {
	switch x := v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return TypeInteger
		}
		return TypeNumber
	case float32:
		return InferType(float64(x))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInteger
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return TypeInteger
		}
		return TypeNumber
	case string:
		if len(x) == 36 {
			if _, err := uuid.Parse(x); err == nil {
				return TypeUUID
			}
		}
		if LooksLikeTimestamp(x) {
			return TypeTimestamp
		}
		return TypeString
	case time.Time:
		return TypeTimestamp
	case map[string]any:
		return TypeObject
	case []any:
		return TypeArray
	default:
		return TypeString
	}
}

func sampleString(v any) string {
	s := fmt.Sprint(v)
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
