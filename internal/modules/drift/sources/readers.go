package sources

import (
	"context"
	"fmt"
	"sync"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/pgcatalog"
)

// Records is a Reader over records already in hand (push snapshots).
type Records []map[string]any

func (r Records) Read(_ context.Context, _ string, sampleSize int) (fingerprint.Snapshot, error) {
	recs := []map[string]any(r)
	if sampleSize > 0 && len(recs) > sampleSize {
		recs = recs[:sampleSize]
	}
	return fingerprint.Snapshot{Records: recs}, nil
}

type columnSource interface {
	Columns(ctx context.Context, schema, table string) ([]pgcatalog.Column, error)
}

// CatalogReader reads the declared columns of a Postgres source.
type CatalogReader struct {
	catalog columnSource
	source  *Source
}

func (c *CatalogReader) Read(ctx context.Context, entity string, _ int) (fingerprint.Snapshot, error) {
	spec, ok := c.source.Entity(entity)
	if !ok {
		return fingerprint.Snapshot{}, fmt.Errorf("entity %s not declared for source %s", entity, c.source.ID)
	}
	cols, err := c.catalog.Columns(ctx, c.source.Schema, spec.Table)
	if err != nil {
		return fingerprint.Snapshot{}, err
	}
	out := make([]fingerprint.Column, 0, len(cols))
	for _, col := range cols {
		out = append(out, fingerprint.Column{
			Name:     col.Name,
			Type:     pgcatalog.NormalizeType(col.DataType),
			Nullable: col.Nullable,
		})
	}
	return fingerprint.Snapshot{Columns: out}, nil
}

// Connector opens one catalog per DSN and reuses it across scans.
type Connector struct {
	log      *logger.Logger
	registry *Registry

	mu       sync.Mutex
	catalogs map[string]*pgcatalog.Catalog
}

func NewConnector(log *logger.Logger, registry *Registry) *Connector {
	return &Connector{
		log:      log.With("component", "SourceConnector"),
		registry: registry,
		catalogs: map[string]*pgcatalog.Catalog{},
	}
}

// Reader returns the reader for a polled key.
func (c *Connector) Reader(ctx context.Context, key fingerprint.Key) (fingerprint.Reader, error) {
	src, ok := c.registry.Lookup(key.TenantID, key.SourceID)
	if !ok {
		return nil, drifterr.NotFound("source", key.SourceID)
	}
	if src.Kind != KindPostgres {
		return nil, drifterr.Invalid("source %s is push-only", key.SourceID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cat, ok := c.catalogs[src.DSN]
	if !ok {
		var err error
		cat, err = pgcatalog.Open(ctx, c.log, src.DSN)
		if err != nil {
			return nil, &drifterr.UnavailableError{SourceID: key.SourceID, Entity: key.Entity, Err: err}
		}
		c.catalogs[src.DSN] = cat
	}
	return &CatalogReader{catalog: cat, source: src}, nil
}

func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for dsn, cat := range c.catalogs {
		cat.Close()
		delete(c.catalogs, dsn)
	}
}
