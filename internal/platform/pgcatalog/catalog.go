package pgcatalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type Column struct {
	Name     string
	DataType string
	Nullable bool
}

// Catalog reads declared column metadata from a Postgres source.
type Catalog struct {
	log  *logger.Logger
	pool *pgxpool.Pool
}

func Open(ctx context.Context, log *logger.Logger, dsn string) (*Catalog, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	return &Catalog{log: log.With("service", "PGCatalog"), pool: pool}, nil
}

func (c *Catalog) Close() {
	if c != nil && c.pool != nil {
		c.pool.Close()
	}
}

const columnsSQL = `
SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

// Columns returns the declared columns of schema.table. A table with no
// visible columns is reported as an error so callers never baseline an
// empty structure.
func (c *Catalog) Columns(ctx context.Context, schema, table string) ([]Column, error) {
	if schema == "" {
		schema = "public"
	}
	rows, err := c.pool.Query(ctx, columnsSQL, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query columns %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out = append(out, Column{
			Name:     name,
			DataType: NormalizeType(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("table %s.%s not found", schema, table)
	}
	return out, nil
}

// NormalizeType maps a Postgres data_type onto the fingerprint type vocabulary.
func NormalizeType(pgType string) string {
	t := strings.ToLower(strings.TrimSpace(pgType))
	switch {
	case t == "uuid":
		return "uuid"
	case t == "boolean":
		return "boolean"
	case t == "smallint", t == "integer", t == "bigint":
		return "integer"
	case t == "numeric", t == "real", t == "double precision", strings.HasPrefix(t, "decimal"), t == "money":
		return "number"
	case strings.HasPrefix(t, "timestamp"), t == "date":
		return "timestamp"
	case t == "json", t == "jsonb":
		return "object"
	case t == "array", strings.HasSuffix(t, "[]"):
		return "array"
	default:
		return "string"
	}
}
