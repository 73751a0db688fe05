package registry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
)

// SharedCache is the optional second cache tier (redis in production).
type SharedCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
}

// Invalidator fans an entity key out to other replicas.
type Invalidator interface {
	Publish(ctx context.Context, key string) error
}

// EntityKey is the cache identity of one (tenant, source, entity).
func EntityKey(tenantID, sourceID, entity string) string {
	return strings.Join([]string{tenantID, sourceID, entity}, "|")
}

// snapshot is the immutable set of active mappings for one entity key.
type snapshot struct {
	byField map[string]*domain.MappingEntry
}

func newSnapshot(rows []*domain.MappingEntry) *snapshot {
	s := &snapshot{byField: make(map[string]*domain.MappingEntry, len(rows))}
	for _, r := range rows {
		if r != nil && r.Active {
			s.byField[r.SourceField] = r
		}
	}
	return s
}

func (s *snapshot) list() []*domain.MappingEntry {
	out := make([]*domain.MappingEntry, 0, len(s.byField))
	for _, e := range s.byField {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

type cacheEntry struct {
	snap    *snapshot
	expires time.Time
}

// localCache holds snapshots keyed by EntityKey. Reads are lock-free. Every
// eviction bumps the key's generation, and a fill is only stored when the
// generation it observed before loading is still current, so a snapshot
// loaded before a write can never land after that write's invalidation.
type localCache struct {
	ttl     time.Duration
	entries sync.Map

	mu   sync.Mutex
	gens map[string]uint64
}

func newLocalCache(ttl time.Duration) *localCache {
	return &localCache{ttl: ttl, gens: make(map[string]uint64)}
}

func (c *localCache) get(key string) (*snapshot, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(cacheEntry)
	if c.ttl > 0 && time.Now().After(e.expires) {
		c.entries.CompareAndDelete(key, v)
		return nil, false
	}
	return e.snap, true
}

func (c *localCache) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key]
}

// fill stores s unless key was evicted since gen was read.
func (c *localCache) fill(key string, gen uint64, s *snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return false
	}
	c.entries.Store(key, cacheEntry{snap: s, expires: time.Now().Add(c.ttl)})
	return true
}

func (c *localCache) evict(key string) {
	c.mu.Lock()
	c.gens[key]++
	c.entries.Delete(key)
	c.mu.Unlock()
}

func encodeSnapshot(s *snapshot) ([]byte, error) {
	return json.Marshal(s.list())
}

func decodeSnapshot(raw []byte) (*snapshot, error) {
	var rows []*domain.MappingEntry
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return newSnapshot(rows), nil
}
