package schema

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultDistinctLimit bounds distinct value sets fetched for category
// fields.
const DefaultDistinctLimit = 100

// Extractor produces a FieldMap and distinct value sets from a backing
// store.
type Extractor interface {
	// Extract returns the flattened field map.
	Extract(ctx context.Context) (*FieldMap, error)
	// Distinct returns up to limit distinct values observed for field.
	Distinct(ctx context.Context, field string, limit int) ([]any, error)
}

// Cache wraps an Extractor with initialize-once memoization. The field
// map is extracted at most once; after that, reads are lock-free.
// Extraction failures are not cached, so a transient backend error does
// not poison the cache.
type Cache struct {
	ext      Extractor
	fields   atomic.Pointer[FieldMap]
	mu       sync.Mutex
	distinct map[string][]any
}

// NewCache returns a caching wrapper around ext.
func NewCache(ext Extractor) *Cache {
	return &Cache{
		ext:      ext,
		distinct: make(map[string][]any),
	}
}

// Extract implements [Extractor].
func (c *Cache) Extract(ctx context.Context) (*FieldMap, error) {
	if fields := c.fields.Load(); fields != nil {
		return fields, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if fields := c.fields.Load(); fields != nil {
		return fields, nil
	}

	fields, err := c.ext.Extract(ctx)
	if err != nil {
		return nil, err
	}

	c.fields.Store(fields)

	return fields, nil
}

// Distinct implements [Extractor], memoizing per field.
func (c *Cache) Distinct(ctx context.Context, field string, limit int) ([]any, error) {
	c.mu.Lock()

	if values, ok := c.distinct[field]; ok {
		c.mu.Unlock()

		return values, nil
	}

	c.mu.Unlock()

	values, err := c.ext.Distinct(ctx, field, limit)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.distinct[field] = values
	c.mu.Unlock()

	return values, nil
}

// Static is an Extractor backed by a prebuilt FieldMap and enum value
// sets, serving user-supplied mapping documents in place of a live
// backend.
type Static struct {
	fields   *FieldMap
	distinct map[string][]any
}

// NewStatic returns a Static extractor over fields. distinct may be nil.
func NewStatic(fields *FieldMap, distinct map[string][]any) *Static {
	return &Static{fields: fields, distinct: distinct}
}

// Extract implements [Extractor].
func (s *Static) Extract(_ context.Context) (*FieldMap, error) {
	if s.fields == nil || s.fields.Len() == 0 {
		return nil, ErrNoFields
	}

	return s.fields, nil
}

// Distinct implements [Extractor].
func (s *Static) Distinct(_ context.Context, field string, limit int) ([]any, error) {
	values := s.distinct[field]
	if limit > 0 && len(values) > limit {
		values = values[:limit]
	}

	return values, nil
}
