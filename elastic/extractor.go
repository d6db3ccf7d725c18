package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"go.datalith.dev/querybridge/backend"
	"go.datalith.dev/querybridge/schema"
)

// SchemaExtractor derives a normalized field map from an index mapping
// and enriches declared category fields with their distinct values.
type SchemaExtractor struct {
	client        *elasticsearch.Client
	index         string
	ignored       []string
	categories    []string
	distinctLimit int

	// nestedPaths holds array-typed ancestors seen during the last
	// Extract, used to wrap distinct lookups in a nested aggregation.
	nestedPaths []string
	fields      *schema.FieldMap
}

// ExtractorOption configures a SchemaExtractor.
type ExtractorOption func(*SchemaExtractor)

// WithIgnoredFields drops the given dotted paths from extraction.
func WithIgnoredFields(paths ...string) ExtractorOption {
	return func(e *SchemaExtractor) {
		e.ignored = append(e.ignored, paths...)
	}
}

// WithCategoryFields marks fields whose distinct values should be
// fetched and attached as enum values during extraction.
func WithCategoryFields(paths ...string) ExtractorOption {
	return func(e *SchemaExtractor) {
		e.categories = append(e.categories, paths...)
	}
}

// WithDistinctLimit overrides the distinct value cap for category
// fields.
func WithDistinctLimit(n int) ExtractorOption {
	return func(e *SchemaExtractor) {
		e.distinctLimit = n
	}
}

// NewSchemaExtractor creates a SchemaExtractor for one index.
func NewSchemaExtractor(client *elasticsearch.Client, index string, opts ...ExtractorOption) *SchemaExtractor {
	e := &SchemaExtractor{
		client:        client,
		index:         index,
		distinctLimit: schema.DefaultDistinctLimit,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Extract implements [schema.Extractor]. The index mapping is fetched,
// flattened, and category fields are promoted to enums with their
// observed values.
func (e *SchemaExtractor) Extract(ctx context.Context) (*schema.FieldMap, error) {
	res, err := e.client.Indices.GetMapping(
		e.client.Indices.GetMapping.WithContext(ctx),
		e.client.Indices.GetMapping.WithIndex(e.index),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get mapping: %w", backend.ErrBackend, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("%w: get mapping: %s", backend.ErrBackend, res.String())
	}

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode mapping: %w", schema.ErrInvalidMapping, err)
	}

	properties, err := mappingProperties(body)
	if err != nil {
		return nil, err
	}

	fields, err := schema.ParseMapping(properties, schema.WithIgnoredFields(e.ignored...))
	if err != nil {
		return nil, err
	}

	if fields.Len() == 0 {
		return nil, schema.ErrNoFields
	}

	e.fields = fields
	e.nestedPaths = arrayPaths(fields)

	if len(e.categories) > 0 {
		values := make(map[string][]any, len(e.categories))

		for _, field := range e.categories {
			distinct, err := e.Distinct(ctx, field, e.distinctLimit)
			if err != nil {
				slog.Warn("skipping category field",
					slog.String("field", field),
					slog.Any("error", err),
				)

				continue
			}

			values[field] = distinct
		}

		schema.ApplyEnumValues(fields, values)
	}

	return fields, nil
}

// Distinct implements [schema.Extractor] with a terms aggregation,
// wrapped in a nested aggregation when the field sits under an array
// path.
func (e *SchemaExtractor) Distinct(ctx context.Context, field string, limit int) ([]any, error) {
	if limit <= 0 {
		limit = schema.DefaultDistinctLimit
	}

	aggField := field
	if e.fields != nil {
		if spec, ok := e.fields.Get(field); ok {
			aggField = exactField(field, spec)
		}
	}

	terms := map[string]any{
		"distinct_values": map[string]any{
			"terms": map[string]any{"field": aggField, "size": limit},
		},
	}

	aggs := terms

	nested := nestedAncestor(e.nestedPaths, field)
	if nested != "" {
		aggs = map[string]any{
			"nested_values": map[string]any{
				"nested": map[string]any{"path": nested},
				"aggs":   terms,
			},
		}
	}

	body, err := json.Marshal(map[string]any{"size": 0, "aggs": aggs})
	if err != nil {
		return nil, fmt.Errorf("encode distinct query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: distinct %s: %w", backend.ErrBackend, field, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("%w: distinct %s: %s", backend.ErrBackend, field, res.String())
	}

	var decoded struct {
		Aggregations map[string]json.RawMessage `json:"aggregations"`
	}

	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode distinct response: %w", err)
	}

	raw := decoded.Aggregations["distinct_values"]

	if nested != "" {
		var wrapper struct {
			DistinctValues json.RawMessage `json:"distinct_values"`
		}

		if err := json.Unmarshal(decoded.Aggregations["nested_values"], &wrapper); err != nil {
			return nil, fmt.Errorf("decode nested distinct response: %w", err)
		}

		raw = wrapper.DistinctValues
	}

	var buckets struct {
		Buckets []struct {
			Key any `json:"key"`
		} `json:"buckets"`
	}

	if err := json.Unmarshal(raw, &buckets); err != nil {
		return nil, fmt.Errorf("decode distinct buckets: %w", err)
	}

	values := make([]any, 0, len(buckets.Buckets))
	for _, b := range buckets.Buckets {
		values = append(values, b.Key)
	}

	return values, nil
}

// mappingProperties unwraps a get-mapping response body down to the
// properties tree of the first index returned.
func mappingProperties(body map[string]any) (map[string]any, error) {
	for _, raw := range body {
		index, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		mappings, ok := index["mappings"].(map[string]any)
		if !ok {
			continue
		}

		properties, ok := mappings["properties"].(map[string]any)
		if !ok {
			continue
		}

		return properties, nil
	}

	return nil, fmt.Errorf("%w: no mappings in response", schema.ErrInvalidMapping)
}

func arrayPaths(fields *schema.FieldMap) []string {
	var paths []string

	for _, path := range fields.Paths() {
		if spec, ok := fields.Get(path); ok && spec.Type == schema.TypeArray {
			paths = append(paths, path)
		}
	}

	return paths
}

// nestedAncestor returns the longest array path that is a strict
// ancestor of field, or "" when the field is not nested.
func nestedAncestor(paths []string, field string) string {
	best := ""

	for _, path := range paths {
		if strings.HasPrefix(field, path+".") && len(path) > len(best) {
			best = path
		}
	}

	return best
}
