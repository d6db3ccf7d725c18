package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.datalith.dev/querybridge/backend"
	"go.datalith.dev/querybridge/schema"
)

// DefaultSampleSize is the number of documents sampled for schema
// inference.
const DefaultSampleSize = 1000

// Collection is the subset of the driver collection the adapter calls.
// *mongo.Collection satisfies it.
type Collection interface {
	Aggregate(ctx context.Context, pipeline any, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
	Distinct(ctx context.Context, fieldName string, filter any, opts ...*options.DistinctOptions) ([]any, error)
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// SchemaExtractor infers a normalized field map by sampling documents
// from a collection.
type SchemaExtractor struct {
	coll          Collection
	sampleSize    int
	ignored       []string
	categories    []string
	distinctLimit int
}

// ExtractorOption configures a SchemaExtractor.
type ExtractorOption func(*SchemaExtractor)

// WithSampleSize overrides the inference sample size.
func WithSampleSize(n int) ExtractorOption {
	return func(e *SchemaExtractor) {
		e.sampleSize = n
	}
}

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

// NewSchemaExtractor creates a SchemaExtractor over one collection.
func NewSchemaExtractor(coll Collection, opts ...ExtractorOption) *SchemaExtractor {
	e := &SchemaExtractor{
		coll:          coll,
		sampleSize:    DefaultSampleSize,
		distinctLimit: schema.DefaultDistinctLimit,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Extract implements [schema.Extractor]. A random sample of documents
// is drawn with $sample and flattened into a field map; category
// fields are promoted to enums with their distinct values.
func (e *SchemaExtractor) Extract(ctx context.Context) (*schema.FieldMap, error) {
	pipeline := []any{
		map[string]any{"$sample": map[string]any{"size": e.sampleSize}},
	}

	cursor, err := e.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%w: sample: %w", backend.ErrBackend, err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("%w: read sample: %w", backend.ErrBackend, err)
	}

	docs := make([]map[string]any, 0, len(raw))
	for _, doc := range raw {
		docs = append(docs, normalizeDocument(doc))
	}

	fields := schema.InferDocuments(docs)

	for _, path := range e.ignored {
		fields.Delete(path)
	}

	if fields.Len() == 0 {
		return nil, schema.ErrNoFields
	}

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

// Distinct implements [schema.Extractor] through the driver's distinct
// command, capped at limit.
func (e *SchemaExtractor) Distinct(ctx context.Context, field string, limit int) ([]any, error) {
	if limit <= 0 {
		limit = schema.DefaultDistinctLimit
	}

	values, err := e.coll.Distinct(ctx, field, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("%w: distinct %s: %w", backend.ErrBackend, field, err)
	}

	if len(values) > limit {
		values = values[:limit]
	}

	normalized := make([]any, 0, len(values))
	for _, v := range values {
		normalized = append(normalized, normalizeValue(v))
	}

	return normalized, nil
}
