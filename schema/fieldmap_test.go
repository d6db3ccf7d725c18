package schema_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.datalith.dev/querybridge/schema"
)

func TestFieldMapOrderPreserved(t *testing.T) {
	t.Parallel()

	fields := schema.NewFieldMap()
	fields.Set("b", schema.FieldSpec{Type: schema.TypeString})
	fields.Set("a", schema.FieldSpec{Type: schema.TypeNumber})
	fields.Set("c", schema.FieldSpec{Type: schema.TypeDate})

	assert.Equal(t, []string{"b", "a", "c"}, fields.Paths())

	// Replacing keeps position.
	fields.Set("a", schema.FieldSpec{Type: schema.TypeBoolean})
	assert.Equal(t, []string{"b", "a", "c"}, fields.Paths())

	data, err := json.Marshal(fields)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"b":{"type":"string"},"a":{"type":"boolean"},"c":{"type":"date"}}`,
		string(data))

	// Insertion order survives the encoder.
	assert.Equal(t,
		`{"b":{"type":"string"},"a":{"type":"boolean"},"c":{"type":"date"}}`,
		string(data))
}

func TestFieldMapDelete(t *testing.T) {
	t.Parallel()

	fields := schema.NewFieldMap()
	fields.Set("a", schema.FieldSpec{Type: schema.TypeString})
	fields.Set("b", schema.FieldSpec{Type: schema.TypeString})

	fields.Delete("a")
	fields.Delete("missing")

	assert.Equal(t, []string{"b"}, fields.Paths())
	assert.Equal(t, 1, fields.Len())
}

func TestApplyEnumValues(t *testing.T) {
	t.Parallel()

	fields := schema.NewFieldMap()
	fields.Set("card_type", schema.FieldSpec{Type: schema.TypeString})
	fields.Set("amount", schema.FieldSpec{Type: schema.TypeNumber})

	schema.ApplyEnumValues(fields, map[string][]any{
		"card_type": {"GOLD", "SILVER", "GOLD"},
		"amount":    {},
		"missing":   {"x"},
	})

	spec, _ := fields.Get("card_type")
	assert.Equal(t, schema.TypeEnum, spec.Type)
	assert.Equal(t, []any{"GOLD", "SILVER"}, spec.Values, "duplicates dropped, order kept")

	spec, _ = fields.Get("amount")
	assert.Equal(t, schema.TypeNumber, spec.Type, "empty value sets leave the field alone")
}

type countingExtractor struct {
	extracts int
	distinct int
}

func (c *countingExtractor) Extract(_ context.Context) (*schema.FieldMap, error) {
	c.extracts++

	fields := schema.NewFieldMap()
	fields.Set("f", schema.FieldSpec{Type: schema.TypeString})

	return fields, nil
}

func (c *countingExtractor) Distinct(_ context.Context, _ string, _ int) ([]any, error) {
	c.distinct++

	return []any{"a", "b"}, nil
}

func TestCacheMemoizes(t *testing.T) {
	t.Parallel()

	ext := &countingExtractor{}
	cache := schema.NewCache(ext)

	ctx := context.Background()

	for range 3 {
		fields, err := cache.Extract(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, fields.Len())
	}

	assert.Equal(t, 1, ext.extracts)

	for range 3 {
		values, err := cache.Distinct(ctx, "f", 100)
		require.NoError(t, err)
		assert.Len(t, values, 2)
	}

	assert.Equal(t, 1, ext.distinct)
}

type failingExtractor struct{ err error }

func (f *failingExtractor) Extract(_ context.Context) (*schema.FieldMap, error) {
	return nil, f.err
}

func (f *failingExtractor) Distinct(_ context.Context, _ string, _ int) ([]any, error) {
	return nil, f.err
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("backend down")
	cache := schema.NewCache(&failingExtractor{err: boom})

	_, err := cache.Extract(context.Background())
	require.ErrorIs(t, err, boom)

	_, err = cache.Extract(context.Background())
	require.ErrorIs(t, err, boom, "failures are retried, not memoized")
}

func TestStaticExtractor(t *testing.T) {
	t.Parallel()

	fields := schema.NewFieldMap()
	fields.Set("card_type", schema.FieldSpec{Type: schema.TypeString})

	static := schema.NewStatic(fields, map[string][]any{
		"card_type": {"GOLD", "SILVER", "PLATINUM"},
	})

	got, err := static.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())

	values, err := static.Distinct(context.Background(), "card_type", 2)
	require.NoError(t, err)
	assert.Equal(t, []any{"GOLD", "SILVER"}, values)
}

func TestStaticExtractorEmpty(t *testing.T) {
	t.Parallel()

	static := schema.NewStatic(schema.NewFieldMap(), nil)

	_, err := static.Extract(context.Background())
	require.ErrorIs(t, err, schema.ErrNoFields)
}
