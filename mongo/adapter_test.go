package mongo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.datalith.dev/querybridge/backend"
	"go.datalith.dev/querybridge/mongo"
	"go.datalith.dev/querybridge/schema"
)

type fakeCollection struct {
	aggregateFn func(pipeline any) (*driver.Cursor, error)
	distinctFn  func(field string) ([]any, error)
	findFn      func(opts ...*options.FindOptions) (*driver.Cursor, error)
}

func (f *fakeCollection) Aggregate(_ context.Context, pipeline any, _ ...*options.AggregateOptions) (*driver.Cursor, error) {
	return f.aggregateFn(pipeline)
}

func (f *fakeCollection) Distinct(_ context.Context, field string, _ any, _ ...*options.DistinctOptions) ([]any, error) {
	return f.distinctFn(field)
}

func (f *fakeCollection) Find(_ context.Context, _ any, opts ...*options.FindOptions) (*driver.Cursor, error) {
	return f.findFn(opts...)
}

func cursorOf(t *testing.T, docs ...any) *driver.Cursor {
	t.Helper()

	cursor, err := driver.NewCursorFromDocuments(docs, nil, nil)
	require.NoError(t, err)

	return cursor
}

func TestSchemaExtractorExtract(t *testing.T) {
	t.Parallel()

	oid := primitive.NewObjectID()

	var sampled any

	coll := &fakeCollection{
		aggregateFn: func(pipeline any) (*driver.Cursor, error) {
			sampled = pipeline

			return cursorOf(t,
				bson.M{
					"_id":       oid,
					"card_type": "GOLD",
					"t": bson.M{
						"amt": 12.5,
						"ts":  "2024-01-05",
					},
					"approved": true,
				},
				bson.M{
					"_id":       primitive.NewObjectID(),
					"card_type": "SILVER",
					"t": bson.M{
						"amt": 3.0,
						"ts":  "2024-02-11",
					},
					"internal": "drop me",
				},
			), nil
		},
	}

	ext := mongo.NewSchemaExtractor(coll,
		mongo.WithSampleSize(50),
		mongo.WithIgnoredFields("internal"))

	fields, err := ext.Extract(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []any{
		map[string]any{"$sample": map[string]any{"size": 50}},
	}, sampled)

	assert.ElementsMatch(t,
		[]string{"card_type", "t.amt", "t.ts", "approved"},
		fields.Paths(), "driver ids and ignored fields are dropped")

	spec, ok := fields.Get("t.ts")
	require.True(t, ok)
	assert.Equal(t, schema.TypeDate, spec.Type)

	spec, ok = fields.Get("t.amt")
	require.True(t, ok)
	assert.Equal(t, schema.TypeNumber, spec.Type)
}

func TestSchemaExtractorCategoryFields(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{
		aggregateFn: func(any) (*driver.Cursor, error) {
			return cursorOf(t, bson.M{"card_type": "GOLD"}), nil
		},
		distinctFn: func(field string) ([]any, error) {
			require.Equal(t, "card_type", field)

			return []any{"GOLD", "SILVER", "PLATINUM"}, nil
		},
	}

	ext := mongo.NewSchemaExtractor(coll, mongo.WithCategoryFields("card_type"))

	fields, err := ext.Extract(context.Background())
	require.NoError(t, err)

	spec, ok := fields.Get("card_type")
	require.True(t, ok)
	assert.Equal(t, schema.TypeEnum, spec.Type)
	assert.Equal(t, []any{"GOLD", "SILVER", "PLATINUM"}, spec.Values)
}

func TestSchemaExtractorDistinctLimit(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{
		distinctFn: func(string) ([]any, error) {
			return []any{"a", "b", "c", "d"}, nil
		},
	}

	values, err := mongo.NewSchemaExtractor(coll).Distinct(context.Background(), "f", 2)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, values)
}

func TestSchemaExtractorEmptySample(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{
		aggregateFn: func(any) (*driver.Cursor, error) {
			return cursorOf(t), nil
		},
	}

	_, err := mongo.NewSchemaExtractor(coll).Extract(context.Background())
	require.ErrorIs(t, err, schema.ErrNoFields)
}

func TestExecutorExecute(t *testing.T) {
	t.Parallel()

	oid := primitive.NewObjectID()

	coll := &fakeCollection{
		aggregateFn: func(any) (*driver.Cursor, error) {
			return cursorOf(t,
				bson.M{"_id": oid, "card_type": "GOLD"},
			), nil
		},
	}

	results, err := mongo.NewExecutor(coll).Execute(context.Background(), []backend.Plan{
		{"pipeline": []any{map[string]any{"$match": map[string]any{"card_type": "GOLD"}}}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Success)
	assert.Equal(t, 1, results[0].TotalHits)
	assert.Equal(t, []map[string]any{
		{"_id": oid.Hex(), "card_type": "GOLD"},
	}, results[0].Documents, "object ids flatten to hex strings")
	assert.Nil(t, results[0].Aggregations)
}

func TestExecutorGroupedPlan(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{
		aggregateFn: func(any) (*driver.Cursor, error) {
			return cursorOf(t,
				bson.M{"_id": bson.M{"t_cur": "EUR"}, "sum_t_amt": 40.0},
				bson.M{"_id": bson.M{"t_cur": "USD"}, "sum_t_amt": 2.5},
			), nil
		},
	}

	plan := backend.Plan{"pipeline": []any{
		map[string]any{"$group": map[string]any{"_id": map[string]any{"t_cur": "$t.cur"}}},
	}}

	results, err := mongo.NewExecutor(coll).Execute(context.Background(), []backend.Plan{plan})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Success)
	assert.Empty(t, results[0].Documents)
	assert.Equal(t, map[string]any{"buckets": []any{
		map[string]any{"_id": map[string]any{"t_cur": "EUR"}, "sum_t_amt": 40.0},
		map[string]any{"_id": map[string]any{"t_cur": "USD"}, "sum_t_amt": 2.5},
	}}, results[0].Aggregations)
}

func TestExecutorPerPlanFailure(t *testing.T) {
	t.Parallel()

	calls := 0

	coll := &fakeCollection{
		aggregateFn: func(any) (*driver.Cursor, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("bad pipeline")
			}

			return cursorOf(t, bson.M{"ok": true}), nil
		},
	}

	plan := backend.Plan{"pipeline": []any{map[string]any{"$match": map[string]any{}}}}

	results, err := mongo.NewExecutor(coll).Execute(context.Background(),
		[]backend.Plan{plan, plan})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "bad pipeline")
	assert.True(t, results[1].Success)
}

func TestExecutorEmptyPipelineScans(t *testing.T) {
	t.Parallel()

	var limit int64

	coll := &fakeCollection{
		findFn: func(opts ...*options.FindOptions) (*driver.Cursor, error) {
			for _, opt := range opts {
				if opt.Limit != nil {
					limit = *opt.Limit
				}
			}

			return cursorOf(t, bson.M{"card_type": "GOLD"}), nil
		},
	}

	results, err := mongo.NewExecutor(coll).Execute(context.Background(),
		[]backend.Plan{{"pipeline": []any{}}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Success)
	assert.EqualValues(t, mongo.DefaultFindLimit, limit)
}

func TestExecutorExecuteRaw(t *testing.T) {
	t.Parallel()

	var pipeline any

	coll := &fakeCollection{
		aggregateFn: func(p any) (*driver.Cursor, error) {
			pipeline = p

			return cursorOf(t), nil
		},
	}

	exec := mongo.NewExecutor(coll)

	_, err := exec.ExecuteRaw(context.Background(), backend.Plan{
		"pipeline": []any{map[string]any{"$match": map[string]any{"a": 1}}},
	}, 5)
	require.NoError(t, err)

	assert.Equal(t, []any{
		map[string]any{"$match": map[string]any{"a": 1}},
		map[string]any{"$limit": 5},
	}, pipeline, "limit stage is appended when absent")

	_, err = exec.ExecuteRaw(context.Background(), backend.Plan{
		"pipeline": []any{map[string]any{"$limit": 2}},
	}, 5)
	require.NoError(t, err)

	assert.Equal(t, []any{map[string]any{"$limit": 2}}, pipeline, "explicit limit wins")
}
