package mongo_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.datalith.dev/querybridge/backend"
	"go.datalith.dev/querybridge/filter"
	"go.datalith.dev/querybridge/mongo"
	"go.datalith.dev/querybridge/schema"
)

func testFields(t *testing.T) *schema.FieldMap {
	t.Helper()

	m := schema.NewFieldMap()
	m.Set("card_type", schema.FieldSpec{
		Type:   schema.TypeEnum,
		Values: []any{"GOLD", "SILVER", "PLATINUM"},
	})
	m.Set("t.amt", schema.FieldSpec{Type: schema.TypeNumber})
	m.Set("t.ts", schema.FieldSpec{Type: schema.TypeDate})
	m.Set("t.id", schema.FieldSpec{Type: schema.TypeString})
	m.Set("t.cur", schema.FieldSpec{Type: schema.TypeString})
	m.Set("t.approved", schema.FieldSpec{Type: schema.TypeBoolean})

	return m
}

func planJSON(t *testing.T, plan backend.Plan) string {
	t.Helper()

	data, err := json.Marshal(plan)
	require.NoError(t, err)

	return string(data)
}

func TestTranslateConditions(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		slice filter.Slice
		want  string
	}{
		"equality": {
			slice: filter.Slice{Conditions: []filter.Condition{
				{Field: "card_type", Operator: filter.OpIs, Value: "GOLD"},
			}},
			want: `{"pipeline":[{"$match":{"card_type":{"$eq":"GOLD"}}}]}`,
		},
		"between lowers to a bounded range": {
			slice: filter.Slice{Conditions: []filter.Condition{
				{Field: "t.ts", Operator: filter.OpBetween, Value: []any{"2024-01-01", "2024-12-31"}},
			}},
			want: `{"pipeline":[{"$match":{"t.ts":{"$gte":"2024-01-01","$lte":"2024-12-31"}}}]}`,
		},
		"open ranges on one field keep their own clauses": {
			slice: filter.Slice{Conditions: []filter.Condition{
				{Field: "t.amt", Operator: filter.OpGreater, Value: 10},
				{Field: "t.amt", Operator: filter.OpLess, Value: 100},
			}},
			want: `{"pipeline":[{"$match":{"$and":[
				{"t.amt":{"$gt":10}},
				{"t.amt":{"$lt":100}}
			]}}]}`,
		},
		"repeated contains on one field both survive": {
			slice: filter.Slice{Conditions: []filter.Condition{
				{Field: "t.id", Operator: filter.OpContains, Value: "alpha"},
				{Field: "t.id", Operator: filter.OpContains, Value: "beta"},
			}},
			want: `{"pipeline":[{"$match":{"$and":[
				{"t.id":{"$regex":"alpha","$options":"i"}},
				{"t.id":{"$regex":"beta","$options":"i"}}
			]}}]}`,
		},
		"different": {
			slice: filter.Slice{Conditions: []filter.Condition{
				{Field: "t.cur", Operator: filter.OpDifferent, Value: "EUR"},
			}},
			want: `{"pipeline":[{"$match":{"t.cur":{"$ne":"EUR"}}}]}`,
		},
		"membership": {
			slice: filter.Slice{Conditions: []filter.Condition{
				{Field: "card_type", Operator: filter.OpIsIn, Value: []any{"GOLD", "SILVER"}},
				{Field: "t.cur", Operator: filter.OpNotIn, Value: []any{"EUR"}},
			}},
			want: `{"pipeline":[{"$match":{"$and":[
				{"card_type":{"$in":["GOLD","SILVER"]}},
				{"t.cur":{"$nin":["EUR"]}}
			]}}]}`,
		},
		"contains lowers to an escaped case-insensitive regex": {
			slice: filter.Slice{Conditions: []filter.Condition{
				{Field: "t.id", Operator: filter.OpContains, Value: "TX.9"},
			}},
			want: `{"pipeline":[{"$match":{"t.id":{"$regex":"TX\\.9","$options":"i"}}}]}`,
		},
		"exists": {
			slice: filter.Slice{Conditions: []filter.Condition{
				{Field: "t.cur", Operator: filter.OpExists, Value: false},
			}},
			want: `{"pipeline":[{"$match":{"t.cur":{"$exists":false}}}]}`,
		},
		"sort and limit become stages": {
			slice: filter.Slice{
				Conditions: []filter.Condition{
					{Field: "t.approved", Operator: filter.OpIs, Value: true},
				},
				Sort:  []filter.SortKey{{Field: "t.amt", Order: filter.OrderDesc}},
				Limit: 25,
			},
			want: `{"pipeline":[
				{"$match":{"t.approved":{"$eq":true}}},
				{"$sort":{"t.amt":-1}},
				{"$limit":25}
			]}`,
		},
		"empty slice is an empty pipeline": {
			slice: filter.Slice{},
			want:  `{"pipeline":[]}`,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			plans, err := mongo.NewTranslator().Translate(
				&filter.Filters{Slices: []filter.Slice{tc.slice}}, testFields(t))
			require.NoError(t, err)
			require.Len(t, plans, 1)

			assert.JSONEq(t, tc.want, planJSON(t, plans[0]))
		})
	}
}

func TestTranslateGrouping(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		slice filter.Slice
		want  string
	}{
		"monthly date bucket with two metrics": {
			slice: filter.Slice{
				GroupBy:  []string{"t.ts"},
				Interval: filter.IntervalMonth,
				Aggregations: []filter.Aggregation{
					{Field: "t.amt", Kind: filter.KindSum},
					{Field: "t.amt", Kind: filter.KindCount},
				},
			},
			want: `{"pipeline":[{"$group":{
				"_id":{"t_ts":{"$dateToString":{"format":"%Y-%m","date":"$t.ts"}}},
				"documents":{"$push":"$$ROOT"},
				"sum_t_amt":{"$sum":"$t.amt"},
				"count_t_amt":{"$sum":1}
			}}]}`,
		},
		"compound bucket key flattens dots": {
			slice: filter.Slice{
				GroupBy: []string{"t.cur", "card_type"},
				Aggregations: []filter.Aggregation{
					{Field: "t.amt", Kind: filter.KindMin},
					{Field: "t.amt", Kind: filter.KindMax},
				},
			},
			want: `{"pipeline":[{"$group":{
				"_id":{"t_cur":"$t.cur","card_type":"$card_type"},
				"documents":{"$push":"$$ROOT"},
				"min_t_amt":{"$min":"$t.amt"},
				"max_t_amt":{"$max":"$t.amt"}
			}}]}`,
		},
		"having becomes a post-group match": {
			slice: filter.Slice{
				GroupBy:  []string{"t.ts"},
				Interval: filter.IntervalDay,
				Aggregations: []filter.Aggregation{
					{
						Field:          "t.id",
						Kind:           filter.KindCount,
						HavingOperator: filter.OpGreater,
						HavingValue:    1,
					},
				},
			},
			want: `{"pipeline":[
				{"$group":{
					"_id":{"t_ts":{"$dateToString":{"format":"%Y-%m-%d","date":"$t.ts"}}},
					"documents":{"$push":"$$ROOT"},
					"count_t_id":{"$sum":1}
				}},
				{"$match":{"count_t_id":{"$gt":1}}}
			]}`,
		},
		"missing interval defaults to month": {
			slice: filter.Slice{GroupBy: []string{"t.ts"}},
			want: `{"pipeline":[{"$group":{
				"_id":{"t_ts":{"$dateToString":{"format":"%Y-%m","date":"$t.ts"}}},
				"documents":{"$push":"$$ROOT"}
			}}]}`,
		},
		"grouped limit caps buckets": {
			slice: filter.Slice{
				GroupBy: []string{"t.cur"},
				Limit:   5,
			},
			want: `{"pipeline":[
				{"$group":{"_id":{"t_cur":"$t.cur"},"documents":{"$push":"$$ROOT"}}},
				{"$limit":5}
			]}`,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			plans, err := mongo.NewTranslator().Translate(
				&filter.Filters{Slices: []filter.Slice{tc.slice}}, testFields(t))
			require.NoError(t, err)
			require.Len(t, plans, 1)

			assert.JSONEq(t, tc.want, planJSON(t, plans[0]))
		})
	}
}

func TestTranslateSliceOrder(t *testing.T) {
	t.Parallel()

	doc := &filter.Filters{Slices: []filter.Slice{
		{Conditions: []filter.Condition{{Field: "card_type", Operator: filter.OpIs, Value: "GOLD"}}},
		{Conditions: []filter.Condition{{Field: "card_type", Operator: filter.OpIs, Value: "SILVER"}}},
	}}

	plans, err := mongo.NewTranslator().Translate(doc, testFields(t))
	require.NoError(t, err)
	require.Len(t, plans, 2)

	assert.JSONEq(t,
		`{"pipeline":[{"$match":{"card_type":{"$eq":"GOLD"}}}]}`,
		planJSON(t, plans[0]))
	assert.JSONEq(t,
		`{"pipeline":[{"$match":{"card_type":{"$eq":"SILVER"}}}]}`,
		planJSON(t, plans[1]))
}

func TestTranslateDeterminism(t *testing.T) {
	t.Parallel()

	doc := &filter.Filters{Slices: []filter.Slice{{
		Conditions: []filter.Condition{
			{Field: "t.ts", Operator: filter.OpBetween, Value: []any{"2024-01-01", "2024-12-31"}},
		},
		GroupBy: []string{"t.cur"},
		Aggregations: []filter.Aggregation{
			{Field: "t.amt", Kind: filter.KindSum, HavingOperator: filter.OpGreater, HavingValue: 1000},
		},
	}}}

	tr := mongo.NewTranslator()
	fields := testFields(t)

	first, err := tr.Translate(doc, fields)
	require.NoError(t, err)

	second, err := tr.Translate(doc, fields)
	require.NoError(t, err)

	assert.Equal(t, planJSON(t, first[0]), planJSON(t, second[0]))
}

func TestTranslateErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]filter.Slice{
		"unknown field": {Conditions: []filter.Condition{
			{Field: "nope", Operator: filter.OpIs, Value: 1},
		}},
		"between without pair": {Conditions: []filter.Condition{
			{Field: "t.amt", Operator: filter.OpBetween, Value: 10},
		}},
		"contains without string": {Conditions: []filter.Condition{
			{Field: "t.id", Operator: filter.OpContains, Value: 7},
		}},
	}

	for name, slice := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := mongo.NewTranslator().Translate(
				&filter.Filters{Slices: []filter.Slice{slice}}, testFields(t))

			require.ErrorIs(t, err, backend.ErrTranslate)
		})
	}
}
