package elastic_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.datalith.dev/querybridge/backend"
	"go.datalith.dev/querybridge/elastic"
	"go.datalith.dev/querybridge/schema"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header: http.Header{
			"Content-Type":      []string{"application/json"},
			"X-Elastic-Product": []string{"Elasticsearch"},
		},
		Body: io.NopCloser(strings.NewReader(body)),
	}
}

func testClient(t *testing.T, fn roundTripFunc) *elasticsearch.Client {
	t.Helper()

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://backend.test"},
		Transport: fn,
	})
	require.NoError(t, err)

	return client
}

const mappingBody = `{
	"tx": {"mappings": {"properties": {
		"card_type": {"type": "keyword"},
		"note": {"type": "text"},
		"t": {"properties": {
			"amt": {"type": "double"},
			"ts": {"type": "date"}
		}},
		"items": {"type": "nested", "properties": {
			"sku": {"type": "keyword"}
		}}
	}}}
}`

func TestSchemaExtractorExtract(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		require.Equal(t, "/tx/_mapping", r.URL.Path)

		return jsonResponse(http.StatusOK, mappingBody), nil
	})

	ext := elastic.NewSchemaExtractor(client, "tx",
		elastic.WithIgnoredFields("note"))

	fields, err := ext.Extract(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{"card_type", "t.amt", "t.ts", "items", "items.sku"},
		fields.Paths())

	spec, ok := fields.Get("t.amt")
	require.True(t, ok)
	assert.Equal(t, schema.TypeNumber, spec.Type)

	spec, ok = fields.Get("items")
	require.True(t, ok)
	assert.Equal(t, schema.TypeArray, spec.Type)
	assert.Equal(t, schema.TypeObject, spec.ItemType)
}

func TestSchemaExtractorCategoryFields(t *testing.T) {
	t.Parallel()

	var searchBody map[string]any

	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		switch r.URL.Path {
		case "/tx/_mapping":
			return jsonResponse(http.StatusOK, mappingBody), nil

		case "/tx/_search":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&searchBody))

			return jsonResponse(http.StatusOK, `{
				"aggregations": {"distinct_values": {"buckets": [
					{"key": "GOLD"}, {"key": "SILVER"}
				]}}
			}`), nil
		}

		t.Fatalf("unexpected request: %s", r.URL.Path)

		return nil, nil
	})

	ext := elastic.NewSchemaExtractor(client, "tx",
		elastic.WithCategoryFields("card_type"),
		elastic.WithDistinctLimit(50))

	fields, err := ext.Extract(context.Background())
	require.NoError(t, err)

	spec, ok := fields.Get("card_type")
	require.True(t, ok)
	assert.Equal(t, schema.TypeEnum, spec.Type)
	assert.Equal(t, []any{"GOLD", "SILVER"}, spec.Values)

	// string fields aggregate on the keyword sub-field, capped at the
	// distinct limit
	data, err := json.Marshal(searchBody)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"size": 0,
		"aggs": {"distinct_values": {"terms": {"field": "card_type.keyword", "size": 50}}}
	}`, string(data))
}

func TestSchemaExtractorNestedDistinct(t *testing.T) {
	t.Parallel()

	var searchBody map[string]any

	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		switch r.URL.Path {
		case "/tx/_mapping":
			return jsonResponse(http.StatusOK, mappingBody), nil

		case "/tx/_search":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&searchBody))

			return jsonResponse(http.StatusOK, `{
				"aggregations": {"nested_values": {"distinct_values": {"buckets": [
					{"key": "SKU-1"}
				]}}}
			}`), nil
		}

		t.Fatalf("unexpected request: %s", r.URL.Path)

		return nil, nil
	})

	ext := elastic.NewSchemaExtractor(client, "tx")

	_, err := ext.Extract(context.Background())
	require.NoError(t, err)

	values, err := ext.Distinct(context.Background(), "items.sku", 10)
	require.NoError(t, err)
	assert.Equal(t, []any{"SKU-1"}, values)

	data, err := json.Marshal(searchBody)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"size": 0,
		"aggs": {"nested_values": {
			"nested": {"path": "items"},
			"aggs": {"distinct_values": {"terms": {"field": "items.sku.keyword", "size": 10}}}
		}}
	}`, string(data))
}

func TestSchemaExtractorErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		body    string
		status  int
		wantErr error
	}{
		"backend refusal": {
			body:    `{"error": "boom"}`,
			status:  http.StatusInternalServerError,
			wantErr: backend.ErrBackend,
		},
		"mapping without properties": {
			body:    `{"tx": {"mappings": {}}}`,
			status:  http.StatusOK,
			wantErr: schema.ErrInvalidMapping,
		},
		"mapping with no fields": {
			body:    `{"tx": {"mappings": {"properties": {}}}}`,
			status:  http.StatusOK,
			wantErr: schema.ErrNoFields,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			client := testClient(t, func(*http.Request) (*http.Response, error) {
				return jsonResponse(tc.status, tc.body), nil
			})

			_, err := elastic.NewSchemaExtractor(client, "tx").Extract(context.Background())
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestExecutorExecute(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		require.Equal(t, "/tx/_search", r.URL.Path)

		return jsonResponse(http.StatusOK, `{
			"hits": {
				"total": {"value": 2},
				"hits": [
					{"_source": {"card_type": "GOLD"}},
					{"_source": {"card_type": "SILVER"}}
				]
			},
			"aggregations": {"sum_t_amt": {"value": 42.5}}
		}`), nil
	})

	results, err := elastic.NewExecutor(client, "tx").Execute(context.Background(),
		[]backend.Plan{{"query": map[string]any{"match_all": map[string]any{}}}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Success)
	assert.Equal(t, 2, results[0].TotalHits)
	assert.Equal(t, []map[string]any{
		{"card_type": "GOLD"},
		{"card_type": "SILVER"},
	}, results[0].Documents)
	assert.Equal(t, map[string]any{
		"sum_t_amt": map[string]any{"value": 42.5},
	}, results[0].Aggregations)
}

func TestExecutorPerPlanFailure(t *testing.T) {
	t.Parallel()

	calls := 0

	client := testClient(t, func(*http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return jsonResponse(http.StatusBadRequest, `{"error": "bad plan"}`), nil
		}

		return jsonResponse(http.StatusOK, `{"hits": {"total": {"value": 1}, "hits": []}}`), nil
	})

	results, err := elastic.NewExecutor(client, "tx").Execute(context.Background(),
		[]backend.Plan{
			{"query": "broken"},
			{"query": map[string]any{"match_all": map[string]any{}}},
		})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.NotEmpty(t, results[0].Error)

	assert.True(t, results[1].Success)
	assert.Equal(t, 1, results[1].TotalHits)
}

func TestExecutorExecuteRaw(t *testing.T) {
	t.Parallel()

	var body map[string]any

	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		return jsonResponse(http.StatusOK, `{"hits": {"total": {"value": 0}, "hits": []}}`), nil
	})

	exec := elastic.NewExecutor(client, "tx")

	result, err := exec.ExecuteRaw(context.Background(),
		backend.Plan{"query": map[string]any{"match_all": map[string]any{}}}, 5)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, float64(5), body["size"], "size cap is injected when absent")

	_, err = exec.ExecuteRaw(context.Background(),
		backend.Plan{"query": map[string]any{"match_all": map[string]any{}}, "size": 2}, 5)
	require.NoError(t, err)
	assert.Equal(t, float64(2), body["size"], "explicit size wins")
}
