package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"go.datalith.dev/querybridge/backend"
)

// Executor runs translated plans against an index through the official
// client.
type Executor struct {
	client *elasticsearch.Client
	index  string
}

// NewExecutor creates an Executor bound to one index.
func NewExecutor(client *elasticsearch.Client, index string) *Executor {
	return &Executor{client: client, index: index}
}

// searchResponse is the subset of a search response the executor reads.
type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]any `json:"aggregations"`
}

// Execute implements [backend.Executor]. Plans run sequentially; a
// failed plan yields a failed Result in its position and does not stop
// the remaining plans.
func (e *Executor) Execute(ctx context.Context, plans []backend.Plan) ([]backend.Result, error) {
	results := make([]backend.Result, 0, len(plans))

	for _, plan := range plans {
		result, err := e.run(ctx, plan)
		if err != nil {
			// Context cancellation aborts the whole batch.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", backend.ErrBackend, ctx.Err())
			}

			result = backend.Result{Error: err.Error()}
		}

		results = append(results, result)
	}

	return results, nil
}

// ExecuteRaw implements [backend.Executor], applying size as the
// document cap when the plan does not set its own.
func (e *Executor) ExecuteRaw(ctx context.Context, plan backend.Plan, size int) (backend.Result, error) {
	if _, ok := plan["size"]; !ok && size > 0 {
		capped := make(backend.Plan, len(plan)+1)
		for k, v := range plan {
			capped[k] = v
		}

		capped["size"] = size
		plan = capped
	}

	result, err := e.run(ctx, plan)
	if err != nil {
		return backend.Result{Error: err.Error()}, err
	}

	return result, nil
}

func (e *Executor) run(ctx context.Context, plan backend.Plan) (backend.Result, error) {
	body, err := json.Marshal(plan)
	if err != nil {
		return backend.Result{}, fmt.Errorf("encode plan: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return backend.Result{}, fmt.Errorf("%w: search: %w", backend.ErrBackend, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return backend.Result{}, fmt.Errorf("%w: search: %s", backend.ErrBackend, res.String())
	}

	var decoded searchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return backend.Result{}, fmt.Errorf("decode search response: %w", err)
	}

	documents := make([]map[string]any, 0, len(decoded.Hits.Hits))
	for _, hit := range decoded.Hits.Hits {
		documents = append(documents, hit.Source)
	}

	return backend.Result{
		TotalHits:    decoded.Hits.Total.Value,
		Documents:    documents,
		Aggregations: decoded.Aggregations,
		Success:      true,
	}, nil
}
