package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.datalith.dev/querybridge/backend"
)

// DefaultFindLimit caps plain document scans issued for empty
// pipelines.
const DefaultFindLimit = 100

// Executor runs translated pipeline plans against a collection.
type Executor struct {
	coll Collection
}

// NewExecutor creates an Executor over one collection.
func NewExecutor(coll Collection) *Executor {
	return &Executor{coll: coll}
}

// Execute implements [backend.Executor]. Plans run sequentially; a
// failed plan yields a failed Result in its position and does not stop
// the remaining plans.
func (e *Executor) Execute(ctx context.Context, plans []backend.Plan) ([]backend.Result, error) {
	results := make([]backend.Result, 0, len(plans))

	for _, plan := range plans {
		result, err := e.run(ctx, plan)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", backend.ErrBackend, ctx.Err())
			}

			result = backend.Result{Error: err.Error()}
		}

		results = append(results, result)
	}

	return results, nil
}

// ExecuteRaw implements [backend.Executor]. A $limit stage is appended
// when the pipeline does not already cap its output.
func (e *Executor) ExecuteRaw(ctx context.Context, plan backend.Plan, size int) (backend.Result, error) {
	stages, _ := plan["pipeline"].([]any)

	if size > 0 && !hasLimitStage(stages) {
		capped := make([]any, len(stages), len(stages)+1)
		copy(capped, stages)
		capped = append(capped, map[string]any{"$limit": size})

		plan = backend.Plan{"pipeline": capped}
	}

	result, err := e.run(ctx, plan)
	if err != nil {
		return backend.Result{Error: err.Error()}, err
	}

	return result, nil
}

func (e *Executor) run(ctx context.Context, plan backend.Plan) (backend.Result, error) {
	stages, ok := plan["pipeline"].([]any)
	if !ok {
		return backend.Result{}, fmt.Errorf("%w: plan has no pipeline", backend.ErrTranslate)
	}

	// An empty pipeline is a bounded scan rather than a full aggregate.
	if len(stages) == 0 {
		cursor, err := e.coll.Find(ctx, bson.D{},
			options.Find().SetLimit(int64(DefaultFindLimit)))
		if err != nil {
			return backend.Result{}, fmt.Errorf("%w: find: %w", backend.ErrBackend, err)
		}

		return e.collect(ctx, cursor, false)
	}

	cursor, err := e.coll.Aggregate(ctx, stages)
	if err != nil {
		return backend.Result{}, fmt.Errorf("%w: aggregate: %w", backend.ErrBackend, err)
	}

	return e.collect(ctx, cursor, hasGroupStage(stages))
}

// collect drains a cursor into a Result. Grouped pipelines yield bucket
// documents, reported under Aggregations; plain pipelines report
// documents directly.
func (e *Executor) collect(ctx context.Context, cursor interface {
	All(ctx context.Context, results any) error
	Close(ctx context.Context) error
}, grouped bool,
) (backend.Result, error) {
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return backend.Result{}, fmt.Errorf("%w: read results: %w", backend.ErrBackend, err)
	}

	docs := make([]map[string]any, 0, len(raw))
	for _, doc := range raw {
		docs = append(docs, normalizeDocument(doc))
	}

	result := backend.Result{
		TotalHits: len(docs),
		Success:   true,
	}

	if grouped {
		buckets := make([]any, 0, len(docs))
		for _, doc := range docs {
			buckets = append(buckets, doc)
		}

		result.Documents = []map[string]any{}
		result.Aggregations = map[string]any{"buckets": buckets}
	} else {
		result.Documents = docs
	}

	return result, nil
}

func hasGroupStage(stages []any) bool {
	return hasStage(stages, "$group")
}

func hasLimitStage(stages []any) bool {
	return hasStage(stages, "$limit")
}

func hasStage(stages []any, name string) bool {
	for _, raw := range stages {
		if stage, ok := raw.(map[string]any); ok {
			if _, found := stage[name]; found {
				return true
			}
		}
	}

	return false
}
