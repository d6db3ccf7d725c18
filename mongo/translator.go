package mongo

import (
	"fmt"
	"regexp"
	"strings"

	"go.datalith.dev/querybridge/backend"
	"go.datalith.dev/querybridge/filter"
	"go.datalith.dev/querybridge/schema"
)

// dateFormats maps grouping intervals to $dateToString format strings.
// Weeks use the ISO week-of-year specifier.
var dateFormats = map[filter.Interval]string{
	filter.IntervalDay:   "%Y-%m-%d",
	filter.IntervalWeek:  "%Y-W%V",
	filter.IntervalMonth: "%Y-%m",
	filter.IntervalYear:  "%Y",
}

// havingOps maps having comparators to match operators.
var havingOps = map[filter.Operator]string{
	filter.OpGreater:        "$gt",
	filter.OpLess:           "$lt",
	filter.OpIs:             "$eq",
	filter.OpDifferent:      "$ne",
	filter.OpGreaterOrEqual: "$gte",
	filter.OpLessOrEqual:    "$lte",
}

// Translator compiles filter IR slices into aggregation pipelines.
type Translator struct{}

// NewTranslator creates a Translator.
func NewTranslator() *Translator {
	return &Translator{}
}

// Translate implements [backend.Translator]. One pipeline plan is
// produced per slice, in slice order. An empty slice produces an empty
// pipeline.
func (t *Translator) Translate(doc *filter.Filters, fields *schema.FieldMap) ([]backend.Plan, error) {
	if doc == nil || len(doc.Slices) == 0 {
		return []backend.Plan{{"pipeline": []any{}}}, nil
	}

	plans := make([]backend.Plan, 0, len(doc.Slices))

	for i, slice := range doc.Slices {
		plan, err := t.translateSlice(slice, fields)
		if err != nil {
			return nil, fmt.Errorf("slice %d: %w", i, err)
		}

		plans = append(plans, plan)
	}

	return plans, nil
}

func (t *Translator) translateSlice(s filter.Slice, fields *schema.FieldMap) (backend.Plan, error) {
	pipeline := []any{}

	if len(s.Conditions) > 0 {
		clauses := make([]map[string]any, 0, len(s.Conditions))

		for _, cond := range s.Conditions {
			predicate, err := translateCondition(cond, fields)
			if err != nil {
				return nil, err
			}

			clauses = append(clauses, map[string]any{cond.Field: predicate})
		}

		// Each condition keeps its own clause; $and joins two or more
		// so repeated predicates on one field cannot collide.
		match := clauses[0]
		if len(clauses) > 1 {
			and := make([]any, 0, len(clauses))
			for _, clause := range clauses {
				and = append(and, clause)
			}

			match = map[string]any{"$and": and}
		}

		pipeline = append(pipeline, map[string]any{"$match": match})
	}

	if len(s.GroupBy) > 0 {
		group, having, err := buildGroup(s, fields)
		if err != nil {
			return nil, err
		}

		pipeline = append(pipeline, map[string]any{"$group": group})

		if len(having) > 0 {
			pipeline = append(pipeline, map[string]any{"$match": having})
		}
	}

	if len(s.Sort) > 0 {
		sort := make(map[string]any, len(s.Sort))
		for _, key := range s.Sort {
			direction := 1
			if key.Order == filter.OrderDesc {
				direction = -1
			}

			sort[key.Field] = direction
		}

		pipeline = append(pipeline, map[string]any{"$sort": sort})
	}

	if s.Limit > 0 {
		pipeline = append(pipeline, map[string]any{"$limit": s.Limit})
	}

	return backend.Plan{"pipeline": pipeline}, nil
}

func translateCondition(cond filter.Condition, fields *schema.FieldMap) (map[string]any, error) {
	if _, ok := fields.Get(cond.Field); !ok {
		return nil, fmt.Errorf("%w: unknown field %q", backend.ErrTranslate, cond.Field)
	}

	switch cond.Operator {
	case filter.OpIs:
		return map[string]any{"$eq": cond.Value}, nil

	case filter.OpDifferent:
		return map[string]any{"$ne": cond.Value}, nil

	case filter.OpGreater:
		return map[string]any{"$gt": cond.Value}, nil

	case filter.OpLess:
		return map[string]any{"$lt": cond.Value}, nil

	case filter.OpBetween:
		pair, ok := cond.Value.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: between on %q without [lo, hi] pair", backend.ErrTranslate, cond.Field)
		}

		return map[string]any{"$gte": pair[0], "$lte": pair[1]}, nil

	case filter.OpIsIn:
		return map[string]any{"$in": cond.Value}, nil

	case filter.OpNotIn:
		return map[string]any{"$nin": cond.Value}, nil

	case filter.OpContains:
		s, ok := cond.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: contains on %q without string value", backend.ErrTranslate, cond.Field)
		}

		return map[string]any{"$regex": regexp.QuoteMeta(s), "$options": "i"}, nil

	case filter.OpExists:
		return map[string]any{"$exists": cond.Value == true}, nil
	}

	return nil, fmt.Errorf("%w: unsupported operator %q", backend.ErrTranslate, cond.Operator)
}

// buildGroup assembles the $group stage and the post-group having
// match. Bucket keys live under a compound _id with dots flattened to
// underscores.
func buildGroup(s filter.Slice, fields *schema.FieldMap) (map[string]any, map[string]any, error) {
	id := make(map[string]any, len(s.GroupBy))

	for _, field := range s.GroupBy {
		spec, _ := fields.Get(field)
		key := groupKey(field)

		if spec.Type == schema.TypeDate {
			interval := s.Interval
			if interval == "" {
				interval = filter.IntervalMonth
			}

			id[key] = map[string]any{
				"$dateToString": map[string]any{
					"format": dateFormats[interval],
					"date":   "$" + field,
				},
			}
		} else {
			id[key] = "$" + field
		}
	}

	group := map[string]any{
		"_id":       id,
		"documents": map[string]any{"$push": "$$ROOT"},
	}

	having := make(map[string]any)

	for _, agg := range s.Aggregations {
		accumulator, err := accumulatorFor(agg)
		if err != nil {
			return nil, nil, err
		}

		group[agg.MetricName()] = accumulator

		if agg.HasHaving() {
			op, ok := havingOps[agg.HavingOperator]
			if !ok {
				return nil, nil, fmt.Errorf("%w: unsupported having comparator %q",
					backend.ErrTranslate, agg.HavingOperator)
			}

			having[agg.MetricName()] = map[string]any{op: agg.HavingValue}
		}
	}

	return group, having, nil
}

func accumulatorFor(agg filter.Aggregation) (map[string]any, error) {
	ref := "$" + agg.Field

	switch agg.Kind {
	case filter.KindSum:
		return map[string]any{"$sum": ref}, nil

	case filter.KindAvg:
		return map[string]any{"$avg": ref}, nil

	case filter.KindMin:
		return map[string]any{"$min": ref}, nil

	case filter.KindMax:
		return map[string]any{"$max": ref}, nil

	case filter.KindCount:
		return map[string]any{"$sum": 1}, nil
	}

	return nil, fmt.Errorf("%w: unsupported aggregation kind %q", backend.ErrTranslate, agg.Kind)
}

func groupKey(field string) string {
	return strings.ReplaceAll(field, ".", "_")
}
