package elastic

import (
	"fmt"
	"strings"

	"go.datalith.dev/querybridge/backend"
	"go.datalith.dev/querybridge/filter"
	"go.datalith.dev/querybridge/schema"
)

// Default sizing applied during translation.
const (
	// DefaultBucketSize caps non-date grouping buckets.
	DefaultBucketSize = 100
	// DefaultTopHitsSize caps the per-bucket document collection.
	DefaultTopHitsSize = 100
)

// intervalFormats maps calendar intervals to the date format returned
// in bucket keys. Weeks use the ISO week-of-year pattern.
var intervalFormats = map[filter.Interval]string{
	filter.IntervalDay:   "yyyy-MM-dd",
	filter.IntervalWeek:  "yyyy-'W'ww",
	filter.IntervalMonth: "yyyy-MM",
	filter.IntervalYear:  "yyyy",
}

// metricAggs maps aggregation kinds to the native metric aggregation.
var metricAggs = map[filter.AggKind]string{
	filter.KindSum:   "sum",
	filter.KindAvg:   "avg",
	filter.KindCount: "value_count",
	filter.KindMin:   "min",
	filter.KindMax:   "max",
}

// havingScriptOps maps having comparators to script operators.
var havingScriptOps = map[filter.Operator]string{
	filter.OpGreater:        ">",
	filter.OpLess:           "<",
	filter.OpIs:             "==",
	filter.OpDifferent:      "!=",
	filter.OpGreaterOrEqual: ">=",
	filter.OpLessOrEqual:    "<=",
}

// Translator compiles filter IR slices into search DSL plans.
type Translator struct {
	bucketSize  int
	topHitsSize int
}

// TranslatorOption configures a Translator.
type TranslatorOption func(*Translator)

// WithBucketSize overrides the grouping bucket cap.
func WithBucketSize(n int) TranslatorOption {
	return func(t *Translator) {
		t.bucketSize = n
	}
}

// WithTopHitsSize overrides the per-bucket document collection cap.
func WithTopHitsSize(n int) TranslatorOption {
	return func(t *Translator) {
		t.topHitsSize = n
	}
}

// NewTranslator creates a Translator with the given options.
func NewTranslator(opts ...TranslatorOption) *Translator {
	t := &Translator{
		bucketSize:  DefaultBucketSize,
		topHitsSize: DefaultTopHitsSize,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Translate implements [backend.Translator]. One plan is produced per
// slice, in slice order.
func (t *Translator) Translate(doc *filter.Filters, fields *schema.FieldMap) ([]backend.Plan, error) {
	if doc == nil || len(doc.Slices) == 0 {
		return []backend.Plan{{"query": map[string]any{"match_all": map[string]any{}}}}, nil
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
	plan := backend.Plan{}

	must := make([]any, 0, len(s.Conditions))

	for _, cond := range s.Conditions {
		clause, err := t.translateCondition(cond, fields)
		if err != nil {
			return nil, err
		}

		must = append(must, clause)
	}

	if len(must) > 0 {
		plan["query"] = map[string]any{"bool": map[string]any{"must": must}}
	} else {
		plan["query"] = map[string]any{"match_all": map[string]any{}}
	}

	if len(s.Sort) > 0 {
		sorts := make([]any, 0, len(s.Sort))
		for _, key := range s.Sort {
			sorts = append(sorts, map[string]any{
				key.Field: map[string]any{"order": string(key.Order)},
			})
		}

		plan["sort"] = sorts
	}

	if s.Limit > 0 {
		plan["size"] = s.Limit
	}

	if len(s.GroupBy) > 0 {
		aggs, err := t.buildAggs(s, fields)
		if err != nil {
			return nil, err
		}

		plan["aggs"] = aggs
		// Bucketed plans return no top-level documents.
		plan["size"] = 0
	}

	return plan, nil
}

func (t *Translator) translateCondition(cond filter.Condition, fields *schema.FieldMap) (map[string]any, error) {
	spec, ok := fields.Get(cond.Field)
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %q", backend.ErrTranslate, cond.Field)
	}

	f := cond.Field
	exact := exactField(f, spec)

	switch cond.Operator {
	case filter.OpGreater:
		return rangeClause(f, "gt", cond.Value), nil

	case filter.OpLess:
		return rangeClause(f, "lt", cond.Value), nil

	case filter.OpBetween:
		pair, ok := cond.Value.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: between on %q without [lo, hi] pair", backend.ErrTranslate, f)
		}

		return map[string]any{
			"range": map[string]any{f: map[string]any{"gte": pair[0], "lte": pair[1]}},
		}, nil

	case filter.OpIs:
		return termClause(exact, cond.Value), nil

	case filter.OpDifferent:
		return mustNot(termClause(exact, cond.Value)), nil

	case filter.OpIsIn:
		return termsClause(exact, cond.Value), nil

	case filter.OpNotIn:
		return mustNot(termsClause(exact, cond.Value)), nil

	case filter.OpContains:
		s, ok := cond.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: contains on %q without string value", backend.ErrTranslate, f)
		}

		return map[string]any{
			"wildcard": map[string]any{
				keywordField(f): map[string]any{"value": "*" + escapeWildcards(strings.ToLower(s)) + "*"},
			},
		}, nil

	case filter.OpExists:
		existsClause := map[string]any{"exists": map[string]any{"field": f}}
		if cond.Value == false {
			return mustNot(existsClause), nil
		}

		return existsClause, nil
	}

	return nil, fmt.Errorf("%w: unsupported operator %q", backend.ErrTranslate, cond.Operator)
}

// buildAggs lowers group_by levels outer-to-inner; metrics, the
// per-bucket document collection, and the having selector live at the
// innermost level.
func (t *Translator) buildAggs(s filter.Slice, fields *schema.FieldMap) (map[string]any, error) {
	termsSize := t.bucketSize
	if s.Limit > 0 {
		termsSize = s.Limit
	}

	root := make(map[string]any)
	current := root

	for i, field := range s.GroupBy {
		spec, _ := fields.Get(field)

		name := fmt.Sprintf("group_by_%d", i)
		level := map[string]any{}

		if spec.Type == schema.TypeDate {
			interval := s.Interval
			if interval == "" {
				interval = filter.IntervalMonth
			}

			level["date_histogram"] = map[string]any{
				"field":             field,
				"calendar_interval": string(interval),
				"format":            intervalFormats[interval],
			}
		} else {
			level["terms"] = map[string]any{
				"field": exactField(field, spec),
				"size":  termsSize,
			}
		}

		current[name] = level

		inner := make(map[string]any)
		level["aggs"] = inner
		current = inner
	}

	current["documents"] = map[string]any{
		"top_hits": map[string]any{"size": t.topHitsSize},
	}

	having := make([]filter.Aggregation, 0, len(s.Aggregations))

	for _, agg := range s.Aggregations {
		metric, err := t.metricAgg(agg, fields)
		if err != nil {
			return nil, err
		}

		current[agg.MetricName()] = metric

		if agg.HasHaving() {
			having = append(having, agg)
		}
	}

	if len(having) > 0 {
		selector, err := havingSelector(having)
		if err != nil {
			return nil, err
		}

		current["having_filter"] = selector
	}

	return root, nil
}

func (t *Translator) metricAgg(agg filter.Aggregation, fields *schema.FieldMap) (map[string]any, error) {
	native, ok := metricAggs[agg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported aggregation kind %q", backend.ErrTranslate, agg.Kind)
	}

	field := agg.Field

	// Counting a string field needs the exact sub-field.
	if agg.Kind == filter.KindCount {
		if spec, ok := fields.Get(field); ok {
			field = exactField(field, spec)
		}
	}

	return map[string]any{native: map[string]any{"field": field}}, nil
}

func havingSelector(aggs []filter.Aggregation) (map[string]any, error) {
	bucketsPath := make(map[string]any, len(aggs))
	parts := make([]string, 0, len(aggs))

	for i, agg := range aggs {
		op, ok := havingScriptOps[agg.HavingOperator]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported having comparator %q", backend.ErrTranslate, agg.HavingOperator)
		}

		variable := fmt.Sprintf("var_%d", i)
		bucketsPath[variable] = agg.MetricName()

		value := agg.HavingValue
		if s, isString := value.(string); isString {
			value = "'" + s + "'"
		}

		parts = append(parts, fmt.Sprintf("params.%s %s %v", variable, op, value))
	}

	return map[string]any{
		"bucket_selector": map[string]any{
			"buckets_path": bucketsPath,
			"script":       strings.Join(parts, " && "),
		},
	}, nil
}

func rangeClause(field, op string, value any) map[string]any {
	return map[string]any{"range": map[string]any{field: map[string]any{op: value}}}
}

func termClause(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

func termsClause(field string, value any) map[string]any {
	return map[string]any{"terms": map[string]any{field: value}}
}

func mustNot(clause map[string]any) map[string]any {
	return map[string]any{"bool": map[string]any{"must_not": []any{clause}}}
}

// exactField returns the lookup path used for equality on a field:
// string and enum fields take the ".keyword" sub-field, everything else
// is queried directly.
func exactField(field string, spec schema.FieldSpec) string {
	if spec.Type == schema.TypeString || spec.Type == schema.TypeEnum || spec.ExactMatch {
		return keywordField(field)
	}

	return field
}

func keywordField(field string) string {
	if strings.HasSuffix(field, ".keyword") {
		return field
	}

	return field + ".keyword"
}

func escapeWildcards(s string) string {
	s = strings.ReplaceAll(s, "*", "\\*")

	return strings.ReplaceAll(s, "?", "\\?")
}
