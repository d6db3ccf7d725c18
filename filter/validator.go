package filter

import (
	"encoding/json"
	"fmt"
	"slices"

	"go.datalith.dev/querybridge/schema"
)

// nullField is a placeholder field name some upstream callers emit;
// conditions naming it are dropped rather than rejected.
const nullField = "null"

// legalOperators is the closed per-type operator legality table.
var legalOperators = map[schema.Type][]Operator{
	schema.TypeString:  {OpIs, OpDifferent, OpContains, OpIsIn, OpNotIn, OpExists},
	schema.TypeNumber:  {OpLess, OpGreater, OpIs, OpDifferent, OpBetween, OpIsIn, OpNotIn, OpExists},
	schema.TypeDate:    {OpLess, OpGreater, OpIs, OpDifferent, OpBetween, OpExists},
	schema.TypeBoolean: {OpIs, OpDifferent, OpExists},
	schema.TypeEnum:    {OpIs, OpDifferent, OpIsIn, OpNotIn, OpExists},
	schema.TypeArray:   {OpExists},
	schema.TypeObject:  {OpExists},
}

// havingOperators are the comparators legal in having predicates.
var havingOperators = []Operator{OpLess, OpGreater, OpIs, OpDifferent, OpLessOrEqual, OpGreaterOrEqual}

// aggKinds is the closed set of aggregation kinds.
var aggKinds = []AggKind{KindSum, KindAvg, KindCount, KindMin, KindMax}

// intervals is the closed set of calendar intervals.
var intervals = []Interval{IntervalDay, IntervalWeek, IntervalMonth, IntervalYear}

// LegalOperators returns the operators legal on a field of type t, in
// table order.
func LegalOperators(t schema.Type) []Operator {
	ops := legalOperators[t]
	out := make([]Operator, len(ops))
	copy(out, ops)

	return out
}

// Validator checks and canonicalizes untyped filter documents against a
// field map. Build one per schema via [Build] or [NewValidator].
type Validator struct {
	fields *schema.FieldMap
}

// NewValidator returns a Validator bound to fields. An empty field map
// is refused: without fields no document can validate.
func NewValidator(fields *schema.FieldMap) (*Validator, error) {
	if fields == nil || fields.Len() == 0 {
		return nil, fmt.Errorf("building validator: %w", schema.ErrNoFields)
	}

	return &Validator{fields: fields}, nil
}

// Build derives the validator and the companion prompt descriptor from
// a field map.
func Build(fields *schema.FieldMap) (*Validator, *Descriptor, error) {
	v, err := NewValidator(fields)
	if err != nil {
		return nil, nil, err
	}

	return v, Describe(fields), nil
}

// ValidateJSON decodes data and validates it. A document that is not
// valid JSON is rejected with [BadValueShape] at the document root.
func (v *Validator) ValidateJSON(data []byte) (*Filters, []Warning, error) {
	var doc Filters

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, newError(BadValueShape, "/", "not a filters document: %v", err)
	}

	return v.Validate(&doc)
}

// Validate checks doc and returns its canonical form plus the warnings
// recorded for auto-corrections. The input is not mutated. Validation
// is idempotent: validating an accepted document again returns an equal
// document with no warnings.
func (v *Validator) Validate(doc *Filters) (*Filters, []Warning, error) {
	if doc == nil || len(doc.Slices) == 0 {
		return nil, nil, newError(BadValueShape, "/filters", "at least one slice is required")
	}

	out := &Filters{Slices: make([]Slice, 0, len(doc.Slices))}

	var warnings []Warning

	for i, slice := range doc.Slices {
		canonical, w, err := v.validateSlice(slice, fmt.Sprintf("/filters/%d", i))
		if err != nil {
			return nil, nil, err
		}

		warnings = append(warnings, w...)

		out.Slices = append(out.Slices, canonical)
	}

	return out, warnings, nil
}

func (v *Validator) validateSlice(s Slice, path string) (Slice, []Warning, error) {
	var warnings []Warning

	out := Slice{Conditions: make([]Condition, 0, len(s.Conditions))}

	for j, cond := range s.Conditions {
		condPath := fmt.Sprintf("%s/conditions/%d", path, j)

		// Sentinel placeholder: drop before field checks, since the
		// name is by definition not in the field map.
		if cond.Field == nullField {
			warnings = append(warnings, Warning{
				Path:    condPath,
				Message: "dropped condition with placeholder field \"null\"",
			})

			continue
		}

		if err := v.validateCondition(cond, condPath); err != nil {
			return Slice{}, nil, err
		}

		out.Conditions = append(out.Conditions, cond)
	}

	groupBy, w, err := v.validateGroupBy(s.GroupBy, path)
	if err != nil {
		return Slice{}, nil, err
	}

	warnings = append(warnings, w...)
	out.GroupBy = groupBy

	sort, w := v.validateSort(s.Sort, path)
	warnings = append(warnings, w...)
	out.Sort = sort

	if s.Limit < 0 {
		return Slice{}, nil, newError(BadValueShape, path+"/limit", "limit must be positive, got %d", s.Limit)
	}

	out.Limit = s.Limit

	aggs, w, err := v.validateAggregations(s.Aggregations, out.GroupBy, path)
	if err != nil {
		return Slice{}, nil, err
	}

	warnings = append(warnings, w...)
	out.Aggregations = aggs

	interval, w, err := v.validateInterval(s.Interval, out.GroupBy, path)
	if err != nil {
		return Slice{}, nil, err
	}

	warnings = append(warnings, w...)
	out.Interval = interval

	return out, warnings, nil
}

func (v *Validator) validateCondition(cond Condition, path string) error {
	spec, ok := v.fields.Get(cond.Field)
	if !ok {
		return newError(UnknownField, path+"/field", "unknown field %q", cond.Field)
	}

	if !slices.Contains(legalOperators[spec.Type], cond.Operator) {
		return newError(IllegalOperator, path+"/operator",
			"operator %q is not legal on %s field %q", cond.Operator, spec.Type, cond.Field)
	}

	return v.validateValue(cond, spec, path+"/value")
}

func (v *Validator) validateValue(cond Condition, spec schema.FieldSpec, path string) error {
	switch cond.Operator {
	case OpBetween:
		return validateBetween(cond.Value, spec.Type, path)

	case OpIsIn, OpNotIn:
		return validateValueList(cond.Value, spec, path)

	case OpContains:
		if _, ok := cond.Value.(string); !ok {
			return newError(BadValueShape, path, "contains requires a string value")
		}

	case OpExists:
		if _, ok := cond.Value.(bool); !ok {
			return newError(BadValueShape, path, "exists requires a boolean value")
		}

	case OpLess, OpGreater, OpIs, OpDifferent:
		if !scalarMatches(cond.Value, spec.Type) {
			return newError(BadValueShape, path,
				"value %v does not match %s field %q", cond.Value, spec.Type, cond.Field)
		}

	default:
		return newError(IllegalOperator, path, "operator %q is not a condition operator", cond.Operator)
	}

	return nil
}

func validateBetween(value any, fieldType schema.Type, path string) error {
	pair, ok := value.([]any)
	if !ok || len(pair) != 2 {
		return newError(BadValueShape, path, "between requires a [lo, hi] pair")
	}

	for _, bound := range pair {
		if !scalarMatches(bound, fieldType) {
			return newError(BadValueShape, path, "between bound %v does not match field type %s", bound, fieldType)
		}
	}

	if !boundsOrdered(pair[0], pair[1]) {
		return newError(BadValueShape, path, "between bounds must satisfy lo <= hi")
	}

	return nil
}

func validateValueList(value any, spec schema.FieldSpec, path string) error {
	list, ok := value.([]any)
	if !ok || len(list) == 0 {
		return newError(BadValueShape, path, "expected a non-empty list")
	}

	for i, elem := range list {
		if !scalarMatches(elem, spec.Type) {
			return newError(BadValueShape, fmt.Sprintf("%s/%d", path, i),
				"element %v does not match field type %s", elem, spec.Type)
		}

		if spec.Type == schema.TypeEnum && !containsValue(spec.Values, elem) {
			return newError(BadEnumValue, fmt.Sprintf("%s/%d", path, i),
				"%v is not an allowed value", elem)
		}
	}

	return nil
}

func (v *Validator) validateGroupBy(groupBy []string, path string) ([]string, []Warning, error) {
	if len(groupBy) == 0 {
		return nil, nil, nil
	}

	var warnings []Warning

	out := make([]string, 0, len(groupBy))
	seen := make(map[string]bool, len(groupBy))

	for k, field := range groupBy {
		if !v.fields.Has(field) {
			return nil, nil, newError(UnknownField,
				fmt.Sprintf("%s/group_by/%d", path, k), "unknown field %q", field)
		}

		if seen[field] {
			warnings = append(warnings, Warning{
				Path:    fmt.Sprintf("%s/group_by/%d", path, k),
				Message: fmt.Sprintf("dropped duplicate group field %q", field),
			})

			continue
		}

		seen[field] = true

		out = append(out, field)
	}

	return out, warnings, nil
}

func (v *Validator) validateSort(sort []SortKey, path string) ([]SortKey, []Warning) {
	if len(sort) == 0 {
		return nil, nil
	}

	var warnings []Warning

	out := make([]SortKey, 0, len(sort))

	for k, key := range sort {
		keyPath := fmt.Sprintf("%s/sort/%d", path, k)

		if !v.fields.Has(key.Field) {
			warnings = append(warnings, Warning{
				Path:    keyPath,
				Message: fmt.Sprintf("dropped sort on unknown field %q", key.Field),
			})

			continue
		}

		if key.Order == "" {
			key.Order = OrderAsc
		}

		if key.Order != OrderAsc && key.Order != OrderDesc {
			warnings = append(warnings, Warning{
				Path:    keyPath,
				Message: fmt.Sprintf("dropped sort with order %q", key.Order),
			})

			continue
		}

		out = append(out, key)
	}

	if len(out) == 0 {
		return nil, warnings
	}

	return out, warnings
}

func (v *Validator) validateAggregations(aggs []Aggregation, groupBy []string, path string) ([]Aggregation, []Warning, error) {
	if len(aggs) == 0 {
		return nil, nil, nil
	}

	// Aggregations are meaningless without grouping; clear rather than
	// reject.
	if len(groupBy) == 0 {
		return nil, []Warning{{
			Path:    path + "/aggregations",
			Message: "cleared aggregations: no group_by present",
		}}, nil
	}

	out := make([]Aggregation, 0, len(aggs))

	for k, agg := range aggs {
		aggPath := fmt.Sprintf("%s/aggregations/%d", path, k)

		if !slices.Contains(aggKinds, agg.Kind) {
			return nil, nil, newError(BadValueShape, aggPath+"/kind", "unknown aggregation kind %q", agg.Kind)
		}

		spec, ok := v.fields.Get(agg.Field)
		if !ok {
			return nil, nil, newError(UnknownField, aggPath+"/field", "unknown field %q", agg.Field)
		}

		if agg.Kind != KindCount && spec.Type != schema.TypeNumber {
			return nil, nil, newError(IllegalOperator, aggPath+"/kind",
				"aggregation %q requires a number field, %q is %s", agg.Kind, agg.Field, spec.Type)
		}

		if err := validateHaving(agg, aggPath); err != nil {
			return nil, nil, err
		}

		out = append(out, agg)
	}

	return out, nil, nil
}

func validateHaving(agg Aggregation, path string) error {
	hasOp := agg.HavingOperator != ""
	hasValue := agg.HavingValue != nil

	if hasOp != hasValue {
		return newError(BadHaving, path, "having_operator and having_value must be set together")
	}

	if !hasOp {
		return nil
	}

	if !slices.Contains(havingOperators, agg.HavingOperator) {
		return newError(BadHaving, path+"/having_operator",
			"%q is not a having comparator", agg.HavingOperator)
	}

	if !isScalar(agg.HavingValue) {
		return newError(BadHaving, path+"/having_value", "having_value must be a scalar")
	}

	return nil
}

func (v *Validator) validateInterval(interval Interval, groupBy []string, path string) (Interval, []Warning, error) {
	if interval == "" {
		return "", nil, nil
	}

	if !slices.Contains(intervals, interval) {
		return "", nil, newError(BadValueShape, path+"/interval", "unknown interval %q", interval)
	}

	for _, field := range groupBy {
		if spec, ok := v.fields.Get(field); ok && spec.Type == schema.TypeDate {
			return interval, nil, nil
		}
	}

	return "", []Warning{{
		Path:    path + "/interval",
		Message: "cleared interval: no date field in group_by",
	}}, nil
}

// scalarMatches reports whether v has the JSON shape of a fieldType
// literal. Enum literals are compared by shape only; membership is
// enforced separately for list operators.
func scalarMatches(v any, fieldType schema.Type) bool {
	switch fieldType {
	case schema.TypeNumber:
		return isNumeric(v)
	case schema.TypeDate:
		s, ok := v.(string)

		return ok && schema.IsDateLiteral(s)
	case schema.TypeString, schema.TypeEnum:
		_, ok := v.(string)

		return ok
	case schema.TypeBoolean:
		_, ok := v.(bool)

		return ok
	}

	return false
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}

	return false
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, float64, float32, int, int32, int64:
		return true
	}

	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}

	return 0, false
}

// boundsOrdered reports lo <= hi. Numbers compare numerically; date
// strings compare lexicographically, which agrees with chronological
// order for ISO-8601 literals.
func boundsOrdered(lo, hi any) bool {
	if lf, ok := asFloat(lo); ok {
		hf, hok := asFloat(hi)

		return hok && lf <= hf
	}

	ls, ok := lo.(string)
	if !ok {
		return false
	}

	hs, ok := hi.(string)

	return ok && ls <= hs
}

func containsValue(values []any, v any) bool {
	for _, allowed := range values {
		if valueEqual(allowed, v) {
			return true
		}
	}

	return false
}

// valueEqual compares literals numerically when both sides are numbers,
// so 5 and 5.0 from different decoders are the same enum member.
func valueEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, bok := asFloat(b)

		return bok && af == bf
	}

	return a == b
}
