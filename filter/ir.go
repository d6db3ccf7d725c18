package filter

import "strings"

// Operator is a filter comparison operator.
type Operator string

// Condition operators. OpLessOrEqual and OpGreaterOrEqual are legal only
// as having comparators.
const (
	OpLess           Operator = "<"
	OpGreater        Operator = ">"
	OpIs             Operator = "is"
	OpDifferent      Operator = "different"
	OpIsIn           Operator = "isin"
	OpNotIn          Operator = "notin"
	OpBetween        Operator = "between"
	OpContains       Operator = "contains"
	OpExists         Operator = "exists"
	OpLessOrEqual    Operator = "<="
	OpGreaterOrEqual Operator = ">="
)

// AggKind is an aggregation metric kind.
type AggKind string

// Aggregation kinds. KindCount is legal on any field type; the others
// require a number field.
const (
	KindSum   AggKind = "sum"
	KindAvg   AggKind = "avg"
	KindCount AggKind = "count"
	KindMin   AggKind = "min"
	KindMax   AggKind = "max"
)

// Interval is a calendar bucketing interval for date grouping.
type Interval string

// Calendar intervals.
const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// Order is a sort direction.
type Order string

// Sort directions.
const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Filters is the top-level filter IR: a non-empty ordered list of
// slices. Values are treated as immutable after validation.
type Filters struct {
	Slices []Slice `json:"filters"`
}

// Slice is one unit of query. Conditions are AND-joined; grouping,
// interval, and aggregations describe an optional bucketed view of the
// matching documents.
type Slice struct {
	Conditions   []Condition   `json:"conditions"`
	Sort         []SortKey     `json:"sort,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	GroupBy      []string      `json:"group_by,omitempty"`
	Interval     Interval      `json:"interval,omitempty"`
	Aggregations []Aggregation `json:"aggregations,omitempty"`
}

// Condition is a single field predicate.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// SortKey orders results by one field.
type SortKey struct {
	Field string `json:"field"`
	Order Order  `json:"order"`
}

// Aggregation is a metric computed per bucket, with an optional having
// predicate applied to the metric after computation.
type Aggregation struct {
	Field          string   `json:"field"`
	Kind           AggKind  `json:"kind"`
	HavingOperator Operator `json:"having_operator,omitempty"`
	HavingValue    any      `json:"having_value,omitempty"`
}

// MetricName is the bucket-level name of this metric in backend plans:
// the kind joined to the dotted field path with dots replaced by
// underscores (e.g. "sum_transaction_amount").
func (a Aggregation) MetricName() string {
	return string(a.Kind) + "_" + strings.ReplaceAll(a.Field, ".", "_")
}

// HasHaving reports whether the aggregation carries a having predicate.
func (a Aggregation) HasHaving() bool {
	return a.HavingOperator != "" || a.HavingValue != nil
}
