package filter

import (
	"github.com/google/jsonschema-go/jsonschema"

	"go.datalith.dev/querybridge/schema"
)

// FieldDescriptor describes one queryable field for prompt generation.
type FieldDescriptor struct {
	Path      string      `json:"path"`
	Type      schema.Type `json:"type"`
	Operators []Operator  `json:"operators"`
	Values    []any       `json:"values,omitempty"`
	ItemType  schema.Type `json:"item_type,omitempty"`
}

// Descriptor enumerates the fields, operators, and enum values an LLM
// may use when emitting a filters document. It is consumed by the
// prompt generator; the [Validator] remains the source of truth.
type Descriptor struct {
	Fields []FieldDescriptor `json:"fields"`
}

// Describe builds the prompt descriptor for a field map, preserving
// field order.
func Describe(fields *schema.FieldMap) *Descriptor {
	d := &Descriptor{}

	for _, path := range fields.Paths() {
		spec, _ := fields.Get(path)

		d.Fields = append(d.Fields, FieldDescriptor{
			Path:      path,
			Type:      spec.Type,
			Operators: LegalOperators(spec.Type),
			Values:    spec.Values,
			ItemType:  spec.ItemType,
		})
	}

	return d
}

// FieldPaths returns all described field paths in order.
func (d *Descriptor) FieldPaths() []string {
	paths := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		paths[i] = f.Path
	}

	return paths
}

// JSONSchema emits the structured-output contract for the LLM: a JSON
// Schema describing the filters document, with field names and enum
// values constrained to this descriptor.
func (d *Descriptor) JSONSchema() *jsonschema.Schema {
	fieldEnum := make([]any, len(d.Fields))
	for i, f := range d.Fields {
		fieldEnum[i] = f.Path
	}

	fieldSchema := &jsonschema.Schema{
		Type:        "string",
		Enum:        fieldEnum,
		Description: "Dotted path of a schema field.",
	}

	condition := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"field", "operator", "value"},
		Properties: map[string]*jsonschema.Schema{
			"field":    fieldSchema,
			"operator": operatorSchema(conditionOperators()),
			"value": {
				Description: "Scalar, [lo, hi] pair for between, or list for isin/notin.",
			},
		},
	}

	sortKey := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"field", "order"},
		Properties: map[string]*jsonschema.Schema{
			"field": fieldSchema,
			"order": {Type: "string", Enum: []any{string(OrderAsc), string(OrderDesc)}},
		},
	}

	aggregation := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"field", "kind"},
		Properties: map[string]*jsonschema.Schema{
			"field": fieldSchema,
			"kind": {
				Type: "string",
				Enum: []any{
					string(KindSum), string(KindAvg), string(KindCount),
					string(KindMin), string(KindMax),
				},
			},
			"having_operator": operatorSchema(havingOperators),
			"having_value":    {Description: "Scalar compared against the metric."},
		},
	}

	slice := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"conditions"},
		Properties: map[string]*jsonschema.Schema{
			"conditions":   {Type: "array", Items: condition},
			"sort":         {Type: "array", Items: sortKey},
			"limit":        {Type: "integer"},
			"group_by":     {Type: "array", Items: fieldSchema},
			"interval":     intervalSchema(),
			"aggregations": {Type: "array", Items: aggregation},
		},
	}

	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"filters"},
		Properties: map[string]*jsonschema.Schema{
			"filters": {
				Type:        "array",
				Items:       slice,
				Description: "One slice per requested data set; multiple slices express a comparison.",
			},
		},
	}
}

func conditionOperators() []Operator {
	return []Operator{
		OpLess, OpGreater, OpIs, OpDifferent, OpIsIn,
		OpNotIn, OpBetween, OpContains, OpExists,
	}
}

func operatorSchema(ops []Operator) *jsonschema.Schema {
	enum := make([]any, len(ops))
	for i, op := range ops {
		enum[i] = string(op)
	}

	return &jsonschema.Schema{Type: "string", Enum: enum}
}

func intervalSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "string",
		Enum: []any{
			string(IntervalDay), string(IntervalWeek),
			string(IntervalMonth), string(IntervalYear),
		},
		Description: "Calendar interval for grouping on a date field.",
	}
}
