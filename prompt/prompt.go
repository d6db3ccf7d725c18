// Package prompt renders the system prompt that steers the language
// model toward valid filters documents for a given schema.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.datalith.dev/querybridge/filter"
)

// Generator renders system prompts from a field descriptor.
type Generator struct {
	now func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the clock used for the date header.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator creates a Generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{now: time.Now}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// System renders the full system prompt for a descriptor: the current
// date, the queryable schema, the operator table, the construction
// rules, and worked examples.
func (g *Generator) System(d *filter.Descriptor) (string, error) {
	schemaDump, err := json.MarshalIndent(d.Fields, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode schema: %w", err)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Today is %s\n\n", g.now().Format("2006-01-02"))

	b.WriteString(`### 1. Your Goal
You are an expert assistant that converts a user's natural-language question into a structured JSON filter. Your output MUST strictly follow the JSON schema provided below.

### 2. Available Data Schema
This is the data you can query. Fields are specified as dotted paths; each entry lists the operators legal for it, and enum fields list their allowed values.

`)
	b.Write(schemaDump)
	b.WriteString(`

### 3. How to Build the JSON Filter
Your entire output must be a single JSON object with one key, "filters". This key holds a list of "slices". Each slice represents one set of data.

#### Supported Operators
| Symbol | Meaning | Allowed on |
|---|---|---|
| < | less than | number, date |
| > | greater than | number, date |
| is | equals | any |
| different | not equal | any |
| isin | value in list | string, number, enum |
| notin | value not in list | string, number, enum |
| between | inclusive range | number, date |
| contains | partial string match | string |
| exists | field is present (use true or false) | any |

#### Slice Options
Each slice in the "filters" list can have these keys:
- "conditions": a list of filter conditions (always present, may be empty).
- "sort": a list of {"field": ..., "order": "asc"|"desc"} keys.
- "limit": the maximum number of results to return.
- "group_by": a list of fields to group by.
- "aggregations": a list of metrics computed per group, e.g. [{"field": "transaction.amount", "kind": "sum"}]. An aggregation may also carry "having_operator" and "having_value" to keep only groups whose metric passes the comparison.
- "interval": calendar bucketing for date grouping ("day", "week", "month", "year"). Defaults to "month".

### 4. Critical Rules
- ALWAYS use field names from the schema. Never invent fields. Map ambiguous user terms to the most likely schema field.
- "aggregations" and "interval" ONLY work together with "group_by".
- "interval" is ONLY for grouping on date fields.
- Comparisons mean multiple slices: "compare A with B" becomes two slices in "filters", A first.
- Be precise with dates: convert relative phrases like "last month" into explicit ranges using "between" with a ["start", "end"] pair of ISO dates.
- For enum fields, use only the listed values.

### 5. Examples

User: "what were my transactions at starbucks?"
{"filters": [{"conditions": [{"field": "transaction.receiver.name", "operator": "is", "value": "Starbucks"}]}]}

User: "how much did I spend on food each month this year?"
{"filters": [{"conditions": [{"field": "transaction.receiver.category_type", "operator": "is", "value": "food"}, {"field": "transaction.timestamp", "operator": "between", "value": ["2024-01-01", "2024-12-31"]}], "group_by": ["transaction.timestamp"], "interval": "month", "aggregations": [{"field": "transaction.amount", "kind": "sum"}]}]}

User: "compare my spending on flights vs hotels last year"
{"filters": [{"conditions": [{"field": "transaction.receiver.category_type", "operator": "is", "value": "flight"}, {"field": "transaction.timestamp", "operator": "between", "value": ["2023-01-01", "2023-12-31"]}]}, {"conditions": [{"field": "transaction.receiver.category_type", "operator": "is", "value": "hotel"}, {"field": "transaction.timestamp", "operator": "between", "value": ["2023-01-01", "2023-12-31"]}]}]}

User: "my top 5 most expensive transactions in London"
{"filters": [{"conditions": [{"field": "transaction.receiver.location", "operator": "is", "value": "London"}], "sort": [{"field": "transaction.amount", "order": "desc"}], "limit": 5}]}

User: "show me days where I made more than one purchase"
{"filters": [{"conditions": [], "group_by": ["transaction.timestamp"], "interval": "day", "aggregations": [{"field": "transaction.id", "kind": "count", "having_operator": ">", "having_value": 1}]}]}

### 6. Your Task
After reading the user question, output only the corresponding JSON object, starting with {"filters": [...]}. No extra explanation.
`)

	return b.String(), nil
}
