package prompt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.datalith.dev/querybridge/filter"
	"go.datalith.dev/querybridge/prompt"
	"go.datalith.dev/querybridge/schema"
)

func testDescriptor(t *testing.T) *filter.Descriptor {
	t.Helper()

	m := schema.NewFieldMap()
	m.Set("card_type", schema.FieldSpec{
		Type:   schema.TypeEnum,
		Values: []any{"GOLD", "SILVER"},
	})
	m.Set("transaction.amount", schema.FieldSpec{Type: schema.TypeNumber})
	m.Set("transaction.timestamp", schema.FieldSpec{Type: schema.TypeDate})

	return filter.Describe(m)
}

func fixedClock() time.Time {
	return time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()

	g := prompt.NewGenerator(prompt.WithClock(fixedClock))

	got, err := g.System(testDescriptor(t))
	require.NoError(t, err)

	assert.Contains(t, got, "Today is 2024-06-15")
	assert.Contains(t, got, `"card_type"`)
	assert.Contains(t, got, `"transaction.amount"`)
	assert.Contains(t, got, `"GOLD"`, "enum values are surfaced in the schema dump")
	assert.Contains(t, got, `"filters"`)
	assert.Contains(t, got, "having_operator")
	assert.Contains(t, got, "ONLY work together with \"group_by\"")
}

func TestSystemPromptDeterminism(t *testing.T) {
	t.Parallel()

	g := prompt.NewGenerator(prompt.WithClock(fixedClock))
	d := testDescriptor(t)

	first, err := g.System(d)
	require.NoError(t, err)

	second, err := g.System(d)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
