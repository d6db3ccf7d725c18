package schema

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Normalized type tags. The set is closed; translators and the filter
// validator switch exhaustively over these values.
const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeDate    Type = "date"
	TypeBoolean Type = "boolean"
	TypeEnum    Type = "enum"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

// Sentinel errors returned by schema construction and extraction.
var (
	// ErrNoFields indicates extraction produced an empty FieldMap.
	ErrNoFields = errors.New("no usable fields")
	// ErrInvalidMapping indicates a mapping document could not be parsed.
	ErrInvalidMapping = errors.New("invalid mapping")
)

// Type is a normalized field type tag.
type Type string

// FieldSpec describes a single queryable field.
type FieldSpec struct {
	// Type is the normalized type tag.
	Type Type `json:"type"`
	// Values holds the allowed literals for enum fields.
	Values []any `json:"values,omitempty"`
	// ItemType is the element type for array fields.
	ItemType Type `json:"item_type,omitempty"`
	// ExactMatch is true when equality on this field requires an
	// alternate lookup on the backend (a ".keyword" suffix on the
	// search engine).
	ExactMatch bool `json:"exact_match_capable,omitempty"`
}

// FieldMap is an ordered mapping from dotted field path to [FieldSpec].
// Order is insertion order and is preserved through JSON marshaling so
// prompt descriptors enumerate fields deterministically.
type FieldMap struct {
	specs map[string]FieldSpec
	paths []string
}

// NewFieldMap returns an empty FieldMap.
func NewFieldMap() *FieldMap {
	return &FieldMap{specs: make(map[string]FieldSpec)}
}

// Set adds or replaces the spec for path. A replaced path keeps its
// original position.
func (m *FieldMap) Set(path string, spec FieldSpec) {
	if _, ok := m.specs[path]; !ok {
		m.paths = append(m.paths, path)
	}

	m.specs[path] = spec
}

// Get returns the spec for path.
func (m *FieldMap) Get(path string) (FieldSpec, bool) {
	spec, ok := m.specs[path]

	return spec, ok
}

// Has reports whether path is present.
func (m *FieldMap) Has(path string) bool {
	_, ok := m.specs[path]

	return ok
}

// Delete removes path if present.
func (m *FieldMap) Delete(path string) {
	if _, ok := m.specs[path]; !ok {
		return
	}

	delete(m.specs, path)

	for i, p := range m.paths {
		if p == path {
			m.paths = append(m.paths[:i], m.paths[i+1:]...)

			break
		}
	}
}

// Len returns the number of fields.
func (m *FieldMap) Len() int {
	return len(m.specs)
}

// Paths returns all field paths in insertion order.
func (m *FieldMap) Paths() []string {
	out := make([]string, len(m.paths))
	copy(out, m.paths)

	return out
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m *FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, path := range m.paths {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(path)
		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteByte(':')

		val, err := json.Marshal(m.specs[path])
		if err != nil {
			return nil, err
		}

		buf.Write(val)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// ApplyEnumValues rewrites the listed fields to enum type with the given
// allowed literals. Duplicate literals are dropped preserving first
// occurrence; fields with no literals and fields absent from the map are
// left untouched.
func ApplyEnumValues(m *FieldMap, values map[string][]any) {
	for path, vals := range values {
		spec, ok := m.Get(path)
		if !ok {
			continue
		}

		unique := dedupeValues(vals)
		if len(unique) == 0 {
			continue
		}

		spec.Type = TypeEnum
		spec.Values = unique
		m.Set(path, spec)
	}
}

// dedupeValues removes duplicates preserving first occurrence. Values are
// compared by their JSON rendering so unhashable literals are tolerated.
func dedupeValues(vals []any) []any {
	seen := make(map[string]bool, len(vals))
	out := make([]any, 0, len(vals))

	for _, v := range vals {
		key, err := json.Marshal(v)
		if err != nil {
			continue
		}

		if seen[string(key)] {
			continue
		}

		seen[string(key)] = true

		out = append(out, v)
	}

	return out
}
