package schema

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/goccy/go-yaml"
)

// searchTypes maps search-engine mapping types to normalized type tags.
var searchTypes = map[string]Type{
	"text":         TypeString,
	"keyword":      TypeString,
	"integer":      TypeNumber,
	"long":         TypeNumber,
	"short":        TypeNumber,
	"byte":         TypeNumber,
	"double":       TypeNumber,
	"float":        TypeNumber,
	"half_float":   TypeNumber,
	"scaled_float": TypeNumber,
	"boolean":      TypeBoolean,
	"date":         TypeDate,
	"object":       TypeObject,
	"nested":       TypeArray,
}

// ignoredMappingTypes are mapping types that never become queryable fields.
var ignoredMappingTypes = map[string]bool{
	"alias": true,
}

// NormalizeSearchType returns the normalized tag for a search-engine
// mapping type.
func NormalizeSearchType(mappingType string) (Type, bool) {
	t, ok := searchTypes[mappingType]

	return t, ok
}

// MappingOption configures [ParseMapping].
type MappingOption func(*mappingWalker)

// WithIgnoredFields drops the given dotted paths from the result.
func WithIgnoredFields(paths ...string) MappingOption {
	return func(w *mappingWalker) {
		w.ignore = append(w.ignore, paths...)
	}
}

type mappingWalker struct {
	fields *FieldMap
	ignore []string
}

// ParseMapping walks a search-engine "properties" tree and returns the
// flattened FieldMap. Object subtrees contribute only their leaves;
// nested subtrees contribute the parent as an array of objects plus the
// element leaves. Malformed entries are skipped with a warning.
func ParseMapping(properties map[string]any, opts ...MappingOption) (*FieldMap, error) {
	if properties == nil {
		return nil, fmt.Errorf("%w: missing properties", ErrInvalidMapping)
	}

	w := &mappingWalker{fields: NewFieldMap()}

	for _, opt := range opts {
		opt(w)
	}

	w.walk(properties, "")

	for _, path := range w.ignore {
		w.fields.Delete(path)
	}

	return w.fields, nil
}

func (w *mappingWalker) walk(properties map[string]any, prefix string) {
	for _, name := range sortedKeys(properties) {
		raw := properties[name]

		props, ok := raw.(map[string]any)
		if !ok {
			slog.Warn("skipping malformed mapping entry",
				slog.String("field", joinPath(prefix, name)),
			)

			continue
		}

		w.walkField(joinPath(prefix, name), props)
	}
}

func (w *mappingWalker) walkField(path string, props map[string]any) {
	mappingType, _ := props["type"].(string)
	if ignoredMappingTypes[mappingType] {
		return
	}

	children, hasChildren := props["properties"].(map[string]any)

	// A field with properties and no explicit type is an object.
	if mappingType == "" {
		if !hasChildren {
			slog.Warn("skipping mapping entry without type",
				slog.String("field", path),
			)

			return
		}

		mappingType = "object"
	}

	normalized, ok := NormalizeSearchType(mappingType)
	if !ok {
		slog.Warn("skipping unsupported mapping type",
			slog.String("field", path),
			slog.String("type", mappingType),
		)

		return
	}

	switch normalized {
	case TypeObject:
		// Only leaves appear; recurse without adding the parent.
		if hasChildren {
			w.walk(children, path)
		}

	case TypeArray:
		w.fields.Set(path, FieldSpec{Type: TypeArray, ItemType: TypeObject})

		if hasChildren {
			w.walk(children, path)
		}

	default:
		spec := FieldSpec{Type: normalized}
		if normalized == TypeString && mappingType == "text" {
			spec.ExactMatch = true
		}

		w.fields.Set(path, spec)
	}
}

// ParseMappingDocument decodes a mapping document provided as JSON or
// YAML and returns its properties tree. The document may be the bare
// properties object, or wrapped in "mappings" and/or "properties" keys
// the way index-mapping APIs return it.
func ParseMappingDocument(data []byte) (map[string]any, error) {
	var doc map[string]any

	if err := json.Unmarshal(data, &doc); err != nil {
		if yamlErr := yaml.Unmarshal(data, &doc); yamlErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidMapping, yamlErr)
		}
	}

	if inner, ok := doc["mappings"].(map[string]any); ok {
		doc = inner
	}

	if inner, ok := doc["properties"].(map[string]any); ok {
		return inner, nil
	}

	// Already a bare properties tree.
	return doc, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}

	return prefix + "." + name
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
