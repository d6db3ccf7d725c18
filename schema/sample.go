package schema

import (
	"regexp"
	"strings"
)

// isoDatePattern matches ISO-8601 date and datetime literals, the shape
// date values take in sampled JSON documents.
var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}:\d{2}(\.\d+)?Z?)?$`)

// IsDateLiteral reports whether s looks like an ISO-8601 date or
// datetime string.
func IsDateLiteral(s string) bool {
	return isoDatePattern.MatchString(s)
}

// modalOrder breaks ties between equally frequent observed types.
var modalOrder = []Type{TypeDate, TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray}

// maxArrayElementSample caps how many elements of an observed list are
// descended into when collecting element object fields.
const maxArrayElementSample = 10

type pathCounter struct {
	counts   map[Type]int
	itemType Type
}

type sampler struct {
	counters map[string]*pathCounter
	order    []string
}

// InferDocuments infers a FieldMap from sampled documents of a
// schemaless store. Each dotted path accumulates a counter per observed
// normalized type; the modal type wins. Keys starting with an underscore
// (store internals such as "_id") are skipped. An empty sample yields an
// empty FieldMap.
func InferDocuments(docs []map[string]any) *FieldMap {
	s := &sampler{counters: make(map[string]*pathCounter)}

	for _, doc := range docs {
		s.collect(doc, "")
	}

	fields := NewFieldMap()

	for _, path := range s.order {
		counter := s.counters[path]

		modal := counter.modal()
		if modal == "" {
			continue
		}

		spec := FieldSpec{Type: modal}
		if modal == TypeArray {
			spec.ItemType = counter.itemType
		}

		fields.Set(path, spec)
	}

	// Drop object parents that have leaves; only leaves appear.
	for _, path := range fields.Paths() {
		spec, _ := fields.Get(path)
		if spec.Type == TypeObject && hasLeaves(fields, path) {
			fields.Delete(path)
		}
	}

	return fields
}

func hasLeaves(m *FieldMap, parent string) bool {
	prefix := parent + "."

	for _, path := range m.Paths() {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

func (s *sampler) collect(doc map[string]any, prefix string) {
	for _, key := range sortedKeys(doc) {
		if strings.HasPrefix(key, "_") {
			continue
		}

		s.observe(joinPath(prefix, key), doc[key])
	}
}

func (s *sampler) observe(path string, value any) {
	counter, ok := s.counters[path]
	if !ok {
		counter = &pathCounter{counts: make(map[Type]int)}
		s.counters[path] = counter
		s.order = append(s.order, path)
	}

	switch v := value.(type) {
	case nil:
		// Nulls never constrain the type.

	case map[string]any:
		counter.counts[TypeObject]++

		s.collect(v, path)

	case []any:
		counter.counts[TypeArray]++

		if len(v) > 0 && counter.itemType == "" {
			counter.itemType = scalarType(v[0])
		}

		for i, elem := range v {
			if i == maxArrayElementSample {
				break
			}

			obj, isObj := elem.(map[string]any)
			if !isObj {
				break
			}

			s.collect(obj, path)
		}

	default:
		if t := scalarType(v); t != "" {
			counter.counts[t]++
		}
	}
}

// scalarType returns the normalized type for a sampled literal, or
// TypeObject/TypeArray for composites observed as array elements.
func scalarType(v any) Type {
	switch v := v.(type) {
	case bool:
		return TypeBoolean
	case float64, float32, int, int32, int64:
		return TypeNumber
	case string:
		if IsDateLiteral(v) {
			return TypeDate
		}

		return TypeString
	case map[string]any:
		return TypeObject
	case []any:
		return TypeArray
	}

	return ""
}

func (c *pathCounter) modal() Type {
	best := Type("")
	bestCount := 0

	for _, t := range modalOrder {
		if n := c.counts[t]; n > bestCount {
			best = t
			bestCount = n
		}
	}

	return best
}
