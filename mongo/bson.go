package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// normalizeDocument rewrites driver-decoded values into plain JSON
// shapes: nested documents become map[string]any, arrays become []any,
// object IDs become hex strings, and timestamps become RFC 3339
// strings.
func normalizeDocument(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}

	return out
}

func normalizeValue(v any) any {
	switch value := v.(type) {
	case bson.M:
		return normalizeDocument(value)

	case map[string]any:
		return normalizeDocument(value)

	case bson.D:
		m := make(map[string]any, len(value))
		for _, e := range value {
			m[e.Key] = normalizeValue(e.Value)
		}

		return m

	case bson.A:
		items := make([]any, 0, len(value))
		for _, item := range value {
			items = append(items, normalizeValue(item))
		}

		return items

	case []any:
		items := make([]any, 0, len(value))
		for _, item := range value {
			items = append(items, normalizeValue(item))
		}

		return items

	case primitive.ObjectID:
		return value.Hex()

	case primitive.DateTime:
		return value.Time().UTC().Format(time.RFC3339)

	case time.Time:
		return value.UTC().Format(time.RFC3339)

	case primitive.Decimal128:
		return value.String()

	case int32:
		return int(value)

	case int64:
		return int(value)

	default:
		return v
	}
}
