package mongoshell

import (
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// revive walks a decoded JSON value (maps/slices of any) and replaces
// tagged marker objects (__$oid, __$date, __$numberLong, __$regex) with
// their BSON-typed equivalents, per section 4.5 / 9.
func revive(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if revived, ok := reviveMarker(val); ok {
			return revived
		}

		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = revive(sub)
		}

		return out

	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = revive(sub)
		}

		return out

	default:
		return v
	}
}

func reviveMarker(m map[string]any) (any, bool) {
	if len(m) == 1 {
		if hex, ok := m["__$oid"].(string); ok {
			oid, err := primitive.ObjectIDFromHex(hex)
			if err == nil {
				return oid, true
			}

			return hex, true
		}

		if ds, ok := m["__$date"].(string); ok {
			return parseDate(ds), true
		}

		if ns, ok := m["__$numberLong"].(string); ok {
			n, err := strconv.ParseInt(ns, 10, 64)
			if err == nil {
				return n, true
			}

			return ns, true
		}
	}

	if len(m) == 2 {
		pattern, hasPattern := m["__$regex"].(string)
		options, hasOptions := m["__$options"].(string)

		if hasPattern && hasOptions {
			return primitive.Regex{Pattern: pattern, Options: options}, true
		}
	}

	return nil, false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02",
}

func parseDate(s string) primitive.DateTime {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return primitive.NewDateTimeFromTime(t)
		}
	}

	return primitive.NewDateTimeFromTime(time.Time{})
}
