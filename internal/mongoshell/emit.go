package mongoshell

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Emit renders q back into shell syntax. It is the inverse of Parse used
// for the pretty-printer round-trip property: Parse(Emit(Parse(s))) must
// equal Parse(s).
func Emit(q *Query) string {
	var b strings.Builder

	b.WriteString("db")

	if q.Database != "" && q.Operation != "use" {
		fmt.Fprintf(&b, ".getSiblingDB(%s)", emitValue(q.Database))
	}

	switch q.Target {
	case TargetAdmin:
		fmt.Fprintf(&b, ".admin().%s(%s)", q.Operation, emitArgs(q.Args))
	case TargetDB:
		if q.Operation == "use" {
			return "use " + q.Database
		}

		fmt.Fprintf(&b, ".%s(%s)", q.Operation, emitArgs(q.Args))
	default:
		fmt.Fprintf(&b, ".%s.%s(%s)", q.Collection, q.Operation, emitArgs(q.Args))
	}

	for _, c := range q.Chain {
		fmt.Fprintf(&b, ".%s(%s)", c.Name, emitArgs(c.Args))
	}

	return b.String()
}

func emitArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = emitValue(a)
	}

	return strings.Join(parts, ", ")
}

func emitValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return fmt.Sprintf("NumberLong(%d)", val)
	case primitive.ObjectID:
		return fmt.Sprintf("ObjectId(%q)", val.Hex())
	case primitive.DateTime:
		return fmt.Sprintf("ISODate(%q)", val.Time().UTC().Format(time.RFC3339))
	case primitive.Regex:
		return "/" + val.Pattern + "/" + val.Options
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = emitValue(item)
		}

		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, strconv.Quote(k)+": "+emitValue(val[k]))
		}

		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", val)
	}
}
