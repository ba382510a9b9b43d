// Package mongoshell parses the MongoDB shell-language query strings the
// gateway accepts for the document engine (section 4.5 of the gateway
// specification) into a typed AST, and can render that AST back into shell
// syntax for the pretty-printer round-trip property.
package mongoshell

// Target identifies the receiver of the parsed operation.
type Target string

const (
	TargetCollection Target = "collection"
	TargetDB         Target = "db"
	TargetAdmin      Target = "admin"
)

// ChainCall is one link of a chained cursor method, e.g. `.sort({...})`.
type ChainCall struct {
	Name string
	Args []any
}

// Query is the parsed representation of a single shell statement.
type Query struct {
	Database   string
	Collection string
	Operation  string
	Args       []any
	Chain      []ChainCall
	Target     Target
}

// ParseError carries a remediation hint alongside the raw message, per the
// error handling design's "short remediation hint" requirement.
type ParseError struct {
	Message string
	Hint    string
}

func (e *ParseError) Error() string {
	if e.Hint == "" {
		return e.Message
	}

	return e.Message + " (" + e.Hint + ")"
}

func newParseError(message, hint string) *ParseError {
	return &ParseError{Message: message, Hint: hint}
}

// deprecatedOperations maps shell operations the spec requires to fail with
// a fixed migration message naming the modern equivalent.
var deprecatedOperations = map[string]string{
	"findAndModify": "use findOneAndUpdate, findOneAndReplace, or findOneAndDelete",
	"group":         "use aggregate with $group",
	"mapReduce":     "use aggregate",
	"insert":        "use insertOne or insertMany",
	"update":        "use updateOne, updateMany, or replaceOne",
	"remove":        "use deleteOne or deleteMany",
	"save":          "use insertOne or replaceOne with upsert",
	"ensureIndex":   "use createIndex",
	"copyTo":        "use aggregate with $merge or $out",
}

// rejectedChainMethods are chain calls explicitly rejected as deprecated or
// unnecessary (count()/toArray() terminal calls on a cursor).
var rejectedChainMethods = map[string]string{
	"count":   "use countDocuments() as the operation instead of chaining .count()",
	"toArray": "results are already materialized; remove the .toArray() call",
}

// recognizedChainMethods are the chain methods applied in order to
// cursor-producing operations (find, aggregate).
var recognizedChainMethods = map[string]bool{
	"sort":    true,
	"limit":   true,
	"skip":    true,
	"project": true,
}
