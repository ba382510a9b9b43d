package mongoshell

import (
	"regexp"
	"strings"
)

var (
	showDBsPattern  = regexp.MustCompile(`(?i)^\s*show\s+(dbs|databases)\s*$`)
	showCollsPatttn = regexp.MustCompile(`(?i)^\s*show\s+collections\s*$`)
	usePattern      = regexp.MustCompile(`(?i)^\s*use\s+(\S+)\s*$`)
)

var dbLevelOps = map[string]bool{
	"use":                true,
	"stats":               true,
	"listDatabases":       true,
	"dropDatabase":        true,
	"dropCollection":      true,
	"createCollection":    true,
	"listCollections":     true,
	"getCollectionNames":  true,
}

var collectionOps = map[string]bool{
	"find": true, "findOne": true, "aggregate": true,
	"countDocuments": true, "count": true,
	"insertOne": true, "insertMany": true,
	"updateOne": true, "updateMany": true,
	"deleteOne": true, "deleteMany": true, "replaceOne": true,
	"findOneAndUpdate": true, "findOneAndDelete": true, "findOneAndReplace": true,
	"estimatedDocumentCount": true, "bulkWrite": true,
	"createIndex": true, "listIndexes": true, "getIndexes": true,
	"stats": true, "distinct": true, "dropIndex": true, "drop": true,
}

var adminOps = map[string]bool{
	"listDatabases": true,
	"stats":         true,
}

// Parse parses a single shell-style statement into a Query, per section 4.5.
func Parse(statement string) (*Query, error) {
	s := strings.TrimSpace(statement)
	s = strings.TrimSuffix(s, ";")
	s = strings.TrimSpace(s)
	s = stripOuterQuotes(s)

	if showDBsPattern.MatchString(s) {
		s = "db.admin().listDatabases()"
	} else if showCollsPatttn.MatchString(s) {
		s = "db.listCollections()"
	} else if m := usePattern.FindStringSubmatch(s); m != nil {
		name := strings.Trim(m[1], `'"`)
		return &Query{Target: TargetDB, Operation: "use", Args: []any{name}, Database: name}, nil
	}

	segments := splitTopLevelDots(s)
	if len(segments) == 0 || strings.TrimSpace(segments[0]) != "db" {
		return nil, newParseError("statement must start with db", "statements must begin with `db.`")
	}

	idx := 1

	q := &Query{}

	// Optional getSiblingDB("name").
	if idx < len(segments) {
		if name, args, ok := parseCallSegment(segments[idx]); ok && name == "getSiblingDB" {
			parsedArgs, err := parseMongoArgs(args)
			if err != nil {
				return nil, err
			}

			if len(parsedArgs) > 0 {
				if dbName, ok := parsedArgs[0].(string); ok {
					q.Database = dbName
				}
			}

			idx++
		}
	}

	if idx >= len(segments) {
		return nil, newParseError("missing operation after db", "expected db.<collection>.<op>(...) or db.<op>(...)")
	}

	// admin().op(...)
	if name, args, ok := parseCallSegment(segments[idx]); ok && name == "admin" {
		_ = args

		idx++
		if idx >= len(segments) {
			return nil, newParseError("missing operation after db.admin()", "expected db.admin().listDatabases() or .stats()")
		}

		opName, opArgs, ok2 := parseCallSegment(segments[idx])
		if !ok2 {
			return nil, newParseError("expected a method call after db.admin()", "check quotes, matching braces")
		}

		if !adminOps[opName] {
			return nil, newParseError("unsupported admin operation: "+opName, "supported: listDatabases, stats")
		}

		parsedArgs, err := parseMongoArgs(opArgs)
		if err != nil {
			return nil, err
		}

		q.Target = TargetAdmin
		q.Operation = opName
		q.Args = parsedArgs

		return q, nil
	}

	// db-level op: db.<op>(...)
	if name, args, ok := parseCallSegment(segments[idx]); ok && dbLevelOps[name] {
		if err := rejectDeprecated(name); err != nil {
			return nil, err
		}

		parsedArgs, err := parseMongoArgs(args)
		if err != nil {
			return nil, err
		}

		q.Target = TargetDB
		q.Operation = name
		q.Args = parsedArgs

		return q, nil
	}

	// collection-level: db.<collection>.<op>(...).<chain>...
	collection := strings.TrimSpace(segments[idx])
	if collection == "" {
		return nil, newParseError("missing collection name", "expected db.<collection>.<op>(...)")
	}

	idx++

	if idx >= len(segments) {
		return nil, newParseError("missing operation on collection "+collection, "expected .find(), .insertOne(), etc.")
	}

	opName, opArgs, ok := parseCallSegment(segments[idx])
	if !ok {
		return nil, newParseError("expected a method call on collection "+collection, "check quotes, matching braces")
	}

	if opName == "length" {
		return nil, newParseError(".length is not supported", "use countDocuments() instead")
	}

	if err := rejectDeprecated(opName); err != nil {
		return nil, err
	}

	if hint, rejected := rejectedChainMethods[opName]; rejected {
		return nil, newParseError("unsupported terminal operation: "+opName, hint)
	}

	if !collectionOps[opName] {
		return nil, newParseError("unsupported collection operation: "+opName, "check the operation name")
	}

	parsedArgs, err := parseMongoArgs(opArgs)
	if err != nil {
		return nil, err
	}

	q.Target = TargetCollection
	q.Collection = collection
	q.Operation = opName
	q.Args = parsedArgs

	idx++

	for ; idx < len(segments); idx++ {
		if strings.TrimSpace(segments[idx]) == "length" {
			return nil, newParseError(".length is not supported", "use countDocuments() instead")
		}

		chainName, chainArgs, ok := parseCallSegment(segments[idx])
		if !ok {
			return nil, newParseError("expected a chained method call", "check quotes, matching braces")
		}

		if hint, rejected := rejectedChainMethods[chainName]; rejected {
			return nil, newParseError("unsupported chained call: "+chainName, hint)
		}

		if !recognizedChainMethods[chainName] {
			return nil, newParseError("unsupported chained call: "+chainName, "supported: sort, limit, skip, project")
		}

		parsedChainArgs, err := parseMongoArgs(chainArgs)
		if err != nil {
			return nil, err
		}

		q.Chain = append(q.Chain, ChainCall{Name: chainName, Args: parsedChainArgs})
	}

	return q, nil
}

func rejectDeprecated(op string) error {
	if hint, ok := deprecatedOperations[op]; ok {
		return newParseError("deprecated operation: "+op, hint)
	}

	return nil
}

func parseCallSegment(seg string) (name, argsText string, ok bool) {
	seg = strings.TrimSpace(seg)

	ident, next := readIdent(seg, 0)
	if ident == "" || next >= len(seg) || seg[next] != '(' {
		return "", "", false
	}

	closeIdx, matched := findMatchingParen(seg, next)
	if !matched || closeIdx != len(seg)-1 {
		return "", "", false
	}

	return ident, seg[next+1 : closeIdx], true
}

func stripOuterQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}

	return s
}

// IsProjectionArg reports whether find's second argument should be treated
// as a projection document, per the spec's stated policy: a non-empty
// object containing none of the reserved option keys.
func IsProjectionArg(arg any) bool {
	m, ok := arg.(map[string]any)
	if !ok || len(m) == 0 {
		return false
	}

	reserved := []string{"sort", "limit", "skip", "collation"}
	for _, k := range reserved {
		if _, present := m[k]; present {
			return false
		}
	}

	return true
}
