package mongoshell

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ctorNames are the shell constructor functions normalize() rewrites into
// tagged JSON markers.
var ctorNames = map[string]bool{
	"ObjectId":      true,
	"ISODate":       true,
	"NumberLong":    true,
	"NumberInt":     true,
	"NumberDecimal": true,
}

// normalize rewrites a raw shell argument-list substring (the text between
// the outer parentheses of a call, possibly containing several
// comma-separated JSON-like values) into valid JSON text with BSON markers,
// per parseMongoArgs in the specification.
func normalize(s string) (string, error) {
	var out strings.Builder

	i := 0
	n := len(s)

	for i < n {
		c := s[i]

		switch {
		case c == '\'':
			str, next, err := readSingleQuoted(s, i)
			if err != nil {
				return "", err
			}

			out.WriteString(jsonQuote(str))
			i = next

		case c == '"':
			str, next, err := readDoubleQuoted(s, i)
			if err != nil {
				return "", err
			}

			out.WriteString(jsonQuote(str))
			i = next

		case c == '/' && looksLikeRegexStart(&out):
			pattern, flags, next, ok := readRegexLiteral(s, i)
			if ok {
				out.WriteString(`{"__$regex":` + jsonQuote(pattern) + `,"__$options":` + jsonQuote(flags) + `}`)
				i = next
			} else {
				out.WriteByte(c)
				i++
			}

		case isIdentStart(c):
			ident, next := readIdent(s, i)

			if ident == "new" {
				rest := strings.TrimLeft(s[next:], " \t\n")
				if strings.HasPrefix(rest, "Date(") {
					skip := next + (len(s[next:]) - len(rest))
					call, after, ok := readCall(s, skip, "Date")
					if ok {
						inner := strings.TrimSpace(call)
						inner = strings.Trim(inner, `'"`)
						out.WriteString(`{"__$date":` + jsonQuote(inner) + `}`)
						i = after

						continue
					}
				}

				out.WriteString(ident)
				i = next

				continue
			}

			if ctorNames[ident] && next < n && s[next] == '(' {
				call, after, ok := readCall(s, next, ident)
				if ok {
					out.WriteString(renderCtor(ident, call))
					i = after

					continue
				}
			}

			// Unquoted object key: identifier immediately followed (after
			// optional whitespace) by ':'.
			lookahead := next

			for lookahead < n && (s[lookahead] == ' ' || s[lookahead] == '\t' || s[lookahead] == '\n') {
				lookahead++
			}

			if lookahead < n && s[lookahead] == ':' {
				out.WriteString(jsonQuote(ident))
			} else {
				out.WriteString(ident)
			}

			i = next

		default:
			out.WriteByte(c)
			i++
		}
	}

	return out.String(), nil
}

func readSingleQuoted(s string, start int) (string, int, error) {
	var b strings.Builder

	i := start + 1

	for i < len(s) {
		c := s[i]

		if c == '\\' && i+1 < len(s) {
			b.WriteByte(s[i+1])
			i += 2

			continue
		}

		if c == '\'' {
			return b.String(), i + 1, nil
		}

		b.WriteByte(c)
		i++
	}

	return b.String(), i, newParseError("unterminated string literal", "check quotes, matching braces")
}

func readDoubleQuoted(s string, start int) (string, int, error) {
	var b strings.Builder

	i := start + 1

	for i < len(s) {
		c := s[i]

		if c == '\\' && i+1 < len(s) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i += 2

			continue
		}

		if c == '"' {
			return b.String(), i + 1, nil
		}

		b.WriteByte(c)
		i++
	}

	return b.String(), i, newParseError("unterminated string literal", "check quotes, matching braces")
}

// jsonQuote renders s as a JSON string literal, re-escaping as needed. s
// may already carry backslash escapes copied verbatim from a double-quoted
// source, which json.Marshal will re-escape safely regardless.
func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func readIdent(s string, start int) (string, int) {
	i := start
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}

	return s[start:i], i
}

// readCall reads a `(...)` group starting at s[open] == '(' and returns its
// inner text (unparenthesized) and the index just past the closing paren.
func readCall(s string, open int, _ string) (string, int, bool) {
	closeIdx, ok := findMatchingParen(s, open)
	if !ok {
		return "", open, false
	}

	return s[open+1 : closeIdx], closeIdx + 1, true
}

func renderCtor(name, inner string) string {
	trimmed := strings.TrimSpace(inner)
	unquoted := strings.Trim(trimmed, `'"`)

	switch name {
	case "ObjectId":
		return `{"__$oid":` + jsonQuote(unquoted) + `}`
	case "ISODate":
		return `{"__$date":` + jsonQuote(unquoted) + `}`
	case "NumberLong":
		return `{"__$numberLong":` + jsonQuote(unquoted) + `}`
	case "NumberInt":
		if _, err := strconv.ParseInt(unquoted, 10, 32); err == nil {
			return unquoted
		}

		return "0"
	case "NumberDecimal":
		return jsonQuote(unquoted)
	default:
		return jsonQuote(unquoted)
	}
}

// looksLikeRegexStart is a heuristic: '/' begins a regex literal when the
// most recently emitted non-space output character is one that precedes a
// value position (start of buffer, '[', ',', '{', ':', '(').
func looksLikeRegexStart(out *strings.Builder) bool {
	str := out.String()

	for i := len(str) - 1; i >= 0; i-- {
		c := str[i]
		if c == ' ' || c == '\t' || c == '\n' {
			continue
		}

		return c == '[' || c == ',' || c == '{' || c == ':' || c == '('
	}

	return true
}

func readRegexLiteral(s string, start int) (pattern, flags string, next int, ok bool) {
	var b strings.Builder

	i := start + 1

	for i < len(s) {
		c := s[i]

		if c == '\\' && i+1 < len(s) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i += 2

			continue
		}

		if c == '/' {
			i++

			flagStart := i
			for i < len(s) && s[i] >= 'a' && s[i] <= 'z' {
				i++
			}

			return b.String(), s[flagStart:i], i, true
		}

		b.WriteByte(c)
		i++
	}

	return "", "", start, false
}

// parseMongoArgs parses a raw shell call's argument-list text into a slice
// of revived values, per section 4.5.
func parseMongoArgs(raw string) ([]any, error) {
	normalized, err := normalize(raw)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(normalized)
	if trimmed == "" {
		return []any{}, nil
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal([]byte("["+trimmed+"]"), &rawItems); err != nil {
		parts := splitTopLevelCommas(trimmed)
		rawItems = make([]json.RawMessage, 0, len(parts))

		for _, p := range parts {
			rawItems = append(rawItems, json.RawMessage(strings.TrimSpace(p)))
		}
	}

	out := make([]any, 0, len(rawItems))

	for _, item := range rawItems {
		var v any
		if err := json.Unmarshal(item, &v); err != nil {
			v = strings.Trim(string(item), `"`)
		}

		out = append(out, revive(v))
	}

	return out, nil
}
