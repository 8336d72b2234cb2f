// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package script parses MongoDB-shell expressions of the form
db.<collection>.<operation>(...) into the named-parameter shape the execution
plane consumes.

The accepted grammar is deliberately small:

	db '.' IDENT '.' OP '(' ARGS? ')' CHAIN*

where ARGS are JSON-ish values (unquoted object keys and trailing commas are
tolerated with warnings) and CHAIN is one of .sort(OBJ), .limit(N), .skip(N),
.project(OBJ).

Dangerous operators — those that evaluate arbitrary code server-side — are
rejected unless the deployment explicitly allows them.
*/
package script

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/taibuivan/mongate/internal/platform/apperr"
)

// # Parsed Output

// Script is one parsed shell expression.
type Script struct {
	Collection string         `json:"collection"`
	Operation  string         `json:"operation"`
	Params     map[string]any `json:"params"`
	Meta       Meta           `json:"meta"`
}

// Meta carries parse diagnostics and the script's complexity accounting.
type Meta struct {
	Warnings           []string `json:"warnings,omitempty"`
	Complexity         int      `json:"complexity"`
	DangerousOperators []string `json:"dangerousOperators,omitempty"`
	StageCount         int      `json:"stageCount,omitempty"`
	Depth              int      `json:"depth"`
}

// paramPositions names each operation's canonical argument positions.
var paramPositions = map[string][]string{
	"find":           {"filter", "projection"},
	"findOne":        {"filter", "projection"},
	"insertOne":      {"document"},
	"insertMany":     {"documents"},
	"updateOne":      {"filter", "update"},
	"updateMany":     {"filter", "update"},
	"replaceOne":     {"filter", "replacement"},
	"deleteOne":      {"filter"},
	"deleteMany":     {"filter"},
	"aggregate":      {"pipeline"},
	"countDocuments": {"filter"},
	"distinct":       {"field", "query"},
}

// operationWeights feed the script side of the unified cost model.
var operationWeights = map[string]int{
	"find": 5, "findOne": 3,
	"insertOne": 4, "insertMany": 6,
	"updateOne": 6, "updateMany": 8,
	"replaceOne": 6,
	"deleteOne":  5, "deleteMany": 7,
	"aggregate":      10,
	"countDocuments": 3,
	"distinct":       4,
}

// dangerousKeys are operators that evaluate arbitrary code server-side.
var dangerousKeys = map[string]bool{
	"$where":       true,
	"$function":    true,
	"$accumulator": true,
}

// Cost weights for the script route of the unified model.
const (
	stageWeight     = 2
	depthWeight     = 3
	dangerousWeight = 25
)

// # Parser

// Parser tokenizes and reduces shell expressions.
type Parser struct {
	allowDangerous bool
}

// NewParser creates a Parser. allowDangerous gates $where-style operators.
func NewParser(allowDangerous bool) *Parser {
	return &Parser{allowDangerous: allowDangerous}
}

// Parse reduces one shell expression to its named-parameter form.
func (p *Parser) Parse(source string) (*Script, error) {
	s := &scanner{input: source}

	s.skipSpace()
	if !s.consumeWord("db") {
		return nil, apperr.ScriptParse("Script must start with 'db.'")
	}
	if !s.consumeByte('.') {
		return nil, apperr.ScriptParse("Expected '.' after 'db'")
	}

	collection, err := s.ident()
	if err != nil {
		return nil, err
	}
	if !s.consumeByte('.') {
		return nil, apperr.ScriptParse(fmt.Sprintf("Expected '.' after collection '%s'", collection))
	}

	operation, err := s.ident()
	if err != nil {
		return nil, err
	}
	positions, known := paramPositions[operation]
	if !known {
		return nil, apperr.ScriptParse(fmt.Sprintf("Unsupported operation '%s'", operation)).
			WithSuggestion("Supported operations: find, findOne, insertOne, insertMany, updateOne, updateMany, replaceOne, deleteOne, deleteMany, aggregate, countDocuments, distinct")
	}

	args, err := s.arguments()
	if err != nil {
		return nil, err
	}
	if len(args) > len(positions) {
		return nil, apperr.ScriptParse(fmt.Sprintf("Operation '%s' takes at most %d arguments, got %d", operation, len(positions), len(args)))
	}

	params := map[string]any{}
	for i, arg := range args {
		params[positions[i]] = arg
	}

	// Chained suffixes attach to the base call.
	if err := s.chains(params); err != nil {
		return nil, err
	}

	s.skipSpace()
	if !s.done() {
		return nil, apperr.ScriptParse(fmt.Sprintf("Unexpected trailing input at offset %d", s.pos))
	}

	scriptValue := &Script{
		Collection: collection,
		Operation:  operation,
		Params:     params,
		Meta:       Meta{Warnings: s.warnings},
	}
	p.analyze(scriptValue)

	if len(scriptValue.Meta.DangerousOperators) > 0 && !p.allowDangerous {
		return nil, apperr.ScriptSecurity(fmt.Sprintf(
			"Script uses dangerous operators: %s", strings.Join(scriptValue.Meta.DangerousOperators, ", ")))
	}

	return scriptValue, nil
}

// analyze computes depth, stage count, dangerous operators, and the
// complexity score.
func (p *Parser) analyze(s *Script) {
	depth := 0
	var dangerous []string
	for _, value := range s.Params {
		walkValue(value, 1, &depth, &dangerous)
	}

	if pipeline, ok := s.Params["pipeline"].([]any); ok {
		s.Meta.StageCount = len(pipeline)
	}

	s.Meta.Depth = depth
	s.Meta.DangerousOperators = dangerous
	s.Meta.Complexity = operationWeights[s.Operation] +
		stageWeight*s.Meta.StageCount +
		depthWeight*depth +
		dangerousWeight*len(dangerous)
}

// walkValue records nesting depth and dangerous operator keys.
func walkValue(value any, depth int, maxDepth *int, dangerous *[]string) {
	if depth > *maxDepth {
		*maxDepth = depth
	}
	switch typed := value.(type) {
	case map[string]any:
		for key, nested := range typed {
			if dangerousKeys[key] {
				*dangerous = append(*dangerous, key)
			}
			walkValue(nested, depth+1, maxDepth, dangerous)
		}
	case []any:
		for _, nested := range typed {
			walkValue(nested, depth+1, maxDepth, dangerous)
		}
	}
}

// # Scanner

// scanner is a single-pass cursor over the script source.
type scanner struct {
	input    string
	pos      int
	warnings []string
}

func (s *scanner) done() bool { return s.pos >= len(s.input) }

func (s *scanner) peek() byte {
	if s.done() {
		return 0
	}
	return s.input[s.pos]
}

func (s *scanner) skipSpace() {
	for !s.done() {
		switch s.input[s.pos] {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return
		}
	}
}

func (s *scanner) consumeByte(b byte) bool {
	s.skipSpace()
	if s.peek() == b {
		s.pos++
		return true
	}
	return false
}

func (s *scanner) consumeWord(word string) bool {
	s.skipSpace()
	if strings.HasPrefix(s.input[s.pos:], word) {
		after := s.pos + len(word)
		if after < len(s.input) && isIdentByte(s.input[after]) {
			return false
		}
		s.pos = after
		return true
	}
	return false
}

func (s *scanner) warn(format string, args ...any) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// ident scans one identifier.
func (s *scanner) ident() (string, error) {
	s.skipSpace()
	start := s.pos
	for !s.done() && isIdentByte(s.input[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		return "", apperr.ScriptParse(fmt.Sprintf("Expected identifier at offset %d", start))
	}
	return s.input[start:s.pos], nil
}

// arguments scans a parenthesized, comma-separated value list.
func (s *scanner) arguments() ([]any, error) {
	if !s.consumeByte('(') {
		return nil, apperr.ScriptParse(fmt.Sprintf("Expected '(' at offset %d", s.pos))
	}

	var args []any
	s.skipSpace()
	if s.consumeByte(')') {
		return args, nil
	}

	for {
		value, err := s.value()
		if err != nil {
			return nil, err
		}
		args = append(args, value)

		s.skipSpace()
		if s.consumeByte(',') {
			s.skipSpace()
			if s.peek() == ')' {
				s.warn("trailing comma in argument list")
				s.pos++
				return args, nil
			}
			continue
		}
		if s.consumeByte(')') {
			return args, nil
		}
		return nil, apperr.ScriptParse(fmt.Sprintf("Expected ',' or ')' at offset %d", s.pos))
	}
}

// chains scans trailing .sort(...)/.limit(n)/.skip(n)/.project(...) calls.
func (s *scanner) chains(params map[string]any) error {
	for {
		s.skipSpace()
		if s.peek() != '.' {
			return nil
		}
		s.pos++

		name, err := s.ident()
		if err != nil {
			return err
		}
		args, err := s.arguments()
		if err != nil {
			return err
		}

		switch name {
		case "sort", "project":
			if len(args) != 1 {
				return apperr.ScriptParse(fmt.Sprintf("%s() takes exactly one argument", name))
			}
			if _, ok := args[0].(map[string]any); !ok {
				return apperr.ScriptParse(fmt.Sprintf("%s() requires an object argument", name))
			}
			params[name] = args[0]

		case "limit", "skip":
			if len(args) != 1 {
				return apperr.ScriptParse(fmt.Sprintf("%s() takes exactly one argument", name))
			}
			number, ok := args[0].(int64)
			if !ok || number < 0 {
				return apperr.ScriptParse(fmt.Sprintf("%s() requires a non-negative integer", name))
			}
			params[name] = number

		default:
			return apperr.ScriptParse(fmt.Sprintf("Unsupported chained call '.%s()'", name))
		}
	}
}

// # JSON-ish Values

// value scans one JSON-ish value: object, array, string, number, boolean,
// null, or an ObjectId/ISODate constructor.
func (s *scanner) value() (any, error) {
	s.skipSpace()
	if s.done() {
		return nil, apperr.ScriptParse("Unexpected end of script")
	}

	switch b := s.peek(); {
	case b == '{':
		return s.object()
	case b == '[':
		return s.array()
	case b == '"' || b == '\'':
		return s.stringLiteral(b)
	case b == '-' || (b >= '0' && b <= '9'):
		return s.number()
	default:
		return s.bareword()
	}
}

// object scans a { key: value, ... } literal, tolerating unquoted keys.
func (s *scanner) object() (map[string]any, error) {
	s.pos++ // consume '{'
	result := map[string]any{}

	s.skipSpace()
	if s.consumeByte('}') {
		return result, nil
	}

	for {
		s.skipSpace()
		var key string
		var err error
		if b := s.peek(); b == '"' || b == '\'' {
			key, err = s.stringLiteral(b)
		} else {
			key, err = s.ident()
			if err == nil {
				s.warn("unquoted object key '%s'", key)
			}
		}
		if err != nil {
			return nil, err
		}

		if !s.consumeByte(':') {
			return nil, apperr.ScriptParse(fmt.Sprintf("Expected ':' after key '%s'", key))
		}

		value, err := s.value()
		if err != nil {
			return nil, err
		}
		result[key] = value

		s.skipSpace()
		if s.consumeByte(',') {
			s.skipSpace()
			if s.peek() == '}' {
				s.warn("trailing comma in object")
				s.pos++
				return result, nil
			}
			continue
		}
		if s.consumeByte('}') {
			return result, nil
		}
		return nil, apperr.ScriptParse(fmt.Sprintf("Expected ',' or '}' at offset %d", s.pos))
	}
}

// array scans a [ value, ... ] literal.
func (s *scanner) array() ([]any, error) {
	s.pos++ // consume '['
	result := []any{}

	s.skipSpace()
	if s.consumeByte(']') {
		return result, nil
	}

	for {
		value, err := s.value()
		if err != nil {
			return nil, err
		}
		result = append(result, value)

		s.skipSpace()
		if s.consumeByte(',') {
			s.skipSpace()
			if s.peek() == ']' {
				s.warn("trailing comma in array")
				s.pos++
				return result, nil
			}
			continue
		}
		if s.consumeByte(']') {
			return result, nil
		}
		return nil, apperr.ScriptParse(fmt.Sprintf("Expected ',' or ']' at offset %d", s.pos))
	}
}

// stringLiteral scans a quoted string with backslash escapes.
func (s *scanner) stringLiteral(quote byte) (string, error) {
	s.pos++ // consume opening quote
	var b strings.Builder

	for !s.done() {
		c := s.input[s.pos]
		switch c {
		case quote:
			s.pos++
			return b.String(), nil
		case '\\':
			s.pos++
			if s.done() {
				return "", apperr.ScriptParse("Unterminated escape sequence")
			}
			escaped := s.input[s.pos]
			switch escaped {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(escaped)
			}
			s.pos++
		default:
			b.WriteByte(c)
			s.pos++
		}
	}
	return "", apperr.ScriptParse("Unterminated string literal")
}

// number scans an integer or float literal.
func (s *scanner) number() (any, error) {
	start := s.pos
	if s.peek() == '-' {
		s.pos++
	}
	sawDot := false
	for !s.done() {
		c := s.input[s.pos]
		if c == '.' && !sawDot {
			sawDot = true
			s.pos++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		s.pos++
	}

	text := s.input[start:s.pos]
	if sawDot {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, apperr.ScriptParse(fmt.Sprintf("Malformed number '%s'", text))
		}
		return f, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, apperr.ScriptParse(fmt.Sprintf("Malformed number '%s'", text))
	}
	return n, nil
}

// bareword scans true/false/null and the ObjectId/ISODate constructors.
func (s *scanner) bareword() (any, error) {
	word, err := s.ident()
	if err != nil {
		return nil, err
	}

	switch word {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil

	case "ObjectId":
		// ObjectId("24-hex") keeps the hex string; the execution plane
		// re-casts against the collection descriptor.
		args, err := s.arguments()
		if err != nil {
			return nil, err
		}
		if len(args) != 1 {
			return nil, apperr.ScriptParse("ObjectId() takes exactly one argument")
		}
		hex, ok := args[0].(string)
		if !ok || len(hex) != 24 {
			return nil, apperr.ScriptParse("ObjectId() requires a 24-hex string")
		}
		return hex, nil

	case "ISODate":
		args, err := s.arguments()
		if err != nil {
			return nil, err
		}
		if len(args) != 1 {
			return nil, apperr.ScriptParse("ISODate() takes exactly one argument")
		}
		raw, ok := args[0].(string)
		if !ok {
			return nil, apperr.ScriptParse("ISODate() requires a string argument")
		}
		t, err2 := time.Parse(time.RFC3339, raw)
		if err2 != nil {
			return nil, apperr.ScriptParse(fmt.Sprintf("ISODate() cannot parse '%s'", raw))
		}
		return t, nil
	}

	return nil, apperr.ScriptParse(fmt.Sprintf("Unexpected token '%s'", word))
}
