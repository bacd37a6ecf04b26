package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Restricted expression grammar for step gating and condition steps.
// Never dynamic code evaluation: expressions compile to a small AST
// evaluated against a scope map.
//
// Supported: comparisons (== != < <= > >=), boolean combinators
// (&& || ! plus the word forms and/or/not), parentheses, string and
// number and bool literals, dotted paths with literal indexing
// (steps.check.output, items[0], user["name"]), and the builtins
// len(x), empty(x), exists(x), contains(haystack, needle).
//
// Missing scope references resolve to nil rather than erroring, so
// exists()/empty() can probe for optional values. Wherever a boolean
// is needed the value is coerced: nil, "", 0, empty collections and
// false are falsy, everything else truthy.

// Condition is a compiled expression, reusable across evaluations.
type Condition struct {
	raw  string
	root exprNode
}

// CompileCondition parses an expression into a reusable Condition.
func CompileCondition(expr string) (*Condition, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("empty condition expression")
	}

	tokens, err := tokenizeCondition(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", trimmed, err)
	}

	p := &conditionParser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", trimmed, err)
	}
	if p.current().typ != tokEOF {
		return nil, fmt.Errorf("invalid condition %q: unexpected %q", trimmed, p.current().value)
	}

	return &Condition{raw: trimmed, root: root}, nil
}

// Eval evaluates the condition against a scope, coercing the final
// value to a boolean.
func (c *Condition) Eval(scope map[string]any) (bool, error) {
	value, err := c.root.eval(scope)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", c.raw, err)
	}
	return truthy(value), nil
}

func (c *Condition) String() string { return c.raw }

// EvalCondition compiles and evaluates in one call.
func EvalCondition(expr string, scope map[string]any) (bool, error) {
	cond, err := CompileCondition(expr)
	if err != nil {
		return false, err
	}
	return cond.Eval(scope)
}

// --- tokenizer ---

type condTokenType int

const (
	tokEOF condTokenType = iota
	tokIdent
	tokNumber
	tokString
	tokBool
	tokDot
	tokComma
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokEQ
	tokNE
	tokLT
	tokLE
	tokGT
	tokGE
	tokAnd
	tokOr
	tokNot
)

type condToken struct {
	typ   condTokenType
	value string
	pos   int
}

func tokenizeCondition(expr string) ([]condToken, error) {
	var tokens []condToken
	i := 0

	for i < len(expr) {
		c := expr[i]

		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			i++
			continue
		}

		switch c {
		case '.':
			tokens = append(tokens, condToken{tokDot, ".", i})
			i++
			continue
		case ',':
			tokens = append(tokens, condToken{tokComma, ",", i})
			i++
			continue
		case '(':
			tokens = append(tokens, condToken{tokLParen, "(", i})
			i++
			continue
		case ')':
			tokens = append(tokens, condToken{tokRParen, ")", i})
			i++
			continue
		case '[':
			tokens = append(tokens, condToken{tokLBracket, "[", i})
			i++
			continue
		case ']':
			tokens = append(tokens, condToken{tokRBracket, "]", i})
			i++
			continue
		}

		if i+1 < len(expr) {
			switch expr[i : i+2] {
			case "==":
				tokens = append(tokens, condToken{tokEQ, "==", i})
				i += 2
				continue
			case "!=":
				tokens = append(tokens, condToken{tokNE, "!=", i})
				i += 2
				continue
			case "<=":
				tokens = append(tokens, condToken{tokLE, "<=", i})
				i += 2
				continue
			case ">=":
				tokens = append(tokens, condToken{tokGE, ">=", i})
				i += 2
				continue
			case "&&":
				tokens = append(tokens, condToken{tokAnd, "&&", i})
				i += 2
				continue
			case "||":
				tokens = append(tokens, condToken{tokOr, "||", i})
				i += 2
				continue
			}
		}

		switch c {
		case '<':
			tokens = append(tokens, condToken{tokLT, "<", i})
			i++
			continue
		case '>':
			tokens = append(tokens, condToken{tokGT, ">", i})
			i++
			continue
		case '!':
			tokens = append(tokens, condToken{tokNot, "!", i})
			i++
			continue
		}

		if c == '"' || c == '\'' {
			quote := c
			i++
			var sb strings.Builder
			for i < len(expr) && expr[i] != quote {
				if expr[i] == '\\' && i+1 < len(expr) {
					sb.WriteByte(expr[i+1])
					i += 2
					continue
				}
				sb.WriteByte(expr[i])
				i++
			}
			if i >= len(expr) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, condToken{tokString, sb.String(), i})
			i++
			continue
		}

		if c >= '0' && c <= '9' {
			start := i
			for i < len(expr) && ((expr[i] >= '0' && expr[i] <= '9') || expr[i] == '.') {
				i++
			}
			tokens = append(tokens, condToken{tokNumber, expr[start:i], start})
			continue
		}

		if isIdentStart(c) {
			start := i
			for i < len(expr) && isIdentPart(expr[i]) {
				i++
			}
			word := expr[start:i]
			switch word {
			case "true", "false":
				tokens = append(tokens, condToken{tokBool, word, start})
			case "and":
				tokens = append(tokens, condToken{tokAnd, word, start})
			case "or":
				tokens = append(tokens, condToken{tokOr, word, start})
			case "not":
				tokens = append(tokens, condToken{tokNot, word, start})
			default:
				tokens = append(tokens, condToken{tokIdent, word, start})
			}
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
	}

	tokens = append(tokens, condToken{typ: tokEOF, pos: len(expr)})
	return tokens, nil
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// --- parser ---

type conditionParser struct {
	tokens []condToken
	pos    int
}

func (p *conditionParser) current() condToken {
	if p.pos >= len(p.tokens) {
		return condToken{typ: tokEOF}
	}
	return p.tokens[p.pos]
}

func (p *conditionParser) advance() { p.pos++ }

func (p *conditionParser) expect(typ condTokenType, what string) error {
	if p.current().typ != typ {
		return fmt.Errorf("expected %s, got %q", what, p.current().value)
	}
	p.advance()
	return nil
}

func (p *conditionParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current().typ == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *conditionParser) parseAnd() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.current().typ == tokAnd {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *conditionParser) parseUnary() (exprNode, error) {
	if p.current().typ == tokNot {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *conditionParser) parseComparison() (exprNode, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	switch op := p.current().typ; op {
	case tokEQ, tokNE, tokLT, tokLE, tokGT, tokGE:
		p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *conditionParser) parsePrimary() (exprNode, error) {
	tok := p.current()

	switch tok.typ {
	case tokBool:
		p.advance()
		return &literalNode{value: tok.value == "true"}, nil

	case tokNumber:
		p.advance()
		value, err := strconv.ParseFloat(tok.value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", tok.value)
		}
		return &literalNode{value: value}, nil

	case tokString:
		p.advance()
		return &literalNode{value: tok.value}, nil

	case tokLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return inner, nil

	case tokIdent:
		p.advance()
		if p.current().typ == tokLParen {
			return p.parseCall(tok.value)
		}
		return p.parsePath(tok.value)

	default:
		return nil, fmt.Errorf("unexpected %q at position %d", tok.value, tok.pos)
	}
}

func (p *conditionParser) parseCall(name string) (exprNode, error) {
	fn, ok := conditionBuiltins[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}

	p.advance() // consume '('
	var args []exprNode
	if p.current().typ != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.current().typ != tokComma {
				break
			}
			p.advance()
		}
	}
	if err := p.expect(tokRParen, `")"`); err != nil {
		return nil, err
	}
	if len(args) != fn.arity {
		return nil, fmt.Errorf("%s() requires exactly %d argument(s), got %d", name, fn.arity, len(args))
	}
	return &callNode{name: name, fn: fn.call, args: args}, nil
}

// parsePath consumes dotted fields and literal bracket indices after
// the leading identifier.
func (p *conditionParser) parsePath(first string) (exprNode, error) {
	segments := []pathSegment{{field: first}}

	for {
		switch p.current().typ {
		case tokDot:
			p.advance()
			if p.current().typ != tokIdent {
				return nil, fmt.Errorf("expected identifier after '.', got %q", p.current().value)
			}
			segments = append(segments, pathSegment{field: p.current().value})
			p.advance()

		case tokLBracket:
			p.advance()
			idx := p.current()
			switch idx.typ {
			case tokNumber:
				n, err := strconv.Atoi(idx.value)
				if err != nil {
					return nil, fmt.Errorf("invalid index %q", idx.value)
				}
				segments = append(segments, pathSegment{index: n, isIndex: true})
			case tokString:
				segments = append(segments, pathSegment{field: idx.value})
			default:
				return nil, fmt.Errorf("index must be a number or string literal, got %q", idx.value)
			}
			p.advance()
			if err := p.expect(tokRBracket, `"]"`); err != nil {
				return nil, err
			}

		default:
			return &pathNode{segments: segments}, nil
		}
	}
}

// --- AST ---

type exprNode interface {
	eval(scope map[string]any) (any, error)
}

type literalNode struct{ value any }

func (n *literalNode) eval(map[string]any) (any, error) { return n.value, nil }

type pathSegment struct {
	field   string
	index   int
	isIndex bool
}

type pathNode struct{ segments []pathSegment }

func (n *pathNode) eval(scope map[string]any) (any, error) {
	var current any = scope
	for _, seg := range n.segments {
		if current == nil {
			return nil, nil
		}
		if seg.isIndex {
			list, ok := current.([]any)
			if !ok {
				return nil, fmt.Errorf("cannot index %T with a number", current)
			}
			if seg.index < 0 || seg.index >= len(list) {
				return nil, nil
			}
			current = list[seg.index]
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot access field %q on %T", seg.field, current)
		}
		current = obj[seg.field]
	}
	return current, nil
}

type notNode struct{ operand exprNode }

func (n *notNode) eval(scope map[string]any) (any, error) {
	value, err := n.operand.eval(scope)
	if err != nil {
		return nil, err
	}
	return !truthy(value), nil
}

type binaryNode struct {
	op    condTokenType
	left  exprNode
	right exprNode
}

func (n *binaryNode) eval(scope map[string]any) (any, error) {
	left, err := n.left.eval(scope)
	if err != nil {
		return nil, err
	}

	// Short-circuit the boolean combinators.
	switch n.op {
	case tokAnd:
		if !truthy(left) {
			return false, nil
		}
		right, err := n.right.eval(scope)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case tokOr:
		if truthy(left) {
			return true, nil
		}
		right, err := n.right.eval(scope)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	right, err := n.right.eval(scope)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokEQ:
		return looseEquals(left, right), nil
	case tokNE:
		return !looseEquals(left, right), nil
	case tokLT, tokLE, tokGT, tokGE:
		return compareOrdered(left, right, n.op)
	}
	return nil, fmt.Errorf("unknown operator")
}

type callNode struct {
	name string
	fn   func(args []any) (any, error)
	args []exprNode
}

func (n *callNode) eval(scope map[string]any) (any, error) {
	args := make([]any, len(n.args))
	for i, arg := range n.args {
		value, err := arg.eval(scope)
		if err != nil {
			return nil, err
		}
		args[i] = value
	}
	return n.fn(args)
}

// --- builtins ---

type conditionBuiltin struct {
	arity int
	call  func(args []any) (any, error)
}

var conditionBuiltins = map[string]conditionBuiltin{
	"len": {1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		case nil:
			return float64(0), nil
		default:
			return nil, fmt.Errorf("len() requires a string, array, or map, got %T", args[0])
		}
	}},
	"empty": {1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case string:
			return v == "", nil
		case []any:
			return len(v) == 0, nil
		case map[string]any:
			return len(v) == 0, nil
		case nil:
			return true, nil
		default:
			return false, nil
		}
	}},
	"exists": {1, func(args []any) (any, error) {
		return args[0] != nil, nil
	}},
	"contains": {2, func(args []any) (any, error) {
		switch haystack := args[0].(type) {
		case string:
			needle, ok := args[1].(string)
			if !ok {
				return nil, fmt.Errorf("contains() on a string requires a string needle, got %T", args[1])
			}
			return strings.Contains(haystack, needle), nil
		case []any:
			for _, item := range haystack {
				if looseEquals(item, args[1]) {
					return true, nil
				}
			}
			return false, nil
		case map[string]any:
			key, ok := args[1].(string)
			if !ok {
				return nil, fmt.Errorf("contains() on a map requires a string key, got %T", args[1])
			}
			_, present := haystack[key]
			return present, nil
		case nil:
			return false, nil
		default:
			return nil, fmt.Errorf("contains() requires a string, array, or map, got %T", args[0])
		}
	}},
}

// --- value semantics ---

// truthy coerces a value to a boolean: nil, false, zero, empty string
// and empty collections are false.
func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case []any:
		return len(value) > 0
	case map[string]any:
		return len(value) > 0
	default:
		if n, ok := conditionNumber(v); ok {
			return n != 0
		}
		return true
	}
}

// looseEquals compares with numeric coercion so 3 == 3.0 holds across
// Go integer and float types.
func looseEquals(left, right any) bool {
	if left == nil && right == nil {
		return true
	}
	if left == nil || right == nil {
		return false
	}
	if ln, ok := conditionNumber(left); ok {
		if rn, ok := conditionNumber(right); ok {
			return ln == rn
		}
		return false
	}
	switch l := left.(type) {
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case string:
		r, ok := right.(string)
		return ok && l == r
	default:
		return false
	}
}

func compareOrdered(left, right any, op condTokenType) (any, error) {
	ln, lok := conditionNumber(left)
	rn, rok := conditionNumber(right)
	if lok && rok {
		switch op {
		case tokLT:
			return ln < rn, nil
		case tokLE:
			return ln <= rn, nil
		case tokGT:
			return ln > rn, nil
		case tokGE:
			return ln >= rn, nil
		}
	}

	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case tokLT:
			return ls < rs, nil
		case tokLE:
			return ls <= rs, nil
		case tokGT:
			return ls > rs, nil
		case tokGE:
			return ls >= rs, nil
		}
	}

	return nil, fmt.Errorf("cannot compare %T and %T", left, right)
}

func conditionNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
