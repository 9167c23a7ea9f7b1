package specification

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenOperator
	tokenOptions
	tokenLParen
	tokenRParen
	tokenValueArg
	tokenKeyArg
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// SyntaxError reports where a textual predicate could not be read.
type SyntaxError struct {
	Input    string
	Position int
	Message  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("specification: %s at position %d in %q", e.Message, e.Position, e.Input)
}

// Parse reads a textual predicate. %@ placeholders take values from args,
// %K placeholders take keys.
func Parse(format string, args ...any) (Visitable, error) {
	tokens, err := tokenize(format)
	if err != nil {
		return nil, err
	}
	p := &parser{input: format, tokens: tokens, args: args}
	exp, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokenEOF {
		return nil, p.errorAt(t, "unexpected %q", t.text)
	}
	if p.nextArg != len(args) {
		return nil, &SyntaxError{Input: format, Position: len(format),
			Message: fmt.Sprintf("%d arguments given, %d used", len(args), p.nextArg)}
	}
	return exp, nil
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++
		case c == '[':
			end := strings.IndexByte(input[i:], ']')
			if end < 0 {
				return nil, &SyntaxError{Input: input, Position: i, Message: "unterminated options"}
			}
			tokens = append(tokens, token{tokenOptions, input[i+1 : i+end], i})
			i += end + 1
		case c == '"' || c == '\'':
			s, n, err := readString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tokenString, s, i})
			i += n
		case c == '%':
			if i+1 < len(input) && input[i+1] == '@' {
				tokens = append(tokens, token{tokenValueArg, "%@", i})
			} else if i+1 < len(input) && input[i+1] == 'K' {
				tokens = append(tokens, token{tokenKeyArg, "%K", i})
			} else {
				return nil, &SyntaxError{Input: input, Position: i, Message: "unknown placeholder"}
			}
			i += 2
		case c == '-' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(input) && strings.IndexByte("0123456789.eE+-", input[j]) >= 0 {
				if (input[j] == '+' || input[j] == '-') && input[j-1] != 'e' && input[j-1] != 'E' {
					break
				}
				j++
			}
			tokens = append(tokens, token{tokenNumber, input[i:j], i})
			i = j
		case strings.IndexByte("=!<>&|", c) >= 0:
			j := i + 1
			if j < len(input) && strings.IndexByte("=<>&|", input[j]) >= 0 {
				j++
			}
			tokens = append(tokens, token{tokenOperator, input[i:j], i})
			i = j
		case c == '_' || unicode.IsLetter(rune(c)):
			j := i + 1
			for j < len(input) && (input[j] == '_' || input[j] == '.' ||
				unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j]))) {
				j++
			}
			tokens = append(tokens, token{tokenIdent, input[i:j], i})
			i = j
		default:
			return nil, &SyntaxError{Input: input, Position: i, Message: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	tokens = append(tokens, token{tokenEOF, "", len(input)})
	return tokens, nil
}

func readString(input string, start int) (string, int, error) {
	quote := input[start]
	var b strings.Builder
	for i := start + 1; i < len(input); i++ {
		c := input[i]
		switch {
		case c == '\\' && i+1 < len(input):
			i++
			switch input[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(input[i])
			}
		case c == quote:
			return b.String(), i - start + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, &SyntaxError{Input: input, Position: start, Message: "unterminated string"}
}

var operatorTokens = map[string]operators.Operator{
	"==":       operators.OperatorEq,
	"=":        operators.OperatorEq,
	"!=":       operators.OperatorNe,
	"<>":       operators.OperatorNe,
	"<":        operators.OperatorLt,
	"<=":       operators.OperatorLte,
	"=<":       operators.OperatorLte,
	">":        operators.OperatorGt,
	">=":       operators.OperatorGte,
	"=>":       operators.OperatorGte,
	"LIKE":     operators.OperatorLike,
	"CONTAINS": operators.OperatorContains,
}

type parser struct {
	input   string
	tokens  []token
	pos     int
	args    []any
	nextArg int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorAt(t token, format string, args ...any) error {
	return &SyntaxError{Input: p.input, Position: t.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) keyword(t token, words ...string) bool {
	if t.kind != tokenIdent {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.text, w) {
			return true
		}
	}
	return false
}

func (p *parser) parseOr() (Visitable, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); p.keyword(t, "OR") || (t.kind == tokenOperator && t.text == "||"); t = p.peek() {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Or(left, right)
	}
	return left, nil
}

func (p *parser) parseAnd() (Visitable, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); p.keyword(t, "AND") || (t.kind == tokenOperator && t.text == "&&"); t = p.peek() {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = And(left, right)
	}
	return left, nil
}

func (p *parser) parseNot() (Visitable, error) {
	t := p.peek()
	if p.keyword(t, "NOT") || (t.kind == tokenOperator && t.text == "!") {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Not(operand), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Visitable, error) {
	t := p.peek()
	switch {
	case t.kind == tokenLParen:
		p.next()
		exp, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, p.errorAt(closing, "expected \")\"")
		}
		return exp, nil
	case p.keyword(t, "TRUEPREDICATE"):
		p.next()
		return True(), nil
	case p.keyword(t, "FALSEPREDICATE"):
		p.next()
		return False(), nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Visitable, error) {
	modifier := Direct
	if t := p.peek(); p.keyword(t, "ANY", "SOME") {
		p.next()
		modifier = Any
	} else if p.keyword(t, "ALL") {
		p.next()
		modifier = All
	}

	field, err := p.parseKey()
	if err != nil {
		return nil, err
	}

	opToken := p.next()
	op, ok := operatorTokens[strings.ToUpper(opToken.text)]
	if !ok || (opToken.kind != tokenOperator && opToken.kind != tokenIdent) {
		return nil, p.errorAt(opToken, "expected comparison operator, got %q", opToken.text)
	}

	var options operators.Options
	if t := p.peek(); t.kind == tokenOptions {
		p.next()
		for _, c := range strings.ToLower(t.text) {
			switch c {
			case 'c':
				options |= operators.CaseInsensitive
			case 'd':
				options |= operators.DiacriticInsensitive
			default:
				return nil, p.errorAt(t, "unknown option %q", c)
			}
		}
	}

	valueToken := p.peek()
	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if value == nil {
		if modifier != Direct || options != 0 {
			return nil, p.errorAt(valueToken, "nil comparison takes no modifier or options")
		}
		switch op {
		case operators.OperatorEq:
			return IsNull(field), nil
		case operators.OperatorNe:
			return IsNotNull(field), nil
		}
		return nil, p.errorAt(valueToken, "operator %q cannot compare with nil", op)
	}
	return Compare(field, op, Value(value), modifier, options), nil
}

func (p *parser) parseKey() (FieldNode, error) {
	t := p.next()
	switch t.kind {
	case tokenIdent:
		if err := ValidateKey(t.text); err != nil {
			return FieldNode{}, p.errorAt(t, "%s", err.Error())
		}
		return KeyPath(t.text), nil
	case tokenKeyArg:
		arg, err := p.arg(t)
		if err != nil {
			return FieldNode{}, err
		}
		key, ok := arg.(string)
		if !ok {
			return FieldNode{}, p.errorAt(t, "%%K argument must be a string, got %T", arg)
		}
		if err := ValidateKey(key); err != nil {
			return FieldNode{}, p.errorAt(t, "%s", err.Error())
		}
		return KeyPath(key), nil
	}
	return FieldNode{}, p.errorAt(t, "expected key, got %q", t.text)
}

func (p *parser) arg(t token) (any, error) {
	if p.nextArg >= len(p.args) {
		return nil, p.errorAt(t, "missing argument for %s", t.text)
	}
	arg := p.args[p.nextArg]
	p.nextArg++
	return arg, nil
}

func (p *parser) parseValue() (any, error) {
	t := p.next()
	switch t.kind {
	case tokenString:
		return t.text, nil
	case tokenNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorAt(t, "invalid number %q", t.text)
		}
		return f, nil
	case tokenValueArg:
		return p.arg(t)
	case tokenIdent:
		switch {
		case p.keyword(t, "nil", "NULL"):
			return nil, nil
		case p.keyword(t, "true", "YES"):
			return true, nil
		case p.keyword(t, "false", "NO"):
			return false, nil
		case p.keyword(t, "DATE"):
			return p.parseDate()
		}
	}
	return nil, p.errorAt(t, "expected value, got %q", t.text)
}

func (p *parser) parseDate() (any, error) {
	if t := p.next(); t.kind != tokenLParen {
		return nil, p.errorAt(t, "expected \"(\" after DATE")
	}
	t := p.next()
	if t.kind != tokenString {
		return nil, p.errorAt(t, "expected quoted timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, t.text)
	if err != nil {
		return nil, p.errorAt(t, "invalid timestamp %q", t.text)
	}
	if closing := p.next(); closing.kind != tokenRParen {
		return nil, p.errorAt(closing, "expected \")\"")
	}
	return ts.UTC(), nil
}
