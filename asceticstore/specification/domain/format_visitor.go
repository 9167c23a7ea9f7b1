package specification

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

var ErrUnsupportedValue = errors.New("specification: unsupported value")

// Format renders exp in the canonical textual predicate form, for example
// `NOT title CONTAINS[cd] "milk" AND priority >= 3`.
func Format(exp Visitable) (string, error) {
	v := NewFormatVisitor()
	if err := exp.Accept(v); err != nil {
		return "", err
	}
	return v.Result()
}

var comparisonTokens = map[operators.Operator]string{
	operators.OperatorEq:       "==",
	operators.OperatorNe:       "!=",
	operators.OperatorLt:       "<",
	operators.OperatorLte:      "<=",
	operators.OperatorGt:       ">",
	operators.OperatorGte:      ">=",
	operators.OperatorLike:     "LIKE",
	operators.OperatorContains: "CONTAINS",
}

func NewFormatVisitor() *FormatVisitor {
	v := &FormatVisitor{
		precedenceMapping: make(PrecedenceTable),
	}
	v.precedenceMapping.Set(80, "= NON", "!= NON", "< NON", "<= NON", "> NON", ">= NON",
		"LIKE NON", "CONTAINS NON", "IS NULL NON", "IS NOT NULL NON")
	v.precedenceMapping.Set(60, "NOT RIGHT")
	v.precedenceMapping.Set(50, "AND LEFT")
	v.precedenceMapping.Set(40, "OR LEFT")
	return v
}

type FormatVisitor struct {
	out               strings.Builder
	precedence        int
	precedenceMapping PrecedenceTable
}

func (v *FormatVisitor) visit(precedenceKey string, callable func() error) error {
	outerPrecedence := v.precedence
	innerPrecedence := v.precedenceMapping.Lookup(precedenceKey, outerPrecedence)
	v.precedence = innerPrecedence
	if innerPrecedence < outerPrecedence {
		v.out.WriteString("(")
	}
	if err := callable(); err != nil {
		return err
	}
	if innerPrecedence < outerPrecedence {
		v.out.WriteString(")")
	}
	v.precedence = outerPrecedence
	return nil
}

func (v *FormatVisitor) VisitGlobalScope(_ GlobalScopeNode) error {
	return nil
}

func (v *FormatVisitor) VisitObject(_ ObjectNode) error {
	return nil
}

func (v *FormatVisitor) VisitField(n FieldNode) error {
	v.out.WriteString(n.Key())
	return nil
}

func (v *FormatVisitor) VisitValue(n ValueNode) error {
	s, err := FormatValue(n.Value())
	if err != nil {
		return err
	}
	v.out.WriteString(s)
	return nil
}

func (v *FormatVisitor) VisitLiteral(n LiteralNode) error {
	if n.Value() {
		v.out.WriteString("TRUEPREDICATE")
	} else {
		v.out.WriteString("FALSEPREDICATE")
	}
	return nil
}

func (v *FormatVisitor) VisitComparison(n ComparisonNode) error {
	token, ok := comparisonTokens[n.Operator()]
	if !ok {
		return fmt.Errorf("specification: operator %q is not a comparison", n.Operator())
	}
	return v.visit(PrecedenceKey(n), func() error {
		if m := n.Modifier(); m != Direct {
			v.out.WriteString(m.String())
			v.out.WriteString(" ")
		}
		if err := n.Left().Accept(v); err != nil {
			return err
		}
		v.out.WriteString(" ")
		v.out.WriteString(token)
		if opts := n.Options(); opts != 0 {
			v.out.WriteString("[" + opts.String() + "]")
		}
		v.out.WriteString(" ")
		return n.Right().Accept(v)
	})
}

func (v *FormatVisitor) VisitRaw(n RawNode) error {
	text, err := Substitute(n.Format(), n.Args()...)
	if err != nil {
		return err
	}
	key := AnyOtherOperator
	if op, ok := n.Parsed().(Operable); ok {
		key = PrecedenceKey(op)
	}
	return v.visit(key, func() error {
		v.out.WriteString(text)
		return nil
	})
}

func (v *FormatVisitor) VisitPrefix(n PrefixNode) error {
	return v.visit(PrecedenceKey(n), func() error {
		v.out.WriteString(string(n.Operator()))
		v.out.WriteString(" ")
		return n.Operand().Accept(v)
	})
}

func (v *FormatVisitor) VisitInfix(n InfixNode) error {
	return v.visit(PrecedenceKey(n), func() error {
		if err := n.Left().Accept(v); err != nil {
			return err
		}
		v.out.WriteString(" ")
		v.out.WriteString(string(n.Operator()))
		v.out.WriteString(" ")
		return n.Right().Accept(v)
	})
}

func (v *FormatVisitor) VisitPostfix(n PostfixNode) error {
	return v.visit(PrecedenceKey(n), func() error {
		if err := n.Operand().Accept(v); err != nil {
			return err
		}
		if n.Operator() == operators.OperatorIsNull {
			v.out.WriteString(" == nil")
		} else {
			v.out.WriteString(" != nil")
		}
		return nil
	})
}

func (v *FormatVisitor) Result() (string, error) {
	return v.out.String(), nil
}

// FormatValue renders a constant the way the parser reads it back.
func FormatValue(value any) (string, error) {
	switch val := value.(type) {
	case nil:
		return "nil", nil
	case time.Time:
		return "DATE(" + Quote(val.UTC().Format(time.RFC3339Nano)) + ")", nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		return Quote(rv.String()), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
}

// Quote wraps s in double quotes, escaping backslashes and quotes.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// Substitute replaces %@ with formatted values and %K with key arguments.
func Substitute(format string, args ...any) (string, error) {
	var out strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			out.WriteByte(c)
			continue
		}
		switch format[i+1] {
		case '%':
			out.WriteByte('%')
		case '@', 'K':
			if next >= len(args) {
				return "", fmt.Errorf("specification: format %q needs more than %d arguments", format, len(args))
			}
			arg := args[next]
			next++
			if format[i+1] == 'K' {
				key, ok := arg.(string)
				if !ok {
					return "", fmt.Errorf("specification: %%K argument must be a string, got %T", arg)
				}
				out.WriteString(key)
			} else {
				s, err := FormatValue(arg)
				if err != nil {
					return "", err
				}
				out.WriteString(s)
			}
		default:
			out.WriteByte(c)
			continue
		}
		i++
	}
	if next != len(args) {
		return "", fmt.Errorf("specification: format %q takes %d arguments, got %d", format, next, len(args))
	}
	return out.String(), nil
}
