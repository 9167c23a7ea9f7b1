package specification

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jinzhu/inflection"

	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

// CompileToPostgresql compiles a predicate into a WHERE clause over the
// jsonb data column.
func CompileToPostgresql(exp s.Visitable, opts ...PostgresqlVisitorOption) (sql string, params []any, err error) {
	v := NewPostgresqlVisitor(opts...)
	err = exp.Accept(v)
	if err != nil {
		return "", nil, err
	}
	return v.Result()
}

type PostgresqlVisitorOption func(*PostgresqlVisitor)

func PlaceholderIndex(index int) PostgresqlVisitorOption {
	return func(v *PostgresqlVisitor) {
		v.placeholderIndex = index
	}
}

func DataColumn(column string) PostgresqlVisitorOption {
	return func(v *PostgresqlVisitor) {
		v.dataColumn = column
	}
}

func NewPostgresqlVisitor(opts ...PostgresqlVisitorOption) *PostgresqlVisitor {
	v := &PostgresqlVisitor{
		dataColumn:        DefaultDataColumn,
		precedenceMapping: make(s.PrecedenceTable),
	}
	// https://www.postgresql.org/docs/14/sql-syntax-lexical.html#SQL-PRECEDENCE-TABLE
	v.precedenceMapping.Set(100, s.AnyOtherOperator)
	v.precedenceMapping.Set(90, "LIKE NON", "CONTAINS NON")
	v.precedenceMapping.Set(80, "< NON", "> NON", "= NON", "<= NON", ">= NON", "!= NON")
	v.precedenceMapping.Set(70, "IS NULL NON", "IS NOT NULL NON")
	v.precedenceMapping.Set(60, "NOT RIGHT")
	v.precedenceMapping.Set(50, "AND LEFT")
	v.precedenceMapping.Set(40, "OR LEFT")
	for i := range opts {
		opts[i](v)
	}
	return v
}

type PostgresqlVisitor struct {
	sql               strings.Builder
	placeholderIndex  int
	parameters        []any
	dataColumn        string
	precedence        int
	precedenceMapping s.PrecedenceTable
	elementCounter    int
}

func (v *PostgresqlVisitor) visit(precedenceKey string, callable func() error) error {
	outerPrecedence := v.precedence
	innerPrecedence := v.precedenceMapping.Lookup(precedenceKey, outerPrecedence)
	v.precedence = innerPrecedence
	if innerPrecedence < outerPrecedence {
		v.sql.WriteString("(")
	}
	err := callable()
	if err != nil {
		return err
	}
	if innerPrecedence < outerPrecedence {
		v.sql.WriteString(")")
	}
	v.precedence = outerPrecedence
	return nil
}

func (v *PostgresqlVisitor) placeholder(value any, cast string) string {
	v.parameters = append(v.parameters, value)
	return fmt.Sprintf("$%d%s", v.placeholderIndex+len(v.parameters), cast)
}

func (v *PostgresqlVisitor) jsonbPlaceholder(value any) (string, error) {
	encoded, err := json.Marshal(NormalizeValue(value))
	if err != nil {
		return "", err
	}
	return v.placeholder(string(encoded), "::jsonb"), nil
}

// PostgresqlFieldExpression renders key as a jsonb (asText false) or text
// (asText true) expression over the data column.
func PostgresqlFieldExpression(dataColumn, key string, asText bool) (string, error) {
	if err := s.ValidateKey(key); err != nil {
		return "", err
	}
	parts := strings.Split(key, ".")
	if len(parts) == 1 {
		if asText {
			return fmt.Sprintf("%s->>'%s'", dataColumn, key), nil
		}
		return fmt.Sprintf("%s->'%s'", dataColumn, key), nil
	}
	op := "#>"
	if asText {
		op = "#>>"
	}
	return fmt.Sprintf("%s %s '{%s}'", dataColumn, op, strings.Join(parts, ",")), nil
}

func (v *PostgresqlVisitor) VisitGlobalScope(_ s.GlobalScopeNode) error {
	return nil
}

func (v *PostgresqlVisitor) VisitObject(_ s.ObjectNode) error {
	return nil
}

func (v *PostgresqlVisitor) VisitField(n s.FieldNode) error {
	expr, err := PostgresqlFieldExpression(v.dataColumn, n.Key(), false)
	if err != nil {
		return err
	}
	v.sql.WriteString(expr)
	return nil
}

func (v *PostgresqlVisitor) VisitValue(n s.ValueNode) error {
	placeholder, err := v.jsonbPlaceholder(n.Value())
	if err != nil {
		return err
	}
	v.sql.WriteString(placeholder)
	return nil
}

func (v *PostgresqlVisitor) VisitLiteral(n s.LiteralNode) error {
	if n.Value() {
		v.sql.WriteString("TRUE")
	} else {
		v.sql.WriteString("FALSE")
	}
	return nil
}

func (v *PostgresqlVisitor) VisitRaw(n s.RawNode) error {
	return n.Parsed().Accept(v)
}

func (v *PostgresqlVisitor) VisitComparison(n s.ComparisonNode) error {
	key := n.Left().Key()
	if n.Modifier() == s.Direct {
		return v.visit(s.PrecedenceKey(n), func() error {
			lhs, lhsText, err := v.fieldOperands(key)
			if err != nil {
				return err
			}
			return v.writeCondition(n, lhs, lhsText)
		})
	}

	collection, err := PostgresqlFieldExpression(v.dataColumn, key, false)
	if err != nil {
		return err
	}
	v.elementCounter++
	alias := fmt.Sprintf("%s_%d", strings.ToLower(inflection.Singular(lastKeyPart(key))), v.elementCounter)
	elements := fmt.Sprintf(
		"jsonb_array_elements(CASE WHEN jsonb_typeof(%s) = 'array' THEN %s ELSE '[]'::jsonb END) AS %s",
		collection, collection, alias,
	)
	if n.Modifier() == s.Any {
		v.sql.WriteString("EXISTS (SELECT 1 FROM " + elements + " WHERE ")
		if err := v.writeCondition(n, alias, alias+" #>> '{}'"); err != nil {
			return err
		}
		v.sql.WriteString(")")
		return nil
	}
	v.sql.WriteString("(jsonb_typeof(" + collection + ") = 'array' AND NOT EXISTS (SELECT 1 FROM " + elements + " WHERE NOT (")
	if err := v.writeCondition(n, alias, alias+" #>> '{}'"); err != nil {
		return err
	}
	v.sql.WriteString(")))")
	return nil
}

func (v *PostgresqlVisitor) fieldOperands(key string) (jsonb, text string, err error) {
	jsonb, err = PostgresqlFieldExpression(v.dataColumn, key, false)
	if err != nil {
		return "", "", err
	}
	text, err = PostgresqlFieldExpression(v.dataColumn, key, true)
	if err != nil {
		return "", "", err
	}
	return jsonb, text, nil
}

// writeCondition renders one comparison. String matching and folded
// comparisons work on text, everything else compares jsonb values.
func (v *PostgresqlVisitor) writeCondition(n s.ComparisonNode, lhs, lhsText string) error {
	value := n.Right().Value()
	op := n.Operator()
	textual := op.IsStringMatch() || (n.Options() != 0 && isStringValue(value))
	if !textual {
		rhs, err := v.jsonbPlaceholder(value)
		if err != nil {
			return err
		}
		v.sql.WriteString(lhs + " " + string(op) + " " + rhs)
		return nil
	}
	if !isStringValue(value) {
		return fmt.Errorf("operator %s requires a string value, got %T", op, value)
	}
	pattern := NormalizeValue(value).(string)
	if op == operators.OperatorLike {
		pattern = likePattern(pattern)
	}
	left := postgresqlFold(lhsText, n.Options())
	right := postgresqlFold(v.placeholder(pattern, ""), n.Options())
	switch op {
	case operators.OperatorLike:
		v.sql.WriteString(left + " LIKE " + right)
	case operators.OperatorContains:
		v.sql.WriteString("strpos(" + left + ", " + right + ") > 0")
	default:
		v.sql.WriteString(left + " " + string(op) + " " + right)
	}
	return nil
}

func postgresqlFold(expr string, opts operators.Options) string {
	if opts.Has(operators.DiacriticInsensitive) {
		expr = "unaccent(" + expr + ")"
	}
	if opts.Has(operators.CaseInsensitive) {
		expr = "lower(" + expr + ")"
	}
	return expr
}

func (v *PostgresqlVisitor) VisitPrefix(node s.PrefixNode) error {
	return v.visit(s.PrecedenceKey(node), func() error {
		v.sql.WriteString(string(node.Operator()) + " ")
		return node.Operand().Accept(v)
	})
}

func (v *PostgresqlVisitor) VisitInfix(n s.InfixNode) error {
	return v.visit(s.PrecedenceKey(n), func() error {
		err := n.Left().Accept(v)
		if err != nil {
			return err
		}
		v.sql.WriteString(fmt.Sprintf(" %s ", n.Operator()))
		return n.Right().Accept(v)
	})
}

func (v *PostgresqlVisitor) VisitPostfix(node s.PostfixNode) error {
	return v.visit(s.PrecedenceKey(node), func() error {
		if field, ok := node.Operand().(s.FieldNode); ok {
			expr, err := PostgresqlFieldExpression(v.dataColumn, field.Key(), true)
			if err != nil {
				return err
			}
			v.sql.WriteString(expr)
		} else if err := node.Operand().Accept(v); err != nil {
			return err
		}
		v.sql.WriteString(fmt.Sprintf(" %s", node.Operator()))
		return nil
	})
}

func (v *PostgresqlVisitor) Result() (sql string, params []any, err error) {
	return v.sql.String(), v.parameters, nil
}
