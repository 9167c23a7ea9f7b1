package specification

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"

	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

// FoldFunction is the SQL function the SQLite engine registers for case and
// diacritic folding: fold(text, flags) with flags "c", "d" or "cd".
const FoldFunction = "fold"

// CompileToSqlite compiles a predicate into a WHERE clause over the JSON
// data column.
func CompileToSqlite(exp s.Visitable, opts ...SqliteVisitorOption) (sql string, params []any, err error) {
	v := NewSqliteVisitor(opts...)
	err = exp.Accept(v)
	if err != nil {
		return "", nil, err
	}
	return v.Result()
}

type SqliteVisitorOption func(*SqliteVisitor)

func SqliteDataColumn(column string) SqliteVisitorOption {
	return func(v *SqliteVisitor) {
		v.dataColumn = column
	}
}

func NewSqliteVisitor(opts ...SqliteVisitorOption) *SqliteVisitor {
	v := &SqliteVisitor{
		dataColumn:        DefaultDataColumn,
		precedenceMapping: make(s.PrecedenceTable),
	}
	// https://www.sqlite.org/lang_expr.html#operators_and_parse_affecting_attributes
	v.precedenceMapping.Set(100, s.AnyOtherOperator)
	v.precedenceMapping.Set(80, "< NON", "> NON", "<= NON", ">= NON")
	v.precedenceMapping.Set(70, "= NON", "!= NON", "LIKE NON", "CONTAINS NON", "IS NULL NON", "IS NOT NULL NON")
	v.precedenceMapping.Set(60, "NOT RIGHT")
	v.precedenceMapping.Set(50, "AND LEFT")
	v.precedenceMapping.Set(40, "OR LEFT")
	for i := range opts {
		opts[i](v)
	}
	return v
}

type SqliteVisitor struct {
	sql               strings.Builder
	parameters        []any
	dataColumn        string
	precedence        int
	precedenceMapping s.PrecedenceTable
	elementCounter    int
}

func (v *SqliteVisitor) visit(precedenceKey string, callable func() error) error {
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

func (v *SqliteVisitor) placeholder(value any) string {
	v.parameters = append(v.parameters, NormalizeValue(value))
	return "?"
}

// SqliteJSONPath renders key as a JSON path literal, 'owner.name' becomes
// '$.owner.name'.
func SqliteJSONPath(key string) (string, error) {
	if err := s.ValidateKey(key); err != nil {
		return "", err
	}
	return "'$." + key + "'", nil
}

// SqliteFieldExpression renders key as an SQL value (asJSON false) or as
// its JSON text (asJSON true) over the data column.
func SqliteFieldExpression(dataColumn, key string, asJSON bool) (string, error) {
	path, err := SqliteJSONPath(key)
	if err != nil {
		return "", err
	}
	if asJSON {
		return fmt.Sprintf("%s -> %s", dataColumn, path), nil
	}
	return fmt.Sprintf("json_extract(%s, %s)", dataColumn, path), nil
}

func (v *SqliteVisitor) VisitGlobalScope(_ s.GlobalScopeNode) error {
	return nil
}

func (v *SqliteVisitor) VisitObject(_ s.ObjectNode) error {
	return nil
}

func (v *SqliteVisitor) VisitField(n s.FieldNode) error {
	expr, err := SqliteFieldExpression(v.dataColumn, n.Key(), false)
	if err != nil {
		return err
	}
	v.sql.WriteString(expr)
	return nil
}

func (v *SqliteVisitor) VisitValue(n s.ValueNode) error {
	v.sql.WriteString(v.placeholder(n.Value()))
	return nil
}

func (v *SqliteVisitor) VisitLiteral(n s.LiteralNode) error {
	if n.Value() {
		v.sql.WriteString("TRUE")
	} else {
		v.sql.WriteString("FALSE")
	}
	return nil
}

func (v *SqliteVisitor) VisitRaw(n s.RawNode) error {
	return n.Parsed().Accept(v)
}

func (v *SqliteVisitor) VisitComparison(n s.ComparisonNode) error {
	key := n.Left().Key()
	if n.Modifier() == s.Direct {
		return v.visit(s.PrecedenceKey(n), func() error {
			lhs, err := SqliteFieldExpression(v.dataColumn, key, false)
			if err != nil {
				return err
			}
			return v.writeCondition(n, lhs)
		})
	}

	path, err := SqliteJSONPath(key)
	if err != nil {
		return err
	}
	v.elementCounter++
	alias := fmt.Sprintf("%s_%d", strings.ToLower(inflection.Singular(lastKeyPart(key))), v.elementCounter)
	isArray := fmt.Sprintf("json_type(%s, %s) = 'array'", v.dataColumn, path)
	elements := fmt.Sprintf("json_each(%s, %s) AS %s", v.dataColumn, path, alias)
	if n.Modifier() == s.Any {
		v.sql.WriteString("(" + isArray + " AND EXISTS (SELECT 1 FROM " + elements + " WHERE ")
		if err := v.writeCondition(n, alias+".value"); err != nil {
			return err
		}
		v.sql.WriteString("))")
		return nil
	}
	v.sql.WriteString("(" + isArray + " AND NOT EXISTS (SELECT 1 FROM " + elements + " WHERE NOT (")
	if err := v.writeCondition(n, alias+".value"); err != nil {
		return err
	}
	v.sql.WriteString(")))")
	return nil
}

func (v *SqliteVisitor) writeCondition(n s.ComparisonNode, lhs string) error {
	value := n.Right().Value()
	op := n.Operator()
	if op.IsStringMatch() && !isStringValue(value) {
		return fmt.Errorf("operator %s requires a string value, got %T", op, value)
	}
	opts := n.Options()
	if !isStringValue(value) {
		opts = 0
	}
	if op == operators.OperatorLike {
		value = globPattern(NormalizeValue(value).(string))
	}
	left := sqliteFold(lhs, opts)
	right := sqliteFold(v.placeholder(value), opts)
	switch op {
	case operators.OperatorLike:
		v.sql.WriteString(left + " GLOB " + right)
	case operators.OperatorContains:
		v.sql.WriteString("instr(" + left + ", " + right + ") > 0")
	default:
		v.sql.WriteString(left + " " + string(op) + " " + right)
	}
	return nil
}

func sqliteFold(expr string, opts operators.Options) string {
	if opts == 0 {
		return expr
	}
	return fmt.Sprintf("%s(%s, '%s')", FoldFunction, expr, opts.String())
}

func (v *SqliteVisitor) VisitPrefix(node s.PrefixNode) error {
	return v.visit(s.PrecedenceKey(node), func() error {
		v.sql.WriteString(string(node.Operator()) + " ")
		return node.Operand().Accept(v)
	})
}

func (v *SqliteVisitor) VisitInfix(n s.InfixNode) error {
	return v.visit(s.PrecedenceKey(n), func() error {
		err := n.Left().Accept(v)
		if err != nil {
			return err
		}
		v.sql.WriteString(fmt.Sprintf(" %s ", n.Operator()))
		return n.Right().Accept(v)
	})
}

func (v *SqliteVisitor) VisitPostfix(node s.PostfixNode) error {
	return v.visit(s.PrecedenceKey(node), func() error {
		if err := node.Operand().Accept(v); err != nil {
			return err
		}
		v.sql.WriteString(fmt.Sprintf(" %s", node.Operator()))
		return nil
	})
}

func (v *SqliteVisitor) Result() (sql string, params []any, err error) {
	return v.sql.String(), v.parameters, nil
}
