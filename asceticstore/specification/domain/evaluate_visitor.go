package specification

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

var ErrKeyNotFound = errors.New("key not found")

// Evaluate reports whether exp holds for context. A NULL result counts as
// false, as in a SQL WHERE clause.
func Evaluate(context Context, exp Visitable, registry *operators.OperatorRegistry) (bool, error) {
	v := NewEvaluateVisitor(context, registry)
	if err := exp.Accept(v); err != nil {
		return false, err
	}
	return v.Result()
}

func NewEvaluateVisitor(context Context, registry *operators.OperatorRegistry) *EvaluateVisitor {
	return &EvaluateVisitor{
		Context:  context,
		registry: registry,
	}
}

type EvaluateVisitor struct {
	currentValue any
	stack        []Context
	registry     *operators.OperatorRegistry
	Context
}

func (v *EvaluateVisitor) push(ctx Context) {
	v.stack = append(v.stack, v.Context)
	v.Context = ctx
}

func (v *EvaluateVisitor) pop() {
	v.Context = v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
}

func (v EvaluateVisitor) CurrentValue() any {
	return v.currentValue
}

func (v *EvaluateVisitor) SetCurrentValue(val any) {
	v.currentValue = val
}

func (v *EvaluateVisitor) VisitGlobalScope(n GlobalScopeNode) error {
	v.push(v.Context)
	return nil
}

func (v *EvaluateVisitor) VisitObject(n ObjectNode) error {
	err := n.Parent().Accept(v)
	if err != nil {
		return err
	}
	obj, err := v.Context.Get(n.Name())
	v.pop()
	if err != nil {
		return err
	}
	switch o := obj.(type) {
	case nil:
		v.push(MapContext(nil))
	case Context:
		v.push(o)
	case map[string]any:
		v.push(MapContext(o))
	default:
		return fmt.Errorf("attribute %q is not an object", n.Name())
	}
	return nil
}

func (v *EvaluateVisitor) VisitField(n FieldNode) error {
	err := n.Object().Accept(v)
	if err != nil {
		return err
	}
	value, err := v.Context.Get(n.Name())
	v.pop()
	if err != nil {
		return err
	}
	v.SetCurrentValue(value)
	return nil
}

func (v *EvaluateVisitor) VisitValue(n ValueNode) error {
	v.SetCurrentValue(n.Value())
	return nil
}

func (v *EvaluateVisitor) VisitLiteral(n LiteralNode) error {
	v.SetCurrentValue(n.Value())
	return nil
}

func (v *EvaluateVisitor) VisitComparison(n ComparisonNode) error {
	if err := n.Left().Accept(v); err != nil {
		return err
	}
	left := v.CurrentValue()
	right := n.Right().Value()

	if n.Modifier() == Direct {
		result, err := v.compare(left, n, right)
		if err != nil {
			return err
		}
		v.SetCurrentValue(result)
		return nil
	}

	if left == nil {
		v.SetCurrentValue(nil)
		return nil
	}
	items := reflect.ValueOf(left)
	if items.Kind() != reflect.Slice && items.Kind() != reflect.Array {
		return fmt.Errorf("attribute %q is not a collection", n.Left().Key())
	}
	// ANY folds with OR starting from false, ALL folds with AND from true.
	combine := operators.OperatorOr
	var result any = false
	if n.Modifier() == All {
		combine = operators.OperatorAnd
		result = true
	}
	for i := 0; i < items.Len(); i++ {
		item, err := v.compare(items.Index(i).Interface(), n, right)
		if err != nil {
			return err
		}
		result, err = v.registry.ExecBinary(result, combine, item)
		if err != nil {
			return err
		}
	}
	v.SetCurrentValue(result)
	return nil
}

func (v *EvaluateVisitor) compare(left any, n ComparisonNode, right any) (any, error) {
	if opts := n.Options(); opts != 0 {
		left = foldString(left, opts)
		right = foldString(right, opts)
	}
	return v.registry.ExecBinary(left, n.Operator(), right)
}

func foldString(value any, opts operators.Options) any {
	if value == nil {
		return nil
	}
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.String {
		return operators.Fold(rv.String(), opts)
	}
	return value
}

func (v *EvaluateVisitor) VisitRaw(n RawNode) error {
	return n.Parsed().Accept(v)
}

func (v *EvaluateVisitor) VisitPrefix(n PrefixNode) error {
	err := n.Operand().Accept(v)
	if err != nil {
		return err
	}
	result, err := v.registry.ExecUnary(n.Operator(), v.CurrentValue())
	if err != nil {
		return err
	}
	v.SetCurrentValue(result)
	return nil
}

func (v *EvaluateVisitor) VisitPostfix(n PostfixNode) error {
	err := n.Operand().Accept(v)
	if err != nil {
		return err
	}
	result, err := v.registry.ExecUnary(n.Operator(), v.CurrentValue())
	if err != nil {
		return err
	}
	v.SetCurrentValue(result)
	return nil
}

func (v *EvaluateVisitor) VisitInfix(n InfixNode) error {
	err := n.Left().Accept(v)
	if err != nil {
		return err
	}
	left := v.CurrentValue()
	err = n.Right().Accept(v)
	if err != nil {
		return err
	}
	right := v.CurrentValue()
	result, err := v.registry.ExecBinary(left, n.Operator(), right)
	if err != nil {
		return err
	}
	v.SetCurrentValue(result)
	return nil
}

func (v EvaluateVisitor) Result() (bool, error) {
	result := v.CurrentValue()
	if result == nil {
		return false, nil
	}
	resultTyped, ok := result.(bool)
	if !ok {
		return false, errors.New("the result is not a bool")
	}
	return resultTyped, nil
}

type Context interface {
	Get(string) (any, error)
}

// MapContext exposes an attribute map. Absent attributes read as NULL.
type MapContext map[string]any

func (c MapContext) Get(key string) (any, error) {
	return c[key], nil
}
