package operators

import (
	"fmt"
	"reflect"
)

type BinaryOp func(left, right any) (any, error)
type UnaryOp func(operand any) (any, error)

type binaryKey struct {
	left  reflect.Type
	op    Operator
	right reflect.Type
}

type unaryKey struct {
	op      Operator
	operand reflect.Type
}

type OperatorRegistry struct {
	binary map[binaryKey]BinaryOp
	unary  map[unaryKey]UnaryOp
}

func NewOperatorRegistry() *OperatorRegistry {
	return &OperatorRegistry{
		binary: make(map[binaryKey]BinaryOp),
		unary:  make(map[unaryKey]UnaryOp),
	}
}

func RegisterBinary[L, R any](reg *OperatorRegistry, op Operator, fn func(L, R) (any, error)) {
	key := binaryKey{
		left:  reflect.TypeFor[L](),
		op:    op,
		right: reflect.TypeFor[R](),
	}
	reg.binary[key] = func(left, right any) (any, error) {
		return fn(left.(L), right.(R))
	}
}

func RegisterUnary[T any](reg *OperatorRegistry, op Operator, fn func(T) (any, error)) {
	key := unaryKey{
		op:      op,
		operand: reflect.TypeFor[T](),
	}
	reg.unary[key] = func(operand any) (any, error) {
		return fn(operand.(T))
	}
}

// ExecBinary executes a binary operator with SQL NULL semantics.
func (r *OperatorRegistry) ExecBinary(left any, op Operator, right any) (any, error) {
	// Three-valued logic for AND/OR
	if op == OperatorAnd {
		return execAnd(left, right)
	}
	if op == OperatorOr {
		return execOr(left, right)
	}

	// NULL propagation for all other binary operators
	if left == nil || right == nil {
		return nil, nil
	}

	fn, err := r.lookupBinary(left, op, right)
	if err == nil {
		return fn(left, right)
	}
	// Named types (type Status string) and mixed numeric widths fall back to
	// their underlying kinds.
	if l, rr, ok := normalize(left, right); ok {
		if fn, nerr := r.lookupBinary(l, op, rr); nerr == nil {
			return fn(l, rr)
		}
	}
	return nil, err
}

// ExecUnary executes a unary operator with SQL NULL semantics.
func (r *OperatorRegistry) ExecUnary(op Operator, operand any) (any, error) {
	// IS NULL / IS NOT NULL give a definite result for any value including NULL
	if op == OperatorIsNull {
		return operand == nil, nil
	}
	if op == OperatorIsNotNull {
		return operand != nil, nil
	}

	// NULL propagation
	if operand == nil {
		return nil, nil
	}

	fn, err := r.lookupUnary(op, operand)
	if err != nil {
		return nil, err
	}
	return fn(operand)
}

func (r *OperatorRegistry) lookupBinary(left any, op Operator, right any) (BinaryOp, error) {
	key := binaryKey{
		left:  reflect.TypeOf(left),
		op:    op,
		right: reflect.TypeOf(right),
	}
	fn, ok := r.binary[key]
	if ok {
		return fn, nil
	}

	if fallback := interfaceFallback(left, op); fallback != nil {
		return fallback, nil
	}

	return nil, fmt.Errorf("operator \"%s\" is not supported for %T and %T", op, left, right)
}

func (r *OperatorRegistry) lookupUnary(op Operator, operand any) (UnaryOp, error) {
	key := unaryKey{
		op:      op,
		operand: reflect.TypeOf(operand),
	}
	fn, ok := r.unary[key]
	if !ok {
		return nil, fmt.Errorf("operator \"%s\" is not supported for %T", op, operand)
	}
	return fn, nil
}

func interfaceFallback(left any, op Operator) BinaryOp {
	switch op {
	case OperatorEq, OperatorNe:
		if _, ok := left.(EqualOperand); !ok {
			return nil
		}
		return func(left, right any) (any, error) {
			r, ok := right.(EqualOperand)
			if !ok {
				return nil, fmt.Errorf("right operand %T does not implement EqualOperand", right)
			}
			equal := left.(EqualOperand).Equal(r)
			if op == OperatorNe {
				return !equal, nil
			}
			return equal, nil
		}
	case OperatorGt:
		return orderingFallback[GreaterThanOperand](left, op, GreaterThanOperand.GreaterThan)
	case OperatorGte:
		return orderingFallback[GreaterThanEqualOperand](left, op, GreaterThanEqualOperand.GreaterThanEqual)
	case OperatorLt:
		return orderingFallback[LessThanOperand](left, op, LessThanOperand.LessThan)
	case OperatorLte:
		return orderingFallback[LessThanEqualOperand](left, op, LessThanEqualOperand.LessThanEqual)
	}
	return nil
}

func orderingFallback[I any](left any, op Operator, compare func(I, I) bool) BinaryOp {
	if _, ok := left.(I); !ok {
		return nil
	}
	return func(left, right any) (any, error) {
		r, ok := right.(I)
		if !ok {
			return nil, fmt.Errorf("right operand %T does not support operator \"%s\"", right, op)
		}
		return compare(left.(I), r), nil
	}
}

// normalize converts both operands to a common builtin type by kind.
func normalize(left, right any) (any, any, bool) {
	l := reflect.ValueOf(left)
	r := reflect.ValueOf(right)
	switch {
	case l.Kind() == reflect.String && r.Kind() == reflect.String:
		return l.String(), r.String(), true
	case l.Kind() == reflect.Bool && r.Kind() == reflect.Bool:
		return l.Bool(), r.Bool(), true
	case isInteger(l) && isInteger(r):
		return asInt64(l), asInt64(r), true
	case isNumber(l) && isNumber(r):
		return asFloat64(l), asFloat64(r), true
	}
	return nil, nil, false
}

func isInteger(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNumber(v reflect.Value) bool {
	return isInteger(v) || v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64
}

func asInt64(v reflect.Value) int64 {
	if v.CanInt() {
		return v.Int()
	}
	return int64(v.Uint())
}

func asFloat64(v reflect.Value) float64 {
	switch {
	case v.CanInt():
		return float64(v.Int())
	case v.CanUint():
		return float64(v.Uint())
	}
	return v.Float()
}

// Three-valued logic: NULL AND FALSE = FALSE, NULL AND TRUE = NULL
func execAnd(left, right any) (any, error) {
	if left == nil {
		if val, ok := right.(bool); ok && !val {
			return false, nil
		}
		return nil, nil
	}
	if right == nil {
		if val, ok := left.(bool); ok && !val {
			return false, nil
		}
		return nil, nil
	}
	l, ok := left.(bool)
	if !ok {
		return nil, fmt.Errorf("operator \"AND\" requires bool, got %T", left)
	}
	r, ok := right.(bool)
	if !ok {
		return nil, fmt.Errorf("operator \"AND\" requires bool, got %T", right)
	}
	return l && r, nil
}

// Three-valued logic: NULL OR TRUE = TRUE, NULL OR FALSE = NULL
func execOr(left, right any) (any, error) {
	if left == nil {
		if val, ok := right.(bool); ok && val {
			return true, nil
		}
		return nil, nil
	}
	if right == nil {
		if val, ok := left.(bool); ok && val {
			return true, nil
		}
		return nil, nil
	}
	l, ok := left.(bool)
	if !ok {
		return nil, fmt.Errorf("operator \"OR\" requires bool, got %T", left)
	}
	r, ok := right.(bool)
	if !ok {
		return nil, fmt.Errorf("operator \"OR\" requires bool, got %T", right)
	}
	return l || r, nil
}
