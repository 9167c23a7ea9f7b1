package predicate

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

var ErrUnknownAttribute = errors.New("predicate: unknown attribute")

// Raw parses a textual predicate such as
//
//	title ==[cd] %@ AND ANY tags == "home"
//
// Every key must be a declared attribute of T and every literal must convert
// to the attribute's declared type.
func Raw[T any, P record.Entity[T]](format string, args ...any) (Predicate[T], error) {
	raw, err := s.NewRawNode(format, args...)
	if err != nil {
		return Predicate[T]{}, err
	}
	checked, err := checkNode(record.EntityName[T, P](), raw.Parsed())
	if err != nil {
		return Predicate[T]{}, err
	}
	return Predicate[T]{node: raw.WithParsed(checked)}, nil
}

// Compare builds a comparison from a dynamic key. The value must have
// exactly the declared Go type; nil with = or != tests for nil.
func Compare[T any, P record.Entity[T]](key string, op operators.Operator, value any, opts ...Option) (Predicate[T], error) {
	if err := s.ValidateKey(key); err != nil {
		return Predicate[T]{}, err
	}
	if !op.IsComparison() {
		return Predicate[T]{}, errors.Errorf("predicate: %q is not a comparison operator", op)
	}
	entity := record.EntityName[T, P]()
	typ, ok := attributeType(entity, key)
	if !ok {
		return Predicate[T]{}, errors.Wrapf(ErrUnknownAttribute, "%s.%s", entity, key)
	}
	field := s.KeyPath(key)
	if value == nil {
		switch op {
		case operators.OperatorEq:
			return Predicate[T]{node: s.IsNull(field)}, nil
		case operators.OperatorNe:
			return Predicate[T]{node: s.IsNotNull(field)}, nil
		}
		return Predicate[T]{}, errors.Wrapf(record.ErrTypeMismatch, "%s.%s: %q needs a value", entity, key, op)
	}
	if op.IsStringMatch() {
		typ = reflect.TypeFor[string]()
	}
	actual := reflect.TypeOf(value)
	if typ == nil {
		typ = actual
	}
	if actual != typ {
		return Predicate[T]{}, errors.Wrapf(record.ErrTypeMismatch, "%s.%s is %s, got %s", entity, key, typ, actual)
	}
	options := resolveOptions(typ, opts)
	return Predicate[T]{node: s.Compare(field, op, s.Value(value), s.Direct, options)}, nil
}

// attributeType resolves key, or the attribute holding a nested key, against
// the registry.
func attributeType(entity, key string) (reflect.Type, bool) {
	if typ, ok := record.AttributeType(entity, key); ok {
		return typ, true
	}
	field := s.KeyPath(key)
	path := s.ExtractFieldPath(field)
	if len(path) < 2 {
		return nil, false
	}
	if _, ok := record.AttributeType(entity, path[0]); ok {
		// Nested values are not typed by the registry.
		return nil, true
	}
	return nil, false
}

// checkNode validates keys and coerces literals, returning the rebuilt tree.
func checkNode(entity string, node s.Visitable) (s.Visitable, error) {
	switch n := node.(type) {
	case s.ComparisonNode:
		return checkComparison(entity, n)
	case s.PostfixNode:
		field, ok := n.Operand().(s.FieldNode)
		if ok {
			if _, known := attributeType(entity, field.Key()); !known {
				return nil, errors.Wrapf(ErrUnknownAttribute, "%s.%s", entity, field.Key())
			}
		}
		return n, nil
	case s.PrefixNode:
		operand, err := checkNode(entity, n.Operand())
		if err != nil {
			return nil, err
		}
		return s.Not(operand), nil
	case s.InfixNode:
		left, err := checkNode(entity, n.Left())
		if err != nil {
			return nil, err
		}
		right, err := checkNode(entity, n.Right())
		if err != nil {
			return nil, err
		}
		if n.Operator() == operators.OperatorOr {
			return s.Or(left, right), nil
		}
		return s.And(left, right), nil
	case s.RawNode:
		parsed, err := checkNode(entity, n.Parsed())
		if err != nil {
			return nil, err
		}
		return n.WithParsed(parsed), nil
	}
	return node, nil
}

func checkComparison(entity string, n s.ComparisonNode) (s.Visitable, error) {
	key := n.Left().Key()
	typ, ok := attributeType(entity, key)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAttribute, "%s.%s", entity, key)
	}
	value := n.Right().Value()
	if typ == nil || value == nil {
		return n, nil
	}
	if n.Modifier() != s.Direct {
		if typ.Kind() != reflect.Slice && typ.Kind() != reflect.Array {
			return nil, errors.Wrapf(record.ErrTypeMismatch, "%s.%s is not a collection", entity, key)
		}
		typ = typ.Elem()
	}
	if n.Operator().IsStringMatch() {
		typ = reflect.TypeFor[string]()
	}
	coerced, err := record.ConvertTo(value, typ)
	if err != nil {
		return nil, errors.Wrapf(err, "%s.%s", entity, key)
	}
	return s.Compare(n.Left(), n.Operator(), s.Value(coerced), n.Modifier(), n.Options()), nil
}
