package predicate

import (
	"fmt"
	"reflect"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

// Field is any declared attribute of T.
type Field[T any] interface {
	Key() string
	node() s.FieldNode
}

// SortKey orders records of T by one attribute.
type SortKey[T any] struct {
	key       string
	ascending bool
}

// SortBy builds a sort key from a dynamic attribute key.
func SortBy[T any](key string, ascending bool) (SortKey[T], error) {
	if err := s.ValidateKey(key); err != nil {
		return SortKey[T]{}, err
	}
	return SortKey[T]{key: key, ascending: ascending}, nil
}

func (k SortKey[T]) Key() string {
	return k.key
}

func (k SortKey[T]) Ascending() bool {
	return k.ascending
}

func (k SortKey[T]) String() string {
	if k.ascending {
		return k.key + " ASC"
	}
	return k.key + " DESC"
}

// Path is a typed attribute of T holding values of V.
type Path[T any, V any] struct {
	field s.FieldNode
}

// Attr declares attribute key of T with value type V. It panics when key is
// malformed or was declared before with another type, so paths belong in
// package level variables:
//
//	var TaskPriority = predicate.Attr[Task, int]("priority")
func Attr[T any, V any, P record.Entity[T]](key string) Path[T, V] {
	return Path[T, V]{field: declare[T, P](key, reflect.TypeFor[V]())}
}

func declare[T any, P record.Entity[T]](key string, typ reflect.Type) s.FieldNode {
	if err := s.ValidateKey(key); err != nil {
		panic(err)
	}
	if err := record.RegisterAttribute(record.EntityName[T, P](), key, typ); err != nil {
		panic(err)
	}
	return s.KeyPath(key)
}

func (p Path[T, V]) Key() string {
	return p.field.Key()
}

func (p Path[T, V]) node() s.FieldNode {
	return p.field
}

func (p Path[T, V]) compare(op operators.Operator, value V, opts []Option) Predicate[T] {
	options := resolveOptions(reflect.TypeFor[V](), opts)
	return Predicate[T]{node: s.Compare(p.field, op, s.Value(value), s.Direct, options)}
}

func (p Path[T, V]) Eq(value V, opts ...Option) Predicate[T] {
	return p.compare(operators.OperatorEq, value, opts)
}

func (p Path[T, V]) Ne(value V, opts ...Option) Predicate[T] {
	return p.compare(operators.OperatorNe, value, opts)
}

func (p Path[T, V]) Lt(value V, opts ...Option) Predicate[T] {
	return p.compare(operators.OperatorLt, value, opts)
}

func (p Path[T, V]) Lte(value V, opts ...Option) Predicate[T] {
	return p.compare(operators.OperatorLte, value, opts)
}

func (p Path[T, V]) Gt(value V, opts ...Option) Predicate[T] {
	return p.compare(operators.OperatorGt, value, opts)
}

func (p Path[T, V]) Gte(value V, opts ...Option) Predicate[T] {
	return p.compare(operators.OperatorGte, value, opts)
}

func (p Path[T, V]) IsNil() Predicate[T] {
	return Predicate[T]{node: s.IsNull(p.field)}
}

func (p Path[T, V]) IsNotNil() Predicate[T] {
	return Predicate[T]{node: s.IsNotNull(p.field)}
}

func (p Path[T, V]) Asc() SortKey[T] {
	return SortKey[T]{key: p.Key(), ascending: true}
}

func (p Path[T, V]) Desc() SortKey[T] {
	return SortKey[T]{key: p.Key(), ascending: false}
}

// Lookup reads the attribute from r converted to V.
func (p Path[T, V]) Lookup(r record.Record) (V, error) {
	return record.Convert[V](r.Object().Value(p.Key()))
}

// Get is Lookup that returns the zero value when the stored value does not
// convert.
func (p Path[T, V]) Get(r record.Record) V {
	v, _ := p.Lookup(r)
	return v
}

func (p Path[T, V]) Set(r record.Record, value V) {
	r.Object().Set(p.Key(), value)
}

// StringPath is a string attribute with pattern matching.
type StringPath[T any] struct {
	Path[T, string]
}

func String[T any, P record.Entity[T]](key string) StringPath[T] {
	return StringPath[T]{Path: Attr[T, string, P](key)}
}

// Like matches a pattern where * is any run of characters and ? is exactly
// one.
func (p StringPath[T]) Like(pattern string, opts ...Option) Predicate[T] {
	return p.compare(operators.OperatorLike, pattern, opts)
}

func (p StringPath[T]) Contains(substring string, opts ...Option) Predicate[T] {
	return p.compare(operators.OperatorContains, substring, opts)
}

// NotContains is expressed as a raw textual predicate.
func (p StringPath[T]) NotContains(substring string) Predicate[T] {
	raw, err := s.NewRawNode(fmt.Sprintf("NOT %s CONTAINS[cd] %%@", p.Key()), substring)
	if err != nil {
		panic(err)
	}
	return Predicate[T]{node: raw}
}

// CollectionPath is an attribute of T holding a list of E.
type CollectionPath[T any, E any] struct {
	field s.FieldNode
}

func Collection[T any, E any, P record.Entity[T]](key string) CollectionPath[T, E] {
	return CollectionPath[T, E]{field: declare[T, P](key, reflect.TypeFor[[]E]())}
}

func (p CollectionPath[T, E]) Key() string {
	return p.field.Key()
}

func (p CollectionPath[T, E]) node() s.FieldNode {
	return p.field
}

// Any compares so that at least one element must satisfy the condition.
func (p CollectionPath[T, E]) Any() ElementComparer[T, E] {
	return ElementComparer[T, E]{field: p.field, modifier: s.Any}
}

// All compares so that every element must satisfy the condition. An empty
// collection satisfies it.
func (p CollectionPath[T, E]) All() ElementComparer[T, E] {
	return ElementComparer[T, E]{field: p.field, modifier: s.All}
}

func (p CollectionPath[T, E]) IsNil() Predicate[T] {
	return Predicate[T]{node: s.IsNull(p.field)}
}

func (p CollectionPath[T, E]) IsNotNil() Predicate[T] {
	return Predicate[T]{node: s.IsNotNull(p.field)}
}

func (p CollectionPath[T, E]) Get(r record.Record) []E {
	v, _ := record.Convert[[]E](r.Object().Value(p.Key()))
	return v
}

func (p CollectionPath[T, E]) Set(r record.Record, value []E) {
	r.Object().Set(p.Key(), value)
}

type ElementComparer[T any, E any] struct {
	field    s.FieldNode
	modifier s.Modifier
}

func (c ElementComparer[T, E]) compare(op operators.Operator, value any, typ reflect.Type, opts []Option) Predicate[T] {
	options := resolveOptions(typ, opts)
	return Predicate[T]{node: s.Compare(c.field, op, s.Value(value), c.modifier, options)}
}

func (c ElementComparer[T, E]) Eq(value E, opts ...Option) Predicate[T] {
	return c.compare(operators.OperatorEq, value, reflect.TypeFor[E](), opts)
}

func (c ElementComparer[T, E]) Ne(value E, opts ...Option) Predicate[T] {
	return c.compare(operators.OperatorNe, value, reflect.TypeFor[E](), opts)
}

func (c ElementComparer[T, E]) Lt(value E, opts ...Option) Predicate[T] {
	return c.compare(operators.OperatorLt, value, reflect.TypeFor[E](), opts)
}

func (c ElementComparer[T, E]) Lte(value E, opts ...Option) Predicate[T] {
	return c.compare(operators.OperatorLte, value, reflect.TypeFor[E](), opts)
}

func (c ElementComparer[T, E]) Gt(value E, opts ...Option) Predicate[T] {
	return c.compare(operators.OperatorGt, value, reflect.TypeFor[E](), opts)
}

func (c ElementComparer[T, E]) Gte(value E, opts ...Option) Predicate[T] {
	return c.compare(operators.OperatorGte, value, reflect.TypeFor[E](), opts)
}

func (c ElementComparer[T, E]) Like(pattern string, opts ...Option) Predicate[T] {
	return c.compare(operators.OperatorLike, pattern, reflect.TypeFor[string](), opts)
}

func (c ElementComparer[T, E]) Contains(substring string, opts ...Option) Predicate[T] {
	return c.compare(operators.OperatorContains, substring, reflect.TypeFor[string](), opts)
}
