package predicate

import (
	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
)

// Predicate is a filter over records of type T. The zero value matches
// every record.
type Predicate[T any] struct {
	node s.Visitable
}

// FromNode wraps an expression tree. A nil node gives the zero predicate.
func FromNode[T any](node s.Visitable) Predicate[T] {
	return Predicate[T]{node: node}
}

func (p Predicate[T]) Node() s.Visitable {
	return p.node
}

func (p Predicate[T]) IsZero() bool {
	return p.node == nil
}

// String returns the canonical textual form.
func (p Predicate[T]) String() string {
	if p.node == nil {
		return "TRUEPREDICATE"
	}
	text, err := s.Format(p.node)
	if err != nil {
		return "<invalid predicate: " + err.Error() + ">"
	}
	return text
}

func True[T any]() Predicate[T] {
	return Predicate[T]{node: s.True()}
}

func False[T any]() Predicate[T] {
	return Predicate[T]{node: s.False()}
}

// And of nothing is True, a single operand is returned as is.
func And[T any](ps ...Predicate[T]) Predicate[T] {
	nodes := nodesOf(ps)
	switch len(nodes) {
	case 0:
		return True[T]()
	case 1:
		return Predicate[T]{node: nodes[0]}
	}
	return Predicate[T]{node: s.And(nodes[0], nodes[1:]...)}
}

// Or of nothing is False, a single operand is returned as is.
func Or[T any](ps ...Predicate[T]) Predicate[T] {
	nodes := nodesOf(ps)
	switch len(nodes) {
	case 0:
		return False[T]()
	case 1:
		return Predicate[T]{node: nodes[0]}
	}
	return Predicate[T]{node: s.Or(nodes[0], nodes[1:]...)}
}

func Not[T any](p Predicate[T]) Predicate[T] {
	if p.node == nil {
		return False[T]()
	}
	return Predicate[T]{node: s.Not(p.node)}
}

func nodesOf[T any](ps []Predicate[T]) []s.Visitable {
	nodes := make([]s.Visitable, 0, len(ps))
	for _, p := range ps {
		if p.node != nil {
			nodes = append(nodes, p.node)
		}
	}
	return nodes
}

// Builder collects operands conditionally and combines them with And or Or.
type Builder[T any] struct {
	combine func(...Predicate[T]) Predicate[T]
	items   []Predicate[T]
}

func NewAnd[T any]() *Builder[T] {
	return &Builder[T]{combine: And[T]}
}

func NewOr[T any]() *Builder[T] {
	return &Builder[T]{combine: Or[T]}
}

func (b *Builder[T]) Add(ps ...Predicate[T]) *Builder[T] {
	b.items = append(b.items, ps...)
	return b
}

func (b *Builder[T]) AddIf(cond bool, p Predicate[T]) *Builder[T] {
	if cond {
		b.items = append(b.items, p)
	}
	return b
}

// Either adds then when cond holds and otherwise when it does not.
func (b *Builder[T]) Either(cond bool, then, otherwise Predicate[T]) *Builder[T] {
	if cond {
		return b.Add(then)
	}
	return b.Add(otherwise)
}

func (b *Builder[T]) Build() Predicate[T] {
	return b.combine(b.items...)
}
