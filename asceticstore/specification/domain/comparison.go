package specification

import (
	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

// Modifier says how a comparison applies to a collection attribute.
type Modifier int

const (
	Direct Modifier = iota
	Any
	All
)

func (m Modifier) String() string {
	switch m {
	case Any:
		return "ANY"
	case All:
		return "ALL"
	}
	return ""
}

func Compare(
	left FieldNode,
	operator operators.Operator,
	right ValueNode,
	modifier Modifier,
	options operators.Options,
) ComparisonNode {
	return ComparisonNode{
		left:     left,
		operator: operator,
		right:    right,
		modifier: modifier,
		options:  options,
	}
}

// ComparisonNode compares an attribute with a constant. Options only affect
// string operands.
type ComparisonNode struct {
	left     FieldNode
	operator operators.Operator
	right    ValueNode
	modifier Modifier
	options  operators.Options
}

func (n ComparisonNode) Left() FieldNode {
	return n.left
}

func (n ComparisonNode) Operator() operators.Operator {
	return n.operator
}

func (n ComparisonNode) Right() ValueNode {
	return n.right
}

func (n ComparisonNode) Modifier() Modifier {
	return n.modifier
}

func (n ComparisonNode) Options() operators.Options {
	return n.options
}

func (n ComparisonNode) Associativity() Associativity {
	return NonAssociative
}

func (n ComparisonNode) Accept(v Visitor) error {
	return v.VisitComparison(n)
}
