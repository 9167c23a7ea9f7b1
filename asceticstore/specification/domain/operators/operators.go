package operators

type Operator string

const (
	// Comparison

	OperatorEq  Operator = "="
	OperatorGt  Operator = ">"
	OperatorLt  Operator = "<"
	OperatorGte Operator = ">="
	OperatorLte Operator = "<="
	OperatorNe  Operator = "!="

	// String matching

	OperatorLike     Operator = "LIKE"
	OperatorContains Operator = "CONTAINS"

	// Logical operators

	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"
	OperatorNot Operator = "NOT"

	// Postfix

	OperatorIsNull    Operator = "IS NULL"
	OperatorIsNotNull Operator = "IS NOT NULL"
)

// IsComparison reports whether op may appear in a comparison node.
func (op Operator) IsComparison() bool {
	switch op {
	case OperatorEq, OperatorNe, OperatorGt, OperatorLt, OperatorGte, OperatorLte,
		OperatorLike, OperatorContains:
		return true
	}
	return false
}

// IsOrdering reports whether op needs ordered operands.
func (op Operator) IsOrdering() bool {
	switch op {
	case OperatorGt, OperatorLt, OperatorGte, OperatorLte:
		return true
	}
	return false
}

// IsStringMatch reports whether op applies to strings only.
func (op Operator) IsStringMatch() bool {
	return op == OperatorLike || op == OperatorContains
}
