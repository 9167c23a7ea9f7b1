package specification

import "fmt"

const AnyOtherOperator = "(any other operator) LEFT"

// PrecedenceTable maps "<operator> <associativity>" keys to binding power.
type PrecedenceTable map[string]int

func (t PrecedenceTable) Set(precedence int, keys ...string) {
	for _, key := range keys {
		t[key] = precedence
	}
}

// Lookup returns the precedence for key, falling back to the entry for any
// other operator and then to outer.
func (t PrecedenceTable) Lookup(key string, outer int) int {
	if p, ok := t[key]; ok {
		return p
	}
	if p, ok := t[AnyOtherOperator]; ok {
		return p
	}
	return outer
}

func PrecedenceKey(n Operable) string {
	return fmt.Sprintf("%s %s", n.Operator(), n.Associativity())
}
