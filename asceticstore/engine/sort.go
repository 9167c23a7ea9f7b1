package engine

import (
	"sort"
	"strings"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

// SortBy orders items stably by keys. Nil sorts before any value, as NULL
// does in SQLite.
func SortBy[E any](registry *operators.OperatorRegistry, items []E, keys []SortKey, value func(E, string) any) error {
	if len(keys) == 0 {
		return nil
	}
	var failure error
	sort.SliceStable(items, func(i, j int) bool {
		for _, k := range keys {
			c, err := compareValues(registry, value(items[i], k.Key), value(items[j], k.Key))
			if err != nil {
				if failure == nil {
					failure = err
				}
				return false
			}
			if c == 0 {
				continue
			}
			if k.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	if failure != nil {
		return QueryError(failure)
	}
	return nil
}

func compareValues(registry *operators.OperatorRegistry, a, b any) (int, error) {
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	}
	less, err := registry.ExecBinary(a, operators.OperatorLt, b)
	if err != nil {
		return 0, err
	}
	if less == true {
		return -1, nil
	}
	greater, err := registry.ExecBinary(a, operators.OperatorGt, b)
	if err != nil {
		return 0, err
	}
	if greater == true {
		return 1, nil
	}
	return 0, nil
}

// Lookup returns the value at a dotted key path, nil when any part is
// missing.
func Lookup(values map[string]any, key string) any {
	var current any = values
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// Paginate applies offset and limit; a zero limit keeps the rest.
func Paginate[E any](items []E, offset, limit int) []E {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
