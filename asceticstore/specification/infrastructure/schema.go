package specification

import (
	"strings"
	"sync"
	"unicode"

	"github.com/jinzhu/inflection"

	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
)

const (
	DefaultIDColumn   = "id"
	DefaultDataColumn = "data"
)

// TableMapping says where records of one entity are stored.
type TableMapping struct {
	Table      string
	IDColumn   string
	DataColumn string
}

// SchemaRegistry maps entity names to tables. Unregistered entities get the
// pluralized snake case of their name, "TodoItem" is stored in "todo_items".
type SchemaRegistry struct {
	mu     sync.RWMutex
	tables map[string]TableMapping
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		tables: make(map[string]TableMapping),
	}
}

// Register stores entity in table.
func (r *SchemaRegistry) Register(entity, table string) *SchemaRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[entity] = TableMapping{
		Table:      table,
		IDColumn:   DefaultIDColumn,
		DataColumn: DefaultDataColumn,
	}
	return r
}

func (r *SchemaRegistry) Get(entity string) (TableMapping, error) {
	r.mu.RLock()
	mapping, ok := r.tables[entity]
	r.mu.RUnlock()
	if !ok {
		mapping = TableMapping{
			Table:      inflection.Plural(snakeCase(entity)),
			IDColumn:   DefaultIDColumn,
			DataColumn: DefaultDataColumn,
		}
	}
	if err := s.ValidateKey(mapping.Table); err != nil || strings.Contains(mapping.Table, ".") {
		return TableMapping{}, &InvalidTableError{Entity: entity, Table: mapping.Table}
	}
	return mapping, nil
}

type InvalidTableError struct {
	Entity string
	Table  string
}

func (e *InvalidTableError) Error() string {
	return "invalid table name \"" + e.Table + "\" for entity \"" + e.Entity + "\""
}

func snakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
