package sqlstore

import (
	"fmt"
	"strconv"

	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
	infra "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/infrastructure"
)

// Dialect renders the statements that differ between SQL databases.
type Dialect interface {
	Name() string
	// Compile renders where after used placeholders were already taken.
	Compile(where s.Visitable, used int) (string, []any, error)
	Placeholder(n int) string
	// Field renders key as a value for ordering.
	Field(key string) (string, error)
	// JSONField renders key as JSON text.
	JSONField(key string) (string, error)
	OrderBy(expr string, ascending bool) string
	// InsertionOrder is the ORDER BY term that keeps insertion order, if any.
	InsertionOrder() string
	Pagination(offset, limit int) string
	CreateTable(table string) string
	CreateHistoryTable(table string) string
	// DataParam renders the placeholder holding a JSON document.
	DataParam(placeholder string) string
	// MergePatch renders the data column merged with the JSON document in
	// placeholder.
	MergePatch(placeholder string) string
}

var (
	SQLite     Dialect = sqliteDialect{}
	PostgreSQL Dialect = postgresqlDialect{}
)

type sqliteDialect struct{}

func (sqliteDialect) Name() string {
	return "sqlite"
}

func (sqliteDialect) Compile(where s.Visitable, _ int) (string, []any, error) {
	return infra.CompileToSqlite(where)
}

func (sqliteDialect) Placeholder(int) string {
	return "?"
}

func (sqliteDialect) Field(key string) (string, error) {
	return infra.SqliteFieldExpression(infra.DefaultDataColumn, key, false)
}

func (sqliteDialect) JSONField(key string) (string, error) {
	return infra.SqliteFieldExpression(infra.DefaultDataColumn, key, true)
}

func (sqliteDialect) OrderBy(expr string, ascending bool) string {
	if ascending {
		return expr + " ASC"
	}
	return expr + " DESC"
}

func (sqliteDialect) InsertionOrder() string {
	return "rowid"
}

func (sqliteDialect) Pagination(offset, limit int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return " LIMIT " + strconv.Itoa(limit)
	case offset > 0:
		return " LIMIT -1 OFFSET " + strconv.Itoa(offset)
	}
	return ""
}

func (sqliteDialect) CreateTable(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + table + " (id TEXT PRIMARY KEY, data TEXT NOT NULL)"
}

func (sqliteDialect) CreateHistoryTable(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + table + " (" +
		"seq INTEGER PRIMARY KEY AUTOINCREMENT, origin TEXT NOT NULL, entity TEXT NOT NULL, " +
		"object_id TEXT NOT NULL, change TEXT NOT NULL, recorded_at TEXT NOT NULL)"
}

func (sqliteDialect) DataParam(placeholder string) string {
	return placeholder
}

func (sqliteDialect) MergePatch(placeholder string) string {
	return "json_patch(data, " + placeholder + ")"
}

type postgresqlDialect struct{}

func (postgresqlDialect) Name() string {
	return "postgresql"
}

func (postgresqlDialect) Compile(where s.Visitable, used int) (string, []any, error) {
	return infra.CompileToPostgresql(where, infra.PlaceholderIndex(used))
}

func (postgresqlDialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (postgresqlDialect) Field(key string) (string, error) {
	return infra.PostgresqlFieldExpression(infra.DefaultDataColumn, key, false)
}

func (d postgresqlDialect) JSONField(key string) (string, error) {
	return d.Field(key)
}

// OrderBy puts NULL first when ascending, as SQLite does.
func (postgresqlDialect) OrderBy(expr string, ascending bool) string {
	if ascending {
		return expr + " ASC NULLS FIRST"
	}
	return expr + " DESC NULLS LAST"
}

func (postgresqlDialect) InsertionOrder() string {
	return ""
}

func (postgresqlDialect) Pagination(offset, limit int) string {
	result := ""
	if limit > 0 {
		result += " LIMIT " + strconv.Itoa(limit)
	}
	if offset > 0 {
		result += " OFFSET " + strconv.Itoa(offset)
	}
	return result
}

func (postgresqlDialect) CreateTable(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + table + " (id TEXT PRIMARY KEY, data JSONB NOT NULL)"
}

func (postgresqlDialect) CreateHistoryTable(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + table + " (" +
		"seq BIGSERIAL PRIMARY KEY, origin TEXT NOT NULL, entity TEXT NOT NULL, " +
		"object_id TEXT NOT NULL, change TEXT NOT NULL, recorded_at TEXT NOT NULL)"
}

func (postgresqlDialect) DataParam(placeholder string) string {
	return placeholder + "::jsonb"
}

func (postgresqlDialect) MergePatch(placeholder string) string {
	return "data || " + placeholder + "::jsonb"
}
