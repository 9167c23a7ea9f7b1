package specification

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

type compileCase struct {
	name           string
	exp            func(t *testing.T) s.Visitable
	postgresParams []any
	sqliteParams   []any
}

func cmp(key string, op operators.Operator, value any, opts operators.Options) s.ComparisonNode {
	return s.Compare(s.KeyPath(key), op, s.Value(value), s.Direct, opts)
}

var due = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

var compileCases = []compileCase{
	{
		name: "title_insensitive_eq",
		exp: func(t *testing.T) s.Visitable {
			return cmp("title", operators.OperatorEq, "Milk", operators.Insensitive)
		},
		postgresParams: []any{"Milk"},
		sqliteParams:   []any{"Milk"},
	},
	{
		name: "priority_gte",
		exp: func(t *testing.T) s.Visitable {
			return cmp("priority", operators.OperatorGte, 3, 0)
		},
		postgresParams: []any{"3"},
		sqliteParams:   []any{3},
	},
	{
		name: "compound",
		exp: func(t *testing.T) s.Visitable {
			return s.And(
				s.Or(
					cmp("title", operators.OperatorEq, "a", operators.Insensitive),
					cmp("priority", operators.OperatorGt, 1, 0),
				),
				s.Not(s.IsNull(s.KeyPath("due"))),
			)
		},
		postgresParams: []any{"a", "1"},
		sqliteParams:   []any{"a", 1},
	},
	{
		name: "not_contains",
		exp: func(t *testing.T) s.Visitable {
			raw, err := s.NewRawNode("NOT title CONTAINS[cd] %@", "milk")
			require.NoError(t, err)
			return raw
		},
		postgresParams: []any{"milk"},
		sqliteParams:   []any{"milk"},
	},
	{
		name: "like",
		exp: func(t *testing.T) s.Visitable {
			return cmp("title", operators.OperatorLike, "gro*_%", operators.CaseInsensitive)
		},
		postgresParams: []any{`gro%\_\%`},
		sqliteParams:   []any{"gro*_%"},
	},
	{
		name: "any_tag",
		exp: func(t *testing.T) s.Visitable {
			return s.Compare(s.KeyPath("tags"), operators.OperatorEq, s.Value("home"), s.Any, 0)
		},
		postgresParams: []any{`"home"`},
		sqliteParams:   []any{"home"},
	},
	{
		name: "all_scores",
		exp: func(t *testing.T) s.Visitable {
			return s.Compare(s.KeyPath("scores"), operators.OperatorGt, s.Value(1), s.All, 0)
		},
		postgresParams: []any{"1"},
		sqliteParams:   []any{1},
	},
	{
		name: "literal_and_nested",
		exp: func(t *testing.T) s.Visitable {
			return s.And(s.True(), cmp("owner.name", operators.OperatorEq, "Ann", 0))
		},
		postgresParams: []any{`"Ann"`},
		sqliteParams:   []any{"Ann"},
	},
	{
		name: "date",
		exp: func(t *testing.T) s.Visitable {
			return cmp("due", operators.OperatorLt, due, 0)
		},
		postgresParams: []any{`"2024-05-01T12:00:00.000000000Z"`},
		sqliteParams:   []any{"2024-05-01T12:00:00.000000000Z"},
	},
}

func TestCompileToPostgresql(t *testing.T) {
	g := goldie.New(t, goldie.WithNameSuffix(".postgresql.golden"))
	for _, c := range compileCases {
		t.Run(c.name, func(t *testing.T) {
			sql, params, err := CompileToPostgresql(c.exp(t))
			require.NoError(t, err)
			g.Assert(t, c.name, []byte(sql))
			assert.Equal(t, c.postgresParams, params)
		})
	}
}

func TestCompileToSqlite(t *testing.T) {
	g := goldie.New(t, goldie.WithNameSuffix(".sqlite.golden"))
	for _, c := range compileCases {
		t.Run(c.name, func(t *testing.T) {
			sql, params, err := CompileToSqlite(c.exp(t))
			require.NoError(t, err)
			g.Assert(t, c.name, []byte(sql))
			assert.Equal(t, c.sqliteParams, params)
		})
	}
}

func TestCompileToPostgresql_PlaceholderIndex(t *testing.T) {
	sql, _, err := CompileToPostgresql(cmp("priority", operators.OperatorEq, 1, 0), PlaceholderIndex(2))
	require.NoError(t, err)
	assert.Equal(t, "data->'priority' = $3::jsonb", sql)
}

func TestCompile_RejectsNonStringMatch(t *testing.T) {
	exp := cmp("priority", operators.OperatorContains, 1, 0)
	_, _, err := CompileToPostgresql(exp)
	assert.Error(t, err)
	_, _, err = CompileToSqlite(exp)
	assert.Error(t, err)
}

func TestFieldExpressions(t *testing.T) {
	expr, err := PostgresqlFieldExpression("data", "owner.name", true)
	require.NoError(t, err)
	assert.Equal(t, "data #>> '{owner,name}'", expr)

	expr, err = SqliteFieldExpression("data", "title", true)
	require.NoError(t, err)
	assert.Equal(t, "data -> '$.title'", expr)

	_, err = SqliteFieldExpression("data", "title') OR 1=1 --", false)
	assert.Error(t, err)
	_, err = PostgresqlFieldExpression("data", "a'b", false)
	assert.Error(t, err)
}

func TestNormalizeValue(t *testing.T) {
	type status string
	assert.Equal(t, "open", NormalizeValue(status("open")))
	assert.Equal(t, int64(7), NormalizeValue(int32(7)))
	assert.Equal(t, "2024-05-01T12:00:00.000000000Z", NormalizeValue(due.In(time.FixedZone("X", 3600))))
	assert.Nil(t, NormalizeValue(nil))
}
