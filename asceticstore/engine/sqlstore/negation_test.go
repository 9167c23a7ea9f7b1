package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine/memory"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

func TestDoubleNegationMatchesSameRecords(t *testing.T) {
	ctx := context.Background()
	rows := []map[string]any{
		{"title": "a", "priority": 1, "tag": "x"},
		{"title": "b", "priority": 2},
		{"title": "c", "priority": nil},
		{"title": "d"},
		{"title": "e", "priority": 3, "tag": nil},
	}
	predicates := map[string]s.Visitable{
		"eq":       cmp("priority", operators.OperatorEq, 2, 0),
		"gt":       cmp("priority", operators.OperatorGt, 1, 0),
		"and":      s.And(cmp("priority", operators.OperatorGte, 1, 0), cmp("title", operators.OperatorNe, "b", 0)),
		"or":       s.Or(cmp("priority", operators.OperatorLt, 2, 0), cmp("tag", operators.OperatorEq, "x", 0)),
		"is null":  s.IsNull(s.KeyPath("priority")),
		"negation": s.Not(cmp("priority", operators.OperatorEq, 1, 0)),
	}
	engines := map[string]engine.Engine{
		"memory": memory.New(),
		"sqlite": openSQLite(t),
	}
	for engineName, eng := range engines {
		var log engine.ChangeLog
		for _, values := range rows {
			log.Inserted = append(log.Inserted, record.Snapshot{ID: record.NewObjectID("Task"), Values: values})
		}
		require.NoError(t, eng.Persist(ctx, "seed", log))

		for name, p := range predicates {
			t.Run(engineName+"/"+name, func(t *testing.T) {
				direct, err := eng.Fetch(ctx, engine.FetchRequest{Entity: "Task", Where: p})
				require.NoError(t, err)
				doubled, err := eng.Fetch(ctx, engine.FetchRequest{Entity: "Task", Where: s.Not(s.Not(p))})
				require.NoError(t, err)
				assert.ElementsMatch(t, titles(direct), titles(doubled))

				n, err := eng.Count(ctx, engine.FetchRequest{Entity: "Task", Where: s.Not(s.Not(p))})
				require.NoError(t, err)
				assert.Equal(t, len(direct), n)
			})
		}
	}
}
