package managed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine/memory"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/predicate"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/query"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
)

type task struct {
	record.Base
}

func (*task) EntityName() string {
	return "Task"
}

var (
	taskTitle     = predicate.String[task]("title")
	taskRank      = predicate.Attr[task, int]("rank")
	taskDone      = predicate.Attr[task, bool]("done")
	taskCreatedAt = predicate.Attr[task, time.Time]("created_at")
	taskShelf     = predicate.Attr[task, int]("shelf")
)

func newContext(t *testing.T, name string, eng engine.Engine, opts ...Option) *Context {
	t.Helper()
	c := New(name, eng, opts...)
	t.Cleanup(c.Close)
	return c
}

// seedTasks stores one task per values map through its own context.
func seedTasks(t *testing.T, eng engine.Engine, values ...map[string]any) []record.ObjectID {
	t.Helper()
	ctx := context.Background()
	c := newContext(t, "seed", eng)
	ids := make([]record.ObjectID, 0, len(values))
	for _, v := range values {
		r, err := Create[task](ctx, c)
		require.NoError(t, err)
		for k, value := range v {
			r.Object().Set(k, value)
		}
		ids = append(ids, r.ID())
	}
	require.NoError(t, c.Commit(ctx))
	return ids
}

func fetchAll(t *testing.T, c *Context, where predicate.Predicate[task], sort ...predicate.SortKey[task]) []*task {
	t.Helper()
	spec, err := query.NewFetch[task]().Where(where).SortBy(sort...).Build()
	require.NoError(t, err)
	rows, err := Fetch(context.Background(), c, spec)
	require.NoError(t, err)
	return rows
}

func titlesOf(rows []*task) []string {
	result := make([]string, 0, len(rows))
	for _, r := range rows {
		result = append(result, taskTitle.Get(r))
	}
	return result
}

// countingEngine counts calls and can fail Persist.
type countingEngine struct {
	engine.Engine
	fetches     atomic.Int32
	persists    atomic.Int32
	failPersist error
}

func (e *countingEngine) Fetch(ctx context.Context, req engine.FetchRequest) ([]record.Snapshot, error) {
	e.fetches.Add(1)
	return e.Engine.Fetch(ctx, req)
}

func (e *countingEngine) Persist(ctx context.Context, origin string, log engine.ChangeLog) error {
	e.persists.Add(1)
	if e.failPersist != nil {
		return engine.StoreError(e.failPersist)
	}
	return e.Engine.Persist(ctx, origin, log)
}

// bulkEngine is countingEngine that also deletes in bulk.
type bulkEngine struct {
	*countingEngine
	store *memory.Engine
}

func (e *bulkEngine) BatchDelete(ctx context.Context, req engine.DeleteRequest) ([]record.ObjectID, error) {
	return e.store.BatchDelete(ctx, req)
}

func newBulkEngine() *bulkEngine {
	store := memory.New()
	return &bulkEngine{countingEngine: &countingEngine{Engine: store}, store: store}
}

func newFallbackEngine() *countingEngine {
	return &countingEngine{Engine: memory.New().WithoutBatchDelete()}
}
