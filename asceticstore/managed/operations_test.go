package managed

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"syreclabs.com/go/faker"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine/memory"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/metrics"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/predicate"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/query"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
)

func TestFetch_OffsetAndLimit(t *testing.T) {
	eng := memory.New()
	var values []map[string]any
	for i := 10; i >= 1; i-- {
		values = append(values, map[string]any{"title": fmt.Sprintf("task %02d", i), "rank": i})
	}
	seedTasks(t, eng, values...)
	c := newContext(t, "main", eng)

	spec, err := query.NewFetch[task]().SortBy(taskRank.Asc()).Offset(2).Limit(3).Build()
	require.NoError(t, err)
	rows, err := Fetch(context.Background(), c, spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"task 03", "task 04", "task 05"}, titlesOf(rows))
}

func TestFetch_ReusesWorkingSetCopies(t *testing.T) {
	eng := memory.New()
	seedTasks(t, eng,
		map[string]any{"title": faker.Lorem().Sentence(2), "rank": 1, "done": false},
		map[string]any{"title": faker.Lorem().Sentence(2), "rank": 2, "done": true},
	)
	c := newContext(t, "main", eng)

	first := fetchAll(t, c, taskDone.Eq(false))
	require.Len(t, first, 1)
	taskRank.Set(first[0], 10)

	second := fetchAll(t, c, taskDone.Eq(false))
	require.Len(t, second, 1)
	assert.Same(t, first[0].Object(), second[0].Object())
	assert.Equal(t, 10, taskRank.Get(second[0]))
}

func TestFetch_CoercesStoredValues(t *testing.T) {
	eng := memory.New()
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, eng.Persist(context.Background(), "external", engine.ChangeLog{Inserted: []record.Snapshot{{
		ID:     record.NewObjectID("Task"),
		Values: map[string]any{"title": "decoded", "rank": float64(7), "created_at": created.Format(time.RFC3339Nano)},
	}}}))
	c := newContext(t, "main", eng)

	rows := fetchAll(t, c, predicate.Predicate[task]{})
	require.Len(t, rows, 1)
	assert.Equal(t, 7, rows[0].Object().Value("rank"))
	assert.Equal(t, created, taskCreatedAt.Get(rows[0]))
}

func TestFetch_LeavesOutPendingDeletes(t *testing.T) {
	eng := memory.New()
	seedTasks(t, eng, map[string]any{"title": "a"}, map[string]any{"title": "b"})
	c := newContext(t, "main", eng)
	ctx := context.Background()

	rows := fetchAll(t, c, predicate.Predicate[task]{}, taskTitle.Asc())
	require.NoError(t, Delete(ctx, c, rows[:1]))
	assert.Equal(t, []string{"b"}, titlesOf(fetchAll(t, c, predicate.Predicate[task]{})))
}

func TestFetch_QueryError(t *testing.T) {
	c := newContext(t, "main", memory.New())
	seedTasks(t, c.Engine(), map[string]any{"title": "a", "rank": 1})
	raw, err := predicate.Raw[task]("rank CONTAINS %@", "1")
	require.NoError(t, err)
	spec, err := query.NewFetch[task]().Where(raw).Build()
	require.NoError(t, err)

	_, err = Fetch(context.Background(), c, spec)
	assert.ErrorIs(t, err, engine.ErrQuery)
}

func TestCount(t *testing.T) {
	eng := &countingEngine{Engine: memory.New()}
	seedTasks(t, eng,
		map[string]any{"title": "a", "done": true},
		map[string]any{"title": "b", "done": false},
		map[string]any{"title": "c", "done": true},
	)
	c := newContext(t, "main", eng)
	fetches := eng.fetches.Load()

	n, err := Count(context.Background(), c, taskDone.Eq(true))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = Count(context.Background(), c, predicate.Predicate[task]{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, fetches, eng.fetches.Load())
}

func TestDistinct(t *testing.T) {
	eng := memory.New()
	seedTasks(t, eng,
		map[string]any{"shelf": 2, "title": "x"},
		map[string]any{"shelf": 1, "title": "y"},
		map[string]any{"shelf": 2, "title": "x"},
		map[string]any{"shelf": 1, "title": "z"},
	)
	c := newContext(t, "main", eng)
	ctx := context.Background()

	spec, err := query.NewDistinct[task](taskShelf, taskTitle).SortBy(taskShelf.Asc(), taskTitle.Asc()).Build()
	require.NoError(t, err)
	tuples, err := Distinct(ctx, c, spec)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{1, "y"}, {1, "z"}, {2, "x"}}, tuples)

	shelves, err := DistinctValues(ctx, c, taskShelf, predicate.Predicate[task]{}, taskShelf.Desc())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, shelves)
}

func TestUpdate_ResolvesInOwnContext(t *testing.T) {
	eng := memory.New()
	seedTasks(t, eng, map[string]any{"title": "a", "rank": 1})
	ctx := context.Background()
	other := newContext(t, "other", eng)
	c := newContext(t, "main", eng)

	foreign := fetchAll(t, other, predicate.Predicate[task]{})
	updated, err := Update(ctx, c, foreign, func(r *task) error {
		taskRank.Set(r, 5)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.NotSame(t, foreign[0].Object(), updated[0].Object())
	assert.Equal(t, 1, taskRank.Get(foreign[0]))
	require.NoError(t, c.Commit(ctx))

	n, err := Count(ctx, c, taskRank.Eq(5))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdate_MutateErrorAborts(t *testing.T) {
	eng := memory.New()
	seedTasks(t, eng, map[string]any{"title": "a"})
	c := newContext(t, "main", eng)
	rows := fetchAll(t, c, predicate.Predicate[task]{})
	boom := fmt.Errorf("rejected")
	_, err := Update(context.Background(), c, rows, func(*task) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestUpdate_ObjectNotFound(t *testing.T) {
	eng := memory.New()
	c := newContext(t, "main", eng)
	ctx := context.Background()
	orphan := record.Wrap[task](record.NewObject(record.NewObjectID("Task"), nil))

	_, err := Update(ctx, c, []*task{orphan}, func(*task) error { return nil })
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = Update(ctx, c, []*task{{}}, func(*task) error { return nil })
	assert.ErrorIs(t, err, ErrUnboundRecord)
}

func TestDelete(t *testing.T) {
	eng := memory.New()
	seedTasks(t, eng, map[string]any{"title": "a"}, map[string]any{"title": "b"})
	c := newContext(t, "main", eng)
	ctx := context.Background()
	var events []SaveEvent
	c.OnSaved().Attach(func(e SaveEvent) { events = append(events, e) })

	rows := fetchAll(t, c, taskTitle.Eq("a"))
	unsaved, err := Create[task](ctx, c)
	require.NoError(t, err)
	require.NoError(t, Delete(ctx, c, append(rows, unsaved)))
	require.NoError(t, c.Commit(ctx))

	assert.Equal(t, []string{"b"}, titlesOf(fetchAll(t, c, predicate.Predicate[task]{})))
	require.Len(t, events, 1)
	assert.Equal(t, []record.ObjectID{rows[0].ID()}, events[0].Deleted)
	assert.Empty(t, events[0].Inserted)

	_, err = Update(ctx, c, rows, func(*task) error { return nil })
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestBatchDelete_Bulk(t *testing.T) {
	eng := newBulkEngine()
	ids := seedTasks(t, eng,
		map[string]any{"title": "a", "done": true},
		map[string]any{"title": "b", "done": false},
		map[string]any{"title": "c", "done": true},
	)
	c := newContext(t, "main", eng)
	ctx := context.Background()
	var events []SaveEvent
	c.OnSaved().Attach(func(e SaveEvent) { events = append(events, e) })
	fetches := eng.fetches.Load()

	result, err := BatchDelete(ctx, c, taskDone.Eq(true))
	require.NoError(t, err)
	assert.Equal(t, StrategyBulk, result.Strategy)
	assert.ElementsMatch(t, []record.ObjectID{ids[0], ids[2]}, result.Deleted)
	assert.Equal(t, fetches, eng.fetches.Load())

	require.Len(t, events, 1)
	assert.True(t, events[0].Synthetic)
	assert.Equal(t, "main", events[0].Origin)
	assert.ElementsMatch(t, result.Deleted, events[0].Deleted)

	n, err := Count(ctx, c, predicate.Predicate[task]{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBatchDelete_BulkForgetsWorkingSetCopies(t *testing.T) {
	eng := newBulkEngine()
	seedTasks(t, eng, map[string]any{"title": "a", "done": true})
	c := newContext(t, "main", eng)
	ctx := context.Background()
	rows := fetchAll(t, c, predicate.Predicate[task]{})
	taskTitle.Set(rows[0], "changed")

	_, err := BatchDelete(ctx, c, taskDone.Eq(true))
	require.NoError(t, err)

	_, found, err := Registered[task](ctx, c, rows[0].ID())
	require.NoError(t, err)
	assert.False(t, found)
	changed, err := c.HasChanges(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestBatchDelete_Fallback(t *testing.T) {
	eng := newFallbackEngine()
	seedTasks(t, eng,
		map[string]any{"title": "a", "rank": 1},
		map[string]any{"title": "b", "rank": 5},
		map[string]any{"title": "c", "rank": 7},
		map[string]any{"title": "d", "rank": 2},
	)
	c := newContext(t, "main", eng)
	ctx := context.Background()
	var events []SaveEvent
	c.OnSaved().Attach(func(e SaveEvent) { events = append(events, e) })

	before, err := Count(ctx, c, predicate.Predicate[task]{})
	require.NoError(t, err)
	matched, err := Count(ctx, c, taskRank.Gt(4))
	require.NoError(t, err)

	result, err := BatchDelete(ctx, c, taskRank.Gt(4))
	require.NoError(t, err)
	assert.Equal(t, StrategyFallback, result.Strategy)
	assert.Len(t, result.Deleted, matched)

	after, err := Count(ctx, c, predicate.Predicate[task]{})
	require.NoError(t, err)
	assert.Equal(t, before-matched, after)
	assert.Equal(t, []string{"a", "d"}, titlesOf(fetchAll(t, c, predicate.Predicate[task]{}, taskTitle.Asc())))

	require.Len(t, events, 1)
	assert.False(t, events[0].Synthetic)
}

func TestBatchDelete_FallbackMetrics(t *testing.T) {
	eng := newFallbackEngine()
	seedTasks(t, eng, map[string]any{"title": "a", "done": true}, map[string]any{"title": "b", "done": true})
	reg := prometheus.NewRegistry()
	c := newContext(t, "main", eng, WithMetrics(metrics.New(reg)))

	_, err := BatchDelete(context.Background(), c, taskDone.Eq(true))
	require.NoError(t, err)

	expected := `
# HELP asceticstore_context_batch_delete_fallbacks_total Batch deletes that fetched and deleted records one by one
# TYPE asceticstore_context_batch_delete_fallbacks_total counter
asceticstore_context_batch_delete_fallbacks_total{context="main",entity="Task"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"asceticstore_context_batch_delete_fallbacks_total"))
}

func TestBatchDelete_NothingMatched(t *testing.T) {
	for _, eng := range []engine.Engine{newBulkEngine(), newFallbackEngine()} {
		c := newContext(t, "main", eng)
		notified := false
		c.OnSaved().Attach(func(SaveEvent) { notified = true })
		result, err := BatchDelete(context.Background(), c, taskDone.Eq(true))
		require.NoError(t, err)
		assert.Empty(t, result.Deleted)
		assert.False(t, notified)
	}
}

func TestFetchOrCreate(t *testing.T) {
	eng := memory.New()
	ids := seedTasks(t, eng,
		map[string]any{"title": "one", "shelf": 1},
		map[string]any{"title": "two", "shelf": 2},
		map[string]any{"title": "three", "shelf": 2},
	)
	c := newContext(t, "main", eng)
	ctx := context.Background()

	found, created, err := FetchOrCreate(ctx, c, taskTitle.Eq("ONE"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ids[0], found.ID())

	fresh, created, err := FetchOrCreate(ctx, c, taskTitle.Eq("four"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, fresh.Object().IsInserted())
	taskTitle.Set(fresh, "four")

	again, created, err := FetchOrCreate(ctx, c, taskTitle.Eq("four"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, fresh.Object(), again.Object())

	_, _, err = FetchOrCreate(ctx, c, taskShelf.Eq(2), taskTitle.Asc())
	assert.ErrorIs(t, err, ErrSelectivityViolation)

	n, err := Count(ctx, c, predicate.Predicate[task]{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFetchOrCreate_AssertionsPanic(t *testing.T) {
	eng := memory.New()
	seedTasks(t, eng, map[string]any{"shelf": 2}, map[string]any{"shelf": 2})
	c := newContext(t, "main", eng, WithAssertions(true))

	assert.Panics(t, func() {
		_, _, _ = FetchOrCreate(context.Background(), c, taskShelf.Eq(2))
	})
	_, err := Create[task](context.Background(), c)
	assert.NoError(t, err)
}

func TestDeleteMatching(t *testing.T) {
	eng := newFallbackEngine()
	seedTasks(t, eng, map[string]any{"title": "a", "done": true}, map[string]any{"title": "b"})
	c := newContext(t, "main", eng)

	result, err := DeleteMatching(context.Background(), c, engine.DeleteRequest{Entity: "Task", Where: taskDone.Eq(true).Node()})
	require.NoError(t, err)
	assert.Equal(t, StrategyFallback, result.Strategy)
	assert.Len(t, result.Deleted, 1)
	assert.Equal(t, []string{"b"}, titlesOf(fetchAll(t, c, predicate.Predicate[task]{})))
}

func TestFetch_MatchesPendingChanges(t *testing.T) {
	eng := memory.New()
	seedTasks(t, eng,
		map[string]any{"title": "a", "rank": 1},
		map[string]any{"title": "c", "rank": 3},
	)
	c := newContext(t, "main", eng)
	ctx := context.Background()

	stored := fetchAll(t, c, taskTitle.Eq("a"))
	require.Len(t, stored, 1)
	taskTitle.Set(stored[0], "b")
	assert.Empty(t, fetchAll(t, c, taskTitle.Eq("a")))
	renamed := fetchAll(t, c, taskTitle.Eq("b"))
	require.Len(t, renamed, 1)
	assert.Same(t, stored[0].Object(), renamed[0].Object())

	fresh, err := Create[task](ctx, c)
	require.NoError(t, err)
	taskTitle.Set(fresh, "new")
	taskRank.Set(fresh, 2)
	inserted := fetchAll(t, c, taskTitle.Eq("new"))
	require.Len(t, inserted, 1)
	assert.Same(t, fresh.Object(), inserted[0].Object())

	taskRank.Set(stored[0], 4)
	assert.Equal(t, []string{"new", "c", "b"}, titlesOf(fetchAll(t, c, predicate.Predicate[task]{}, taskRank.Asc())))

	spec, err := query.NewFetch[task]().SortBy(taskRank.Desc()).Offset(1).Limit(1).Build()
	require.NoError(t, err)
	rows, err := Fetch(ctx, c, spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, titlesOf(rows))
}

func TestFetchOrCreate_MatchesPendingChanges(t *testing.T) {
	eng := memory.New()
	ids := seedTasks(t, eng, map[string]any{"title": "a"})
	c := newContext(t, "main", eng)
	ctx := context.Background()

	rows := fetchAll(t, c, predicate.Predicate[task]{})
	require.Len(t, rows, 1)
	taskTitle.Set(rows[0], "b")

	found, created, err := FetchOrCreate(ctx, c, taskTitle.Eq("b"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ids[0], found.ID())
	assert.Same(t, rows[0].Object(), found.Object())

	fresh, created, err := FetchOrCreate(ctx, c, taskTitle.Eq("a"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, ids[0], fresh.ID())
}
