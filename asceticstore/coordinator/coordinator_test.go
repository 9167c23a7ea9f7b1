package coordinator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine/memory"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/managed"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/metrics"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/predicate"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/query"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/store"
)

type note struct {
	record.Base
}

func (*note) EntityName() string {
	return "Note"
}

var (
	noteName      = predicate.String[note]("name")
	noteCreatedAt = predicate.Attr[note, time.Time]("created_at")
)

// recordingEngine records the origin of every Persist and fails those of
// failOrigin.
type recordingEngine struct {
	*memory.Engine
	mu         sync.Mutex
	origins    []string
	failOrigin string
}

func (e *recordingEngine) Persist(ctx context.Context, origin string, log engine.ChangeLog) error {
	e.mu.Lock()
	e.origins = append(e.origins, origin)
	e.mu.Unlock()
	if origin == e.failOrigin {
		return engine.StoreError(errors.New("disk full"))
	}
	return e.Engine.Persist(ctx, origin, log)
}

func (e *recordingEngine) persisted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.origins...)
}

func newCoordinator(t *testing.T, eng engine.Engine, opts ...Option) *Coordinator {
	t.Helper()
	c := New(eng, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func createNote(t *testing.T, mc *managed.Context, name string) *note {
	t.Helper()
	n, err := managed.Create[note](context.Background(), mc)
	require.NoError(t, err)
	noteName.Set(n, name)
	return n
}

func fetchNotes(t *testing.T, mc *managed.Context) []*note {
	t.Helper()
	spec, err := query.NewFetch[note]().SortBy(noteName.Asc()).Build()
	require.NoError(t, err)
	rows, err := managed.Fetch(context.Background(), mc, spec)
	require.NoError(t, err)
	return rows
}

func TestCoordinator_Contexts(t *testing.T) {
	c := newCoordinator(t, memory.New())
	assert.Equal(t, InteractiveName, c.Interactive().Name())
	assert.Equal(t, managed.Interactive, c.Interactive().Mode())
	assert.Equal(t, BackgroundName, c.Background().Name())
	assert.Equal(t, managed.Background, c.Background().Mode())

	extra, err := c.NewBackgroundContext("import")
	require.NoError(t, err)
	assert.Equal(t, managed.Background, extra.Mode())

	_, err = c.NewBackgroundContext("import")
	assert.ErrorIs(t, err, ErrDuplicateContext)
	_, err = c.NewBackgroundContext(InteractiveName)
	assert.ErrorIs(t, err, ErrDuplicateContext)
}

func TestCoordinator_BackgroundInsertReachesInteractive(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, memory.New())
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	r := createNote(t, c.Background(), "groceries")
	noteCreatedAt.Set(r, created)
	require.NoError(t, c.Background().Commit(ctx))

	copied, found, err := managed.Registered[note](ctx, c.Interactive(), r.ID())
	require.NoError(t, err)
	require.True(t, found)
	assert.NotSame(t, r.Object(), copied.Object())
	assert.Equal(t, "groceries", noteName.Get(copied))
	assert.Equal(t, created, noteCreatedAt.Get(copied))
}

func TestCoordinator_RemoteChangeWinsOnTouchedProperty(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, memory.New())
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	seed := createNote(t, c.Interactive(), "draft")
	noteCreatedAt.Set(seed, created)
	require.NoError(t, c.Commit(ctx))

	local := fetchNotes(t, c.Interactive())[0]
	noteName.Set(local, "Y")

	remote := fetchNotes(t, c.Background())[0]
	noteName.Set(remote, "X")
	require.NoError(t, c.Background().Commit(ctx))

	// Queued behind the merge.
	require.NoError(t, c.Interactive().Perform(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, "X", noteName.Get(local))
	assert.Equal(t, created, noteCreatedAt.Get(local))
}

func TestCoordinator_RelaysBetweenBackgrounds(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, memory.New())
	extra, err := c.NewBackgroundContext("import")
	require.NoError(t, err)

	r := createNote(t, extra, "imported")
	require.NoError(t, extra.Commit(ctx))

	for _, mc := range []*managed.Context{c.Interactive(), c.Background()} {
		_, found, err := managed.Registered[note](ctx, mc, r.ID())
		require.NoError(t, err)
		assert.True(t, found, mc.Name())
	}
}

func TestCoordinator_BatchDeleteEvictsSiblings(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, memory.New())
	createNote(t, c.Interactive(), "old")
	createNote(t, c.Interactive(), "new")
	require.NoError(t, c.Commit(ctx))
	rows := fetchNotes(t, c.Interactive())
	require.Len(t, rows, 2)

	result, err := managed.BatchDelete(ctx, c.Background(), noteName.Eq("old"))
	require.NoError(t, err)
	require.Len(t, result.Deleted, 1)

	_, found, err := managed.Registered[note](ctx, c.Interactive(), result.Deleted[0])
	require.NoError(t, err)
	assert.False(t, found)
	assert.Len(t, fetchNotes(t, c.Interactive()), 1)
}

func TestCoordinator_MergesExternalWriters(t *testing.T) {
	ctx := context.Background()
	eng := memory.New()
	c := newCoordinator(t, eng)
	r := createNote(t, c.Interactive(), "before")
	require.NoError(t, c.Commit(ctx))

	outsider := managed.New("sync", eng)
	defer outsider.Close()
	rows := fetchNotes(t, outsider)
	require.Len(t, rows, 1)
	noteName.Set(rows[0], "after")
	require.NoError(t, outsider.Commit(ctx))

	copied, found, err := managed.Registered[note](ctx, c.Interactive(), r.ID())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "after", noteName.Get(copied))
}

func TestCoordinator_SharedEngine(t *testing.T) {
	ctx := context.Background()
	eng := memory.New()
	a := newCoordinator(t, eng)
	b := newCoordinator(t, eng)
	assert.NotEqual(t, a.Origin(BackgroundName), b.Origin(BackgroundName))

	r := createNote(t, a.Background(), "shared")
	require.NoError(t, a.Background().Commit(ctx))
	importer, err := a.NewBackgroundContext("importer")
	require.NoError(t, err)
	imported := createNote(t, importer, "imported")
	require.NoError(t, importer.Commit(ctx))

	for _, mc := range []*managed.Context{b.Interactive(), b.Background()} {
		for _, id := range []record.ObjectID{r.ID(), imported.ID()} {
			_, found, err := managed.Registered[note](ctx, mc, id)
			require.NoError(t, err)
			assert.True(t, found, mc.Name())
		}
	}

	copied, _, err := managed.Registered[note](ctx, b.Interactive(), r.ID())
	require.NoError(t, err)
	noteName.Set(copied, "renamed by b")
	require.NoError(t, b.Commit(ctx))

	original, found, err := managed.Registered[note](ctx, a.Interactive(), r.ID())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "renamed by b", noteName.Get(original))
}

func TestCoordinator_OnSaved(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, memory.New())
	var mu sync.Mutex
	var origins []string
	c.OnSaved().Attach(func(e managed.SaveEvent) {
		mu.Lock()
		defer mu.Unlock()
		origins = append(origins, e.Origin)
	})
	extra, err := c.NewBackgroundContext("import")
	require.NoError(t, err)

	createNote(t, c.Interactive(), "a")
	createNote(t, c.Background(), "b")
	createNote(t, extra, "c")
	require.NoError(t, c.Commit(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{c.Origin(BackgroundName), c.Origin(InteractiveName)}, origins)
}

func TestCoordinator_CommitOrder(t *testing.T) {
	ctx := context.Background()
	eng := &recordingEngine{Engine: memory.New()}
	c := newCoordinator(t, eng)
	first, err := c.NewBackgroundContext("first")
	require.NoError(t, err)
	second, err := c.NewBackgroundContext("second")
	require.NoError(t, err)

	createNote(t, c.Interactive(), "i")
	createNote(t, second, "s")
	createNote(t, first, "f")
	createNote(t, c.Background(), "b")
	require.NoError(t, c.Commit(ctx))

	assert.Equal(t, []string{
		c.Origin(BackgroundName), c.Origin("first"), c.Origin("second"), c.Origin(InteractiveName),
	}, eng.persisted())

	require.NoError(t, c.Commit(ctx))
	assert.Len(t, eng.persisted(), 4)
}

func TestCoordinator_BackgroundFailureStopsCommit(t *testing.T) {
	ctx := context.Background()
	eng := &recordingEngine{Engine: memory.New()}
	core, logs := observer.New(zapcore.WarnLevel)
	reg := prometheus.NewRegistry()
	c := newCoordinator(t, eng, WithLogger(zap.New(core)), WithMetrics(metrics.New(reg)))
	eng.failOrigin = c.Origin(BackgroundName)

	createNote(t, c.Background(), "b")
	createNote(t, c.Interactive(), "i")
	err := c.Commit(ctx)

	var commitErr *CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, PhaseBackground, commitErr.Phase)
	assert.Equal(t, BackgroundName, commitErr.Context)
	assert.ErrorIs(t, err, engine.ErrStore)
	assert.Equal(t, []string{c.Origin(BackgroundName)}, eng.persisted())

	for _, mc := range []*managed.Context{c.Interactive(), c.Background()} {
		changed, err := mc.HasChanges(ctx)
		require.NoError(t, err)
		assert.True(t, changed, mc.Name())
	}
	assert.Equal(t, 1, logs.FilterMessage("commit failed").Len())

	expected := `
# HELP asceticstore_coordinator_commit_failures_total Coordinator commits that failed, by phase
# TYPE asceticstore_coordinator_commit_failures_total counter
asceticstore_coordinator_commit_failures_total{phase="background"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"asceticstore_coordinator_commit_failures_total"))
}

func TestCoordinator_InteractiveFailureKeepsBackgroundCommitted(t *testing.T) {
	ctx := context.Background()
	eng := &recordingEngine{Engine: memory.New()}
	c := newCoordinator(t, eng)
	eng.failOrigin = c.Origin(InteractiveName)

	createNote(t, c.Background(), "b")
	createNote(t, c.Interactive(), "i")
	err := c.Commit(ctx)

	var commitErr *CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, PhaseInteractive, commitErr.Phase)
	assert.Equal(t, "commit interactive context \"interactive\": engine: store error: disk full", err.Error())

	changed, err := c.Background().HasChanges(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	n, err := managed.Count(ctx, c.Background(), predicate.Predicate[note]{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCoordinator_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, memory.New())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mc := c.Background()
			if i%2 == 0 {
				mc = c.Interactive()
			}
			_, err := managed.Create[note](ctx, mc)
			assert.NoError(t, err)
			assert.NoError(t, c.Commit(ctx))
		}()
	}
	wg.Wait()

	n, err := managed.Count(ctx, c.Interactive(), predicate.Predicate[note]{})
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestCoordinator_Discard(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, memory.New())
	extra, err := c.NewBackgroundContext("import")
	require.NoError(t, err)

	require.NoError(t, c.Discard(extra))
	assert.ErrorIs(t, c.Discard(extra), ErrUnknownContext)
	assert.ErrorIs(t, c.Discard(c.Interactive()), ErrUnknownContext)
	assert.ErrorIs(t, c.Discard(c.Background()), ErrUnknownContext)

	_, err = managed.Create[note](ctx, extra)
	assert.ErrorIs(t, err, managed.ErrContextClosed)

	createNote(t, c.Background(), "still works")
	require.NoError(t, c.Commit(ctx))

	_, err = c.NewBackgroundContext("import")
	assert.NoError(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, store.InMemory(), WithMergePolicy(managed.MergeLocalWins), WithAssertions(true))
	require.NoError(t, err)
	assert.Equal(t, managed.MergeLocalWins, c.Interactive().MergePolicy())

	createNote(t, c.Interactive(), "a")
	require.NoError(t, c.Commit(ctx))
	eng := c.Engine()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = eng.Count(ctx, engine.FetchRequest{Entity: "Note"})
	assert.ErrorIs(t, err, memory.ErrClosed)
	assert.ErrorIs(t, c.Commit(ctx), ErrClosed)
	_, err = c.NewBackgroundContext("late")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_InvalidDescription(t *testing.T) {
	_, err := Open(context.Background(), store.OnDisk(""))
	assert.ErrorIs(t, err, store.ErrInvalidDescription)
}
