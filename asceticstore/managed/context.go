// Package managed implements contexts: serialized execution boundaries
// around one working set of records and its pending changes.
package managed

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/managed/identitymap"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/metrics"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/signals"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

type Mode int

const (
	Interactive Mode = iota
	Background
)

func (m Mode) String() string {
	if m == Interactive {
		return "interactive"
	}
	return "background"
}

type Option func(*Context)

func WithMode(mode Mode) Option {
	return func(c *Context) {
		c.mode = mode
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Context) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Context) {
		c.metrics = m
	}
}

func WithMergePolicy(policy MergePolicy) Option {
	return func(c *Context) {
		c.policy = policy
	}
}

// WithAssertions makes programming errors such as a selectivity violation
// panic instead of returning an error.
func WithAssertions(enabled bool) Option {
	return func(c *Context) {
		c.assertions = enabled
	}
}

// WithOrigin sets the origin the context writes under and its save events
// carry. It defaults to the context name.
func WithOrigin(origin string) Option {
	return func(c *Context) {
		c.origin = origin
	}
}

func WithIsolationLevel(level identitymap.IsolationLevel) Option {
	return func(c *Context) {
		c.working.SetIsolationLevel(level)
	}
}

// Context owns a working set and runs every operation on it in submission
// order on its own worker. Different contexts run concurrently.
type Context struct {
	name       string
	origin     string
	mode       Mode
	engine     engine.Engine
	queue      *queue
	working    *identitymap.IdentityMap
	registry   *operators.OperatorRegistry
	policy     MergePolicy
	assertions bool
	logger     *zap.Logger
	metrics    *metrics.Metrics
	onSaved    signals.Signal[SaveEvent]
}

func New(name string, eng engine.Engine, opts ...Option) *Context {
	c := &Context{
		name:     name,
		mode:     Interactive,
		engine:   eng,
		working:  identitymap.New(identitymap.Serializable),
		registry: operators.NewDefaultRegistry(),
		policy:   MergeRemoteWins,
		logger:   zap.NewNop(),
		onSaved:  signals.NewSignal[SaveEvent](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.origin == "" {
		c.origin = name
	}
	c.logger = c.logger.With(zap.String("context", name), zap.Stringer("mode", c.mode))
	c.queue = newQueue()
	return c
}

func (c *Context) Name() string {
	return c.name
}

// Origin identifies this context's writes to the engine and to other
// contexts.
func (c *Context) Origin() string {
	return c.origin
}

func (c *Context) Mode() Mode {
	return c.mode
}

func (c *Context) Engine() engine.Engine {
	return c.engine
}

func (c *Context) MergePolicy() MergePolicy {
	return c.policy
}

// OnSaved notifies observers on the context worker after every successful
// save. Observers must not wait for work on this context.
func (c *Context) OnSaved() signals.Signal[SaveEvent] {
	return c.onSaved
}

type workerKey struct{}

// onWorker reports whether ctx belongs to a job running on c.
func (c *Context) onWorker(ctx context.Context) bool {
	worker, _ := ctx.Value(workerKey{}).(*Context)
	return worker == c
}

type outcome struct {
	err      error
	panicked bool
	value    any
}

// do runs fn on the worker and waits for it. A job whose ctx is done
// before it starts is skipped. Called with a ctx handed out by Perform it
// runs fn in place, since the worker is already busy with the caller.
func (c *Context) do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if c.onWorker(ctx) {
		return fn(ctx)
	}
	started := time.Now()
	done := make(chan outcome, 1)
	job := func() {
		if err := ctx.Err(); err != nil {
			done <- outcome{err: err}
			return
		}
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{panicked: true, value: r}
			}
		}()
		done <- outcome{err: fn(context.WithValue(ctx, workerKey{}, c))}
	}
	if !c.queue.enqueue(job) {
		return errors.Wrap(ErrContextClosed, c.name)
	}
	c.metrics.SetPending(c.name, c.queue.len())
	result := <-done
	c.metrics.Observe(c.name, operation, started, result.err)
	if result.panicked {
		panic(result.value)
	}
	return result.err
}

// schedule enqueues fn without waiting for it.
func (c *Context) schedule(operation string, fn func(ctx context.Context) error) bool {
	return c.queue.enqueue(func() {
		started := time.Now()
		ctx := context.WithValue(context.Background(), workerKey{}, c)
		err := fn(ctx)
		c.metrics.Observe(c.name, operation, started, err)
		if err != nil {
			c.logger.Warn("scheduled job failed", zap.String("operation", operation), zap.Error(err))
		}
	})
}

// Perform runs fn on the worker. Operations of this context called from fn
// with the ctx it receives run in place.
func (c *Context) Perform(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.do(ctx, "perform", fn)
}

// HasChanges reports whether Commit would persist anything.
func (c *Context) HasChanges(ctx context.Context) (bool, error) {
	var changed bool
	err := c.do(ctx, "has_changes", func(context.Context) error {
		changed = !c.pendingLog().IsEmpty()
		return nil
	})
	return changed, err
}

// Commit persists the pending changes if there are any and then notifies
// OnSaved. On failure the changes stay pending.
func (c *Context) Commit(ctx context.Context) error {
	return c.do(ctx, "commit", func(ctx context.Context) error {
		log := c.pendingLog()
		if log.IsEmpty() {
			return nil
		}
		if err := c.engine.Persist(engine.WithOrigin(ctx, c.origin), c.origin, log); err != nil {
			return err
		}
		c.settle(log)
		event := newSaveEvent(c.origin, log, false)
		c.logger.Debug("commit",
			zap.Stringer("event", event.ID),
			zap.Int("inserted", len(log.Inserted)),
			zap.Int("updated", len(log.Updated)),
			zap.Int("deleted", len(log.Deleted)),
		)
		c.onSaved.Notify(event)
		return nil
	})
}

// settle folds what log wrote into the working set. Changes made after the
// log was taken stay pending.
func (c *Context) settle(log engine.ChangeLog) {
	for _, snaps := range [][]record.Snapshot{log.Inserted, log.Updated} {
		for _, snap := range snaps {
			if o, err := c.working.Get(snap.ID); err == nil {
				o.Commit(snap.Values)
			}
		}
	}
	c.forget(log.Deleted)
}

// Rollback drops every pending change. Unsaved inserts leave the working
// set.
func (c *Context) Rollback(ctx context.Context) error {
	return c.do(ctx, "rollback", func(context.Context) error {
		for _, o := range c.working.Objects() {
			if o.IsInserted() {
				c.working.Remove(o.ID())
				continue
			}
			o.Rollback()
		}
		return nil
	})
}

// Reset empties the working set, pending changes included.
func (c *Context) Reset(ctx context.Context) error {
	return c.do(ctx, "reset", func(context.Context) error {
		c.working.Clear()
		return nil
	})
}

// Close waits for queued work and rejects later operations with
// ErrContextClosed. It does not close the engine.
func (c *Context) Close() {
	c.queue.close()
}

func (c *Context) pendingLog() engine.ChangeLog {
	var log engine.ChangeLog
	for _, o := range c.working.Objects() {
		switch {
		case o.IsInserted() && o.IsDeleted():
		case o.IsInserted():
			log.Inserted = append(log.Inserted, record.Snapshot{ID: o.ID(), Values: o.Values()})
		case o.IsDeleted():
			log.Deleted = append(log.Deleted, o.ID())
		default:
			if changes := o.Changes(); len(changes) > 0 {
				log.Updated = append(log.Updated, record.Snapshot{ID: o.ID(), Values: changes})
			}
		}
	}
	return log
}

// register adds snapshots to the working set, reusing and refreshing
// copies that are already there. Objects pending deletion are left out of
// the result.
func (c *Context) register(snapshots []record.Snapshot) ([]*record.Object, error) {
	objects := make([]*record.Object, 0, len(snapshots))
	for _, snap := range snapshots {
		values, err := coerceValues(snap.ID.Entity, snap.Values)
		if err != nil {
			return nil, engine.StoreError(err)
		}
		o, err := c.working.Get(snap.ID)
		if err != nil {
			o = record.NewObject(snap.ID, values)
			c.working.Add(o)
		} else {
			o.Refresh(values)
		}
		if o.IsDeleted() {
			continue
		}
		objects = append(objects, o)
	}
	return objects, nil
}

// resolve returns this context's copy of id, loading it when absent from
// the working set.
func (c *Context) resolve(ctx context.Context, id record.ObjectID) (*record.Object, error) {
	o, err := c.working.Get(id)
	if err == nil {
		return o, nil
	}
	if errors.Is(err, identitymap.ErrObjectNotFound) {
		return nil, errors.Wrap(ErrObjectNotFound, id.String())
	}
	snapshots, err := c.engine.Fetch(ctx, engine.FetchRequest{Entity: id.Entity, IDs: []record.ObjectID{id}})
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		c.working.AddAbsent(id)
		return nil, errors.Wrap(ErrObjectNotFound, id.String())
	}
	objects, err := c.register(snapshots)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, errors.Wrap(ErrObjectNotFound, id.String())
	}
	return objects[0], nil
}

// forget drops ids from the working set, pending changes included.
func (c *Context) forget(ids []record.ObjectID) {
	for _, id := range ids {
		c.working.AddAbsent(id)
	}
}

func coerceValues(entity string, values map[string]any) (map[string]any, error) {
	coerced := make(map[string]any, len(values))
	for k, v := range values {
		value, err := record.Coerce(entity, k, v)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", entity, k)
		}
		coerced[k] = value
	}
	return coerced, nil
}
