package managed

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/predicate"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/query"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
)

// Create allocates a record bound to c. It reaches the store on Commit.
func Create[T any, P record.Entity[T]](ctx context.Context, c *Context) (P, error) {
	var result P
	err := c.do(ctx, "create", func(context.Context) error {
		o := record.NewInsertedObject(record.NewObjectID(record.EntityName[T, P]()))
		c.working.Add(o)
		result = record.Wrap[T, P](o)
		return nil
	})
	return result, err
}

// Fetch runs spec against the store and returns this context's copies of
// the matching records. Uncommitted changes of this context are taken into
// account: a locally changed record matches by its current values and
// unsaved inserts are included.
func Fetch[T any, P record.Entity[T]](ctx context.Context, c *Context, spec query.FetchSpec[T]) ([]P, error) {
	var result []P
	err := c.do(ctx, "fetch", func(ctx context.Context) error {
		objects, err := fetchObjects(ctx, c, spec.Request())
		if err != nil {
			return err
		}
		result = wrapAll[T, P](objects)
		return nil
	})
	return result, err
}

// fetchObjects runs req against the store and overlays this context's
// pending changes: changed or unsaved records are matched by their current
// values, then sort and pagination are applied again.
func fetchObjects(ctx context.Context, c *Context, req engine.FetchRequest) ([]*record.Object, error) {
	pending := c.pendingObjects(req.Entity)
	if len(pending) == 0 || req.IDs != nil {
		snapshots, err := c.engine.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		c.logFetch(req, len(snapshots))
		return c.register(snapshots)
	}

	storeReq := req
	storeReq.Offset = 0
	if req.Limit > 0 {
		// Every pending object may drop out of the store rows.
		storeReq.Limit = req.Offset + req.Limit + len(pending)
	}
	snapshots, err := c.engine.Fetch(ctx, storeReq)
	if err != nil {
		return nil, err
	}
	c.logFetch(req, len(snapshots))
	stored, err := c.register(snapshots)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		object *record.Object
		values map[string]any
	}
	var candidates []candidate
	seen := make(map[record.ObjectID]bool, len(stored))
	consider := func(o *record.Object) error {
		values := o.Values()
		if o.HasChanges() {
			ok, err := c.matches(values, req.Where)
			if err != nil || !ok {
				return err
			}
		}
		candidates = append(candidates, candidate{o, values})
		return nil
	}
	for _, o := range stored {
		seen[o.ID()] = true
		if err := consider(o); err != nil {
			return nil, err
		}
	}
	for _, o := range pending {
		if seen[o.ID()] || o.IsDeleted() {
			continue
		}
		if err := consider(o); err != nil {
			return nil, err
		}
	}
	if err := engine.SortBy(c.registry, candidates, req.Sort, func(cand candidate, key string) any {
		return engine.Lookup(cand.values, key)
	}); err != nil {
		return nil, err
	}
	candidates = engine.Paginate(candidates, req.Offset, req.Limit)
	objects := make([]*record.Object, 0, len(candidates))
	for _, cand := range candidates {
		objects = append(objects, cand.object)
	}
	return objects, nil
}

func (c *Context) logFetch(req engine.FetchRequest, rows int) {
	c.logger.Debug("fetch",
		zap.String("entity", req.Entity),
		zap.Int("rows", rows),
		zap.Int("batch_size", req.BatchSize),
	)
}

// Registered returns the copy of id in the working set without asking the
// store.
func Registered[T any, P record.Entity[T]](ctx context.Context, c *Context, id record.ObjectID) (P, bool, error) {
	var result P
	var found bool
	err := c.do(ctx, "registered", func(context.Context) error {
		o, err := c.working.Get(id)
		if err != nil || o.IsDeleted() {
			return nil
		}
		result, found = record.Wrap[T, P](o), true
		return nil
	})
	return result, found, err
}

// Count counts the records matching where without loading them.
func Count[T any, P record.Entity[T]](ctx context.Context, c *Context, where predicate.Predicate[T]) (int, error) {
	var count int
	err := c.do(ctx, "count", func(ctx context.Context) error {
		spec, err := query.NewFetch[T, P]().Where(where).Build()
		if err != nil {
			return err
		}
		count, err = c.engine.Count(ctx, spec.CountRequest())
		return err
	})
	return count, err
}

// Distinct returns the distinct tuples of spec, values converted to the
// declared attribute types.
func Distinct[T any, P record.Entity[T]](ctx context.Context, c *Context, spec query.DistinctSpec[T]) ([][]any, error) {
	var result [][]any
	err := c.do(ctx, "distinct", func(ctx context.Context) error {
		req := spec.Request()
		tuples, err := c.engine.Distinct(ctx, req)
		if err != nil {
			return err
		}
		for _, tuple := range tuples {
			if len(tuple) != len(req.Fields) {
				return engine.StoreError(errors.Errorf("distinct returned %d columns, want %d", len(tuple), len(req.Fields)))
			}
			for i, v := range tuple {
				if tuple[i], err = record.Coerce(req.Entity, req.Fields[i], v); err != nil {
					return engine.StoreError(err)
				}
			}
		}
		result = tuples
		return nil
	})
	return result, err
}

// DistinctValues returns the distinct values of one attribute.
func DistinctValues[T any, V any, P record.Entity[T]](
	ctx context.Context,
	c *Context,
	path predicate.Path[T, V],
	where predicate.Predicate[T],
	sort ...predicate.SortKey[T],
) ([]V, error) {
	spec, err := query.NewDistinct[T, P](path).Where(where).SortBy(sort...).Build()
	if err != nil {
		return nil, err
	}
	tuples, err := Distinct[T, P](ctx, c, spec)
	if err != nil {
		return nil, err
	}
	values := make([]V, 0, len(tuples))
	for _, tuple := range tuples {
		v, err := record.Convert[V](tuple[0])
		if err != nil {
			return nil, engine.StoreError(err)
		}
		values = append(values, v)
	}
	return values, nil
}

// Update resolves every record in this context and calls mutate with the
// local copy. Records fetched by another context are never mutated
// directly.
func Update[T any, P record.Entity[T]](ctx context.Context, c *Context, records []P, mutate func(P) error) ([]P, error) {
	var result []P
	err := c.do(ctx, "update", func(ctx context.Context) error {
		objects, err := resolveAll(ctx, c, records)
		if err != nil {
			return err
		}
		result = wrapAll[T, P](objects)
		for _, r := range result {
			if err := mutate(r); err != nil {
				return err
			}
		}
		return nil
	})
	return result, err
}

// Delete marks records for deletion on the next Commit. Unsaved inserts
// are dropped at once.
func Delete[T any, P record.Entity[T]](ctx context.Context, c *Context, records []P) error {
	return c.do(ctx, "delete", func(ctx context.Context) error {
		objects, err := resolveAll(ctx, c, records)
		if err != nil {
			return err
		}
		for _, o := range objects {
			if o.IsInserted() {
				c.working.Remove(o.ID())
				continue
			}
			o.MarkDeleted()
		}
		return nil
	})
}

func resolveAll[T any, P record.Entity[T]](ctx context.Context, c *Context, records []P) ([]*record.Object, error) {
	objects := make([]*record.Object, 0, len(records))
	for _, r := range records {
		if r == nil || r.Object() == nil {
			return nil, ErrUnboundRecord
		}
		o, err := c.resolve(ctx, r.Object().ID())
		if err != nil {
			return nil, err
		}
		objects = append(objects, o)
	}
	return objects, nil
}

type BatchDeleteStrategy int

const (
	// StrategyBulk deleted in the store without loading records.
	StrategyBulk BatchDeleteStrategy = iota
	// StrategyFallback fetched the matching records and deleted them.
	StrategyFallback
)

func (s BatchDeleteStrategy) String() string {
	if s == StrategyBulk {
		return "bulk"
	}
	return "fallback"
}

type BatchDeleteResult struct {
	Deleted  []record.ObjectID
	Strategy BatchDeleteStrategy
}

// BatchDelete deletes every record matching where right away. Engines
// implementing engine.BatchDeleter delete in place; otherwise the records
// are fetched and deleted. Either way the deleted IDs leave this working set
// and a save event carrying them is sent to OnSaved.
func BatchDelete[T any, P record.Entity[T]](ctx context.Context, c *Context, where predicate.Predicate[T]) (BatchDeleteResult, error) {
	spec := query.NewBatchDelete[T, P](where)
	return batchDelete(ctx, c, spec.Request(), spec.FetchRequest())
}

// DeleteMatching is BatchDelete for callers that know the entity by name
// only.
func DeleteMatching(ctx context.Context, c *Context, req engine.DeleteRequest) (BatchDeleteResult, error) {
	return batchDelete(ctx, c, req, engine.FetchRequest{Entity: req.Entity, Where: req.Where})
}

func batchDelete(ctx context.Context, c *Context, req engine.DeleteRequest, fallback engine.FetchRequest) (BatchDeleteResult, error) {
	var result BatchDeleteResult
	err := c.do(ctx, "batch_delete", func(ctx context.Context) error {
		if deleter, ok := c.engine.(engine.BatchDeleter); ok {
			ids, err := deleter.BatchDelete(engine.WithOrigin(ctx, c.origin), req)
			if err != nil {
				return err
			}
			result = BatchDeleteResult{Deleted: ids, Strategy: StrategyBulk}
		} else {
			ids, err := fallbackDelete(ctx, c, fallback)
			if err != nil {
				return err
			}
			result = BatchDeleteResult{Deleted: ids, Strategy: StrategyFallback}
			c.metrics.BatchDeleteFallback(c.name, req.Entity)
			c.logger.Debug("batch delete fallback", zap.String("entity", req.Entity), zap.Int("deleted", len(ids)))
		}
		c.forget(result.Deleted)
		if len(result.Deleted) > 0 {
			c.onSaved.Notify(newSaveEvent(c.origin, engine.ChangeLog{Deleted: result.Deleted}, result.Strategy == StrategyBulk))
		}
		return nil
	})
	return result, err
}

func fallbackDelete(ctx context.Context, c *Context, req engine.FetchRequest) ([]record.ObjectID, error) {
	snapshots, err := c.engine.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	ids := make([]record.ObjectID, 0, len(snapshots))
	for _, snap := range snapshots {
		ids = append(ids, snap.ID)
	}
	if err := c.engine.Persist(engine.WithOrigin(ctx, c.origin), c.origin, engine.ChangeLog{Deleted: ids}); err != nil {
		return nil, err
	}
	return ids, nil
}

// FetchOrCreate returns the record matching where, or a new one when none
// does. The caller guarantees where matches at most one record; if more
// match it is ErrSelectivityViolation, a panic with assertions enabled.
// Pending changes of this context count, an unsaved insert matches too.
func FetchOrCreate[T any, P record.Entity[T]](
	ctx context.Context,
	c *Context,
	where predicate.Predicate[T],
	sort ...predicate.SortKey[T],
) (P, bool, error) {
	var result P
	var created bool
	err := c.do(ctx, "fetch_or_create", func(ctx context.Context) error {
		entity := record.EntityName[T, P]()
		spec, err := query.NewFetch[T, P]().Where(where).SortBy(sort...).Limit(2).Build()
		if err != nil {
			return err
		}
		matches, err := fetchObjects(ctx, c, spec.Request())
		if err != nil {
			return err
		}
		switch len(matches) {
		case 0:
			o := record.NewInsertedObject(record.NewObjectID(entity))
			c.working.Add(o)
			result, created = record.Wrap[T, P](o), true
			return nil
		case 1:
			result = record.Wrap[T, P](matches[0])
			return nil
		}
		err = errors.Wrapf(ErrSelectivityViolation, "%s where %s", entity, where)
		if c.assertions {
			panic(err)
		}
		return err
	})
	return result, created, err
}

// pendingObjects returns the objects of entity with uncommitted changes.
func (c *Context) pendingObjects(entity string) []*record.Object {
	var result []*record.Object
	for _, o := range c.working.Objects() {
		if o.Entity() == entity && o.HasChanges() {
			result = append(result, o)
		}
	}
	return result
}

func (c *Context) matches(values map[string]any, where s.Visitable) (bool, error) {
	if where == nil {
		return true, nil
	}
	ok, err := s.Evaluate(s.MapContext(values), where, c.registry)
	if err != nil {
		return false, engine.QueryError(err)
	}
	return ok, nil
}

func wrapAll[T any, P record.Entity[T]](objects []*record.Object) []P {
	result := make([]P, 0, len(objects))
	for _, o := range objects {
		result = append(result, record.Wrap[T, P](o))
	}
	return result
}
