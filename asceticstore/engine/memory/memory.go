// Package memory is an in-process engine. Predicates run through the
// evaluate visitor.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/signals"
	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

var (
	ErrClosed    = errors.New("memory: engine closed")
	ErrDuplicate = errors.New("memory: duplicate object id")
)

type row struct {
	seq    uint64
	values map[string]any
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithRegistry(registry *operators.OperatorRegistry) Option {
	return func(e *Engine) {
		e.registry = registry
	}
}

type Engine struct {
	mu       sync.RWMutex
	tables   map[string]map[record.ObjectID]row
	seq      uint64
	closed   bool
	registry *operators.OperatorRegistry
	onChange signals.Signal[engine.ChangeNotification]
	logger   *zap.Logger
}

func New(opts ...Option) *Engine {
	e := &Engine{
		tables:   make(map[string]map[record.ObjectID]row),
		registry: operators.NewDefaultRegistry(),
		onChange: signals.NewSignal[engine.ChangeNotification](),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) OnChange() signals.Signal[engine.ChangeNotification] {
	return e.onChange
}

func (e *Engine) Fetch(ctx context.Context, req engine.FetchRequest) ([]record.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, engine.StoreError(err)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, engine.StoreError(ErrClosed)
	}
	matched, err := e.match(req.Entity, req.Where, req.IDs)
	if err != nil {
		return nil, err
	}
	if err := engine.SortBy(e.registry, matched, req.Sort, func(r record.Snapshot, key string) any {
		return engine.Lookup(r.Values, key)
	}); err != nil {
		return nil, err
	}
	matched = engine.Paginate(matched, req.Offset, req.Limit)
	e.logger.Debug("fetch",
		zap.String("entity", req.Entity),
		zap.Int("rows", len(matched)),
	)
	return matched, nil
}

func (e *Engine) Count(ctx context.Context, req engine.FetchRequest) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, engine.StoreError(err)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, engine.StoreError(ErrClosed)
	}
	matched, err := e.match(req.Entity, req.Where, req.IDs)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (e *Engine) Distinct(ctx context.Context, req engine.DistinctRequest) ([][]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, engine.StoreError(err)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, engine.StoreError(ErrClosed)
	}
	matched, err := e.match(req.Entity, req.Where, nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var tuples [][]any
	for _, r := range matched {
		tuple := make([]any, len(req.Fields))
		for i, f := range req.Fields {
			tuple[i] = engine.Lookup(r.Values, f)
		}
		key, err := json.Marshal(tuple)
		if err != nil {
			return nil, engine.QueryError(err)
		}
		if seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		tuples = append(tuples, tuple)
	}
	position := make(map[string]int, len(req.Fields))
	for i, f := range req.Fields {
		position[f] = i
	}
	for _, k := range req.Sort {
		if _, ok := position[k.Key]; !ok {
			return nil, engine.QueryError(errors.Errorf("sort key %s is not a projected field", k.Key))
		}
	}
	if err := engine.SortBy(e.registry, tuples, req.Sort, func(t []any, key string) any {
		return t[position[key]]
	}); err != nil {
		return nil, err
	}
	return tuples, nil
}

func (e *Engine) Persist(ctx context.Context, origin string, log engine.ChangeLog) error {
	if err := ctx.Err(); err != nil {
		return engine.StoreError(err)
	}
	if log.IsEmpty() {
		return nil
	}
	if err := e.apply(log); err != nil {
		return err
	}
	e.logger.Debug("persist",
		zap.String("origin", origin),
		zap.Int("inserted", len(log.Inserted)),
		zap.Int("updated", len(log.Updated)),
		zap.Int("deleted", len(log.Deleted)),
	)
	e.onChange.Notify(engine.ChangeNotification{Origin: origin, Log: log})
	return nil
}

func (e *Engine) apply(log engine.ChangeLog) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return engine.StoreError(ErrClosed)
	}
	for _, snap := range log.Inserted {
		if _, exists := e.tables[snap.ID.Entity][snap.ID]; exists {
			return engine.StoreError(errors.Wrap(ErrDuplicate, snap.ID.String()))
		}
	}
	for _, snap := range log.Inserted {
		e.seq++
		values := maps.Clone(snap.Values)
		if values == nil {
			values = make(map[string]any)
		}
		e.table(snap.ID.Entity)[snap.ID] = row{seq: e.seq, values: values}
	}
	for _, snap := range log.Updated {
		r, ok := e.tables[snap.ID.Entity][snap.ID]
		if !ok {
			continue
		}
		maps.Copy(r.values, snap.Values)
	}
	for _, id := range log.Deleted {
		delete(e.tables[id.Entity], id)
	}
	return nil
}

// BatchDelete removes matching records. The change is reported with the
// origin carried by ctx.
func (e *Engine) BatchDelete(ctx context.Context, req engine.DeleteRequest) ([]record.ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return nil, engine.StoreError(err)
	}
	ids, err := e.deleteMatching(req)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		e.onChange.Notify(engine.ChangeNotification{
			Origin: engine.OriginFrom(ctx),
			Log:    engine.ChangeLog{Deleted: ids},
		})
	}
	return ids, nil
}

func (e *Engine) deleteMatching(req engine.DeleteRequest) ([]record.ObjectID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, engine.StoreError(ErrClosed)
	}
	matched, err := e.match(req.Entity, req.Where, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]record.ObjectID, 0, len(matched))
	for _, r := range matched {
		delete(e.tables[req.Entity], r.ID)
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// WithoutBatchDelete returns a view of e that does not implement
// engine.BatchDeleter.
func (e *Engine) WithoutBatchDelete() engine.Engine {
	return restricted{e}
}

type restricted struct {
	e *Engine
}

func (r restricted) Fetch(ctx context.Context, req engine.FetchRequest) ([]record.Snapshot, error) {
	return r.e.Fetch(ctx, req)
}

func (r restricted) Count(ctx context.Context, req engine.FetchRequest) (int, error) {
	return r.e.Count(ctx, req)
}

func (r restricted) Distinct(ctx context.Context, req engine.DistinctRequest) ([][]any, error) {
	return r.e.Distinct(ctx, req)
}

func (r restricted) Persist(ctx context.Context, origin string, log engine.ChangeLog) error {
	return r.e.Persist(ctx, origin, log)
}

func (r restricted) Close() error {
	return r.e.Close()
}

func (r restricted) OnChange() signals.Signal[engine.ChangeNotification] {
	return r.e.OnChange()
}

func (e *Engine) table(entity string) map[record.ObjectID]row {
	t, ok := e.tables[entity]
	if !ok {
		t = make(map[record.ObjectID]row)
		e.tables[entity] = t
	}
	return t
}

// match returns matching records in insertion order. Callers hold the lock.
func (e *Engine) match(entity string, where s.Visitable, ids []record.ObjectID) ([]record.Snapshot, error) {
	var wanted map[record.ObjectID]bool
	if ids != nil {
		wanted = make(map[record.ObjectID]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}
	}
	type candidate struct {
		seq  uint64
		snap record.Snapshot
	}
	var found []candidate
	for id, r := range e.tables[entity] {
		if wanted != nil && !wanted[id] {
			continue
		}
		if where != nil {
			ok, err := s.Evaluate(s.MapContext(r.values), where, e.registry)
			if err != nil {
				return nil, engine.QueryError(err)
			}
			if !ok {
				continue
			}
		}
		found = append(found, candidate{r.seq, record.Snapshot{ID: id, Values: maps.Clone(r.values)}})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })
	result := make([]record.Snapshot, len(found))
	for i, c := range found {
		result[i] = c.snap
	}
	return result, nil
}
