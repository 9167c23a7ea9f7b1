// Package sqlstore keeps records as JSON documents in SQL tables, one table
// per entity.
package sqlstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/session"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/signals"
	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
	infra "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/infrastructure"
)

const DefaultHistoryTable = "change_history"

type Option func(*Engine)

func WithSchema(schema *infra.SchemaRegistry) Option {
	return func(e *Engine) {
		e.schema = schema
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHistory records every persisted change in the change history table.
func WithHistory() Option {
	return func(e *Engine) {
		e.history = true
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

type Engine struct {
	pool         session.SessionPool
	dialect      Dialect
	schema       *infra.SchemaRegistry
	history      bool
	logger       *zap.Logger
	now          func() time.Time
	onChange     signals.Signal[engine.ChangeNotification]
	onQueryEnded signals.Signal[session.QueryEndedEvent]

	mu      sync.Mutex
	ensured map[string]bool
}

func New(pool session.SessionPool, dialect Dialect, opts ...Option) *Engine {
	e := &Engine{
		pool:         pool,
		dialect:      dialect,
		schema:       infra.NewSchemaRegistry(),
		logger:       zap.NewNop(),
		now:          time.Now,
		onChange:     signals.NewSignal[engine.ChangeNotification](),
		onQueryEnded: signals.NewSignal[session.QueryEndedEvent](),
		ensured:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Dialect() Dialect {
	return e.dialect
}

func (e *Engine) OnChange() signals.Signal[engine.ChangeNotification] {
	return e.onChange
}

func (e *Engine) OnQueryEnded() signals.Signal[session.QueryEndedEvent] {
	return e.onQueryEnded
}

func (e *Engine) Fetch(ctx context.Context, req engine.FetchRequest) ([]record.Snapshot, error) {
	var snapshots []record.Snapshot
	err := e.withSession(ctx, func(db session.DbSession) error {
		table, err := e.ensure(db, req.Entity)
		if err != nil {
			return err
		}
		where, params, err := e.where(req.Where, req.IDs, nil)
		if err != nil {
			return err
		}
		orderBy, err := e.orderBy(req.Sort)
		if err != nil {
			return err
		}
		query := "SELECT id, data FROM " + table.Table + where + orderBy +
			e.dialect.Pagination(req.Offset, req.Limit)
		rows, err := e.query(db, query, params...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			var data []byte
			if err := rows.Scan(&id, &data); err != nil {
				return err
			}
			snap, err := decodeRow(req.Entity, id, data)
			if err != nil {
				return err
			}
			snapshots = append(snapshots, snap)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, engine.StoreError(err)
	}
	return snapshots, nil
}

func (e *Engine) Count(ctx context.Context, req engine.FetchRequest) (int, error) {
	var count int64
	err := e.withSession(ctx, func(db session.DbSession) error {
		table, err := e.ensure(db, req.Entity)
		if err != nil {
			return err
		}
		where, params, err := e.where(req.Where, req.IDs, nil)
		if err != nil {
			return err
		}
		query := "SELECT COUNT(*) FROM " + table.Table + where
		start := time.Now()
		err = db.Connection().QueryRow(query, params...).Scan(&count)
		e.queryEnded(db, query, params, start, err)
		return err
	})
	if err != nil {
		return 0, engine.StoreError(err)
	}
	return int(count), nil
}

func (e *Engine) Distinct(ctx context.Context, req engine.DistinctRequest) ([][]any, error) {
	var tuples [][]any
	err := e.withSession(ctx, func(db session.DbSession) error {
		table, err := e.ensure(db, req.Entity)
		if err != nil {
			return err
		}
		columns := make([]string, 0, len(req.Fields))
		for _, f := range req.Fields {
			column, err := e.dialect.JSONField(f)
			if err != nil {
				return engine.QueryError(err)
			}
			columns = append(columns, column)
		}
		// Sort expressions join the select list so that DISTINCT may order
		// by them; they do not change which tuples are distinct.
		selected := append([]string(nil), columns...)
		terms := make([]string, 0, len(req.Sort))
		for _, k := range req.Sort {
			expr, err := e.dialect.Field(k.Key)
			if err != nil {
				return engine.QueryError(err)
			}
			if !slices.Contains(selected, expr) {
				selected = append(selected, expr)
			}
			terms = append(terms, e.dialect.OrderBy(expr, k.Ascending))
		}
		where, params, err := e.where(req.Where, nil, nil)
		if err != nil {
			return err
		}
		query := "SELECT DISTINCT " + strings.Join(selected, ", ") + " FROM " + table.Table + where
		if len(terms) > 0 {
			query += " ORDER BY " + strings.Join(terms, ", ")
		}
		rows, err := e.query(db, query, params...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			raw := make([][]byte, len(columns))
			dest := make([]any, len(selected))
			for i := range dest {
				if i < len(raw) {
					dest[i] = &raw[i]
				} else {
					dest[i] = new(any)
				}
			}
			if err := rows.Scan(dest...); err != nil {
				return err
			}
			tuple := make([]any, len(columns))
			for i, value := range raw {
				if value == nil {
					continue
				}
				if err := json.Unmarshal(value, &tuple[i]); err != nil {
					return errors.Wrapf(err, "decode %s", req.Fields[i])
				}
			}
			tuples = append(tuples, tuple)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, engine.StoreError(err)
	}
	return tuples, nil
}

func (e *Engine) Persist(ctx context.Context, origin string, log engine.ChangeLog) error {
	if log.IsEmpty() {
		return nil
	}
	err := e.withSession(ctx, func(db session.DbSession) error {
		tables := make(map[string]infra.TableMapping)
		for _, entity := range entitiesOf(log) {
			table, err := e.ensure(db, entity)
			if err != nil {
				return err
			}
			tables[entity] = table
		}
		if err := e.ensureHistory(db); err != nil {
			return err
		}
		return db.Atomic(func(txSession session.Session) error {
			tx, err := asDbSession(txSession)
			if err != nil {
				return err
			}
			return e.write(tx, origin, tables, log)
		})
	})
	if err != nil {
		return engine.StoreError(err)
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

func (e *Engine) write(tx session.DbSession, origin string, tables map[string]infra.TableMapping, log engine.ChangeLog) error {
	for _, snap := range log.Inserted {
		data, err := encodeValues(snap.Values)
		if err != nil {
			return err
		}
		query := "INSERT INTO " + tables[snap.ID.Entity].Table + " (id, data) VALUES (" +
			e.dialect.Placeholder(1) + ", " + e.dialect.DataParam(e.dialect.Placeholder(2)) + ")"
		if _, err := e.exec(tx, query, snap.ID.Key.String(), string(data)); err != nil {
			return err
		}
	}
	for _, snap := range log.Updated {
		data, err := encodeValues(snap.Values)
		if err != nil {
			return err
		}
		query := "UPDATE " + tables[snap.ID.Entity].Table + " SET data = " +
			e.dialect.MergePatch(e.dialect.Placeholder(1)) + " WHERE id = " + e.dialect.Placeholder(2)
		if _, err := e.exec(tx, query, string(data), snap.ID.Key.String()); err != nil {
			return err
		}
	}
	for _, group := range groupByEntity(log.Deleted) {
		params := make([]any, 0, len(group))
		placeholders := make([]string, 0, len(group))
		for _, id := range group {
			params = append(params, id.Key.String())
			placeholders = append(placeholders, e.dialect.Placeholder(len(params)))
		}
		query := "DELETE FROM " + tables[group[0].Entity].Table + " WHERE id IN (" + strings.Join(placeholders, ", ") + ")"
		if _, err := e.exec(tx, query, params...); err != nil {
			return err
		}
	}
	return e.recordHistory(tx, origin, log)
}

// BatchDelete deletes matching rows with a single DELETE ... RETURNING
// statement. The change is reported with the origin carried by ctx.
func (e *Engine) BatchDelete(ctx context.Context, req engine.DeleteRequest) ([]record.ObjectID, error) {
	var ids []record.ObjectID
	origin := engine.OriginFrom(ctx)
	err := e.withSession(ctx, func(db session.DbSession) error {
		table, err := e.ensure(db, req.Entity)
		if err != nil {
			return err
		}
		if err := e.ensureHistory(db); err != nil {
			return err
		}
		where, params, err := e.where(req.Where, nil, nil)
		if err != nil {
			return err
		}
		return db.Atomic(func(txSession session.Session) error {
			tx, err := asDbSession(txSession)
			if err != nil {
				return err
			}
			ids = nil
			rows, err := e.query(tx, "DELETE FROM "+table.Table+where+" RETURNING id", params...)
			if err != nil {
				return err
			}
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return err
				}
				key, err := uuid.Parse(id)
				if err != nil {
					rows.Close()
					return errors.Wrapf(err, "malformed id %q in %s", id, table.Table)
				}
				ids = append(ids, record.ObjectID{Entity: req.Entity, Key: key})
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return err
			}
			if err := rows.Close(); err != nil {
				return err
			}
			return e.recordHistory(tx, origin, engine.ChangeLog{Deleted: ids})
		})
	})
	if err != nil {
		return nil, engine.StoreError(err)
	}
	if len(ids) > 0 {
		e.onChange.Notify(engine.ChangeNotification{Origin: origin, Log: engine.ChangeLog{Deleted: ids}})
	}
	return ids, nil
}

func (e *Engine) Close() error {
	return e.pool.Close()
}

func (e *Engine) withSession(ctx context.Context, callback func(session.DbSession) error) error {
	return e.pool.Session(ctx, func(sess session.Session) error {
		db, err := asDbSession(sess)
		if err != nil {
			return err
		}
		return callback(db)
	})
}

func asDbSession(sess session.Session) (session.DbSession, error) {
	db, ok := sess.(session.DbSession)
	if !ok {
		return nil, errors.Errorf("sqlstore: %T is not a db session", sess)
	}
	return db, nil
}

// ensure creates the table of entity on first use.
func (e *Engine) ensure(db session.DbSession, entity string) (infra.TableMapping, error) {
	table, err := e.schema.Get(entity)
	if err != nil {
		return table, engine.QueryError(err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ensured[table.Table] {
		return table, nil
	}
	if _, err := e.exec(db, e.dialect.CreateTable(table.Table)); err != nil {
		return table, errors.Wrapf(err, "create table %s", table.Table)
	}
	e.ensured[table.Table] = true
	return table, nil
}

func (e *Engine) where(where s.Visitable, ids []record.ObjectID, params []any) (string, []any, error) {
	var clauses []string
	if where != nil {
		clause, compiled, err := e.dialect.Compile(where, len(params))
		if err != nil {
			return "", nil, engine.QueryError(err)
		}
		clauses = append(clauses, clause)
		params = append(params, compiled...)
	}
	if ids != nil {
		if len(ids) == 0 {
			clauses = append(clauses, "1 = 0")
		} else {
			placeholders := make([]string, 0, len(ids))
			for _, id := range ids {
				params = append(params, id.Key.String())
				placeholders = append(placeholders, e.dialect.Placeholder(len(params)))
			}
			clauses = append(clauses, "id IN ("+strings.Join(placeholders, ", ")+")")
		}
	}
	switch len(clauses) {
	case 0:
		return "", params, nil
	case 1:
		return " WHERE " + clauses[0], params, nil
	}
	return " WHERE (" + strings.Join(clauses, ") AND (") + ")", params, nil
}

func (e *Engine) orderBy(keys []engine.SortKey) (string, error) {
	terms := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		expr, err := e.dialect.Field(k.Key)
		if err != nil {
			return "", engine.QueryError(err)
		}
		terms = append(terms, e.dialect.OrderBy(expr, k.Ascending))
	}
	if e.dialect.InsertionOrder() != "" {
		terms = append(terms, e.dialect.InsertionOrder())
	}
	if len(terms) == 0 {
		return "", nil
	}
	return " ORDER BY " + strings.Join(terms, ", "), nil
}

func (e *Engine) exec(db session.DbSession, query string, params ...any) (session.Result, error) {
	start := time.Now()
	result, err := db.Connection().Exec(query, params...)
	e.queryEnded(db, query, params, start, err)
	return result, err
}

func (e *Engine) query(db session.DbSession, query string, params ...any) (session.Rows, error) {
	start := time.Now()
	rows, err := db.Connection().Query(query, params...)
	e.queryEnded(db, query, params, start, err)
	return rows, err
}

func (e *Engine) queryEnded(db session.DbSession, query string, params []any, start time.Time, err error) {
	elapsed := time.Since(start)
	e.logger.Debug("query",
		zap.String("dialect", e.dialect.Name()),
		zap.String("sql", query),
		zap.Int("params", len(params)),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
	e.onQueryEnded.Notify(session.QueryEndedEvent{
		Query:        query,
		Params:       params,
		Sender:       e,
		Session:      db,
		ResponseTime: elapsed,
		Err:          err,
	})
}

func encodeValues(values map[string]any) ([]byte, error) {
	normalized := make(map[string]any, len(values))
	for k, v := range values {
		normalized[k] = infra.NormalizeValue(v)
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, errors.Wrap(err, "encode record")
	}
	return data, nil
}

func decodeRow(entity, id string, data []byte) (record.Snapshot, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return record.Snapshot{}, errors.Wrapf(err, "malformed id %q", id)
	}
	values := make(map[string]any)
	if err := json.Unmarshal(data, &values); err != nil {
		return record.Snapshot{}, errors.Wrapf(err, "decode %s/%s", entity, id)
	}
	return record.Snapshot{ID: record.ObjectID{Entity: entity, Key: key}, Values: values}, nil
}

func entitiesOf(log engine.ChangeLog) []string {
	seen := make(map[string]bool)
	var entities []string
	add := func(entity string) {
		if !seen[entity] {
			seen[entity] = true
			entities = append(entities, entity)
		}
	}
	for _, snap := range log.Inserted {
		add(snap.ID.Entity)
	}
	for _, snap := range log.Updated {
		add(snap.ID.Entity)
	}
	for _, id := range log.Deleted {
		add(id.Entity)
	}
	return entities
}

func groupByEntity(ids []record.ObjectID) [][]record.ObjectID {
	index := make(map[string]int)
	var groups [][]record.ObjectID
	for _, id := range ids {
		i, ok := index[id.Entity]
		if !ok {
			i = len(groups)
			index[id.Entity] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], id)
	}
	return groups
}
