// Package query turns typed predicates into engine requests.
package query

import (
	"github.com/pkg/errors"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/predicate"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
)

var (
	ErrInvalidPagination = errors.New("query: invalid pagination")
	ErrNoFields          = errors.New("query: no fields")
	ErrInvalidSort       = errors.New("query: invalid sort")
)

func sortKeys[T any](keys []predicate.SortKey[T]) []engine.SortKey {
	if len(keys) == 0 {
		return nil
	}
	result := make([]engine.SortKey, 0, len(keys))
	for _, k := range keys {
		result = append(result, engine.SortKey{Key: k.Key(), Ascending: k.Ascending()})
	}
	return result
}

// FetchSpec is a validated fetch of records of T.
type FetchSpec[T any] struct {
	entity    string
	where     predicate.Predicate[T]
	sort      []predicate.SortKey[T]
	offset    int
	limit     int
	batchSize int
}

func (s FetchSpec[T]) Where() predicate.Predicate[T] {
	return s.where
}

func (s FetchSpec[T]) Sort() []predicate.SortKey[T] {
	return s.sort
}

func (s FetchSpec[T]) Offset() int {
	return s.offset
}

func (s FetchSpec[T]) Limit() int {
	return s.limit
}

func (s FetchSpec[T]) BatchSize() int {
	return s.batchSize
}

func (s FetchSpec[T]) Request() engine.FetchRequest {
	return engine.FetchRequest{
		Entity:    s.entity,
		Where:     s.where.Node(),
		Sort:      sortKeys(s.sort),
		Offset:    s.offset,
		Limit:     s.limit,
		BatchSize: s.batchSize,
	}
}

// CountRequest drops ordering and pagination.
func (s FetchSpec[T]) CountRequest() engine.FetchRequest {
	return engine.FetchRequest{Entity: s.entity, Where: s.where.Node()}
}

type FetchBuilder[T any] struct {
	spec FetchSpec[T]
	err  error
}

func NewFetch[T any, P record.Entity[T]]() *FetchBuilder[T] {
	return &FetchBuilder[T]{spec: FetchSpec[T]{entity: record.EntityName[T, P]()}}
}

func (b *FetchBuilder[T]) Where(p predicate.Predicate[T]) *FetchBuilder[T] {
	b.spec.where = p
	return b
}

func (b *FetchBuilder[T]) SortBy(keys ...predicate.SortKey[T]) *FetchBuilder[T] {
	b.spec.sort = append(b.spec.sort, keys...)
	return b
}

func (b *FetchBuilder[T]) Offset(n int) *FetchBuilder[T] {
	b.spec.offset = n
	return b
}

// Limit caps the number of records, 0 means no limit.
func (b *FetchBuilder[T]) Limit(n int) *FetchBuilder[T] {
	b.spec.limit = n
	return b
}

func (b *FetchBuilder[T]) BatchSize(n int) *FetchBuilder[T] {
	b.spec.batchSize = n
	return b
}

// Page selects page number (counted from 1) of the given size.
func (b *FetchBuilder[T]) Page(number, size int) *FetchBuilder[T] {
	if number < 1 || size < 1 {
		b.err = errors.Wrapf(ErrInvalidPagination, "page %d of size %d", number, size)
		return b
	}
	b.spec.offset = (number - 1) * size
	b.spec.limit = size
	return b
}

func (b *FetchBuilder[T]) Build() (FetchSpec[T], error) {
	if b.err != nil {
		return FetchSpec[T]{}, b.err
	}
	switch {
	case b.spec.offset < 0:
		return FetchSpec[T]{}, errors.Wrapf(ErrInvalidPagination, "offset %d", b.spec.offset)
	case b.spec.limit < 0:
		return FetchSpec[T]{}, errors.Wrapf(ErrInvalidPagination, "limit %d", b.spec.limit)
	case b.spec.batchSize < 0:
		return FetchSpec[T]{}, errors.Wrapf(ErrInvalidPagination, "batch size %d", b.spec.batchSize)
	}
	return b.spec, nil
}

// DistinctSpec is a validated projection of distinct value tuples.
type DistinctSpec[T any] struct {
	entity string
	fields []predicate.Field[T]
	where  predicate.Predicate[T]
	sort   []predicate.SortKey[T]
}

func (s DistinctSpec[T]) Fields() []predicate.Field[T] {
	return s.fields
}

func (s DistinctSpec[T]) Request() engine.DistinctRequest {
	fields := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		fields = append(fields, f.Key())
	}
	return engine.DistinctRequest{
		Entity: s.entity,
		Fields: fields,
		Where:  s.where.Node(),
		Sort:   sortKeys(s.sort),
	}
}

type DistinctBuilder[T any] struct {
	spec DistinctSpec[T]
}

func NewDistinct[T any, P record.Entity[T]](fields ...predicate.Field[T]) *DistinctBuilder[T] {
	return &DistinctBuilder[T]{spec: DistinctSpec[T]{entity: record.EntityName[T, P](), fields: fields}}
}

func (b *DistinctBuilder[T]) Where(p predicate.Predicate[T]) *DistinctBuilder[T] {
	b.spec.where = p
	return b
}

func (b *DistinctBuilder[T]) SortBy(keys ...predicate.SortKey[T]) *DistinctBuilder[T] {
	b.spec.sort = append(b.spec.sort, keys...)
	return b
}

func (b *DistinctBuilder[T]) Build() (DistinctSpec[T], error) {
	if len(b.spec.fields) == 0 {
		return DistinctSpec[T]{}, ErrNoFields
	}
	projected := make(map[string]bool, len(b.spec.fields))
	for _, f := range b.spec.fields {
		projected[f.Key()] = true
	}
	for _, k := range b.spec.sort {
		if !projected[k.Key()] {
			return DistinctSpec[T]{}, errors.Wrapf(ErrInvalidSort, "%s is not a projected field", k.Key())
		}
	}
	return b.spec, nil
}

// BatchDeleteSpec selects records to delete in bulk.
type BatchDeleteSpec[T any] struct {
	entity string
	where  predicate.Predicate[T]
}

func NewBatchDelete[T any, P record.Entity[T]](where predicate.Predicate[T]) BatchDeleteSpec[T] {
	return BatchDeleteSpec[T]{entity: record.EntityName[T, P](), where: where}
}

func (s BatchDeleteSpec[T]) Where() predicate.Predicate[T] {
	return s.where
}

func (s BatchDeleteSpec[T]) Request() engine.DeleteRequest {
	return engine.DeleteRequest{Entity: s.entity, Where: s.where.Node()}
}

// FetchRequest is the fetch a delete falls back to when the engine cannot
// delete in bulk.
func (s BatchDeleteSpec[T]) FetchRequest() engine.FetchRequest {
	return engine.FetchRequest{Entity: s.entity, Where: s.where.Node()}
}
