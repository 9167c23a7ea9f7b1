// Package engine is the contract between managed contexts and a store.
package engine

import (
	"context"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/signals"
	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
)

type SortKey struct {
	Key       string
	Ascending bool
}

// FetchRequest selects records of one entity. A nil Where matches all, a
// zero Limit means no limit. IDs, when set, restrict the result to those
// records. BatchSize is a hint.
type FetchRequest struct {
	Entity    string
	Where     s.Visitable
	Sort      []SortKey
	Offset    int
	Limit     int
	BatchSize int
	IDs       []record.ObjectID
}

// DistinctRequest projects distinct value tuples of Fields.
type DistinctRequest struct {
	Entity string
	Fields []string
	Where  s.Visitable
	Sort   []SortKey
}

type DeleteRequest struct {
	Entity string
	Where  s.Visitable
}

// ChangeLog is what one commit writes. Updated snapshots carry only changed
// properties.
type ChangeLog struct {
	Inserted []record.Snapshot
	Updated  []record.Snapshot
	Deleted  []record.ObjectID
}

func (l ChangeLog) IsEmpty() bool {
	return len(l.Inserted) == 0 && len(l.Updated) == 0 && len(l.Deleted) == 0
}

type Engine interface {
	Fetch(ctx context.Context, req FetchRequest) ([]record.Snapshot, error)
	Count(ctx context.Context, req FetchRequest) (int, error)
	Distinct(ctx context.Context, req DistinctRequest) ([][]any, error)
	// Persist writes log atomically on behalf of origin.
	Persist(ctx context.Context, origin string, log ChangeLog) error
	Close() error
}

// BatchDeleter deletes matching records without loading them.
type BatchDeleter interface {
	BatchDelete(ctx context.Context, req DeleteRequest) ([]record.ObjectID, error)
}

type ChangeNotification struct {
	Origin string
	Log    ChangeLog
}

// ChangeNotifier reports every change persisted to the store, whoever made
// it.
type ChangeNotifier interface {
	OnChange() signals.Signal[ChangeNotification]
}
