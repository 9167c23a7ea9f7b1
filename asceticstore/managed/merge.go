package managed

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
)

// SaveEvent describes one successful save. Inserted snapshots carry every
// value, updated ones only the changed properties.
type SaveEvent struct {
	ID       ulid.ULID
	Origin   string
	Inserted []record.Snapshot
	Updated  []record.Snapshot
	Deleted  []record.ObjectID
	// Synthetic is set for events that no context commit produced: bulk
	// deletes and changes reported by the engine.
	Synthetic bool
}

func newSaveEvent(origin string, log engine.ChangeLog, synthetic bool) SaveEvent {
	return SaveEvent{
		ID:        ulid.Make(),
		Origin:    origin,
		Inserted:  log.Inserted,
		Updated:   log.Updated,
		Deleted:   log.Deleted,
		Synthetic: synthetic,
	}
}

// EventFromNotification turns a change reported by the engine into a save
// event.
func EventFromNotification(n engine.ChangeNotification) SaveEvent {
	return newSaveEvent(n.Origin, n.Log, true)
}

func (e SaveEvent) IsEmpty() bool {
	return len(e.Inserted) == 0 && len(e.Updated) == 0 && len(e.Deleted) == 0
}

// MergePolicy decides what happens to local pending changes of a record
// that was saved elsewhere.
type MergePolicy int

const (
	// MergeRemoteWins overwrites the properties the remote side changed and
	// keeps every other local value and pending change.
	MergeRemoteWins MergePolicy = iota
	// MergeLocalWins keeps local pending changes of the properties the
	// remote side changed.
	MergeLocalWins
	// MergeOverwrite takes the remote values and drops every local pending
	// change of the record.
	MergeOverwrite
)

func (p MergePolicy) String() string {
	switch p {
	case MergeLocalWins:
		return "local-wins"
	case MergeOverwrite:
		return "overwrite"
	}
	return "remote-wins"
}

// ScheduleMerge enqueues event for merging and returns at once. It reports
// false if the context is closed.
func (c *Context) ScheduleMerge(event SaveEvent) bool {
	return c.schedule("merge", func(context.Context) error {
		return c.merge(event)
	})
}

// Merge merges event and waits for it.
func (c *Context) Merge(ctx context.Context, event SaveEvent) error {
	return c.do(ctx, "merge", func(context.Context) error {
		return c.merge(event)
	})
}

func (c *Context) merge(event SaveEvent) error {
	if event.Origin == c.origin || event.IsEmpty() {
		return nil
	}
	for _, snap := range event.Inserted {
		values, err := coerceValues(snap.ID.Entity, snap.Values)
		if err != nil {
			return err
		}
		if o, err := c.working.Get(snap.ID); err == nil {
			c.apply(o, values)
			continue
		}
		c.working.Add(record.NewObject(snap.ID, values))
	}
	for _, snap := range event.Updated {
		o, err := c.working.Get(snap.ID)
		if err != nil {
			continue
		}
		values, err := coerceValues(snap.ID.Entity, snap.Values)
		if err != nil {
			return err
		}
		c.apply(o, values)
	}
	c.forget(event.Deleted)
	c.metrics.Merged(c.name, event.Origin)
	c.logger.Debug("merge",
		zap.Stringer("event", event.ID),
		zap.String("origin", event.Origin),
		zap.Bool("synthetic", event.Synthetic),
		zap.Stringer("policy", c.policy),
	)
	return nil
}

func (c *Context) apply(o *record.Object, values map[string]any) {
	switch c.policy {
	case MergeLocalWins:
		o.Merge(values, true)
	case MergeOverwrite:
		o.Reset(values)
	default:
		o.Merge(values, false)
	}
}
