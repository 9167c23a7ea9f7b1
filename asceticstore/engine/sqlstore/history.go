package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/session"
)

type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// HistoryEntry is one change recorded by an engine created WithHistory.
type HistoryEntry struct {
	Seq        int64
	Origin     string
	ID         record.ObjectID
	Kind       ChangeKind
	RecordedAt time.Time
}

func (e *Engine) ensureHistory(db session.DbSession) error {
	if !e.history {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ensured[DefaultHistoryTable] {
		return nil
	}
	if _, err := e.exec(db, e.dialect.CreateHistoryTable(DefaultHistoryTable)); err != nil {
		return errors.Wrap(err, "create change history")
	}
	e.ensured[DefaultHistoryTable] = true
	return nil
}

func (e *Engine) recordHistory(tx session.DbSession, origin string, log engine.ChangeLog) error {
	if !e.history {
		return nil
	}
	recordedAt := e.now().UTC().Format(time.RFC3339Nano)
	query := "INSERT INTO " + DefaultHistoryTable + " (origin, entity, object_id, change, recorded_at) VALUES (" +
		e.dialect.Placeholder(1) + ", " + e.dialect.Placeholder(2) + ", " + e.dialect.Placeholder(3) + ", " +
		e.dialect.Placeholder(4) + ", " + e.dialect.Placeholder(5) + ")"
	add := func(id record.ObjectID, kind ChangeKind) error {
		_, err := e.exec(tx, query, origin, id.Entity, id.Key.String(), string(kind), recordedAt)
		return err
	}
	for _, snap := range log.Inserted {
		if err := add(snap.ID, ChangeInsert); err != nil {
			return err
		}
	}
	for _, snap := range log.Updated {
		if err := add(snap.ID, ChangeUpdate); err != nil {
			return err
		}
	}
	for _, id := range log.Deleted {
		if err := add(id, ChangeDelete); err != nil {
			return err
		}
	}
	return nil
}

// History returns the changes recorded after seq in order.
func (e *Engine) History(ctx context.Context, after int64) ([]HistoryEntry, error) {
	if !e.history {
		return nil, nil
	}
	var entries []HistoryEntry
	err := e.withSession(ctx, func(db session.DbSession) error {
		if err := e.ensureHistory(db); err != nil {
			return err
		}
		query := "SELECT seq, origin, entity, object_id, change, recorded_at FROM " + DefaultHistoryTable +
			" WHERE seq > " + e.dialect.Placeholder(1) + " ORDER BY seq"
		rows, err := e.query(db, query, after)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var entry HistoryEntry
			var entity, objectID, kind, recordedAt string
			if err := rows.Scan(&entry.Seq, &entry.Origin, &entity, &objectID, &kind, &recordedAt); err != nil {
				return err
			}
			key, err := uuid.Parse(objectID)
			if err != nil {
				return errors.Wrapf(err, "malformed id %q in history", objectID)
			}
			entry.ID = record.ObjectID{Entity: entity, Key: key}
			entry.Kind = ChangeKind(kind)
			if entry.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
				return errors.Wrap(err, "malformed history time")
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, engine.StoreError(err)
	}
	return entries, nil
}
