package record

import (
	"maps"
	"reflect"
	"sync"
)

// Object is the attribute bag behind a typed record. It keeps the values
// last read from (or merged from) the store apart from local changes that
// have not been committed yet. All methods are safe for concurrent use.
type Object struct {
	mu       sync.RWMutex
	id       ObjectID
	values   map[string]any
	changes  map[string]any
	inserted bool
	deleted  bool
}

// NewObject returns an object in its persisted state.
func NewObject(id ObjectID, values map[string]any) *Object {
	return &Object{
		id:      id,
		values:  maps.Clone(orEmpty(values)),
		changes: make(map[string]any),
	}
}

// NewInsertedObject returns an object that exists only locally until its
// context commits.
func NewInsertedObject(id ObjectID) *Object {
	o := NewObject(id, nil)
	o.inserted = true
	return o
}

func (o *Object) ID() ObjectID {
	return o.id
}

func (o *Object) Entity() string {
	return o.id.Entity
}

// Value returns the pending value for key if there is one, else the stored
// one.
func (o *Object) Value(key string) any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.changes[key]; ok {
		return v
	}
	return o.values[key]
}

func (o *Object) Set(key string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes[key] = value
}

// Values returns stored values overlaid with pending changes.
func (o *Object) Values() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	merged := maps.Clone(o.values)
	maps.Copy(merged, o.changes)
	return merged
}

// Changes returns the pending property changes.
func (o *Object) Changes() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.changes)
}

func (o *Object) HasChanges() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.inserted || o.deleted || len(o.changes) > 0
}

func (o *Object) IsInserted() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.inserted
}

func (o *Object) IsDeleted() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.deleted
}

func (o *Object) MarkDeleted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = true
}

// Commit folds the values a successful save wrote into the stored values.
// A pending change that differs from what was written stays pending.
func (o *Object) Commit(written map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, v := range written {
		o.values[k] = v
		if change, ok := o.changes[k]; ok && reflect.DeepEqual(change, v) {
			delete(o.changes, k)
		}
	}
	o.inserted = false
}

// Rollback drops pending changes and a pending deletion.
func (o *Object) Rollback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	clear(o.changes)
	o.deleted = false
}

// Refresh replaces the stored values, pending changes stay on top.
func (o *Object) Refresh(values map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values = maps.Clone(orEmpty(values))
}

// Merge applies values changed elsewhere. Unless keepLocal is set, a pending
// local change of the same property is dropped so the incoming value wins.
func (o *Object) Merge(changed map[string]any, keepLocal bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, v := range changed {
		o.values[k] = v
		if !keepLocal {
			delete(o.changes, k)
		}
	}
}

// Reset applies values changed elsewhere and drops every pending change.
func (o *Object) Reset(changed map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	maps.Copy(o.values, changed)
	clear(o.changes)
}

func orEmpty(values map[string]any) map[string]any {
	if values == nil {
		return map[string]any{}
	}
	return values
}
