// Package identitymap keeps the one in-memory copy of each record a context
// works with. It is not safe for concurrent use; a context only touches it
// from its worker.
package identitymap

import (
	"container/list"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
)

// IsolationLevel controls what the identity map remembers.
type IsolationLevel int

const (
	RepeatableReads IsolationLevel = iota // Remembers existent objects only
	Serializable                          // Also remembers objects known to be absent
)

type IdentityMap struct {
	objects map[record.ObjectID]*list.Element
	order   *list.List
	absent  map[record.ObjectID]struct{}
	level   IsolationLevel
}

func New(level IsolationLevel) *IdentityMap {
	return &IdentityMap{
		objects: make(map[record.ObjectID]*list.Element),
		order:   list.New(),
		absent:  make(map[record.ObjectID]struct{}),
		level:   level,
	}
}

func (m *IdentityMap) SetIsolationLevel(level IsolationLevel) {
	m.level = level
	if level != Serializable {
		clear(m.absent)
	}
}

// Add stores o, replacing an earlier object with the same ID.
func (m *IdentityMap) Add(o *record.Object) {
	delete(m.absent, o.ID())
	if elem, ok := m.objects[o.ID()]; ok {
		elem.Value = o
		return
	}
	m.objects[o.ID()] = m.order.PushBack(o)
}

// AddAbsent records that id does not exist in the store. Only effective
// with Serializable isolation level.
func (m *IdentityMap) AddAbsent(id record.ObjectID) {
	m.Remove(id)
	if m.level == Serializable {
		m.absent[id] = struct{}{}
	}
}

// Get returns ErrObjectNotFound for IDs known to be absent and
// ErrKeyNotFound for unknown ones.
func (m *IdentityMap) Get(id record.ObjectID) (*record.Object, error) {
	if elem, ok := m.objects[id]; ok {
		return elem.Value.(*record.Object), nil
	}
	if _, ok := m.absent[id]; ok {
		return nil, ErrObjectNotFound
	}
	return nil, ErrKeyNotFound
}

func (m *IdentityMap) Has(id record.ObjectID) bool {
	_, ok := m.objects[id]
	return ok
}

func (m *IdentityMap) Remove(id record.ObjectID) {
	elem, ok := m.objects[id]
	if !ok {
		return
	}
	delete(m.objects, id)
	m.order.Remove(elem)
}

// Objects returns the stored objects in the order they were first added.
func (m *IdentityMap) Objects() []*record.Object {
	objects := make([]*record.Object, 0, m.order.Len())
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		objects = append(objects, elem.Value.(*record.Object))
	}
	return objects
}

func (m *IdentityMap) Len() int {
	return m.order.Len()
}

func (m *IdentityMap) Clear() {
	clear(m.objects)
	clear(m.absent)
	m.order.Init()
}
