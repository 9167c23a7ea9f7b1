package identitymap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
)

func newObject() *record.Object {
	return record.NewObject(record.NewObjectID("Task"), map[string]any{"title": "a"})
}

// --- Serializable ---

func TestGet(t *testing.T) {
	im := New(Serializable)
	obj := newObject()
	im.Add(obj)
	result, err := im.Get(obj.ID())
	assert.NoError(t, err)
	assert.Same(t, obj, result)

	_, err = im.Get(record.NewObjectID("Task"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestAddReplaces(t *testing.T) {
	im := New(Serializable)
	first := newObject()
	second := record.NewObject(first.ID(), nil)
	im.Add(first)
	im.Add(second)

	result, err := im.Get(first.ID())
	assert.NoError(t, err)
	assert.Same(t, second, result)
	assert.Equal(t, 1, im.Len())
}

func TestHas(t *testing.T) {
	im := New(Serializable)
	obj := newObject()
	im.Add(obj)
	assert.True(t, im.Has(obj.ID()))
	assert.False(t, im.Has(record.NewObjectID("Task")))
}

func TestRemove(t *testing.T) {
	im := New(Serializable)
	obj := newObject()
	im.Add(obj)
	im.Remove(obj.ID())

	_, err := im.Get(obj.ID())
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Empty(t, im.Objects())
}

func TestAddAbsent(t *testing.T) {
	im := New(Serializable)
	obj := newObject()
	im.Add(obj)
	im.AddAbsent(obj.ID())

	assert.False(t, im.Has(obj.ID()))
	_, err := im.Get(obj.ID())
	assert.ErrorIs(t, err, ErrObjectNotFound)

	im.Add(obj)
	result, err := im.Get(obj.ID())
	assert.NoError(t, err)
	assert.Same(t, obj, result)
}

func TestObjectsKeepInsertionOrder(t *testing.T) {
	im := New(Serializable)
	a, b, c := newObject(), newObject(), newObject()
	im.Add(a)
	im.Add(b)
	im.Add(c)
	im.Remove(b.ID())
	im.Add(b)
	im.Add(a)

	assert.Equal(t, []*record.Object{a, c, b}, im.Objects())
}

func TestClear(t *testing.T) {
	im := New(Serializable)
	obj := newObject()
	im.Add(obj)
	absent := record.NewObjectID("Task")
	im.AddAbsent(absent)
	im.Clear()

	assert.Equal(t, 0, im.Len())
	_, err := im.Get(absent)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

// --- RepeatableReads ---

func TestRepeatableReadsForgetsAbsent(t *testing.T) {
	im := New(RepeatableReads)
	id := record.NewObjectID("Task")
	im.AddAbsent(id)

	_, err := im.Get(id)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSetIsolationLevel(t *testing.T) {
	im := New(Serializable)
	id := record.NewObjectID("Task")
	im.AddAbsent(id)
	im.SetIsolationLevel(RepeatableReads)

	_, err := im.Get(id)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
