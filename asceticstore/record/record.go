package record

// Record is implemented by typed records, usually by embedding Base and
// declaring the entity name:
//
//	type Task struct{ record.Base }
//
//	func (*Task) EntityName() string { return "Task" }
type Record interface {
	EntityName() string
	Object() *Object
	Bind(*Object)
}

// Entity ties the pointer type P to its record type T, which lets generic
// functions take T alone and infer P.
type Entity[T any] interface {
	*T
	Record
}

type Base struct {
	object *Object
}

func (b *Base) Object() *Object {
	return b.object
}

func (b *Base) Bind(o *Object) {
	b.object = o
}

func (b *Base) ID() ObjectID {
	if b.object == nil {
		return ObjectID{}
	}
	return b.object.ID()
}

// EntityName returns the entity name declared by T.
func EntityName[T any, P Entity[T]]() string {
	return P(new(T)).EntityName()
}

// Wrap binds o to a new typed record.
func Wrap[T any, P Entity[T]](o *Object) P {
	p := P(new(T))
	p.Bind(o)
	return p
}
