// Package signals is a small synchronous observer mechanism. Contexts use it
// for save events and engines for change notifications.
package signals

import (
	"github.com/krew-solutions/ascetic-store-go/asceticstore/disposable"
)

type Observer[E any] func(E)

// Signal delivers events to attached observers. An observer is identified
// by observerID when given, else by its function pointer, and is attached at
// most once per id.
type Signal[E any] interface {
	Attach(observer Observer[E], observerID ...any) disposable.Disposable
	Detach(observer Observer[E], observerID ...any)
	Notify(event E)
}
