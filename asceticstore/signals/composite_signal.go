package signals

import (
	"github.com/krew-solutions/ascetic-store-go/asceticstore/disposable"
)

// CompositeSignalImp fans Attach, Detach and Notify out to its delegates,
// so an observer attached here sees events notified on any of them.
type CompositeSignalImp[E any] struct {
	delegates []Signal[E]
}

func NewCompositeSignal[E any](delegates ...Signal[E]) *CompositeSignalImp[E] {
	return &CompositeSignalImp[E]{delegates: delegates}
}

func (s *CompositeSignalImp[E]) Attach(observer Observer[E], observerID ...any) disposable.Disposable {
	result := disposable.NewCompositeDisposable()
	for _, delegate := range s.delegates {
		result.Add(delegate.Attach(observer, observerID...))
	}
	return result
}

func (s *CompositeSignalImp[E]) Detach(observer Observer[E], observerID ...any) {
	for _, delegate := range s.delegates {
		delegate.Detach(observer, observerID...)
	}
}

func (s *CompositeSignalImp[E]) Notify(event E) {
	for _, delegate := range s.delegates {
		delegate.Notify(event)
	}
}
