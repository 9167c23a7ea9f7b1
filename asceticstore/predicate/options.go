package predicate

import (
	"reflect"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain/operators"
)

// Option adjusts string comparison options. String comparisons are case and
// diacritic insensitive unless told otherwise.
type Option func(*operators.Options)

// Exact compares strings bytewise.
func Exact() Option {
	return func(o *operators.Options) {
		*o = 0
	}
}

func CaseSensitive() Option {
	return func(o *operators.Options) {
		*o &^= operators.CaseInsensitive
	}
}

func DiacriticSensitive() Option {
	return func(o *operators.Options) {
		*o &^= operators.DiacriticInsensitive
	}
}

func WithOptions(options operators.Options) Option {
	return func(o *operators.Options) {
		*o = options
	}
}

// resolveOptions returns the options for comparing a value of typ. Non
// string types never carry options.
func resolveOptions(typ reflect.Type, opts []Option) operators.Options {
	if typ == nil || typ.Kind() != reflect.String {
		return 0
	}
	o := operators.Insensitive
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
