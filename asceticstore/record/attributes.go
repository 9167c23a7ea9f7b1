package record

import (
	"reflect"
	"sync"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

var ErrTypeMismatch = errors.New("record: type mismatch")

type attributeKey struct {
	entity string
	key    string
}

var (
	attributesMu sync.RWMutex
	attributes   = make(map[attributeKey]reflect.Type)
)

// RegisterAttribute declares the value type of an entity property. A key may
// be declared again with the same type; a different type is an error.
func RegisterAttribute(entity, key string, typ reflect.Type) error {
	attributesMu.Lock()
	defer attributesMu.Unlock()
	k := attributeKey{entity, key}
	if existing, ok := attributes[k]; ok && existing != typ {
		return errors.Wrapf(ErrTypeMismatch, "%s.%s is declared as %s, not %s", entity, key, existing, typ)
	}
	attributes[k] = typ
	return nil
}

func AttributeType(entity, key string) (reflect.Type, bool) {
	attributesMu.RLock()
	defer attributesMu.RUnlock()
	typ, ok := attributes[attributeKey{entity, key}]
	return typ, ok
}

// Attributes returns the declared property keys of entity.
func Attributes(entity string) []string {
	attributesMu.RLock()
	defer attributesMu.RUnlock()
	var keys []string
	for k := range attributes {
		if k.entity == entity {
			keys = append(keys, k.key)
		}
	}
	return keys
}

// Coerce converts raw to the declared type of entity.key. Undeclared keys
// and nil pass through.
func Coerce(entity, key string, raw any) (any, error) {
	typ, ok := AttributeType(entity, key)
	if !ok || raw == nil {
		return raw, nil
	}
	v, err := ConvertTo(raw, typ)
	if err != nil {
		return nil, errors.Wrapf(err, "%s.%s", entity, key)
	}
	return v, nil
}

// Convert turns a value read from an engine into V. Nil gives the zero
// value.
func Convert[V any](raw any) (V, error) {
	var zero V
	if raw == nil {
		return zero, nil
	}
	v, err := ConvertTo(raw, reflect.TypeFor[V]())
	if err != nil {
		return zero, err
	}
	return v.(V), nil
}

// ConvertTo converts raw into typ. Values decoded from JSON come back as
// float64, string, bool, []any or map[string]any, so anything that is not
// directly convertible takes a JSON round trip.
func ConvertTo(raw any, typ reflect.Type) (any, error) {
	if raw == nil {
		return reflect.Zero(typ).Interface(), nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Type() == typ {
		return raw, nil
	}
	if typ.Kind() == reflect.Interface && rv.Type().Implements(typ) {
		return raw, nil
	}
	if converted, ok := convertScalar(rv, typ); ok {
		return converted.Interface(), nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrTypeMismatch, "cannot encode %T: %v", raw, err)
	}
	target := reflect.New(typ)
	if err := json.Unmarshal(data, target.Interface()); err != nil {
		return nil, errors.Wrapf(ErrTypeMismatch, "cannot convert %T to %s", raw, typ)
	}
	return target.Elem().Interface(), nil
}

func convertScalar(rv reflect.Value, typ reflect.Type) (reflect.Value, bool) {
	from, to := rv.Kind(), typ.Kind()
	switch {
	case isNumber(from) && isNumber(to):
		if isInteger(to) && isFloat(from) && rv.Float() != float64(int64(rv.Float())) {
			return reflect.Value{}, false
		}
		return rv.Convert(typ), true
	case isNumber(from) && to == reflect.Bool:
		var n float64
		if isFloat(from) {
			n = rv.Float()
		} else {
			n = rv.Convert(reflect.TypeFor[float64]()).Float()
		}
		if n != 0 && n != 1 {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(n == 1).Convert(typ), true
	case from == reflect.String && to == reflect.String:
		return rv.Convert(typ), true
	case from == reflect.Bool && to == reflect.Bool:
		return rv.Convert(typ), true
	}
	return reflect.Value{}, false
}

func isInteger(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumber(k reflect.Kind) bool {
	return isInteger(k) || isFloat(k)
}
