package specification

import (
	"reflect"
	"strings"
	"time"
)

// TimeLayout is fixed width so that stored timestamps order correctly as
// text.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NormalizeValue converts a Go value into the form it is stored in inside
// the JSON data column.
func NormalizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return v.UTC().Format(TimeLayout)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.UTC().Format(TimeLayout)
	case string, bool, int, int64, float64:
		return v
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	}
	return value
}

// globPattern turns a LIKE pattern ('*' and '?' wildcards) into a SQLite
// GLOB pattern.
func globPattern(pattern string) string {
	return strings.ReplaceAll(pattern, "[", "[[]")
}

// likePattern turns a LIKE pattern ('*' and '?' wildcards) into an SQL LIKE
// pattern with backslash escapes.
func likePattern(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isStringValue(value any) bool {
	return value != nil && reflect.ValueOf(value).Kind() == reflect.String
}

func lastKeyPart(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}
