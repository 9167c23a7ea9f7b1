package operators

import (
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Options modify how string comparisons treat case and diacritics.
type Options uint8

const (
	CaseInsensitive Options = 1 << iota
	DiacriticInsensitive
)

// Insensitive is the default for string comparisons.
const Insensitive = CaseInsensitive | DiacriticInsensitive

func (o Options) Has(flag Options) bool {
	return o&flag == flag
}

// String returns the option letters as they appear inside brackets, "cd" for
// Insensitive and "" for none.
func (o Options) String() string {
	s := ""
	if o.Has(CaseInsensitive) {
		s += "c"
	}
	if o.Has(DiacriticInsensitive) {
		s += "d"
	}
	return s
}

// Fold normalizes s so that strings equal under o compare equal bytewise.
func Fold(s string, o Options) string {
	if o.Has(DiacriticInsensitive) {
		t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
		if folded, _, err := transform.String(t, s); err == nil {
			s = folded
		}
	}
	if o.Has(CaseInsensitive) {
		s = cases.Fold().String(s)
	}
	return s
}
