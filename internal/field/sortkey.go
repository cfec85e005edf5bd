// Package field adapts the link-table family into named, typed fields:
// the "collections of data in a form that people might actually want" step
// of abstraction above internal/linktable, mirroring what a book's GUI
// column or an OPDS facet actually needs (a value per book, a sort key, a
// searchable string, a category listing), rather than raw reciprocal
// indexes.
package field

import (
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortKey is a comparable sort position for one field value. Implementing
// it as a closed set of concrete types (rather than a per-field dynamic
// function, as calibre's python cache does) lets internal/view's multisort
// stay a single lexicographic comparison over []SortKey regardless of
// which fields are involved.
type SortKey interface {
	// Less reports whether the receiver sorts before other. other is
	// always the same concrete SortKey type the field produces; a
	// mismatched type compares as not-less.
	Less(other SortKey) bool
}

// IntKey sorts fields whose datatype is int, rating, or a plain count.
type IntKey int64

func (k IntKey) Less(other SortKey) bool {
	o, ok := other.(IntKey)
	return ok && k < o
}

// FloatKey sorts float-valued fields.
type FloatKey float64

func (k FloatKey) Less(other SortKey) bool {
	o, ok := other.(FloatKey)
	return ok && k < o
}

// DateKey sorts datetime fields. The cache never treats a zero time as
// "before everything" implicitly: callers that want calibre's
// UNDEFINED_DATE convention construct DateKey from that sentinel
// explicitly via NewDateKey.
type DateKey struct{ t time.Time }

func NewDateKey(t time.Time) DateKey { return DateKey{t: t} }

func (k DateKey) Less(other SortKey) bool {
	o, ok := other.(DateKey)
	return ok && k.t.Before(o.t)
}

// collator is shared across every StringKey construction. collate.Buffer
// scratch space is reused per call and its returned []byte is only valid
// until the buffer's next use, so NewStringKey copies it out immediately;
// the collator itself is safe for concurrent use once constructed.
var collator = collate.New(language.Und)

// StringKey sorts text fields using locale-aware collation rather than
// byte order, so e.g. accented characters sort adjacent to their
// unaccented counterparts.
type StringKey struct {
	raw string
	key []byte
}

func NewStringKey(s string) StringKey {
	var buf collate.Buffer
	k := collator.KeyFromString(&buf, s)
	return StringKey{raw: s, key: append([]byte(nil), k...)}
}

func (k StringKey) Less(other SortKey) bool {
	o, ok := other.(StringKey)
	if !ok {
		return false
	}
	return compareBytes(k.key, o.key) < 0
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// TristateKey sorts a bool field that may be true, false, or unset (nil).
// The ordering (true, false, unset) matches calibre's bool_sort_key when
// bools_are_tristate is enabled; NewTristateKey collapses unset into false
// when it is not.
type TristateKey uint8

const (
	TristateTrue TristateKey = iota
	TristateFalse
	TristateUnset
)

// NewTristateKey builds a TristateKey from an (*bool)-shaped value:
// b == nil means unset. When treatUnsetAsFalse is set (calibre's
// non-tristate mode), unset sorts identically to false.
func NewTristateKey(b *bool, treatUnsetAsFalse bool) TristateKey {
	switch {
	case b == nil:
		if treatUnsetAsFalse {
			return TristateFalse
		}
		return TristateUnset
	case *b:
		return TristateTrue
	default:
		return TristateFalse
	}
}

func (k TristateKey) Less(other SortKey) bool {
	o, ok := other.(TristateKey)
	return ok && k < o
}

// MultiKey sorts an is_multiple field (authors, tags, ...) by comparing
// its member sort keys element-wise, the same rule spec.md assigns to
// multi-valued fields: lexicographic over the per-value keys in their
// stored (priority, for ordered variants) order.
type MultiKey []SortKey

func (k MultiKey) Less(other SortKey) bool {
	o, ok := other.(MultiKey)
	if !ok {
		return false
	}
	for i := 0; i < len(k) && i < len(o); i++ {
		if k[i].Less(o[i]) {
			return true
		}
		if o[i].Less(k[i]) {
			return false
		}
	}
	return len(k) < len(o)
}
