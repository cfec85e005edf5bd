package field

import (
	"fmt"

	"github.com/banux/nxt-opds/internal/linktable"
)

// Metadata describes a field the way the cache's GUI/OPDS consumers need
// to introspect it: which link table backs it, whether it holds more than
// one value per book, and how it should be displayed. Mirrors the
// "field metadata" record referenced throughout the original cache.
type Metadata struct {
	Name       string
	DataType   string // "text", "int", "float", "rating", "bool", "datetime", "series"
	IsMultiple bool
	IsCustom   bool
	TableName  string
	ColumnName string
	// LinkAttrs names the additional per-link attributes this field
	// exposes sub-fields for (e.g. "series_index" on the series field).
	LinkAttrs []string
	Display   map[string]string
}

// Category is one row of GetCategories: a distinct destination value plus
// how many books reference it.
type Category[V any] struct {
	ID        linktable.DestID
	Value     V
	Count     int
	Formatted string
}

// Field wraps one linktable.Table with the display/sort/search behaviour
// a consumer actually wants from a field, rather than raw id containers.
type Field[V any] struct {
	Metadata Metadata

	table *linktable.Table[V]

	sortKey          func(V) SortKey
	formatCategory   func(V) string
	searchableString func(V) string

	// attrs holds per-book link attribute values (e.g. series_index),
	// keyed by attribute name. This assumes a single active destination
	// per book, true of every field LinkAttrs is used for today (series);
	// a future many-valued link-attribute field would need a DestID layer
	// added here.
	attrs map[linktable.SourceID]map[string]any
}

// New constructs a Field over an already-Load'd table. sortKey and
// formatCategory may be nil, in which case SortKeysForBooks and
// GetCategories' Formatted fall back to a zero value / fmt-free string
// respectively; searchableString defaults to fmt.Sprint when nil.
func New[V any](meta Metadata, table *linktable.Table[V], sortKey func(V) SortKey, formatCategory func(V) string, searchableString func(V) string) *Field[V] {
	return &Field[V]{
		Metadata:         meta,
		table:            table,
		sortKey:          sortKey,
		formatCategory:   formatCategory,
		searchableString: searchableString,
	}
}

// Table returns the underlying link table, for callers (internal/cache)
// that need to drive Read/RemoveBooks/RemoveItems directly.
func (f *Field[V]) Table() *linktable.Table[V] { return f.table }

// ForBook returns every destination value linked to s, in the table's
// canonical order (priority order for ordered variants).
func (f *Field[V]) ForBook(s linktable.SourceID) []V {
	ids := f.table.IDsForBook(s)
	out := make([]V, 0, len(ids))
	for _, id := range ids {
		if v, ok := f.table.Value(id); ok {
			out = append(out, v)
		}
	}
	return out
}

// ForBookByType restricts ForBook to one link type, for typed fields
// (creators' author/editor split, formats/covers' discriminator).
func (f *Field[V]) ForBookByType(s linktable.SourceID, typ string) []V {
	ids := f.table.BookData(s, typ)
	out := make([]V, 0, len(ids))
	for _, id := range ids {
		if v, ok := f.table.Value(id); ok {
			out = append(out, v)
		}
	}
	return out
}

// SortKeysForBooks computes one SortKey per requested book. Single-valued
// fields use the first (only) value's key directly; is_multiple fields
// wrap every value's key into a MultiKey, preserving stored order.
func (f *Field[V]) SortKeysForBooks(ids []linktable.SourceID) map[linktable.SourceID]SortKey {
	out := make(map[linktable.SourceID]SortKey, len(ids))
	if f.sortKey == nil {
		return out
	}
	for _, s := range ids {
		values := f.ForBook(s)
		if f.Metadata.IsMultiple {
			keys := make(MultiKey, len(values))
			for i, v := range values {
				keys[i] = f.sortKey(v)
			}
			out[s] = keys
			continue
		}
		if len(values) > 0 {
			out[s] = f.sortKey(values[0])
		}
	}
	return out
}

// IterSearchableValues calls yield once per (book, searchable string)
// pair across the whole field, stopping early if yield returns false.
// This is the field-level analogue of a database full-text index scan.
func (f *Field[V]) IterSearchableValues(yield func(linktable.SourceID, string) bool) {
	for s := range f.table.SeenSourceIDs() {
		for _, v := range f.ForBook(s) {
			var text string
			if f.searchableString != nil {
				text = f.searchableString(v)
			} else {
				text = fmt.Sprint(v)
			}
			if !yield(s, text) {
				return
			}
		}
	}
}

// GetCategories returns one Category per distinct destination value in
// the field, each annotated with how many books reference it — the data
// a tag-cloud or author-browse facet needs.
func (f *Field[V]) GetCategories() []Category[V] {
	values := f.table.Values()
	out := make([]Category[V], 0, len(values))
	for id, v := range values {
		count := len(f.table.BooksFor(id))
		formatted := ""
		if f.formatCategory != nil {
			formatted = f.formatCategory(v)
		}
		out = append(out, Category[V]{ID: id, Value: v, Count: count, Formatted: formatted})
	}
	return out
}

// UpdateDB applies a batched update through the underlying table, the
// field-level entry point spec.md names for the three-stage pipeline.
func (f *Field[V]) UpdateDB(book map[linktable.SourceID]any, newValues map[linktable.DestID]V, allocID func(string) linktable.DestID, allowCaseChange bool) (linktable.Diff, error) {
	return f.table.Update(book, newValues, allocID, allowCaseChange)
}

// LinkAttr returns the value of the named link attribute for s, e.g.
// series_index for the series field. Attributes are read alongside the
// parent table's Load via SetLinkAttrs and kept in lockstep by
// SetLinkAttr as links change.
func (f *Field[V]) LinkAttr(s linktable.SourceID, attr string) (any, bool) {
	byAttr, ok := f.attrs[s]
	if !ok {
		return nil, false
	}
	v, ok := byAttr[attr]
	return v, ok
}

// SetLinkAttrs replaces the cached attribute table wholesale, the
// link-attribute analogue of linktable.Table.Load.
func (f *Field[V]) SetLinkAttrs(rows map[linktable.SourceID]map[string]any) {
	f.attrs = rows
}

// SetLinkAttr updates a single book's single attribute, used when an
// individual UpdateDB call changes e.g. series_index without re-reading
// the whole attribute table.
func (f *Field[V]) SetLinkAttr(s linktable.SourceID, attr string, value any) {
	if f.attrs == nil {
		f.attrs = make(map[linktable.SourceID]map[string]any)
	}
	byAttr, ok := f.attrs[s]
	if !ok {
		byAttr = make(map[string]any)
		f.attrs[s] = byAttr
	}
	byAttr[attr] = value
}

// ReadOnlyField is the common surface CompositeField and OnDeviceField
// implement: neither is backed by a linktable.Table, so neither supports
// UpdateDB, but both need to report their Metadata to a field registry
// alongside ordinary Fields.
type ReadOnlyField interface {
	Name() string
	Metadata() Metadata
}
