package linktable

import "sort"

// Row is one link-table row as read from the store: a (source, dest) pair
// plus an optional link type and priority rank. Untyped/unordered
// variants ignore Type/Rank.
type Row struct {
	Source SourceID
	Dest   DestID
	Type   string // "" for untyped variants
	Rank   int    // ascending = higher priority (front of list); ignored for unordered variants
}

// Table is the generic link-table implementation: one instance caches one
// relation between a source entity kind (conventionally titles) and a
// destination entity kind (an auxiliary entity), for exactly one Variant.
// V is the destination value type (string for most fields, int for
// ratings, a struct for files/covers).
type Table[V any] struct {
	variant Variant
	policy  UniquePolicy

	// destTyped reports whether the destination-reciprocal side
	// (col_book_map) is itself type-partitioned. Per the data model this
	// is only true for many-to-many+type(+priority); one-to-many+
	// priority+type still type-partitions book_col_map but keeps
	// col_book_map as a single optional source, since a destination can
	// only ever belong to one source regardless of type.
	destTyped bool

	idMap map[DestID]V

	// untyped representation, live when !variant.Typed
	bookCol map[SourceID]*slot
	colBook map[DestID]*slot

	// typed representation, live when variant.Typed
	bookColTyped map[SourceID]map[string]*slot
	colBookTyped map[DestID]map[string]*slot

	seenSources map[SourceID]struct{}
	seenTypes   map[string]struct{}

	// valueKey extracts a case-fold comparison key from a value, used by
	// PolicyCaseInsensitiveValue string matching and by RenameItem's
	// collision detection. Required whenever V carries a comparable
	// display string (virtually always true in this cache); fields whose
	// V is not string-like may leave it nil, disabling rename/matching.
	valueKey func(V) (string, bool)

	// makeValue builds a V from a raw string update input, e.g. wrapping
	// it for a struct V or passing it through unchanged for V=string.
	// Required whenever Preflight may be asked to allocate a new
	// destination from a bare string; fields whose V can never be
	// constructed that way (ratings, files) leave it nil.
	makeValue func(string) V

	doCleanOnRemove bool
}

// New constructs an empty Table for the given variant. valueKey, if
// non-nil, extracts the case-insensitive matching key from a value (used
// for string-match preflight resolution and rename-collision detection).
// makeValue, if non-nil, builds a V from a raw string Preflight input when
// allocating a new destination id.
func New[V any](v Variant, policy UniquePolicy, valueKey func(V) (string, bool), makeValue func(string) V) *Table[V] {
	t := &Table[V]{
		variant:         v,
		policy:          policy,
		destTyped:       v.Typed && v.Cardinality == ManyToMany,
		idMap:           make(map[DestID]V),
		seenSources:     make(map[SourceID]struct{}),
		seenTypes:       make(map[string]struct{}),
		valueKey:        valueKey,
		makeValue:       makeValue,
		doCleanOnRemove: true,
	}
	if v.Typed {
		t.bookColTyped = make(map[SourceID]map[string]*slot)
	} else {
		t.bookCol = make(map[SourceID]*slot)
	}
	if t.destTyped {
		t.colBookTyped = make(map[DestID]map[string]*slot)
	} else {
		t.colBook = make(map[DestID]*slot)
	}
	return t
}

// Variant returns the table's variant.
func (t *Table[V]) Variant() Variant { return t.variant }

// Load discards any cached state and repopulates id_map, book_col_map and
// col_book_map from rows/values, exactly as spec.md's read(store)
// requires: idempotent, full replacement. Rows must already carry the
// desired per-source priority order via ascending Rank for priority
// variants; Load stable-sorts by Rank to be defensive against
// unordered store results.
func (t *Table[V]) Load(rows []Row, values map[DestID]V) {
	t.idMap = make(map[DestID]V, len(values))
	for id, v := range values {
		t.idMap[id] = v
	}
	t.seenSources = make(map[SourceID]struct{})
	t.seenTypes = make(map[string]struct{})

	sorted := append([]Row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	if t.variant.Typed {
		t.bookColTyped = make(map[SourceID]map[string]*slot)
	} else {
		t.bookCol = make(map[SourceID]*slot)
	}
	if t.destTyped {
		t.colBookTyped = make(map[DestID]map[string]*slot)
	} else {
		t.colBook = make(map[DestID]*slot)
	}

	for _, r := range sorted {
		t.seenSources[r.Source] = struct{}{}
		if t.variant.Typed {
			t.seenTypes[r.Type] = struct{}{}
			t.typedBookSlot(r.Source, r.Type, true).addAtBack(int64(r.Dest))
		} else {
			t.bookSlot(r.Source, true).addAtBack(int64(r.Dest))
		}
		if t.destTyped {
			t.typedDestSlot(r.Dest, r.Type, true).add(int64(r.Source))
		} else {
			t.destSlot(r.Dest, true).add(int64(r.Source))
		}
	}
}

func (t *Table[V]) bookSlot(s SourceID, create bool) *slot {
	sl, ok := t.bookCol[s]
	if !ok {
		if !create {
			return nil
		}
		sl = newSlot(t.variant, t.variant.srcSideIsSingle())
		t.bookCol[s] = sl
	}
	return sl
}

func (t *Table[V]) destSlot(d DestID, create bool) *slot {
	sl, ok := t.colBook[d]
	if !ok {
		if !create {
			return nil
		}
		sl = newSlot(Variant{Priority: t.variant.Priority}, t.variant.dstSideIsSingle())
		t.colBook[d] = sl
	}
	return sl
}

func (t *Table[V]) typedBookSlot(s SourceID, typ string, create bool) *slot {
	byType, ok := t.bookColTyped[s]
	if !ok {
		if !create {
			return nil
		}
		byType = make(map[string]*slot)
		t.bookColTyped[s] = byType
	}
	sl, ok := byType[typ]
	if !ok {
		if !create {
			return nil
		}
		sl = newSlot(t.variant, t.variant.srcSideIsSingle())
		byType[typ] = sl
	}
	return sl
}

func (t *Table[V]) typedDestSlot(d DestID, typ string, create bool) *slot {
	byType, ok := t.colBookTyped[d]
	if !ok {
		if !create {
			return nil
		}
		byType = make(map[string]*slot)
		t.colBookTyped[d] = byType
	}
	sl, ok := byType[typ]
	if !ok {
		if !create {
			return nil
		}
		sl = newSlot(Variant{Priority: t.variant.Priority}, t.variant.dstSideIsSingle())
		byType[typ] = sl
	}
	return sl
}

// BookData returns a deep-copy snapshot of the destination ids associated
// with s, for the given type when the table is typed and typeFilter is
// non-empty. When the table is typed and typeFilter is empty, the result
// is the union of s's ids across every type, each id once; use
// BookDataByType for the per-type map.
func (t *Table[V]) BookData(s SourceID, typeFilter string) []DestID {
	if t.variant.Typed {
		byType := t.bookColTyped[s]
		if byType == nil {
			return nil
		}
		if typeFilter != "" {
			return destIDs(byType[typeFilter].clone())
		}
		seen := map[int64]struct{}{}
		var out []DestID
		for _, sl := range byType {
			for _, id := range sl.clone().ids() {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					out = append(out, DestID(id))
				}
			}
		}
		return out
	}
	return destIDs(t.bookCol[s].clone())
}

// BookDataByType returns the per-type view for typed tables, keyed by
// link type, each a deep-copy snapshot.
func (t *Table[V]) BookDataByType(s SourceID) map[string][]DestID {
	if !t.variant.Typed {
		return nil
	}
	byType := t.bookColTyped[s]
	out := make(map[string][]DestID, len(byType))
	for typ, sl := range byType {
		out[typ] = destIDs(sl.clone())
	}
	return out
}

func destIDs(sl *slot) []DestID {
	if sl == nil {
		return nil
	}
	ids := sl.ids()
	out := make([]DestID, len(ids))
	for i, id := range ids {
		out[i] = DestID(id)
	}
	return out
}

func sourceIDs(sl *slot) []SourceID {
	if sl == nil {
		return nil
	}
	ids := sl.ids()
	out := make([]SourceID, len(ids))
	for i, id := range ids {
		out[i] = SourceID(id)
	}
	return out
}

// IDsForBook is a thin accessor equivalent to BookData with no type
// filter, returning the raw (non-typed) destination ids for s.
func (t *Table[V]) IDsForBook(s SourceID) []DestID {
	return t.BookData(s, "")
}

// BooksFor returns the source ids linked to d. For tables whose
// destination-reciprocal side is type-partitioned, this is the union
// across all types; use BooksForType to restrict.
func (t *Table[V]) BooksFor(d DestID) []SourceID {
	if t.destTyped {
		byType := t.colBookTyped[d]
		seen := map[int64]struct{}{}
		var out []SourceID
		for _, sl := range byType {
			for _, id := range sl.clone().ids() {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					out = append(out, SourceID(id))
				}
			}
		}
		return out
	}
	return sourceIDs(t.colBook[d].clone())
}

// BooksForType restricts BooksFor to a single link type, for tables whose
// destination-reciprocal side is type-partitioned.
func (t *Table[V]) BooksForType(d DestID, typ string) []SourceID {
	if !t.destTyped {
		return t.BooksFor(d)
	}
	byType := t.colBookTyped[d]
	if byType == nil {
		return nil
	}
	return sourceIDs(byType[typ].clone())
}

// Value returns the destination's display value and whether it is known
// to the cache.
func (t *Table[V]) Value(d DestID) (V, bool) {
	v, ok := t.idMap[d]
	return v, ok
}

// Exists reports whether d still has a value row, used after a
// restricted RemoveItems to tell which destinations became fully
// unreferenced (and so need a store-side Clean) from those that survive
// because another source outside the restriction still names them.
func (t *Table[V]) Exists(d DestID) bool {
	_, ok := t.idMap[d]
	return ok
}

// Values returns a shallow copy of the full id map.
func (t *Table[V]) Values() map[DestID]V {
	out := make(map[DestID]V, len(t.idMap))
	for k, v := range t.idMap {
		out[k] = v
	}
	return out
}

// SeenSourceIDs returns every source id observed by the last Load/Update.
func (t *Table[V]) SeenSourceIDs() map[SourceID]struct{} {
	out := make(map[SourceID]struct{}, len(t.seenSources))
	for id := range t.seenSources {
		out[id] = struct{}{}
	}
	return out
}

// KnownTypes returns the closed set of link types discovered at the last
// Load, plus any introduced by subsequent updates.
func (t *Table[V]) KnownTypes() map[string]struct{} {
	out := make(map[string]struct{}, len(t.seenTypes))
	for typ := range t.seenTypes {
		out[typ] = struct{}{}
	}
	return out
}

// SetCleanOnRemove controls whether RemoveBooks reports newly-unreferenced
// destinations as clean candidates. Defaults to true.
func (t *Table[V]) SetCleanOnRemove(b bool) { t.doCleanOnRemove = b }
