package linktable

import "github.com/banux/nxt-opds/internal/cacheerr"

// NormalizedUpdate is the canonicalized form of a batched update produced
// by Preflight: source -> destination container, shaped per variant (an
// ordered list when the variant is priority, an unordered list otherwise;
// type-partitioned when the variant is typed).
type NormalizedUpdate struct {
	Plain map[SourceID][]DestID
	Typed map[SourceID]map[string][]DestID
}

// Diff is the net change produced by InternalUpdate, handed to the store
// writer so it can compute the minimal SQL delta.
type Diff struct {
	Updated      map[SourceID][]DestID
	UpdatedTyped map[SourceID]map[string][]DestID
	Deleted      map[SourceID]struct{}
}

// rawValue is the set of shapes a single source's desired update value may
// take before Preflight: nil (clear), a DestID or string (scalar, folds
// into the existing container), a []DestID/[]string (full replacement),
// or — for typed variants — a map[string]any of per-type shapes using the
// same rules recursively.
type rawValue = any

// Preflight normalises book into a NormalizedUpdate, resolving string
// values against the id map (matching case-insensitively when the
// table's UniquePolicy is PolicyCaseInsensitiveValue) and allocating ids
// for unmatched strings via allocID, recording the allocation in
// newValues so the caller's store write includes the new entity. allocID
// must not be nil if book may contain strings with no match.
func (t *Table[V]) Preflight(book map[SourceID]rawValue, newValues map[DestID]V, allocID func(value string) DestID) (NormalizedUpdate, error) {
	out := NormalizedUpdate{}
	if t.variant.Typed {
		out.Typed = make(map[SourceID]map[string][]DestID, len(book))
	} else {
		out.Plain = make(map[SourceID][]DestID, len(book))
	}

	for s, raw := range book {
		if t.variant.Typed {
			typedRaw, ok := raw.(map[string]rawValue)
			if !ok {
				if raw == nil {
					// Nullify every known type.
					m := make(map[string][]DestID)
					for typ := range t.bookColTyped[s] {
						m[typ] = nil
					}
					out.Typed[s] = m
					continue
				}
				return out, cacheerr.InvalidUpdate("typed table requires a map[string]any update shape for source %v, got %T", s, raw)
			}
			m := make(map[string][]DestID, len(typedRaw))
			for typ, tv := range typedRaw {
				existing := destIDs(t.typedBookSlot(s, typ, false))
				norm, err := t.normalizeOne(existing, tv, newValues, allocID)
				if err != nil {
					return out, err
				}
				m[typ] = norm
			}
			out.Plain = nil
			out.Typed[s] = m
			continue
		}

		existing := destIDs(t.bookSlot(s, false))
		norm, err := t.normalizeOne(existing, raw, newValues, allocID)
		if err != nil {
			return out, err
		}
		out.Plain[s] = norm
	}
	return out, nil
}

// normalizeOne applies the scalar-folds / replace-wholesale / clear rules
// to one (source[, type]) container.
func (t *Table[V]) normalizeOne(existing []DestID, raw rawValue, newValues map[DestID]V, allocID func(string) DestID) ([]DestID, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case DestID:
		return t.fold(existing, v), nil
	case int64:
		return t.fold(existing, DestID(v)), nil
	case int:
		return t.fold(existing, DestID(v)), nil
	case string:
		id, err := t.resolveString(v, newValues, allocID)
		if err != nil {
			return nil, err
		}
		return t.fold(existing, id), nil
	case []DestID:
		return t.resolveIDList(v), nil
	case []string:
		out := make([]DestID, 0, len(v))
		for _, s := range v {
			id, err := t.resolveString(s, newValues, allocID)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return t.resolveIDList(out), nil
	case map[string]rawValue:
		if len(v) == 0 {
			return nil, nil
		}
		return nil, cacheerr.InvalidUpdate("unexpected map value on untyped container")
	default:
		return nil, cacheerr.InvalidUpdate("unsupported update value type %T", raw)
	}
}

// fold implements "scalars fold into the source's existing container":
// for priority variants the value is promoted to the front (removing any
// prior occurrence); otherwise it is added to the set.
func (t *Table[V]) fold(existing []DestID, id DestID) []DestID {
	if t.variant.srcSideIsSingle() {
		return []DestID{id}
	}
	if t.variant.Priority {
		out := make([]DestID, 0, len(existing)+1)
		out = append(out, id)
		for _, x := range existing {
			if x != id {
				out = append(out, x)
			}
		}
		return out
	}
	for _, x := range existing {
		if x == id {
			return existing
		}
	}
	return append(append([]DestID(nil), existing...), id)
}

// resolveIDList deduplicates a caller-supplied replacement list, keeping
// first-seen order (relevant for priority variants; irrelevant otherwise).
func (t *Table[V]) resolveIDList(ids []DestID) []DestID {
	if t.variant.srcSideIsSingle() {
		if len(ids) == 0 {
			return nil
		}
		return ids[:1]
	}
	seen := make(map[DestID]struct{}, len(ids))
	out := make([]DestID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// resolveString matches s case-insensitively against id_map/newValues
// (when the table's policy calls for it), or allocates a new id via
// allocID and records it into newValues.
func (t *Table[V]) resolveString(s string, newValues map[DestID]V, allocID func(string) DestID) (DestID, error) {
	if match, ok := t.matchString(s, newValues); ok {
		return match, nil
	}
	if allocID == nil {
		return 0, cacheerr.InvalidUpdate("string value %q has no match and no id allocator was supplied", s)
	}
	if t.makeValue == nil {
		return 0, cacheerr.InvalidUpdate("table has no string constructor, cannot allocate a new destination for %q", s)
	}
	id := allocID(s)
	newValues[id] = t.makeValue(s)
	return id, nil
}

// matchString looks for an existing id_map or newValues entry whose
// display value case-insensitively equals s. Only PolicyCaseInsensitiveValue
// tables perform this match; PolicyNone tables always allocate, leaving
// duplicate-by-case entries to stand (they have no case-insensitive
// identity to unify on).
func (t *Table[V]) matchString(s string, newValues map[DestID]V) (DestID, bool) {
	if t.valueKey == nil || t.policy != PolicyCaseInsensitiveValue {
		return 0, false
	}
	target, ok := foldKey(s)
	if !ok {
		return 0, false
	}
	for id, v := range t.idMap {
		if key, ok := t.valueKey(v); ok && key == target {
			return id, true
		}
	}
	for id, v := range newValues {
		if key, ok := t.valueKey(v); ok && key == target {
			return id, true
		}
	}
	return 0, false
}

// Precheck validates a NormalizedUpdate before it is applied. It never
// mutates the cache.
func (t *Table[V]) Precheck(n NormalizedUpdate, newValues map[DestID]V) error {
	check := func(s SourceID, ids []DestID) error {
		if t.variant.srcSideIsSingle() && len(ids) > 1 {
			return cacheerr.InvalidCacheUpdate("variant %s cannot hold more than one destination per source", t.variant.Cardinality)
		}
		seen := make(map[DestID]struct{}, len(ids))
		for _, id := range ids {
			if _, ok := t.idMap[id]; !ok {
				if _, ok := newValues[id]; !ok {
					return cacheerr.InvalidCacheUpdate("destination %v is not present in id_map or id_map_update", id)
				}
			}
			if t.policy == PolicyCaseInsensitiveValue || t.variant.Priority {
				if _, dup := seen[id]; dup {
					return cacheerr.InvalidCacheUpdate("duplicate destination %v for source %v", id, s)
				}
				seen[id] = struct{}{}
			}
		}
		return nil
	}

	if t.variant.Typed {
		for s, byType := range n.Typed {
			for typ, ids := range byType {
				if len(ids) == 0 {
					if _, known := t.seenTypes[typ]; !known {
						return cacheerr.InvalidCacheUpdate("link type %q is outside the closed seen-types set", typ)
					}
				}
				if err := check(s, ids); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for s, ids := range n.Plain {
		if err := check(s, ids); err != nil {
			return err
		}
	}
	return nil
}

// InternalUpdate applies a precheck'd NormalizedUpdate to the cache's
// indexes, merging newValues into id_map first, and returns the diff to
// hand to the store writer.
func (t *Table[V]) InternalUpdate(n NormalizedUpdate, newValues map[DestID]V) Diff {
	for id, v := range newValues {
		t.idMap[id] = v
	}

	diff := Diff{Deleted: make(map[SourceID]struct{})}

	if t.variant.Typed {
		diff.UpdatedTyped = make(map[SourceID]map[string][]DestID)
		for s, byType := range n.Typed {
			t.seenSources[s] = struct{}{}
			updatedTypes := make(map[string][]DestID)
			for typ, ids := range byType {
				t.seenTypes[typ] = struct{}{}
				t.applyTypedSource(s, typ, ids)
				updatedTypes[typ] = ids
			}
			diff.UpdatedTyped[s] = updatedTypes
			if allEmptyTyped(t.bookColTyped[s]) {
				diff.Deleted[s] = struct{}{}
			}
		}
		return diff
	}

	diff.Updated = make(map[SourceID][]DestID)
	for s, ids := range n.Plain {
		t.seenSources[s] = struct{}{}
		old := destIDs(t.bookSlot(s, false))
		for _, oldID := range old {
			if sl := t.destSlot(oldID, false); sl != nil {
				sl.remove(int64(s))
			}
		}
		if len(ids) == 0 {
			delete(t.bookCol, s)
			diff.Deleted[s] = struct{}{}
			continue
		}
		sl := t.bookSlot(s, true)
		sl.replaceWith(idsToInt64(ids))
		for _, id := range ids {
			t.destSlot(id, true).add(int64(s))
		}
		diff.Updated[s] = ids
	}
	return diff
}

// applyTypedSource applies the type-exclusivity tie-break: a destination
// may be linked to a source under at most one type at a time, so before
// installing ids under typ, any of those ids found under a different type
// of the same source are removed there first.
func (t *Table[V]) applyTypedSource(s SourceID, typ string, ids []DestID) {
	desired := make(map[DestID]struct{}, len(ids))
	for _, id := range ids {
		desired[id] = struct{}{}
	}

	// Remove ids that are moving in from whatever other type of s they
	// currently occupy.
	for otherType, sl := range t.bookColTyped[s] {
		if otherType == typ {
			continue
		}
		for _, id := range destIDs(sl) {
			if _, moving := desired[id]; moving {
				sl.remove(int64(id))
				if t.destTyped {
					if dsl := t.typedDestSlot(id, otherType, false); dsl != nil {
						dsl.remove(int64(s))
						if dsl.isEmpty() {
							delete(t.colBookTyped[id], otherType)
						}
					}
				}
			}
		}
		if sl.isEmpty() {
			delete(t.bookColTyped[s], otherType)
		}
	}

	old := destIDs(t.typedBookSlot(s, typ, false))
	for _, oldID := range old {
		if t.destTyped {
			if dsl := t.typedDestSlot(oldID, typ, false); dsl != nil {
				dsl.remove(int64(s))
			}
		} else if sl := t.destSlot(oldID, false); sl != nil {
			sl.remove(int64(s))
		}
	}

	if len(ids) == 0 {
		delete(t.bookColTyped[s], typ)
		return
	}
	sl := t.typedBookSlot(s, typ, true)
	sl.replaceWith(idsToInt64(ids))
	for _, id := range ids {
		if t.destTyped {
			t.typedDestSlot(id, typ, true).add(int64(s))
		} else {
			t.destSlot(id, true).add(int64(s))
		}
	}
}

func allEmptyTyped(byType map[string]*slot) bool {
	for _, sl := range byType {
		if !sl.isEmpty() {
			return false
		}
	}
	return true
}

func idsToInt64(ids []DestID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// Update runs Preflight, Precheck and InternalUpdate in sequence, the
// canonical write entry point described in spec.md §4.1. allowCaseChange
// controls whether a string value that differs from the matched entry's
// stored value only by case updates the stored case.
func (t *Table[V]) Update(book map[SourceID]rawValue, newValues map[DestID]V, allocID func(string) DestID, allowCaseChange bool) (Diff, error) {
	if newValues == nil {
		newValues = make(map[DestID]V)
	}
	n, err := t.Preflight(book, newValues, allocID)
	if err != nil {
		return Diff{}, err
	}
	if err := t.Precheck(n, newValues); err != nil {
		return Diff{}, err
	}
	if allowCaseChange {
		t.applyCaseChanges(book, newValues)
	}
	return t.InternalUpdate(n, newValues), nil
}

// applyCaseChanges updates the stored display value's case in place when a
// plain string input matched an existing entry save for case.
func (t *Table[V]) applyCaseChanges(book map[SourceID]rawValue, newValues map[DestID]V) {
	if t.valueKey == nil {
		return
	}
	visit := func(raw rawValue) {
		s, ok := raw.(string)
		if !ok {
			return
		}
		id, ok := t.matchString(s, newValues)
		if !ok {
			return
		}
		if v, ok := t.idMap[id]; ok && t.makeValue != nil {
			if key, ok := t.valueKey(v); ok && key == foldKeyMust(s) {
				t.idMap[id] = t.makeValue(s)
			}
		}
	}
	for _, raw := range book {
		if typedRaw, ok := raw.(map[string]rawValue); ok {
			for _, tv := range typedRaw {
				visit(tv)
			}
			continue
		}
		visit(raw)
	}
}
