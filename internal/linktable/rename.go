package linktable

import "github.com/banux/nxt-opds/internal/cacheerr"

// RenameItem changes d's display value to newValue. If another id already
// carries the same case-insensitive value, the rename always resolves as
// a merge into that colliding id — d is removed and every source
// referencing it is repointed at the collision, regardless of which side
// introduced the rename. RenameItem requires a non-nil valueKey; tables
// without one (no case-insensitive identity) return ErrInputIntegrity.
func (t *Table[V]) RenameItem(d DestID, newValue V) (affected []SourceID, resultID DestID, merged bool, err error) {
	if t.valueKey == nil {
		return nil, 0, false, cacheerr.InputIntegrity("table has no value key, RenameItem is unsupported")
	}
	if _, ok := t.idMap[d]; !ok {
		return nil, 0, false, cacheerr.NotInCache(d)
	}
	key, ok := t.valueKey(newValue)
	if !ok {
		return nil, 0, false, cacheerr.InputIntegrity("new value has no comparable key")
	}

	for other, v := range t.idMap {
		if other == d {
			continue
		}
		if otherKey, ok := t.valueKey(v); ok && otherKey == key {
			affected = t.mergeInto(d, other)
			return affected, other, true, nil
		}
	}

	t.idMap[d] = newValue
	return nil, d, false, nil
}

// mergeInto repoints every source referencing from at into, deduplicating
// against into's existing references, then deletes from. It is the
// unconditional merge behaviour RenameItem and FixCaseDuplicates share:
// unlike the cache this package's update pipeline is adapted from, a
// collision is always resolved by merging rather than ever being reported
// as a conflict error, matching spec.md's "rename always merges" rule.
func (t *Table[V]) mergeInto(from, into DestID) []SourceID {
	var affected []SourceID
	seen := make(map[SourceID]struct{})

	if t.variant.Typed {
		byType := t.bookColTyped
		for s, types := range byType {
			for typ, sl := range types {
				if !sl.contains(int64(from)) {
					continue
				}
				sl.remove(int64(from))
				if sl.isEmpty() {
					delete(types, typ)
				}
				dst := t.typedBookSlot(s, typ, true)
				dst.add(int64(into))
				if _, ok := seen[s]; !ok {
					seen[s] = struct{}{}
					affected = append(affected, s)
				}
			}
			if len(types) == 0 {
				delete(byType, s)
			}
		}
		if t.destTyped {
			for typ, dsl := range t.colBookTyped[from] {
				target := t.typedDestSlot(into, typ, true)
				for _, src := range dsl.ids() {
					target.add(src)
				}
			}
			delete(t.colBookTyped, from)
		} else {
			if fromSl := t.colBook[from]; fromSl != nil {
				target := t.destSlot(into, true)
				for _, src := range fromSl.ids() {
					target.add(src)
				}
			}
			delete(t.colBook, from)
		}
	} else {
		for s, sl := range t.bookCol {
			if !sl.contains(int64(from)) {
				continue
			}
			sl.remove(int64(from))
			sl.add(int64(into))
			affected = append(affected, s)
		}
		if fromSl := t.colBook[from]; fromSl != nil {
			target := t.destSlot(into, true)
			for _, src := range fromSl.ids() {
				target.add(src)
			}
		}
		delete(t.colBook, from)
	}

	delete(t.idMap, from)
	return affected
}

// FixCaseDuplicates merges every group of id_map entries that collide
// under the table's case-insensitive key, keeping the lowest id in each
// group as the surviving entry. It returns the set of ids that were
// removed by a merge, mapped to the id they were merged into.
func (t *Table[V]) FixCaseDuplicates() map[DestID]DestID {
	merged := make(map[DestID]DestID)
	if t.valueKey == nil {
		return merged
	}

	groups := make(map[string][]DestID)
	for id, v := range t.idMap {
		key, ok := t.valueKey(v)
		if !ok {
			continue
		}
		groups[key] = append(groups[key], id)
	}

	for _, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		main := ids[0]
		for _, id := range ids[1:] {
			if id < main {
				main = id
			}
		}
		for _, id := range ids {
			if id == main {
				continue
			}
			t.mergeInto(id, main)
			merged[id] = main
		}
	}
	return merged
}
