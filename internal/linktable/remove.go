package linktable

// RemoveBooks drops every source in ids from the table entirely and
// reports which destinations became unreferenced as a result (the
// "clean candidates" spec.md hands to the store's maintainer for
// garbage collection). Destinations are only reported when
// SetCleanOnRemove(true) is in effect (the default).
func (t *Table[V]) RemoveBooks(ids []SourceID) map[DestID]struct{} {
	clean := make(map[DestID]struct{})

	for _, s := range ids {
		if _, ok := t.seenSources[s]; !ok {
			continue
		}
		delete(t.seenSources, s)

		if t.variant.Typed {
			byType := t.bookColTyped[s]
			delete(t.bookColTyped, s)
			for typ, sl := range byType {
				for _, id := range sl.ids() {
					dID := DestID(id)
					if t.destTyped {
						dsl := t.typedDestSlot(dID, typ, false)
						if dsl == nil {
							continue
						}
						dsl.remove(int64(s))
						if dsl.isEmpty() {
							delete(t.colBookTyped[dID], typ)
							if len(t.colBookTyped[dID]) == 0 {
								delete(t.colBookTyped, dID)
								t.reportClean(dID, clean)
							}
						}
					} else {
						dsl := t.destSlot(dID, false)
						if dsl == nil {
							continue
						}
						dsl.remove(int64(s))
						if dsl.isEmpty() {
							delete(t.colBook, dID)
							t.reportClean(dID, clean)
						}
					}
				}
			}
			continue
		}

		sl := t.bookCol[s]
		delete(t.bookCol, s)
		for _, id := range sl.ids() {
			dID := DestID(id)
			dsl := t.destSlot(dID, false)
			if dsl == nil {
				continue
			}
			dsl.remove(int64(s))
			if dsl.isEmpty() {
				delete(t.colBook, dID)
				t.reportClean(dID, clean)
			}
		}
	}
	return clean
}

func (t *Table[V]) reportClean(d DestID, clean map[DestID]struct{}) {
	if t.doCleanOnRemove {
		clean[d] = struct{}{}
	}
}

// RemoveItems removes destinations from the table. When
// restrictToBookIDs is empty, each id in ids is removed completely (from
// every source that references it, and from id_map). When
// restrictToBookIDs is non-empty, the removal is scoped to just those
// sources: a destination still referenced by a source outside the
// restriction stays in id_map. RemoveItems returns the set of sources
// whose container actually changed.
func (t *Table[V]) RemoveItems(ids []DestID, restrictToBookIDs []SourceID) map[SourceID]struct{} {
	affected := make(map[SourceID]struct{})
	var restrict map[SourceID]struct{}
	if len(restrictToBookIDs) > 0 {
		restrict = make(map[SourceID]struct{}, len(restrictToBookIDs))
		for _, s := range restrictToBookIDs {
			restrict[s] = struct{}{}
		}
	}

	for _, d := range ids {
		if t.destTyped {
			byType := t.colBookTyped[d]
			for typ, dsl := range byType {
				for _, src := range dsl.ids() {
					s := SourceID(src)
					if restrict != nil {
						if _, in := restrict[s]; !in {
							continue
						}
					}
					if bsl := t.typedBookSlot(s, typ, false); bsl != nil {
						bsl.remove(int64(d))
						if bsl.isEmpty() {
							delete(t.bookColTyped[s], typ)
						}
					}
					dsl.remove(src)
					affected[s] = struct{}{}
				}
				if dsl.isEmpty() {
					delete(t.colBookTyped[d], typ)
				}
			}
			if len(t.colBookTyped[d]) == 0 {
				delete(t.colBookTyped, d)
				delete(t.idMap, d)
			}
			continue
		}

		dsl := t.colBook[d]
		if dsl == nil {
			delete(t.idMap, d)
			continue
		}
		for _, src := range dsl.ids() {
			s := SourceID(src)
			if restrict != nil {
				if _, in := restrict[s]; !in {
					continue
				}
			}
			if t.variant.Typed {
				for typ, bsl := range t.bookColTyped[s] {
					bsl.remove(int64(d))
					if bsl.isEmpty() {
						delete(t.bookColTyped[s], typ)
					}
				}
			} else if bsl := t.bookSlot(s, false); bsl != nil {
				bsl.remove(int64(d))
			}
			dsl.remove(src)
			affected[s] = struct{}{}
		}
		if dsl.isEmpty() {
			delete(t.colBook, d)
			delete(t.idMap, d)
		}
	}
	return affected
}
