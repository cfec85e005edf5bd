// Package view projects a Cache's books into a stable ordered sequence
// with multi-key sort, saved restrictions, and marked-id annotations —
// the read-only consumer sitting above internal/cache/internal/field,
// the same layering the original calibre-derived cache split into a
// CalibreView atop its field-backed cache.
package view

import (
	"fmt"
	"sort"

	"github.com/banux/nxt-opds/internal/field"
	"github.com/banux/nxt-opds/internal/linktable"
)

// Source is what View needs from the cache beneath it: every known book
// id, sort keys resolved by field name, and a query evaluator. Kept as an
// interface (rather than importing *cache.Cache directly) so View never
// needs to know about store/linktable wiring, only the field registry's
// public surface — *cache.Cache satisfies this today.
type Source interface {
	AllSourceIDs() []linktable.SourceID
	SortKeysForBooks(fieldName string, ids []linktable.SourceID) (map[linktable.SourceID]field.SortKey, error)
	Search(query string, candidates []linktable.SourceID) (map[linktable.SourceID]struct{}, error)
}

// SortField is one (field name, ascending) pair of a multisort request.
type SortField struct {
	Name      string
	Ascending bool
}

// View holds the ordered row sequence external consumers iterate, plus
// the sort/filter state needed to keep that order stable across
// incremental re-sorts and re-searches.
type View struct {
	source Source

	// maximumResortLevels bounds sortHistory, matching the original's
	// tweaks["maximum_resort_levels"] cap on add_to_sort_history.
	maximumResortLevels int

	full       []linktable.SourceID
	filtered   []linktable.SourceID
	fullSorted bool

	sortHistory []SortField

	baseRestriction      string
	searchRestriction    string
	restrictionBookCount int
}

// New constructs a View over source and performs an initial Refresh.
// maximumResortLevels <= 0 falls back to 5, the original's default.
func New(source Source, maximumResortLevels int) *View {
	if maximumResortLevels <= 0 {
		maximumResortLevels = 5
	}
	v := &View{source: source, maximumResortLevels: maximumResortLevels}
	v.Refresh()
	return v
}

// Count returns the number of rows in the current (filtered) view.
func (v *View) Count() int { return len(v.filtered) }

// IDs returns a copy of the current filtered row order.
func (v *View) IDs() []linktable.SourceID {
	out := make([]linktable.SourceID, len(v.filtered))
	copy(out, v.filtered)
	return out
}

// IndexToID resolves a row position to its book id.
func (v *View) IndexToID(index int) (linktable.SourceID, bool) {
	if index < 0 || index >= len(v.filtered) {
		return 0, false
	}
	return v.filtered[index], true
}

// addToSortHistory pushes fields to the front of the sort history ring,
// dropping any earlier entry for the same field name and capping at
// maximumResortLevels — the Go analogue of add_to_sort_history's
// uniq(items + history)[:cap].
func (v *View) addToSortHistory(fields []SortField) {
	seen := make(map[string]struct{}, len(fields))
	merged := make([]SortField, 0, len(fields)+len(v.sortHistory))
	for _, f := range fields {
		if _, ok := seen[f.Name]; ok {
			continue
		}
		seen[f.Name] = struct{}{}
		merged = append(merged, f)
	}
	for _, f := range v.sortHistory {
		if _, ok := seen[f.Name]; ok {
			continue
		}
		seen[f.Name] = struct{}{}
		merged = append(merged, f)
	}
	if len(merged) > v.maximumResortLevels {
		merged = merged[:v.maximumResortLevels]
	}
	v.sortHistory = merged
}

// doSort stably reorders ids by fields, falling back to "id" ascending (a
// deterministic final tie-breaker) when fields is empty — the role
// "sort"/"timestamp" play as calibre's built-in tie-breaker columns, which
// this cache does not model as fields of its own. An error from
// Source.SortKeysForBooks (such as the cache's unknown-field error) is
// returned.
func (v *View) doSort(ids []linktable.SourceID, fields []SortField) ([]linktable.SourceID, error) {
	out := make([]linktable.SourceID, len(ids))
	copy(out, ids)
	if len(fields) == 0 {
		fields = []SortField{{Name: "id", Ascending: true}}
	}

	type resolved struct {
		keys      map[linktable.SourceID]field.SortKey
		ascending bool
	}
	resolvedFields := make([]resolved, 0, len(fields))
	for _, f := range fields {
		if f.Name == "id" {
			resolvedFields = append(resolvedFields, resolved{ascending: f.Ascending})
			continue
		}
		keys, err := v.source.SortKeysForBooks(f.Name, out)
		if err != nil {
			return nil, fmt.Errorf("multisort field %q: %w", f.Name, err)
		}
		resolvedFields = append(resolvedFields, resolved{keys: keys, ascending: f.Ascending})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		for fi, f := range resolvedFields {
			if fields[fi].Name == "id" {
				if a == b {
					continue
				}
				if f.ascending {
					return a < b
				}
				return a > b
			}
			ka, aok := f.keys[a]
			kb, bok := f.keys[b]
			switch {
			case !aok && !bok:
				continue
			case !aok:
				return !f.ascending
			case !bok:
				return f.ascending
			}
			if ka.Less(kb) {
				return f.ascending
			}
			if kb.Less(ka) {
				return !f.ascending
			}
		}
		return false
	})
	return out, nil
}

// Multisort reorders the view by fields (most significant first). When
// onlyIDs is nil the whole view is resorted and the result becomes the
// new full order (filtered to whatever the current search matched);
// otherwise onlyIDs is sorted and returned without touching the view's
// own state, the "sort just this subset" mode the original exposes via
// its only_ids parameter.
func (v *View) Multisort(fields []SortField, onlyIDs []linktable.SourceID) ([]linktable.SourceID, error) {
	if onlyIDs != nil {
		return v.doSort(onlyIDs, fields)
	}

	sorted, err := v.doSort(v.full, fields)
	if err != nil {
		return nil, err
	}
	v.full = sorted
	v.fullSorted = true
	v.addToSortHistory(fields)

	if len(v.filtered) == len(v.full) {
		v.filtered = append([]linktable.SourceID(nil), v.full...)
	} else {
		keep := make(map[linktable.SourceID]struct{}, len(v.filtered))
		for _, id := range v.filtered {
			keep[id] = struct{}{}
		}
		reordered := make([]linktable.SourceID, 0, len(v.filtered))
		for _, id := range v.full {
			if _, ok := keep[id]; ok {
				reordered = append(reordered, id)
			}
		}
		v.filtered = reordered
	}
	out := make([]linktable.SourceID, len(v.full))
	copy(out, v.full)
	return out, nil
}

// buildRestriction combines the base (virtual-library) restriction with a
// per-call restriction, matching _build_restriction_string.
func (v *View) buildRestriction(restriction string) string {
	switch {
	case v.baseRestriction == "":
		return restriction
	case restriction == "":
		return v.baseRestriction
	default:
		return fmt.Sprintf("(%s) and (%s)", v.baseRestriction, restriction)
	}
}

// combineQuery ANDs a query onto a restriction, "(restriction) and
// (query)", the form spec.md's Search section names explicitly.
func combineQuery(restriction, query string) string {
	switch {
	case restriction == "":
		return query
	case query == "":
		return restriction
	default:
		return fmt.Sprintf("(%s) and (%s)", restriction, query)
	}
}

// Search evaluates query (combined with the saved search and base
// restrictions) against the view and narrows the filtered order to the
// result, re-applying the sort history when the full order isn't already
// sorted so filtering doesn't visibly reorder rows.
func (v *View) Search(query string) error {
	restriction := v.buildRestriction(v.searchRestriction)
	q := combineQuery(restriction, query)

	if q == "" {
		v.restrictionBookCount = len(v.full)
		v.filtered = append([]linktable.SourceID(nil), v.full...)
		return nil
	}

	matches, err := v.source.Search(q, v.full)
	if err != nil {
		return err
	}

	filtered := make([]linktable.SourceID, 0, len(matches))
	for _, id := range v.full {
		if _, ok := matches[id]; ok {
			filtered = append(filtered, id)
		}
	}
	if !v.fullSorted {
		if filtered, err = v.doSort(filtered, v.sortHistory); err != nil {
			return err
		}
	}
	v.filtered = filtered
	if q == restriction {
		v.restrictionBookCount = len(filtered)
	}
	return nil
}

// Refresh rebuilds the full order from every known book id (ascending by
// id, the view's baseline order before any sort is applied), clears the
// sort history back to the "id" tie-breaker, and re-applies the active
// restriction if one is set.
func (v *View) Refresh() {
	ids := v.source.AllSourceIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	v.full = ids
	v.filtered = append([]linktable.SourceID(nil), ids...)
	v.fullSorted = true
	v.sortHistory = []SortField{{Name: "id", Ascending: true}}

	if v.baseRestriction != "" || v.searchRestriction != "" {
		_ = v.Search("")
	}
}

func (v *View) SearchRestriction() string     { return v.searchRestriction }
func (v *View) SetSearchRestriction(s string) { v.searchRestriction = s }

func (v *View) BaseRestriction() string     { return v.baseRestriction }
func (v *View) SetBaseRestriction(s string) { v.baseRestriction = s }

// RestrictionApplied reports whether any saved restriction is in effect.
func (v *View) RestrictionApplied() bool {
	return v.searchRestriction != "" || v.baseRestriction != ""
}

// RestrictionBookCount is the number of books the saved restriction
// alone (without any additional query) matched as of the last Search.
func (v *View) RestrictionBookCount() int { return v.restrictionBookCount }
