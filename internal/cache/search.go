package cache

import (
	"strings"

	"github.com/banux/nxt-opds/internal/cacheerr"
	"github.com/banux/nxt-opds/internal/field"
	"github.com/banux/nxt-opds/internal/linktable"
)

// genericField is the subset of *field.Field[V]'s method set that does not
// depend on V, letting Cache keep one name-keyed registry across fields of
// different value types — the "field registry" internal/view's multisort
// and search delegate name resolution to.
type genericField interface {
	SortKeysForBooks(ids []linktable.SourceID) map[linktable.SourceID]field.SortKey
	IterSearchableValues(yield func(linktable.SourceID, string) bool)
}

// SortKeysForBooks resolves fieldName against the field registry and
// returns one sort key per requested book, for internal/view.Multisort.
func (c *Cache) SortKeysForBooks(fieldName string, ids []linktable.SourceID) (map[linktable.SourceID]field.SortKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if fieldName == "marked" {
		out := make(map[linktable.SourceID]field.SortKey, len(ids))
		for _, s := range ids {
			if v, ok := c.marked[s]; ok {
				out[s] = field.NewStringKey(v)
			}
		}
		return out, nil
	}

	f, ok := c.fieldsByName[fieldName]
	if !ok {
		return nil, cacheerr.InvalidLinkTable("no such field %q", fieldName)
	}
	return f.SortKeysForBooks(ids), nil
}

// Search evaluates query against candidates and returns the matching
// subset. The grammar is a small AND-of-terms language in the field
// layer's idiom: whitespace-separated terms, each either "field:value"
// (substring match restricted to that field, or "marked:value" against
// the marked-id facet) or a bare value (substring match against every
// searchable field). An empty query matches every candidate.
func (c *Cache) Search(query string, candidates []linktable.SourceID) (map[linktable.SourceID]struct{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matches := make(map[linktable.SourceID]struct{}, len(candidates))
	for _, s := range candidates {
		matches[s] = struct{}{}
	}

	terms := strings.Fields(query)
	if len(terms) == 0 {
		return matches, nil
	}

	for _, term := range terms {
		fieldName, value, scoped := strings.Cut(term, ":")
		if !scoped {
			fieldName, value = "", term
		}
		value = strings.ToLower(value)

		hit := make(map[linktable.SourceID]struct{})
		if scoped && fieldName == "marked" {
			for s := range matches {
				if v, ok := c.marked[s]; ok && strings.Contains(strings.ToLower(v), value) {
					hit[s] = struct{}{}
				}
			}
		} else if scoped {
			f, ok := c.fieldsByName[fieldName]
			if !ok {
				return nil, cacheerr.InvalidLinkTable("no such field %q", fieldName)
			}
			f.IterSearchableValues(func(s linktable.SourceID, text string) bool {
				if _, want := matches[s]; want && strings.Contains(strings.ToLower(text), value) {
					hit[s] = struct{}{}
				}
				return true
			})
		} else {
			for _, f := range c.fieldsByName {
				f.IterSearchableValues(func(s linktable.SourceID, text string) bool {
					if _, want := matches[s]; want {
						if _, already := hit[s]; !already && strings.Contains(strings.ToLower(text), value) {
							hit[s] = struct{}{}
						}
					}
					return true
				})
			}
		}
		matches = hit
		if len(matches) == 0 {
			break
		}
	}
	return matches, nil
}

// SetMarkedIDs replaces the marked-id facet wholesale. An id absent from
// values is unmarked; values map ids to the free-form text searchable as
// marked:<value> and sortable via the "marked" virtual field name.
func (c *Cache) SetMarkedIDs(values map[linktable.SourceID]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marked = make(map[linktable.SourceID]string, len(values))
	for s, v := range values {
		c.marked[s] = v
	}
}

// MarkID sets s's marked-id facet to value, leaving every other id's mark
// untouched — the additive counterpart of SetMarkedIDs for callers (such as
// a one-book-at-a-time filesystem scan) that must not clobber marks already
// recorded for other books.
func (c *Cache) MarkID(s linktable.SourceID, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.marked == nil {
		c.marked = make(map[linktable.SourceID]string)
	}
	c.marked[s] = value
}

// ToggleMarkedIDs flips membership of each id in the marked set, marking
// previously-unmarked ids "true" and clearing previously-marked ones.
func (c *Cache) ToggleMarkedIDs(ids []linktable.SourceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.marked == nil {
		c.marked = make(map[linktable.SourceID]string)
	}
	for _, s := range ids {
		if _, ok := c.marked[s]; ok {
			delete(c.marked, s)
		} else {
			c.marked[s] = "true"
		}
	}
}

// MarkedValue returns s's marked-id facet value, if any.
func (c *Cache) MarkedValue(s linktable.SourceID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.marked[s]
	return v, ok
}
