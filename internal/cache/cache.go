// Package cache is the relational cache itself: the single owner of every
// internal/linktable.Table and internal/field.Field for one library,
// guarded by a single-writer/many-reader lock and backed by an
// internal/store.Store for persistence.
package cache

import (
	"context"
	"sync"

	"github.com/banux/nxt-opds/internal/cacheerr"
	"github.com/banux/nxt-opds/internal/field"
	"github.com/banux/nxt-opds/internal/linktable"
	"github.com/banux/nxt-opds/internal/store"
)

// remover is the subset of linktable.Table[V]'s method set RemoveBooks
// and RemoveItems need, independent of V — so Cache can hold every
// relation's table in one slice regardless of its value type.
type remover interface {
	RemoveBooks(ids []linktable.SourceID) map[linktable.DestID]struct{}
	RemoveItems(ids []linktable.DestID, restrictToBookIDs []linktable.SourceID) map[linktable.SourceID]struct{}
	Exists(d linktable.DestID) bool
}

// relationHandle binds a relation's name (matching store's relation
// names) to its table, for the generic remove/clean fan-out.
type relationHandle struct {
	name  string
	table remover
}

// Cache owns every field for one library. Exported field pointers are
// stable for the Cache's lifetime; only the data behind them changes
// across a Read/write, so callers may keep a *field.Field around, always
// calling its methods under the Cache's RLock (via WithReadLock) or its
// Lock (via the Cache's own write methods).
type Cache struct {
	mu    sync.RWMutex
	store store.Store

	Authors     *field.Field[string]
	Tags        *field.Field[string]
	Subjects    *field.Field[string]
	Genres      *field.Field[string]
	Series      *field.Field[string]
	Languages   *field.Field[string]
	Identifiers *field.Field[string]
	Publishers  *field.Field[string]
	Creators    *field.Field[string]
	Formats     *field.Field[string]
	Comments    *field.Field[string]
	Notes       *field.Field[string]
	Synopses    *field.Field[string]
	Ratings     *field.Field[int]

	OnDevice *field.OnDeviceField

	titles         map[linktable.SourceID]store.TitleRow
	titlesByExtern map[string]linktable.SourceID

	relations []relationHandle

	// fieldsByName backs internal/view's field-name-keyed sort/search
	// dispatch (Cache.SortKeysForBooks/Cache.Search), the cache's "field
	// registry" spec.md's view layer delegates name resolution to.
	fieldsByName map[string]genericField

	marked map[linktable.SourceID]string
}

func identityKey(s string) (string, bool) { return foldKeyLocal(s), true }

func identityValue(s string) string { return s }

// New constructs an empty Cache wired to st. Call Read before using it.
func New(st store.Store) *Cache {
	c := &Cache{store: st, titlesByExtern: make(map[string]linktable.SourceID)}

	c.Authors = field.New(field.Metadata{Name: "authors", DataType: "text", IsMultiple: true},
		linktable.New[string](linktable.Variant{Cardinality: linktable.ManyToMany, Priority: true}, linktable.PolicyCaseInsensitiveValue, identityKey, identityValue),
		stringSortKey, identityValue, identityValue)

	c.Tags = field.New(field.Metadata{Name: "tags", DataType: "text", IsMultiple: true},
		linktable.New[string](linktable.Variant{Cardinality: linktable.ManyToMany}, linktable.PolicyCaseInsensitiveValue, identityKey, identityValue),
		stringSortKey, identityValue, identityValue)

	c.Subjects = field.New(field.Metadata{Name: "subjects", DataType: "text", IsMultiple: true},
		linktable.New[string](linktable.Variant{Cardinality: linktable.ManyToMany}, linktable.PolicyCaseInsensitiveValue, identityKey, identityValue),
		stringSortKey, identityValue, identityValue)

	c.Genres = field.New(field.Metadata{Name: "genres", DataType: "text", IsMultiple: true},
		linktable.New[string](linktable.Variant{Cardinality: linktable.ManyToMany}, linktable.PolicyCaseInsensitiveValue, identityKey, identityValue),
		stringSortKey, identityValue, identityValue)

	c.Series = field.New(field.Metadata{Name: "series", DataType: "series", LinkAttrs: []string{"series_index", "series_total"}},
		linktable.New[string](linktable.Variant{Cardinality: linktable.ManyToOne}, linktable.PolicyCaseInsensitiveValue, identityKey, identityValue),
		stringSortKey, identityValue, identityValue)

	c.Languages = field.New(field.Metadata{Name: "languages", DataType: "text"},
		linktable.New[string](linktable.Variant{Cardinality: linktable.ManyToOne}, linktable.PolicyCaseInsensitiveValue, identityKey, identityValue),
		languageSortKey, languageDisplayName, identityValue)

	c.Identifiers = field.New(field.Metadata{Name: "identifiers", DataType: "text", IsMultiple: true},
		linktable.New[string](linktable.Variant{Cardinality: linktable.OneToMany}, linktable.PolicyNone, identityKey, identityValue),
		stringSortKey, identityValue, identityValue)

	c.Publishers = field.New(field.Metadata{Name: "publishers", DataType: "text"},
		linktable.New[string](linktable.Variant{Cardinality: linktable.ManyToOne}, linktable.PolicyCaseInsensitiveValue, identityKey, identityValue),
		stringSortKey, identityValue, identityValue)

	c.Creators = field.New(field.Metadata{Name: "creators", DataType: "text", IsMultiple: true},
		linktable.New[string](linktable.Variant{Cardinality: linktable.ManyToMany, Typed: true}, linktable.PolicyCaseInsensitiveValue, identityKey, identityValue),
		stringSortKey, identityValue, identityValue)

	c.Formats = field.New(field.Metadata{Name: "formats", DataType: "text", IsMultiple: true},
		linktable.New[string](linktable.Variant{Cardinality: linktable.OneToMany, Priority: true, Typed: true}, linktable.PolicyNone, nil, nil),
		stringSortKey, identityValue, identityValue)

	c.Comments = field.New(field.Metadata{Name: "comments", DataType: "text"},
		linktable.New[string](linktable.Variant{Cardinality: linktable.OneToOne}, linktable.PolicyNone, nil, nil),
		stringSortKey, identityValue, identityValue)

	c.Notes = field.New(field.Metadata{Name: "notes", DataType: "text"},
		linktable.New[string](linktable.Variant{Cardinality: linktable.OneToOne}, linktable.PolicyNone, nil, nil),
		stringSortKey, identityValue, identityValue)

	c.Synopses = field.New(field.Metadata{Name: "synopses", DataType: "text"},
		linktable.New[string](linktable.Variant{Cardinality: linktable.OneToOne}, linktable.PolicyNone, nil, nil),
		stringSortKey, identityValue, identityValue)

	c.Ratings = field.New(field.Metadata{Name: "ratings", DataType: "rating"},
		linktable.New[int](linktable.Variant{Cardinality: linktable.ManyToOne}, linktable.PolicyNone, nil, nil),
		intSortKey, ratingStars, nil)

	c.OnDevice = field.NewOnDeviceField("ondevice", nil)

	c.relations = []relationHandle{
		{"authors", c.Authors.Table()},
		{"tags", c.Tags.Table()},
		{"subjects", c.Subjects.Table()},
		{"genres", c.Genres.Table()},
		{"series", c.Series.Table()},
		{"languages", c.Languages.Table()},
		{"identifiers", c.Identifiers.Table()},
		{"publishers", c.Publishers.Table()},
		{"creators", c.Creators.Table()},
		{"formats", c.Formats.Table()},
		{"comments", c.Comments.Table()},
		{"notes", c.Notes.Table()},
		{"synopses", c.Synopses.Table()},
		{"ratings", c.Ratings.Table()},
	}

	c.fieldsByName = map[string]genericField{
		"authors":     c.Authors,
		"tags":        c.Tags,
		"subjects":    c.Subjects,
		"genres":      c.Genres,
		"series":      c.Series,
		"languages":   c.Languages,
		"identifiers": c.Identifiers,
		"publishers":  c.Publishers,
		"creators":    c.Creators,
		"formats":     c.Formats,
		"comments":    c.Comments,
		"notes":       c.Notes,
		"synopses":    c.Synopses,
		"ratings":     c.Ratings,
	}
	return c
}

// stringSortKey/intSortKey/languageSortKey/languageDisplayName/ratingStars
// and foldKeyLocal live in sortadapters.go to keep this file focused on
// wiring.

// WithReadLock runs fn holding the Cache's read lock, for a consumer that
// needs several field reads to observe one consistent snapshot.
func (c *Cache) WithReadLock(fn func()) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn()
}

// TitleID resolves a catalog-level external id to its internal source id.
func (c *Cache) TitleID(externalID string) (linktable.SourceID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.titlesByExtern[externalID]
	return id, ok
}

// ExternalID resolves an internal source id back to its catalog-level
// external id.
func (c *Cache) ExternalID(s linktable.SourceID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.titles[s]
	if !ok {
		return "", false
	}
	return t.ExternalID, true
}

// AllSourceIDs returns every known title's internal source id.
func (c *Cache) AllSourceIDs() []linktable.SourceID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]linktable.SourceID, 0, len(c.titles))
	for id := range c.titles {
		out = append(out, id)
	}
	return out
}

// Read discards any cached state and repopulates every field from the
// store, under the write lock — an idempotent full replacement, as
// linktable.Table.Load requires of each underlying table.
func (c *Cache) Read(ctx context.Context) error {
	snap, err := c.store.Read(ctx)
	if err != nil {
		return cacheerr.DatabaseIntegrity(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.titles = make(map[linktable.SourceID]store.TitleRow, len(snap.Titles))
	c.titlesByExtern = make(map[string]linktable.SourceID, len(snap.Titles))
	for _, t := range snap.Titles {
		c.titles[t.ID] = t
		c.titlesByExtern[t.ExternalID] = t.ID
	}

	c.Authors.Table().Load(snap.Rows["authors"], snap.Values["authors"])
	c.Tags.Table().Load(snap.Rows["tags"], snap.Values["tags"])
	c.Subjects.Table().Load(snap.Rows["subjects"], snap.Values["subjects"])
	c.Genres.Table().Load(snap.Rows["genres"], snap.Values["genres"])
	c.Series.Table().Load(snap.Rows["series"], snap.Values["series"])
	c.Languages.Table().Load(snap.Rows["languages"], snap.Values["languages"])
	c.Identifiers.Table().Load(snap.Rows["identifiers"], snap.Values["identifiers"])
	c.Publishers.Table().Load(snap.Rows["publishers"], snap.Values["publishers"])
	c.Creators.Table().Load(snap.Rows["creators"], snap.Values["creators"])
	c.Formats.Table().Load(snap.Rows["formats"], snap.Values["formats"])
	c.Comments.Table().Load(snap.Rows["comments"], snap.Values["comments"])
	c.Notes.Table().Load(snap.Rows["notes"], snap.Values["notes"])
	c.Synopses.Table().Load(snap.Rows["synopses"], snap.Values["synopses"])
	c.Ratings.Table().Load(snap.Rows["ratings"], snap.RatingValues)

	c.Series.SetLinkAttrs(snap.SeriesAttrs)
	return nil
}

// RemoveBooks removes ids from every relation (in-memory and in the
// store), then hands each relation's clean candidates to the store's
// maintainer, satisfying spec.md's "lifecycle" cleanup contract.
func (c *Cache) RemoveBooks(ctx context.Context, ids []linktable.SourceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.relations {
		clean := r.table.RemoveBooks(ids)
		if err := c.store.Macros().BulkDeleteInTable(ctx, r.name, ids); err != nil {
			return cacheerr.DatabaseIntegrity(err)
		}
		if len(clean) == 0 {
			continue
		}
		cleanIDs := make([]linktable.DestID, 0, len(clean))
		for d := range clean {
			cleanIDs = append(cleanIDs, d)
		}
		if err := c.store.Maintainer().Clean(ctx, r.name, cleanIDs); err != nil {
			return cacheerr.DatabaseIntegrity(err)
		}
	}

	for _, s := range ids {
		if t, ok := c.titles[s]; ok {
			delete(c.titlesByExtern, t.ExternalID)
		}
		delete(c.titles, s)
	}
	return nil
}

// RemoveItems removes destIDs from relation (in-memory and in the store),
// optionally restricted to restrictToBookIDs, then cleans any destination
// that became fully unreferenced.
//
// Without a restriction every destination is dropped outright, value row
// included. With a restriction, a destination still named by a source
// outside restrictToBookIDs must survive — only the link rows pairing it
// with restrictToBookIDs are removed — so the store write and the
// clean-candidate check both follow Table.Exists after the in-memory
// removal, rather than assuming destIDs are always fully gone.
func (c *Cache) RemoveItems(ctx context.Context, relationName string, destIDs []linktable.DestID, restrictToBookIDs []linktable.SourceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var handle *relationHandle
	for i := range c.relations {
		if c.relations[i].name == relationName {
			handle = &c.relations[i]
			break
		}
	}
	if handle == nil {
		return cacheerr.InvalidLinkTable("no such relation %q", relationName)
	}

	handle.table.RemoveItems(destIDs, restrictToBookIDs)

	if len(restrictToBookIDs) == 0 {
		if err := c.store.Macros().BulkDeleteItemsInTableTwoMatchingCols(ctx, relationName, destIDs); err != nil {
			return cacheerr.DatabaseIntegrity(err)
		}
		return nil
	}

	if err := c.store.Macros().UnlinkItemsForBooks(ctx, relationName, destIDs, restrictToBookIDs); err != nil {
		return cacheerr.DatabaseIntegrity(err)
	}
	var clean []linktable.DestID
	for _, d := range destIDs {
		if !handle.table.Exists(d) {
			clean = append(clean, d)
		}
	}
	if len(clean) > 0 {
		if err := c.store.Maintainer().Clean(ctx, relationName, clean); err != nil {
			return cacheerr.DatabaseIntegrity(err)
		}
	}
	return nil
}
