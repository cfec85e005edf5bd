package cache

import (
	"context"

	"github.com/banux/nxt-opds/internal/cacheerr"
	"github.com/banux/nxt-opds/internal/linktable"
	"github.com/banux/nxt-opds/internal/store"
)

// AddTitle registers a newly created title row so TitleID/ExternalID/Title
// resolve correctly without a full Read. Call only after Read has run at
// least once (it populates the maps AddTitle writes into); a brand new
// book from a filesystem scan is the intended caller, right after the
// store-side AllocTitleID call that created its row.
func (c *Cache) AddTitle(id linktable.SourceID, t store.TitleRow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles[id] = t
	c.titlesByExtern[t.ExternalID] = id
}

// RenameTitle updates s's display title in the store and in the cache's
// title bookkeeping, the write-side counterpart of Title.
func (c *Cache) RenameTitle(ctx context.Context, s linktable.SourceID, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.RenameTitle(ctx, s, title); err != nil {
		return cacheerr.DatabaseIntegrity(err)
	}
	if t, ok := c.titles[s]; ok {
		t.Title = title
		c.titles[s] = t
	}
	return nil
}

// Title returns one book's cached title string, the display name
// internal/backend/relcache needs alongside each field's values to
// assemble a catalog.Book.
func (c *Cache) Title(s linktable.SourceID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.titles[s]
	if !ok {
		return "", false
	}
	return t.Title, true
}

// WithWriteLock runs fn holding the Cache's write lock, so a caller that
// needs to pair a Field[V].UpdateDB call with the PersistDiff write it
// produces can do both as one atomic step rather than racing another
// writer between them.
func (c *Cache) WithWriteLock(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn()
}

// Allocator returns an allocID callback for relation, suitable as the
// allocID argument to a Field[V].UpdateDB call. linktable's Preflight
// signature (func(string) DestID) has no error channel of its own, so any
// store error is recorded into *errOut instead of being returned; the
// caller must check *errOut once UpdateDB returns and, on failure,
// discard the in-memory update by re-running Cache.Read rather than
// trusting it — the same "a commit error invalidates the cache" contract
// that covers every other Cache write path.
func (c *Cache) Allocator(ctx context.Context, relation string, errOut *error) func(string) linktable.DestID {
	return func(value string) linktable.DestID {
		if *errOut != nil {
			return 0
		}
		id, err := c.store.AllocID(ctx, relation, value)
		if err != nil {
			*errOut = err
			return 0
		}
		return id
	}
}

// SetSeriesAttrs writes one book's series_index/series_total attributes
// to the store and updates the series field's in-memory copy to match,
// the write-side counterpart of Field.LinkAttr for the one field whose
// per-link attributes live outside the ordinary value/link tables.
func (c *Cache) SetSeriesAttrs(ctx context.Context, s linktable.SourceID, attrs map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetSeriesAttrs(ctx, s, attrs); err != nil {
		return cacheerr.DatabaseIntegrity(err)
	}
	for attr, v := range attrs {
		c.Series.SetLinkAttr(s, attr, v)
	}
	return nil
}

// PersistDiff writes diff, the result of a Field[V].UpdateDB call against
// relation's table, through to the store: replacing each touched source's
// link rows in one statement and deleting any source the update emptied
// out entirely. Call this under WithWriteLock immediately after the
// UpdateDB call that produced diff, so the in-memory table and the store
// never observe different states for longer than one critical section.
func (c *Cache) PersistDiff(ctx context.Context, relation string, diff linktable.Diff) error {
	rows := make(map[linktable.SourceID][]linktable.Row, len(diff.Updated)+len(diff.UpdatedTyped))
	for s, ids := range diff.Updated {
		rs := make([]linktable.Row, len(ids))
		for i, d := range ids {
			rs[i] = linktable.Row{Source: s, Dest: d, Rank: i}
		}
		rows[s] = rs
	}
	for s, byType := range diff.UpdatedTyped {
		var rs []linktable.Row
		for typ, ids := range byType {
			for i, d := range ids {
				rs = append(rs, linktable.Row{Source: s, Dest: d, Type: typ, Rank: i})
			}
		}
		rows[s] = rs
	}
	// A typed update that empties every type for a source lands in both
	// UpdatedTyped (as an all-empty entry) and Deleted; BulkDeleteInTable
	// below already removes it, so drop it here to avoid writing it twice.
	for s := range diff.Deleted {
		delete(rows, s)
	}

	if len(rows) > 0 {
		if err := c.store.Macros().BulkUpdateLinkTable(ctx, relation, rows); err != nil {
			return cacheerr.DatabaseIntegrity(err)
		}
	}

	if len(diff.Deleted) > 0 {
		ids := make([]linktable.SourceID, 0, len(diff.Deleted))
		for s := range diff.Deleted {
			ids = append(ids, s)
		}
		if err := c.store.Macros().BulkDeleteInTable(ctx, relation, ids); err != nil {
			return cacheerr.DatabaseIntegrity(err)
		}
	}
	return nil
}
