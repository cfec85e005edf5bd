// Package store defines the persistence collaborator the relational cache
// reads from and writes through: a thin interface (a full snapshot read,
// id allocation, per-book scalar writes, bulk-update macros, and a
// maintainer for deferred cleanup), kept separate from internal/cache so the cache stays a pure
// in-memory data structure and every SQL concern lives in one place, as
// the teacher's internal/backend/sqlite isolates database/sql from
// internal/catalog.
package store

import (
	"context"
	"time"

	"github.com/banux/nxt-opds/internal/linktable"
)

// Snapshot is everything Cache.Read needs to repopulate every link table
// and field in one pass: one row set and value map per relation, keyed by
// the relation's name (matching the names used throughout
// internal/cache/cache.go: "authors", "tags", "series", "languages",
// "identifiers", "publishers", "creators", "ratings", "comments",
// "subjects", "genres", "notes", "synopses", "formats").
type Snapshot struct {
	Titles []TitleRow

	Rows   map[string][]linktable.Row
	Values map[string]map[linktable.DestID]string

	// RatingValues holds the ratings relation's values separately since
	// its V is int, not string.
	RatingValues map[linktable.DestID]int

	// SeriesAttrs holds the series_index/series_total link attributes,
	// keyed by title row id.
	SeriesAttrs map[linktable.SourceID]map[string]any
}

// TitleRow is one row of the title table, the "main" side of every link
// table (spec.md's "source" entity).
type TitleRow struct {
	ID        linktable.SourceID
	ExternalID string // the catalog.Book.ID string, e.g. a UUID or path hash
	Title     string
}

// BookMeta holds the scalar per-book attributes the relational cache does
// not model as a field because they come from a filesystem scan rather
// than a link-table relation (the original publication/acquisition
// bookkeeping a catalog.Book needs alongside its field-backed authors,
// tags, series, ...).
type BookMeta struct {
	PublishedAt  time.Time
	UpdatedAt    time.Time
	AddedAt      time.Time
	CoverURL     string
	ThumbnailURL string
	IsRead       bool
	FilePath     string
	FileMIME     string
	FileSize     int64
}

// Store is the persistence collaborator spec.md §6 describes: snapshot
// reads, id allocation, per-book scalar writes, and the macros/maintainer
// a cache write needs after computing its in-memory diff.
type Store interface {
	// Read loads a full Snapshot for Cache.Read to install.
	Read(ctx context.Context) (Snapshot, error)

	// AllocID reserves a fresh destination id for relation, recording
	// value as its display value; used by linktable.Table.Preflight's
	// allocID callback.
	AllocID(ctx context.Context, relation, value string) (linktable.DestID, error)

	// AllocTitleID reserves a fresh source id for externalID, inserting a
	// title row if one does not already exist.
	AllocTitleID(ctx context.Context, externalID, title string) (linktable.SourceID, error)

	// RenameTitle updates a title row's display title in place.
	RenameTitle(ctx context.Context, id linktable.SourceID, title string) error

	// BookMeta reads one book's non-relational scalar attributes.
	BookMeta(ctx context.Context, id linktable.SourceID) (BookMeta, bool, error)

	// SetBookMeta replaces one book's non-relational scalar attributes.
	SetBookMeta(ctx context.Context, id linktable.SourceID, meta BookMeta) error

	// SetSeriesAttrs writes one book's series_index/series_total link
	// attributes, the persisted counterpart of field.Field.SetLinkAttr for
	// the series field (the one field whose per-link attributes
	// internal/cache keeps outside the ordinary value/link tables).
	SetSeriesAttrs(ctx context.Context, id linktable.SourceID, attrs map[string]any) error

	// Macros exposes the named bulk-write operations spec.md §6 calls out.
	Macros() Macros

	// Maintainer exposes deferred cleanup operations.
	Maintainer() Maintainer
}

// Macros groups the bulk SQL operations a cache write uses to turn a
// linktable.Diff into persisted rows, named after spec.md §6's macro list.
type Macros interface {
	// BulkDeleteInTable deletes every row of relation whose source column
	// matches one of sourceIDs.
	BulkDeleteInTable(ctx context.Context, relation string, sourceIDs []linktable.SourceID) error

	// BulkAddLinks inserts (source, dest[, type, rank]) rows for relation.
	BulkAddLinks(ctx context.Context, relation string, rows []linktable.Row) error

	// BulkUpdateLinkTable replaces every row of relation for each of the
	// given sources with rows, in one transaction (delete-then-insert per
	// source), the write-side counterpart of linktable.Table.InternalUpdate.
	BulkUpdateLinkTable(ctx context.Context, relation string, rows map[linktable.SourceID][]linktable.Row) error

	// BulkDeleteItemsInTableTwoMatchingCols deletes destIDs from relation's
	// value table, plus every link row naming them, in one transaction.
	BulkDeleteItemsInTableTwoMatchingCols(ctx context.Context, relation string, destIDs []linktable.DestID) error

	// UnlinkItemsForBooks deletes only the link rows pairing destIDs with
	// bookIDs, leaving relation's value table untouched — the persisted
	// counterpart of a restricted linktable.Table.RemoveItems, where a
	// destination may still be referenced by a source outside bookIDs.
	UnlinkItemsForBooks(ctx context.Context, relation string, destIDs []linktable.DestID, bookIDs []linktable.SourceID) error

	// UpdateColumnInTable renames a destination's display value in place.
	UpdateColumnInTable(ctx context.Context, relation string, destID linktable.DestID, value string) error
}

// Maintainer performs the deferred, best-effort cleanup spec.md §3's
// "Lifecycle" section calls out after RemoveBooks/RemoveItems/RenameItem:
// deleting now-unreferenced destination rows, and merging a renamed
// destination's rows into the id it collided with.
type Maintainer interface {
	// Clean deletes destIDs from relation's value table. Safe to call on
	// ids that no longer exist (e.g. a concurrent clean already removed
	// them); never an error in that case.
	Clean(ctx context.Context, relation string, destIDs []linktable.DestID) error

	// Merge repoints every link row in relation referencing from to into,
	// then deletes from's value row.
	Merge(ctx context.Context, relation string, from, into linktable.DestID) error
}
