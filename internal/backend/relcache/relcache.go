// Package relcache implements catalog.Catalog on top of the relational
// cache (internal/cache, internal/view, internal/store/sqlite): a
// filesystem-scanning backend with every book attribute routed through a
// field-backed cache instead of a flat books table.
package relcache

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banux/nxt-opds/internal/cache"
	"github.com/banux/nxt-opds/internal/catalog"
	"github.com/banux/nxt-opds/internal/epub"
	"github.com/banux/nxt-opds/internal/field"
	"github.com/banux/nxt-opds/internal/linktable"
	"github.com/banux/nxt-opds/internal/store"
	storesqlite "github.com/banux/nxt-opds/internal/store/sqlite"
	"github.com/banux/nxt-opds/internal/view"
)

const dbFilename = ".relcache.db"

// Options configures optional cache behaviour, following the config
// layer's maximum_resort_levels and mark_new_books knobs.
type Options struct {
	MaximumResortLevels int
	MarkNewBooks        bool
}

// Backend is a relational-cache-backed catalog backend.
type Backend struct {
	root      string
	coversDir string

	store store.Store
	cache *cache.Cache
	view  *view.View

	markNewBooks bool
}

// New opens (or creates) the relational cache database at
// {dir}/.relcache.db, loads it into memory, syncs the filesystem, and
// returns the Backend.
func New(dir string, opts Options) (*Backend, error) {
	coversDir := filepath.Join(dir, ".covers")
	if err := os.MkdirAll(coversDir, 0755); err != nil {
		return nil, fmt.Errorf("create covers dir: %w", err)
	}

	st, err := storesqlite.New(filepath.Join(dir, dbFilename))
	if err != nil {
		return nil, fmt.Errorf("open relational cache store: %w", err)
	}

	c := cache.New(st)
	if err := c.Read(context.Background()); err != nil {
		return nil, fmt.Errorf("initial cache read: %w", err)
	}

	b := &Backend{
		root:         dir,
		coversDir:    coversDir,
		store:        st,
		cache:        c,
		markNewBooks: opts.MarkNewBooks,
	}
	b.view = view.New(c, opts.MaximumResortLevels)

	if err := b.Refresh(); err != nil {
		return nil, fmt.Errorf("initial scan: %w", err)
	}
	return b, nil
}

// Close releases database resources.
func (b *Backend) Close() error {
	if closer, ok := b.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Refresh rescans root for EPUB/PDF files, indexes newly discovered ones
// through the cache's field update pipeline (so tag/author/etc. values
// dedupe against what is already known), removes entries whose files no
// longer exist, then reloads the cache and view from the store in one
// pass — the relational-cache analogue of the teacher's
// filesystem-walk-then-insert Refresh.
func (b *Backend) Refresh() error {
	ctx := context.Background()

	onDisk := make(map[string]bool)
	err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".epub", ".pdf":
			onDisk[path] = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning directory %q: %w", b.root, err)
	}

	knownPaths := make(map[string]linktable.SourceID)
	var stale []linktable.SourceID
	for _, s := range b.cache.AllSourceIDs() {
		meta, ok, err := b.store.BookMeta(ctx, s)
		if err != nil {
			return fmt.Errorf("read book meta for %v: %w", s, err)
		}
		if !ok || meta.FilePath == "" {
			continue
		}
		knownPaths[meta.FilePath] = s
		if !onDisk[meta.FilePath] {
			stale = append(stale, s)
		}
	}

	for path := range onDisk {
		if _, exists := knownPaths[path]; exists {
			continue
		}
		var bk catalog.Book
		switch strings.ToLower(filepath.Ext(path)) {
		case ".epub":
			bk, err = epub.ParseBook(path, b.coversDir)
			if err != nil {
				continue // skip unreadable EPUBs, matching the teacher's best-effort scan
			}
		case ".pdf":
			bk = epub.ParsePath(path)
		}
		if err := b.insertBook(ctx, bk); err != nil {
			continue // best-effort indexing, as the teacher's Refresh does
		}
	}

	if len(stale) > 0 {
		if err := b.cache.RemoveBooks(ctx, stale); err != nil {
			return fmt.Errorf("remove stale books: %w", err)
		}
	}

	if err := b.cache.Read(ctx); err != nil {
		return fmt.Errorf("reload cache: %w", err)
	}
	b.view.Refresh()
	return nil
}

// updateField runs f's UpdateDB under the cache's write lock and persists
// the resulting diff, the common plumbing both insertBook and UpdateBook
// use to push one field's change through to the store.
func updateField[V any](ctx context.Context, c *cache.Cache, f *field.Field[V], relation string, raw map[linktable.SourceID]any) error {
	return c.WithWriteLock(func() error {
		var allocErr error
		newValues := make(map[linktable.DestID]V)
		diff, err := f.UpdateDB(raw, newValues, c.Allocator(ctx, relation, &allocErr), true)
		if err != nil {
			return err
		}
		if allocErr != nil {
			return allocErr
		}
		return c.PersistDiff(ctx, relation, diff)
	})
}

// insertBook allocates a title row for bk and routes every field it
// carries through the cache's update pipeline, so a tag or author already
// known to the cache (even differing only by case) is reused rather than
// duplicated — the reason this runs through internal/cache instead of
// writing directly to the store the way the teacher's insertBook does.
func (b *Backend) insertBook(ctx context.Context, bk catalog.Book) error {
	sourceID, err := b.store.AllocTitleID(ctx, bk.ID, bk.Title)
	if err != nil {
		return fmt.Errorf("allocate title %q: %w", bk.ID, err)
	}
	b.cache.AddTitle(sourceID, store.TitleRow{ID: sourceID, ExternalID: bk.ID, Title: bk.Title})

	if len(bk.Authors) > 0 {
		names := make([]string, len(bk.Authors))
		for i, a := range bk.Authors {
			names[i] = a.Name
		}
		if err := updateField(ctx, b.cache, b.cache.Authors, "authors", map[linktable.SourceID]any{sourceID: names}); err != nil {
			return fmt.Errorf("index authors: %w", err)
		}
	}
	if len(bk.Tags) > 0 {
		if err := updateField(ctx, b.cache, b.cache.Tags, "tags", map[linktable.SourceID]any{sourceID: bk.Tags}); err != nil {
			return fmt.Errorf("index tags: %w", err)
		}
	}
	if bk.Series != "" {
		if err := updateField(ctx, b.cache, b.cache.Series, "series", map[linktable.SourceID]any{sourceID: bk.Series}); err != nil {
			return fmt.Errorf("index series: %w", err)
		}
		if attrs := seriesAttrs(bk); len(attrs) > 0 {
			if err := b.cache.SetSeriesAttrs(ctx, sourceID, attrs); err != nil {
				return fmt.Errorf("index series attrs: %w", err)
			}
		}
	}
	if bk.Language != "" {
		if err := updateField(ctx, b.cache, b.cache.Languages, "languages", map[linktable.SourceID]any{sourceID: bk.Language}); err != nil {
			return fmt.Errorf("index language: %w", err)
		}
	}
	if bk.Publisher != "" {
		if err := updateField(ctx, b.cache, b.cache.Publishers, "publishers", map[linktable.SourceID]any{sourceID: bk.Publisher}); err != nil {
			return fmt.Errorf("index publisher: %w", err)
		}
	}
	if bk.Summary != "" {
		if err := updateField(ctx, b.cache, b.cache.Comments, "comments", map[linktable.SourceID]any{sourceID: bk.Summary}); err != nil {
			return fmt.Errorf("index summary: %w", err)
		}
	}
	if bk.Rating != 0 {
		if err := updateField(ctx, b.cache, b.cache.Ratings, "ratings", map[linktable.SourceID]any{sourceID: bk.Rating}); err != nil {
			return fmt.Errorf("index rating: %w", err)
		}
	}

	meta := store.BookMeta{
		PublishedAt:  bk.PublishedAt,
		UpdatedAt:    bk.UpdatedAt,
		AddedAt:      bk.AddedAt,
		CoverURL:     bk.CoverURL,
		ThumbnailURL: bk.ThumbnailURL,
		IsRead:       bk.IsRead,
	}
	if meta.AddedAt.IsZero() {
		meta.AddedAt = time.Now()
	}
	if len(bk.Files) > 0 {
		meta.FilePath = bk.Files[0].Path
		meta.FileMIME = bk.Files[0].MIMEType
		meta.FileSize = bk.Files[0].Size
	}
	if err := b.store.SetBookMeta(ctx, sourceID, meta); err != nil {
		return fmt.Errorf("store book meta: %w", err)
	}

	if b.markNewBooks {
		b.cache.MarkID(sourceID, "new")
	}
	return nil
}

// seriesAttrs parses bk's string series_index/series_total into the
// numeric shapes series_attrs stores, skipping either that does not parse
// as a number (e.g. left blank).
func seriesAttrs(bk catalog.Book) map[string]any {
	attrs := map[string]any{}
	if idx, ok := parseFloat(bk.SeriesIndex); ok {
		attrs["series_index"] = idx
	}
	if total, ok := parseInt(bk.SeriesTotal); ok {
		attrs["series_total"] = total
	}
	return attrs
}

// Root returns top-level navigation entries. The "New Books" entry only
// appears when markNewBooks is enabled, since it is the only thing backing
// the "new" search term the entry links to.
func (b *Backend) Root() ([]catalog.NavEntry, error) {
	entries := []catalog.NavEntry{
		{
			ID:      "urn:nxt-opds:all-books",
			Title:   "All Books",
			Content: "Browse all books in the catalog",
			Href:    "/opds/books",
			Rel:     "http://opds-spec.org/sort/new",
		},
		{
			ID:      "urn:nxt-opds:by-author",
			Title:   "By Author",
			Content: "Browse books by author",
			Href:    "/opds/authors",
			Rel:     "subsection",
		},
		{
			ID:      "urn:nxt-opds:by-tag",
			Title:   "By Genre",
			Content: "Browse books by genre/tag",
			Href:    "/opds/tags",
			Rel:     "subsection",
		},
	}
	if b.markNewBooks {
		entries = append(entries, catalog.NavEntry{
			ID:      "urn:nxt-opds:new-books",
			Title:   "New Books",
			Content: "Books discovered since the last scan",
			Href:    "/opds/books?new=1",
			Rel:     "subsection",
		})
	}
	return entries, nil
}
