package relcache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/banux/nxt-opds/internal/catalog"
	"github.com/banux/nxt-opds/internal/linktable"
)

// formatAttr renders a series_index/series_total link attribute (stored
// as float64 or int64, per store/sqlite's series_attrs columns) back into
// the plain string catalog.Book expects.
func formatAttr(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

// bookFromID assembles a catalog.Book from every field the cache knows
// about s plus its non-relational store.BookMeta, the read-side
// counterpart of insertBook.
func (b *Backend) bookFromID(ctx context.Context, s linktable.SourceID) (catalog.Book, error) {
	extID, ok := b.cache.ExternalID(s)
	if !ok {
		return catalog.Book{}, fmt.Errorf("book %v not found", s)
	}
	title, _ := b.cache.Title(s)

	bk := catalog.Book{ID: extID, Title: title}

	for _, name := range b.cache.Authors.ForBook(s) {
		bk.Authors = append(bk.Authors, catalog.Author{Name: name})
	}
	bk.Tags = b.cache.Tags.ForBook(s)

	if series := b.cache.Series.ForBook(s); len(series) > 0 {
		bk.Series = series[0]
		if idx, ok := b.cache.Series.LinkAttr(s, "series_index"); ok {
			bk.SeriesIndex = formatAttr(idx)
		}
		if total, ok := b.cache.Series.LinkAttr(s, "series_total"); ok {
			bk.SeriesTotal = formatAttr(total)
		}
	}
	if langs := b.cache.Languages.ForBook(s); len(langs) > 0 {
		bk.Language = langs[0]
	}
	if pubs := b.cache.Publishers.ForBook(s); len(pubs) > 0 {
		bk.Publisher = pubs[0]
	}
	if comments := b.cache.Comments.ForBook(s); len(comments) > 0 {
		bk.Summary = comments[0]
	}
	if ratings := b.cache.Ratings.ForBook(s); len(ratings) > 0 {
		bk.Rating = ratings[0]
	}
	if v, ok := b.cache.MarkedValue(s); ok && v == "new" {
		bk.IsNew = true
	}

	meta, ok, err := b.store.BookMeta(ctx, s)
	if err != nil {
		return catalog.Book{}, fmt.Errorf("read book meta: %w", err)
	}
	if ok {
		bk.PublishedAt = meta.PublishedAt
		bk.UpdatedAt = meta.UpdatedAt
		bk.AddedAt = meta.AddedAt
		bk.CoverURL = meta.CoverURL
		bk.ThumbnailURL = meta.ThumbnailURL
		bk.IsRead = meta.IsRead
		if meta.FilePath != "" {
			bk.Files = []catalog.File{{MIMEType: meta.FileMIME, Path: meta.FilePath, Size: meta.FileSize}}
		}
	}
	return bk, nil
}

// BookByID returns a single book by its external id.
func (b *Backend) BookByID(id string) (*catalog.Book, error) {
	s, ok := b.cache.TitleID(id)
	if !ok {
		return nil, fmt.Errorf("book %q not found", id)
	}
	bk, err := b.bookFromID(context.Background(), s)
	if err != nil {
		return nil, err
	}
	return &bk, nil
}
