package relcache

import (
	"context"
	"fmt"
	"time"

	"github.com/banux/nxt-opds/internal/catalog"
	"github.com/banux/nxt-opds/internal/linktable"
)

// scalarRaw turns an editable scalar string field into the rawValue
// Field.UpdateDB expects: an empty string clears the field (nil), any
// other value replaces it.
func scalarRaw(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpdateBook applies update to the book with the given external id,
// routing each changed field through the cache's UpdateDB/PersistDiff
// pipeline so edits stay deduplicated against what the cache already
// knows, then returns the book's fresh assembled state. It implements
// catalog.Updater.
func (b *Backend) UpdateBook(id string, update catalog.BookUpdate) (*catalog.Book, error) {
	ctx := context.Background()

	s, ok := b.cache.TitleID(id)
	if !ok {
		return nil, fmt.Errorf("book %q not found", id)
	}

	if update.Title != nil {
		if err := b.cache.RenameTitle(ctx, s, *update.Title); err != nil {
			return nil, fmt.Errorf("rename title: %w", err)
		}
	}
	if update.Authors != nil {
		if err := updateField(ctx, b.cache, b.cache.Authors, "authors", map[linktable.SourceID]any{s: authorNames(update.Authors)}); err != nil {
			return nil, fmt.Errorf("update authors: %w", err)
		}
	}
	if update.Tags != nil {
		tags := update.Tags
		if len(tags) == 0 {
			tags = []string{}
		}
		if err := updateField(ctx, b.cache, b.cache.Tags, "tags", map[linktable.SourceID]any{s: tags}); err != nil {
			return nil, fmt.Errorf("update tags: %w", err)
		}
	}
	if update.Summary != nil {
		if err := updateField(ctx, b.cache, b.cache.Comments, "comments", map[linktable.SourceID]any{s: scalarRaw(*update.Summary)}); err != nil {
			return nil, fmt.Errorf("update summary: %w", err)
		}
	}
	if update.Publisher != nil {
		if err := updateField(ctx, b.cache, b.cache.Publishers, "publishers", map[linktable.SourceID]any{s: scalarRaw(*update.Publisher)}); err != nil {
			return nil, fmt.Errorf("update publisher: %w", err)
		}
	}
	if update.Language != nil {
		if err := updateField(ctx, b.cache, b.cache.Languages, "languages", map[linktable.SourceID]any{s: scalarRaw(*update.Language)}); err != nil {
			return nil, fmt.Errorf("update language: %w", err)
		}
	}
	if update.Series != nil {
		if err := updateField(ctx, b.cache, b.cache.Series, "series", map[linktable.SourceID]any{s: scalarRaw(*update.Series)}); err != nil {
			return nil, fmt.Errorf("update series: %w", err)
		}
	}
	if update.SeriesIndex != nil || update.SeriesTotal != nil {
		attrs := map[string]any{}
		if update.SeriesIndex != nil {
			if v, ok := parseFloat(*update.SeriesIndex); ok {
				attrs["series_index"] = v
			}
		}
		if update.SeriesTotal != nil {
			if v, ok := parseInt(*update.SeriesTotal); ok {
				attrs["series_total"] = v
			}
		}
		if len(attrs) > 0 {
			if err := b.cache.SetSeriesAttrs(ctx, s, attrs); err != nil {
				return nil, fmt.Errorf("update series attrs: %w", err)
			}
		}
	}
	if update.Rating != nil {
		var raw any
		if *update.Rating != 0 {
			raw = *update.Rating
		}
		if err := updateField(ctx, b.cache, b.cache.Ratings, "ratings", map[linktable.SourceID]any{s: raw}); err != nil {
			return nil, fmt.Errorf("update rating: %w", err)
		}
	}

	if update.IsRead != nil {
		meta, _, err := b.store.BookMeta(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("read book meta: %w", err)
		}
		meta.IsRead = *update.IsRead
		meta.UpdatedAt = time.Now()
		if err := b.store.SetBookMeta(ctx, s, meta); err != nil {
			return nil, fmt.Errorf("write book meta: %w", err)
		}
	}

	bk, err := b.bookFromID(ctx, s)
	if err != nil {
		return nil, err
	}
	return &bk, nil
}

func authorNames(names []string) []string {
	if len(names) == 0 {
		return []string{}
	}
	return names
}
