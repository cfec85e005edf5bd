package relcache

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/banux/nxt-opds/internal/catalog"
	"github.com/banux/nxt-opds/internal/field"
	"github.com/banux/nxt-opds/internal/linktable"
)

// AllBooks returns every book, in the same order and with the same
// pagination Search would give an empty query.
func (b *Backend) AllBooks(offset, limit int) ([]catalog.Book, int, error) {
	return b.Search(catalog.SearchQuery{Offset: offset, Limit: limit})
}

// Search evaluates q.Query through the view's search grammar, then
// narrows by the structured filters (Author/Tag/Language/UnreadOnly/
// Series) as plain predicates over the assembled books — those filters
// need exact/substring semantics finer than the field-scoped "contains"
// terms view.Search's grammar offers, the same reason the teacher's
// Search builds its WHERE clause out of discrete conditions rather than
// routing everything through one LIKE expression.
func (b *Backend) Search(q catalog.SearchQuery) ([]catalog.Book, int, error) {
	ctx := context.Background()

	if err := b.view.Search(q.Query); err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	ids := b.view.IDs()

	books := make([]catalog.Book, 0, len(ids))
	for _, id := range ids {
		bk, err := b.bookFromID(ctx, id)
		if err != nil {
			continue
		}
		if q.UnreadOnly && bk.IsRead {
			continue
		}
		if q.NewOnly && !bk.IsNew {
			continue
		}
		if q.Series != "" && bk.Series != q.Series {
			continue
		}
		if q.Author != "" && !matchesAuthor(bk.Authors, q.Author) {
			continue
		}
		if q.Tag != "" && !matchesExact(bk.Tags, q.Tag) {
			continue
		}
		if q.Language != "" && !strings.EqualFold(bk.Language, q.Language) {
			continue
		}
		books = append(books, bk)
	}

	sortBooks(books, q.SortBy, q.SortOrder)

	total := len(books)
	if q.Offset >= total {
		return nil, total, nil
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > total {
		end = total
	}
	return books[q.Offset:end], total, nil
}

func matchesAuthor(authors []catalog.Author, substr string) bool {
	substr = strings.ToLower(substr)
	for _, a := range authors {
		if strings.Contains(strings.ToLower(a.Name), substr) {
			return true
		}
	}
	return false
}

func matchesExact(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// sortBooks orders books in place per catalog.SearchQuery's SortBy/
// SortOrder. "added"/"" defaults to newest first, matching the teacher's
// sortClause default; title and series_index sort ascending unless
// SortOrder is "desc". These three are the only sort keys SearchQuery
// names, and all three live in store.BookMeta or the book's display
// fields rather than the 14 relational fields view.Multisort dispatches
// by name, so they are applied here as a plain post-assembly sort
// instead of being modelled as extra virtual Cache fields.
func sortBooks(books []catalog.Book, sortBy, sortOrder string) {
	switch sortBy {
	case "title":
		desc := sortOrder == "desc"
		sort.SliceStable(books, func(i, j int) bool {
			a, b := strings.ToLower(books[i].Title), strings.ToLower(books[j].Title)
			if desc {
				return a > b
			}
			return a < b
		})
	case "series_index":
		desc := sortOrder == "desc"
		sort.SliceStable(books, func(i, j int) bool {
			ai, _ := parseFloat(books[i].SeriesIndex)
			aj, _ := parseFloat(books[j].SeriesIndex)
			if ai != aj {
				if desc {
					return ai > aj
				}
				return ai < aj
			}
			return strings.ToLower(books[i].Title) < strings.ToLower(books[j].Title)
		})
	default: // "added" or ""
		asc := sortOrder == "asc"
		sort.SliceStable(books, func(i, j int) bool {
			if asc {
				return books[i].AddedAt.Before(books[j].AddedAt)
			}
			return books[i].AddedAt.After(books[j].AddedAt)
		})
	}
}

// booksForFieldValue returns every book whose field f holds exactly want,
// sorted by title — the exact-match listing BooksByAuthor/BooksByTag need,
// as opposed to Search's substring/contains semantics.
func booksForFieldValue[V comparable](b *Backend, f *field.Field[V], want V, offset, limit int) ([]catalog.Book, int, error) {
	ctx := context.Background()

	var ids []linktable.SourceID
	for _, cat := range f.GetCategories() {
		if cat.Value == want {
			ids = append(ids, f.Table().BooksFor(cat.ID)...)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	books := make([]catalog.Book, 0, len(ids))
	for _, id := range ids {
		bk, err := b.bookFromID(ctx, id)
		if err != nil {
			continue
		}
		books = append(books, bk)
	}
	sortBooks(books, "title", "")

	total := len(books)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return books[offset:end], total, nil
}

// BooksByAuthor returns books whose author list contains author exactly.
func (b *Backend) BooksByAuthor(author string, offset, limit int) ([]catalog.Book, int, error) {
	return booksForFieldValue(b, b.cache.Authors, author, offset, limit)
}

// BooksByTag returns books tagged with tag exactly.
func (b *Backend) BooksByTag(tag string, offset, limit int) ([]catalog.Book, int, error) {
	return booksForFieldValue(b, b.cache.Tags, tag, offset, limit)
}

// categoryNames lists f's distinct display values, alphabetically, paginated.
func categoryNames[V any](f *field.Field[V], offset, limit int) ([]string, int, error) {
	cats := f.GetCategories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Formatted
	}
	sort.Slice(names, func(i, j int) bool { return strings.ToLower(names[i]) < strings.ToLower(names[j]) })

	total := len(names)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return names[offset:end], total, nil
}

// Authors returns all distinct author names.
func (b *Backend) Authors(offset, limit int) ([]string, int, error) {
	return categoryNames(b.cache.Authors, offset, limit)
}

// Tags returns all distinct tags/genres.
func (b *Backend) Tags(offset, limit int) ([]string, int, error) {
	return categoryNames(b.cache.Tags, offset, limit)
}

// Series returns all distinct non-empty series names with book counts. It
// implements catalog.SeriesLister.
func (b *Backend) Series() ([]catalog.SeriesEntry, error) {
	cats := b.cache.Series.GetCategories()
	entries := make([]catalog.SeriesEntry, 0, len(cats))
	for _, c := range cats {
		if c.Formatted == "" {
			continue
		}
		entries = append(entries, catalog.SeriesEntry{Name: c.Formatted, Count: c.Count})
	}
	sort.Slice(entries, func(i, j int) bool { return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name) })
	return entries, nil
}
