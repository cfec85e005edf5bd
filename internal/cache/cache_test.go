package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banux/nxt-opds/internal/linktable"
	"github.com/banux/nxt-opds/internal/store"
)

// fakeStore is a minimal in-memory store.Store used only by this
// package's tests, standing in for internal/store/sqlite so Cache's
// orchestration can be exercised without a real database.
type fakeStore struct {
	snapshot     store.Snapshot
	deleted      map[string][]linktable.SourceID
	cleaned      map[string][]linktable.DestID
	itemsDeleted map[string][]linktable.DestID
	nextID       linktable.DestID
}

func newFakeStore(snap store.Snapshot) *fakeStore {
	return &fakeStore{
		snapshot:     snap,
		deleted:      map[string][]linktable.SourceID{},
		cleaned:      map[string][]linktable.DestID{},
		itemsDeleted: map[string][]linktable.DestID{},
		nextID:       1000,
	}
}

func (f *fakeStore) Read(context.Context) (store.Snapshot, error) { return f.snapshot, nil }

func (f *fakeStore) AllocID(_ context.Context, _, _ string) (linktable.DestID, error) {
	f.nextID++
	return f.nextID, nil
}

func (f *fakeStore) AllocTitleID(_ context.Context, externalID, _ string) (linktable.SourceID, error) {
	return 0, nil
}

func (f *fakeStore) RenameTitle(context.Context, linktable.SourceID, string) error {
	return nil
}

func (f *fakeStore) BookMeta(context.Context, linktable.SourceID) (store.BookMeta, bool, error) {
	return store.BookMeta{}, false, nil
}

func (f *fakeStore) SetBookMeta(context.Context, linktable.SourceID, store.BookMeta) error {
	return nil
}

func (f *fakeStore) SetSeriesAttrs(context.Context, linktable.SourceID, map[string]any) error {
	return nil
}

func (f *fakeStore) Macros() store.Macros     { return fakeMacros{f} }
func (f *fakeStore) Maintainer() store.Maintainer { return fakeMaintainer{f} }

type fakeMacros struct{ f *fakeStore }

func (m fakeMacros) BulkDeleteInTable(_ context.Context, relation string, ids []linktable.SourceID) error {
	m.f.deleted[relation] = append(m.f.deleted[relation], ids...)
	return nil
}
func (m fakeMacros) BulkAddLinks(context.Context, string, []linktable.Row) error { return nil }
func (m fakeMacros) BulkUpdateLinkTable(context.Context, string, map[linktable.SourceID][]linktable.Row) error {
	return nil
}
func (m fakeMacros) BulkDeleteItemsInTableTwoMatchingCols(_ context.Context, relation string, ids []linktable.DestID) error {
	m.f.itemsDeleted[relation] = append(m.f.itemsDeleted[relation], ids...)
	return nil
}
func (m fakeMacros) UnlinkItemsForBooks(context.Context, string, []linktable.DestID, []linktable.SourceID) error {
	return nil
}
func (m fakeMacros) UpdateColumnInTable(context.Context, string, linktable.DestID, string) error {
	return nil
}

type fakeMaintainer struct{ f *fakeStore }

func (m fakeMaintainer) Clean(_ context.Context, relation string, ids []linktable.DestID) error {
	m.f.cleaned[relation] = append(m.f.cleaned[relation], ids...)
	return nil
}
func (m fakeMaintainer) Merge(context.Context, string, linktable.DestID, linktable.DestID) error {
	return nil
}

func testSnapshot() store.Snapshot {
	return store.Snapshot{
		Titles: []store.TitleRow{
			{ID: 1, ExternalID: "book-1", Title: "Dune"},
			{ID: 2, ExternalID: "book-2", Title: "Foundation"},
		},
		Rows: map[string][]linktable.Row{
			"tags":   {{Source: 1, Dest: 10}, {Source: 2, Dest: 10}},
			"series": {{Source: 1, Dest: 20}},
		},
		Values: map[string]map[linktable.DestID]string{
			"tags":   {10: "scifi"},
			"series": {20: "Dune Chronicles"},
		},
		RatingValues: map[linktable.DestID]int{},
		SeriesAttrs: map[linktable.SourceID]map[string]any{
			1: {"series_index": 1.0},
		},
	}
}

func TestCacheReadPopulatesFields(t *testing.T) {
	st := newFakeStore(testSnapshot())
	c := New(st)
	require.NoError(t, c.Read(context.Background()))

	assert.ElementsMatch(t, []linktable.SourceID{1, 2}, c.AllSourceIDs())
	assert.Equal(t, []string{"scifi"}, c.Tags.ForBook(1))
	assert.Equal(t, []string{"Dune Chronicles"}, c.Series.ForBook(1))

	idx, ok := c.Series.LinkAttr(1, "series_index")
	require.True(t, ok)
	assert.Equal(t, 1.0, idx)

	id, ok := c.TitleID("book-1")
	require.True(t, ok)
	assert.Equal(t, linktable.SourceID(1), id)
}

func TestCacheRemoveBooksReportsCleanAndDeletesTitle(t *testing.T) {
	st := newFakeStore(testSnapshot())
	c := New(st)
	require.NoError(t, c.Read(context.Background()))

	require.NoError(t, c.RemoveBooks(context.Background(), []linktable.SourceID{2}))

	assert.Empty(t, c.Tags.ForBook(2))
	_, ok := c.TitleID("book-2")
	assert.False(t, ok, "removed title should no longer resolve")
	// tag "scifi" is still referenced by book 1, so it must not be cleaned yet.
	assert.Empty(t, st.cleaned["tags"])

	require.NoError(t, c.RemoveBooks(context.Background(), []linktable.SourceID{1}))
	assert.Contains(t, st.cleaned["tags"], linktable.DestID(10))
}
