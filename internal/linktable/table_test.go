package linktable

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringValueKey(s string) (string, bool) { k, _ := foldKey(s); return k, true }
func stringMakeValue(s string) string         { return s }

func newStringTable(v Variant, policy UniquePolicy) *Table[string] {
	return New[string](v, policy, stringValueKey, stringMakeValue)
}

func ids(xs ...DestID) []DestID {
	out := append([]DestID(nil), xs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sids(xs ...SourceID) []SourceID {
	out := append([]SourceID(nil), xs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedDest(xs []DestID) []DestID {
	out := append([]DestID(nil), xs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedSource(xs []SourceID) []SourceID {
	out := append([]SourceID(nil), xs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// tags: plain many-to-many, unordered, untyped.
func tagsTable() *Table[string] {
	return newStringTable(Variant{Cardinality: ManyToMany}, PolicyCaseInsensitiveValue)
}

// authors: priority-ordered many-to-many.
func authorsTable() *Table[string] {
	return newStringTable(Variant{Cardinality: ManyToMany, Priority: true}, PolicyCaseInsensitiveValue)
}

// creators: typed many-to-many (author/editor); destTyped is true here.
func creatorsTable() *Table[string] {
	return newStringTable(Variant{Cardinality: ManyToMany, Typed: true}, PolicyCaseInsensitiveValue)
}

// formats: one-to-many, priority, typed; destTyped is false (col_book_map
// stays a single optional source regardless of type).
func formatsTable() *Table[string] {
	return newStringTable(Variant{Cardinality: OneToMany, Priority: true, Typed: true}, PolicyNone)
}

func TestLoadReciprocity(t *testing.T) {
	tb := tagsTable()
	tb.Load([]Row{
		{Source: 1, Dest: 10},
		{Source: 1, Dest: 11},
		{Source: 2, Dest: 10},
	}, map[DestID]string{10: "scifi", 11: "noir"})

	assert.Equal(t, ids(10, 11), sortedDest(tb.IDsForBook(1)))
	assert.Equal(t, ids(10), sortedDest(tb.IDsForBook(2)))
	assert.Equal(t, sids(1, 2), sortedSource(tb.BooksFor(10)))
	assert.Equal(t, sids(1), sortedSource(tb.BooksFor(11)))
}

func TestPriorityPromotion(t *testing.T) {
	sl := newListSlot()
	sl.add(1)
	sl.add(2)
	sl.add(3)
	require.Equal(t, []int64{3, 2, 1}, sl.ids())
	sl.add(1) // promote 1 back to the front
	require.Equal(t, []int64{1, 3, 2}, sl.ids())
}

func TestUpdateFoldsScalarIntoExistingSet(t *testing.T) {
	tb := tagsTable()
	tb.Load([]Row{{Source: 1, Dest: 10}}, map[DestID]string{10: "scifi", 11: "noir"})

	newValues := map[DestID]string{}
	diff, err := tb.Update(map[SourceID]rawValue{1: DestID(11)}, newValues, nil, false)
	require.NoError(t, err)
	assert.Equal(t, ids(10, 11), sortedDest(diff.Updated[1]))
	assert.Equal(t, ids(10, 11), sortedDest(tb.IDsForBook(1)))
}

func TestUpdateStringAllocatesNewDestination(t *testing.T) {
	tb := tagsTable()
	tb.Load(nil, nil)

	var nextID DestID = 100
	alloc := func(string) DestID { id := nextID; nextID++; return id }
	newValues := map[DestID]string{}

	_, err := tb.Update(map[SourceID]rawValue{1: "Historical"}, newValues, alloc, false)
	require.NoError(t, err)
	assert.Equal(t, []DestID{100}, tb.IDsForBook(1))
	v, ok := tb.Value(100)
	require.True(t, ok)
	assert.Equal(t, "Historical", v)

	// A case-insensitive duplicate must resolve to the same id, not
	// allocate a second one.
	_, err = tb.Update(map[SourceID]rawValue{2: "historical"}, newValues, alloc, false)
	require.NoError(t, err)
	assert.Equal(t, []DestID{100}, tb.IDsForBook(2))
}

func TestTypeExclusivity(t *testing.T) {
	tb := creatorsTable()
	tb.Load(nil, map[DestID]string{1: "Jane Doe"})

	newValues := map[DestID]string{}
	_, err := tb.Update(map[SourceID]rawValue{
		10: map[string]rawValue{"author": []DestID{1}},
	}, newValues, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []DestID{1}, tb.BookData(10, "author"))
	assert.Nil(t, tb.BookData(10, "editor"))

	// Moving id 1 to "editor" for the same source must drop it from
	// "author" first, so a destination is linked to a source under at
	// most one type.
	_, err = tb.Update(map[SourceID]rawValue{
		10: map[string]rawValue{"editor": []DestID{1}},
	}, newValues, nil, false)
	require.NoError(t, err)
	assert.Nil(t, tb.BookData(10, "author"))
	assert.Equal(t, []DestID{1}, tb.BookData(10, "editor"))
	assert.Equal(t, sids(10), sortedSource(tb.BooksForType(1, "editor")))
	assert.Empty(t, tb.BooksForType(1, "author"))
}

func TestFormatsDestStaysUntyped(t *testing.T) {
	tb := formatsTable()
	tb.Load([]Row{{Source: 1, Dest: 50, Type: "epub"}}, map[DestID]string{50: "book.epub"})

	assert.False(t, tb.destTyped)
	assert.Equal(t, sids(1), sortedSource(tb.BooksFor(50)))
	assert.Equal(t, sids(1), sortedSource(tb.BooksForType(50, "epub")))
}

func TestRemoveBooksReportsCleanCandidates(t *testing.T) {
	tb := tagsTable()
	tb.Load([]Row{{Source: 1, Dest: 10}, {Source: 2, Dest: 10}}, map[DestID]string{10: "scifi"})

	clean := tb.RemoveBooks([]SourceID{1})
	assert.Empty(t, clean, "dest still referenced by book 2")

	clean = tb.RemoveBooks([]SourceID{2})
	assert.Contains(t, clean, DestID(10))
	assert.Empty(t, tb.BooksFor(10))
}

func TestRemoveItemsRestrictedToBooks(t *testing.T) {
	tb := tagsTable()
	tb.Load([]Row{{Source: 1, Dest: 10}, {Source: 2, Dest: 10}}, map[DestID]string{10: "scifi"})

	affected := tb.RemoveItems([]DestID{10}, []SourceID{1})
	assert.Equal(t, map[SourceID]struct{}{1: {}}, affected)
	assert.Empty(t, tb.IDsForBook(1))
	assert.Equal(t, []DestID{10}, tb.IDsForBook(2))
	_, stillKnown := tb.Value(10)
	assert.True(t, stillKnown)

	tb.RemoveItems([]DestID{10}, nil)
	_, stillKnown = tb.Value(10)
	assert.False(t, stillKnown)
}

func TestRenameItemMergesOnCollision(t *testing.T) {
	tb := authorsTable()
	tb.Load([]Row{{Source: 1, Dest: 10}, {Source: 2, Dest: 11}},
		map[DestID]string{10: "Jane Doe", 11: "J. Doe"})

	affected, resultID, merged, err := tb.RenameItem(11, "Jane Doe")
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, DestID(10), resultID)
	assert.Equal(t, sids(2), sortedSource(affected))
	assert.Equal(t, ids(10), sortedDest(tb.IDsForBook(2)))
	_, ok := tb.Value(11)
	assert.False(t, ok)
}

func TestFixCaseDuplicatesMergesIntoLowestID(t *testing.T) {
	tb := tagsTable()
	tb.Load([]Row{{Source: 1, Dest: 20}, {Source: 2, Dest: 21}},
		map[DestID]string{20: "SciFi", 21: "scifi"})

	merged := tb.FixCaseDuplicates()
	assert.Equal(t, map[DestID]DestID{21: 20}, merged)
	assert.Equal(t, []DestID{20}, tb.IDsForBook(2))
	_, ok := tb.Value(21)
	assert.False(t, ok)
}
