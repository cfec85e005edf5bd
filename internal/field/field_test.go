package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banux/nxt-opds/internal/cacheerr"
	"github.com/banux/nxt-opds/internal/linktable"
)

func foldKeyFor(s string) (string, bool) { return s, true }

func newTagsField() *Field[string] {
	table := linktable.New[string](
		linktable.Variant{Cardinality: linktable.ManyToMany},
		linktable.PolicyCaseInsensitiveValue,
		foldKeyFor,
		func(s string) string { return s },
	)
	table.Load([]linktable.Row{
		{Source: 1, Dest: 10},
		{Source: 1, Dest: 11},
		{Source: 2, Dest: 10},
	}, map[linktable.DestID]string{10: "scifi", 11: "noir"})

	return New(Metadata{Name: "tags", DataType: "text", IsMultiple: true}, table,
		func(s string) SortKey { return NewStringKey(s) },
		func(s string) string { return s },
		func(s string) string { return s },
	)
}

func TestFieldForBook(t *testing.T) {
	f := newTagsField()
	assert.ElementsMatch(t, []string{"scifi", "noir"}, f.ForBook(1))
	assert.Equal(t, []string{"scifi"}, f.ForBook(2))
	assert.Empty(t, f.ForBook(3))
}

func TestFieldSortKeysForBooksMultiValued(t *testing.T) {
	f := newTagsField()
	keys := f.SortKeysForBooks([]linktable.SourceID{1, 2})
	k1, ok := keys[1].(MultiKey)
	require.True(t, ok)
	assert.Len(t, k1, 2)
	k2, ok := keys[2].(MultiKey)
	require.True(t, ok)
	assert.Len(t, k2, 1)
}

func TestFieldGetCategoriesCountsReferences(t *testing.T) {
	f := newTagsField()
	cats := f.GetCategories()
	counts := map[linktable.DestID]int{}
	for _, c := range cats {
		counts[c.ID] = c.Count
	}
	assert.Equal(t, 2, counts[10]) // scifi referenced by books 1 and 2
	assert.Equal(t, 1, counts[11]) // noir referenced by book 1 only
}

func TestFieldIterSearchableValues(t *testing.T) {
	f := newTagsField()
	seen := map[linktable.SourceID][]string{}
	f.IterSearchableValues(func(s linktable.SourceID, text string) bool {
		seen[s] = append(seen[s], text)
		return true
	})
	assert.ElementsMatch(t, []string{"scifi", "noir"}, seen[1])
}

func TestFieldLinkAttrRoundTrip(t *testing.T) {
	f := newTagsField()
	f.SetLinkAttr(1, "series_index", 2.5)
	v, ok := f.LinkAttr(1, "series_index")
	require.True(t, ok)
	assert.Equal(t, 2.5, v)
	_, ok = f.LinkAttr(2, "series_index")
	assert.False(t, ok)
}

func TestCompositeFieldRendersFromDependencies(t *testing.T) {
	resolve := func(s linktable.SourceID, name string) string {
		if name == "title" {
			return "Dune"
		}
		return ""
	}
	cf, err := NewCompositeField("display_title", Metadata{Name: "display_title", DataType: "composite"},
		"{{.Field \"title\"}} (cached)", []string{"title"}, resolve)
	require.NoError(t, err)

	v, err := cf.ForBook(1)
	require.NoError(t, err)
	assert.Equal(t, "Dune (cached)", v)

	err = cf.UpdateDB(1, "x")
	assert.ErrorIs(t, err, cacheerr.ErrComposite)

	assert.True(t, cf.DependsOn("title"))
	assert.False(t, cf.DependsOn("tags"))
}

func TestOnDeviceFieldReadsPresenceCallback(t *testing.T) {
	f := NewOnDeviceField("ondevice", func(s linktable.SourceID) bool { return s == 1 })
	assert.True(t, f.ForBook(1))
	assert.False(t, f.ForBook(2))

	err := f.UpdateDB(1, true)
	assert.ErrorIs(t, err, cacheerr.ErrReadOnly)
}
