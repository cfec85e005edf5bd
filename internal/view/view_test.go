package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banux/nxt-opds/internal/field"
	"github.com/banux/nxt-opds/internal/linktable"
)

// fakeSource is a minimal in-memory view.Source used only by this
// package's tests.
type fakeSource struct {
	ids   []linktable.SourceID
	names map[linktable.SourceID]string // field "name"
	marks map[linktable.SourceID]string
}

func (f *fakeSource) AllSourceIDs() []linktable.SourceID {
	out := make([]linktable.SourceID, len(f.ids))
	copy(out, f.ids)
	return out
}

func (f *fakeSource) SortKeysForBooks(fieldName string, ids []linktable.SourceID) (map[linktable.SourceID]field.SortKey, error) {
	out := make(map[linktable.SourceID]field.SortKey, len(ids))
	switch fieldName {
	case "name":
		for _, id := range ids {
			if v, ok := f.names[id]; ok {
				out[id] = field.NewStringKey(v)
			}
		}
	case "marked":
		for _, id := range ids {
			if v, ok := f.marks[id]; ok {
				out[id] = field.NewStringKey(v)
			}
		}
	}
	return out, nil
}

func (f *fakeSource) Search(query string, candidates []linktable.SourceID) (map[linktable.SourceID]struct{}, error) {
	out := make(map[linktable.SourceID]struct{})
	for _, id := range candidates {
		if query == "name:dune" && f.names[id] == "dune" {
			out[id] = struct{}{}
		}
		if query == "" {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		ids: []linktable.SourceID{3, 1, 2},
		names: map[linktable.SourceID]string{
			1: "dune",
			2: "foundation",
			3: "dune", // same name as 1, to exercise stable tie-breaking
		},
	}
}

func TestRefreshOrdersByID(t *testing.T) {
	v := New(newFakeSource(), 5)
	assert.Equal(t, []linktable.SourceID{1, 2, 3}, v.IDs())
}

func TestMultisortOrdersByFieldThenPreservesTieOrder(t *testing.T) {
	v := New(newFakeSource(), 5)
	out, err := v.Multisort([]SortField{{Name: "name", Ascending: true}}, nil)
	require.NoError(t, err)
	// "dune" (ids 1, 3) sorts before "foundation" (id 2); among the two
	// dunes, the pre-sort ascending-id order (1 before 3) is preserved by
	// the stable sort.
	assert.Equal(t, []linktable.SourceID{1, 3, 2}, out)
	assert.Equal(t, []linktable.SourceID{1, 3, 2}, v.IDs())
}

func TestSearchNarrowsFilteredOrder(t *testing.T) {
	v := New(newFakeSource(), 5)
	require.NoError(t, v.Search("name:dune"))
	assert.ElementsMatch(t, []linktable.SourceID{1, 3}, v.IDs())
	assert.Equal(t, 2, v.Count())

	require.NoError(t, v.Search(""))
	assert.Equal(t, []linktable.SourceID{1, 2, 3}, v.IDs())
}

func TestBaseRestrictionAppliesOnRefresh(t *testing.T) {
	v := New(newFakeSource(), 5)
	v.SetBaseRestriction("name:dune")
	v.Refresh()
	assert.True(t, v.RestrictionApplied())
	assert.ElementsMatch(t, []linktable.SourceID{1, 3}, v.IDs())
	assert.Equal(t, 2, v.RestrictionBookCount())
}

func TestMultisortOnlyIDsDoesNotMutateView(t *testing.T) {
	v := New(newFakeSource(), 5)
	before := v.IDs()
	out, err := v.Multisort([]SortField{{Name: "name", Ascending: true}}, []linktable.SourceID{2, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, []linktable.SourceID{1, 3, 2}, out)
	assert.Equal(t, before, v.IDs())
}
