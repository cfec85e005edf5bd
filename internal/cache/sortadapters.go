package cache

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/banux/nxt-opds/internal/field"
)

// foldKeyLocal is the cache-package-local case fold used for identityKey,
// this package's valueKey callback. linktable's RenameItem and
// FixCaseDuplicates compare these keys directly; Preflight's string
// matching compares them against internal/linktable's own fold of the
// input string.
func foldKeyLocal(s string) string { return strings.ToLower(s) }

func stringSortKey(s string) field.SortKey { return field.NewStringKey(s) }

func intSortKey(v int) field.SortKey { return field.IntKey(v) }

// languageSortKey sorts languages by their display name rather than their
// BCP 47 tag, matching the original cache's languages field
// (sort_key(calibre_langcode_to_name(x))).
func languageSortKey(tag string) field.SortKey {
	return field.NewStringKey(languageDisplayName(tag))
}

// languageDisplayName maps a BCP 47 tag to its English display name,
// using golang.org/x/text/language/display as the Go analogue of the
// original's calibre_langcode_to_name lookup table.
func languageDisplayName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	name := display.English.Languages().Name(t)
	if name == "" {
		return tag
	}
	return name
}

// ratingStars renders an integer rating (calibre's 0-10 half-star scale)
// as a star string, matching the original's "★" * int(x/2).
func ratingStars(v int) string {
	return strings.Repeat("★", v/2)
}
