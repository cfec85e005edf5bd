package linktable

import "golang.org/x/text/cases"

// folder produces the key a raw input string is reduced to before
// PolicyCaseInsensitiveValue matching compares it with the table's
// valueKey of each stored value; RenameItem and FixCaseDuplicates compare
// valueKey results only. cases.Fold is used
// rather than strings.ToLower so that matching is locale-independent
// (e.g. Turkish dotless-i does not round-trip through ToLower).
var folder = cases.Fold()

// foldKey normalises s to a case-insensitive comparison key.
func foldKey(s string) (string, bool) {
	return folder.String(s), true
}

// foldKeyMust is foldKey without the ok return, for call sites that
// already know s is a plain string.
func foldKeyMust(s string) string {
	key, _ := foldKey(s)
	return key
}
