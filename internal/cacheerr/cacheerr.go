// Package cacheerr defines the error taxonomy shared by the relational
// cache packages (linktable, field, cache, view). Errors are created with
// the New* constructors below and classified with errors.Is/errors.As,
// matching the teacher's preference for wrapped stdlib errors over panics.
package cacheerr

import "fmt"

// Kind identifies one of the named error categories from the cache's error
// surface.
type Kind int

const (
	// KindNotInCache means a lookup referenced a source or destination id
	// unknown to the cache. Recoverable: callers typically substitute a
	// default value.
	KindNotInCache Kind = iota

	// KindInvalidCacheUpdate means an update failed precheck: a malformed
	// shape, an unknown id, a duplicate in a unique variant, or a
	// disallowed type.
	KindInvalidCacheUpdate

	// KindInvalidUpdate means an update failed preflight normalisation,
	// e.g. folding a scalar into a nonexistent current container.
	KindInvalidUpdate

	// KindInvalidLinkTable means a field was asked to link two entity
	// kinds with no link table between them.
	KindInvalidLinkTable

	// KindDatabaseIntegrity means the store reported a constraint
	// violation on commit; the cache is stale and must be re-read.
	KindDatabaseIntegrity

	// KindInputIntegrity means the caller passed a value of the wrong
	// kind, e.g. a set to a priority variant.
	KindInputIntegrity

	// KindReadOnly means an update was attempted against a field that
	// never accepts writes (composite or on-device fields).
	KindReadOnly
)

func (k Kind) String() string {
	switch k {
	case KindNotInCache:
		return "NotInCache"
	case KindInvalidCacheUpdate:
		return "InvalidCacheUpdate"
	case KindInvalidUpdate:
		return "InvalidUpdate"
	case KindInvalidLinkTable:
		return "InvalidLinkTable"
	case KindDatabaseIntegrity:
		return "DatabaseIntegrityError"
	case KindInputIntegrity:
		return "InputIntegrityError"
	case KindReadOnly:
		return "ReadOnly"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by cache operations. Wrap it
// with fmt.Errorf("...: %w", err) at call sites that add context; Is
// compares on Kind so a wrapped Error still classifies correctly.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, cacheerr.ErrNotInCache) works regardless of wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// NotInCache builds a KindNotInCache error for the given id.
func NotInCache(id any) *Error {
	return newf(KindNotInCache, "id %v not present in cache", id)
}

// InvalidCacheUpdate builds a KindInvalidCacheUpdate error.
func InvalidCacheUpdate(format string, args ...any) *Error {
	return newf(KindInvalidCacheUpdate, format, args...)
}

// InvalidUpdate builds a KindInvalidUpdate error.
func InvalidUpdate(format string, args ...any) *Error {
	return newf(KindInvalidUpdate, format, args...)
}

// InvalidLinkTable builds a KindInvalidLinkTable error.
func InvalidLinkTable(format string, args ...any) *Error {
	return newf(KindInvalidLinkTable, format, args...)
}

// DatabaseIntegrity wraps a store-reported constraint violation.
func DatabaseIntegrity(cause error) *Error {
	return &Error{Kind: KindDatabaseIntegrity, Msg: "store commit failed, cache must be re-read", Err: cause}
}

// InputIntegrity builds a KindInputIntegrity error.
func InputIntegrity(format string, args ...any) *Error {
	return newf(KindInputIntegrity, format, args...)
}

// ReadOnly builds a KindReadOnly error naming the field.
func ReadOnly(field string) *Error {
	return newf(KindReadOnly, "field %q cannot be directly updated", field)
}

// Sentinel values usable with errors.Is for the zero-argument cases.
var (
	ErrNotInCache         = &Error{Kind: KindNotInCache}
	ErrInvalidCacheUpdate = &Error{Kind: KindInvalidCacheUpdate}
	ErrInvalidUpdate      = &Error{Kind: KindInvalidUpdate}
	ErrInvalidLinkTable   = &Error{Kind: KindInvalidLinkTable}
	ErrDatabaseIntegrity  = &Error{Kind: KindDatabaseIntegrity}
	ErrInputIntegrity     = &Error{Kind: KindInputIntegrity}
	ErrReadOnly           = &Error{Kind: KindReadOnly}
	ErrComposite          = ReadOnly("composite")
)
