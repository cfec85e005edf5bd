// Package linktable implements the link-table family described in the
// cache specification: the cached pair of reciprocal indexes (book_col_map,
// col_book_map) plus the destination id->value map for one relation
// between a "source" entity (normally a title) and a "destination" entity
// (an auxiliary entity such as an author, tag, or series).
//
// Rather than eight unrelated types, every variant is a value of Variant
// handled by the single generic Table[V] type, as recommended by the
// design notes: the container shape (singleton / set / ordered list,
// optionally partitioned by link type) is the only thing that varies
// between variants, and it is chosen in one place (newSlot).
package linktable

// SourceID identifies an entity on the source side of a link table
// (conventionally a title/book id).
type SourceID int64

// DestID identifies an entity on the destination side of a link table
// (an auxiliary entity: author, tag, series, ...).
type DestID int64

// Cardinality is the base shape of a link table, ignoring priority and
// link-type partitioning.
type Cardinality uint8

const (
	// OneToOne: each source maps to at most one destination and vice versa.
	OneToOne Cardinality = iota
	// ManyToOne: each source maps to at most one destination; a
	// destination may be referenced by many sources.
	ManyToOne
	// OneToMany: each source may reference many destinations; each
	// destination is referenced by at most one source.
	OneToMany
	// ManyToMany: no cardinality restriction on either side.
	ManyToMany
)

func (c Cardinality) String() string {
	switch c {
	case OneToOne:
		return "one-to-one"
	case ManyToOne:
		return "many-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToMany:
		return "many-to-many"
	default:
		return "unknown"
	}
}

// Variant fully identifies one of the link-table shapes from the data
// model: a Cardinality plus whether destinations are priority-ordered
// per source and/or partitioned into named link types.
type Variant struct {
	Cardinality Cardinality
	Priority    bool
	Typed       bool
}

// srcSideIsSingle reports whether the "optional single id" container shape is
// used on the destination side of book_col_map (source -> dest).
func (v Variant) srcSideIsSingle() bool {
	return v.Cardinality == OneToOne || v.Cardinality == ManyToOne
}

// dstSideIsSingle reports whether col_book_map[d] holds at most one
// source id.
func (v Variant) dstSideIsSingle() bool {
	return v.Cardinality == OneToOne || v.Cardinality == OneToMany
}

// UniquePolicy governs how Preflight resolves string inputs against the
// id map, and whether the resulting per-source container must stay
// duplicate-free. It is the single policy the spec.md Open Question about
// unifying the val_unique branches asks for.
type UniquePolicy uint8

const (
	// PolicyNone: string inputs that do not match an existing value
	// become pending new entries; duplicates are not rejected beyond
	// normal set/list semantics.
	PolicyNone UniquePolicy = iota
	// PolicyCaseInsensitiveValue: string inputs are matched
	// case-insensitively against id_map values before precheck; the
	// variant must end up duplicate-free per source after matching.
	PolicyCaseInsensitiveValue
)
