package field

import (
	"bytes"
	"text/template"

	"github.com/banux/nxt-opds/internal/cacheerr"
	"github.com/banux/nxt-opds/internal/linktable"
)

// CompositeField computes its value per book from a text/template over
// other fields' ForBook values, rather than being backed by its own link
// table. Its value is cached per book and recomputed only when Invalidate
// is called for that book (or InvalidateAll, for a change to a field every
// composite might depend on).
type CompositeField struct {
	name string
	meta Metadata
	tmpl *template.Template
	deps []string

	// resolve looks up the current joined display value of one dependency
	// field for a book; the cache wires this to the real field registry.
	resolve func(linktable.SourceID, string) string

	cache map[linktable.SourceID]string
}

// NewCompositeField parses tmplText once (text/template) and
// records deps, the field names {{.Field "name"}} template actions need
// resolve to answer.
func NewCompositeField(name string, meta Metadata, tmplText string, deps []string, resolve func(linktable.SourceID, string) string) (*CompositeField, error) {
	cf := &CompositeField{name: name, meta: meta, deps: deps, resolve: resolve, cache: map[linktable.SourceID]string{}}
	tmpl, err := template.New(name).Parse(tmplText)
	if err != nil {
		return nil, err
	}
	cf.tmpl = tmpl
	return cf, nil
}

func (cf *CompositeField) Name() string       { return cf.name }
func (cf *CompositeField) Metadata() Metadata { return cf.meta }

// compositeData is the template execution context: {{.Field "authors"}}
// resolves a dependency field's current value for the book being rendered.
type compositeData struct {
	book    linktable.SourceID
	resolve func(linktable.SourceID, string) string
}

func (d compositeData) Field(name string) string { return d.resolve(d.book, name) }

// ForBook returns the composite's rendered value for s, computing and
// caching it on first access.
func (cf *CompositeField) ForBook(s linktable.SourceID) (string, error) {
	if v, ok := cf.cache[s]; ok {
		return v, nil
	}
	var buf bytes.Buffer
	if err := cf.tmpl.Execute(&buf, compositeData{book: s, resolve: cf.resolve}); err != nil {
		return "", err
	}
	v := buf.String()
	cf.cache[s] = v
	return v, nil
}

// Invalidate drops the cached value for s, to be called whenever one of
// cf.deps changes for that book.
func (cf *CompositeField) Invalidate(s linktable.SourceID) { delete(cf.cache, s) }

// InvalidateAll drops every cached value, for a change that is cheaper to
// treat as global (a preference affecting every dependency's formatting).
func (cf *CompositeField) InvalidateAll() { cf.cache = map[linktable.SourceID]string{} }

// DependsOn reports whether fieldName is one of this composite's declared
// dependencies, used by the cache's invalidation fan-out to decide whether
// an update to fieldName should invalidate this composite.
func (cf *CompositeField) DependsOn(fieldName string) bool {
	for _, d := range cf.deps {
		if d == fieldName {
			return true
		}
	}
	return false
}

// UpdateDB always fails: composite fields are computed, never written.
func (cf *CompositeField) UpdateDB(linktable.SourceID, string) error {
	return cacheerr.ErrComposite
}
