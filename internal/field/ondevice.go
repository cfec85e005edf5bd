package field

import (
	"github.com/banux/nxt-opds/internal/cacheerr"
	"github.com/banux/nxt-opds/internal/linktable"
)

// DummyWriter backs every read-only field's Writer slot: its only job is
// to make "this field cannot be written" an explicit, typed error rather
// than a nil-pointer panic the first time something tries.
type DummyWriter struct{ FieldName string }

func (w DummyWriter) Write(linktable.SourceID, any) error {
	return cacheerr.ReadOnly(w.FieldName)
}

// OnDeviceField is a transient field with no backing link table: its
// value (whether a book is currently present on a connected device) comes
// from an injected presence callback, refreshed on every device sync
// rather than persisted in the store.
type OnDeviceField struct {
	name    string
	meta    Metadata
	present func(linktable.SourceID) bool
	writer  DummyWriter
}

// NewOnDeviceField wires present as the field's only source of truth.
// present may be nil before the first device sync; ForBook then reports
// false for every book.
func NewOnDeviceField(name string, present func(linktable.SourceID) bool) *OnDeviceField {
	return &OnDeviceField{
		name:    name,
		meta:    Metadata{Name: name, DataType: "bool"},
		present: present,
		writer:  DummyWriter{FieldName: name},
	}
}

func (f *OnDeviceField) Name() string       { return f.name }
func (f *OnDeviceField) Metadata() Metadata { return f.meta }

// ForBook reports whether s is currently present on the connected device.
func (f *OnDeviceField) ForBook(s linktable.SourceID) bool {
	if f.present == nil {
		return false
	}
	return f.present(s)
}

// SetPresenceCallback rebinds the presence source, called once per device
// sync cycle by the owner of the sync subsystem.
func (f *OnDeviceField) SetPresenceCallback(present func(linktable.SourceID) bool) {
	f.present = present
}

// UpdateDB always fails through the DummyWriter: on-device status is
// never written by the cache's own update pipeline.
func (f *OnDeviceField) UpdateDB(s linktable.SourceID, v any) error {
	return f.writer.Write(s, v)
}
