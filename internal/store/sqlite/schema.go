// Package sqlite implements store.Store backed by modernc.org/sqlite,
// generalising the teacher's flat internal/backend/sqlite schema (one
// books table plus book_authors/book_tags) into one title table plus one
// link table + one value table per auxiliary relation, following the same
// migration and transaction conventions.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// relation describes one auxiliary relation's physical shape: its link
// table and value table names/columns. A single relation struct drives
// every generic query in macros.go/maintainer.go/sqlite.go, rather than
// hand-writing SQL per relation as the teacher's two-relation schema does
// — the multiplication from 2 relations to 14 makes per-relation
// hand-written SQL impractical to keep correct.
type relation struct {
	name string

	linkTable string
	valTable  string

	valueIsInt bool // ratings store an INTEGER value, everything else TEXT

	typed    bool // link table carries a link_type column
	priority bool // link table carries a rank column
}

// relations is the closed set of auxiliary relations the cache knows
// about, named identically to internal/cache's field registry so a
// relation name is usable as a map key end to end.
var relations = []relation{
	{name: "authors", linkTable: "book_authors", valTable: "val_authors", priority: true},
	{name: "tags", linkTable: "book_tags", valTable: "val_tags"},
	{name: "subjects", linkTable: "book_subjects", valTable: "val_subjects"},
	{name: "genres", linkTable: "book_genres", valTable: "val_genres"},
	{name: "series", linkTable: "book_series", valTable: "val_series"},
	{name: "languages", linkTable: "book_languages", valTable: "val_languages"},
	{name: "identifiers", linkTable: "book_identifiers", valTable: "val_identifiers"},
	{name: "publishers", linkTable: "book_publishers", valTable: "val_publishers"},
	{name: "creators", linkTable: "book_creators", valTable: "val_creators", typed: true},
	{name: "formats", linkTable: "book_formats", valTable: "val_formats", typed: true, priority: true},
	{name: "comments", linkTable: "book_comments", valTable: "val_comments"},
	{name: "notes", linkTable: "book_notes", valTable: "val_notes"},
	{name: "synopses", linkTable: "book_synopses", valTable: "val_synopses"},
	{name: "ratings", linkTable: "book_ratings", valTable: "val_ratings", valueIsInt: true},
}

func relationByName(name string) (relation, error) {
	for _, r := range relations {
		if r.name == name {
			return r, nil
		}
	}
	return relation{}, fmt.Errorf("sqlite: unknown relation %q", name)
}

const currentSchemaVersion = 2

type schemaMigration struct {
	version int
	apply   func(db *sql.DB) error
}

var schemaMigrations = []schemaMigration{
	{version: 1, apply: migration1},
	{version: 2, apply: migration2},
}

// migration1 creates the title table, the series-attribute table, and one
// link/value table pair per relation. Every CREATE is IF NOT EXISTS,
// matching the teacher's convention of a safely re-runnable migration.
func migration1(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS titles (
		    id          INTEGER PRIMARY KEY AUTOINCREMENT,
		    external_id TEXT NOT NULL UNIQUE,
		    title       TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS series_attrs (
		    book_id      INTEGER NOT NULL REFERENCES titles(id) ON DELETE CASCADE,
		    series_index REAL,
		    series_total INTEGER,
		    PRIMARY KEY (book_id)
		)`,
	}

	for _, r := range relations {
		valType := "TEXT"
		if r.valueIsInt {
			valType = "INTEGER"
		}
		stmts = append(stmts, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (
			    id    INTEGER PRIMARY KEY AUTOINCREMENT,
			    value %s NOT NULL
			)`, r.valTable, valType))

		cols := "book_id INTEGER NOT NULL REFERENCES titles(id) ON DELETE CASCADE,\n\t\t\t    item_id INTEGER NOT NULL"
		if r.typed {
			cols += ",\n\t\t\t    link_type TEXT NOT NULL DEFAULT ''"
		}
		if r.priority {
			cols += ",\n\t\t\t    rank INTEGER NOT NULL DEFAULT 0"
		}
		stmts = append(stmts, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (
			    %s
			)`, r.linkTable, cols))
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_book ON %s(book_id)`, r.linkTable, r.linkTable))
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_item ON %s(item_id)`, r.linkTable, r.linkTable))
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// migration2 adds book_meta, the one-row-per-title table holding the
// scalar attributes internal/backend/relcache's filesystem scan produces
// that have no home in the relation set (publish/update/added
// timestamps, cover paths, read flag, and the source file's
// path/mime/size) — the parts of the teacher's flat books table that
// migration1's relation generalisation intentionally left out, since
// they aren't link-table-shaped data.
func migration2(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS book_meta (
    book_id       INTEGER PRIMARY KEY REFERENCES titles(id) ON DELETE CASCADE,
    published_at  INTEGER,
    updated_at    INTEGER NOT NULL DEFAULT 0,
    added_at      INTEGER NOT NULL DEFAULT 0,
    cover_url     TEXT NOT NULL DEFAULT '',
    thumbnail_url TEXT NOT NULL DEFAULT '',
    is_read       INTEGER NOT NULL DEFAULT 0,
    file_path     TEXT NOT NULL DEFAULT '',
    file_mime     TEXT NOT NULL DEFAULT '',
    file_size     INTEGER NOT NULL DEFAULT 0
)`)
	return err
}

func migrateSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range schemaMigrations {
		if m.version <= version {
			continue
		}
		if err := m.apply(db); err != nil {
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, m.version)); err != nil {
			return fmt.Errorf("set schema version to %d: %w", m.version, err)
		}
	}
	return nil
}
