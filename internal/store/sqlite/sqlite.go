package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banux/nxt-opds/internal/linktable"
	"github.com/banux/nxt-opds/internal/store"
)

// Backend is a SQLite-backed store.Store, the persistence collaborator
// internal/cache.Cache reads from and writes through.
type Backend struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies schema
// migrations, following the teacher's internal/backend/sqlite.New.
func New(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Backend{db: db}, nil
}

// Close releases database resources.
func (b *Backend) Close() error { return b.db.Close() }

// Read loads a full store.Snapshot: every title row, every relation's
// link rows and value map, and the series attribute table.
func (b *Backend) Read(ctx context.Context) (store.Snapshot, error) {
	snap := store.Snapshot{
		Rows:         make(map[string][]linktable.Row),
		Values:       make(map[string]map[linktable.DestID]string),
		RatingValues: make(map[linktable.DestID]int),
		SeriesAttrs:  make(map[linktable.SourceID]map[string]any),
	}

	titleRows, err := b.db.QueryContext(ctx, `SELECT id, external_id, title FROM titles`)
	if err != nil {
		return snap, fmt.Errorf("query titles: %w", err)
	}
	for titleRows.Next() {
		var t store.TitleRow
		var id int64
		if err := titleRows.Scan(&id, &t.ExternalID, &t.Title); err != nil {
			titleRows.Close()
			return snap, err
		}
		t.ID = linktable.SourceID(id)
		snap.Titles = append(snap.Titles, t)
	}
	titleRows.Close()
	if err := titleRows.Err(); err != nil {
		return snap, err
	}

	for _, r := range relations {
		if r.valueIsInt {
			values, err := b.readIntValues(ctx, r)
			if err != nil {
				return snap, err
			}
			snap.RatingValues = values
		} else {
			values, err := b.readStringValues(ctx, r)
			if err != nil {
				return snap, err
			}
			snap.Values[r.name] = values
		}

		rows, err := b.readLinkRows(ctx, r)
		if err != nil {
			return snap, err
		}
		snap.Rows[r.name] = rows
	}

	attrRows, err := b.db.QueryContext(ctx, `SELECT book_id, series_index, series_total FROM series_attrs`)
	if err != nil {
		return snap, fmt.Errorf("query series_attrs: %w", err)
	}
	defer attrRows.Close()
	for attrRows.Next() {
		var bookID int64
		var idx sql.NullFloat64
		var total sql.NullInt64
		if err := attrRows.Scan(&bookID, &idx, &total); err != nil {
			return snap, err
		}
		attrs := map[string]any{}
		if idx.Valid {
			attrs["series_index"] = idx.Float64
		}
		if total.Valid {
			attrs["series_total"] = total.Int64
		}
		snap.SeriesAttrs[linktable.SourceID(bookID)] = attrs
	}
	return snap, attrRows.Err()
}

func (b *Backend) readStringValues(ctx context.Context, r relation) (map[linktable.DestID]string, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, value FROM %s`, r.valTable))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.valTable, err)
	}
	defer rows.Close()
	out := make(map[linktable.DestID]string)
	for rows.Next() {
		var id int64
		var v string
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[linktable.DestID(id)] = v
	}
	return out, rows.Err()
}

func (b *Backend) readIntValues(ctx context.Context, r relation) (map[linktable.DestID]int, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, value FROM %s`, r.valTable))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.valTable, err)
	}
	defer rows.Close()
	out := make(map[linktable.DestID]int)
	for rows.Next() {
		var id int64
		var v int
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[linktable.DestID(id)] = v
	}
	return out, rows.Err()
}

func (b *Backend) readLinkRows(ctx context.Context, r relation) ([]linktable.Row, error) {
	cols := "book_id, item_id"
	if r.typed {
		cols += ", link_type"
	}
	if r.priority {
		cols += ", rank"
	}
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s`, cols, r.linkTable))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.linkTable, err)
	}
	defer rows.Close()

	var out []linktable.Row
	for rows.Next() {
		var row linktable.Row
		var book, item int64
		dests := []any{&book, &item}
		if r.typed {
			dests = append(dests, &row.Type)
		}
		if r.priority {
			dests = append(dests, &row.Rank)
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		row.Source, row.Dest = linktable.SourceID(book), linktable.DestID(item)
		out = append(out, row)
	}
	return out, rows.Err()
}

// AllocID inserts a new value row into relation's value table and returns
// its id, the store-backed half of linktable.Table.Preflight's allocID
// callback.
func (b *Backend) AllocID(ctx context.Context, relationName, value string) (linktable.DestID, error) {
	r, err := relationByName(relationName)
	if err != nil {
		return 0, err
	}
	res, err := b.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (value) VALUES (?)`, r.valTable), value)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", r.valTable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return linktable.DestID(id), nil
}

// AllocTitleID returns externalID's title row id, inserting one if it does
// not already exist.
func (b *Backend) AllocTitleID(ctx context.Context, externalID, title string) (linktable.SourceID, error) {
	var id int64
	err := b.db.QueryRowContext(ctx, `SELECT id FROM titles WHERE external_id = ?`, externalID).Scan(&id)
	if err == nil {
		return linktable.SourceID(id), nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("query titles: %w", err)
	}
	res, err := b.db.ExecContext(ctx, `INSERT INTO titles (external_id, title) VALUES (?, ?)`, externalID, title)
	if err != nil {
		return 0, fmt.Errorf("insert title %q: %w", externalID, err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return linktable.SourceID(newID), nil
}

// RenameTitle updates a title row's display title in place.
func (b *Backend) RenameTitle(ctx context.Context, id linktable.SourceID, title string) error {
	_, err := b.db.ExecContext(ctx, `UPDATE titles SET title = ? WHERE id = ?`, title, int64(id))
	if err != nil {
		return fmt.Errorf("rename title %v: %w", id, err)
	}
	return nil
}

// Macros returns the bulk-write operations, backed by this Backend's db.
func (b *Backend) Macros() store.Macros { return macros{db: b.db} }

// Maintainer returns the deferred-cleanup operations, backed by this
// Backend's db.
func (b *Backend) Maintainer() store.Maintainer { return maintainer{db: b.db} }
