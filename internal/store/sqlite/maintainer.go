package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banux/nxt-opds/internal/linktable"
)

// maintainer implements store.Maintainer: the deferred cleanup run after
// RemoveBooks/RemoveItems/RenameItem report clean candidates or a merge.
type maintainer struct{ db *sql.DB }

// Clean deletes destIDs from relation's value table. Rows that no longer
// exist (e.g. a prior clean already removed them) are silently skipped —
// DELETE is a no-op on a missing row, so no existence check is needed.
func (m maintainer) Clean(ctx context.Context, relationName string, destIDs []linktable.DestID) error {
	r, err := relationByName(relationName)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, r.valTable))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, d := range destIDs {
		if _, err := stmt.ExecContext(ctx, int64(d)); err != nil {
			return fmt.Errorf("clean %s id %v: %w", r.valTable, d, err)
		}
	}
	return tx.Commit()
}

// Merge repoints every link row of relation referencing from to into
// (first dropping from's rows for books that already link to into, so
// no duplicate row results), then deletes from's value row.
func (m maintainer) Merge(ctx context.Context, relationName string, from, into linktable.DestID) error {
	r, err := relationByName(relationName)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	// Drop rows that would otherwise collide under (book_id, item_id=into)
	// once item_id=from is repointed, then repoint the remainder. This
	// does not distinguish by link_type for typed relations (book_creators):
	// a book linked to both from and into under different types collapses
	// to a single row on merge, losing the less-specific type. Acceptable
	// here since Cache.RenameItem already merged the in-memory type
	// assignment before calling Merge; revisit if that assumption changes.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE item_id = ? AND book_id IN (
		    SELECT book_id FROM %s WHERE item_id = ?)`,
		r.linkTable, r.linkTable), int64(from), int64(into)); err != nil {
		return fmt.Errorf("dedup %s before merge: %w", r.linkTable, err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET item_id = ? WHERE item_id = ?`, r.linkTable), int64(into), int64(from)); err != nil {
		return fmt.Errorf("repoint %s rows: %w", r.linkTable, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, r.valTable), int64(from)); err != nil {
		return fmt.Errorf("delete merged %s row: %w", r.valTable, err)
	}
	return tx.Commit()
}
