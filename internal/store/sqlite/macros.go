package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/banux/nxt-opds/internal/linktable"
)

// macros implements store.Macros, following the teacher's transaction
// pattern: tx.Begin() / defer tx.Rollback() / tx.Commit() on success.
type macros struct{ db *sql.DB }

func (m macros) BulkDeleteInTable(ctx context.Context, relationName string, sourceIDs []linktable.SourceID) error {
	r, err := relationByName(relationName)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE book_id = ?`, r.linkTable))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, s := range sourceIDs {
		if _, err := stmt.ExecContext(ctx, int64(s)); err != nil {
			return fmt.Errorf("delete %s rows for book %v: %w", r.linkTable, s, err)
		}
	}
	return tx.Commit()
}

func (m macros) BulkAddLinks(ctx context.Context, relationName string, rows []linktable.Row) error {
	r, err := relationByName(relationName)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	insertSQL, argsFor := insertStatementFor(r)
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, argsFor(row)...); err != nil {
			return fmt.Errorf("insert into %s: %w", r.linkTable, err)
		}
	}
	return tx.Commit()
}

func insertStatementFor(r relation) (string, func(linktable.Row) []any) {
	cols := []string{"book_id", "item_id"}
	if r.typed {
		cols = append(cols, "link_type")
	}
	if r.priority {
		cols = append(cols, "rank")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	sqlStr := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, r.linkTable, strings.Join(cols, ", "), placeholders)

	return sqlStr, func(row linktable.Row) []any {
		args := []any{int64(row.Source), int64(row.Dest)}
		if r.typed {
			args = append(args, row.Type)
		}
		if r.priority {
			args = append(args, row.Rank)
		}
		return args
	}
}

func (m macros) BulkUpdateLinkTable(ctx context.Context, relationName string, rows map[linktable.SourceID][]linktable.Row) error {
	r, err := relationByName(relationName)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	deleteStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE book_id = ?`, r.linkTable))
	if err != nil {
		return err
	}
	defer deleteStmt.Close()

	insertSQL, argsFor := insertStatementFor(r)
	insertStmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return err
	}
	defer insertStmt.Close()

	for s, srcRows := range rows {
		if _, err := deleteStmt.ExecContext(ctx, int64(s)); err != nil {
			return fmt.Errorf("delete %s rows for book %v: %w", r.linkTable, s, err)
		}
		for _, row := range srcRows {
			if _, err := insertStmt.ExecContext(ctx, argsFor(row)...); err != nil {
				return fmt.Errorf("insert into %s: %w", r.linkTable, err)
			}
		}
	}
	return tx.Commit()
}

func (m macros) BulkDeleteItemsInTableTwoMatchingCols(ctx context.Context, relationName string, destIDs []linktable.DestID) error {
	r, err := relationByName(relationName)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	deleteLinks, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE item_id = ?`, r.linkTable))
	if err != nil {
		return err
	}
	defer deleteLinks.Close()
	deleteValue, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, r.valTable))
	if err != nil {
		return err
	}
	defer deleteValue.Close()

	for _, d := range destIDs {
		if _, err := deleteLinks.ExecContext(ctx, int64(d)); err != nil {
			return fmt.Errorf("delete %s rows for item %v: %w", r.linkTable, d, err)
		}
		if _, err := deleteValue.ExecContext(ctx, int64(d)); err != nil {
			return fmt.Errorf("delete %s row %v: %w", r.valTable, d, err)
		}
	}
	return tx.Commit()
}

func (m macros) UnlinkItemsForBooks(ctx context.Context, relationName string, destIDs []linktable.DestID, bookIDs []linktable.SourceID) error {
	r, err := relationByName(relationName)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE item_id = ? AND book_id = ?`, r.linkTable))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, d := range destIDs {
		for _, s := range bookIDs {
			if _, err := stmt.ExecContext(ctx, int64(d), int64(s)); err != nil {
				return fmt.Errorf("unlink %s item %v from book %v: %w", r.linkTable, d, s, err)
			}
		}
	}
	return tx.Commit()
}

func (m macros) UpdateColumnInTable(ctx context.Context, relationName string, destID linktable.DestID, value string) error {
	r, err := relationByName(relationName)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET value = ? WHERE id = ?`, r.valTable), value, int64(destID))
	if err != nil {
		return fmt.Errorf("update %s: %w", r.valTable, err)
	}
	return nil
}
