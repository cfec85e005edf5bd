package sqlite

import (
	"context"
	"fmt"
)

// VacuumInto writes a defragmented, consistent copy of the database to
// destPath using SQLite's VACUUM INTO statement, safe to run while the
// database is in use. It is not part of the store.Store interface since no
// other store implementation shares SQLite's backup mechanism; callers that
// want a backup type-assert for it, following the teacher's
// internal/backend/sqlite.Backup.
func (b *Backend) VacuumInto(ctx context.Context, destPath string) error {
	if _, err := b.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("vacuum into %q: %w", destPath, err)
	}
	return nil
}
