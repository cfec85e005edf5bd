package sqlite

import (
	"context"
	"fmt"

	"github.com/banux/nxt-opds/internal/linktable"
)

// SetSeriesAttrs upserts one book's series_index/series_total row. A
// missing attribute is persisted as NULL, matching the nullable columns
// Read scans back into an absent map key.
func (b *Backend) SetSeriesAttrs(ctx context.Context, id linktable.SourceID, attrs map[string]any) error {
	var idx, total any
	if v, ok := attrs["series_index"]; ok {
		idx = v
	}
	if v, ok := attrs["series_total"]; ok {
		total = v
	}
	_, err := b.db.ExecContext(ctx, `
INSERT INTO series_attrs (book_id, series_index, series_total)
VALUES (?,?,?)
ON CONFLICT(book_id) DO UPDATE SET
    series_index = excluded.series_index,
    series_total = excluded.series_total`,
		int64(id), idx, total)
	if err != nil {
		return fmt.Errorf("write series_attrs %v: %w", id, err)
	}
	return nil
}
