package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banux/nxt-opds/internal/linktable"
	"github.com/banux/nxt-opds/internal/store"
)

func (b *Backend) BookMeta(ctx context.Context, id linktable.SourceID) (store.BookMeta, bool, error) {
	var (
		meta               store.BookMeta
		publishedAt        sql.NullInt64
		updatedAt, addedAt int64
		isRead             int
	)
	row := b.db.QueryRowContext(ctx, `
SELECT published_at, updated_at, added_at, cover_url, thumbnail_url, is_read, file_path, file_mime, file_size
FROM book_meta WHERE book_id = ?`, int64(id))
	err := row.Scan(&publishedAt, &updatedAt, &addedAt, &meta.CoverURL, &meta.ThumbnailURL, &isRead,
		&meta.FilePath, &meta.FileMIME, &meta.FileSize)
	if errors.Is(err, sql.ErrNoRows) {
		return store.BookMeta{}, false, nil
	}
	if err != nil {
		return store.BookMeta{}, false, fmt.Errorf("read book_meta %v: %w", id, err)
	}
	if publishedAt.Valid {
		meta.PublishedAt = time.Unix(publishedAt.Int64, 0).UTC()
	}
	meta.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	meta.AddedAt = time.Unix(addedAt, 0).UTC()
	meta.IsRead = isRead != 0
	return meta, true, nil
}

func (b *Backend) SetBookMeta(ctx context.Context, id linktable.SourceID, meta store.BookMeta) error {
	var publishedAt any
	if !meta.PublishedAt.IsZero() {
		publishedAt = meta.PublishedAt.Unix()
	}
	isRead := 0
	if meta.IsRead {
		isRead = 1
	}
	_, err := b.db.ExecContext(ctx, `
INSERT INTO book_meta (book_id, published_at, updated_at, added_at, cover_url, thumbnail_url, is_read, file_path, file_mime, file_size)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(book_id) DO UPDATE SET
    published_at = excluded.published_at,
    updated_at = excluded.updated_at,
    added_at = excluded.added_at,
    cover_url = excluded.cover_url,
    thumbnail_url = excluded.thumbnail_url,
    is_read = excluded.is_read,
    file_path = excluded.file_path,
    file_mime = excluded.file_mime,
    file_size = excluded.file_size`,
		int64(id), publishedAt, meta.UpdatedAt.Unix(), meta.AddedAt.Unix(),
		meta.CoverURL, meta.ThumbnailURL, isRead, meta.FilePath, meta.FileMIME, meta.FileSize)
	if err != nil {
		return fmt.Errorf("write book_meta %v: %w", id, err)
	}
	return nil
}
