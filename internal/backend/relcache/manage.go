package relcache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/banux/nxt-opds/internal/catalog"
	"github.com/banux/nxt-opds/internal/epub"
	"github.com/banux/nxt-opds/internal/linktable"
)

// DeleteBook removes a book from the relational cache and deletes its file
// and cover image from disk, implementing catalog.Deleter.
func (b *Backend) DeleteBook(id string) error {
	ctx := context.Background()

	s, ok := b.cache.TitleID(id)
	if !ok {
		return fmt.Errorf("book %q not found", id)
	}
	meta, _, err := b.store.BookMeta(ctx, s)
	if err != nil {
		return fmt.Errorf("read book meta: %w", err)
	}

	if err := b.cache.RemoveBooks(ctx, []linktable.SourceID{s}); err != nil {
		return fmt.Errorf("remove book: %w", err)
	}
	b.view.Refresh()

	if meta.FilePath != "" {
		_ = os.Remove(meta.FilePath)
	}
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		_ = os.Remove(filepath.Join(b.coversDir, id+ext))
	}
	return nil
}

// UpdateCover replaces id's cached cover image with src and records the new
// cover URL, implementing catalog.CoverUpdater.
func (b *Backend) UpdateCover(id string, src io.ReadCloser, ext string) error {
	defer src.Close()

	ctx := context.Background()
	s, ok := b.cache.TitleID(id)
	if !ok {
		return fmt.Errorf("book %q not found", id)
	}

	for _, oldExt := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		_ = os.Remove(filepath.Join(b.coversDir, id+oldExt))
	}

	destPath := filepath.Join(b.coversDir, id+ext)
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create cover file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		_ = os.Remove(destPath)
		return fmt.Errorf("write cover: %w", err)
	}
	out.Close()

	meta, _, err := b.store.BookMeta(ctx, s)
	if err != nil {
		return fmt.Errorf("read book meta: %w", err)
	}
	meta.CoverURL = "/covers/" + id
	meta.ThumbnailURL = "/covers/" + id
	meta.UpdatedAt = time.Now()
	if err := b.store.SetBookMeta(ctx, s, meta); err != nil {
		return fmt.Errorf("write book meta: %w", err)
	}
	return nil
}

// StoreBook saves src into the catalog root, indexes it through the cache's
// update pipeline, and returns the resulting Book, implementing
// catalog.Uploader.
func (b *Backend) StoreBook(filename string, src io.ReadCloser) (*catalog.Book, error) {
	defer src.Close()

	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".epub", ".pdf":
	default:
		return nil, fmt.Errorf("unsupported file type %q (only .epub and .pdf are accepted)", ext)
	}

	destPath := filepath.Join(b.root, filename)
	if _, err := os.Stat(destPath); err == nil {
		return nil, fmt.Errorf("file %q already exists in the catalog", filename)
	}

	tmp, err := os.CreateTemp(b.root, ".upload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return nil, fmt.Errorf("rename upload: %w", err)
	}

	var bk catalog.Book
	switch ext {
	case ".epub":
		bk, err = epub.ParseBook(destPath, b.coversDir)
		if err != nil {
			return nil, fmt.Errorf("parse epub %q: %w", filename, err)
		}
	case ".pdf":
		bk = epub.ParsePath(destPath)
	}

	ctx := context.Background()
	if err := b.insertBook(ctx, bk); err != nil {
		return nil, fmt.Errorf("index uploaded book: %w", err)
	}
	if err := b.cache.Read(ctx); err != nil {
		return nil, fmt.Errorf("reload cache: %w", err)
	}
	b.view.Refresh()
	return &bk, nil
}

// backupVacuumer is implemented by internal/store/sqlite.Backend; no other
// store.Store implementation shares SQLite's VACUUM INTO backup mechanism.
type backupVacuumer interface {
	VacuumInto(ctx context.Context, destPath string) error
}

// Backup writes a consistent snapshot of the relational cache database into
// destDir, named "catalog-YYYYMMDD-HHMMSS.db", then prunes destDir to the
// most recent keep files (keep <= 0 means unlimited). It implements
// catalog.Backupper.
func (b *Backend) Backup(destDir string, keep int) (string, error) {
	vac, ok := b.store.(backupVacuumer)
	if !ok {
		return "", fmt.Errorf("backup not supported by this store")
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir %q: %w", destDir, err)
	}

	name := "catalog-" + time.Now().Format("20060102-150405") + ".db"
	destPath := filepath.Join(destDir, name)
	if err := vac.VacuumInto(context.Background(), destPath); err != nil {
		return "", err
	}

	if keep > 0 {
		if err := pruneBackups(destDir, keep); err != nil {
			return destPath, fmt.Errorf("prune backups: %w", err)
		}
	}
	return destPath, nil
}

// pruneBackups keeps only the most recent keep files matching the
// "catalog-*.db" naming convention in dir, deleting older ones.
func pruneBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read backup dir: %w", err)
	}

	var backups []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasPrefix(n, "catalog-") && filepath.Ext(n) == ".db" {
			backups = append(backups, filepath.Join(dir, n))
		}
	}
	if len(backups) <= keep {
		return nil
	}
	sort.Strings(backups)
	for _, p := range backups[:len(backups)-keep] {
		_ = os.Remove(p)
	}
	return nil
}
