package relcache

import (
	"github.com/banux/nxt-opds/internal/epub"
)

// CoverPath returns the filesystem path to id's cached cover image,
// implementing catalog.CoverProvider.
func (b *Backend) CoverPath(id string) (string, error) {
	return epub.CoverPath(b.coversDir, id)
}
