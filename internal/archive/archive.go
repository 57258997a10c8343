// Package archive writes rendered product pages to a blob store, named by
// cycle, product and content digest.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

const contentType = "text/html; charset=utf-8"

// Archiver implements tracker.Archiver.
type Archiver struct {
	store  tracker.BlobStore
	prefix string
}

var _ tracker.Archiver = (*Archiver)(nil)

// New returns an Archiver writing under prefix.
func New(store tracker.BlobStore, prefix string) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/")}, nil
}

// Save stores page.Content and returns the blob URI.
func (a *Archiver) Save(ctx context.Context, cycleID string, productID int64, page tracker.Page) (string, error) {
	if page.Content == "" {
		return "", fmt.Errorf("page for product %d has no content", productID)
	}
	p := a.Path(cycleID, productID, Digest(page.Content))
	uri, err := a.store.PutObject(ctx, p, contentType, strings.NewReader(page.Content))
	if err != nil {
		return "", fmt.Errorf("archive product %d: %w", productID, err)
	}
	return uri, nil
}

// Path builds <prefix>/<cycle>/<product>-<digest>.html.
func (a *Archiver) Path(cycleID string, productID int64, digest string) string {
	name := fmt.Sprintf("%d-%s.html", productID, digest)
	if a.prefix == "" {
		return path.Join(cycleID, name)
	}
	return path.Join(a.prefix, cycleID, name)
}

// Digest returns the hex SHA-256 of content.
func Digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
