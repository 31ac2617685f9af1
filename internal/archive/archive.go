// Package archive stores raw sitemap documents so crawls can be audited and
// replayed without refetching.
package archive

import "context"

// Archiver persists a fetched document and returns a stable URI for it.
type Archiver interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}
