// Package blobstore persists uploaded card images durably, outside the
// process-local temp directory the OCR pipeline reads from.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Store writes, removes and locates card images by key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Remove deletes the object. Removing a key that does not exist is not an error.
	Remove(ctx context.Context, key string) error
	// URL returns a locator for the object, empty when the store has none.
	URL(key string) string
}

// CardKey builds the storage key for a card image:
// cards/<userID>/<unixMillis>-<base><ext>.
func CardKey(userID, fileName string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	base := sanitizeBase(strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName)))
	if base == "" {
		base = "card"
	}
	return fmt.Sprintf("cards/%s/%d-%s%s", sanitizeBase(userID), now.UnixMilli(), base, ext)
}

// sanitizeBase keeps key segments free of separators and shell-unfriendly characters.
func sanitizeBase(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), ".")
}
