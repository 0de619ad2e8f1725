// Package storage abstracts the blob bucket holding uploaded images.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored object
var ErrNotFound = errors.New("blob not found")

// BlobStore stores uploaded media by key and serves it by public URL.
// Keys are namespaced per account ("accounts/<id>/...") so an account's
// media can be erased in one prefix pass.
type BlobStore interface {
	// Put stores data under key and returns a retrievable URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Delete removes the object stored under key.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
