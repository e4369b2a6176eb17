// Package storage defines the blob store used for cached trending lists.
//
// Backends register themselves with the factory from an init() function in
// their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// and cmd/server pulls them in with blank imports.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Stat when no object exists at path.
var ErrNotFound = errors.New("object not found")

// Storage is a flat key/value object store
type Storage interface {
	// Put writes data at path, replacing any existing object
	Put(ctx context.Context, path string, data []byte, opts PutOptions) (*ObjectInfo, error)

	// Get reads the whole object at path
	Get(ctx context.Context, path string) ([]byte, *ObjectInfo, error)

	// Delete removes the object at path. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Stat returns object metadata without reading the body
	Stat(ctx context.Context, path string) (*ObjectInfo, error)
}

// PutOptions carries optional object headers
type PutOptions struct {
	ContentType  string
	CacheControl string
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	// Path is the storage path of the object
	Path string

	// Size is the object size in bytes
	Size int64

	// Checksum is the hex SHA-256 of the contents, when the backend knows it
	Checksum string

	// LastModified is when the object was last written
	LastModified time.Time
}
