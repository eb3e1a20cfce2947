package ports

import (
	"context"
	"io"
)

// StorageBackend is an async-flavored storage endpoint: source, local-temp,
// or one destination. Every method either completes synchronously (ACCEPT)
// or fails outright — the asynchrony described in spec.md §3/§5 is modeled
// by these methods being safe to call from many goroutines and by callers
// treating a returned error as the only failure signal, never a panic or a
// blocked-forever call; the caller's own goroutine is the suspension point.
type StorageBackend interface {
	// Open returns a handle to the chunk/object named by key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// ReadChunk reads up to len(buf) bytes from the object at key starting
	// at off. Returns fewer bytes than len(buf) only at end-of-object.
	ReadChunk(ctx context.Context, key string, off int64, buf []byte) (int, error)
	// Write creates or overwrites the object at key with the contents of r.
	Write(ctx context.Context, key string, r io.Reader) error
	// Mkdir ensures the directory (or key-prefix, for object stores) exists.
	Mkdir(ctx context.Context, dir string) error
	// Scandir lists immediate entries under dir.
	Scandir(ctx context.Context, dir string) ([]string, error)
	// Unlink removes the object at key.
	Unlink(ctx context.Context, key string) error
	// Alias identifies which configured storage endpoint this backend is.
	Alias() string
}
