package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when an assistant is not present in the collection.
	ErrNotFound = errors.New("assistant not found")
	// ErrInvalidMessage is returned when a request names a message that cannot
	// be used, such as an out-of-range index or a non-user turn.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrPathNotAllowed is returned when a file reference resolves outside the
	// directory the FileStore serves.
	ErrPathNotAllowed = errors.New("path not allowed")
	// ErrCorrupt is returned when stored assistant records cannot be decoded.
	// Writers must not rewrite a collection they could not read completely.
	ErrCorrupt = errors.New("assistant store is corrupt")
)

// AgentStore is the durable owner of the assistant collection.
// There is no partial-update primitive: every mutation round-trips the whole collection.
type AgentStore interface {
	// LoadAll returns the full collection in display order.
	LoadAll(ctx context.Context) ([]Assistant, error)

	// SaveAll replaces the full collection.
	SaveAll(ctx context.Context, assistants []Assistant) error
}

// Watcher is implemented by stores that announce changes.
type Watcher interface {
	// Subscribe returns a channel that emits the IDs of assistants touched by a SaveAll.
	Subscribe() <-chan int64
}

// FileStore holds attachments and generated images.
type FileStore interface {
	// ReadBase64 returns the file content base64 encoded. Paths outside the
	// served directory fail with ErrPathNotAllowed.
	ReadBase64(path string) (string, error)

	// SaveImage decodes data (base64) and stores it, returning the new path.
	SaveImage(data string) (string, error)

	// Delete removes the file, reporting whether something was removed.
	Delete(path string) (bool, error)
}
