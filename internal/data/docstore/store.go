package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Update when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidPath rejects malformed document or collection paths.
	ErrInvalidPath = errors.New("invalid path")
	// ErrConflict signals a lost compare-and-set race on the document version.
	ErrConflict = errors.New("document version conflict")
	// ErrNotPublished means the write committed but its change event was not
	// delivered to the notifier.
	ErrNotPublished = errors.New("change committed but not published")
)

// Reader is the read capability handed to recompute handlers.
type Reader interface {
	// Get returns nil, nil when the document does not exist.
	Get(ctx context.Context, path Path) (*Snapshot, error)
	Query(ctx context.Context, q Query) ([]*Snapshot, error)
}

type Writer interface {
	// Set creates or fully replaces a document.
	Set(ctx context.Context, path Path, data Fields) error
	// Update merges fields into an existing document.
	Update(ctx context.Context, path Path, data Fields) error
	// Delete removes a document; deleting a missing document is a no-op.
	Delete(ctx context.Context, path Path) error
}

type Store interface {
	Reader
	Writer
}
