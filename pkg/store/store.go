package store

import (
	"context"
	"errors"
	"time"
)

// Store persists document snapshots.
// Implementations must be safe for concurrent use.
type Store interface {
	// LoadSnapshot retrieves the last saved snapshot of a document.
	// Returns (nil, nil) if the document has never been saved.
	// Returns (nil, err) on backend errors.
	LoadSnapshot(ctx context.Context, documentID string) (*Snapshot, error)

	// SaveSnapshot overwrites the stored snapshot of a document.
	SaveSnapshot(ctx context.Context, documentID string, snap Snapshot) error

	// Close releases any resources held by the store.
	Close() error
}

// Snapshot is the persisted form of a document.
type Snapshot struct {
	// State is the full replicated state, loadable with Document.Hydrate.
	State []byte

	// Content is the materialized plain text at the time of the save.
	Content string

	// UpdatedAt is when the snapshot was taken.
	UpdatedAt time.Time

	// ContributorIDs lists the actors whose edits are included. Best effort.
	ContributorIDs []string
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.State != nil {
		out.State = append([]byte(nil), s.State...)
	}
	if s.ContributorIDs != nil {
		out.ContributorIDs = append([]string(nil), s.ContributorIDs...)
	}
	return out
}

// ErrStoreClosed is returned when operations are attempted on a closed store.
var ErrStoreClosed = errors.New("store: closed")

// ErrCorruptRecord is wrapped by the error returned when a stored record
// cannot be decoded.
var ErrCorruptRecord = errors.New("store: corrupt record")
