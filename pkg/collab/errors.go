package collab

import (
	"errors"
	"fmt"
)

// Sentinel errors for session and registry conditions.
var (
	// ErrSessionClosing is returned by Session.Join once the last connection
	// has left. The registry retries the join on a fresh session.
	ErrSessionClosing = errors.New("collab: session closing")

	// ErrManagerClosed is returned when joining after Shutdown.
	ErrManagerClosed = errors.New("collab: manager closed")

	// ErrAlreadyHydrated is returned by Document.Hydrate when the document
	// was already hydrated or has received updates.
	ErrAlreadyHydrated = errors.New("collab: document already hydrated")

	// ErrUnknownConnection is returned when a connection is not part of a session.
	ErrUnknownConnection = errors.New("collab: unknown connection")

	// ErrUnexpectedMessage is returned when a message of the wrong kind is
	// passed to a typed receive method.
	ErrUnexpectedMessage = errors.New("collab: unexpected message type")
)

// SessionError wraps an error with document context for debugging.
type SessionError struct {
	DocumentID string
	Op         string // Operation that failed
	Err        error  // Underlying error
}

// Error returns the error message with document context.
func (e *SessionError) Error() string {
	if e.DocumentID == "" {
		return fmt.Sprintf("collab: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("collab: document %s: %s: %v", e.DocumentID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(documentID, op string, err error) *SessionError {
	return &SessionError{
		DocumentID: documentID,
		Op:         op,
		Err:        err,
	}
}

// HydrationError reports that a document's stored snapshot could not be
// loaded or decoded.
type HydrationError struct {
	DocumentID string
	Err        error
}

// Error returns the error message.
func (e *HydrationError) Error() string {
	return fmt.Sprintf("collab: hydrate document %s: %v", e.DocumentID, e.Err)
}

// Unwrap returns the underlying error.
func (e *HydrationError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed snapshot save.
type PersistenceError struct {
	DocumentID string
	Err        error
}

// Error returns the error message.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("collab: persist document %s: %v", e.DocumentID, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}
