package protocol

import "errors"

// Envelope errors.
var (
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
	ErrUnknownSyncType    = errors.New("protocol: unknown sync type")
	ErrTrailingBytes      = errors.New("protocol: trailing bytes after message")
)

// DecodeError reports a malformed or truncated message. A DecodeError is
// local to one message: the receiver drops that message and carries on.
type DecodeError struct {
	Op  string // What was being decoded
	Err error  // Underlying error
}

// Error returns the error message.
func (e *DecodeError) Error() string {
	return "protocol: decode " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(op string, err error) *DecodeError {
	return &DecodeError{Op: op, Err: err}
}

// NewDecodeError wraps err as a DecodeError. Payload decoders in other
// packages use it so that every wire failure shares one type.
func NewDecodeError(op string, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return newDecodeError(op, err)
}

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
