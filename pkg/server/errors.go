package server

import "errors"

var (
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrSendQueueFull is returned when a connection cannot keep up. The
	// connection is closed when this happens.
	ErrSendQueueFull = errors.New("server: send queue full")

	// ErrUnauthorized is returned when a request carries no valid token.
	ErrUnauthorized = errors.New("server: unauthorized")
)
