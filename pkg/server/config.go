package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds configuration for the HTTP/WebSocket transport.
type Config struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: allows all origins.
	CheckOrigin func(r *http.Request) bool

	// Limits

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 1MB.
	MaxMessageSize int64

	// SendQueueSize is the number of outbound messages buffered per
	// connection. A connection whose queue is full is closed.
	// Default: 256.
	SendQueueSize int

	// Timeouts

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// PongTimeout is how long a connection may stay silent (no message, no
	// pong) before it is dropped.
	// Default: 60 seconds.
	PongTimeout time.Duration

	// HeartbeatInterval is the time between pings. Must be below PongTimeout.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Auth

	// JWTSecret enables HS256 bearer tokens. Empty means anonymous access.
	JWTSecret []byte

	// Metrics

	// Gatherer is served on /metrics.
	// Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Registerer receives the HTTP request metrics.
	// Default: prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       func(*http.Request) bool { return true },
		MaxMessageSize:    1 << 20,
		SendQueueSize:     256,
		WriteTimeout:      10 * time.Second,
		PongTimeout:       60 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		Gatherer:          prometheus.DefaultGatherer,
		Registerer:        prometheus.DefaultRegisterer,
	}
}

// withDefaults returns a copy of c with unset fields filled in.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Address == "" {
		out.Address = d.Address
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = d.ReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = d.WriteBufferSize
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = d.CheckOrigin
	}
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = d.MaxMessageSize
	}
	if out.SendQueueSize == 0 {
		out.SendQueueSize = d.SendQueueSize
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.PongTimeout == 0 {
		out.PongTimeout = d.PongTimeout
	}
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = d.HeartbeatInterval
	}
	if out.ReadHeaderTimeout == 0 {
		out.ReadHeaderTimeout = d.ReadHeaderTimeout
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = d.ShutdownTimeout
	}
	if out.Gatherer == nil {
		out.Gatherer = d.Gatherer
	}
	if out.Registerer == nil {
		out.Registerer = d.Registerer
	}
	return &out
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("server: max message size must not be negative")
	}
	if c.SendQueueSize < 0 {
		return fmt.Errorf("server: send queue size must not be negative")
	}
	if c.HeartbeatInterval > 0 && c.PongTimeout > 0 && c.HeartbeatInterval >= c.PongTimeout {
		return fmt.Errorf("server: heartbeat interval %s must be below pong timeout %s",
			c.HeartbeatInterval, c.PongTimeout)
	}
	return nil
}
