package collab

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vango-dev/docsync/pkg/protocol"
)

// ConnState is the state of a connection with respect to one document.
type ConnState int

const (
	// ConnConnecting means the join is waiting for the session.
	ConnConnecting ConnState = iota
	// ConnJoined means messages are accepted.
	ConnJoined
	// ConnLeft means the connection left or disconnected.
	ConnLeft
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnJoined:
		return "joined"
	case ConnLeft:
		return "left"
	default:
		return "unknown"
	}
}

// ManagerConfig configures a Manager. The embedded registry settings are
// passed through.
type ManagerConfig struct {
	RegistryConfig
}

// connEntry tracks one connection's documents. Guarded by Manager.mu.
type connEntry struct {
	conn Connection
	docs map[string]ConnState
}

// Manager drives connections through join, message and leave, and is the
// only entry point the transport needs. Apart from join refusal, errors
// never escape it: they are logged and counted.
type Manager struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *Metrics

	mu     sync.Mutex
	conns  map[string]*connEntry
	closed bool
}

// NewManager creates a manager with its own registry.
func NewManager(config ManagerConfig) *Manager {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Manager{
		registry: NewRegistry(config.RegistryConfig),
		logger:   config.Logger.With("component", "connection_manager"),
		metrics:  config.Metrics,
		conns:    make(map[string]*connEntry),
	}
}

// Registry returns the session registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Join attaches conn to documentID. The handshake is sent to conn before
// Join returns. Joining a document twice is a no-op.
func (m *Manager) Join(ctx context.Context, documentID string, conn Connection) error {
	connID := conn.ID()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	ce, ok := m.conns[connID]
	if !ok {
		ce = &connEntry{conn: conn, docs: make(map[string]ConnState)}
		m.conns[connID] = ce
	}
	if st, ok := ce.docs[documentID]; ok && st != ConnLeft {
		m.mu.Unlock()
		return nil
	}
	ce.docs[documentID] = ConnConnecting
	m.mu.Unlock()

	_, _, err := m.registry.Acquire(ctx, documentID, conn)

	m.mu.Lock()
	state := ce.docs[documentID]
	if err != nil {
		if state != ConnJoined {
			delete(ce.docs, documentID)
		}
		m.dropIfIdleLocked(connID, ce)
		m.mu.Unlock()

		m.logger.Warn("join refused",
			"connection_id", connID,
			"document_id", documentID,
			"error", err)
		return err
	}
	if state == ConnLeft {
		// Disconnected while the session was loading.
		delete(ce.docs, documentID)
		m.dropIfIdleLocked(connID, ce)
		m.mu.Unlock()

		if err := m.registry.Release(ctx, documentID, connID); err != nil {
			m.logger.Error("release failed",
				"connection_id", connID,
				"document_id", documentID,
				"error", err)
		}
		return nil
	}
	ce.docs[documentID] = ConnJoined
	m.mu.Unlock()

	m.metrics.connectionJoined()
	m.logger.Info("connection joined document",
		"connection_id", connID,
		"document_id", documentID)
	return nil
}

// Message delivers one inbound message. Messages for documents the
// connection has not joined, and malformed messages, are dropped.
func (m *Manager) Message(connID, documentID string, data []byte) {
	m.mu.Lock()
	state := ConnLeft
	if ce, ok := m.conns[connID]; ok {
		if st, ok := ce.docs[documentID]; ok {
			state = st
		}
	}
	m.mu.Unlock()

	if state != ConnJoined {
		m.logger.Debug("dropping message outside joined state",
			"connection_id", connID,
			"document_id", documentID,
			"state", state.String())
		return
	}

	s := m.registry.Get(documentID)
	if s == nil {
		return
	}

	err := s.Receive(connID, data)
	if err == nil {
		return
	}
	err = NewSessionError(documentID, "receive", err)
	switch {
	case protocol.IsDecodeError(err):
		m.metrics.decodeError()
		m.logger.Warn("dropping malformed message",
			"connection_id", connID,
			"document_id", documentID,
			"bytes", len(data),
			"error", err)
	case errors.Is(err, ErrUnknownConnection):
		m.logger.Debug("dropping message for detached connection",
			"connection_id", connID,
			"document_id", documentID)
	case errors.Is(err, ErrSessionClosing):
		m.logger.Info("dropping message for closing session",
			"connection_id", connID,
			"document_id", documentID)
	default:
		m.logger.Warn("message handling failed",
			"connection_id", connID,
			"document_id", documentID,
			"error", err)
	}
}

// Leave detaches connID from documentID. Leaving twice is a no-op.
func (m *Manager) Leave(ctx context.Context, connID, documentID string) {
	m.mu.Lock()
	ce, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	switch ce.docs[documentID] {
	case ConnJoined:
		delete(ce.docs, documentID)
	case ConnConnecting:
		// Join finishes the release once the session is ready.
		ce.docs[documentID] = ConnLeft
		m.mu.Unlock()
		return
	default:
		m.mu.Unlock()
		return
	}
	m.dropIfIdleLocked(connID, ce)
	m.mu.Unlock()

	m.release(ctx, documentID, connID)
}

// Disconnect leaves every document connID joined.
func (m *Manager) Disconnect(ctx context.Context, connID string) {
	m.mu.Lock()
	ce, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	var joined []string
	for docID, st := range ce.docs {
		switch st {
		case ConnJoined:
			joined = append(joined, docID)
			delete(ce.docs, docID)
		case ConnConnecting:
			ce.docs[docID] = ConnLeft
		}
	}
	m.dropIfIdleLocked(connID, ce)
	m.mu.Unlock()

	for _, docID := range joined {
		m.release(ctx, docID, connID)
	}
	m.logger.Debug("connection disconnected",
		"connection_id", connID,
		"documents", len(joined))
}

func (m *Manager) release(ctx context.Context, documentID, connID string) {
	m.metrics.connectionLeft()
	if err := m.registry.Release(ctx, documentID, connID); err != nil {
		m.logger.Error("release failed",
			"connection_id", connID,
			"document_id", documentID,
			"error", err)
	}
}

// dropIfIdleLocked forgets a connection with no documents left. Entries
// marked ConnLeft keep it alive until their pending Join finishes.
func (m *Manager) dropIfIdleLocked(connID string, ce *connEntry) {
	if len(ce.docs) == 0 && m.conns[connID] == ce {
		delete(m.conns, connID)
	}
}

// State returns the state of connID on documentID.
func (m *Manager) State(connID, documentID string) ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ce, ok := m.conns[connID]; ok {
		if st, ok := ce.docs[documentID]; ok {
			return st
		}
	}
	return ConnLeft
}

// Shutdown refuses new joins and flushes every live session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	return m.registry.Shutdown(ctx)
}
