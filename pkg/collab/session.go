package collab

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vango-dev/docsync/pkg/awareness"
	"github.com/vango-dev/docsync/pkg/protocol"
	"github.com/vango-dev/docsync/pkg/store"
)

// JoinReply holds the handshake messages sent to a joining connection.
type JoinReply struct {
	// SyncStep1 carries the document's state vector so the client answers
	// with everything the server is missing.
	SyncStep1 []byte

	// Awareness is the full presence snapshot, nil when nobody is present.
	Awareness []byte
}

// SessionStats is a point-in-time view of a session.
type SessionStats struct {
	DocumentID      string
	Connections     int
	AwarenessStates int
	DocumentLength  int
	PendingSave     bool
	Contributors    []string
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Store receives snapshots. Required.
	Store store.Store

	// Scheduler tunes debounced persistence.
	Scheduler SchedulerConfig

	Logger  *slog.Logger
	Metrics *Metrics
}

// member is one connection attached to a session.
type member struct {
	conn  Connection
	actor string

	// controlled holds the awareness client ids this connection introduced.
	controlled map[uint64]struct{}
}

// outbound is a message queued while the session lock was held.
type outbound struct {
	conn Connection
	msg  []byte
}

// Session is the live, in-memory state of one document: the replicated
// content, presence, and the connections attached to it.
//
// All mutation happens under one mutex; messages produced while holding it
// are sent after it is released.
type Session struct {
	id        string
	logger    *slog.Logger
	metrics   *Metrics
	clock     Clock
	scheduler *Scheduler
	createdAt time.Time

	mu           sync.Mutex
	doc          *Document
	awareness    *awareness.Table
	members      map[string]*member
	contributors map[string]struct{}
	closing      bool
}

// NewSession creates an empty session for documentID.
func NewSession(documentID string, config SessionConfig) *Session {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sched := config.Scheduler.withDefaults()

	s := &Session{
		id:           documentID,
		logger:       logger.With("component", "collab_session", "document_id", documentID),
		metrics:      config.Metrics,
		clock:        sched.Clock,
		createdAt:    sched.Clock.Now(),
		doc:          NewDocument(documentID),
		awareness:    awareness.NewTable(),
		members:      make(map[string]*member),
		contributors: make(map[string]struct{}),
	}
	s.scheduler = NewScheduler(documentID, config.Store, s.Snapshot, sched, logger, config.Metrics)
	return s
}

// ID returns the document id.
func (s *Session) ID() string {
	return s.id
}

// hydrate loads a stored snapshot before the session is published.
func (s *Session) hydrate(snap *store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.doc.Hydrate(snap.State); err != nil {
		return err
	}
	for _, id := range snap.ContributorIDs {
		s.contributors[id] = struct{}{}
	}
	return nil
}

// Join attaches conn and sends it the handshake: SyncStep1 first, then the
// awareness snapshot if anyone is present. Joining twice is harmless.
func (s *Session) Join(conn Connection) (JoinReply, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return JoinReply{}, ErrSessionClosing
	}

	if _, ok := s.members[conn.ID()]; !ok {
		s.members[conn.ID()] = &member{
			conn:       conn,
			actor:      actorOf(conn),
			controlled: make(map[uint64]struct{}),
		}
	}

	reply := JoinReply{
		SyncStep1: protocol.EncodeSync(protocol.SyncStep1, s.doc.StateVector()),
	}
	if s.awareness.Len() > 0 {
		reply.Awareness = protocol.EncodeAwareness(s.awareness.EncodeAll())
	}
	connections := len(s.members)
	s.mu.Unlock()

	s.send(conn, reply.SyncStep1)
	if reply.Awareness != nil {
		s.send(conn, reply.Awareness)
	}

	s.logger.Debug("connection joined",
		"connection_id", conn.ID(),
		"connections", connections)
	return reply, nil
}

// Receive decodes an envelope and dispatches it.
// Malformed messages return a *protocol.DecodeError and change nothing.
func (s *Session) Receive(connID string, data []byte) error {
	msg, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	switch msg.Type {
	case protocol.MessageSync:
		return s.ReceiveSync(connID, msg, data)
	case protocol.MessageAwareness:
		return s.ReceiveAwareness(connID, msg.Payload)
	}
	return ErrUnexpectedMessage
}

// ReceiveSync handles a sync message. raw is the original envelope, relayed
// verbatim to the other connections when the update changes the document;
// nil re-encodes msg.
//
// SyncStep1 is answered privately with a SyncUpdate carrying what the
// sender is missing. SyncUpdate and SyncStep2 are merged.
// Once the session is closing every message is refused with
// ErrSessionClosing, since the final flush may already have run.
func (s *Session) ReceiveSync(connID string, msg *protocol.Message, raw []byte) error {
	if msg.Type != protocol.MessageSync {
		return ErrUnexpectedMessage
	}
	s.metrics.message(msg.Sync.String())

	var out []outbound

	s.mu.Lock()
	m, ok := s.members[connID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownConnection
	}
	if s.closing {
		s.mu.Unlock()
		return ErrSessionClosing
	}

	switch msg.Sync {
	case protocol.SyncStep1:
		diff, err := s.doc.DiffSince(msg.Payload)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		out = append(out, outbound{m.conn, protocol.EncodeSync(protocol.SyncUpdate, diff)})

	case protocol.SyncUpdate, protocol.SyncStep2:
		res, err := s.doc.ApplyUpdate(msg.Payload)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if res.Changed {
			// Notified under the lock so a concurrent Close always sees
			// this change as unsaved.
			s.scheduler.Notify()
			if m.actor != "" {
				s.contributors[m.actor] = struct{}{}
			}
			if raw == nil {
				raw = msg.Encode()
			}
			out = s.broadcastLocked(connID, raw, out)
		}
	}
	s.mu.Unlock()

	s.flush(out)
	return nil
}

// ReceiveAwareness merges a presence delta. Clients the delta adds become
// controlled by connID and are removed when it leaves. The effective change
// is relayed once to every other connection.
func (s *Session) ReceiveAwareness(connID string, update []byte) error {
	s.metrics.message(protocol.MessageAwareness.String())

	s.mu.Lock()
	m, ok := s.members[connID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownConnection
	}
	if s.closing {
		s.mu.Unlock()
		return ErrSessionClosing
	}

	change, err := s.awareness.ApplyUpdate(update, connID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	for _, id := range change.Added {
		m.controlled[id] = struct{}{}
	}
	for _, id := range change.Removed {
		for _, other := range s.members {
			delete(other.controlled, id)
		}
	}

	var out []outbound
	if !change.Empty() {
		delta := protocol.EncodeAwareness(s.awareness.EncodeUpdate(change.Clients()))
		out = s.broadcastLocked(connID, delta, nil)
	}
	s.mu.Unlock()

	s.flush(out)
	return nil
}

// Leave detaches a connection, removing the presence it controlled. It
// reports whether the session is now empty, in which case the session is
// closing and accepts no more joins. Leaving twice is a no-op.
func (s *Session) Leave(connID string) (empty bool) {
	s.mu.Lock()
	m, ok := s.members[connID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.members, connID)

	ids := make([]uint64, 0, len(m.controlled))
	for id := range m.controlled {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []outbound
	change := s.awareness.RemoveStates(ids, connID)
	if !change.Empty() {
		delta := protocol.EncodeAwareness(s.awareness.EncodeUpdate(change.Removed))
		out = s.broadcastLocked(connID, delta, nil)
	}

	if len(s.members) == 0 {
		s.closing = true
		empty = true
	}
	remaining := len(s.members)
	s.mu.Unlock()

	s.flush(out)
	s.logger.Debug("connection left",
		"connection_id", connID,
		"removed_awareness", len(change.Removed),
		"connections", remaining)
	return empty
}

// Close flushes the document synchronously and stops the scheduler. A failed
// flush is logged as possible data loss and returned; the session is closed
// regardless.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.scheduler.FlushNow(ctx)
	s.scheduler.Stop()
	if err != nil {
		s.logger.Error("final flush failed, unsaved edits may be lost",
			"error", err,
			"lifetime", s.clock.Now().Sub(s.createdAt))
	}
	return err
}

// Snapshot captures the persistable state of the document.
func (s *Session) Snapshot() store.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return store.Snapshot{
		State:          s.doc.SnapshotForPersistence(),
		Content:        s.doc.PlainDocument(),
		UpdatedAt:      s.clock.Now().UTC(),
		ContributorIDs: s.contributorsLocked(),
	}
}

func (s *Session) contributorsLocked() []string {
	if len(s.contributors) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s.contributors))
	for id := range s.contributors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Content returns the materialized text.
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.PlainDocument()
}

// Stats returns a point-in-time view of the session.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionStats{
		DocumentID:      s.id,
		Connections:     len(s.members),
		AwarenessStates: s.awareness.Len(),
		DocumentLength:  s.doc.Len(),
		PendingSave:     s.scheduler.Unsaved(),
		Contributors:    s.contributorsLocked(),
	}
}

// Scheduler returns the session's persistence scheduler.
func (s *Session) Scheduler() *Scheduler {
	return s.scheduler
}

// broadcastLocked appends msg for every member except the sender.
func (s *Session) broadcastLocked(exclude string, msg []byte, out []outbound) []outbound {
	for id, m := range s.members {
		if id == exclude {
			continue
		}
		out = append(out, outbound{m.conn, msg})
	}
	return out
}

func (s *Session) flush(out []outbound) {
	for _, o := range out {
		s.send(o.conn, o.msg)
	}
}

func (s *Session) send(conn Connection, msg []byte) {
	if err := conn.Send(msg); err != nil {
		s.logger.Debug("send failed",
			"connection_id", conn.ID(),
			"error", err)
	}
}
