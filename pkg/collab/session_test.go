package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vango-dev/docsync/pkg/awareness"
	"github.com/vango-dev/docsync/pkg/crdt"
	"github.com/vango-dev/docsync/pkg/protocol"
)

func newTestSession(t *testing.T) (*Session, *testStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	st := newTestStore()
	s := NewSession("doc-1", SessionConfig{
		Store:     st,
		Scheduler: SchedulerConfig{Debounce: 2 * time.Second, Clock: clock},
		Logger:    testLogger(),
	})
	return s, st, clock
}

func mustJoin(t *testing.T, s *Session, c *fakeConn) JoinReply {
	t.Helper()
	reply, err := s.Join(c)
	if err != nil {
		t.Fatalf("Join(%s) error = %v", c.ID(), err)
	}
	return reply
}

func mustDecode(t *testing.T, data []byte) *protocol.Message {
	t.Helper()
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode(%x) error = %v", data, err)
	}
	return msg
}

func awarenessDelta(t *testing.T, states map[uint64]string) []byte {
	t.Helper()
	tbl := awareness.NewTable()
	var ids []uint64
	for id, v := range states {
		tbl.SetLocalState(id, json.RawMessage(v))
		ids = append(ids, id)
	}
	return tbl.EncodeUpdate(ids)
}

func TestSessionJoinHandshake(t *testing.T) {
	s, _, _ := newTestSession(t)
	a := newFakeConn("a", "alice")

	reply := mustJoin(t, s, a)
	if reply.Awareness != nil {
		t.Error("awareness snapshot sent for an empty table")
	}
	msgs := a.messages()
	if len(msgs) != 1 || !bytes.Equal(msgs[0], reply.SyncStep1) {
		t.Fatalf("a received %d messages, want the SyncStep1 reply", len(msgs))
	}
	msg := mustDecode(t, msgs[0])
	if msg.Type != protocol.MessageSync || msg.Sync != protocol.SyncStep1 {
		t.Errorf("first message = %v/%v, want sync/step1", msg.Type, msg.Sync)
	}

	if err := s.ReceiveAwareness("a", awarenessDelta(t, map[uint64]string{5: `{"cursor":1}`})); err != nil {
		t.Fatalf("ReceiveAwareness error = %v", err)
	}

	b := newFakeConn("b", "bob")
	reply = mustJoin(t, s, b)
	msgs = b.messages()
	if len(msgs) != 2 {
		t.Fatalf("b received %d messages, want step1 and awareness", len(msgs))
	}
	if mustDecode(t, msgs[0]).Sync != protocol.SyncStep1 {
		t.Error("handshake does not start with SyncStep1")
	}
	aw := mustDecode(t, msgs[1])
	if aw.Type != protocol.MessageAwareness || !bytes.Equal(msgs[1], reply.Awareness) {
		t.Fatalf("second message = %v, want the awareness snapshot", aw.Type)
	}

	peer := awareness.NewTable()
	if _, err := peer.ApplyUpdate(aw.Payload, ""); err != nil {
		t.Fatalf("snapshot does not decode: %v", err)
	}
	if _, ok := peer.Get(5); !ok {
		t.Error("snapshot is missing client 5")
	}
}

func TestSessionUpdateRelayedVerbatim(t *testing.T) {
	s, _, _ := newTestSession(t)
	a, b, c := newFakeConn("a", "alice"), newFakeConn("b", "bob"), newFakeConn("c", "carol")
	for _, conn := range []*fakeConn{a, b, c} {
		mustJoin(t, s, conn)
		conn.reset()
	}

	replica := crdt.New(1)
	update, err := replica.Insert(0, "hello")
	if err != nil {
		t.Fatal(err)
	}
	raw := protocol.EncodeSync(protocol.SyncUpdate, update)

	if err := s.Receive("a", raw); err != nil {
		t.Fatalf("Receive error = %v", err)
	}
	if got := s.Content(); got != "hello" {
		t.Errorf("Content() = %q, want hello", got)
	}
	if len(a.messages()) != 0 {
		t.Error("update echoed back to its sender")
	}
	for _, conn := range []*fakeConn{b, c} {
		msgs := conn.messages()
		if len(msgs) != 1 || !bytes.Equal(msgs[0], raw) {
			t.Errorf("%s received %x, want the raw update once", conn.ID(), msgs)
		}
	}
	if !s.Scheduler().Unsaved() {
		t.Error("scheduler was not notified")
	}

	// A duplicate changes nothing and is not relayed.
	b.reset()
	if err := s.Receive("c", raw); err != nil {
		t.Fatalf("Receive(duplicate) error = %v", err)
	}
	if len(b.messages()) != 0 {
		t.Error("duplicate update was relayed")
	}
	if got := s.Stats().Contributors; len(got) != 1 || got[0] != "alice" {
		t.Errorf("Contributors = %v, want [alice]", got)
	}
}

func TestSessionStep1Answer(t *testing.T) {
	s, _, _ := newTestSession(t)
	a, c := newFakeConn("a", ""), newFakeConn("c", "")
	mustJoin(t, s, a)
	mustJoin(t, s, c)

	writer := crdt.New(1)
	update, _ := writer.Insert(0, "hello")
	s.Receive("a", protocol.EncodeSync(protocol.SyncUpdate, update))
	a.reset()
	c.reset()

	late := crdt.New(3)
	if err := s.Receive("c", protocol.EncodeSync(protocol.SyncStep1, late.EncodeStateVector())); err != nil {
		t.Fatalf("Receive(step1) error = %v", err)
	}
	if len(a.messages()) != 0 {
		t.Error("step1 answer leaked to another connection")
	}
	msgs := c.messages()
	if len(msgs) != 1 {
		t.Fatalf("c received %d messages, want 1", len(msgs))
	}
	if !bytes.HasPrefix(msgs[0], []byte{0x00, 0x01}) {
		t.Fatalf("answer starts with % x, want sync update (00 01)", msgs[0][:2])
	}
	msg := mustDecode(t, msgs[0])
	if msg.Sync != protocol.SyncUpdate {
		t.Fatalf("answer = %v, want update", msg.Sync)
	}
	if _, err := late.ApplyUpdate(msg.Payload); err != nil {
		t.Fatal(err)
	}
	if late.String() != "hello" {
		t.Errorf("late replica = %q, want hello", late.String())
	}
}

func TestSessionStep2IsMerged(t *testing.T) {
	s, _, _ := newTestSession(t)
	a, b := newFakeConn("a", ""), newFakeConn("b", "")
	mustJoin(t, s, a)
	mustJoin(t, s, b)
	b.reset()

	replica := crdt.New(9)
	replica.Insert(0, "hi")
	raw := protocol.EncodeSync(protocol.SyncStep2, replica.EncodeStateAsUpdate())
	if err := s.Receive("a", raw); err != nil {
		t.Fatalf("Receive(step2) error = %v", err)
	}
	if s.Content() != "hi" {
		t.Errorf("Content() = %q, want hi", s.Content())
	}
	if msgs := b.messages(); len(msgs) != 1 || !bytes.Equal(msgs[0], raw) {
		t.Error("step2 that changed the document was not relayed")
	}
}

func TestSessionAwarenessCleanupOnLeave(t *testing.T) {
	s, _, _ := newTestSession(t)
	a, b := newFakeConn("a", ""), newFakeConn("b", "")
	mustJoin(t, s, a)
	mustJoin(t, s, b)
	a.reset()
	b.reset()

	delta := awarenessDelta(t, map[uint64]string{5: `{"name":"a1"}`, 7: `{"name":"a2"}`})
	if err := s.ReceiveAwareness("a", delta); err != nil {
		t.Fatalf("ReceiveAwareness error = %v", err)
	}
	if len(a.messages()) != 0 {
		t.Error("awareness echoed back to its sender")
	}
	msgs := b.messages()
	if len(msgs) != 1 {
		t.Fatalf("b received %d awareness messages, want 1", len(msgs))
	}
	peer := awareness.NewTable()
	peer.ApplyUpdate(mustDecode(t, msgs[0]).Payload, "")
	if peer.Len() != 2 {
		t.Fatalf("peer sees %d states, want 2", peer.Len())
	}

	b.reset()
	if empty := s.Leave("a"); empty {
		t.Fatal("Leave reported empty with b still joined")
	}
	msgs = b.messages()
	if len(msgs) != 1 {
		t.Fatalf("b received %d messages on leave, want exactly 1", len(msgs))
	}
	change, err := peer.ApplyUpdate(mustDecode(t, msgs[0]).Payload, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := sortedIDs(change.Removed); len(got) != 2 || got[0] != 5 || got[1] != 7 {
		t.Errorf("removed = %v, want [5 7]", got)
	}
	if s.Stats().AwarenessStates != 0 {
		t.Errorf("server still holds %d awareness states", s.Stats().AwarenessStates)
	}
}

func TestSessionRemoteRemovalReleasesControl(t *testing.T) {
	s, _, _ := newTestSession(t)
	a, b := newFakeConn("a", ""), newFakeConn("b", "")
	mustJoin(t, s, a)
	mustJoin(t, s, b)

	client := awareness.NewTable()
	client.SetLocalState(5, json.RawMessage(`{}`))
	s.ReceiveAwareness("a", client.EncodeUpdate([]uint64{5}))
	client.SetLocalState(5, nil)
	s.ReceiveAwareness("a", client.EncodeUpdate([]uint64{5}))

	b.reset()
	s.Leave("a")
	if len(b.messages()) != 0 {
		t.Error("leave broadcast a removal for a client that was already gone")
	}
}

func TestSessionMalformedMessagesDropped(t *testing.T) {
	s, _, _ := newTestSession(t)
	a, b := newFakeConn("a", ""), newFakeConn("b", "")
	mustJoin(t, s, a)
	mustJoin(t, s, b)
	b.reset()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown type", []byte{0x07, 0x00}},
		{"truncated update", protocol.EncodeSync(protocol.SyncUpdate, []byte{0x01, 0x01})},
		{"bad state vector", protocol.EncodeSync(protocol.SyncStep1, []byte{0x05})},
		{"bad awareness", protocol.EncodeAwareness([]byte{0x01, 0x01})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Receive("a", tc.data)
			if !protocol.IsDecodeError(err) {
				t.Fatalf("Receive error = %v, want DecodeError", err)
			}
		})
	}

	if s.Content() != "" || s.Stats().AwarenessStates != 0 {
		t.Error("malformed message changed the session")
	}
	if len(b.messages()) != 0 {
		t.Error("malformed message was relayed")
	}
	if s.Scheduler().Unsaved() {
		t.Error("malformed message scheduled a save")
	}
}

func TestSessionUnknownConnection(t *testing.T) {
	s, _, _ := newTestSession(t)
	replica := crdt.New(1)
	update, _ := replica.Insert(0, "x")

	err := s.Receive("ghost", protocol.EncodeSync(protocol.SyncUpdate, update))
	if !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("Receive error = %v, want ErrUnknownConnection", err)
	}
	if s.Content() != "" {
		t.Error("update from unknown connection was applied")
	}
	if s.Leave("ghost") {
		t.Error("Leave(unknown) reported empty")
	}
}

func TestSessionClosedRefusesMessages(t *testing.T) {
	s, st, _ := newTestSession(t)
	a, b := newFakeConn("a", ""), newFakeConn("b", "")
	mustJoin(t, s, a)
	mustJoin(t, s, b)

	first, _ := crdt.New(1).Insert(0, "kept")
	s.Receive("a", protocol.EncodeSync(protocol.SyncUpdate, first))

	// Connections are still attached, as during a registry shutdown.
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if st.saveCount() != 1 || st.lastSave().snap.Content != "kept" {
		t.Fatalf("final flush saved %d snapshots, last %q", st.saveCount(), st.lastSave().snap.Content)
	}
	b.reset()

	late, _ := crdt.New(2).Insert(0, "lost")
	tests := []struct {
		name string
		msg  []byte
	}{
		{"update", protocol.EncodeSync(protocol.SyncUpdate, late)},
		{"step1", protocol.EncodeSync(protocol.SyncStep1, nil)},
		{"awareness", protocol.EncodeAwareness(awarenessDelta(t, map[uint64]string{5: `{"x":1}`}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Receive("a", tt.msg); !errors.Is(err, ErrSessionClosing) {
				t.Errorf("Receive error = %v, want ErrSessionClosing", err)
			}
		})
	}

	if got := s.Content(); got != "kept" {
		t.Errorf("Content() = %q, want kept", got)
	}
	if n := len(b.messages()); n != 0 {
		t.Errorf("b received %d messages after close, want 0", n)
	}
	if st.saveCount() != 1 {
		t.Errorf("saves = %d after close, want 1", st.saveCount())
	}
}

func TestSessionLeaveAndClose(t *testing.T) {
	s, st, _ := newTestSession(t)
	a := newFakeConn("a", "alice")
	mustJoin(t, s, a)

	replica := crdt.New(1)
	update, _ := replica.Insert(0, "hello")
	s.Receive("a", protocol.EncodeSync(protocol.SyncUpdate, update))

	if !s.Leave("a") {
		t.Fatal("Leave of the last connection did not report empty")
	}
	if s.Leave("a") {
		t.Error("second Leave reported empty again")
	}
	if _, err := s.Join(newFakeConn("b", "")); !errors.Is(err, ErrSessionClosing) {
		t.Errorf("Join on closing session error = %v, want ErrSessionClosing", err)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	saved := st.lastSave()
	if st.saveCount() != 1 || saved.documentID != "doc-1" {
		t.Fatalf("saves = %d, last = %q", st.saveCount(), saved.documentID)
	}
	if saved.snap.Content != "hello" {
		t.Errorf("saved content = %q, want hello", saved.snap.Content)
	}
	if len(saved.snap.ContributorIDs) != 1 || saved.snap.ContributorIDs[0] != "alice" {
		t.Errorf("contributors = %v, want [alice]", saved.snap.ContributorIDs)
	}

	restored := NewDocument("doc-1")
	if err := restored.Hydrate(saved.snap.State); err != nil {
		t.Fatalf("Hydrate(saved) error = %v", err)
	}
	if restored.PlainDocument() != "hello" {
		t.Errorf("restored = %q, want hello", restored.PlainDocument())
	}
}

func TestSessionCloseFlushFailure(t *testing.T) {
	s, st, _ := newTestSession(t)
	st.saveErr = errors.New("disk full")
	a := newFakeConn("a", "")
	mustJoin(t, s, a)

	replica := crdt.New(1)
	update, _ := replica.Insert(0, "x")
	s.Receive("a", protocol.EncodeSync(protocol.SyncUpdate, update))
	s.Leave("a")

	var perr *PersistenceError
	if err := s.Close(context.Background()); !errors.As(err, &perr) {
		t.Errorf("Close error = %v, want PersistenceError", err)
	}
}

func TestSessionSendFailureDoesNotBlockOthers(t *testing.T) {
	s, _, _ := newTestSession(t)
	a, b, c := newFakeConn("a", ""), newFakeConn("b", ""), newFakeConn("c", "")
	b.err = errors.New("queue full")
	for _, conn := range []*fakeConn{a, b, c} {
		mustJoin(t, s, conn)
	}
	c.reset()

	replica := crdt.New(1)
	update, _ := replica.Insert(0, "x")
	if err := s.Receive("a", protocol.EncodeSync(protocol.SyncUpdate, update)); err != nil {
		t.Fatalf("Receive error = %v", err)
	}
	if len(c.messages()) != 1 {
		t.Error("a failing connection prevented delivery to the others")
	}
}
