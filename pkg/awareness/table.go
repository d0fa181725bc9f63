package awareness

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/vango-dev/docsync/pkg/protocol"
)

// ErrInvalidState is wrapped in the DecodeError returned for a delta entry
// whose state is not valid JSON.
var ErrInvalidState = errors.New("awareness: state is not valid JSON")

var nullState = []byte("null")

// State is the presence of one client.
type State struct {
	// Clock increases every time the client publishes a new state.
	Clock uint64

	// Value is the opaque presence payload as JSON.
	Value json.RawMessage

	// UpdatedAt is when this table last accepted a state for the client.
	UpdatedAt time.Time
}

// Change lists the client ids affected by one operation on the table.
type Change struct {
	Added   []uint64
	Updated []uint64
	Removed []uint64

	// Origin identifies who caused the change (a connection id, or "" for local).
	Origin string
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Clients returns every affected client id.
func (c Change) Clients() []uint64 {
	ids := make([]uint64, 0, len(c.Added)+len(c.Updated)+len(c.Removed))
	ids = append(ids, c.Added...)
	ids = append(ids, c.Updated...)
	ids = append(ids, c.Removed...)
	return ids
}

// Table holds presence for one document.
// A Table is not safe for concurrent use; its owner serializes access.
type Table struct {
	states map[uint64]State

	// clocks remembers the last clock of every client ever seen, including
	// removed ones, so stale deltas cannot resurrect them.
	clocks map[uint64]uint64

	now func() time.Time
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		states: make(map[uint64]State),
		clocks: make(map[uint64]uint64),
		now:    time.Now,
	}
}

// SetLocalState publishes a state for clientID on behalf of this process.
// A nil state marks the client as absent.
func (t *Table) SetLocalState(clientID uint64, state json.RawMessage) Change {
	clock := uint64(0)
	if c, seen := t.clocks[clientID]; seen {
		clock = c + 1
	}
	return t.merge(clientID, clock, state, "")
}

// ApplyUpdate merges a remote delta. origin is recorded on the returned
// Change. A malformed delta is rejected as a whole with a *protocol.DecodeError.
func (t *Table) ApplyUpdate(update []byte, origin string) (Change, error) {
	type entry struct {
		client uint64
		clock  uint64
		state  []byte
	}

	d := protocol.NewDecoder(update)
	n, err := d.ReadCollectionCount()
	if err != nil {
		return Change{}, protocol.NewDecodeError("awareness", err)
	}
	entries := make([]entry, 0, n)
	for i := 0; i < n; i++ {
		var e entry
		if e.client, err = d.ReadUvarint(); err != nil {
			return Change{}, protocol.NewDecodeError("awareness client", err)
		}
		if e.clock, err = d.ReadUvarint(); err != nil {
			return Change{}, protocol.NewDecodeError("awareness clock", err)
		}
		s, err := d.ReadLenBytes()
		if err != nil {
			return Change{}, protocol.NewDecodeError("awareness state", err)
		}
		if !json.Valid(s) {
			return Change{}, protocol.NewDecodeError("awareness state", ErrInvalidState)
		}
		e.state = s
		entries = append(entries, e)
	}
	if !d.EOF() {
		return Change{}, protocol.NewDecodeError("awareness", protocol.ErrTrailingBytes)
	}

	change := Change{Origin: origin}
	for _, e := range entries {
		var state json.RawMessage
		if !bytes.Equal(bytes.TrimSpace(e.state), nullState) {
			state = e.state
		}
		c := t.merge(e.client, e.clock, state, origin)
		change.Added = append(change.Added, c.Added...)
		change.Updated = append(change.Updated, c.Updated...)
		change.Removed = append(change.Removed, c.Removed...)
	}
	return change, nil
}

// merge applies one entry last-write-wins. A removal at the current clock
// wins over the present state.
func (t *Table) merge(clientID, clock uint64, state json.RawMessage, origin string) Change {
	change := Change{Origin: origin}
	cur, seen := t.clocks[clientID]
	_, present := t.states[clientID]

	accept := !seen || clock > cur || (clock == cur && state == nil && present)
	if !accept {
		return change
	}
	t.clocks[clientID] = clock

	if state == nil {
		if present {
			delete(t.states, clientID)
			change.Removed = append(change.Removed, clientID)
		}
		return change
	}

	t.states[clientID] = State{Clock: clock, Value: state, UpdatedAt: t.now()}
	if present {
		change.Updated = append(change.Updated, clientID)
	} else {
		change.Added = append(change.Added, clientID)
	}
	return change
}

// RemoveStates forcibly removes the given clients, typically because the
// connection controlling them left. Their clocks are bumped so the removal
// wins over the last state other replicas saw.
func (t *Table) RemoveStates(clientIDs []uint64, origin string) Change {
	change := Change{Origin: origin}
	for _, id := range clientIDs {
		if _, present := t.states[id]; !present {
			continue
		}
		delete(t.states, id)
		t.clocks[id]++
		change.Removed = append(change.Removed, id)
	}
	return change
}

// EncodeUpdate serializes the current entries of the given clients.
// Removed clients are encoded with a null state; never-seen clients are skipped.
func (t *Table) EncodeUpdate(clientIDs []uint64) []byte {
	known := make([]uint64, 0, len(clientIDs))
	for _, id := range clientIDs {
		if _, seen := t.clocks[id]; seen {
			known = append(known, id)
		}
	}

	e := protocol.NewEncoderWithCap(1 + len(known)*32)
	e.WriteUvarint(uint64(len(known)))
	for _, id := range known {
		e.WriteUvarint(id)
		e.WriteUvarint(t.clocks[id])
		if s, ok := t.states[id]; ok {
			e.WriteLenBytes(s.Value)
		} else {
			e.WriteLenBytes(nullState)
		}
	}
	return e.Bytes()
}

// EncodeAll serializes every present entry.
func (t *Table) EncodeAll() []byte {
	return t.EncodeUpdate(t.ClientIDs())
}

// Get returns the state of one client.
func (t *Table) Get(clientID uint64) (State, bool) {
	s, ok := t.states[clientID]
	return s, ok
}

// ClientIDs returns the ids of present clients in ascending order.
func (t *Table) ClientIDs() []uint64 {
	ids := make([]uint64, 0, len(t.states))
	for id := range t.states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// States returns a copy of all present entries.
func (t *Table) States() map[uint64]State {
	out := make(map[uint64]State, len(t.states))
	for id, s := range t.states {
		out[id] = s
	}
	return out
}

// Len returns the number of present clients.
func (t *Table) Len() int {
	return len(t.states)
}
