package crdt

import (
	"errors"
	"sort"
	"strings"
)

// ErrReadOnly is returned by local edits on a replica created without a client id.
var ErrReadOnly = errors.New("crdt: replica has no client id")

// ErrIndexOutOfRange is returned by local edits addressing a position past the end.
var ErrIndexOutOfRange = errors.New("crdt: index out of range")

// item is one inserted rune. Deleted items stay in the tree as tombstones
// so later operations can still reference them.
type item struct {
	op       Op
	deleted  bool
	children []*item // sorted by sibling order
}

// Result describes what an ApplyUpdate call changed.
type Result struct {
	// New holds the operations that were not known before, integrated or
	// buffered, in the order they were read.
	New []Op

	// Integrated counts operations that became part of the visible state,
	// including buffered ones released by this update.
	Integrated int
}

// Changed reports whether the update carried anything new.
func (r Result) Changed() bool {
	return len(r.New) > 0
}

// Update encodes only the new operations, suitable for relaying to
// replicas that already saw everything else.
func (r Result) Update() []byte {
	return encodeOps(r.New)
}

// Clients returns the distinct clients of the new operations, ascending.
func (r Result) Clients() []uint64 {
	seen := make(map[uint64]struct{}, 1)
	var clients []uint64
	for _, op := range r.New {
		if _, ok := seen[op.ID.Client]; ok {
			continue
		}
		seen[op.ID.Client] = struct{}{}
		clients = append(clients, op.ID.Client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	return clients
}

// Doc is one replica of a replicated plain-text sequence.
//
// Inserts are addressed by parent: "insert X right after P". Siblings under
// the same parent are ordered by descending (Lamport, Client, Clock), so the
// most recent insert after P comes first, and every replica linearizes the
// same tree the same way. Operations that arrive before their dependencies
// (an earlier clock of the same client, or the parent/target item) are
// buffered and integrated as soon as the dependency shows up.
//
// A Doc is not safe for concurrent use.
type Doc struct {
	client  uint64
	lamport uint64

	root  *item
	items map[ID]*item

	// sv is the state vector: next expected clock per client.
	sv map[uint64]uint64

	// log holds integrated ops per client, indexed by clock.
	log map[uint64][]Op

	// pending holds buffered ops; waiting indexes them by the dependency
	// they are blocked on.
	pending map[ID]Op
	waiting map[ID][]Op

	length int
	text   string
	dirty  bool
}

// New creates an empty replica. client identifies the replica for local
// edits and must be unique among replicas editing the same document;
// client 0 creates a replica that only merges remote updates.
func New(client uint64) *Doc {
	root := &item{op: Op{ID: head}}
	return &Doc{
		client:  client,
		root:    root,
		items:   map[ID]*item{head: root},
		sv:      make(map[uint64]uint64),
		log:     make(map[uint64][]Op),
		pending: make(map[ID]Op),
		waiting: make(map[ID][]Op),
	}
}

// Client returns the replica's client id.
func (d *Doc) Client() uint64 {
	return d.client
}

// ApplyUpdate merges an update produced by any replica. Applying the same
// update twice, or updates in any order, yields the same document.
// A malformed update is rejected as a whole with a *protocol.DecodeError.
func (d *Doc) ApplyUpdate(update []byte) (Result, error) {
	ops, err := decodeOps(update)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, op := range ops {
		if d.known(op.ID) {
			continue
		}
		res.New = append(res.New, op)
		res.Integrated += d.tryIntegrate(op)
	}
	return res, nil
}

// known reports whether id was integrated or is already buffered.
func (d *Doc) known(id ID) bool {
	if id.Clock < d.sv[id.Client] {
		return true
	}
	_, ok := d.pending[id]
	return ok
}

// missing returns the first dependency of op that is not integrated yet.
func (d *Doc) missing(op Op) (ID, bool) {
	if op.ID.Clock != d.sv[op.ID.Client] {
		return ID{Client: op.ID.Client, Clock: op.ID.Clock - 1}, true
	}
	if _, ok := d.items[op.Ref]; !ok {
		return op.Ref, true
	}
	return ID{}, false
}

// tryIntegrate integrates op if its dependencies are met, then releases
// every buffered op that was waiting on it. Otherwise op is buffered.
func (d *Doc) tryIntegrate(op Op) int {
	if dep, ok := d.missing(op); ok {
		d.pending[op.ID] = op
		d.waiting[dep] = append(d.waiting[dep], op)
		return 0
	}

	n := 0
	queue := []Op{op}
	for len(queue) > 0 {
		next := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		d.integrate(next)
		n++

		released := d.waiting[next.ID]
		delete(d.waiting, next.ID)
		for _, w := range released {
			if dep, ok := d.missing(w); ok {
				d.waiting[dep] = append(d.waiting[dep], w)
				continue
			}
			delete(d.pending, w.ID)
			queue = append(queue, w)
		}
	}
	return n
}

func (d *Doc) integrate(op Op) {
	switch op.Kind {
	case OpInsert:
		it := &item{op: op}
		parent := d.items[op.Ref]
		i := sort.Search(len(parent.children), func(i int) bool {
			return before(op, parent.children[i].op)
		})
		parent.children = append(parent.children, nil)
		copy(parent.children[i+1:], parent.children[i:])
		parent.children[i] = it
		d.items[op.ID] = it
		d.length++
	case OpDelete:
		target := d.items[op.Ref]
		if !target.deleted {
			target.deleted = true
			d.length--
		}
	}

	d.sv[op.ID.Client]++
	d.log[op.ID.Client] = append(d.log[op.ID.Client], op)
	if op.Lamport > d.lamport {
		d.lamport = op.Lamport
	}
	d.dirty = true
}

// before reports whether sibling a sorts ahead of sibling b.
func before(a, b Op) bool {
	if a.Lamport != b.Lamport {
		return a.Lamport > b.Lamport
	}
	if a.ID.Client != b.ID.Client {
		return a.ID.Client > b.ID.Client
	}
	return a.ID.Clock > b.ID.Clock
}

// EncodeStateAsUpdate encodes every known operation, including buffered
// ones, as a single update. Applying it to an empty replica reproduces this
// replica.
func (d *Doc) EncodeStateAsUpdate() []byte {
	return encodeOps(d.opsSince(nil))
}

// EncodeStateVector encodes the next expected clock of every client.
func (d *Doc) EncodeStateVector() []byte {
	return encodeStateVector(d.sv)
}

// DiffUpdate encodes the operations a replica with the given state vector
// is missing. A nil or empty state vector yields the full state.
func (d *Doc) DiffUpdate(stateVector []byte) ([]byte, error) {
	sv, err := decodeStateVector(stateVector)
	if err != nil {
		return nil, err
	}
	return encodeOps(d.opsSince(sv)), nil
}

// opsSince collects integrated ops at or after sv, ordered by client and
// clock, followed by all buffered ops.
func (d *Doc) opsSince(sv map[uint64]uint64) []Op {
	clients := make([]uint64, 0, len(d.log))
	for c := range d.log {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	var ops []Op
	for _, c := range clients {
		from := sv[c]
		if from < uint64(len(d.log[c])) {
			ops = append(ops, d.log[c][from:]...)
		}
	}

	if len(d.pending) > 0 {
		buffered := make([]Op, 0, len(d.pending))
		for _, op := range d.pending {
			buffered = append(buffered, op)
		}
		sort.Slice(buffered, func(i, j int) bool {
			if buffered[i].ID.Client != buffered[j].ID.Client {
				return buffered[i].ID.Client < buffered[j].ID.Client
			}
			return buffered[i].ID.Clock < buffered[j].ID.Clock
		})
		ops = append(ops, buffered...)
	}
	return ops
}

// Clients returns the ids of every client that contributed integrated
// operations, in ascending order.
func (d *Doc) Clients() []uint64 {
	clients := make([]uint64, 0, len(d.log))
	for c := range d.log {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	return clients
}

// PendingCount returns the number of buffered operations still waiting
// for a dependency.
func (d *Doc) PendingCount() int {
	return len(d.pending)
}

// Len returns the number of visible runes.
func (d *Doc) Len() int {
	return d.length
}

// String materializes the visible text.
func (d *Doc) String() string {
	if !d.dirty {
		return d.text
	}
	var b strings.Builder
	d.walk(func(it *item) bool {
		b.WriteRune(it.op.Char)
		return true
	})
	d.text = b.String()
	d.dirty = false
	return d.text
}

// walk visits visible items in document order until fn returns false.
func (d *Doc) walk(fn func(*item) bool) {
	stack := make([]*item, 0, 16)
	for i := len(d.root.children) - 1; i >= 0; i-- {
		stack = append(stack, d.root.children[i])
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !it.deleted && !fn(it) {
			return
		}
		for i := len(it.children) - 1; i >= 0; i-- {
			stack = append(stack, it.children[i])
		}
	}
}
