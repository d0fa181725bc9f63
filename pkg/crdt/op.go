package crdt

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/vango-dev/docsync/pkg/protocol"
)

// ID uniquely identifies an operation: the replica that produced it and
// that replica's operation counter. Clocks of one client are dense: the
// n-th operation a client produces has Clock n-1.
type ID struct {
	Client uint64
	Clock  uint64
}

// String returns "client:clock".
func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Client, id.Clock)
}

// head is the sentinel every top-level insert hangs off. Client 0 is
// reserved for it and never produces operations.
var head = ID{}

// OpKind is the kind of an operation.
type OpKind uint8

const (
	OpInsert OpKind = 1 // Insert Char after Ref
	OpDelete OpKind = 2 // Tombstone Ref
)

// Op is a single replicated operation.
type Op struct {
	Kind OpKind
	ID   ID

	// Lamport orders concurrent inserts under the same parent.
	Lamport uint64

	// Ref is the parent for inserts and the target for deletes.
	Ref ID

	// Char is the inserted rune (inserts only).
	Char rune
}

var (
	errReservedClient = errors.New("crdt: client 0 is reserved")
	errUnknownOpKind  = errors.New("crdt: unknown op kind")
	errInvalidRune    = errors.New("crdt: invalid rune")
	errDeleteHead     = errors.New("crdt: delete targets document head")
)

// encodeOps writes an update: [count][op...].
//
// Op layout:
//
//	[Kind: byte][Client][Clock][Lamport][RefClient][RefClock][Char, inserts only]
func encodeOps(ops []Op) []byte {
	e := protocol.NewEncoderWithCap(1 + len(ops)*8)
	e.WriteUvarint(uint64(len(ops)))
	for _, op := range ops {
		e.WriteByte(byte(op.Kind))
		e.WriteUvarint(op.ID.Client)
		e.WriteUvarint(op.ID.Clock)
		e.WriteUvarint(op.Lamport)
		e.WriteUvarint(op.Ref.Client)
		e.WriteUvarint(op.Ref.Clock)
		if op.Kind == OpInsert {
			e.WriteUvarint(uint64(op.Char))
		}
	}
	return e.Bytes()
}

// decodeOps parses an update. It validates every op before returning so a
// malformed update is rejected as a whole.
func decodeOps(update []byte) ([]Op, error) {
	d := protocol.NewDecoder(update)
	n, err := d.ReadCollectionCount()
	if err != nil {
		return nil, protocol.NewDecodeError("update", err)
	}

	ops := make([]Op, 0, n)
	for i := 0; i < n; i++ {
		op, err := decodeOp(d)
		if err != nil {
			return nil, protocol.NewDecodeError(fmt.Sprintf("update op %d", i), err)
		}
		ops = append(ops, op)
	}
	if !d.EOF() {
		return nil, protocol.NewDecodeError("update", protocol.ErrTrailingBytes)
	}
	return ops, nil
}

func decodeOp(d *protocol.Decoder) (Op, error) {
	var op Op
	kind, err := d.ReadByte()
	if err != nil {
		return op, err
	}
	op.Kind = OpKind(kind)
	if op.Kind != OpInsert && op.Kind != OpDelete {
		return op, fmt.Errorf("%w: %d", errUnknownOpKind, kind)
	}

	fields := []*uint64{&op.ID.Client, &op.ID.Clock, &op.Lamport, &op.Ref.Client, &op.Ref.Clock}
	for _, f := range fields {
		if *f, err = d.ReadUvarint(); err != nil {
			return op, err
		}
	}
	if op.ID.Client == 0 || (op.Ref.Client == 0 && op.Ref.Clock != 0) {
		return op, errReservedClient
	}

	switch op.Kind {
	case OpInsert:
		c, err := d.ReadUvarint()
		if err != nil {
			return op, err
		}
		if c > utf8.MaxRune || !utf8.ValidRune(rune(c)) {
			return op, fmt.Errorf("%w: %#x", errInvalidRune, c)
		}
		op.Char = rune(c)
	case OpDelete:
		if op.Ref == head {
			return op, errDeleteHead
		}
	}
	return op, nil
}
