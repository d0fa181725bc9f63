package protocol

import "fmt"

// MessageType identifies the top-level kind of a message.
type MessageType uint64

const (
	MessageSync      MessageType = 0 // Document replication
	MessageAwareness MessageType = 1 // Ephemeral presence
)

// String returns the string representation of the message type.
func (mt MessageType) String() string {
	switch mt {
	case MessageSync:
		return "Sync"
	case MessageAwareness:
		return "Awareness"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(mt))
	}
}

// SyncType identifies the sub-kind of a Sync message.
type SyncType uint64

const (
	// SyncStep1 carries a state vector: "what do you have".
	SyncStep1 SyncType = 0

	// SyncUpdate carries an update: a new change, or the answer to a
	// SyncStep1 ("here is what you're missing").
	SyncUpdate SyncType = 1

	// SyncStep2 is the y-protocols subtype for a SyncStep1 answer. It is
	// accepted on decode and merged like SyncUpdate; this package never
	// sends it.
	SyncStep2 SyncType = 2
)

// String returns the string representation of the sync type.
func (st SyncType) String() string {
	switch st {
	case SyncStep1:
		return "Step1"
	case SyncUpdate:
		return "Update"
	case SyncStep2:
		return "Step2"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(st))
	}
}

// CarriesUpdate reports whether the payload of this sync type is a document update.
func (st SyncType) CarriesUpdate() bool {
	return st == SyncUpdate || st == SyncStep2
}

// Message is a decoded envelope.
//
// Wire format:
//
//	Sync:      [varint 0][varint syncType][varint len][payload]
//	Awareness: [varint 1][varint len][payload]
type Message struct {
	Type    MessageType
	Sync    SyncType // Only meaningful when Type == MessageSync
	Payload []byte
}

// Encode encodes the message to bytes.
func (m *Message) Encode() []byte {
	e := NewEncoderWithCap(2*MaxVarintLen + UvarintLen(uint64(len(m.Payload))) + len(m.Payload))
	m.EncodeTo(e)
	return e.Bytes()
}

// EncodeTo encodes the message using the provided encoder.
func (m *Message) EncodeTo(e *Encoder) {
	e.WriteUvarint(uint64(m.Type))
	if m.Type == MessageSync {
		e.WriteUvarint(uint64(m.Sync))
	}
	e.WriteLenBytes(m.Payload)
}

// EncodeSync builds a Sync message of the given sub-type.
func EncodeSync(st SyncType, payload []byte) []byte {
	m := Message{Type: MessageSync, Sync: st, Payload: payload}
	return m.Encode()
}

// EncodeAwareness builds an Awareness message.
func EncodeAwareness(payload []byte) []byte {
	m := Message{Type: MessageAwareness, Payload: payload}
	return m.Encode()
}

// Decode decodes a complete message. The returned payload is a copy and
// safe to retain. Any failure is reported as a *DecodeError.
func Decode(data []byte) (*Message, error) {
	d := NewDecoder(data)

	t, err := d.ReadUvarint()
	if err != nil {
		return nil, newDecodeError("message type", err)
	}

	m := &Message{Type: MessageType(t)}
	switch m.Type {
	case MessageSync:
		st, err := d.ReadUvarint()
		if err != nil {
			return nil, newDecodeError("sync type", err)
		}
		m.Sync = SyncType(st)
		if m.Sync != SyncStep1 && !m.Sync.CarriesUpdate() {
			return nil, newDecodeError("sync type", fmt.Errorf("%w: %d", ErrUnknownSyncType, st))
		}
	case MessageAwareness:
	default:
		return nil, newDecodeError("message type", fmt.Errorf("%w: %d", ErrUnknownMessageType, t))
	}

	m.Payload, err = d.ReadLenBytes()
	if err != nil {
		return nil, newDecodeError("payload", err)
	}
	if !d.EOF() {
		return nil, newDecodeError("payload", fmt.Errorf("%w: %d bytes", ErrTrailingBytes, d.Remaining()))
	}
	return m, nil
}

