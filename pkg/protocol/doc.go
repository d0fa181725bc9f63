// Package protocol implements the binary wire protocol for docsync.
//
// Every message exchanged with a client is a single binary WebSocket frame
// carrying one envelope. The envelope starts with a varint message type and
// is followed by a kind-specific body.
//
// # Wire Format
//
//	┌──────────────┬───────────────────────────────────────────────┐
//	│ Message Type │ Body                                          │
//	│ (varint)     │                                               │
//	└──────────────┴───────────────────────────────────────────────┘
//
//	Sync (0):      [Sync Type: varint][Payload: len-prefixed bytes]
//	Awareness (1): [Payload: len-prefixed bytes]
//
// # Sync Types
//
//   - SyncStep1 (0): payload is a state vector ("what do you have")
//   - SyncUpdate (1): payload is a document update, either a new change or
//     the answer to a SyncStep1 ("here is what you're missing")
//
// Peers speaking y-protocols answer SyncStep1 with subtype 2. Decode accepts
// it as SyncStep2 and it is merged like an update, but the server only ever
// sends subtypes 0 and 1.
//
// The update and state vector payloads are produced by package crdt and are
// forwarded byte-for-byte between replicas. The awareness payload is produced
// by package awareness.
//
// # Encoding
//
//   - Varint: Compact encoding for small integers (protobuf-style)
//   - ZigZag: Signed integers encoded as unsigned varints
//   - Length-prefixed: Strings and byte arrays prefixed with varint length
//
// # Errors
//
// Decoding never panics on hostile input. Truncated input, unknown types,
// oversized length prefixes and trailing bytes all surface as *DecodeError,
// which callers treat as "drop this one message".
package protocol
