package store

import (
	"fmt"
	"time"

	"github.com/vango-dev/docsync/pkg/protocol"
)

// recordVersion is the first byte of every encoded record.
const recordVersion byte = 1

// EncodeRecord serializes a snapshot for key-value backends.
//
// Layout:
//
//	[version: byte][state: len-bytes][content: string][updatedAt: svarint unix nanos]
//	[contributor count: uvarint][contributor: string]...
func EncodeRecord(s Snapshot) []byte {
	e := protocol.NewEncoderWithCap(len(s.State) + len(s.Content) + 32)
	e.WriteByte(recordVersion)
	e.WriteLenBytes(s.State)
	e.WriteString(s.Content)
	var nanos int64
	if !s.UpdatedAt.IsZero() {
		nanos = s.UpdatedAt.UnixNano()
	}
	e.WriteSvarint(nanos)
	e.WriteUvarint(uint64(len(s.ContributorIDs)))
	for _, id := range s.ContributorIDs {
		e.WriteString(id)
	}
	return e.Bytes()
}

// DecodeRecord parses a record produced by EncodeRecord.
func DecodeRecord(data []byte) (*Snapshot, error) {
	d := protocol.NewDecoder(data)
	v, err := d.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if v != recordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptRecord, v)
	}

	var s Snapshot
	if s.State, err = d.ReadLenBytes(); err != nil {
		return nil, fmt.Errorf("%w: state: %v", ErrCorruptRecord, err)
	}
	if s.Content, err = d.ReadString(); err != nil {
		return nil, fmt.Errorf("%w: content: %v", ErrCorruptRecord, err)
	}
	nanos, err := d.ReadSvarint()
	if err != nil {
		return nil, fmt.Errorf("%w: updated_at: %v", ErrCorruptRecord, err)
	}
	if nanos != 0 {
		s.UpdatedAt = time.Unix(0, nanos).UTC()
	}
	n, err := d.ReadCollectionCount()
	if err != nil {
		return nil, fmt.Errorf("%w: contributors: %v", ErrCorruptRecord, err)
	}
	if n > 0 {
		s.ContributorIDs = make([]string, 0, n)
	}
	for i := 0; i < n; i++ {
		id, err := d.ReadString()
		if err != nil {
			return nil, fmt.Errorf("%w: contributor %d: %v", ErrCorruptRecord, i, err)
		}
		s.ContributorIDs = append(s.ContributorIDs, id)
	}
	if !d.EOF() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptRecord, d.Remaining())
	}
	return &s, nil
}
