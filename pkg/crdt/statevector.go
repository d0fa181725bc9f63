package crdt

import (
	"sort"

	"github.com/vango-dev/docsync/pkg/protocol"
)

// encodeStateVector writes [count][client clock]..., clients ascending.
func encodeStateVector(sv map[uint64]uint64) []byte {
	clients := make([]uint64, 0, len(sv))
	for c, clock := range sv {
		if clock > 0 {
			clients = append(clients, c)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	e := protocol.NewEncoderWithCap(1 + len(clients)*4)
	e.WriteUvarint(uint64(len(clients)))
	for _, c := range clients {
		e.WriteUvarint(c)
		e.WriteUvarint(sv[c])
	}
	return e.Bytes()
}

func decodeStateVector(b []byte) (map[uint64]uint64, error) {
	sv := make(map[uint64]uint64)
	if len(b) == 0 {
		return sv, nil
	}

	d := protocol.NewDecoder(b)
	n, err := d.ReadCollectionCount()
	if err != nil {
		return nil, protocol.NewDecodeError("state vector", err)
	}
	for i := 0; i < n; i++ {
		c, err := d.ReadUvarint()
		if err != nil {
			return nil, protocol.NewDecodeError("state vector", err)
		}
		clock, err := d.ReadUvarint()
		if err != nil {
			return nil, protocol.NewDecodeError("state vector", err)
		}
		sv[c] = clock
	}
	if !d.EOF() {
		return nil, protocol.NewDecodeError("state vector", protocol.ErrTrailingBytes)
	}
	return sv, nil
}

// DecodeStateVector parses an encoded state vector into client → next clock.
func DecodeStateVector(b []byte) (map[uint64]uint64, error) {
	return decodeStateVector(b)
}
