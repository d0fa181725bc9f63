package protocol

import (
	"errors"
	"io"
	"testing"
)

func TestEncoderDecoder(t *testing.T) {
	e := NewEncoderWithCap(16)

	e.WriteByte(0x42)
	e.WriteUvarint(12345)
	e.WriteSvarint(-9876)
	e.WriteString("hello world")
	e.WriteLenBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	e.WriteByte(0x01)
	e.WriteByte(0x02)

	d := NewDecoder(e.Bytes())

	b, err := d.ReadByte()
	if err != nil || b != 0x42 {
		t.Errorf("ReadByte() = %x, %v; want 0x42, nil", b, err)
	}

	uv, err := d.ReadUvarint()
	if err != nil || uv != 12345 {
		t.Errorf("ReadUvarint() = %d, %v; want 12345, nil", uv, err)
	}

	sv, err := d.ReadSvarint()
	if err != nil || sv != -9876 {
		t.Errorf("ReadSvarint() = %d, %v; want -9876, nil", sv, err)
	}

	s, err := d.ReadString()
	if err != nil || s != "hello world" {
		t.Errorf("ReadString() = %q, %v; want \"hello world\", nil", s, err)
	}

	lb, err := d.ReadLenBytes()
	if err != nil || string(lb) != "\xDE\xAD\xBE\xEF" {
		t.Errorf("ReadLenBytes() = %x, %v", lb, err)
	}

	if d.Remaining() != 2 {
		t.Errorf("Remaining() = %d, want 2", d.Remaining())
	}
	d.ReadByte()
	d.ReadByte()
	if !d.EOF() {
		t.Error("decoder should be at EOF")
	}
}

func TestDecoderErrors(t *testing.T) {
	t.Run("truncated varint", func(t *testing.T) {
		d := NewDecoder([]byte{0x80})
		if _, err := d.ReadUvarint(); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
		}
	})

	t.Run("ten continuation bytes", func(t *testing.T) {
		d := NewDecoder([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
		if _, err := d.ReadUvarint(); !errors.Is(err, ErrVarintOverflow) {
			t.Errorf("err = %v, want ErrVarintOverflow", err)
		}
	})

	t.Run("varint overflow", func(t *testing.T) {
		d := NewDecoder([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01})
		if _, err := d.ReadUvarint(); !errors.Is(err, ErrVarintOverflow) {
			t.Errorf("err = %v, want ErrVarintOverflow", err)
		}
	})

	t.Run("length beyond buffer", func(t *testing.T) {
		d := NewDecoder([]byte{0x05, 'a', 'b'})
		if _, err := d.ReadLenBytes(); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
		}
	})

	t.Run("collection count beyond buffer", func(t *testing.T) {
		d := NewDecoder([]byte{0x10, 0x00})
		if _, err := d.ReadCollectionCount(); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
		}
	})

	t.Run("collection count over limit", func(t *testing.T) {
		e := NewEncoderWithCap(16)
		e.WriteUvarint(MaxCollectionCount + 1)
		d := NewDecoder(e.Bytes())
		if _, err := d.ReadCollectionCount(); !errors.Is(err, ErrCollectionTooLarge) {
			t.Errorf("err = %v, want ErrCollectionTooLarge", err)
		}
	})
}

func TestReadLenBytesCopies(t *testing.T) {
	src := []byte{0x03, 'x', 'y', 'z'}
	d := NewDecoder(src)
	b, err := d.ReadLenBytes()
	if err != nil {
		t.Fatalf("ReadLenBytes() error = %v", err)
	}
	src[1] = 'q'
	if string(b) != "xyz" {
		t.Errorf("ReadLenBytes result aliased the input: %q", b)
	}
}
